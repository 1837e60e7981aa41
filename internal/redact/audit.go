package redact

import (
	"encoding/json"
	"fmt"
	"io"
)

// auditRecord is one line of the redaction audit log: the original text
// that was replaced, its detected type and confidence, and where it
// occurred.
type auditRecord struct {
	SessionID  string  `json:"session_id"`
	Timecode   float64 `json:"timecode"`
	Type       string  `json:"type"`
	Original   string  `json:"original"`
	Confidence float64 `json:"confidence"`
}

// WriteAudit appends one JSON line per finding to w, in the order given.
// The audit log is newline-delimited JSON so it can be tailed or diffed
// line-by-line, matching the other stages' streamed JSON artefacts.
func WriteAudit(w io.Writer, findings []Finding) error {
	enc := json.NewEncoder(w)
	for _, f := range findings {
		rec := auditRecord{
			SessionID:  f.SessionID,
			Timecode:   f.Timecode,
			Type:       string(f.Type),
			Original:   f.Original,
			Confidence: f.Confidence,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("redact: write audit record: %w", err)
		}
	}
	return nil
}

// WriteUnredactedWarning appends a line to the audit log noting that a
// session's text was left unredacted because the detector failed,
// satisfying the "never drop the transcript" contract without silently
// losing the fact that redaction did not happen.
func WriteUnredactedWarning(w io.Writer, sessionID string, cause error) error {
	enc := json.NewEncoder(w)
	return enc.Encode(struct {
		SessionID string `json:"session_id"`
		Warning   string `json:"warning"`
	}{
		SessionID: sessionID,
		Warning:   fmt.Sprintf("redaction skipped: %v", cause),
	})
}
