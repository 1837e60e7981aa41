// Package transcript implements the on-disk transcript text format and the
// subtitle/document parsers (Stages 3-4) and merger (Stage 6) of the
// analysis pipeline.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/bristlenose/bristlenose/pkg/types"
)

// lineFormat is "[0:16] [p1] So tell me about your experience...".
var lineFormat = regexp.MustCompile(`^\[([^\]]+)\]\s+\[([a-zA-Z]\d+)\]\s?(.*)$`)

// WriteSegments renders segs in the raw transcript text format, one block
// per segment, using each segment's resolved speaker code.
func WriteSegments(w io.Writer, segs []types.Segment) error {
	for _, s := range segs {
		line := fmt.Sprintf("[%s] [%s] %s\n", types.FormatTimecode(s.Start), s.SpeakerCode, s.Text)
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("transcript: write segment: %w", err)
		}
	}
	return nil
}

// ParseSegments parses the raw transcript text format back into segments.
// Word-level timing is not recoverable from this format and is left nil;
// End is left zero since the format carries only a start timecode per
// line — callers reconstructing round-trip fidelity must compare
// modulo these prunable fields, matching the documented round-trip
// property.
func ParseSegments(r io.Reader, sessionID string) ([]types.Segment, error) {
	var out []types.Segment
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := lineFormat.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("transcript: malformed line %q", line)
		}
		start, err := types.ParseTimecode(m[1])
		if err != nil {
			return nil, fmt.Errorf("transcript: parse timecode in line %q: %w", line, err)
		}
		out = append(out, types.Segment{
			SessionID:   sessionID,
			Start:       start,
			Text:        m[3],
			SpeakerCode: m[2],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcript: scan: %w", err)
	}
	return out, nil
}
