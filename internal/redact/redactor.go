// Package redact implements Stage 7, the opt-in PII redactor: a
// regex-based entity detector that produces a parallel "cooked" transcript
// with type-tagged placeholders plus an audit log, or passes transcripts
// through untouched when disabled.
//
// No named-entity-recognition library appears anywhere in the dependency
// corpus this pipeline draws on, so person-name detection here is
// necessarily heuristic: known names from the people registry (exact and
// phonetic/fuzzy, to catch STT mis-transcriptions like "Sara" for
// "Sarah") plus a capitalised-bigram fallback, rather than model-backed
// like every other analytical stage.
package redact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bristlenose/bristlenose/internal/transcript/phonetic"
	"github.com/bristlenose/bristlenose/pkg/types"
)

// EntityType labels the kind of PII a Finding matched.
type EntityType string

const (
	EntityPersonName     EntityType = "person_name"
	EntityPhoneNumber    EntityType = "phone_number"
	EntityEmail          EntityType = "email"
	EntityCreditCard     EntityType = "credit_card"
	EntityNationalID     EntityType = "national_id"
	EntityDriverLicence  EntityType = "driver_licence"
	EntityPassport       EntityType = "passport"
	EntityBankAccount    EntityType = "bank_account"
	EntityIBAN           EntityType = "iban"
	EntityIPAddress      EntityType = "ip_address"
	EntityURL            EntityType = "url"
	EntityDateTime       EntityType = "date_time"
)

// Finding is one detected PII span within a segment's text, emitted to the
// audit log regardless of whether the transcript is actually redacted.
type Finding struct {
	SessionID  string
	Timecode   float64
	Type       EntityType
	Original   string
	Confidence float64
}

// detector pairs an entity type with the regex that finds it and a fixed
// confidence, since these are pattern matches rather than model outputs.
type detector struct {
	entityType EntityType
	pattern    *regexp.Regexp
	confidence float64
}

var detectors = []detector{
	{EntityEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), 0.97},
	{EntityIBAN, regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`), 0.9},
	{EntityCreditCard, regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), 0.75},
	{EntityPhoneNumber, regexp.MustCompile(`\+?\d{1,3}?[ .\-]?\(?\d{2,4}\)?[ .\-]?\d{3,4}[ .\-]?\d{3,4}\b`), 0.7},
	{EntityIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), 0.95},
	{EntityURL, regexp.MustCompile(`\bhttps?://[^\s]+`), 0.97},
	{EntityDateTime, regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[ T]\d{2}:\d{2}(?::\d{2})?)?\b`), 0.85},
	{EntityDateTime, regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`), 0.8},
	{EntityPassport, regexp.MustCompile(`\b[A-Z]{1,2}\d{6,9}\b`), 0.5},
	{EntityNationalID, regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`), 0.85},
	{EntityDriverLicence, regexp.MustCompile(`\b[A-Z]\d{7,13}\b`), 0.45},
	{EntityBankAccount, regexp.MustCompile(`\b\d{8,17}\b`), 0.4},
}

// capitalisedBigramPattern is the fallback person-name heuristic: two
// consecutive capitalised words. Common sentence-initial words are not
// excluded.
var capitalisedBigramPattern = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)

// capitalisedWordPattern finds single capitalised words as candidates for
// phonetic comparison against known names, catching a misheard single-token
// name ("Sara" spoken as "Sera") that the exact bigram match would miss.
var capitalisedWordPattern = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)

// phoneticMinConfidence is the minimum Jaro-Winkler score a phonetic match
// against a known name must clear to be treated as a redaction candidate.
// It is stricter than phonetic.Matcher's default phonetic threshold (0.70)
// and looser than its default fuzzy-fallback threshold (0.85).
const phoneticMinConfidence = 0.75

// Redactor replaces detected PII in segment text with type-tagged
// placeholders and records every match to an audit log.
type Redactor struct {
	knownNames []string
	phonetic   *phonetic.Matcher
}

// New returns a Redactor. knownNames are full/short names already present
// in the people registry, checked ahead of the generic bigram heuristic so
// a registered participant's name is never missed by a looser match. Each
// capitalised word in the transcript is also compared against knownNames
// phonetically, so an STT misspelling of a participant's name is still
// redacted even when it never appears verbatim.
func New(knownNames []string) *Redactor {
	return &Redactor{knownNames: knownNames, phonetic: phonetic.New()}
}

// Redact produces the cooked (placeholder-substituted) text for one
// segment along with every Finding detected in it, in left-to-right order.
// Detection is pure pattern matching, so Redact returns no error.
func (r *Redactor) Redact(seg types.Segment) (cooked string, findings []Finding) {
	text := seg.Text
	var allMatches []match

	for _, name := range r.knownNames {
		if name == "" {
			continue
		}
		for _, idx := range findAllIndex(text, name) {
			allMatches = append(allMatches, match{start: idx[0], end: idx[1], entityType: EntityPersonName, confidence: 0.9})
		}
	}
	for _, loc := range capitalisedBigramPattern.FindAllStringIndex(text, -1) {
		allMatches = append(allMatches, match{start: loc[0], end: loc[1], entityType: EntityPersonName, confidence: 0.55})
	}
	if len(r.knownNames) > 0 {
		for _, loc := range capitalisedWordPattern.FindAllStringIndex(text, -1) {
			word := text[loc[0]:loc[1]]
			if _, confidence, matched := r.phonetic.Match(word, r.knownNames); matched && confidence >= phoneticMinConfidence {
				allMatches = append(allMatches, match{start: loc[0], end: loc[1], entityType: EntityPersonName, confidence: confidence * 0.9})
			}
		}
	}
	for _, d := range detectors {
		for _, loc := range d.pattern.FindAllStringIndex(text, -1) {
			allMatches = append(allMatches, match{start: loc[0], end: loc[1], entityType: d.entityType, confidence: d.confidence})
		}
	}

	resolved := resolveOverlaps(allMatches)

	var b strings.Builder
	last := 0
	for _, m := range resolved {
		b.WriteString(text[last:m.start])
		b.WriteString(placeholder(m.entityType))
		findings = append(findings, Finding{
			SessionID:  seg.SessionID,
			Timecode:   seg.Start,
			Type:       m.entityType,
			Original:   text[m.start:m.end],
			Confidence: m.confidence,
		})
		last = m.end
	}
	b.WriteString(text[last:])
	return b.String(), findings
}

// match is an internal detection span before overlap resolution.
type match struct {
	start, end int
	entityType EntityType
	confidence float64
}

// resolveOverlaps sorts matches by start position and drops any match that
// overlaps a higher-confidence match already kept, preferring the earlier
// match on a confidence tie.
func resolveOverlaps(matches []match) []match {
	if len(matches) == 0 {
		return nil
	}
	sorted := make([]match, len(matches))
	copy(sorted, matches)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].start < sorted[j-1].start; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var kept []match
	for _, m := range sorted {
		overlapped := false
		for k, existing := range kept {
			if m.start < existing.end && existing.start < m.end {
				if m.confidence > existing.confidence {
					kept[k] = m
				}
				overlapped = true
				break
			}
		}
		if !overlapped {
			kept = append(kept, m)
		}
	}
	return kept
}

// placeholder renders the type-tagged replacement token for an entity type.
func placeholder(t EntityType) string {
	return fmt.Sprintf("[%s]", strings.ToUpper(string(t)))
}

// findAllIndex returns every (case-insensitive) occurrence of needle in
// haystack as [start, end) index pairs.
func findAllIndex(haystack, needle string) [][2]int {
	if needle == "" {
		return nil
	}
	lowerHay := strings.ToLower(haystack)
	lowerNeedle := strings.ToLower(needle)
	var out [][2]int
	start := 0
	for {
		idx := strings.Index(lowerHay[start:], lowerNeedle)
		if idx < 0 {
			break
		}
		abs := start + idx
		out = append(out, [2]int{abs, abs + len(needle)})
		start = abs + len(needle)
	}
	return out
}
