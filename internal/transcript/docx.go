package transcript

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"

	"github.com/bristlenose/bristlenose/pkg/types"
)

// docxHeaderPattern matches a Teams-export speaker header paragraph, e.g.
// "Sarah Chen   0:16" or "Jordan Lee   1:02:33" — a speaker name followed by
// an inline timecode and nothing else.
var docxHeaderPattern = regexp.MustCompile(`^(.+?)\s+(\d{1,2}(?::\d{2}){1,2})$`)

var docxTagPattern = regexp.MustCompile(`<[^>]+>`)
var docxParagraphPattern = regexp.MustCompile(`<w:p[ >].*?</w:p>`)

// ParseDOCX extracts segments from a Microsoft Teams meeting-transcript
// export: each speaker turn is a header paragraph ("Name  H:MM:SS")
// followed by one or more paragraphs of spoken text, ending at the next
// header paragraph.
func ParseDOCX(path string, sessionID string) ([]types.Segment, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open docx %q: %w", path, err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	paragraphs := extractParagraphs(content)

	var segs []types.Segment
	var current *types.Segment
	var bodyLines []string

	flush := func(nextStart float64) {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(strings.Join(bodyLines, " "))
		end := nextStart
		if end <= current.Start {
			end = current.Start + 0.001
		}
		current.End = end
		segs = append(segs, *current)
		current = nil
		bodyLines = nil
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if m := docxHeaderPattern.FindStringSubmatch(p); m != nil {
			start, err := types.ParseTimecode(m[2])
			if err == nil {
				flush(start)
				current = &types.Segment{
					SessionID:    sessionID,
					Start:        start,
					SpeakerLabel: strings.TrimSpace(m[1]),
				}
				continue
			}
		}
		if current != nil {
			bodyLines = append(bodyLines, p)
		}
	}
	flush(0)

	return segs, nil
}

// extractParagraphs pulls plain text out of GetContent's raw document.xml
// body, one entry per <w:p> paragraph.
func extractParagraphs(rawXML string) []string {
	matches := docxParagraphPattern.FindAllString(rawXML, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		text := docxTagPattern.ReplaceAllString(m, "")
		out = append(out, html.UnescapeString(text))
	}
	return out
}
