package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractParagraphs_StripsTagsAndUnescapesEntities(t *testing.T) {
	raw := `<w:body><w:p w:rsidR="1"><w:r><w:t>Sarah Chen   0:16</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Tell me &amp; show me your workflow.</w:t></w:r></w:p></w:body>`

	paragraphs := extractParagraphs(raw)
	assert.Equal(t, []string{"Sarah Chen   0:16", "Tell me & show me your workflow."}, paragraphs)
}

func TestDocxHeaderPattern_MatchesNameAndTimecode(t *testing.T) {
	cases := []struct {
		line       string
		wantName   string
		wantTime   string
		shouldFail bool
	}{
		{"Sarah Chen   0:16", "Sarah Chen", "0:16", false},
		{"Jordan Lee   1:02:33", "Jordan Lee", "1:02:33", false},
		{"just some spoken text without a timecode", "", "", true},
	}
	for _, c := range cases {
		m := docxHeaderPattern.FindStringSubmatch(c.line)
		if c.shouldFail {
			assert.Nil(t, m, c.line)
			continue
		}
		if assert.NotNil(t, m, c.line) {
			assert.Equal(t, c.wantName, m[1])
			assert.Equal(t, c.wantTime, m[2])
		}
	}
}
