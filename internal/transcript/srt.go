package transcript

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/bristlenose/bristlenose/pkg/types"
)

// srtTimingPattern matches an SRT cue timing line, e.g.
// "00:00:01,000 --> 00:00:04,500".
var srtTimingPattern = regexp.MustCompile(`^([\d:,.]+)\s*-->\s*([\d:,.]+)`)

// srtIndexPattern matches the bare cue-number line preceding each timing
// line.
var srtIndexPattern = regexp.MustCompile(`^\d+$`)

// ParseSRT parses a SubRip subtitle file into segments, sorted by start
// time.
func ParseSRT(r io.Reader, sessionID string) ([]types.Segment, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var segs []types.Segment
	var pendingStart, pendingEnd float64
	var inCue bool
	var textLines []string

	flush := func() {
		if !inCue {
			return
		}
		text := strings.TrimSpace(strings.Join(textLines, " "))
		speaker, body := extractSpeaker(text)
		end := pendingEnd
		if end <= pendingStart {
			end = pendingStart + 0.001
		}
		segs = append(segs, types.Segment{
			SessionID:    sessionID,
			Start:        pendingStart,
			End:          end,
			Text:         body,
			SpeakerLabel: speaker,
		})
		inCue = false
		textLines = nil
	}

	for sc.Scan() {
		trimmed := strings.TrimSpace(sc.Text())

		if m := srtTimingPattern.FindStringSubmatch(trimmed); m != nil {
			flush()
			start, err := parseVTTTimestamp(m[1])
			if err != nil {
				return nil, fmt.Errorf("transcript: srt start timestamp: %w", err)
			}
			end, err := parseVTTTimestamp(m[2])
			if err != nil {
				return nil, fmt.Errorf("transcript: srt end timestamp: %w", err)
			}
			pendingStart, pendingEnd = start, end
			inCue = true
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}
		if srtIndexPattern.MatchString(trimmed) && !inCue {
			continue
		}
		if inCue {
			textLines = append(textLines, trimmed)
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcript: scan srt: %w", err)
	}

	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	return segs, nil
}
