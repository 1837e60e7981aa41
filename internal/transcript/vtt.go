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

// vttTimingPattern matches a WebVTT cue timing line, accepting both
// "MM:SS.mmm" and "HH:MM:SS.mmm" on either side of the arrow.
var vttTimingPattern = regexp.MustCompile(`^([\d:.]+)\s*-->\s*([\d:.]+)`)

// vttSpeakerPattern extracts a leading "Speaker Name: " prefix from a cue's
// text, the shape most platform VTT exports use for diarized text.
var vttSpeakerPattern = regexp.MustCompile(`^<v\s+([^>]+)>|^([^:]{1,60}):\s`)

// ParseVTT parses a WebVTT subtitle file into segments. Segments are
// returned sorted by start time; start is always strictly less than end
// (zero-duration cues are given a minimal positive duration).
func ParseVTT(r io.Reader, sessionID string) ([]types.Segment, error) {
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
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if m := vttTimingPattern.FindStringSubmatch(trimmed); m != nil {
			flush()
			start, err := parseVTTTimestamp(m[1])
			if err != nil {
				return nil, fmt.Errorf("transcript: vtt start timestamp: %w", err)
			}
			end, err := parseVTTTimestamp(m[2])
			if err != nil {
				return nil, fmt.Errorf("transcript: vtt end timestamp: %w", err)
			}
			pendingStart, pendingEnd = start, end
			inCue = true
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}
		if trimmed == "WEBVTT" || strings.HasPrefix(trimmed, "NOTE") {
			continue
		}
		if inCue {
			textLines = append(textLines, trimmed)
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcript: scan vtt: %w", err)
	}

	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	return segs, nil
}

// extractSpeaker pulls a leading voice-tag or "Name: " prefix off text,
// returning the speaker label (empty if none found) and the remaining body.
func extractSpeaker(text string) (speaker, body string) {
	m := vttSpeakerPattern.FindStringSubmatch(text)
	if m == nil {
		return "", text
	}
	if m[1] != "" {
		rest := vttSpeakerPattern.ReplaceAllString(text, "")
		return strings.TrimSpace(m[1]), strings.TrimSpace(rest)
	}
	rest := strings.TrimPrefix(text, m[0])
	return strings.TrimSpace(m[2]), strings.TrimSpace(rest)
}

// parseVTTTimestamp accepts "MM:SS.mmm" or "HH:MM:SS.mmm".
func parseVTTTimestamp(ts string) (float64, error) {
	ts = strings.ReplaceAll(ts, ",", ".")
	parts := strings.SplitN(ts, ".", 2)
	secs, err := types.ParseTimecode(parts[0])
	if err != nil {
		return 0, err
	}
	if len(parts) == 2 {
		digits := parts[1]
		for len(digits) < 3 {
			digits += "0"
		}
		digits = digits[:3]
		var ms float64
		for _, c := range digits {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("transcript: invalid fractional seconds %q", parts[1])
			}
			ms = ms*10 + float64(c-'0')
		}
		secs += ms / 1000
	}
	return secs, nil
}
