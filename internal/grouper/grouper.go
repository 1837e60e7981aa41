// Package grouper implements Stage 1 of the analysis pipeline: grouping a
// flat directory of interview export files into [types.Session] values by
// platform-aware stem normalisation.
package grouper

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bristlenose/bristlenose/pkg/types"
)

// zoomLocalDirPattern matches Zoom's local-recording folder naming:
// "YYYY-MM-DD HH.MM.SS <topic> <meeting-id>".
var zoomLocalDirPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}\.\d{2}\.\d{2} .+ \d+$`)

// teamsSuffixPattern strips Microsoft Teams' export suffix: a trailing
// "_recording"/"-recording" or "_transcript"/"-transcript". GUID segments
// are not stripped.
var teamsSuffixPattern = regexp.MustCompile(`(?i)[_-](recording|transcript)$`)

// zoomCloudAffixPattern strips Zoom cloud-recording prefixes/suffixes, e.g.
// "GMT20240102-1300" date-time prefixes.
var zoomCloudAffixPattern = regexp.MustCompile(`(?i)^gmt\d{8}-\d{4,6}_|_\d+$`)

// meetParentheticalPattern strips a Google Meet trailing parenthetical,
// e.g. "Interview (2024-01-02 13:00 GMT+1)".
var meetParentheticalPattern = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// legacySuffixPattern strips legacy subtitle/transcript export suffixes.
var legacySuffixPattern = regexp.MustCompile(`(?i)_(transcript|subtitles|captions|sub|srt)$`)

var transcriptExtensions = map[string]bool{".vtt": true, ".srt": true, ".docx": true}

// mediaExtensions is the recognised input surface for audio/video files.
var mediaExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".flac": true, ".ogg": true,
	".wma": true, ".aac": true, ".mp4": true, ".mov": true, ".avi": true,
	".mkv": true, ".webm": true,
}

// TranscriptParser reports whether path parses as a valid existing
// transcript. Stage 1 calls this only to decide has_existing_transcript;
// it never retains the parsed content.
type TranscriptParser func(path string) bool

// Group scans dir for processable files and returns the ordered sequence
// of sessions, assigning IDs "s1", "s2", ... in the order each session's
// first file is encountered (lexicographically sorted directory listing).
//
// parseOK, when non-nil, is consulted for every VTT/SRT/DOCX member file to
// decide has_existing_transcript; a file that fails to parse downgrades the
// session to "no existing transcript" without failing the stage. When nil,
// any transcript-extension file is assumed to parse.
func Group(dir string, parseOK TranscriptParser) ([]types.Session, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("grouper: read dir %q: %w", dir, err)
	}

	var sessions []types.Session
	stemToIndex := make(map[string]int)

	// Pass 1: Zoom local-recording folders group as one session each.
	consumedDirs := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !zoomLocalDirPattern.MatchString(e.Name()) {
			continue
		}
		subPaths, err := listFiles(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(subPaths) == 0 {
			continue
		}
		consumedDirs[e.Name()] = true
		sess := types.Session{
			ID:       nextID(len(sessions)),
			Paths:    subPaths,
			Platform: types.PlatformZoomLocal,
			Title:    e.Name(),
		}
		sess.HasExistingTranscript = anyParses(subPaths, parseOK)
		sessions = append(sessions, sess)
	}

	// Pass 2: stem normalisation over remaining top-level files.
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !mediaExtensions[ext] && !transcriptExtensions[ext] {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	for _, name := range files {
		stem, platform := normaliseStem(name)
		if idx, ok := stemToIndex[stem]; ok {
			sessions[idx].Paths = append(sessions[idx].Paths, filepath.Join(dir, name))
			continue
		}
		sess := types.Session{
			ID:       nextID(len(sessions)),
			Paths:    []string{filepath.Join(dir, name)},
			Platform: platform,
			Title:    stem,
		}
		stemToIndex[stem] = len(sessions)
		sessions = append(sessions, sess)
	}

	for i := range sessions {
		if sessions[i].Platform == types.PlatformZoomLocal {
			continue
		}
		sessions[i].HasExistingTranscript = anyParses(sessions[i].Paths, parseOK)
	}

	return sessions, nil
}

func nextID(count int) string {
	return fmt.Sprintf("s%d", count+1)
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("grouper: read zoom local dir %q: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func anyParses(paths []string, parseOK TranscriptParser) bool {
	for _, p := range paths {
		ext := strings.ToLower(filepath.Ext(p))
		if !transcriptExtensions[ext] {
			continue
		}
		if parseOK == nil || parseOK(p) {
			return true
		}
	}
	return false
}

// normaliseStem strips platform-specific naming noise from a filename and
// returns the resulting stem plus the detected platform. The patterns are
// reapplied until the stem stops changing, so the stripping is idempotent:
// a stem this returns is left unchanged by a further pass.
func normaliseStem(filename string) (string, types.Platform) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	platform := types.PlatformGeneric

	for prev := ""; stem != prev; {
		prev = stem
		if zoomCloudAffixPattern.MatchString(stem) {
			stem = zoomCloudAffixPattern.ReplaceAllString(stem, "")
			platform = types.PlatformZoomCloud
		}
		if teamsSuffixPattern.MatchString(stem) {
			stem = teamsSuffixPattern.ReplaceAllString(stem, "")
			platform = types.PlatformTeams
		}
		if meetParentheticalPattern.MatchString(stem) {
			stem = meetParentheticalPattern.ReplaceAllString(stem, "")
			platform = types.PlatformMeet
		}
		stem = legacySuffixPattern.ReplaceAllString(stem, "")
		stem = strings.TrimSpace(stem)
	}
	return stem, platform
}
