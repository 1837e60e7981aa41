package grouper_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bristlenose/bristlenose/internal/grouper"
	"github.com/bristlenose/bristlenose/pkg/types"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestGroup_TeamsSuffixMergesAudioAndTranscript(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Interview with Sarah_recording.mp4")
	touch(t, dir, "Interview with Sarah_transcript.docx")

	sessions, err := grouper.Group(dir, func(string) bool { return true })
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Len(t, sessions[0].Paths, 2)
	assert.True(t, sessions[0].HasExistingTranscript)
}

func TestGroup_UnparseableTranscriptDowngradesWithoutFailing(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "session-one.mp3")
	touch(t, dir, "session-one.vtt")

	sessions, err := grouper.Group(dir, func(string) bool { return false })
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].HasExistingTranscript)
}

func TestGroup_ZoomLocalFolderGroupsAsOneSession(t *testing.T) {
	dir := t.TempDir()
	zoomDir := filepath.Join(dir, "2024-03-14 09.30.00 Onboarding Interview 123456789")
	require.NoError(t, os.Mkdir(zoomDir, 0o755))
	touch(t, zoomDir, "audio1234.m4a")
	touch(t, zoomDir, "video1234.mp4")

	sessions, err := grouper.Group(dir, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, types.PlatformZoomLocal, sessions[0].Platform)
	assert.Len(t, sessions[0].Paths, 2)
}

func TestGroup_DistinctStemsProduceDistinctSessions(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "participant-one.mp3")
	touch(t, dir, "participant-two.mp3")

	sessions, err := grouper.Group(dir, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, "s2", sessions[1].ID)
}

func TestGroup_IsDeterministicAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b-session.mp3")
	touch(t, dir, "a-session.mp3")

	first, err := grouper.Group(dir, nil)
	require.NoError(t, err)
	second, err := grouper.Group(dir, nil)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Title, second[i].Title)
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestGroup_IgnoresUnrecognisedExtensions(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "notes.txt")
	touch(t, dir, "session.mp3")

	sessions, err := grouper.Group(dir, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}
