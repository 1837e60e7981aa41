package audioextract_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bristlenose/bristlenose/internal/audioextract"
	"github.com/bristlenose/bristlenose/pkg/types"
)

// fakeFFmpeg writes a tiny shell/batch script that just creates the output
// file it's told to, standing in for a real ffmpeg binary so tests don't
// depend on one being installed.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script is POSIX-shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\nfor arg in \"$@\"; do out=\"$arg\"; done\ntouch \"$out\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestExtractAll_SkipsSessionsWithExistingTranscript(t *testing.T) {
	dir := t.TempDir()
	ex, err := audioextract.New(dir, audioextract.WithFFmpegPath(fakeFFmpeg(t)))
	require.NoError(t, err)

	sessions := []types.Session{
		{ID: "s1", HasExistingTranscript: true},
	}
	results := ex.ExtractAll(context.Background(), sessions)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].WAVPath)
	assert.NoError(t, results[0].Err)
}

func TestExtractAll_DecodesMediaSessionsInOrder(t *testing.T) {
	srcDir := t.TempDir()
	src1 := filepath.Join(srcDir, "one.mp3")
	src2 := filepath.Join(srcDir, "two.mp3")
	require.NoError(t, os.WriteFile(src1, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(src2, []byte("x"), 0o644))

	scratch := t.TempDir()
	ex, err := audioextract.New(scratch, audioextract.WithFFmpegPath(fakeFFmpeg(t)))
	require.NoError(t, err)

	sessions := []types.Session{
		{ID: "s1", Paths: []string{src1}},
		{ID: "s2", Paths: []string{src2}},
	}
	results := ex.ExtractAll(context.Background(), sessions)
	require.Len(t, results, 2)
	assert.Equal(t, "s1", results[0].SessionID)
	assert.Equal(t, "s2", results[1].SessionID)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.FileExists(t, r.WAVPath)
	}
}

func TestExtractAll_SessionWithoutMediaSourceFails(t *testing.T) {
	scratch := t.TempDir()
	ex, err := audioextract.New(scratch, audioextract.WithFFmpegPath(fakeFFmpeg(t)))
	require.NoError(t, err)

	sessions := []types.Session{
		{ID: "s1", Paths: []string{"transcript.vtt"}},
	}
	results := ex.ExtractAll(context.Background(), sessions)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestForget_DeleteAfterTranscribeRemovesScratchFile(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "one.mp3")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	scratch := t.TempDir()
	ex, err := audioextract.New(scratch,
		audioextract.WithFFmpegPath(fakeFFmpeg(t)),
		audioextract.WithCleanupPolicy(audioextract.CleanupDeleteAfterTranscribe),
	)
	require.NoError(t, err)

	results := ex.ExtractAll(context.Background(), []types.Session{{ID: "s1", Paths: []string{src}}})
	require.NoError(t, results[0].Err)
	require.FileExists(t, results[0].WAVPath)

	require.NoError(t, ex.Forget("s1"))
	assert.NoFileExists(t, results[0].WAVPath)
}

func TestForget_KeepAllIsNoOp(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "one.mp3")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	scratch := t.TempDir()
	ex, err := audioextract.New(scratch, audioextract.WithFFmpegPath(fakeFFmpeg(t)))
	require.NoError(t, err)

	results := ex.ExtractAll(context.Background(), []types.Session{{ID: "s1", Paths: []string{src}}})
	require.NoError(t, results[0].Err)

	require.NoError(t, ex.Forget("s1"))
	assert.FileExists(t, results[0].WAVPath)
}
