package transcriber_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bristlenose/bristlenose/internal/manifest"
	"github.com/bristlenose/bristlenose/internal/transcriber"
	"github.com/bristlenose/bristlenose/pkg/provider/stt"
	sttmock "github.com/bristlenose/bristlenose/pkg/provider/stt/mock"
	"github.com/bristlenose/bristlenose/pkg/types"
)

func writeWAV(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("wav-bytes"), 0o644))
	return path
}

func TestTranscribeAll_SkipsSessionsWithExistingTranscript(t *testing.T) {
	man := manifest.New(t.TempDir(), "proj", "v1")
	provider := &sttmock.Provider{}
	tr := transcriber.New(provider, man, "base.en")

	sessions := []types.Session{{ID: "s1", HasExistingTranscript: true}}
	results := tr.TranscribeAll(context.Background(), sessions, func(string) (string, error) {
		return "", errors.New("should not be called")
	})

	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Empty(t, provider.TranscribeCalls)
}

func TestTranscribeAll_TranscribesAndRecordsManifest(t *testing.T) {
	dir := t.TempDir()
	man := manifest.New(t.TempDir(), "proj", "v1")
	wav := writeWAV(t, dir, "s1.wav")

	provider := &sttmock.Provider{
		TranscribeResponse: &stt.Transcript{
			Language: "en",
			Segments: []stt.Segment{{Start: 0, End: 1, Text: "hello"}},
		},
	}
	tr := transcriber.New(provider, man, "base.en")

	sessions := []types.Session{{ID: "s1"}}
	results := tr.TranscribeAll(context.Background(), sessions, func(id string) (string, error) {
		return wav, nil
	})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Segments, 1)
	assert.Equal(t, "hello", results[0].Segments[0].Text)
	assert.Equal(t, "s1", results[0].Segments[0].SessionID)

	rec, ok := man.SessionStage("s1", types.StageTranscribe)
	require.True(t, ok)
	assert.Equal(t, types.StatusComplete, rec.Status)
}

func TestTranscribeAll_SkipsWhenManifestAlreadyComplete(t *testing.T) {
	dir := t.TempDir()
	man := manifest.New(t.TempDir(), "proj", "v1")
	wav := writeWAV(t, dir, "s1.wav")
	hash, err := manifest.HashFile(wav)
	require.NoError(t, err)

	fp := types.ProviderFingerprint{Vendor: "whisper.cpp", Model: "base.en"}
	man.SetSessionStage("s1", types.StageTranscribe, manifest.StageRecord{
		Status:      types.StatusComplete,
		ContentHash: hash,
		Fingerprint: fp,
	})

	provider := &sttmock.Provider{}
	tr := transcriber.New(provider, man, "base.en")

	results := tr.TranscribeAll(context.Background(), []types.Session{{ID: "s1"}}, func(string) (string, error) {
		return wav, nil
	})

	require.Len(t, results, 1)
	assert.True(t, results[0].FromCache)
	assert.Empty(t, provider.TranscribeCalls)
}

func TestTranscribeAll_ProviderFailureMarksFailedAndContinues(t *testing.T) {
	dir := t.TempDir()
	man := manifest.New(t.TempDir(), "proj", "v1")
	wav1 := writeWAV(t, dir, "s1.wav")
	wav2 := writeWAV(t, dir, "s2.wav")

	provider := &sttmock.Provider{TranscribeErr: errors.New("decode failed")}
	tr := transcriber.New(provider, man, "base.en")

	sessions := []types.Session{{ID: "s1"}, {ID: "s2"}}
	paths := map[string]string{"s1": wav1, "s2": wav2}
	results := tr.TranscribeAll(context.Background(), sessions, func(id string) (string, error) {
		return paths[id], nil
	})

	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.Error(t, results[1].Err)

	rec, ok := man.SessionStage("s1", types.StageTranscribe)
	require.True(t, ok)
	assert.Equal(t, types.StatusFailed, rec.Status)
}
