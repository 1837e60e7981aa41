package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bristlenose/bristlenose/internal/manifest"
	"github.com/bristlenose/bristlenose/pkg/types"
)

func writeFile(path, contents string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func TestSaveAndLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	m := manifest.New(dir, "project-x", "1.0.0")
	m.SetStage(types.StageTopics, manifest.StageRecord{
		Status:      types.StatusComplete,
		ContentHash: "abc123",
		Fingerprint: types.ProviderFingerprint{Vendor: "anthropic", Model: "claude-opus-4"},
	})
	m.SetSessionStage("s1", types.StageQuotes, manifest.StageRecord{Status: types.StatusComplete})
	m.AddCost(1.25)
	require.NoError(t, m.Save())

	loaded, err := manifest.Load(dir, "project-x", "1.0.0")
	require.NoError(t, err)

	rec, ok := loaded.Stage(types.StageTopics)
	require.True(t, ok)
	assert.Equal(t, types.StatusComplete, rec.Status)
	assert.Equal(t, "abc123", rec.ContentHash)

	sessRec, ok := loaded.SessionStage("s1", types.StageQuotes)
	require.True(t, ok)
	assert.Equal(t, types.StatusComplete, sessRec.Status)

	assert.InDelta(t, 1.25, loaded.CostEstimateUSD(), 0.0001)
}

func TestLoad_MissingFileReturnsFreshManifest(t *testing.T) {
	dir := t.TempDir()
	m, err := manifest.Load(dir, "project-x", "1.0.0")
	require.NoError(t, err)
	_, ok := m.Stage(types.StageTopics)
	assert.False(t, ok)
}

func TestLoad_SchemaVersionMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeRawManifest(dir, `{"schema_version": 999}`))
	_, err := manifest.Load(dir, "project-x", "1.0.0")
	require.ErrorIs(t, err, manifest.ErrSchemaVersionMismatch)
}

func TestShouldRunStage_SkipsWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	m := manifest.New(dir, "project-x", "1.0.0")
	fp := types.ProviderFingerprint{Vendor: "anthropic", Model: "claude-opus-4"}
	artefact := filepath.Join(dir, "topics.json")
	require.NoError(t, writeFile(artefact, "{}"))

	m.SetStage(types.StageTopics, manifest.StageRecord{
		Status:      types.StatusComplete,
		ContentHash: "same-hash",
		Fingerprint: fp,
	})

	assert.False(t, m.ShouldRunStage(types.StageTopics, artefact, "same-hash", fp, false))
	assert.True(t, m.ShouldRunStage(types.StageTopics, artefact, "different-hash", fp, false))

	otherFP := types.ProviderFingerprint{Vendor: "openai", Model: "gpt-4o"}
	assert.True(t, m.ShouldRunStage(types.StageTopics, artefact, "same-hash", otherFP, false))
	assert.False(t, m.ShouldRunStage(types.StageTopics, artefact, "same-hash", otherFP, true))
}

func TestShouldRunStage_MissingArtefactForcesRun(t *testing.T) {
	dir := t.TempDir()
	m := manifest.New(dir, "project-x", "1.0.0")
	fp := types.ProviderFingerprint{Vendor: "anthropic", Model: "claude-opus-4"}
	m.SetStage(types.StageTopics, manifest.StageRecord{Status: types.StatusComplete, ContentHash: "h", Fingerprint: fp})

	assert.True(t, m.ShouldRunStage(types.StageTopics, filepath.Join(dir, "missing.json"), "h", fp, false))
}

func TestHashFile_MatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "in.txt")
	require.NoError(t, writeFile(p, "hello world"))

	fromFile, err := manifest.HashFile(p)
	require.NoError(t, err)
	assert.Equal(t, manifest.HashBytes([]byte("hello world")), fromFile)
}

func writeRawManifest(dir, contents string) error {
	return writeFile(filepath.Join(dir, ".bristlenose", "manifest.json"), contents)
}
