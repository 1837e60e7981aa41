// Package manifest persists the orchestrator's durable run state: per-stage
// and per-session-per-stage status, content hashes, and provider
// fingerprints, so an interrupted or re-invoked run can skip work that is
// already complete and valid.
//
// The manifest lives as a single JSON file inside the output directory's
// hidden .bristlenose subdirectory. Exactly one goroutine (the
// orchestrator's scheduling loop) writes to a given Manifest; readers of a
// snapshot get their own copy, following the teacher's snapshot-under-lock
// pattern for config and health state.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bristlenose/bristlenose/pkg/types"
)

// SchemaVersion is the manifest file format version. A manifest whose
// SchemaVersion does not match is rejected rather than silently upgraded.
const SchemaVersion = 1

// ErrSchemaVersionMismatch is returned by Load when an on-disk manifest was
// written by an incompatible schema version.
var ErrSchemaVersionMismatch = fmt.Errorf("manifest: schema version mismatch")

// StageRecord is the per-stage status tracked in the manifest.
type StageRecord struct {
	Status      types.StageStatus         `json:"status"`
	Fingerprint types.ProviderFingerprint `json:"fingerprint,omitempty"`
	ContentHash string                    `json:"content_hash,omitempty"`
	StartedAt   time.Time                 `json:"started_at,omitempty"`
	CompletedAt time.Time                 `json:"completed_at,omitempty"`
	SessionCount int                      `json:"session_count,omitempty"`
}

// SessionStageKey identifies one (session, stage) pair for the
// per-session-per-stage records that stages 5, 5b, 8, and 9 use.
type SessionStageKey struct {
	SessionID string
	Stage     types.StageName
}

// MarshalText implements encoding.TextMarshaler so SessionStageKey can be a
// JSON object key.
func (k SessionStageKey) MarshalText() ([]byte, error) {
	return []byte(string(k.Stage) + "/" + k.SessionID), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SessionStageKey) UnmarshalText(text []byte) error {
	s := string(text)
	for i := range s {
		if s[i] == '/' {
			k.Stage = types.StageName(s[:i])
			k.SessionID = s[i+1:]
			return nil
		}
	}
	return fmt.Errorf("manifest: malformed session-stage key %q", s)
}

// document is the on-disk JSON shape.
type document struct {
	SchemaVersion   int                                `json:"schema_version"`
	PipelineVersion string                              `json:"pipeline_version"`
	RunID           string                              `json:"run_id"`
	ProjectName     string                              `json:"project_name"`
	LastUpdated     time.Time                           `json:"last_updated"`
	CostEstimateUSD float64                             `json:"cost_estimate_usd"`
	Stages          map[types.StageName]StageRecord      `json:"stages"`
	SessionStages   map[SessionStageKey]StageRecord      `json:"session_stages"`
}

// Manifest is the in-memory, mutable view of a run's durable state. Safe
// for concurrent use; all mutating methods take the lock, all reads return
// independent copies.
type Manifest struct {
	mu  sync.Mutex
	doc document
	dir string // output directory holding .bristlenose/manifest.json
}

// New creates a fresh Manifest for a run against project name projectName,
// writing into outputDir/.bristlenose/manifest.json.
func New(outputDir, projectName, pipelineVersion string) *Manifest {
	return &Manifest{
		dir: outputDir,
		doc: document{
			SchemaVersion:   SchemaVersion,
			PipelineVersion: pipelineVersion,
			RunID:           uuid.NewString(),
			ProjectName:     projectName,
			Stages:          make(map[types.StageName]StageRecord),
			SessionStages:   make(map[SessionStageKey]StageRecord),
		},
	}
}

// path returns the manifest file path for outputDir.
func path(outputDir string) string {
	return filepath.Join(outputDir, ".bristlenose", "manifest.json")
}

// Load reads the manifest at outputDir/.bristlenose/manifest.json. Returns
// ErrSchemaVersionMismatch if the on-disk schema version differs from
// SchemaVersion — callers must not silently upgrade. If no manifest file
// exists, Load returns a fresh Manifest as if New had been called, since an
// absent manifest means "no prior run", not an error.
func Load(outputDir, projectName, pipelineVersion string) (*Manifest, error) {
	data, err := os.ReadFile(path(outputDir))
	if os.IsNotExist(err) {
		return New(outputDir, projectName, pipelineVersion), nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: file has version %d, expected %d", ErrSchemaVersionMismatch, doc.SchemaVersion, SchemaVersion)
	}
	if doc.Stages == nil {
		doc.Stages = make(map[types.StageName]StageRecord)
	}
	if doc.SessionStages == nil {
		doc.SessionStages = make(map[SessionStageKey]StageRecord)
	}
	return &Manifest{dir: outputDir, doc: doc}, nil
}

// Save writes the manifest to outputDir/.bristlenose/manifest.json,
// creating the directory if necessary. The single writer is the
// orchestrator's scheduling loop; Save itself takes the lock so concurrent
// reads from other goroutines (e.g. a status command) are never torn.
func (m *Manifest) Save() error {
	m.mu.Lock()
	m.doc.LastUpdated = time.Now()
	data, err := json.MarshalIndent(m.doc, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	dir := filepath.Join(m.dir, ".bristlenose")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifest: mkdir: %w", err)
	}
	tmp := filepath.Join(dir, "manifest.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write temp file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "manifest.json")); err != nil {
		return fmt.Errorf("manifest: rename into place: %w", err)
	}
	return nil
}

// SetStage records the status of a whole-pipeline stage.
func (m *Manifest) SetStage(stage types.StageName, rec StageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Stages[stage] = rec
}

// Stage returns a copy of the stage record for stage, and whether one
// exists.
func (m *Manifest) Stage(stage types.StageName) (StageRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.doc.Stages[stage]
	return rec, ok
}

// SetSessionStage records the status of one (session, stage) pair.
func (m *Manifest) SetSessionStage(sessionID string, stage types.StageName, rec StageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.SessionStages[SessionStageKey{SessionID: sessionID, Stage: stage}] = rec
}

// SessionStage returns a copy of the per-session stage record, and whether
// one exists.
func (m *Manifest) SessionStage(sessionID string, stage types.StageName) (StageRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.doc.SessionStages[SessionStageKey{SessionID: sessionID, Stage: stage}]
	return rec, ok
}

// AddCost accumulates usd into the manifest's running cost estimate.
func (m *Manifest) AddCost(usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.CostEstimateUSD += usd
}

// CostEstimateUSD returns the running total cost estimate.
func (m *Manifest) CostEstimateUSD() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.CostEstimateUSD
}

// RunID returns this manifest's stable run identifier.
func (m *Manifest) RunID() string {
	return m.doc.RunID
}

// ShouldRunStage decides whether a whole-pipeline stage must run, following
// the skip decision: complete AND artefact exists AND hash matches AND
// fingerprint matches (or reuseCachedProvider is set). artefactPath is the
// stage's intermediate JSON file.
func (m *Manifest) ShouldRunStage(stage types.StageName, artefactPath, contentHash string, fp types.ProviderFingerprint, reuseCachedProvider bool) bool {
	rec, ok := m.Stage(stage)
	if !ok || rec.Status != types.StatusComplete {
		return true
	}
	if _, err := os.Stat(artefactPath); err != nil {
		return true
	}
	if rec.ContentHash != contentHash {
		return true
	}
	if rec.Fingerprint != fp && !reuseCachedProvider {
		return true
	}
	return false
}

// ShouldRunSession is the per-session analogue of ShouldRunStage, used by
// stages 5, 5b, 8, and 9 to decide whether an individual session needs
// re-processing on resume.
func (m *Manifest) ShouldRunSession(sessionID string, stage types.StageName, contentHash string, fp types.ProviderFingerprint, reuseCachedProvider bool) bool {
	rec, ok := m.SessionStage(sessionID, stage)
	if !ok || rec.Status != types.StatusComplete {
		return true
	}
	if rec.ContentHash != contentHash {
		return true
	}
	if rec.Fingerprint != fp && !reuseCachedProvider {
		return true
	}
	return false
}

// Summary is a read-only rollup of manifest state for status reporting.
type Summary struct {
	Stages          map[types.StageName]StageRecord
	SessionsByStage map[types.StageName]int
	Warnings        []string
}

// Summarize builds a read-only [Summary], flagging any stage marked
// complete whose artefact file is missing ("complete but artefact
// missing").
func (m *Manifest) Summarize(intermediateDir string) Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		Stages:          make(map[types.StageName]StageRecord, len(m.doc.Stages)),
		SessionsByStage: make(map[types.StageName]int),
	}
	for stage, rec := range m.doc.Stages {
		s.Stages[stage] = rec
		if rec.Status == types.StatusComplete {
			artefact := filepath.Join(intermediateDir, string(stage)+".json")
			if _, err := os.Stat(artefact); err != nil {
				s.Warnings = append(s.Warnings, fmt.Sprintf("stage %q is complete but artefact %q is missing", stage, artefact))
			}
		}
	}
	for key := range m.doc.SessionStages {
		s.SessionsByStage[key.Stage]++
	}
	return s
}
