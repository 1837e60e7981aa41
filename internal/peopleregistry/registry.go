// Package peopleregistry persists the project's people registry: one entry
// per speaker code, carrying both fields recomputed on every run and
// fields a human edits once and the pipeline must never overwrite.
//
// The on-disk format and strict-decode discipline follow the teacher's
// internal/entity/yamlloader.go: a typed document struct, KnownFields(true)
// decoding, and a Load/Save pair built on gopkg.in/yaml.v3.
package peopleregistry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bristlenose/bristlenose/pkg/types"
)

// document is the top-level on-disk YAML shape: a map from speaker code to
// its entry.
type document struct {
	Participants map[string]entryDoc `yaml:"participants"`
}

// entryDoc mirrors types.PersonEntry's two field groups for YAML encoding.
type entryDoc struct {
	Computed computedDoc `yaml:"computed"`
	Editable editableDoc `yaml:"editable"`
}

type computedDoc struct {
	SessionID       string     `yaml:"session_id"`
	Role            types.Role `yaml:"role"`
	WordsSpoken     int        `yaml:"words_spoken"`
	SpeakingSeconds float64    `yaml:"speaking_seconds"`
}

type editableDoc struct {
	FullName  string     `yaml:"full_name,omitempty"`
	ShortName string     `yaml:"short_name,omitempty"`
	Role      types.Role `yaml:"role,omitempty"`
	Persona   string      `yaml:"persona,omitempty"`
	Notes     string     `yaml:"notes,omitempty"`
}

// Registry holds the in-memory people registry, keyed by speaker code.
type Registry struct {
	entries map[string]types.PersonEntry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]types.PersonEntry)}
}

// Load reads a people registry YAML file from path. A missing file is not
// an error — it returns an empty Registry, since the first pipeline run on
// a project has no prior registry to merge against.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("peopleregistry: open %q: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader parses a people registry YAML document from r.
func LoadFromReader(r io.Reader) (*Registry, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("peopleregistry: decode: %w", err)
	}

	reg := New()
	for code, e := range doc.Participants {
		reg.entries[code] = types.PersonEntry{
			Code: code,
			Computed: types.ComputedPersonFields{
				SessionID:       e.Computed.SessionID,
				Role:            e.Computed.Role,
				WordsSpoken:     e.Computed.WordsSpoken,
				SpeakingSeconds: e.Computed.SpeakingSeconds,
			},
			Editable: types.EditablePersonFields{
				FullName:  e.Editable.FullName,
				ShortName: e.Editable.ShortName,
				Role:      e.Editable.Role,
				Persona:   e.Editable.Persona,
				Notes:     e.Editable.Notes,
			},
		}
	}
	return reg, nil
}

// Save writes the registry to path as YAML, creating parent directories as
// needed.
func (r *Registry) Save(path string) error {
	data, err := r.marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("peopleregistry: create dir for %q: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (r *Registry) marshal() ([]byte, error) {
	doc := document{Participants: make(map[string]entryDoc, len(r.entries))}
	for code, e := range r.entries {
		doc.Participants[code] = entryDoc{
			Computed: computedDoc{
				SessionID:       e.Computed.SessionID,
				Role:            e.Computed.Role,
				WordsSpoken:     e.Computed.WordsSpoken,
				SpeakingSeconds: e.Computed.SpeakingSeconds,
			},
			Editable: editableDoc{
				FullName:  e.Editable.FullName,
				ShortName: e.Editable.ShortName,
				Role:      e.Editable.Role,
				Persona:   e.Editable.Persona,
				Notes:     e.Editable.Notes,
			},
		}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("peopleregistry: marshal: %w", err)
	}
	return data, nil
}

// Get returns the entry for code, and whether it exists.
func (r *Registry) Get(code string) (types.PersonEntry, bool) {
	e, ok := r.entries[code]
	return e, ok
}

// Merge applies a freshly computed entry for code: computed fields are
// always overwritten; editable fields are only filled in when currently
// empty (the human-edited registry takes priority over anything the
// pipeline infers).
func (r *Registry) Merge(code string, computed types.ComputedPersonFields, inferred types.EditablePersonFields) {
	existing, ok := r.entries[code]
	if !ok {
		existing = types.PersonEntry{Code: code}
	}
	existing.Computed = computed

	if existing.Editable.FullName == "" {
		existing.Editable.FullName = inferred.FullName
	}
	if existing.Editable.ShortName == "" {
		existing.Editable.ShortName = inferred.ShortName
	}
	if existing.Editable.Role == "" {
		existing.Editable.Role = inferred.Role
	}
	if existing.Editable.Persona == "" {
		existing.Editable.Persona = inferred.Persona
	}
	if existing.Editable.Notes == "" {
		existing.Editable.Notes = inferred.Notes
	}

	r.entries[code] = existing
}

// All returns every entry, unordered.
func (r *Registry) All() []types.PersonEntry {
	out := make([]types.PersonEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
