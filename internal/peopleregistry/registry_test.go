package peopleregistry_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bristlenose/bristlenose/internal/peopleregistry"
	"github.com/bristlenose/bristlenose/pkg/types"
)

const sampleYAML = `
participants:
  p1:
    computed:
      session_id: s1
      role: participant
      words_spoken: 340
      speaking_seconds: 120.5
    editable:
      full_name: Sarah Jones
      role: participant
`

func TestLoadFromReader_Valid(t *testing.T) {
	reg, err := peopleregistry.LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	entry, ok := reg.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "s1", entry.Computed.SessionID)
	assert.Equal(t, 340, entry.Computed.WordsSpoken)
	assert.Equal(t, "Sarah Jones", entry.Editable.FullName)
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	reg, err := peopleregistry.LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, reg.All())
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := peopleregistry.LoadFromReader(strings.NewReader(`
participants:
  p1:
    computed:
      bogus_field: true
`))
	require.Error(t, err)
}

func TestMerge_PreservesNonEmptyEditableFields(t *testing.T) {
	reg := peopleregistry.New()
	reg.Merge("p1", types.ComputedPersonFields{SessionID: "s1"}, types.EditablePersonFields{FullName: "Initial Name"})

	// A later run tries to overwrite with a different inferred name; the
	// existing editable value must win.
	reg.Merge("p1", types.ComputedPersonFields{SessionID: "s1", WordsSpoken: 50}, types.EditablePersonFields{FullName: "Different Name"})

	entry, ok := reg.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "Initial Name", entry.Editable.FullName)
	assert.Equal(t, 50, entry.Computed.WordsSpoken)
}

func TestMerge_FillsEmptyEditableFields(t *testing.T) {
	reg := peopleregistry.New()
	reg.Merge("p1", types.ComputedPersonFields{SessionID: "s1"}, types.EditablePersonFields{})
	reg.Merge("p1", types.ComputedPersonFields{SessionID: "s1"}, types.EditablePersonFields{FullName: "Filled In"})

	entry, ok := reg.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "Filled In", entry.Editable.FullName)
}

func TestSaveAndLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/people.yaml"

	reg := peopleregistry.New()
	reg.Merge("p1", types.ComputedPersonFields{SessionID: "s1", WordsSpoken: 10}, types.EditablePersonFields{FullName: "Jamie"})
	require.NoError(t, reg.Save(path))

	loaded, err := peopleregistry.Load(path)
	require.NoError(t, err)
	entry, ok := loaded.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "Jamie", entry.Editable.FullName)
}

func TestLoad_MissingFileReturnsEmptyRegistry(t *testing.T) {
	reg, err := peopleregistry.Load("/nonexistent/path/people.yaml")
	require.NoError(t, err)
	assert.Empty(t, reg.All())
}
