package speaker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/pkg/provider/llm"
	llmmock "github.com/bristlenose/bristlenose/pkg/provider/llm/mock"
	"github.com/bristlenose/bristlenose/pkg/types"
)

func TestHeuristicClassify_SingleSpeakerIsParticipant(t *testing.T) {
	sp := heuristicClassify("Speaker A", 1)
	assert.Equal(t, types.RoleParticipant, sp.Role)
}

func TestHeuristicClassify_GenericLabelIsFlaggedUnknown(t *testing.T) {
	sp := heuristicClassify("SPEAKER_00", 2)
	assert.Equal(t, types.RoleUnknown, sp.Role)
	assert.Empty(t, sp.PersonName)
}

func TestHeuristicClassify_RealNameIsCarriedAsPersonName(t *testing.T) {
	sp := heuristicClassify("Sarah Chen", 2)
	assert.Equal(t, "Sarah Chen", sp.PersonName)
}

func TestDistinctLabels_PreservesOrderAndDedupes(t *testing.T) {
	segs := []types.Segment{
		{SpeakerLabel: "A"},
		{SpeakerLabel: "B"},
		{SpeakerLabel: "A"},
		{SpeakerLabel: ""},
	}
	assert.Equal(t, []string{"A", "B"}, distinctLabels(segs))
}

func TestSessionSpeakers_NilClientUsesHeuristicsOnly(t *testing.T) {
	id := New(nil)
	segs := []types.Segment{{SpeakerLabel: "Speaker A"}}
	speakers, err := id.SessionSpeakers(context.Background(), types.Session{ID: "s1"}, segs, "")
	require.NoError(t, err)
	require.Len(t, speakers, 1)
	assert.Equal(t, types.RoleParticipant, speakers[0].Role)
}

func TestSessionSpeakers_RefinesRoleFromLLM(t *testing.T) {
	provider := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
		CompleteResponse: &llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{
				Arguments: `{"labels":{"Speaker A":{"role":"researcher","person_name":"Alex"}}}`,
			}},
		},
	}
	client := llmclient.New(provider, "mock", "mock-model")
	id := New(client)

	segs := []types.Segment{{SpeakerLabel: "Speaker A"}, {SpeakerLabel: "Speaker B"}}
	speakers, err := id.SessionSpeakers(context.Background(), types.Session{ID: "s1"}, segs, "excerpt")
	require.NoError(t, err)
	require.Len(t, speakers, 2)
	assert.Equal(t, types.RoleResearcher, speakers[0].Role)
	assert.Equal(t, "Alex", speakers[0].PersonName)
}

func TestSessionSpeakers_LLMFailureFallsBackToHeuristics(t *testing.T) {
	provider := &llmmock.Provider{CompleteErr: errors.New("unreachable")}
	client := llmclient.New(provider, "mock", "mock-model")
	id := New(client)

	segs := []types.Segment{{SpeakerLabel: "Speaker A"}, {SpeakerLabel: "Speaker B"}}
	speakers, err := id.SessionSpeakers(context.Background(), types.Session{ID: "s1"}, segs, "")
	require.NoError(t, err)
	require.Len(t, speakers, 2)
}
