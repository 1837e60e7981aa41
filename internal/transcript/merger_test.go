package transcript_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bristlenose/bristlenose/internal/transcript"
	"github.com/bristlenose/bristlenose/pkg/types"
)

func TestMerge_PrefersSourceWithWordTiming(t *testing.T) {
	withWords := []types.Segment{
		{SessionID: "s1", Start: 1.0, End: 4.0, Text: "tell me about your workflow",
			Words: []types.WordDetail{{Text: "tell", Start: 1.0, End: 1.2}}},
	}
	withLabel := []types.Segment{
		{SessionID: "s1", Start: 1.1, End: 4.1, Text: "tell me about your workflow", SpeakerLabel: "Sarah"},
	}

	merged := transcript.Merge(withWords, withLabel)
	require.Len(t, merged, 1)
	assert.NotEmpty(t, merged[0].Words)
}

func TestMerge_PrefersSpeakerLabelWhenNeitherHasWordTiming(t *testing.T) {
	noLabel := []types.Segment{
		{SessionID: "s1", Start: 1.0, End: 4.0, Text: "tell me about your workflow"},
	}
	withLabel := []types.Segment{
		{SessionID: "s1", Start: 1.1, End: 4.1, Text: "tell me about your workflow", SpeakerLabel: "Sarah"},
	}

	merged := transcript.Merge(noLabel, withLabel)
	require.Len(t, merged, 1)
	assert.Equal(t, "Sarah", merged[0].SpeakerLabel)
}

func TestMerge_NonOverlappingSegmentsAreBothKept(t *testing.T) {
	first := []types.Segment{{SessionID: "s1", Start: 1.0, End: 2.0, Text: "hello there"}}
	second := []types.Segment{{SessionID: "s1", Start: 10.0, End: 11.0, Text: "goodbye now"}}

	merged := transcript.Merge(first, second)
	assert.Len(t, merged, 2)
}

func TestMerge_OverlappingButDissimilarTextIsKeptSeparate(t *testing.T) {
	first := []types.Segment{{SessionID: "s1", Start: 1.0, End: 4.0, Text: "tell me about your workflow"}}
	second := []types.Segment{{SessionID: "s1", Start: 1.1, End: 4.1, Text: "completely unrelated statement here"}}

	merged := transcript.Merge(first, second)
	assert.Len(t, merged, 2)
}

func TestMerge_OutputIsSortedByStart(t *testing.T) {
	first := []types.Segment{{SessionID: "s1", Start: 10.0, End: 11.0, Text: "second turn"}}
	second := []types.Segment{{SessionID: "s1", Start: 1.0, End: 2.0, Text: "first turn"}}

	merged := transcript.Merge(first, second)
	require.Len(t, merged, 2)
	assert.Equal(t, "first turn", merged[0].Text)
	assert.Equal(t, "second turn", merged[1].Text)
}

func TestDropWordTiming_ClearsWordsOnAllSegments(t *testing.T) {
	segs := []types.Segment{
		{Words: []types.WordDetail{{Text: "hi"}}},
		{Words: []types.WordDetail{{Text: "there"}}},
	}
	transcript.DropWordTiming(segs)
	for _, s := range segs {
		assert.Nil(t, s.Words)
	}
}
