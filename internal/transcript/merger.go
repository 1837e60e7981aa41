package transcript

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/bristlenose/bristlenose/pkg/types"
)

const (
	// overlapEpsilon is the minimum interval intersection, in seconds,
	// below which two segments from different sources are treated as
	// merely adjacent rather than overlapping duplicates.
	overlapEpsilon = 0.25

	// textMatchThreshold is the minimum Jaro-Winkler similarity between
	// two overlapping segments' text for them to be considered the same
	// spoken turn rather than coincidentally concurrent speech.
	textMatchThreshold = 0.85
)

// Merge resolves duplicate coverage across multiple transcript sources for
// the same session (e.g. a whisper.cpp transcription plus a platform-native
// VTT/SRT/DOCX export) into one globally sorted segment list.
//
// Two segments from different sources are considered the same turn when
// their intervals overlap by more than overlapEpsilon seconds and their
// text is a fuzzy match above textMatchThreshold. Of a conflicting pair,
// the segment with per-word timing wins; if neither or both carry
// per-word timing, the one with a non-empty speaker label wins; ties keep
// whichever was encountered first.
func Merge(sources ...[]types.Segment) []types.Segment {
	var all []types.Segment
	for _, src := range sources {
		all = append(all, src...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start < all[j].Start })

	var merged []types.Segment
	for _, cand := range all {
		replaced := false
		for i := len(merged) - 1; i >= 0; i-- {
			existing := merged[i]
			if cand.Start >= existing.End && existing.Start >= cand.End {
				break
			}
			if !overlaps(existing, cand) {
				continue
			}
			if !fuzzyTextMatch(existing.Text, cand.Text) {
				continue
			}
			if preferred(cand, existing) {
				merged[i] = cand
			}
			replaced = true
			break
		}
		if !replaced {
			merged = append(merged, cand)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}

// overlaps reports whether a and b's intervals intersect by more than
// overlapEpsilon seconds.
func overlaps(a, b types.Segment) bool {
	start := a.Start
	if b.Start > start {
		start = b.Start
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	return end-start > overlapEpsilon
}

// fuzzyTextMatch reports whether a and b's text is similar enough to be
// the same spoken turn.
func fuzzyTextMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return a == b
	}
	return matchr.JaroWinkler(a, b, false) >= textMatchThreshold
}

// preferred reports whether candidate should replace existing: per-word
// timing wins first, a non-empty speaker label wins second.
func preferred(candidate, existing types.Segment) bool {
	candWords := len(candidate.Words) > 0
	existWords := len(existing.Words) > 0
	if candWords != existWords {
		return candWords
	}
	candLabel := strings.TrimSpace(candidate.SpeakerLabel) != ""
	existLabel := strings.TrimSpace(existing.SpeakerLabel) != ""
	if candLabel != existLabel {
		return candLabel
	}
	return false
}

// DropWordTiming clears per-word timing from every segment, shrinking the
// working set once downstream stages no longer need it.
func DropWordTiming(segs []types.Segment) {
	for i := range segs {
		segs[i].Words = nil
	}
}
