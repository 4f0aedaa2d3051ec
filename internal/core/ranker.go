package core

import (
	"slices"
	"sort"
)

// RankCandidates orders candidates by match score, highest first, and keeps the first count.
// Equal scores keep their upstream order. The input slice is not modified.
func RankCandidates(candidates []Candidate, count int) []Candidate {
	if count <= 0 || len(candidates) == 0 {
		return nil
	}

	ranked := slices.Clone(candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score() > ranked[j].Score()
	})

	if len(ranked) > count {
		ranked = ranked[:count]
	}
	return ranked
}
