package ranking

import (
	"sort"

	"github.com/forPelevin/clipscout/internal/types"
)

// SortClips returns a stably sorted copy of clips. Unknown orders fall back to
// chronological.
func SortClips(clips []types.Clip, order types.SortOrder) []types.Clip {
	out := make([]types.Clip, len(clips))
	copy(out, clips)
	sortStable(out, order, func(c *types.Clip) *types.Clip { return c })
	return out
}

// SortRanked sorts ranked clips in place; equal keys keep their prior order.
func SortRanked(ranked []types.RankedClip, order types.SortOrder) {
	sortStable(ranked, order, func(r *types.RankedClip) *types.Clip { return &r.Clip })
}

func sortStable[T any](items []T, order types.SortOrder, clip func(*T) *types.Clip) {
	switch order {
	case types.SortVirality:
		sort.SliceStable(items, func(i, j int) bool {
			return clip(&items[i]).ViralityScore > clip(&items[j]).ViralityScore
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			return clip(&items[i]).Start < clip(&items[j]).Start
		})
	}
}
