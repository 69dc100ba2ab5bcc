package ranking

import (
	"strings"

	"github.com/forPelevin/clipscout/internal/types"
)

const (
	DefaultOverlapBoost = 0.5
	DefaultThreshold    = 0.3
)

// Options holds the empirical scoring constants.
type Options struct {
	// OverlapBoost is added once to a clip that overlaps a transcript hit or
	// whose own transcript stub contains the query.
	OverlapBoost float64
	// Threshold is the minimum score (exclusive) for a clip to be retained
	// without a literal stub match.
	Threshold float64
}

func DefaultOptions() Options {
	return Options{OverlapBoost: DefaultOverlapBoost, Threshold: DefaultThreshold}
}

type Ranker struct{ opts Options }

func New(opts Options) Ranker { return Ranker{opts: opts} }

// Query is one search evaluation. Vector is the query embedding; nil selects
// lexical-only mode, where cosine scoring is skipped.
type Query struct {
	Text   string
	Vector []float32
	Order  types.SortOrder
}

// Rank scores, filters and orders clips for q. An empty query keeps every clip
// with a zero score.
func (r Ranker) Rank(q Query, clips []types.Clip, transcript []types.Segment) []types.RankedClip {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		out := make([]types.RankedClip, 0, len(clips))
		for _, c := range clips {
			out = append(out, types.RankedClip{Clip: c})
		}
		SortRanked(out, q.Order)
		return out
	}

	hits := MatchingSegments(transcript, needle)

	out := make([]types.RankedClip, 0, len(clips))
	for _, c := range clips {
		var score float64
		if q.Vector != nil {
			score = Cosine(c.Embedding, q.Vector)
		}
		stubHit := containsFold(c.TranscriptStub, needle)
		if stubHit || overlapsAny(c, hits) {
			score += r.opts.OverlapBoost
		}
		if score > r.opts.Threshold || stubHit {
			out = append(out, types.RankedClip{Clip: c, Score: score})
		}
	}
	SortRanked(out, q.Order)
	return out
}

// MatchingSegments returns segments whose text contains query, ignoring case.
func MatchingSegments(transcript []types.Segment, query string) []types.Segment {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}
	var out []types.Segment
	for _, s := range transcript {
		if containsFold(s.Text, needle) {
			out = append(out, s)
		}
	}
	return out
}

// Overlaps reports whether segment s starts or ends inside the clip span, or
// fully encloses it.
func Overlaps(c types.Clip, s types.Segment) bool {
	switch {
	case s.Start >= c.Start && s.Start <= c.End:
		return true
	case s.End >= c.Start && s.End <= c.End:
		return true
	case c.Start >= s.Start && c.End <= s.End:
		return true
	}
	return false
}

func overlapsAny(c types.Clip, segs []types.Segment) bool {
	for _, s := range segs {
		if Overlaps(c, s) {
			return true
		}
	}
	return false
}

// needle must already be lower-cased.
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}
