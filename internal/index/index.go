package index

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/forPelevin/clipscout/internal/types"
)

// ErrClosed is returned by SearchTranscript after Close.
var ErrClosed = errors.New("index closed")

// Index is the immutable clip and transcript set of one analysed video. Clips
// keep visual-analysis order; display order is applied by callers.
type Index struct {
	duration   float64
	clips      []types.Clip
	transcript []types.Segment

	// mu guards text; Close waits for running searches.
	mu     sync.RWMutex
	text   bleve.Index
	closed bool
}

// SegmentHit is a transcript segment matched by full-text search.
type SegmentHit struct {
	types.Segment
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Empty returns an index with no clips, used before the first run completes.
func Empty() *Index { return &Index{} }

// Build copies clips and transcript into a new index and indexes transcript
// text for SearchTranscript.
func Build(duration float64, clips []types.Clip, transcript []types.Segment) (*Index, error) {
	x := &Index{
		duration:   duration,
		clips:      append([]types.Clip(nil), clips...),
		transcript: append([]types.Segment(nil), transcript...),
	}
	sort.SliceStable(x.transcript, func(i, j int) bool { return x.transcript[i].Start < x.transcript[j].Start })

	if len(x.transcript) == 0 {
		return x, nil
	}
	text, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create transcript index: %w", err)
	}
	batch := text.NewBatch()
	for i, s := range x.transcript {
		if err := batch.Index(strconv.Itoa(i), map[string]interface{}{"text": s.Text}); err != nil {
			return nil, fmt.Errorf("index segment %d: %w", i, err)
		}
	}
	if err := text.Batch(batch); err != nil {
		return nil, fmt.Errorf("index transcript: %w", err)
	}
	x.text = text
	return x, nil
}

func (x *Index) Duration() float64 { return x.duration }

func (x *Index) Len() int { return len(x.clips) }

// All returns the clips in insertion order. The slice is a copy.
func (x *Index) All() []types.Clip {
	return append([]types.Clip(nil), x.clips...)
}

// Transcript returns the segments ordered by start time. The slice is a copy.
func (x *Index) Transcript() []types.Segment {
	return append([]types.Segment(nil), x.transcript...)
}

// Get returns the clip with the given id.
func (x *Index) Get(id string) (types.Clip, bool) {
	for _, c := range x.clips {
		if c.ID == id {
			return c, true
		}
	}
	return types.Clip{}, false
}

// ClipContaining returns the first clip, in insertion order, whose
// [Start, End) span contains t.
func (x *Index) ClipContaining(t float64) (types.Clip, bool) {
	for _, c := range x.clips {
		if c.Contains(t) {
			return c, true
		}
	}
	return types.Clip{}, false
}

// SearchTranscript runs a full-text match query over segment text and returns
// at most limit hits, best first.
func (x *Index) SearchTranscript(query string, limit int) ([]SegmentHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrClosed
	}
	if x.text == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := x.text.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search transcript: %w", err)
	}

	out := make([]SegmentHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(x.transcript) {
			continue
		}
		out = append(out, SegmentHit{Segment: x.transcript[i], Index: i, Score: hit.Score})
	}
	return out, nil
}

// Close releases the transcript index. Clip lookups keep working; later
// transcript searches return ErrClosed. Close is idempotent.
func (x *Index) Close() error {
	if x == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	if x.text == nil {
		return nil
	}
	return x.text.Close()
}
