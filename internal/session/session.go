package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/clipscout/internal/domain/ranking"
	"github.com/forPelevin/clipscout/internal/index"
	"github.com/forPelevin/clipscout/internal/logging"
	"github.com/forPelevin/clipscout/internal/metrics"
	"github.com/forPelevin/clipscout/internal/ports"
	"github.com/forPelevin/clipscout/internal/types"
	"github.com/forPelevin/clipscout/internal/usecase"
)

var (
	// ErrStaleRun is reported for work that belongs to a superseded run.
	ErrStaleRun = errors.New("run superseded by a newer run")
	// ErrStaleQuery is returned by Search when a newer search was issued
	// before this one finished.
	ErrStaleQuery = errors.New("query superseded by a newer query")
	ErrBadSort    = errors.New("unknown sort order")
)

// Runner executes one analysis run. usecase.Usecase satisfies it.
type Runner interface {
	Run(ctx context.Context, in usecase.Input) (usecase.Result, error)
}

type Options struct {
	CacheDir         string
	BaseInterval     float64
	MaxFrames        int
	EmbedConcurrency int
	EmbedTimeout     time.Duration

	Ranking   ranking.Options
	SortOrder types.SortOrder
}

type Deps struct {
	Runner Runner
	// Embedder embeds search queries; nil keeps every search lexical-only.
	Embedder ports.Embedder
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Session owns the single live analysis state. Writers are serialised by mu;
// readers load immutable snapshots without locking.
type Session struct {
	id      string
	d       Deps
	opts    Options
	ranker  ranking.Ranker
	log     zerolog.Logger
	now     func() time.Time
	mu      sync.Mutex
	snap    atomic.Pointer[Snapshot]
	runs    sync.WaitGroup
	cancel  context.CancelFunc
	queries atomic.Uint64
	// lastTag is the run tag of the latest Start; tags strictly increase.
	lastTag int64

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(d Deps, opts Options) *Session {
	if !opts.SortOrder.Valid() {
		opts.SortOrder = types.SortChronological
	}
	s := &Session{
		id:     uuid.NewString(),
		d:      d,
		opts:   opts,
		ranker: ranking.New(opts.Ranking),
		now:    time.Now,
		subs:   map[int]chan Event{},
	}
	s.log = logging.WithComponent(d.Logger, "session").With().Str("session", s.id).Logger()
	s.snap.Store(s.emptySnapshot(0, "", StateIdle))
	return s
}

func (s *Session) ID() string { return s.id }

// Snapshot returns the current published state. Callers must not mutate it.
func (s *Session) Snapshot() *Snapshot { return s.snap.Load() }

// Start resets the session and launches an analysis run for videoPath. The
// returned channel carries this run's progress and is closed after its
// terminal Ready or Failed event. A previous run still in flight is cancelled
// and its results are discarded.
func (s *Session) Start(ctx context.Context, videoPath string) (uint64, <-chan Event) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	prev := s.snap.Load()
	runID := prev.RunID + 1
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	started := s.now()
	ms := started.UnixMilli()
	if ms <= s.lastTag {
		ms = s.lastTag + 1
	}
	s.lastTag = ms
	s.snap.Store(s.emptySnapshot(runID, videoPath, StateSampling))
	s.mu.Unlock()

	// Searches still holding prev see index.ErrClosed from transcript search.
	if err := prev.Index.Close(); err != nil {
		s.log.Warn().Err(err).Uint64("run", prev.RunID).Msg("close previous index")
	}

	events := make(chan Event, 64)
	tag := strconv.FormatInt(ms, 10)
	in := usecase.Input{
		VideoPath:        videoPath,
		CacheDir:         filepath.Join(s.opts.CacheDir, tag),
		RunTag:           tag,
		BaseInterval:     s.opts.BaseInterval,
		MaxFrames:        s.opts.MaxFrames,
		EmbedConcurrency: s.opts.EmbedConcurrency,
		EmbedTimeout:     s.opts.EmbedTimeout,
		Progress: func(stage usecase.Stage, pct float64) {
			s.progress(runID, State(stage), pct, events)
		},
	}
	s.log.Info().Uint64("run", runID).Str("video", videoPath).Msg("run started")
	s.emit(events, Event{RunID: runID, State: StateSampling})

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer cancel()
		defer close(events)

		res, err := s.d.Runner.Run(runCtx, in)
		s.finish(runID, res, err, started, events)
	}()
	return runID, events
}

func (s *Session) progress(runID uint64, st State, pct float64, events chan Event) {
	s.mu.Lock()
	cur := s.snap.Load()
	if cur.RunID != runID {
		s.mu.Unlock()
		return
	}
	next := *cur
	next.State = st
	next.Percent = pct
	s.snap.Store(&next)
	s.mu.Unlock()

	s.log.Debug().Uint64("run", runID).Str("stage", string(st)).Float64("percent", pct).Msg("progress")
	s.emit(events, Event{RunID: runID, State: st, Percent: pct})
}

func (s *Session) finish(runID uint64, res usecase.Result, runErr error, started time.Time, events chan Event) {
	log := s.log.With().Uint64("run", runID).Logger()

	var idx *index.Index
	if runErr == nil {
		var err error
		idx, err = index.Build(res.Duration, res.Clips, res.Transcript)
		if err != nil {
			runErr = fmt.Errorf("build index: %w", err)
		}
	}

	s.mu.Lock()
	cur := s.snap.Load()
	if cur.RunID != runID {
		s.mu.Unlock()
		_ = idx.Close()
		log.Info().Msg("discarding results of superseded run")
		s.d.Metrics.RunFinished("stale")
		s.emit(events, Event{RunID: runID, State: StateFailed, Err: ErrStaleRun.Error()})
		return
	}

	var next *Snapshot
	if runErr != nil {
		next = s.emptySnapshot(runID, cur.VideoPath, StateFailed)
		next.Err = runErr
	} else {
		next = &Snapshot{
			SessionID:     s.id,
			RunID:         runID,
			VideoPath:     cur.VideoPath,
			State:         StateReady,
			Percent:       100,
			SortOrder:     cur.SortOrder,
			Index:         idx,
			TranscriptErr: res.TranscriptErr,
			EmbedFailures: res.EmbedFailures,
			StartedAt:     started,
			FinishedAt:    s.now(),
		}
		next.Clips = ranking.SortClips(idx.All(), next.SortOrder)
		next.ActiveClipID = firstID(next.Clips)
	}
	s.snap.Store(next)
	s.mu.Unlock()

	if runErr != nil {
		outcome := "failed"
		if errors.Is(runErr, context.Canceled) {
			outcome = "cancelled"
		}
		log.Error().Err(runErr).Msg("run failed")
		s.d.Metrics.RunFinished(outcome)
		s.emit(events, Event{RunID: runID, State: StateFailed, Err: runErr.Error()})
		return
	}

	log.Info().
		Int("clips", len(next.Clips)).
		Int("segments", len(res.Transcript)).
		Int("embed_failures", res.EmbedFailures).
		Dur("elapsed", next.FinishedAt.Sub(started)).
		Msg("run ready")
	s.d.Metrics.RunFinished("ready")
	s.emit(events, Event{RunID: runID, State: StateReady, Percent: 100, Clips: len(next.Clips)})
}

// Search ranks the current clips against query. When embedding the query
// fails the search degrades to lexical-only scoring. If another search is
// issued before this one completes, ErrStaleQuery is returned and nothing is
// published.
func (s *Session) Search(ctx context.Context, query string) ([]types.RankedClip, error) {
	seq := s.queries.Add(1)
	snap := s.snap.Load()
	query = strings.TrimSpace(query)

	q := ranking.Query{Text: query, Order: snap.SortOrder}
	mode := "all"
	if query != "" {
		mode = "lexical"
		if vec, err := s.embedQuery(ctx, query); err != nil {
			s.log.Warn().Err(err).Str("query", query).Msg("query embedding failed; using lexical-only ranking")
		} else if vec != nil {
			q.Vector = vec
			mode = "hybrid"
		}
	}
	s.d.Metrics.Searched(mode)

	var clips []types.Clip
	var transcript []types.Segment
	if snap.Index != nil {
		clips = snap.Index.All()
		transcript = snap.Index.Transcript()
	}
	results := s.ranker.Rank(q, clips, transcript)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queries.Load() != seq {
		return nil, ErrStaleQuery
	}
	cur := s.snap.Load()
	if cur.RunID != snap.RunID {
		return nil, ErrStaleRun
	}
	if cur.SortOrder != q.Order {
		ranking.SortRanked(results, cur.SortOrder)
	}
	next := *cur
	next.LastQuery = query
	next.Results = nil
	if query != "" {
		next.Results = append([]types.RankedClip{}, results...)
	}
	if len(results) > 0 {
		next.ActiveClipID = results[0].ID
	}
	s.snap.Store(&next)
	return results, nil
}

func (s *Session) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.d.Embedder == nil {
		return nil, nil
	}
	timeout := s.opts.EmbedTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	vec, err := s.d.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, errors.New("empty query embedding")
	}
	return vec, nil
}

// SetSortOrder re-sorts the published clips, and the results of the active
// query if there is one, then focuses the first clip on display.
func (s *Session) SetSortOrder(order types.SortOrder) (*Snapshot, error) {
	if !order.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadSort, order)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.snap.Load()
	next.SortOrder = order
	next.Clips = ranking.SortClips(next.Clips, order)
	if next.LastQuery == "" {
		next.ActiveClipID = firstID(next.Clips)
	} else {
		next.Results = append([]types.RankedClip{}, next.Results...)
		ranking.SortRanked(next.Results, order)
		if len(next.Results) > 0 {
			next.ActiveClipID = next.Results[0].ID
		}
	}
	s.snap.Store(&next)
	return &next, nil
}

// ClipAt returns the clip whose span contains t in the current snapshot.
func (s *Session) ClipAt(t float64) (types.Clip, bool) {
	snap := s.snap.Load()
	if snap.Index == nil {
		return types.Clip{}, false
	}
	return snap.Index.ClipContaining(t)
}

// Focus marks the clip with the given id as active.
func (s *Session) Focus(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snap.Load()
	if cur.Index == nil {
		return fmt.Errorf("clip %q not found", id)
	}
	if _, ok := cur.Index.Get(id); !ok {
		return fmt.Errorf("clip %q not found", id)
	}
	next := *cur
	next.ActiveClipID = id
	s.snap.Store(&next)
	return nil
}

// Close cancels any in-flight run, waits for it to finish and releases the
// published index.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.runs.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	return s.snap.Load().Index.Close()
}

func (s *Session) emptySnapshot(runID uint64, video string, st State) *Snapshot {
	return &Snapshot{
		SessionID: s.id,
		RunID:     runID,
		VideoPath: video,
		State:     st,
		SortOrder: s.opts.SortOrder,
		Index:     index.Empty(),
	}
}

func firstID(clips []types.Clip) string {
	if len(clips) == 0 {
		return ""
	}
	return clips[0].ID
}
