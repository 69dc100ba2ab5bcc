package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/clipscout/internal/domain/ranking"
	"github.com/forPelevin/clipscout/internal/index"
	"github.com/forPelevin/clipscout/internal/types"
	"github.com/forPelevin/clipscout/internal/usecase"
)

type runnerFunc func(ctx context.Context, in usecase.Input) (usecase.Result, error)

func (f runnerFunc) Run(ctx context.Context, in usecase.Input) (usecase.Result, error) {
	return f(ctx, in)
}

func readyRunner(res usecase.Result) runnerFunc {
	return func(_ context.Context, in usecase.Input) (usecase.Result, error) {
		for _, st := range []usecase.Stage{usecase.StageSampling, usecase.StageVisualAnalysis, usecase.StageTranscribing, usecase.StageEmbedding} {
			in.Progress(st, 0)
			in.Progress(st, 100)
		}
		return res, nil
	}
}

type embedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

func testClips() []types.Clip {
	return []types.Clip{
		{ID: "r-001", Start: 40, End: 50, Title: "rocket", ViralityScore: 40, Embedding: []float32{1, 0}},
		{ID: "r-002", Start: 0, End: 10, Title: "intro", ViralityScore: 90, Embedding: []float32{0, 1}, TranscriptStub: "welcome everyone"},
		{ID: "r-003", Start: 20, End: 30, Title: "crowd", ViralityScore: 90},
	}
}

func testResult() usecase.Result {
	return usecase.Result{
		Duration: 60,
		Clips:    testClips(),
		Transcript: []types.Segment{
			{Start: 21, End: 24, Text: "the crowd goes wild"},
		},
	}
}

func newTestSession(t *testing.T, r Runner, emb embedderFunc) *Session {
	t.Helper()
	d := Deps{Runner: r, Logger: zerolog.Nop()}
	if emb != nil {
		d.Embedder = emb
	}
	s := New(d, Options{
		CacheDir:         t.TempDir(),
		BaseInterval:     2,
		MaxFrames:        10,
		EmbedConcurrency: 2,
		EmbedTimeout:     time.Second,
		Ranking:          ranking.DefaultOptions(),
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("run did not finish; events so far: %+v", out)
		}
	}
}

func TestSession_StartPublishesReadySnapshot(t *testing.T) {
	s := newTestSession(t, readyRunner(testResult()), nil)
	if st := s.Snapshot().State; st != StateIdle {
		t.Fatalf("initial state = %s", st)
	}

	runID, events := s.Start(context.Background(), "in.mp4")
	got := drain(t, events)
	last := got[len(got)-1]
	if last.State != StateReady || last.RunID != runID || last.Clips != 3 {
		t.Fatalf("unexpected terminal event: %+v", last)
	}

	snap := s.Snapshot()
	if snap.State != StateReady || snap.Percent != 100 {
		t.Fatalf("unexpected snapshot state: %s %v", snap.State, snap.Percent)
	}
	ids := clipIDs(snap.Clips)
	if ids != "r-002,r-003,r-001" {
		t.Fatalf("expected chronological clips, got %s", ids)
	}
	if snap.ActiveClipID != "r-002" {
		t.Fatalf("active clip = %q", snap.ActiveClipID)
	}
	if all := clipIDs(snap.Index.All()); all != "r-001,r-002,r-003" {
		t.Fatalf("index must keep analysis order, got %s", all)
	}
}

func TestSession_RunTagIsStartTime(t *testing.T) {
	var tag string
	s := newTestSession(t, runnerFunc(func(_ context.Context, in usecase.Input) (usecase.Result, error) {
		tag = in.RunTag
		return testResult(), nil
	}), nil)
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }

	_, events := s.Start(context.Background(), "in.mp4")
	drain(t, events)
	if tag != "1700000000123" {
		t.Fatalf("run tag = %q", tag)
	}
}

func TestSession_RunTagsNeverRepeat(t *testing.T) {
	var (
		mu     sync.Mutex
		inputs []usecase.Input
	)
	s := newTestSession(t, runnerFunc(func(_ context.Context, in usecase.Input) (usecase.Result, error) {
		mu.Lock()
		inputs = append(inputs, in)
		mu.Unlock()
		return testResult(), nil
	}), nil)
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }

	for i := 0; i < 3; i++ {
		_, events := s.Start(context.Background(), "in.mp4")
		drain(t, events)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"1700000000123", "1700000000124", "1700000000125"}
	dirs := map[string]bool{}
	for i, in := range inputs {
		if in.RunTag != want[i] {
			t.Fatalf("run %d tag = %q, want %q", i+1, in.RunTag, want[i])
		}
		if dirs[in.CacheDir] {
			t.Fatalf("run %d reuses cache dir %s", i+1, in.CacheDir)
		}
		dirs[in.CacheDir] = true
	}
}

func TestSession_FailedRunResetsState(t *testing.T) {
	fatal := &usecase.PipelineError{Stage: usecase.StageVisualAnalysis, Err: errors.New("backend down")}
	calls := 0
	s := newTestSession(t, runnerFunc(func(_ context.Context, _ usecase.Input) (usecase.Result, error) {
		calls++
		if calls == 1 {
			return testResult(), nil
		}
		return usecase.Result{}, fatal
	}), nil)

	_, events := s.Start(context.Background(), "a.mp4")
	drain(t, events)
	if len(s.Snapshot().Clips) != 3 {
		t.Fatalf("first run should publish clips")
	}

	_, events = s.Start(context.Background(), "b.mp4")
	got := drain(t, events)
	last := got[len(got)-1]
	if last.State != StateFailed || !strings.Contains(last.Err, "backend down") {
		t.Fatalf("unexpected terminal event: %+v", last)
	}

	snap := s.Snapshot()
	if snap.State != StateFailed || !errors.Is(snap.Err, usecase.ErrVisualAnalysis) {
		t.Fatalf("unexpected snapshot: %s %v", snap.State, snap.Err)
	}
	if len(snap.Clips) != 0 || snap.Index.Len() != 0 {
		t.Fatalf("failed run must leave no clips")
	}
	if _, ok := s.ClipAt(5); ok {
		t.Fatalf("no clip expected after failure")
	}
}

func TestSession_TranscriptionFailureStillReady(t *testing.T) {
	res := testResult()
	res.Transcript = nil
	res.TranscriptErr = errors.New("whisper missing")
	s := newTestSession(t, readyRunner(res), nil)

	_, events := s.Start(context.Background(), "in.mp4")
	drain(t, events)
	snap := s.Snapshot()
	if snap.State != StateReady || len(snap.Index.Transcript()) != 0 || snap.TranscriptErr == nil {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSession_SupersededRunIsDiscarded(t *testing.T) {
	var mu sync.Mutex
	first := true
	entered := make(chan struct{})
	s := newTestSession(t, runnerFunc(func(ctx context.Context, in usecase.Input) (usecase.Result, error) {
		mu.Lock()
		isFirst := first
		first = false
		mu.Unlock()
		if isFirst {
			close(entered)
			<-ctx.Done()
			return testResult(), nil
		}
		res := testResult()
		res.Clips = res.Clips[:1]
		return res, nil
	}), nil)

	run1, ev1 := s.Start(context.Background(), "a.mp4")
	<-entered
	run2, ev2 := s.Start(context.Background(), "b.mp4")
	if run2 <= run1 {
		t.Fatalf("run ids must increase: %d then %d", run1, run2)
	}

	got1 := drain(t, ev1)
	if last := got1[len(got1)-1]; last.State != StateFailed || last.Err != ErrStaleRun.Error() {
		t.Fatalf("expected stale terminal event for first run, got %+v", last)
	}
	drain(t, ev2)

	snap := s.Snapshot()
	if snap.RunID != run2 || snap.VideoPath != "b.mp4" || len(snap.Clips) != 1 {
		t.Fatalf("snapshot does not belong to the latest run: %+v", snap)
	}
}

func TestSession_Search(t *testing.T) {
	emb := embedderFunc(func(_ context.Context, text string) ([]float32, error) {
		if text == "launch" {
			return []float32{1, 0}, nil
		}
		return []float32{0, 0}, nil
	})
	s := newTestSession(t, readyRunner(testResult()), emb)
	_, events := s.Start(context.Background(), "in.mp4")
	drain(t, events)

	got, err := s.Search(context.Background(), "launch")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r-001" || got[0].Score < 0.99 {
		t.Fatalf("unexpected results: %+v", got)
	}
	snap := s.Snapshot()
	if snap.LastQuery != "launch" || snap.ActiveClipID != "r-001" {
		t.Fatalf("search not recorded: %q %q", snap.LastQuery, snap.ActiveClipID)
	}

	got, err = s.Search(context.Background(), "   ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if ids := rankedIDs(got); ids != "r-002,r-003,r-001" {
		t.Fatalf("empty query should list all clips in sort order, got %s", ids)
	}
}

func TestSession_SearchFallsBackToLexical(t *testing.T) {
	emb := embedderFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding backend offline")
	})
	s := newTestSession(t, readyRunner(testResult()), emb)
	_, events := s.Start(context.Background(), "in.mp4")
	drain(t, events)

	got, err := s.Search(context.Background(), "welcome")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r-002" {
		t.Fatalf("expected stub match to survive lexical-only ranking, got %+v", got)
	}

	got, err = s.Search(context.Background(), "CROWD")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r-003" || got[0].Score != ranking.DefaultOverlapBoost {
		t.Fatalf("expected transcript overlap boost, got %+v", got)
	}
}

func TestSession_LastIssuedSearchWins(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	emb := embedderFunc(func(_ context.Context, text string) ([]float32, error) {
		if text == "slow" {
			close(entered)
			<-release
		}
		return []float32{1, 0}, nil
	})
	s := newTestSession(t, readyRunner(testResult()), emb)
	_, events := s.Start(context.Background(), "in.mp4")
	drain(t, events)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Search(context.Background(), "slow")
		errc <- err
	}()
	<-entered

	if _, err := s.Search(context.Background(), "fast"); err != nil {
		t.Fatalf("latest search: %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrStaleQuery) {
		t.Fatalf("expected ErrStaleQuery, got %v", err)
	}
	if q := s.Snapshot().LastQuery; q != "fast" {
		t.Fatalf("stale search must not publish, last query = %q", q)
	}
}

func TestSession_SetSortOrder(t *testing.T) {
	s := newTestSession(t, readyRunner(testResult()), nil)
	_, events := s.Start(context.Background(), "in.mp4")
	drain(t, events)

	snap, err := s.SetSortOrder(types.SortVirality)
	if err != nil {
		t.Fatalf("set sort: %v", err)
	}
	if ids := clipIDs(snap.Clips); ids != "r-002,r-003,r-001" {
		t.Fatalf("expected stable virality order, got %s", ids)
	}
	if snap.ActiveClipID != "r-002" {
		t.Fatalf("active clip = %q", snap.ActiveClipID)
	}

	got, err := s.Search(context.Background(), "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if ids := rankedIDs(got); ids != "r-002,r-003,r-001" {
		t.Fatalf("search must follow active order, got %s", ids)
	}

	if _, err := s.SetSortOrder("random"); !errors.Is(err, ErrBadSort) {
		t.Fatalf("expected ErrBadSort, got %v", err)
	}
}

func TestSession_SetSortOrderKeepsActiveQuery(t *testing.T) {
	t.Run("single hit stays focused", func(t *testing.T) {
		s := newTestSession(t, readyRunner(testResult()), nil)
		_, events := s.Start(context.Background(), "in.mp4")
		drain(t, events)

		if _, err := s.Search(context.Background(), "crowd"); err != nil {
			t.Fatalf("search: %v", err)
		}
		snap, err := s.SetSortOrder(types.SortVirality)
		if err != nil {
			t.Fatalf("set sort: %v", err)
		}
		if snap.ActiveClipID != "r-003" {
			t.Fatalf("focus left the results: active = %q", snap.ActiveClipID)
		}
		if ids := rankedIDs(snap.Displayed()); ids != "r-003" {
			t.Fatalf("displayed = %s, want r-003", ids)
		}
	})

	t.Run("results are re-ordered", func(t *testing.T) {
		res := usecase.Result{
			Duration: 60,
			Clips: []types.Clip{
				{ID: "a", Start: 0, End: 10, ViralityScore: 10, TranscriptStub: "launch"},
				{ID: "b", Start: 20, End: 30, ViralityScore: 80, TranscriptStub: "launch crowd"},
				{ID: "c", Start: 40, End: 50, ViralityScore: 99, TranscriptStub: "outro"},
			},
		}
		s := newTestSession(t, readyRunner(res), nil)
		_, events := s.Start(context.Background(), "in.mp4")
		drain(t, events)

		got, err := s.Search(context.Background(), "launch")
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if ids := rankedIDs(got); ids != "a,b" {
			t.Fatalf("chronological results = %s", ids)
		}

		snap, err := s.SetSortOrder(types.SortVirality)
		if err != nil {
			t.Fatalf("set sort: %v", err)
		}
		if ids := rankedIDs(snap.Displayed()); ids != "b,a" {
			t.Fatalf("virality results = %s, want b,a", ids)
		}
		if snap.ActiveClipID != "b" {
			t.Fatalf("active = %q, want b", snap.ActiveClipID)
		}
		if snap.Results[0].Score != 0.5 {
			t.Fatalf("scores must survive re-ordering, got %v", snap.Results[0].Score)
		}
		if ids := clipIDs(snap.Clips); ids != "c,b,a" {
			t.Fatalf("full clip set = %s, want c,b,a", ids)
		}

		snap, err = s.SetSortOrder(types.SortChronological)
		if err != nil {
			t.Fatalf("set sort: %v", err)
		}
		if snap.ActiveClipID != "a" || rankedIDs(snap.Displayed()) != "a,b" {
			t.Fatalf("chronological again: active %q, displayed %s", snap.ActiveClipID, rankedIDs(snap.Displayed()))
		}
	})
}

func TestSession_StartClosesPreviousIndex(t *testing.T) {
	s := newTestSession(t, readyRunner(testResult()), nil)
	_, events := s.Start(context.Background(), "a.mp4")
	drain(t, events)
	first := s.Snapshot()
	if hits, err := first.Index.SearchTranscript("crowd", 5); err != nil || len(hits) != 1 {
		t.Fatalf("transcript search before restart: %v %v", hits, err)
	}

	_, events = s.Start(context.Background(), "b.mp4")
	drain(t, events)
	if _, err := first.Index.SearchTranscript("crowd", 5); !errors.Is(err, index.ErrClosed) {
		t.Fatalf("superseded index must be closed, got %v", err)
	}
	if hits, err := s.Snapshot().Index.SearchTranscript("crowd", 5); err != nil || len(hits) != 1 {
		t.Fatalf("transcript search on new run: %v %v", hits, err)
	}
}

func TestSession_ClipAtAndFocus(t *testing.T) {
	s := newTestSession(t, readyRunner(testResult()), nil)
	_, events := s.Start(context.Background(), "in.mp4")
	drain(t, events)

	c, ok := s.ClipAt(25)
	if !ok || c.ID != "r-003" {
		t.Fatalf("ClipAt(25) = %+v, %v", c, ok)
	}
	if _, ok := s.ClipAt(35); ok {
		t.Fatalf("expected no clip at 35")
	}

	if err := s.Focus("r-001"); err != nil {
		t.Fatalf("focus: %v", err)
	}
	if s.Snapshot().ActiveClipID != "r-001" {
		t.Fatalf("focus not applied")
	}
	if err := s.Focus("nope"); err == nil {
		t.Fatalf("expected error for unknown clip")
	}
}

func TestSession_Subscribe(t *testing.T) {
	s := newTestSession(t, readyRunner(testResult()), nil)
	sub, cancel := s.Subscribe()
	defer cancel()

	_, events := s.Start(context.Background(), "in.mp4")
	drain(t, events)

	var last Event
	timeout := time.After(5 * time.Second)
	for last.State != StateReady {
		select {
		case last = <-sub:
		case <-timeout:
			t.Fatalf("subscriber never saw ready")
		}
	}
}

func clipIDs(clips []types.Clip) string {
	ids := make([]string, 0, len(clips))
	for _, c := range clips {
		ids = append(ids, c.ID)
	}
	return strings.Join(ids, ",")
}

func rankedIDs(clips []types.RankedClip) string {
	ids := make([]string, 0, len(clips))
	for _, c := range clips {
		ids = append(ids, c.ID)
	}
	return strings.Join(ids, ",")
}
