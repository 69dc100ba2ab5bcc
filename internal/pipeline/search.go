package pipeline

import (
	"context"
	"fmt"

	"github.com/forPelevin/clipscout/internal/index"
	"github.com/forPelevin/clipscout/internal/ports"
	"github.com/forPelevin/clipscout/internal/ports/adapters/embedcache"
	"github.com/forPelevin/clipscout/internal/ports/adapters/openrouter"
	"github.com/forPelevin/clipscout/internal/session"
	"github.com/forPelevin/clipscout/internal/types"
	"github.com/forPelevin/clipscout/internal/usecase"
)

type SearchResult struct {
	Clips    []types.RankedClip
	Segments []index.SegmentHit
}

// manifestRunner replays a saved manifest as an already finished run.
type manifestRunner struct{ m types.Manifest }

func (r manifestRunner) Run(_ context.Context, _ usecase.Input) (usecase.Result, error) {
	clips := make([]types.Clip, 0, len(r.m.Clips))
	for _, mc := range r.m.Clips {
		c := mc.Clip
		c.Embedding = mc.Embedding
		clips = append(clips, c)
	}
	if len(clips) == 0 {
		return usecase.Result{}, usecase.ErrNoClips
	}
	return usecase.Result{Duration: r.m.Duration, Clips: clips, Transcript: r.m.Transcript}, nil
}

// Search ranks the clips of a saved manifest against query and runs a
// full-text search over its transcript. Without an API key the ranking is
// lexical-only.
func Search(ctx context.Context, cfg Config, manifestPath, query string, limit int) (SearchResult, error) {
	m, err := ReadManifest(manifestPath)
	if err != nil {
		return SearchResult{}, err
	}
	if cfg.SortOrder == "" {
		cfg.SortOrder = m.SortOrder
	}

	emb, closeEmb, err := queryEmbedder(cfg)
	if err != nil {
		return SearchResult{}, err
	}
	defer closeEmb()

	s := newSession(cfg, manifestRunner{m: m}, emb)
	defer s.Close()

	_, events := s.Start(ctx, m.Input)
	for range events {
	}
	snap := s.Snapshot()
	if snap.State != session.StateReady {
		return SearchResult{}, fmt.Errorf("load manifest: %w", snap.Err)
	}

	clips, err := s.Search(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}
	if limit > 0 && len(clips) > limit {
		clips = clips[:limit]
	}
	segs, err := snap.Index.SearchTranscript(query, limit)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Clips: clips, Segments: segs}, nil
}

func queryEmbedder(cfg Config) (ports.Embedder, func() error, error) {
	noop := func() error { return nil }
	if cfg.OpenRouterAPIKey == "" {
		cfg.Logger.Warn().Msg("no OpenRouter API key; search is lexical-only")
		return nil, noop, nil
	}
	if err := openrouter.ValidateBaseURL(cfg.OpenRouterBaseURL, cfg.OpenRouterAllowedHosts); err != nil {
		return nil, noop, err
	}
	llm := openrouter.New(openrouter.Options{
		APIKey:     cfg.OpenRouterAPIKey,
		EmbedModel: cfg.EmbedModel,
		BaseURL:    cfg.OpenRouterBaseURL,
		Timeout:    cfg.OpenRouterTimeout,
	})
	if cfg.EmbedCachePath == "" {
		return llm, noop, nil
	}
	c, err := embedcache.Open(cfg.EmbedCachePath, llm, llm.EmbedModel(), cfg.Metrics)
	if err != nil {
		return nil, noop, fmt.Errorf("open embedding cache: %w", err)
	}
	return c, c.Close, nil
}
