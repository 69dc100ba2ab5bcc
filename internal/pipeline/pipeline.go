package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/forPelevin/clipscout/internal/config"
	"github.com/forPelevin/clipscout/internal/domain/ranking"
	"github.com/forPelevin/clipscout/internal/logging"
	"github.com/forPelevin/clipscout/internal/metrics"
	"github.com/forPelevin/clipscout/internal/ports"
	"github.com/forPelevin/clipscout/internal/ports/adapters/embedcache"
	"github.com/forPelevin/clipscout/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/clipscout/internal/ports/adapters/openrouter"
	"github.com/forPelevin/clipscout/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/clipscout/internal/session"
	"github.com/forPelevin/clipscout/internal/types"
	"github.com/forPelevin/clipscout/internal/usecase"
)

type Config struct {
	InputMP4  string
	OutDir    string
	Query     string
	SortOrder types.SortOrder

	// CacheDir is the base directory for local artifacts (audio, transcripts, etc.).
	// If empty, defaults to ".cache".
	CacheDir string

	BaseInterval float64
	MaxFrames    int

	EmbedModel       string
	EmbedConcurrency int
	EmbedTimeout     time.Duration
	// EmbedCachePath enables the SQLite embedding cache when set.
	EmbedCachePath string

	Ranking ranking.Options

	FFmpegPath  string
	FFprobePath string

	WhisperBin   string
	WhisperModel string

	OpenRouterAPIKey       string
	OpenRouterModel        string
	OpenRouterBaseURL      string
	OpenRouterAllowedHosts []string
	OpenRouterTimeout      time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// FromConfig maps the layered application config onto a pipeline config.
func FromConfig(c *config.Config) Config {
	return Config{
		OutDir:                 c.OutDir,
		CacheDir:               c.CacheDir,
		SortOrder:              types.SortChronological,
		BaseInterval:           c.Sampling.BaseIntervalSec,
		MaxFrames:              c.Sampling.MaxFrames,
		EmbedModel:             c.Embedding.Model,
		EmbedConcurrency:       c.Embedding.Concurrency,
		EmbedTimeout:           c.Embedding.Timeout,
		EmbedCachePath:         c.Embedding.CachePath,
		Ranking:                ranking.Options{OverlapBoost: c.Ranking.OverlapBoost, Threshold: c.Ranking.Threshold},
		FFmpegPath:             c.FFmpeg.FFmpegPath,
		FFprobePath:            c.FFmpeg.FFprobePath,
		WhisperBin:             c.Whisper.Bin,
		WhisperModel:           c.Whisper.Model,
		OpenRouterAPIKey:       c.OpenRouter.APIKey,
		OpenRouterModel:        c.OpenRouter.Model,
		OpenRouterBaseURL:      c.OpenRouter.BaseURL,
		OpenRouterAllowedHosts: c.OpenRouter.AllowedHosts,
		OpenRouterTimeout:      c.OpenRouter.Timeout,
	}
}

// Validate checks the engine settings. The input file is checked by Run.
func (c Config) Validate() error {
	if c.MaxFrames <= 0 {
		return fmt.Errorf("max frames must be > 0")
	}
	if c.BaseInterval < 0 || math.IsNaN(c.BaseInterval) || math.IsInf(c.BaseInterval, 0) {
		return fmt.Errorf("base interval must be a finite number >= 0")
	}
	if c.EmbedConcurrency <= 0 {
		return fmt.Errorf("embed concurrency must be > 0")
	}
	if c.SortOrder != "" && !c.SortOrder.Valid() {
		return fmt.Errorf("unknown sort order %q", c.SortOrder)
	}
	if c.WhisperModel == "" {
		return fmt.Errorf("whisper model path is required")
	}
	return openrouter.ValidateBaseURL(
		c.OpenRouterBaseURL,
		c.OpenRouterAllowedHosts,
	)
}

func validateInput(path string) error {
	if path == "" {
		return errors.New("input is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	return nil
}

// Engine is the wired set of adapters plus the live session.
type Engine struct {
	Session *session.Session
	Video   ports.VideoTool

	embedder ports.Embedder
	cache    *embedcache.Cache
}

// NewEngine wires the ffmpeg, whisper.cpp and OpenRouter adapters behind a
// session. When EmbedCachePath is set, clip and query embeddings go through
// the SQLite cache.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// adapters
	v := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath)
	asr := whispercpp.New(cfg.WhisperBin, cfg.WhisperModel)
	llm := openrouter.New(openrouter.Options{
		APIKey:     cfg.OpenRouterAPIKey,
		Model:      cfg.OpenRouterModel,
		EmbedModel: cfg.EmbedModel,
		BaseURL:    cfg.OpenRouterBaseURL,
		Timeout:    cfg.OpenRouterTimeout,
	})

	e := &Engine{Video: v, embedder: llm}
	if cfg.EmbedCachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.EmbedCachePath), 0o755); err != nil {
			return nil, err
		}
		c, err := embedcache.Open(cfg.EmbedCachePath, llm, llm.EmbedModel(), cfg.Metrics)
		if err != nil {
			return nil, err
		}
		e.cache = c
		e.embedder = c
	}

	uc := usecase.New(usecase.Deps{
		Video:    v,
		ASR:      asr,
		Analyzer: llm,
		Embedder: e.embedder,
		Logger:   logging.WithComponent(cfg.Logger, "usecase"),
		Metrics:  cfg.Metrics,
	})
	e.Session = newSession(cfg, uc, e.embedder)
	return e, nil
}

func newSession(cfg Config, r session.Runner, emb ports.Embedder) *session.Session {
	baseCache := cfg.CacheDir
	if baseCache == "" {
		baseCache = ".cache"
	}
	return session.New(session.Deps{
		Runner:   r,
		Embedder: emb,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	}, session.Options{
		CacheDir:         filepath.Join(baseCache, "runs"),
		BaseInterval:     cfg.BaseInterval,
		MaxFrames:        cfg.MaxFrames,
		EmbedConcurrency: cfg.EmbedConcurrency,
		EmbedTimeout:     cfg.EmbedTimeout,
		Ranking:          cfg.Ranking,
		SortOrder:        cfg.SortOrder,
	})
}

func (e *Engine) Close() error {
	err := e.Session.Close()
	if e.cache != nil {
		err = errors.Join(err, e.cache.Close())
	}
	return err
}

type Result struct {
	Manifest     types.Manifest
	ManifestPath string
}

// Run analyses cfg.InputMP4 to completion, optionally ranks cfg.Query, and
// writes manifest.json into a fresh per-run output directory.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if err := validateInput(cfg.InputMP4); err != nil {
		return Result{}, err
	}
	e, err := NewEngine(cfg)
	if err != nil {
		return Result{}, err
	}
	defer e.Close()
	return analyze(ctx, cfg, e.Session)
}

func analyze(ctx context.Context, cfg Config, s *session.Session) (Result, error) {
	log := cfg.Logger

	outDir := cfg.OutDir
	if outDir == "" {
		outDir = "out"
	}
	runOutDir := buildRunOutDir(outDir, cfg.InputMP4, time.Now().UTC())
	if err := os.MkdirAll(runOutDir, 0o755); err != nil {
		return Result{}, err
	}
	log.Info().Str("dir", runOutDir).Msg("output run dir")

	_, events := s.Start(ctx, cfg.InputMP4)
	var stage session.State
	for ev := range events {
		if ev.State != stage {
			stage = ev.State
			log.Info().Str("stage", string(stage)).Msg("stage")
		}
	}

	snap := s.Snapshot()
	if snap.State != session.StateReady {
		if snap.Err != nil {
			return Result{}, snap.Err
		}
		return Result{}, fmt.Errorf("run ended in state %s", snap.State)
	}

	var results []types.RankedClip
	if strings.TrimSpace(cfg.Query) != "" {
		var err error
		results, err = s.Search(ctx, cfg.Query)
		if err != nil {
			return Result{}, err
		}
		log.Info().Str("query", cfg.Query).Int("matches", len(results)).Msg("query ranked")
	}

	m := buildManifest(s.Snapshot(), results, time.Now().UTC())
	return writeManifest(runOutDir, m, log)
}

func writeManifest(runOutDir string, m types.Manifest, log zerolog.Logger) (Result, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestPath := filepath.Join(runOutDir, "manifest.json")
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return Result{}, err
	}
	log.Info().Int("clips", len(m.Clips)).Str("path", manifestPath).Msg("manifest written")
	return Result{Manifest: m, ManifestPath: manifestPath}, nil
}

func buildManifest(snap *session.Snapshot, results []types.RankedClip, now time.Time) types.Manifest {
	m := types.Manifest{
		Input:     snap.VideoPath,
		SessionID: snap.SessionID,
		Duration:  snap.Index.Duration(),
		CreatedAt: now,
		SortOrder: snap.SortOrder,
		Query:     snap.LastQuery,
	}
	// Analysis order, so a replayed index resolves overlaps the same way.
	for _, c := range snap.Index.All() {
		m.Clips = append(m.Clips, types.ManifestClip{
			Clip:      c,
			Embedded:  c.HasEmbedding(),
			Embedding: c.Embedding,
		})
	}
	for _, r := range results {
		m.Results = append(m.Results, types.ManifestMatch{ID: r.ID, Score: r.Score})
	}
	m.Transcript = snap.Index.Transcript()
	return m
}

// ReadManifest loads a manifest written by Run.
func ReadManifest(path string) (types.Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return types.Manifest{}, err
	}
	var m types.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return types.Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, nil
}

func buildRunOutDir(outRoot, inputMP4 string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(inputMP4), filepath.Ext(inputMP4))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", inputMP4, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var _ ports.VideoTool = (*ffmpeg.Adapter)(nil)
var _ ports.ASR = (*whispercpp.Adapter)(nil)
var _ ports.VisualAnalyzer = (*openrouter.Adapter)(nil)
var _ ports.Embedder = (*openrouter.Adapter)(nil)
var _ ports.Embedder = (*embedcache.Cache)(nil)
