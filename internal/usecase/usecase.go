package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/clipscout/internal/domain/highlights"
	"github.com/forPelevin/clipscout/internal/domain/sampling"
	"github.com/forPelevin/clipscout/internal/metrics"
	"github.com/forPelevin/clipscout/internal/ports"
	"github.com/forPelevin/clipscout/internal/types"
)

type Stage string

const (
	StageSampling       Stage = "sampling"
	StageVisualAnalysis Stage = "visual_analysis"
	StageTranscribing   Stage = "transcribing"
	StageEmbedding      Stage = "embedding"
)

var (
	ErrSampling       = errors.New("sampling failed")
	ErrVisualAnalysis = errors.New("visual analysis failed")
	// ErrNoClips is reported when visual analysis yields nothing publishable.
	ErrNoClips = errors.New("no clips in visual analysis response")
)

// PipelineError is a fatal stage failure. It matches ErrSampling or
// ErrVisualAnalysis with errors.Is, and unwraps to the underlying cause.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func (e *PipelineError) Is(target error) bool {
	switch target {
	case ErrSampling:
		return e.Stage == StageSampling
	case ErrVisualAnalysis:
		return e.Stage == StageVisualAnalysis
	}
	return false
}

// ProgressFunc receives (stage, percent) after each unit of work. Percent
// starts at 0 for every stage and never decreases within it.
type ProgressFunc func(stage Stage, percent float64)

type Deps struct {
	Video    ports.VideoTool
	ASR      ports.ASR
	Analyzer ports.VisualAnalyzer
	Embedder ports.Embedder
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase { return Usecase{d: d} }

type Input struct {
	VideoPath string
	CacheDir  string
	// RunTag prefixes clip ids so they stay unique across runs.
	RunTag string

	BaseInterval float64
	MaxFrames    int

	EmbedConcurrency int
	EmbedTimeout     time.Duration

	Progress ProgressFunc
}

type Result struct {
	Duration float64
	// Clips are in visual-analysis order.
	Clips      []types.Clip
	Transcript []types.Segment

	TranscriptErr  error
	EmbedFailures  int
	FramesAnalyzed int
}

const frameBatch = 8

// Run samples, analyses, transcribes and embeds one video. Sampling and visual
// analysis failures abort with a *PipelineError; transcription and per-clip
// embedding failures are logged and absorbed into Result.
func (u Usecase) Run(ctx context.Context, in Input) (Result, error) {
	report := in.Progress
	if report == nil {
		report = func(Stage, float64) {}
	}
	log := u.d.Logger.With().Str("video", in.VideoPath).Str("run", in.RunTag).Logger()

	var res Result

	// sampling
	t0 := time.Now()
	report(StageSampling, 0)
	log.Info().Msg("sampling frames")
	duration, frames, err := u.sample(ctx, in, report)
	if err != nil {
		return Result{}, &PipelineError{Stage: StageSampling, Err: err}
	}
	res.Duration = duration
	res.FramesAnalyzed = len(frames)
	u.d.Metrics.ObserveStage(string(StageSampling), time.Since(t0).Seconds())

	// visual analysis
	t0 = time.Now()
	report(StageVisualAnalysis, 0)
	log.Info().Int("frames", len(frames)).Float64("duration", duration).Msg("analyzing frames")
	raw, err := u.d.Analyzer.AnalyzeVisual(ctx, frames, duration)
	if err != nil {
		return Result{}, &PipelineError{Stage: StageVisualAnalysis, Err: err}
	}
	clips := highlights.Normalize(raw, duration, in.RunTag)
	if len(clips) == 0 {
		return Result{}, &PipelineError{Stage: StageVisualAnalysis, Err: ErrNoClips}
	}
	if dropped := len(raw) - len(clips); dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("dropped empty clip spans")
	}
	report(StageVisualAnalysis, 100)
	u.d.Metrics.ObserveStage(string(StageVisualAnalysis), time.Since(t0).Seconds())

	// transcribing
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	t0 = time.Now()
	report(StageTranscribing, 0)
	log.Info().Msg("transcribing audio")
	res.Transcript, res.TranscriptErr = u.transcribe(ctx, in, report)
	if res.TranscriptErr != nil {
		log.Warn().Err(res.TranscriptErr).Msg("transcription failed; continuing without transcript")
		u.d.Metrics.EnrichmentFailed("transcription")
		res.Transcript = nil
	}
	report(StageTranscribing, 100)
	u.d.Metrics.ObserveStage(string(StageTranscribing), time.Since(t0).Seconds())

	// embedding
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	t0 = time.Now()
	report(StageEmbedding, 0)
	log.Info().Int("clips", len(clips)).Msg("embedding clip descriptors")
	res.EmbedFailures = u.embed(ctx, in, clips, report, log)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	u.d.Metrics.ObserveStage(string(StageEmbedding), time.Since(t0).Seconds())

	res.Clips = clips
	return res, nil
}

func (u Usecase) sample(ctx context.Context, in Input, report ProgressFunc) (float64, []types.Frame, error) {
	duration, err := u.d.Video.ProbeDuration(ctx, in.VideoPath)
	if err != nil {
		return 0, nil, fmt.Errorf("probe duration: %w", err)
	}
	plan, err := sampling.Plan(duration, in.BaseInterval, in.MaxFrames)
	if err != nil {
		return 0, nil, err
	}

	frames := make([]types.Frame, 0, len(plan))
	for i := 0; i < len(plan); i += frameBatch {
		j := min(i+frameBatch, len(plan))
		got, err := u.d.Video.SampleFrames(ctx, in.VideoPath, plan[i:j])
		if err != nil {
			return 0, nil, fmt.Errorf("sample frames: %w", err)
		}
		frames = append(frames, got...)
		report(StageSampling, percent(j, len(plan)))
	}
	if len(frames) == 0 {
		return 0, nil, errors.New("no frames captured")
	}
	return duration, frames, nil
}

func (u Usecase) transcribe(ctx context.Context, in Input, report ProgressFunc) ([]types.Segment, error) {
	if err := os.MkdirAll(in.CacheDir, 0o755); err != nil {
		return nil, err
	}
	wav := filepath.Join(in.CacheDir, "audio.wav")
	if err := u.d.Video.ExtractAudioMono16k(ctx, in.VideoPath, wav); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	report(StageTranscribing, 50)
	return u.d.ASR.Transcribe(ctx, wav, in.CacheDir)
}

// embed fills clips[i].Embedding in place and returns the number of clips
// left without a vector. Each call gets its own timeout; failures stay local
// to their clip.
func (u Usecase) embed(ctx context.Context, in Input, clips []types.Clip, report ProgressFunc, log zerolog.Logger) int {
	limit := in.EmbedConcurrency
	if limit <= 0 {
		limit = 1
	}
	timeout := in.EmbedTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var (
		mu     sync.Mutex
		done   int
		failed int
	)
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range clips {
		i := i
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			vec, err := u.d.Embedder.Embed(callCtx, highlights.Descriptor(clips[i]))
			cancel()
			if err == nil && len(vec) == 0 {
				err = errors.New("empty embedding")
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Warn().Err(err).Str("clip", clips[i].ID).Msg("embedding failed; clip stays lexical-only")
				u.d.Metrics.EnrichmentFailed("embedding")
			} else {
				clips[i].Embedding = vec
			}
			done++
			report(StageEmbedding, percent(done, len(clips)))
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}
