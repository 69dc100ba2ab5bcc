package ports

import (
	"context"

	"github.com/forPelevin/clipscout/internal/types"
)

type VideoTool interface {
	ProbeDuration(ctx context.Context, inMP4 string) (float64, error)
	SampleFrames(ctx context.Context, inMP4 string, timestamps []float64) ([]types.Frame, error)
	ExtractAudioMono16k(ctx context.Context, inMP4, outWav string) error
	TrimClip(ctx context.Context, inMP4 string, start, end float64, outMP4 string, burnASS string) error
}

type ASR interface {
	Transcribe(ctx context.Context, wavPath, cacheDir string) ([]types.Segment, error)
}

type VisualAnalyzer interface {
	AnalyzeVisual(ctx context.Context, frames []types.Frame, duration float64) ([]types.RawClip, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
