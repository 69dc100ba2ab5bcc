package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/forPelevin/clipscout/internal/domain/subtitles"
	"github.com/forPelevin/clipscout/internal/ports"
	"github.com/forPelevin/clipscout/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/clipscout/internal/types"
)

type ExportConfig struct {
	ManifestPath string
	ClipID       string
	// OutPath defaults to clips/<id>.mp4 next to the manifest.
	OutPath       string
	BurnSubtitles bool

	FFmpegPath  string
	FFprobePath string

	Logger zerolog.Logger
}

func (c ExportConfig) Validate() error {
	if c.ManifestPath == "" {
		return errors.New("manifest path is required")
	}
	if c.ClipID == "" {
		return errors.New("clip id is required")
	}
	return nil
}

// Export trims one clip of an analysed video into its own file and returns
// the written path. Session state is never touched.
func Export(ctx context.Context, cfg ExportConfig) (string, error) {
	return export(ctx, ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath), cfg)
}

func export(ctx context.Context, video ports.VideoTool, cfg ExportConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	m, err := ReadManifest(cfg.ManifestPath)
	if err != nil {
		return "", err
	}
	clip, ok := findClip(m, cfg.ClipID)
	if !ok {
		return "", fmt.Errorf("clip %q not in manifest", cfg.ClipID)
	}

	runDir := filepath.Dir(cfg.ManifestPath)
	outPath := cfg.OutPath
	if outPath == "" {
		outPath = filepath.Join(runDir, "clips", clip.ID+".mp4")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}

	burnASS := ""
	if cfg.BurnSubtitles {
		ass, err := subtitles.RenderClipASS(m.Transcript, clip.Start, clip.End)
		switch {
		case errors.Is(err, subtitles.ErrNoSpeech):
			cfg.Logger.Warn().Str("clip", clip.ID).Msg("no speech inside clip; exporting without subtitles")
		case err != nil:
			return "", err
		default:
			burnASS = filepath.Join(runDir, "subtitles", clip.ID+".ass")
			if err := os.MkdirAll(filepath.Dir(burnASS), 0o755); err != nil {
				return "", err
			}
			if err := os.WriteFile(burnASS, []byte(ass), 0o644); err != nil {
				return "", err
			}
		}
	}

	cfg.Logger.Info().
		Str("clip", clip.ID).
		Float64("start", clip.Start).
		Float64("end", clip.End).
		Bool("subtitles", burnASS != "").
		Msg("exporting clip")
	if err := video.TrimClip(ctx, m.Input, clip.Start, clip.End, outPath, burnASS); err != nil {
		return "", fmt.Errorf("export clip %s: %w", clip.ID, err)
	}
	return outPath, nil
}

func findClip(m types.Manifest, id string) (types.Clip, bool) {
	for _, mc := range m.Clips {
		if mc.ID == id {
			return mc.Clip, true
		}
	}
	return types.Clip{}, false
}
