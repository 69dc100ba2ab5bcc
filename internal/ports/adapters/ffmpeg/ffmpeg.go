package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/forPelevin/clipscout/internal/types"
)

// frameWidth keeps sampled stills small enough to batch into one backend request.
const frameWidth = 640

type Adapter struct {
	ffmpeg  string
	ffprobe string
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

func (a *Adapter) ProbeDuration(ctx context.Context, inMP4 string) (float64, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inMP4,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, string(b))
	}
	return parseDuration(string(b))
}

// SampleFrames grabs one JPEG still per timestamp. Any failed grab fails the
// whole call; a partial frame set would skew visual analysis.
func (a *Adapter) SampleFrames(ctx context.Context, inMP4 string, timestamps []float64) ([]types.Frame, error) {
	out := make([]types.Frame, 0, len(timestamps))
	for _, ts := range timestamps {
		img, err := a.grabFrame(ctx, inMP4, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Frame{Timestamp: ts, Image: img})
	}
	return out, nil
}

func (a *Adapter) grabFrame(ctx context.Context, inMP4 string, ts float64) ([]byte, error) {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-v", "error",
		"-ss", fmtSeconds(ts),
		"-i", inMP4,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", frameWidth),
		"-q:v", "4",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg sample frame at %ss: %w\n%s", fmtSeconds(ts), err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg sample frame at %ss: empty output", fmtSeconds(ts))
	}
	return stdout.Bytes(), nil
}

func (a *Adapter) ExtractAudioMono16k(ctx context.Context, inMP4, outWav string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-i", inMP4,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outWav,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w\n%s", err, string(b))
	}
	return nil
}

// TrimClip re-encodes [start, end) of inMP4 into outMP4, burning burnASS
// subtitles when a path is given.
func (a *Adapter) TrimClip(ctx context.Context, inMP4 string, start, end float64, outMP4 string, burnASS string) error {
	if end <= start {
		return fmt.Errorf("ffmpeg trim clip: empty range %s-%s", fmtSeconds(start), fmtSeconds(end))
	}
	args := []string{
		"-y",
		"-ss", fmtSeconds(start),
		"-to", fmtSeconds(end),
		"-i", inMP4,
	}
	if burnASS != "" {
		args = append(args, "-vf", "subtitles="+escapeFilterPath(burnASS))
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-c:a", "aac",
		"-b:a", "192k",
		outMP4,
	)
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg trim clip: %w\n%s", err, string(b))
	}
	return nil
}

func parseDuration(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if sec <= 0 {
		return 0, fmt.Errorf("parse duration %q: must be > 0", s)
	}
	return sec, nil
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	return p
}
