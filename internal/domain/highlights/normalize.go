package highlights

import (
	"fmt"
	"math"
	"strings"

	"github.com/forPelevin/clipscout/internal/types"
)

// Normalize turns backend clip candidates into publishable clips for a video
// of the given duration. Bounds are clamped into [0, duration]; candidates
// that collapse to an empty or inverted span are dropped. Surviving clips keep
// the backend's order and receive ids "<runTag>-001", "<runTag>-002", ...
func Normalize(raw []types.RawClip, duration float64, runTag string) []types.Clip {
	out := make([]types.Clip, 0, len(raw))
	for _, rc := range raw {
		if math.IsNaN(rc.StartSec) || math.IsNaN(rc.EndSec) {
			continue
		}
		st := clamp(rc.StartSec, 0, duration)
		en := clamp(rc.EndSec, 0, duration)
		if st >= en {
			continue
		}

		title := strings.TrimSpace(rc.Title)
		if title == "" {
			title = "Highlight"
		}
		tags := make([]string, 0, len(rc.Tags))
		for _, tg := range rc.Tags {
			if tg = strings.TrimSpace(tg); tg != "" {
				tags = append(tags, tg)
			}
		}

		out = append(out, types.Clip{
			ID:             fmt.Sprintf("%s-%03d", runTag, len(out)+1),
			Start:          st,
			End:            en,
			Title:          title,
			Summary:        strings.TrimSpace(rc.Summary),
			ViralityScore:  int(clamp(float64(rc.ViralityScore), 0, 100)),
			Reasoning:      strings.TrimSpace(rc.Reasoning),
			Tags:           tags,
			TranscriptStub: strings.TrimSpace(rc.TranscriptStub),
		})
	}
	return out
}

// Descriptor is the text embedded for a clip: title, summary, tags, reasoning.
func Descriptor(c types.Clip) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{c.Title, c.Summary, strings.Join(c.Tags, ", "), c.Reasoning} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ". ")
}

func clamp(x, a, b float64) float64 {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}
