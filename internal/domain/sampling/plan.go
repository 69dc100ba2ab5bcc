package sampling

import (
	"errors"
	"math"
)

// Plan returns frame timestamps covering [0, duration) with at most maxFrames
// entries. The spacing widens past baseInterval when the video is too long to
// fit maxFrames samples at the base rate, so coverage always spans the whole
// duration instead of stopping after the first maxFrames*baseInterval seconds.
func Plan(duration, baseInterval float64, maxFrames int) ([]float64, error) {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil, errors.New("sampling: duration must be > 0")
	}
	if maxFrames <= 0 {
		return nil, errors.New("sampling: max frames must be > 0")
	}
	if math.IsInf(baseInterval, 1) {
		return nil, errors.New("sampling: base interval must be finite")
	}
	if baseInterval < 0 || math.IsNaN(baseInterval) {
		baseInterval = 0
	}

	needed := duration / float64(maxFrames)
	step := math.Max(baseInterval, needed)

	out := make([]float64, 0, min(maxFrames, int(duration/step)+1))
	// Multiply instead of accumulating so float drift cannot add an extra sample.
	for i := 0; i < maxFrames; i++ {
		t := float64(i) * step
		if t >= duration {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
