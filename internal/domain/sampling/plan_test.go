package sampling

import (
	"math"
	"testing"
)

func TestPlan_Bounds(t *testing.T) {
	tests := []struct {
		name      string
		duration  float64
		base      float64
		maxFrames int
		wantLen   int
	}{
		{"short video one sample", 1.5, 2, 60, 1},
		{"duration equals base", 2, 2, 60, 1},
		{"base rate fits", 20, 2, 60, 10},
		{"long video widens step", 3600, 2, 60, 60},
		{"single frame budget", 100, 1, 1, 1},
		{"zero base uses budget", 10, 0, 4, 4},
		{"fractional tail", 7.1, 2, 60, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.duration, tt.base, tt.maxFrames)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d (%v)", len(got), tt.wantLen, got)
			}
			if len(got) > tt.maxFrames {
				t.Fatalf("exceeded max frames: %d > %d", len(got), tt.maxFrames)
			}
			if got[0] != 0 {
				t.Fatalf("first sample must be 0, got %v", got[0])
			}
			for i, ts := range got {
				if ts < 0 || ts >= tt.duration {
					t.Fatalf("sample %d out of range: %v", i, ts)
				}
				if i > 0 && ts <= got[i-1] {
					t.Fatalf("samples not strictly increasing at %d: %v", i, got)
				}
			}
		})
	}
}

func TestPlan_LongVideoCoversTail(t *testing.T) {
	got, err := Plan(3600, 2, 60)
	if err != nil {
		t.Fatal(err)
	}
	last := got[len(got)-1]
	if last < 3500 {
		t.Fatalf("expected sampling to reach the end of the video, last=%v", last)
	}
}

func TestPlan_PropertySweep(t *testing.T) {
	for _, d := range []float64{0.01, 0.5, 1, 3.3, 59.9, 61, 600, 7200.25} {
		for _, mf := range []int{1, 2, 7, 60, 500} {
			got, err := Plan(d, 2, mf)
			if err != nil {
				t.Fatalf("Plan(%v, 2, %d): %v", d, mf, err)
			}
			if len(got) == 0 || len(got) > mf {
				t.Fatalf("Plan(%v, 2, %d) returned %d samples", d, mf, len(got))
			}
			for i := range got {
				if got[i] < 0 || got[i] >= d {
					t.Fatalf("Plan(%v, 2, %d) sample out of range: %v", d, mf, got[i])
				}
				if i > 0 && got[i] <= got[i-1] {
					t.Fatalf("Plan(%v, 2, %d) not increasing: %v", d, mf, got)
				}
			}
		}
	}
}

func TestPlan_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		duration  float64
		base      float64
		maxFrames int
	}{
		{"zero duration", 0, 2, 10},
		{"nan duration", math.NaN(), 2, 10},
		{"infinite duration", math.Inf(1), 2, 10},
		{"zero max frames", 10, 2, 0},
		{"infinite interval", 30, math.Inf(1), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.duration, tt.base, tt.maxFrames)
			if err == nil {
				t.Fatalf("expected error, got %v", got)
			}
		})
	}
}

func TestPlan_DegenerateIntervalsFallBackToEvenSpacing(t *testing.T) {
	for _, base := range []float64{-1, math.NaN(), math.Inf(-1)} {
		got, err := Plan(30, base, 10)
		if err != nil {
			t.Fatalf("base %v: %v", base, err)
		}
		if len(got) != 10 {
			t.Fatalf("base %v: got %d timestamps", base, len(got))
		}
		for _, ts := range got {
			if math.IsNaN(ts) || ts < 0 || ts >= 30 {
				t.Fatalf("base %v: timestamp %v outside [0, 30)", base, ts)
			}
		}
	}
}
