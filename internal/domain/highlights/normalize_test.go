package highlights

import (
	"strings"
	"testing"

	"github.com/forPelevin/clipscout/internal/types"
)

func TestNormalize_ClampsBounds(t *testing.T) {
	raw := []types.RawClip{{StartSec: -5, EndSec: 220, Title: "t", ViralityScore: 140}}
	got := Normalize(raw, 120, "run")
	if len(got) != 1 {
		t.Fatalf("expected 1 clip, got %d", len(got))
	}
	if got[0].Start != 0 || got[0].End != 120 {
		t.Fatalf("unexpected bounds: %v -> %v", got[0].Start, got[0].End)
	}
	if got[0].ViralityScore != 100 {
		t.Fatalf("expected virality clamped to 100, got %d", got[0].ViralityScore)
	}
}

func TestNormalize_DropsEmptySpans(t *testing.T) {
	raw := []types.RawClip{
		{StartSec: 10, EndSec: 10, Title: "zero"},
		{StartSec: 30, EndSec: 20, Title: "inverted"},
		{StartSec: 130, EndSec: 150, Title: "past end"},
		{StartSec: 5, EndSec: 15, Title: "ok"},
	}
	got := Normalize(raw, 120, "run")
	if len(got) != 1 {
		t.Fatalf("expected only the valid clip, got %d: %+v", len(got), got)
	}
	if got[0].Title != "ok" || got[0].ID != "run-001" {
		t.Fatalf("unexpected clip: %+v", got[0])
	}
}

func TestNormalize_PreservesOrderAndIDs(t *testing.T) {
	raw := []types.RawClip{
		{StartSec: 50, EndSec: 60, Title: "b"},
		{StartSec: 0, EndSec: 10, Title: "a", Tags: []string{" x ", "", "y"}},
	}
	got := Normalize(raw, 100, "1700000000000")
	if got[0].Title != "b" || got[1].Title != "a" {
		t.Fatalf("backend order not preserved: %+v", got)
	}
	if got[1].ID != "1700000000000-002" {
		t.Fatalf("unexpected id: %s", got[1].ID)
	}
	if strings.Join(got[1].Tags, ",") != "x,y" {
		t.Fatalf("unexpected tags: %v", got[1].Tags)
	}
}

func TestDescriptor(t *testing.T) {
	c := types.Clip{Title: "Launch", Summary: "Rocket lifts off", Tags: []string{"space", "nasa"}, Reasoning: "big moment"}
	got := Descriptor(c)
	want := "Launch. Rocket lifts off. space, nasa. big moment"
	if got != want {
		t.Fatalf("Descriptor = %q, want %q", got, want)
	}
	if Descriptor(types.Clip{Title: "only"}) != "only" {
		t.Fatalf("expected empty parts to be skipped")
	}
}
