package scenes

import (
	"math"
	"testing"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

func bounds(scenes []timeline.Scene) [][2]float64 {
	out := make([][2]float64, len(scenes))
	for i, s := range scenes {
		out[i] = [2]float64{s.Interval.Start(), s.Interval.End()}
	}
	return out
}

func assertCoverage(t *testing.T, scenes []timeline.Scene, end float64) {
	t.Helper()
	if len(scenes) == 0 {
		t.Fatal("no scenes")
	}
	if scenes[0].Interval.Start() != 0 {
		t.Fatalf("first scene starts at %v, want 0", scenes[0].Interval.Start())
	}
	for i := 0; i+1 < len(scenes); i++ {
		if scenes[i].Interval.End() != scenes[i+1].Interval.Start() {
			t.Fatalf("scene %d ends at %v but scene %d starts at %v", i, scenes[i].Interval.End(), i+1, scenes[i+1].Interval.Start())
		}
	}
	for i, s := range scenes {
		if s.Index != i {
			t.Fatalf("scene at position %d has index %d", i, s.Index)
		}
	}
	if got := scenes[len(scenes)-1].Interval.End(); got != end {
		t.Fatalf("last scene ends at %v, want %v", got, end)
	}
}

func TestCanonicalize_EmptyKnownDuration(t *testing.T) {
	scenes, report := Canonicalize(nil, 42.5, DefaultOptions())
	if len(scenes) != 1 {
		t.Fatalf("got %d scenes, want 1", len(scenes))
	}
	assertCoverage(t, scenes, 42.5)
	if report.Leading {
		t.Error("report.Leading = true for empty input")
	}
}

func TestCanonicalize_EmptyUnknownDuration(t *testing.T) {
	scenes, _ := Canonicalize(nil, 0, DefaultOptions())
	if len(scenes) != 1 {
		t.Fatalf("got %d scenes, want 1", len(scenes))
	}
	if !scenes[0].Interval.OpenEnded() {
		t.Fatalf("scene = %v, want open-ended", scenes[0].Interval)
	}
}

func TestCanonicalize_LeadingGap(t *testing.T) {
	raw := []timeline.Span{{Start: 2.5, End: 6}, {Start: 6, End: 10}}
	scenes, report := Canonicalize(raw, 10, DefaultOptions())

	want := [][2]float64{{0, 2.5}, {2.5, 6}, {6, 10}}
	got := bounds(scenes)
	if len(got) != len(want) {
		t.Fatalf("bounds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bounds = %v, want %v", got, want)
		}
	}
	if !report.Leading {
		t.Error("report.Leading = false, want true")
	}
	assertCoverage(t, scenes, 10)
}

func TestCanonicalize_ShortLeadInAbsorbed(t *testing.T) {
	raw := []timeline.Span{{Start: 0.6, End: 4}, {Start: 4, End: 9}}
	scenes, report := Canonicalize(raw, 9, DefaultOptions())

	if len(scenes) != 2 {
		t.Fatalf("got %d scenes (%v), want 2", len(scenes), bounds(scenes))
	}
	if report.Leading {
		t.Error("report.Leading = true for a lead-in within the leniency")
	}
	assertCoverage(t, scenes, 9)
}

func TestCanonicalize_LeadingGapIsTunable(t *testing.T) {
	raw := []timeline.Span{{Start: 2.5, End: 10}}
	scenes, _ := Canonicalize(raw, 10, Options{LeadingGap: 3})
	if len(scenes) != 1 {
		t.Fatalf("got %d scenes, want 1 with a 3s leniency", len(scenes))
	}
}

func TestCanonicalize_UnsortedOverlapping(t *testing.T) {
	raw := []timeline.Span{
		{Start: 10, End: 20},
		{Start: 0, End: 12},
		{Start: 5, End: 11},
	}
	scenes, report := Canonicalize(raw, 20, DefaultOptions())

	want := [][2]float64{{0, 5}, {5, 10}, {10, 20}}
	got := bounds(scenes)
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("bounds = %v, want %v", got, want)
		}
	}
	if !report.Reordered {
		t.Error("report.Reordered = false, want true")
	}
	assertCoverage(t, scenes, 20)
}

func TestCanonicalize_GapsAreClosed(t *testing.T) {
	raw := []timeline.Span{{Start: 0, End: 3}, {Start: 5, End: 8}}
	scenes, _ := Canonicalize(raw, 12, DefaultOptions())
	assertCoverage(t, scenes, 12)
	if got := scenes[0].Interval.End(); got != 5 {
		t.Errorf("first scene ends at %v, want 5", got)
	}
}

func TestCanonicalize_DegenerateSpansAbsorbed(t *testing.T) {
	raw := []timeline.Span{
		{Start: 0, End: 4},
		{Start: 4, End: 4},
		{Start: 4, End: 8},
		{Start: math.NaN(), End: 9},
		{Start: 30, End: 35},
	}
	scenes, report := Canonicalize(raw, 10, DefaultOptions())
	if len(scenes) != 2 {
		t.Fatalf("got %d scenes (%v), want 2", len(scenes), bounds(scenes))
	}
	if report.Absorbed != 3 {
		t.Errorf("report.Absorbed = %d, want 3", report.Absorbed)
	}
	assertCoverage(t, scenes, 10)
}

func TestCanonicalize_UnknownDurationOpenEnded(t *testing.T) {
	raw := []timeline.Span{{Start: 0, End: 4}, {Start: 4, End: 9}}
	scenes, _ := Canonicalize(raw, -1, DefaultOptions())
	assertCoverage(t, scenes, math.Inf(1))
}

func TestCanonicalize_NegativeStartClamped(t *testing.T) {
	raw := []timeline.Span{{Start: -0.5, End: 3}, {Start: 3, End: 6}}
	scenes, _ := Canonicalize(raw, 6, DefaultOptions())
	assertCoverage(t, scenes, 6)
	if len(scenes) != 2 {
		t.Fatalf("got %d scenes, want 2", len(scenes))
	}
}
