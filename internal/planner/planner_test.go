package planner

import (
	"math"
	"testing"

	"github.com/mickaelli/reelforge/internal/model"
)

func clipNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = "normalized_clip"
	}
	return names
}

func TestPlanSegmentsContiguousAndSumToTotal(t *testing.T) {
	bp := model.BeatPlan{
		TempoBPM: 120,
		Beats:    []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5},
		CutCandidates: []model.CutCandidate{
			{TimeSec: 1, Score: 0.9},
			{TimeSec: 2, Score: 0.8},
		},
		WindowLength: 4,
	}

	segments, err := Plan(bp, 2, model.StyleCinematicDrama, 4.0, clipNames(2))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[len(segments)-1].TargetOutSec != 4.0 {
		t.Fatalf("last segment should end at total length, got %v", segments[len(segments)-1].TargetOutSec)
	}
	for i, s := range segments {
		if s.Index != i {
			t.Fatalf("segment %d has index %d", i, s.Index)
		}
	}
}

func TestPlanSnapsToHighestScoringCandidateWithinQuarterWindow(t *testing.T) {
	// L = 2 (4 sec / 2 clips), ideal boundary at 2.0. Candidate at 2.1 is
	// within ±L/4 = ±0.5 and should win over the ideal time.
	bp := model.BeatPlan{
		Beats:         []float64{0, 1, 2, 2.1, 3, 4},
		CutCandidates: []model.CutCandidate{{TimeSec: 2.1, Score: 0.95}},
		WindowLength:  4,
	}
	segments, err := Plan(bp, 2, model.StyleModernMinimal, 4.0, clipNames(2))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if math.Abs(segments[0].TargetOutSec-2.1) > 1e-9 {
		t.Fatalf("expected boundary snapped to candidate at 2.1, got %v", segments[0].TargetOutSec)
	}
}

func TestPlanFallsBackToNearestBeatThenIdeal(t *testing.T) {
	// No candidates at all. Ideal boundary at 2.0, nearest beat at 2.4
	// is within ±L/2 = ±1.0, so it should win over the bare ideal time.
	bp := model.BeatPlan{
		Beats:        []float64{0, 1, 2.4, 4},
		WindowLength: 4,
	}
	segments, err := Plan(bp, 2, model.StyleModernMinimal, 4.0, clipNames(2))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if math.Abs(segments[0].TargetOutSec-2.4) > 1e-9 {
		t.Fatalf("expected boundary snapped to nearest beat 2.4, got %v", segments[0].TargetOutSec)
	}

	// Now with no beats in range at all, it must fall back to the ideal.
	bp2 := model.BeatPlan{Beats: []float64{}, WindowLength: 4}
	segments2, err := Plan(bp2, 2, model.StyleModernMinimal, 4.0, clipNames(2))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if math.Abs(segments2[0].TargetOutSec-2.0) > 1e-9 {
		t.Fatalf("expected boundary to fall back to ideal 2.0, got %v", segments2[0].TargetOutSec)
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	bp := model.BeatPlan{
		Beats: []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5},
		CutCandidates: []model.CutCandidate{
			{TimeSec: 1, Score: 0.9},
			{TimeSec: 2, Score: 0.9},
		},
		WindowLength: 4,
	}
	s1, err1 := Plan(bp, 2, model.StyleLuxeTravel, 4.0, clipNames(2))
	s2, err2 := Plan(bp, 2, model.StyleLuxeTravel, 4.0, clipNames(2))
	if err1 != nil || err2 != nil {
		t.Fatalf("Plan errors: %v / %v", err1, err2)
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Fatalf("plan not deterministic at segment %d: %+v vs %+v", i, s1[i], s2[i])
		}
	}
}

func TestPlanEnforcesCrossfadeCap(t *testing.T) {
	// Very short segments (total 1s, 4 clips -> 0.25s each) should cap
	// any crossfade/fade_black well below the style's 500ms default.
	bp := model.BeatPlan{Beats: []float64{}, WindowLength: 1}
	segments, err := Plan(bp, 4, model.StyleCinematicDrama, 1.0, clipNames(4))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for i, s := range segments[:len(segments)-1] {
		if s.TransitionOut.Kind == model.TransitionCrossfade && s.TransitionOut.DurationMs > 125 {
			t.Fatalf("segment %d crossfade %dms exceeds cap", i, s.TransitionOut.DurationMs)
		}
	}
}

func TestPlanRejectsMismatchedClipNames(t *testing.T) {
	bp := model.BeatPlan{WindowLength: 4}
	if _, err := Plan(bp, 2, model.StyleModernMinimal, 4.0, clipNames(3)); err == nil {
		t.Fatal("expected error for mismatched clip name count")
	}
}

func TestPlanRejectsUnknownStyle(t *testing.T) {
	bp := model.BeatPlan{WindowLength: 4}
	if _, err := Plan(bp, 2, "not_a_style", 4.0, clipNames(2)); err == nil {
		t.Fatal("expected error for unknown style")
	}
}
