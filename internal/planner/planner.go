// Package planner is the Cut Planner (spec.md §4.7): it turns a BeatPlan
// plus a clip count and style into an ordered, contiguous list of
// Segments with snapped boundaries and per-boundary transition
// descriptors. Grounded on the original segment_planner.py's
// downbeat-window-snap algorithm, generalized to the exact ±L/4 / ±L/2
// snap cascade the spec requires, with transitions sourced from the
// style table the original's style_editor.py keeps per-style.
package planner

import (
	"fmt"
	"math"
	"sort"

	"github.com/mickaelli/reelforge/internal/model"
)

// ErrInfeasible is returned when clipCount or totalLengthSec is
// non-positive, and wrapped when the clip-name count does not match
// clipCount or the style is unknown.
var ErrInfeasible = fmt.Errorf("planner: infeasible plan request")

// Plan implements the Plan(beat_plan, clip_count, style) -> []Segment
// contract. totalLengthSec is the fixed output timeline length (the
// audio window length); segments always sum to exactly this length.
func Plan(beatPlan model.BeatPlan, clipCount int, styleName string, totalLengthSec float64, clipNames []string) ([]model.Segment, error) {
	segments, _, err := PlanWithDiagnostics(beatPlan, clipCount, styleName, totalLengthSec, clipNames)
	return segments, err
}

// PlanWithDiagnostics runs the same algorithm as Plan but also returns
// the per-boundary diagnostics artifact (SPEC_FULL.md §7): which method
// resolved each ideal boundary and which candidates were in range.
func PlanWithDiagnostics(beatPlan model.BeatPlan, clipCount int, styleName string, totalLengthSec float64, clipNames []string) ([]model.Segment, model.CutDiagnostics, error) {
	if clipCount <= 0 || totalLengthSec <= 0 {
		return nil, model.CutDiagnostics{}, ErrInfeasible
	}
	if len(clipNames) != clipCount {
		return nil, model.CutDiagnostics{}, fmt.Errorf("%w: have %d clip names for clip_count %d", ErrInfeasible, len(clipNames), clipCount)
	}
	style, ok := model.Styles[styleName]
	if !ok {
		return nil, model.CutDiagnostics{}, fmt.Errorf("%w: unknown style %q", ErrInfeasible, styleName)
	}

	segmentLen := totalLengthSec / float64(clipCount)

	boundaries := make([]float64, clipCount-1)
	diagnostics := model.CutDiagnostics{Boundaries: make([]model.BoundaryDiagnostic, len(boundaries))}
	for i := range boundaries {
		ideal := float64(i+1) * segmentLen
		chosen, method, considered := snapBoundaryDiagnosed(ideal, beatPlan, segmentLen)
		boundaries[i] = chosen
		diagnostics.Boundaries[i] = model.BoundaryDiagnostic{
			IdealSec:   ideal,
			ChosenSec:  chosen,
			Method:     method,
			Candidates: considered,
		}
	}

	segments := make([]model.Segment, clipCount)
	prevEnd := 0.0
	for i := 0; i < clipCount; i++ {
		targetOut := totalLengthSec
		if i < len(boundaries) {
			targetOut = boundaries[i]
		}
		segDuration := targetOut - prevEnd

		segments[i] = model.Segment{
			Index:              i,
			SourceArtifactName: clipNames[i],
			SourceInSec:        0,
			SourceOutSec:       segDuration,
			TargetOutSec:       targetOut,
			TransitionOut:      boundaryTransition(style, segDuration, nextSegDuration(i, boundaries, totalLengthSec)),
		}
		prevEnd = targetOut
	}
	// Last segment carries no outgoing transition — it ends the timeline.
	segments[clipCount-1].TransitionOut = model.Transition{Kind: model.TransitionHardCut, DurationMs: 0}

	return segments, diagnostics, nil
}

// nextSegDuration returns the duration of the segment following boundary
// index i, used to cap a crossfade at half the shorter neighboring
// segment's duration.
func nextSegDuration(i int, boundaries []float64, totalLengthSec float64) float64 {
	if i >= len(boundaries) {
		return 0
	}
	start := boundaries[i]
	end := totalLengthSec
	if i+1 < len(boundaries) {
		end = boundaries[i+1]
	}
	return end - start
}

// boundaryTransition applies the style's default transition, enforcing
// the crossfade-duration cap from spec.md §4.3 stage 5:
// min(segment_left.duration, segment_right.duration) / 2.
func boundaryTransition(style model.StylePreset, leftDuration, rightDuration float64) model.Transition {
	t := style.DefaultTransition
	if t.Kind == model.TransitionCrossfade || t.Kind == model.TransitionFadeBlack {
		capMs := int(math.Min(leftDuration, rightDuration) / 2 * 1000)
		if t.DurationMs > capMs {
			t.DurationMs = capMs
		}
		if t.DurationMs < 0 {
			t.DurationMs = 0
		}
	}
	return t
}

// snapBoundaryDiagnosed implements the ±L/4 -> ±L/2 -> ideal-time snap
// cascade: first the highest-scoring cut candidate within ±L/4 of ideal,
// else the nearest beat within ±L/2, else ideal itself. It also reports
// which method resolved the boundary and the candidates considered, for
// the supplemented diagnostics artifact.
func snapBoundaryDiagnosed(ideal float64, beatPlan model.BeatPlan, segmentLen float64) (chosen float64, method string, considered []model.CutCandidate) {
	quarterWindow := segmentLen / 4
	inRange := candidatesWithin(beatPlan.CutCandidates, ideal, quarterWindow)
	if c, ok := bestOf(inRange); ok {
		return c, "candidate", inRange
	}

	halfWindow := segmentLen / 2
	if b, ok := nearestBeatWithin(beatPlan.Beats, ideal, halfWindow); ok {
		return b, "nearest_beat", inRange
	}

	return ideal, "ideal_fallback", inRange
}

// candidatesWithin returns the candidates within radius of ideal.
func candidatesWithin(candidates []model.CutCandidate, ideal, radius float64) []model.CutCandidate {
	var inRange []model.CutCandidate
	for _, c := range candidates {
		if math.Abs(c.TimeSec-ideal) <= radius {
			inRange = append(inRange, c)
		}
	}
	return inRange
}

// bestOf returns the highest-scoring candidate, ties broken by earlier
// time (stable sort by score, per spec.md §4.7's determinism
// requirement).
func bestOf(candidates []model.CutCandidate) (float64, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	sorted := make([]model.CutCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].TimeSec < sorted[j].TimeSec
	})
	return sorted[0].TimeSec, true
}

// nearestBeatWithin returns the beat closest to ideal within radius,
// ties broken by earlier time.
func nearestBeatWithin(beats []float64, ideal, radius float64) (float64, bool) {
	best := 0.0
	bestDist := math.MaxFloat64
	found := false
	for _, b := range beats {
		d := math.Abs(b - ideal)
		if d > radius {
			continue
		}
		if d < bestDist || (d == bestDist && b < best) {
			best = b
			bestDist = d
			found = true
		}
	}
	return best, found
}
