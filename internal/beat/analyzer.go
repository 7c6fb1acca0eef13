// Package beat is the Beat Analyzer (spec.md §4.6): it reads a decoded
// audio slice and returns an estimated tempo, an ordered beat grid, and
// cut candidates scored by onset salience. There is no pack library for
// audio DSP, so this package is deliberately built directly on the
// standard library rather than on a third-party dependency — see
// DESIGN.md for why no retrieved example repo could serve this concern.
//
// The algorithm mirrors the original beat_detector.py's
// _compute_beat_strengths / get_cut_points: a short-time energy onset
// envelope, autocorrelation-based tempo estimation, then a scored,
// spacing-suppressed candidate list.
package beat

import (
	"fmt"
	"math"
	"sort"

	"github.com/mickaelli/reelforge/internal/model"
	"go.uber.org/zap"
)

const (
	frameSize    = 1024
	hopSize      = 512
	minTempoBPM  = 60.0
	maxTempoBPM  = 180.0
	beatsPerBar  = 4
	downbeatBump = 0.15
)

// Analyzer implements the Analyze(audio_slice) -> BeatPlan contract.
type Analyzer struct {
	minSpacingSec float64
	log           *zap.Logger
}

// New builds an Analyzer. minSpacingSec is the suppression window between
// successive cut candidates (default 0.8s per spec.md §4.6).
func New(minSpacingSec float64, log *zap.Logger) *Analyzer {
	if minSpacingSec <= 0 {
		minSpacingSec = 0.8
	}
	return &Analyzer{minSpacingSec: minSpacingSec, log: log}
}

// Analyze decodes the WAV slice at audioPath and returns a BeatPlan whose
// beats are strictly increasing and lie within [0, window_length], per
// spec.md §3's BeatPlan invariants.
func (a *Analyzer) Analyze(audioPath string) (model.BeatPlan, error) {
	r, err := openFile(audioPath)
	if err != nil {
		return model.BeatPlan{}, fmt.Errorf("%w: open %s: %v", errAnalysisFailed, audioPath, err)
	}
	defer r.Close()

	pcm, err := decodeWAV(r)
	if err != nil {
		return model.BeatPlan{}, fmt.Errorf("%w: decode %s: %v", errAnalysisFailed, audioPath, err)
	}
	if pcm.sampleRate == 0 || len(pcm.data) < frameSize*4 {
		return model.BeatPlan{}, fmt.Errorf("%w: audio slice too short", errAnalysisFailed)
	}

	windowLength := float64(len(pcm.data)) / float64(pcm.sampleRate)
	envelope, frameRate := onsetEnvelope(pcm)
	tempo := estimateTempo(envelope, frameRate)
	beats := deriveBeatGrid(tempo, windowLength)
	candidates := scoreCandidates(beats, envelope, frameRate, tempo, a.minSpacingSec)

	return model.BeatPlan{
		TempoBPM:      tempo,
		Beats:         beats,
		CutCandidates: candidates,
		WindowLength:  windowLength,
	}, nil
}

// onsetEnvelope computes a short-time energy onset-strength curve: the
// positive frame-to-frame delta of RMS energy per hop, the same "half
// wave rectified energy difference" librosa's onset envelope approximates
// without the spectral flux machinery.
func onsetEnvelope(pcm pcmSamples) ([]float64, float64) {
	n := (len(pcm.data) - frameSize) / hopSize
	if n < 2 {
		n = 2
	}
	energies := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i * hopSize
		end := start + frameSize
		if end > len(pcm.data) {
			end = len(pcm.data)
		}
		var sum float64
		for _, s := range pcm.data[start:end] {
			sum += s * s
		}
		energies[i] = math.Sqrt(sum / float64(end-start))
	}

	envelope := make([]float64, n)
	for i := 1; i < n; i++ {
		d := energies[i] - energies[i-1]
		if d > 0 {
			envelope[i] = d
		}
	}

	frameRate := float64(pcm.sampleRate) / float64(hopSize)
	return envelope, frameRate
}

// estimateTempo finds the lag (within the plausible 60-180 BPM range)
// that maximizes the onset envelope's autocorrelation, the same
// "autocorrelate the onset envelope, pick the strongest lag in-range"
// approach librosa.beat.tempo uses under the hood. Each lag's score also
// counts the products at lag-1 and lag+1, since a beat period rarely
// falls on a whole number of envelope frames.
func estimateTempo(envelope []float64, frameRate float64) float64 {
	minLag := int(frameRate * 60.0 / maxTempoBPM)
	maxLag := int(frameRate * 60.0 / minTempoBPM)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(envelope) {
		maxLag = len(envelope) - 1
	}
	if maxLag <= minLag {
		return (minTempoBPM + maxTempoBPM) / 2
	}

	bestLag := minLag
	bestScore := -math.MaxFloat64
	for lag := minLag; lag <= maxLag; lag++ {
		var score float64
		for i := lag + 1; i < len(envelope); i++ {
			score += envelope[i] * (envelope[i-lag-1] + envelope[i-lag] + envelope[i-lag+1])
		}
		if score > bestScore {
			bestScore = score
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return (minTempoBPM + maxTempoBPM) / 2
	}
	return 60.0 * frameRate / float64(bestLag)
}

// deriveBeatGrid lays down a beat every 60/tempo seconds starting at 0,
// the simplest grid consistent with a single estimated tempo and no
// detected phase offset, truncated to the window.
func deriveBeatGrid(tempoBPM, windowLength float64) []float64 {
	period := 60.0 / tempoBPM
	var beats []float64
	for t := 0.0; t <= windowLength; t += period {
		beats = append(beats, t)
	}
	if len(beats) == 0 {
		beats = []float64{0}
	}
	return beats
}

// scoreCandidates scores each beat by local onset strength plus a
// downbeat bonus every beats_per_bar-th beat, then greedily keeps
// candidates in descending score order, skipping any candidate within
// minSpacingSec of an already-kept higher-scored one — mirroring
// get_cut_points' non-maximum suppression pass.
func scoreCandidates(beats []float64, envelope []float64, frameRate, tempoBPM, minSpacingSec float64) []model.CutCandidate {
	raw := make([]model.CutCandidate, len(beats))
	maxStrength := 0.0
	strengths := make([]float64, len(beats))
	for i, t := range beats {
		s := onsetStrengthAt(envelope, frameRate, t)
		strengths[i] = s
		if s > maxStrength {
			maxStrength = s
		}
	}
	if maxStrength == 0 {
		maxStrength = 1
	}

	for i, t := range beats {
		score := strengths[i] / maxStrength
		if i%beatsPerBar == 0 {
			score += downbeatBump
		}
		if score > 1 {
			score = 1
		}
		raw[i] = model.CutCandidate{TimeSec: t, Score: score}
	}

	sorted := make([]model.CutCandidate, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var kept []model.CutCandidate
	for _, c := range sorted {
		suppressed := false
		for _, k := range kept {
			if math.Abs(c.TimeSec-k.TimeSec) < minSpacingSec {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept
}

// onsetStrengthAt returns the envelope value at the frame nearest to
// timeSec, 0 if out of range.
func onsetStrengthAt(envelope []float64, frameRate, timeSec float64) float64 {
	idx := int(timeSec * frameRate)
	if idx < 0 || idx >= len(envelope) {
		return 0
	}
	return envelope[idx]
}

// SuggestWindow proposes an [audio_window_start, audio_window_end] pair
// of length durationSec within the full track, biased toward the highest
// mean onset-envelope energy — a supplemented helper (SPEC_FULL.md §7).
// It stands alone: neither JobService.Create nor the pipeline calls it,
// and Create always uses the window the caller supplies.
func (a *Analyzer) SuggestWindow(audioPath string, durationSec float64) (start, end float64, err error) {
	r, err := openFile(audioPath)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: open %s: %v", errAnalysisFailed, audioPath, err)
	}
	defer r.Close()

	pcm, err := decodeWAV(r)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: decode %s: %v", errAnalysisFailed, audioPath, err)
	}
	total := float64(len(pcm.data)) / float64(pcm.sampleRate)
	if durationSec >= total {
		return 0, total, nil
	}

	envelope, frameRate := onsetEnvelope(pcm)
	windowFrames := int(durationSec * frameRate)
	if windowFrames < 1 {
		windowFrames = 1
	}

	var runningSum float64
	for i := 0; i < windowFrames && i < len(envelope); i++ {
		runningSum += envelope[i]
	}
	bestSum := runningSum
	bestStart := 0
	for i := windowFrames; i < len(envelope); i++ {
		runningSum += envelope[i] - envelope[i-windowFrames]
		if runningSum > bestSum {
			bestSum = runningSum
			bestStart = i - windowFrames + 1
		}
	}

	start = float64(bestStart) / frameRate
	end = start + durationSec
	if end > total {
		end = total
		start = end - durationSec
		if start < 0 {
			start = 0
		}
	}
	return start, end, nil
}
