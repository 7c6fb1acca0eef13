package beat

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeTestWAV writes a mono 16-bit PCM WAV with a click every period
// seconds (a sharp energy transient), long enough to exercise tempo
// estimation deterministically.
func writeTestWAV(t *testing.T, sampleRate int, durationSec, periodSec float64) string {
	t.Helper()
	n := int(float64(sampleRate) * durationSec)
	samples := make([]int16, n)
	clickLen := sampleRate / 100
	for clickStart := 0; float64(clickStart)/float64(sampleRate) < durationSec; clickStart += int(periodSec * float64(sampleRate)) {
		for i := 0; i < clickLen && clickStart+i < n; i++ {
			samples[clickStart+i] = 20000
		}
	}

	var buf bytes.Buffer
	dataSize := n * 2
	buf.WriteString("RIFF")
	writeU32(&buf, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeU32(&buf, 16)
	writeU16(&buf, 1)
	writeU16(&buf, 1)
	writeU32(&buf, uint32(sampleRate))
	writeU32(&buf, uint32(sampleRate*2))
	writeU16(&buf, 2)
	writeU16(&buf, 16)
	buf.WriteString("data")
	writeU32(&buf, uint32(dataSize))
	for _, s := range samples {
		writeU16(&buf, uint16(s))
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "slice.wav")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func TestAnalyzeBeatsStrictlyIncreasingAndInWindow(t *testing.T) {
	path := writeTestWAV(t, 22050, 6.0, 0.5) // 120 BPM clicks
	a := New(0.8, nil)

	plan, err := a.Analyze(path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(plan.Beats) < 2 {
		t.Fatalf("expected multiple beats, got %d", len(plan.Beats))
	}
	for i := 1; i < len(plan.Beats); i++ {
		if plan.Beats[i] <= plan.Beats[i-1] {
			t.Fatalf("beats not strictly increasing at %d: %v <= %v", i, plan.Beats[i], plan.Beats[i-1])
		}
	}
	for _, b := range plan.Beats {
		if b < 0 || b > plan.WindowLength+1e-9 {
			t.Fatalf("beat %v out of window [0, %v]", b, plan.WindowLength)
		}
	}
}

func TestAnalyzeTempoNearExpected(t *testing.T) {
	path := writeTestWAV(t, 22050, 8.0, 0.5) // 120 BPM
	a := New(0.8, nil)

	plan, err := a.Analyze(path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if math.Abs(plan.TempoBPM-120) > 20 {
		t.Fatalf("tempo %v far from expected 120 BPM", plan.TempoBPM)
	}
}

func TestCutCandidatesSortedDescendingAndSpaced(t *testing.T) {
	path := writeTestWAV(t, 22050, 8.0, 0.5)
	a := New(0.8, nil)

	plan, err := a.Analyze(path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(plan.CutCandidates) == 0 {
		t.Fatal("expected at least one cut candidate")
	}
	for i := 1; i < len(plan.CutCandidates); i++ {
		if plan.CutCandidates[i].Score > plan.CutCandidates[i-1].Score {
			t.Fatalf("cut candidates not descending at %d", i)
		}
	}
	for i, c := range plan.CutCandidates {
		if c.Score < 0 || c.Score > 1 {
			t.Fatalf("candidate %d score %v out of [0,1]", i, c.Score)
		}
		for j, other := range plan.CutCandidates {
			if i == j {
				continue
			}
			if math.Abs(c.TimeSec-other.TimeSec) < 0.8-1e-9 {
				t.Fatalf("candidates %d and %d closer than min spacing: %v vs %v", i, j, c.TimeSec, other.TimeSec)
			}
		}
	}
}

func TestAnalyzeTooShortIsAnalysisFailed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.wav")
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	writeU32(&buf, 36)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeU32(&buf, 16)
	writeU16(&buf, 1)
	writeU16(&buf, 1)
	writeU32(&buf, 22050)
	writeU32(&buf, 44100)
	writeU16(&buf, 2)
	writeU16(&buf, 16)
	buf.WriteString("data")
	writeU32(&buf, 4)
	buf.Write([]byte{0, 0, 0, 0})
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	a := New(0.8, nil)
	_, err := a.Analyze(path)
	if err == nil {
		t.Fatal("expected error for too-short audio")
	}
	if !IsAnalysisFailed(err) {
		t.Fatalf("expected IsAnalysisFailed, got %v", err)
	}
}

func TestSuggestWindowWithinTrack(t *testing.T) {
	path := writeTestWAV(t, 22050, 10.0, 0.5)
	a := New(0.8, nil)

	start, end, err := a.SuggestWindow(path, 3.0)
	if err != nil {
		t.Fatalf("SuggestWindow: %v", err)
	}
	if end-start < 3.0-1e-6 || end-start > 3.0+1e-6 {
		t.Fatalf("expected window of length 3.0, got %v", end-start)
	}
	if start < 0 || end > 10.0+1e-6 {
		t.Fatalf("window [%v, %v] out of track bounds", start, end)
	}
}
