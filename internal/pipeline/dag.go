// Package pipeline is the Pipeline Executor (spec.md §4.3): a fixed DAG
// of named stages with declared input/output artifact names, dispatched
// by a bounded worker pool within one job, with cooperative cancellation
// at every stage boundary.
package pipeline

// StageDef declares one node of the fixed DAG: its name, the artifact
// names it reads (by name, not stage — the executor resolves the
// producing stage via the DAG), and the artifact names it produces.
type StageDef struct {
	Name    string
	Inputs  []string
	Outputs []string
	// DependsOn lists stage names that must complete before this stage
	// may start. Declared explicitly rather than derived from Inputs so
	// fan-out stages (normalize_0, normalize_1, ...) can share an input
	// artifact name without implying a dependency on each other.
	DependsOn []string
}

const (
	StageAudioSlice   = "audio_slice"
	StageBeats        = "beats"
	StagePlan         = "plan"
	StageNormalize    = "normalize" // fan-out: normalize_0, normalize_1, ...
	StageCutAndConcat = "cut_and_concat"
	StageStyleGrade   = "style_grade"
	StageMux          = "mux"
	StageQualityGate  = "quality_gate"
)

// NormalizeStageName returns the per-clip fan-out stage name for clip
// index i, e.g. "normalize_0".
func NormalizeStageName(i int) string {
	return StageNormalize + "_" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// BuildDAG constructs the fixed 8-stage DAG for a job with clipCount
// input clips, per spec.md §4.3. audio_slice -> beats -> plan always
// runs in sequence; normalize_0..normalize_{n-1} fan out in parallel
// once audio_slice has produced sliced_audio is not required by
// normalize (it only depends on audio_slice completing, since normalize
// works off the raw input clips) — spec.md's execution order note says
// normalize runs "in parallel with plan but after audio_slice".
func BuildDAG(clipCount int) []StageDef {
	stages := []StageDef{
		{
			Name:    StageAudioSlice,
			Inputs:  []string{"input_audio"},
			Outputs: []string{"sliced_audio"},
		},
		{
			Name:      StageBeats,
			Inputs:    []string{"sliced_audio"},
			Outputs:   []string{"beat_plan"},
			DependsOn: []string{StageAudioSlice},
		},
		{
			Name:      StagePlan,
			Inputs:    []string{"beat_plan"},
			Outputs:   []string{"segments", "cut_diagnostics"},
			DependsOn: []string{StageBeats},
		},
	}

	normalizeNames := make([]string, clipCount)
	for i := 0; i < clipCount; i++ {
		name := NormalizeStageName(i)
		normalizeNames[i] = name
		stages = append(stages, StageDef{
			Name:      name,
			Inputs:    []string{clipInputName(i)},
			Outputs:   []string{normalizedOutputName(i)},
			DependsOn: []string{StageAudioSlice},
		})
	}

	concatInputs := append([]string{"segments"}, func() []string {
		names := make([]string, clipCount)
		for i := range names {
			names[i] = normalizedOutputName(i)
		}
		return names
	}()...)

	stages = append(stages,
		StageDef{
			Name:      StageCutAndConcat,
			Inputs:    concatInputs,
			Outputs:   []string{"concatenated"},
			DependsOn: append([]string{StagePlan}, normalizeNames...),
		},
		StageDef{
			Name:      StageStyleGrade,
			Inputs:    []string{"concatenated"},
			Outputs:   []string{"graded"},
			DependsOn: []string{StageCutAndConcat},
		},
		StageDef{
			Name:      StageMux,
			Inputs:    []string{"graded", "sliced_audio"},
			Outputs:   []string{"muxed"},
			DependsOn: []string{StageStyleGrade},
		},
		StageDef{
			Name:      StageQualityGate,
			Inputs:    []string{"muxed"},
			Outputs:   []string{},
			DependsOn: []string{StageMux},
		},
	)
	return stages
}

func clipInputName(i int) string {
	return "input_clip_" + itoa(i)
}

func normalizedOutputName(i int) string {
	return "normalized_" + itoa(i)
}

// readySet returns the stages among remaining whose DependsOn are all in
// done, used by the executor's dispatch loop.
func readySet(stages []StageDef, done map[string]bool, remaining map[string]bool) []StageDef {
	var ready []StageDef
	for _, s := range stages {
		if !remaining[s.Name] {
			continue
		}
		ok := true
		for _, dep := range s.DependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready
}
