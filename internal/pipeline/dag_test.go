package pipeline

import "testing"

func TestBuildDAGIncludesOneNormalizeStagePerClip(t *testing.T) {
	stages := BuildDAG(3)
	var names []string
	for _, s := range stages {
		names = append(names, s.Name)
	}
	for i := 0; i < 3; i++ {
		found := false
		for _, n := range names {
			if n == NormalizeStageName(i) {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected stage %s in %v", NormalizeStageName(i), names)
		}
	}
}

func TestBuildDAGCutAndConcatDependsOnPlanAndAllNormalize(t *testing.T) {
	stages := BuildDAG(2)
	var concat StageDef
	for _, s := range stages {
		if s.Name == StageCutAndConcat {
			concat = s
		}
	}
	want := map[string]bool{StagePlan: true, NormalizeStageName(0): true, NormalizeStageName(1): true}
	if len(concat.DependsOn) != len(want) {
		t.Fatalf("got deps %v, want %v", concat.DependsOn, want)
	}
	for _, dep := range concat.DependsOn {
		if !want[dep] {
			t.Fatalf("unexpected dependency %q", dep)
		}
	}
}

func TestBuildDAGLinearStagesFormAChain(t *testing.T) {
	stages := BuildDAG(1)
	byName := make(map[string]StageDef)
	for _, s := range stages {
		byName[s.Name] = s
	}
	if len(byName[StageBeats].DependsOn) != 1 || byName[StageBeats].DependsOn[0] != StageAudioSlice {
		t.Fatalf("beats should depend only on audio_slice, got %v", byName[StageBeats].DependsOn)
	}
	if len(byName[StagePlan].DependsOn) != 1 || byName[StagePlan].DependsOn[0] != StageBeats {
		t.Fatalf("plan should depend only on beats, got %v", byName[StagePlan].DependsOn)
	}
}

func TestReadySetOnlyReturnsStagesWithSatisfiedDeps(t *testing.T) {
	stages := BuildDAG(2)
	remaining := make(map[string]bool)
	for _, s := range stages {
		remaining[s.Name] = true
	}
	done := map[string]bool{}

	ready := readySet(stages, done, remaining)
	if len(ready) != 1 || ready[0].Name != StageAudioSlice {
		t.Fatalf("expected only audio_slice ready at start, got %v", namesOf(ready))
	}

	done[StageAudioSlice] = true
	delete(remaining, StageAudioSlice)
	ready = readySet(stages, done, remaining)
	names := namesOf(ready)
	wantReady := map[string]bool{StageBeats: true, NormalizeStageName(0): true, NormalizeStageName(1): true}
	if len(names) != len(wantReady) {
		t.Fatalf("got ready %v, want set %v", names, wantReady)
	}
	for _, n := range names {
		if !wantReady[n] {
			t.Fatalf("unexpected ready stage %q", n)
		}
	}
}

func TestReadySetExcludesStagesNotInRemaining(t *testing.T) {
	stages := BuildDAG(1)
	remaining := map[string]bool{StageAudioSlice: true}
	done := map[string]bool{}
	ready := readySet(stages, done, remaining)
	if len(ready) != 1 || ready[0].Name != StageAudioSlice {
		t.Fatalf("expected readySet to respect remaining filter, got %v", namesOf(ready))
	}
}

func namesOf(stages []StageDef) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return names
}

func TestNormalizeStageNameAndIndexRoundTrip(t *testing.T) {
	for i := 0; i < 12; i++ {
		name := NormalizeStageName(i)
		if got := normalizeIndexFromStage(name); got != i {
			t.Fatalf("normalizeIndexFromStage(%q) = %d, want %d", name, got, i)
		}
	}
}
