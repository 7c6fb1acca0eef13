package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/mickaelli/reelforge/internal/model"
	"github.com/mickaelli/reelforge/internal/progress"
	"go.uber.org/zap"
)

// CancelChecker reports whether a job has been cancelled — the executor
// polls it at every stage boundary, per spec.md §4.3's "between each
// stage boundary, it checks the Job's status for CANCELLED".
type CancelChecker func(ctx context.Context, jobID string) (bool, error)

// Executor is the Pipeline Executor: it orders the fixed DAG
// topologically, dispatches ready stages to a bounded worker pool within
// one job, and surfaces the first failure while cancelling peers.
type Executor struct {
	runner    *Runner
	nClip     int
	cancel    CancelChecker
	publisher *progress.Publisher
	log       *zap.Logger
}

// NewExecutor builds an Executor. nClip bounds the number of concurrent
// stage bodies dispatched per job (spec.md §5, default 2).
func NewExecutor(runner *Runner, nClip int, cancel CancelChecker, publisher *progress.Publisher, log *zap.Logger) *Executor {
	if nClip <= 0 {
		nClip = 2
	}
	return &Executor{runner: runner, nClip: nClip, cancel: cancel, publisher: publisher, log: log}
}

// stageOutcome is one stage's terminal result, fed back to the dispatch
// loop over a single channel so completions can be observed in
// wall-clock order regardless of which goroutine produced them.
type stageOutcome struct {
	stage string
	err   error
}

// Run executes the full DAG for job, returning the first stage failure
// (already classified), a CancelObserved error if the job was cancelled
// mid-run, or nil on success. stageProgress maps each stage name to the
// percent complete it represents when finished, for the Progress
// Publisher.
func (e *Executor) Run(ctx context.Context, job StageJob, stageProgress map[string]int) error {
	stages := BuildDAG(job.ClipCount)
	job.ProducingStage = buildProducingStageIndex(stages)

	remaining := make(map[string]bool, len(stages))
	for _, s := range stages {
		remaining[s.Name] = true
	}
	done := make(map[string]bool, len(stages))

	outcomes := make(chan stageOutcome, len(stages))
	inFlight := make(map[string]context.CancelFunc)
	cancelledSiblings := make(map[string]bool)
	var mu sync.Mutex
	activeCount := 0
	aborting := false
	var firstErr error

	dispatch := func() {
		mu.Lock()
		defer mu.Unlock()
		if aborting {
			return
		}
		if cancelled, _ := e.cancel(ctx, job.JobID); cancelled {
			aborting = true
			if firstErr == nil {
				firstErr = &StageError{Class: ClassCancelObserved, Err: fmt.Errorf("job cancelled")}
			}
			return
		}
		for _, s := range readySet(stages, done, remaining) {
			if activeCount >= e.nClip {
				break
			}
			delete(remaining, s.Name)
			activeCount++
			stageCtx, cancelFn := context.WithCancel(ctx)
			inFlight[s.Name] = cancelFn
			go func(def StageDef) {
				err := e.runner.Run(stageCtx, job, def, job.Timeouts.For(def.Name))
				outcomes <- stageOutcome{stage: def.Name, err: err}
			}(s)
		}
	}

	dispatch()
	for {
		mu.Lock()
		noWorkLeft := activeCount == 0 && (aborting || len(remaining) == 0)
		mu.Unlock()
		if noWorkLeft {
			break
		}

		outcome := <-outcomes

		mu.Lock()
		delete(inFlight, outcome.stage)
		activeCount--

		if outcome.err != nil {
			if cancelledSiblings[outcome.stage] {
				// This stage's own context was cancelled by us, as a
				// sibling of an earlier failure — its error is an
				// artifact of that cancellation, not a genuine failure,
				// per spec.md §4.3's tie-break rule.
				e.log.Debug("sibling stage cancelled", zap.String("stage", outcome.stage), zap.Error(&StageCancelledError{Stage: outcome.stage}))
			} else if firstErr == nil {
				firstErr = outcome.err
			}
			if !aborting {
				aborting = true
				for name, cancelFn := range inFlight {
					cancelFn()
					cancelledSiblings[name] = true
					e.log.Debug("cancelling sibling stage after failure", zap.String("stage", name), zap.String("failed_stage", outcome.stage))
				}
			}
			mu.Unlock()
			continue
		}

		done[outcome.stage] = true
		mu.Unlock()

		if pct, ok := stageProgress[outcome.stage]; ok {
			if err := e.publisher.Update(ctx, job.JobID, pct, outcome.stage); err != nil {
				e.log.Warn("progress publish failed", zap.Error(err))
			}
		}
		dispatch()
	}

	return firstErr
}

// buildProducingStageIndex maps each artifact name to the stage that
// produces it (or "input" for input_* names resolved straight from the
// job's input artifacts), so the Stage Runner can resolve any declared
// input without the executor threading it through explicitly.
func buildProducingStageIndex(stages []StageDef) map[string]string {
	index := make(map[string]string)
	for _, s := range stages {
		for _, out := range s.Outputs {
			index[out] = s.Name
		}
	}
	for _, s := range stages {
		for _, in := range s.Inputs {
			if _, ok := index[in]; !ok {
				index[in] = model.StageInput
			}
		}
	}
	return index
}

// StageCancelledError wraps a stage that was cancelled as a sibling of a
// failing peer — reported as "stage_cancelled" per spec.md §4.3's
// tie-break rule, never as a genuine failure.
type StageCancelledError struct {
	Stage string
}

func (e *StageCancelledError) Error() string {
	return fmt.Sprintf("stage %s: stage_cancelled", e.Stage)
}
