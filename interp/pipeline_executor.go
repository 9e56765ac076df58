package interp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// RetrySignal is returned by a StageRunner in place of a successful
// output when a stage (or a guard observing it) wants to re-run an
// earlier stage (§4.8 "Retry semantics").
type RetrySignal struct {
	Hint string
	From *int // nil => default to stage index - 1
}

// StageRunner invokes a single PipelineStageEntry against an input
// StructuredValue and returns either a new output, a retry signal, or
// an error. It is the seam between the pipeline state machine and
// ExecInvocation (§4.2 step 7 enters the Pipeline Executor; the
// executor calls back into ExecInvocation through this interface).
type StageRunner interface {
	ExecuteEntry(ctx context.Context, run *PipelineRun, entry PipelineStageEntry, input *StructuredValue, try int) (*StructuredValue, *RetrySignal, error)
}

// CompensationRunner executes a stage's compensation body, used to
// unwind the CompensationStack on abort/error (supplemented feature 3).
type CompensationRunner interface {
	RunCompensation(ctx context.Context, run *PipelineRun, entry CompensationEntry) error
}

// PipelineExecutor is the deterministic state machine described in
// spec §4.8, driving a PipelineRun's stages through Idle ->
// ExecuteStage(i) -> Complete | Error | Abort.
type PipelineExecutor struct {
	l        *slog.Logger
	runner   StageRunner
	compRun  CompensationRunner
	cfg      *ExecutionConfig
}

const defaultIterationCap = 100

// NewPipelineExecutor constructs a PipelineExecutor. cfg may be nil, in
// which case the default 100-iteration cap applies (§4.8).
func NewPipelineExecutor(l *slog.Logger, runner StageRunner, compRun CompensationRunner, cfg *ExecutionConfig) *PipelineExecutor {
	if l == nil {
		l = slog.Default()
	}
	return &PipelineExecutor{l: l, runner: runner, compRun: compRun, cfg: cfg}
}

func (e *PipelineExecutor) iterationCap() int {
	if e.cfg != nil && e.cfg.PipelineIterationCap > 0 {
		return e.cfg.PipelineIterationCap
	}
	return defaultIterationCap
}

// Run drives run through the pipeline state machine to completion,
// returning the final StructuredValue or an error (§4.8 state table).
func (e *PipelineExecutor) Run(run *PipelineRun) (*StructuredValue, error) {
	run.emit(EventPipelineStart, -1, nil)

	i := 0
	iterations := 0

	for {
		iterations++
		if iterations > e.iterationCap() {
			err := ErrPipelineIterationCap()
			e.abort(run, err)
			return nil, err
		}

		if err := run.Err(); err != nil {
			e.abort(run, err)
			return nil, ErrPipelineAborted(err.Error())
		}

		input, err := run.inputForStage(i)
		if err != nil {
			e.abort(run, err)
			return nil, ErrPipelineStageFailed(i, err)
		}

		run.emit(EventStageStart, i, nil)
		out, retry, retryCfg, err := e.executeStage(run, i, input)

		if err != nil {
			run.emit(EventStageFailure, i, err)
			stageErr := ErrPipelineStageFailed(i, err)
			e.runCompensations(run)
			run.emit(EventPipelineAbort, i, stageErr)
			return nil, stageErr
		}

		if retry != nil {
			from := i - 1
			if retry.From != nil {
				from = *retry.From
			}
			if from < 0 {
				from = 0
			}
			if from > i {
				return nil, &InterpError{Kind: KindValidation, Code: "RETRY_FROM_FUTURE", Message: fmt.Sprintf("pipeline retry with from=%d is rejected at stage %d", from, i)}
			}

			attempt := len(run.RetryHistory[i]) + 1
			run.recordTry(i, TryRecord{Attempt: attempt, Hint: retry.Hint, Outcome: "retry"})
			run.clearFrom(from)
			if from == 0 {
				run.markRetryToSource()
			}
			e.waitRetryDelay(run, retryCfg, attempt)
			i = from
			continue
		}

		run.StageOutputs[i] = out
		run.emit(EventStageSuccess, i, nil)

		if i >= len(run.Stages)-1 {
			run.emit(EventPipelineComplete, i, nil)
			return out, nil
		}
		i++
	}
}

// executeStage dispatches a single stage, fanning out to all entries
// concurrently when the stage is a parallel group (§4.8 "Ordering"). The
// returned *RetryConfig is the entry whose retry signal (if any) drove
// the retry, used by Run to compute backoff before re-running from it.
func (e *PipelineExecutor) executeStage(run *PipelineRun, i int, input *StructuredValue) (*StructuredValue, *RetrySignal, *RetryConfig, error) {
	stage := run.Stages[i]
	try := len(run.RetryHistory[i]) + 1

	if !stage.IsParallel {
		if len(stage.Entries) != 1 {
			return nil, nil, nil, fmt.Errorf("non-parallel stage %d must have exactly one entry", i)
		}
		ctx, cancel := e.stageContext(run)
		defer cancel()
		out, retry, err := e.runner.ExecuteEntry(ctx, run, stage.Entries[0], input, try)
		return out, retry, stage.Entries[0].Retry, err
	}

	type branchResult struct {
		index int
		out   *StructuredValue
		retry *RetrySignal
		err   error
	}

	results := make([]branchResult, len(stage.Entries))
	var wg sync.WaitGroup
	for idx, entry := range stage.Entries {
		wg.Add(1)
		go func(idx int, entry PipelineStageEntry) {
			defer wg.Done()
			ctx, cancel := e.stageContext(run)
			defer cancel()
			branchInput := input.Clone()
			out, retry, err := e.runner.ExecuteEntry(ctx, run, entry, branchInput, try)
			results[idx] = branchResult{index: idx, out: out, retry: retry, err: err}
		}(idx, entry)
	}
	wg.Wait()

	// If any branch requests a retry, the open question in spec §9 (i)
	// is resolved as: re-run the entire parallel group from the branch
	// that issued retry.
	for _, r := range results {
		if r.retry != nil {
			return nil, r.retry, stage.Entries[r.index].Retry, nil
		}
	}

	var errs ParallelStageErrors
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, &ParallelStageError{Index: r.index, Key: stage.Entries[r.index].ExecutableName, Err: r.err})
		}
	}
	if len(errs) > 0 {
		return nil, nil, nil, errs
	}

	branches := make([]*StructuredValue, len(results))
	for _, r := range results {
		branches[r.index] = r.out
	}
	return ArrayStructuredValue(branches), nil, nil, nil
}

// waitRetryDelay blocks for the backoff duration computeDelay derives
// from cfg/attempt, honoring run's cancellation (§4.8 retry semantics,
// supplemented feature 1). A nil cfg or zero delay returns immediately.
func (e *PipelineExecutor) waitRetryDelay(run *PipelineRun, cfg *RetryConfig, attempt int) {
	if cfg == nil {
		return
	}
	delay := computeDelay(cfg, attempt)
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-run.Done():
	}
}

func (e *PipelineExecutor) stageContext(run *PipelineRun) (context.Context, context.CancelFunc) {
	return context.WithCancel(run)
}

func (e *PipelineExecutor) runCompensations(run *PipelineRun) {
	if e.compRun == nil {
		return
	}
	safeCtx := context.WithoutCancel(run)
	for i := len(run.CompensationStack) - 1; i >= 0; i-- {
		entry := run.CompensationStack[i]
		if err := e.compRun.RunCompensation(safeCtx, run, entry); err != nil {
			e.l.ErrorContext(run, "compensation failed", "stage", entry.StageIndex, "error", err)
		}
	}
}

func (e *PipelineExecutor) abort(run *PipelineRun, cause error) {
	e.runCompensations(run)
	run.emit(EventPipelineAbort, -1, cause)
}

// computeDelay calculates the retry backoff duration (supplemented
// feature 1, grounded on runtime/executor.go's computeDelay).
func computeDelay(retry *RetryConfig, attempt int) time.Duration {
	if retry == nil {
		return 0
	}
	base := time.Duration(retry.DelayMillis) * time.Millisecond

	var delay time.Duration
	switch retry.Backoff {
	case "linear":
		delay = time.Duration(attempt) * base
	case "exponential":
		delay = time.Duration(math.Pow(2, float64(attempt-1))) * base
	default:
		delay = base
	}

	if retry.MaxDelay > 0 {
		max := time.Duration(retry.MaxDelay) * time.Millisecond
		if delay > max {
			delay = max
		}
	}

	if retry.Jitter && delay > 0 {
		jitter := time.Duration(rand.Int64N(int64(delay)/10 + 1))
		delay += jitter
	}

	return delay
}
