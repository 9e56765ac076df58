package interp

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var _ context.Context = &PipelineRun{}

// PipelineEventType names the stream-bus event kinds emitted by the
// pipeline executor (§6 "Stream bus events").
type PipelineEventType string

const (
	EventPipelineStart    PipelineEventType = "PIPELINE_START"
	EventStageStart       PipelineEventType = "STAGE_START"
	EventStageSuccess     PipelineEventType = "STAGE_SUCCESS"
	EventStageFailure     PipelineEventType = "STAGE_FAILURE"
	EventPipelineComplete PipelineEventType = "PIPELINE_COMPLETE"
	EventPipelineAbort    PipelineEventType = "PIPELINE_ABORT"
)

// PipelineEvent is the opaque shape pushed to the stream bus; consumers
// are informational and may drop events (§6, §8 invariant 2).
type PipelineEvent struct {
	Type       PipelineEventType
	PipelineID string
	Timestamp  time.Time
	Stage      int
	Err        error
}

// EventBus is the sink pipeline events are pushed to. A nil bus is
// valid and simply drops events.
type EventBus interface {
	Emit(PipelineEvent)
}

// CompensationEntry records a stage that produced side effects and must
// be undone if a later stage fails (supplemented feature 3).
type CompensationEntry struct {
	StageIndex int
	Body       any // AST body, run by the evaluator
}

// SyntheticSourceFunc re-executes the upstream op that produced the
// pipeline's initial input, used to satisfy a retry-from-0 (§3.6, §4.8,
// glossary "Synthetic source").
type SyntheticSourceFunc func(ctx context.Context) (*StructuredValue, error)

// PipelineRun carries all mutable state for one pipeline execution. It
// implements context.Context so stage invocations and slog calls can
// take *PipelineRun directly as their context argument, mirroring
// runtime/execution.go's Execution/context.Context delegation.
type PipelineRun struct {
	ID                string
	Stages            []PipelineStage
	InitialInput      *StructuredValue
	StageOutputs      []*StructuredValue
	RetryHistory      map[int][]TryRecord
	SyntheticSource   SyntheticSourceFunc
	CompensationStack []CompensationEntry
	ContextMgr        *ContextManager
	Bus               EventBus

	ctx              context.Context
	regenerateSource bool
}

// NewPipelineRun constructs a PipelineRun for the given stages and
// initial input, stamping a fresh uuid the same way runtime's
// NewExecution stamps Execution.ID.
func NewPipelineRun(stages []PipelineStage, input *StructuredValue, cm *ContextManager, bus EventBus) *PipelineRun {
	return &PipelineRun{
		ID:           uuid.New().String(),
		Stages:       stages,
		InitialInput: input,
		StageOutputs: make([]*StructuredValue, len(stages)),
		RetryHistory: map[int][]TryRecord{},
		ContextMgr:   cm,
		Bus:          bus,
		ctx:          context.Background(),
	}
}

func (r *PipelineRun) Deadline() (time.Time, bool) { return r.ctx.Deadline() }
func (r *PipelineRun) Done() <-chan struct{}       { return r.ctx.Done() }
func (r *PipelineRun) Err() error                  { return r.ctx.Err() }
func (r *PipelineRun) Value(key any) any           { return r.ctx.Value(key) }

// WithContext returns a shallow copy of r with a new embedded context,
// used to attach an invocation's context without mutating the parent
// (mirrors Execution.WithContext).
func (r *PipelineRun) WithContext(ctx context.Context) *PipelineRun {
	cp := *r
	cp.ctx = ctx
	return &cp
}

// emit pushes an event to the bus if one is attached.
func (r *PipelineRun) emit(t PipelineEventType, stage int, err error) {
	if r.Bus == nil {
		return
	}
	r.Bus.Emit(PipelineEvent{Type: t, PipelineID: r.ID, Timestamp: time.Now(), Stage: stage, Err: err})
}

// inputForStage returns the StructuredValue a stage at index i should
// consume: the previous stage's output, or the initial input for stage
// 0 — regenerated from SyntheticSource when a retry-from-0 has marked
// it stale (§3.6, §4.8, glossary "Synthetic source").
func (r *PipelineRun) inputForStage(i int) (*StructuredValue, error) {
	if i != 0 {
		return r.StageOutputs[i-1], nil
	}
	if r.regenerateSource && r.SyntheticSource != nil {
		r.regenerateSource = false
		fresh, err := r.SyntheticSource(r)
		if err != nil {
			return nil, err
		}
		r.InitialInput = fresh
		return fresh, nil
	}
	r.regenerateSource = false
	return r.InitialInput, nil
}

// markRetryToSource flags that the next inputForStage(0) call should
// regenerate the input via SyntheticSource instead of reusing the
// cached InitialInput.
func (r *PipelineRun) markRetryToSource() {
	r.regenerateSource = true
}

// clearFrom wipes recorded outputs from index k onward, per the retry
// transition "clear stageOutputs[k..]" (§4.8).
func (r *PipelineRun) clearFrom(k int) {
	for i := k; i < len(r.StageOutputs); i++ {
		r.StageOutputs[i] = nil
	}
}

// recordTry appends a TryRecord to a stage's retry history.
func (r *PipelineRun) recordTry(stage int, rec TryRecord) {
	r.RetryHistory[stage] = append(r.RetryHistory[stage], rec)
}
