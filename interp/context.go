package interp

// OperationContext is a stack frame describing the currently executing
// directive/operation; pushed on entry, popped on exit (§3.5).
type OperationContext struct {
	OpType    string // "exe", "output", "show", "run", ...
	OpName    string
	Env       *Environment
	Pipe      *PipeSnapshot
	Guard     *GuardSnapshot
	Denied    bool
	DenyReason string
	Labels    []string
	Output    *StructuredValue // @ctx.output, current upstream value
}

// PipeSnapshot is the pipeline-facing slice of @ctx, present only in
// pipeline contexts (§3.5 "@ctx.pipe is present only in pipeline
// contexts").
type PipeSnapshot struct {
	Stage      int
	Try        int
	LastOutput *StructuredValue
	Tries      []TryRecord
	Hint       string
	Input      *StructuredValue
}

// TryRecord is one entry of @ctx.pipe.tries[], recording a retry hint
// issued by a guard or stage (§4.8 "Retry hints are recorded in a
// per-stage history").
type TryRecord struct {
	Attempt int
	Hint    string
	Outcome string
}

// GuardSnapshot is the guard-facing slice of @ctx exposed to rule bodies
// (§4.9, §6 "Guard surface"): @ctx.guard.try and @ctx.guard.reason.
type GuardSnapshot struct {
	Try    int
	Reason string
}

// ContextManager owns the per-invocation stack of OperationContexts. It
// must not be shared across pipelines (§5 "Shared resources").
type ContextManager struct {
	stack []*OperationContext
}

// NewContextManager returns an empty ContextManager.
func NewContextManager() *ContextManager {
	return &ContextManager{}
}

// PushOperation pushes a new OperationContext frame on entry into a
// directive/op (§3.5, §9 "pushOperation").
func (cm *ContextManager) PushOperation(ctx *OperationContext) {
	cm.stack = append(cm.stack, ctx)
}

// PopOperation pops the top-of-stack frame on exit.
func (cm *ContextManager) PopOperation() {
	if len(cm.stack) == 0 {
		return
	}
	cm.stack = cm.stack[:len(cm.stack)-1]
}

// Top returns the top-of-stack OperationContext, or nil if the stack is
// empty.
func (cm *ContextManager) Top() *OperationContext {
	if len(cm.stack) == 0 {
		return nil
	}
	return cm.stack[len(cm.stack)-1]
}

// BuildCtx materializes the ambient @ctx object exposed to user code
// from the top-of-stack op context, the active security snapshot, and
// an optional pipeline snapshot (§3.5).
func (cm *ContextManager) BuildCtx() map[string]any {
	top := cm.Top()
	if top == nil {
		return map[string]any{}
	}

	out := map[string]any{
		"op": map[string]any{
			"type": top.OpType,
			"name": top.OpName,
		},
		"labels": top.Labels,
		"denied": top.Denied,
	}
	if top.Denied {
		out["reason"] = top.DenyReason
	}
	if top.Output != nil {
		out["output"] = top.Output.Unwrap()
	}
	if top.Guard != nil {
		out["guard"] = map[string]any{
			"try":    top.Guard.Try,
			"reason": top.Guard.Reason,
		}
	}
	if top.Pipe != nil {
		tries := make([]map[string]any, len(top.Pipe.Tries))
		for i, t := range top.Pipe.Tries {
			tries[i] = map[string]any{
				"attempt": t.Attempt,
				"hint":    t.Hint,
				"outcome": t.Outcome,
			}
		}
		pipe := map[string]any{
			"stage": top.Pipe.Stage,
			"try":   top.Pipe.Try,
			"tries": tries,
			"hint":  top.Pipe.Hint,
		}
		if top.Pipe.LastOutput != nil {
			pipe["lastOutput"] = top.Pipe.LastOutput.Unwrap()
		}
		if top.Pipe.Input != nil {
			pipe["input"] = top.Pipe.Input.Unwrap()
		}
		out["pipe"] = pipe
	}
	return out
}

// OnValueBound notifies the context manager a Variable was bound or
// passed as an argument, giving the policy layer a chance to observe
// per-input guard triggers (§9 "onValueBound", §4.9 "per-input").
func (cm *ContextManager) OnValueBound(v *Variable) {
	top := cm.Top()
	if top == nil || v == nil || v.Mx == nil {
		return
	}
	top.Labels = append(top.Labels, v.Mx.LabelSlice()...)
}
