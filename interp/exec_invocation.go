package interp

import (
	"context"
	"log/slog"
)

// ArgEvaluator interpolates an argument AST node against an Environment,
// producing its StructuredValue. The Evaluator implements this; wiring
// it here (rather than importing the Evaluator type) keeps ExecInvoker
// usable before the Evaluator exists, avoiding an initialization-order
// dependency within the package (§4.1, §4.2 step 2).
type ArgEvaluator interface {
	EvalArg(node Node, env *Environment) (*StructuredValue, error)
}

// NodeExecutor hands the two pseudo-languages (mlld-when, mlld-exe-block)
// back to the Evaluator instead of a real code interpreter (§4.4). The
// Evaluator implements this the same way it implements ArgEvaluator.
type NodeExecutor interface {
	ExecNode(ctx context.Context, node Node, env *Environment) (*StructuredValue, error)
}

// InvocationResult carries the outcome of an ExecInvocation. Denied is
// not populated via the error return: per §7, a guard `deny` is a
// first-class evaluation context, not a Go error (guard.go's
// ApplyOutcome documents the same distinction).
type InvocationResult struct {
	Value      *StructuredValue
	Denied     bool
	DenyReason string
}

// ExecInvoker resolves, binds, and dispatches executable invocations
// (§4.2), composing the command/code/template/ref/builtin dispatch
// strategies (§4.3-§4.7) and entering the Pipeline Executor when a
// with-clause carries a pipeline (§4.2 step 7).
type ExecInvoker struct {
	l        *slog.Logger
	arg      ArgEvaluator
	nodeExec NodeExecutor
	policy   *PolicyEnforcer
	cmd      *CommandExecutor
	code     *CodeExecutor
	template *TemplateRenderer
	ref      *RefResolver
	builtin  *BuiltinDispatcher
	cfg      *ExecutionConfig
	approver Approver
	bus      EventBus
	compRun  CompensationRunner
}

// NewExecInvoker constructs an ExecInvoker. The ArgEvaluator must be
// wired with SetArgEvaluator before the first Invoke call; the
// Evaluator does this once it constructs itself around this invoker.
func NewExecInvoker(l *slog.Logger, policy *PolicyEnforcer, cmd *CommandExecutor, code *CodeExecutor, template *TemplateRenderer, ref *RefResolver, builtin *BuiltinDispatcher, cfg *ExecutionConfig, approver Approver, bus EventBus, compRun CompensationRunner) *ExecInvoker {
	if l == nil {
		l = slog.Default()
	}
	return &ExecInvoker{l: l, policy: policy, cmd: cmd, code: code, template: template, ref: ref, builtin: builtin, cfg: cfg, approver: approver, bus: bus, compRun: compRun}
}

// SetArgEvaluator wires the Evaluator used to interpolate argument AST
// nodes (§4.2 step 2).
func (x *ExecInvoker) SetArgEvaluator(ev ArgEvaluator) { x.arg = ev }

// SetNodeExecutor wires the Evaluator used to run the mlld-when and
// mlld-exe-block pseudo-language bodies (§4.4).
func (x *ExecInvoker) SetNodeExecutor(ne NodeExecutor) { x.nodeExec = ne }

// Invoke runs the full ExecInvocation contract (§4.2 steps 1-7) for
// node against env, returning the result or a guard-denied outcome.
func (x *ExecInvoker) Invoke(ctx context.Context, env *Environment, cm *ContextManager, node *ExecInvocationNode, parentUniversal *UniversalContext) (*InvocationResult, error) {
	// Step 1: resolve.
	v, ok := env.Lookup(node.Name)
	if !ok || !v.IsExecutable() {
		return nil, &InterpError{Kind: KindResolution, Code: "EXEC_NOT_FOUND", Message: "\"" + node.Name + "\" is not a defined executable", Variable: node.Name}
	}
	def := v.ExecutableDef()
	if def.Kind == ExecCommandRef {
		resolved, err := x.ref.Resolve(env, node.Name, def)
		if err != nil {
			return nil, err
		}
		def = resolved
	}

	// Step 2: bind args.
	child := env.Child()
	argDescs := make([]SecurityDescriptor, 0, len(node.Args))
	boundArgs := make(map[string]*StructuredValue, len(def.ParamNames))
	for i, pname := range def.ParamNames {
		var sv *StructuredValue
		if i < len(node.Args) {
			resolved, err := x.evalArg(node.Args[i], env)
			if err != nil {
				return nil, err
			}
			sv = resolved
		} else {
			sv = Wrap("")
		}
		boundArgs[pname] = sv
		if sv.Descriptor != nil {
			argDescs = append(argDescs, *sv.Descriptor)
		}
		child.DefineParameter(NewVariableFactory().Parameter(pname, sv.Unwrap(), sv.DescriptorOrEmpty()))
		if cm != nil {
			cm.OnValueBound(child.parameters[pname])
		}
	}

	// Step 3: universal context.
	try := 0
	if parentUniversal != nil {
		try = parentUniversal.Try
	}
	depth := 1
	if parentUniversal != nil {
		if d, ok := parentUniversal.Metadata["execDepth"].(int); ok {
			depth = d + 1
		}
	}
	universal := &UniversalContext{
		Stage:      0,
		IsPipeline: def.WithClause != nil && len(def.WithClause.Pipeline) > 0,
		Try:        try,
		Metadata: map[string]any{
			"execDepth":      depth,
			"execName":       node.Name,
			"isRetryable":    true,
			"executableType": string(def.Kind),
		},
	}
	child.Universal = universal

	if cm != nil {
		cm.PushOperation(&OperationContext{OpType: "exe", OpName: node.Name, Env: child})
		defer cm.PopOperation()
	}

	// Per-operation guard check.
	if denied, reason, retrySig, err := x.checkOperationGuard(env, cm, "exe", node.Name); err != nil {
		return nil, err
	} else if denied {
		if cm != nil {
			top := cm.Top()
			top.Denied = true
			top.DenyReason = reason
		}
		return &InvocationResult{Denied: true, DenyReason: reason}, nil
	} else if retrySig != nil {
		x.l.Debug("guard requested retry on exe operation", "exec", node.Name, "hint", retrySig.Hint)
	}

	// Step 4+5: dispatch on executable kind.
	out, err := x.dispatch(ctx, child, def, boundArgs)
	if err != nil {
		return nil, err
	}

	// Step 6: propagate descriptors.
	merged := x.policy.DeriveOutputDescriptor(argDescs, nil)
	if out.Descriptor != nil {
		merged = merged.Merge(*out.Descriptor)
	}
	out = out.WithDescriptor(&merged)

	if cm != nil {
		cm.Top().Output = out
	}

	// Step 7: enter pipeline if the with-clause carries one. The
	// synthetic source re-runs this invocation's own dispatch+descriptor
	// steps so a retry-from-0 can regenerate fresh upstream input
	// instead of replaying the first StructuredValue forever.
	if def.WithClause != nil && len(def.WithClause.Pipeline) > 0 {
		source := func(srcCtx context.Context) (*StructuredValue, error) {
			fresh, err := x.dispatch(srcCtx, child, def, boundArgs)
			if err != nil {
				return nil, err
			}
			freshMerged := x.policy.DeriveOutputDescriptor(argDescs, nil)
			if fresh.Descriptor != nil {
				freshMerged = freshMerged.Merge(*fresh.Descriptor)
			}
			return fresh.WithDescriptor(&freshMerged), nil
		}
		pipelineOut, err := x.runPipeline(ctx, child, cm, def.WithClause.Pipeline, out, source)
		if err != nil {
			return nil, err
		}
		return &InvocationResult{Value: pipelineOut}, nil
	}

	return &InvocationResult{Value: out}, nil
}

func (x *ExecInvoker) evalArg(node Node, env *Environment) (*StructuredValue, error) {
	if x.arg == nil {
		return nil, &InterpError{Kind: KindExecution, Code: "ARG_EVALUATOR_UNSET", Message: "ExecInvoker has no ArgEvaluator wired"}
	}
	return x.arg.EvalArg(node, env)
}

// checkOperationGuard runs every registered per-operation guard of the
// given kind, in the registry's map order (not registration order),
// short-circuiting on the first
// non-allow decision (§4.9).
func (x *ExecInvoker) checkOperationGuard(env *Environment, cm *ContextManager, kind, opName string) (denied bool, reason string, retry *RetrySignal, err error) {
	if env.GuardReg == nil {
		return false, "", nil, nil
	}
	guards := env.GuardReg.ForKind(ScopePerOperation, kind)
	if len(guards) == 0 {
		return false, "", nil, nil
	}

	engine := NewGuardEngine(x.approver)
	scope := map[string]any{"op": map[string]any{"type": kind, "name": opName}}
	if cm != nil {
		for k, v := range cm.BuildCtx() {
			scope[k] = v
		}
	}

	for _, g := range guards {
		outcome, evalErr := engine.Evaluate(g, scope)
		if evalErr != nil {
			return false, "", nil, evalErr
		}
		if outcome.Decision == DecisionAllow {
			continue
		}
		d, r, rs := outcome.ApplyOutcome()
		return d, r, rs, nil
	}
	return false, "", nil, nil
}

// dispatch implements §4.3-§4.7 by executable kind.
func (x *ExecInvoker) dispatch(ctx context.Context, env *Environment, def *ExecutableDefinition, args map[string]*StructuredValue) (*StructuredValue, error) {
	plain := make(map[string]any, len(args))
	for k, v := range args {
		plain[k] = v.Unwrap()
	}

	switch def.Kind {
	case ExecCommand:
		commandText, err := x.renderCommandAST(def.CommandAST, env)
		if err != nil {
			return nil, err
		}
		return x.cmd.Execute(ctx, commandText, env.Cwd, stringifyParams(plain), nil)

	case ExecCode:
		if def.Language == PseudoLangWhen || def.Language == PseudoLangExeBlock {
			if x.nodeExec == nil {
				return nil, &InterpError{Kind: KindExecution, Code: "NODE_EXECUTOR_UNSET", Message: "ExecInvoker has no NodeExecutor wired for " + def.Language}
			}
			node, ok := def.CodeAST.(Node)
			if !ok {
				return nil, &InterpError{Kind: KindParseOrShape, Code: "PSEUDO_LANG_BODY_SHAPE", Message: def.Language + " body must be an AST node"}
			}
			return x.nodeExec.ExecNode(ctx, node, env)
		}
		code, _ := def.CodeAST.(string)
		shadow := make(map[string]any, len(def.CapturedShadow))
		for name, senv := range def.CapturedShadow {
			shadow[name] = envSnapshot(senv)
		}
		transformerFlat := map[string]any{}
		if x.builtin != nil && x.builtin.container != nil {
			transformerFlat = flattenTransformers(x.builtin.container)
		}
		return x.code.Execute(ctx, def.Language, code, plain, transformerFlat, shadow, env.Cwd)

	case ExecTemplate:
		parts := make([]TemplatePart, 0, len(def.TemplateParts))
		for _, p := range def.TemplateParts {
			switch tp := p.(type) {
			case string:
				parts = append(parts, TemplatePart{Literal: tp})
			case *VariableReference:
				parts = append(parts, TemplatePart{Ref: tp})
			}
		}
		return x.template.Render(parts, func(ref *VariableReference) (string, SecurityDescriptor, error) {
			sv, err := x.evalArg(ref, env)
			if err != nil {
				return "", EmptyDescriptor(), err
			}
			return sv.Text, sv.DescriptorOrEmpty(), nil
		})

	case ExecProse:
		return nil, &InterpError{Kind: KindExecution, Code: "PROSE_UNSUPPORTED", Message: "prose executables require a configured language model provider"}

	case ExecBuiltin:
		ic := &InvocationContext{Env: env}
		return x.builtin.Dispatch(ic, def.RefName, plain)

	default:
		return nil, &InterpError{Kind: KindValidation, Code: "EXEC_KIND_UNKNOWN", Message: "unknown executable kind \"" + string(def.Kind) + "\""}
	}
}

// renderCommandAST interpolates a command template (a plain string, or
// a []any of literal/*VariableReference parts) with the shell-safe
// renderer (§4.3).
func (x *ExecInvoker) renderCommandAST(commandAST any, env *Environment) (string, error) {
	switch v := commandAST.(type) {
	case string:
		return v, nil
	case []any:
		parts := make([]TemplatePart, 0, len(v))
		for _, p := range v {
			switch tp := p.(type) {
			case string:
				parts = append(parts, TemplatePart{Literal: tp})
			case *VariableReference:
				parts = append(parts, TemplatePart{Ref: tp})
			}
		}
		renderer := NewShellSafeRenderer()
		text, _, err := renderer.Render(parts, func(ref *VariableReference) (string, SecurityDescriptor, error) {
			sv, err := x.evalArg(ref, env)
			if err != nil {
				return "", EmptyDescriptor(), err
			}
			return sv.Text, sv.DescriptorOrEmpty(), nil
		})
		return text, err
	default:
		return "", &InterpError{Kind: KindParseOrShape, Code: "COMMAND_AST_SHAPE", Message: "command AST must be a string or []any template parts"}
	}
}

func envSnapshot(env *Environment) map[string]any {
	if env == nil {
		return map[string]any{}
	}
	out := map[string]any{}
	for _, name := range env.Names() {
		if v, ok := env.LocalLookup(name); ok {
			out[name] = v.Value
		}
	}
	return out
}

func flattenTransformers(c *Container) map[string]any {
	out := make(map[string]any, len(c.Transformers))
	for name, fn := range c.Transformers {
		out[name] = fn
	}
	return out
}

// DescriptorOrEmpty returns sv.Descriptor dereferenced, or the empty
// descriptor when sv carries none.
func (sv *StructuredValue) DescriptorOrEmpty() SecurityDescriptor {
	if sv == nil || sv.Descriptor == nil {
		return EmptyDescriptor()
	}
	return *sv.Descriptor
}

// runPipeline builds and drives a PipelineRun for a with-clause pipeline
// attached to this invocation (§4.2 step 7, §4.8).
func (x *ExecInvoker) runPipeline(ctx context.Context, env *Environment, cm *ContextManager, stages []PipelineStage, input *StructuredValue, source SyntheticSourceFunc) (*StructuredValue, error) {
	if cm == nil {
		cm = NewContextManager()
	}
	run := NewPipelineRun(stages, input, cm, x.bus)
	run.SyntheticSource = source
	run = run.WithContext(ctx)

	runner := &pipelineStageRunner{x: x, env: env, cm: cm}
	executor := NewPipelineExecutor(x.l, runner, x.compRun, x.cfg)
	return executor.Run(run)
}

// pipelineStageRunner adapts ExecInvoker to the StageRunner interface,
// resolving each stage entry's ExecutableName against the Environment
// captured when the pipeline was entered (§4.2 step 7).
type pipelineStageRunner struct {
	x   *ExecInvoker
	env *Environment
	cm  *ContextManager
}

func (r *pipelineStageRunner) ExecuteEntry(ctx context.Context, run *PipelineRun, entry PipelineStageEntry, input *StructuredValue, try int) (*StructuredValue, *RetrySignal, error) {
	v, ok := r.env.Lookup(entry.ExecutableName)
	if !ok || !v.IsExecutable() {
		return nil, nil, &InterpError{Kind: KindResolution, Code: "EXEC_NOT_FOUND", Message: "\"" + entry.ExecutableName + "\" is not a defined executable", Variable: entry.ExecutableName}
	}
	def := v.ExecutableDef()
	if def.Kind == ExecCommandRef {
		resolved, err := r.x.ref.Resolve(r.env, entry.ExecutableName, def)
		if err != nil {
			return nil, nil, err
		}
		def = resolved
	}

	child := r.env.Child()
	args := make(map[string]*StructuredValue, len(def.ParamNames)+1)
	for i, pname := range def.ParamNames {
		if i == 0 {
			args[pname] = input
			continue
		}
		if i-1 < len(entry.StaticArgs) {
			args[pname] = Wrap(entry.StaticArgs[i-1])
		} else {
			args[pname] = Wrap("")
		}
	}

	stage := 0
	for idx, s := range run.Stages {
		for _, e := range s.Entries {
			if e.ExecutableName == entry.ExecutableName {
				stage = idx
			}
		}
	}
	child.Universal = &UniversalContext{Stage: stage, IsPipeline: true, Try: try}

	if r.cm != nil {
		r.cm.PushOperation(&OperationContext{
			OpType: "exe",
			OpName: entry.ExecutableName,
			Env:    child,
			Pipe: &PipeSnapshot{
				Stage:      stage,
				Try:        try,
				LastOutput: input,
				Tries:      run.RetryHistory[stage],
				Hint:       entry.Hint,
				Input:      input,
			},
		})
		defer r.cm.PopOperation()
	}

	if denied, reason, retrySig, err := r.x.checkOperationGuard(r.env, r.cm, "exe", entry.ExecutableName); err != nil {
		return nil, nil, err
	} else if denied {
		return nil, nil, ErrLabelFlowDenied(reason)
	} else if retrySig != nil {
		return nil, retrySig, nil
	}

	out, err := r.x.dispatch(ctx, child, def, args)
	if err != nil {
		if tf, ok := err.(*TaskFailure); ok && tf.IsRetryable() {
			return nil, &RetrySignal{Hint: tf.Error()}, nil
		}
		return nil, nil, err
	}

	merged := r.x.policy.DeriveOutputDescriptor([]SecurityDescriptor{input.DescriptorOrEmpty()}, nil)
	if out.Descriptor != nil {
		merged = merged.Merge(*out.Descriptor)
	}
	return out.WithDescriptor(&merged), nil, nil
}
