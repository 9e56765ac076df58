package interp

import (
	"context"
	"testing"
)

// literalArgEvaluator is a minimal ArgEvaluator stub: it resolves
// LiteralNode directly and VariableReference by delegating to the
// Environment, enough to drive ExecInvoker.Invoke without a full
// Evaluator.
type literalArgEvaluator struct{}

func (literalArgEvaluator) EvalArg(node Node, env *Environment) (*StructuredValue, error) {
	switch n := node.(type) {
	case *LiteralNode:
		return Wrap(n.Value), nil
	case *VariableReference:
		v, ok := env.Lookup(n.Name)
		if !ok {
			return nil, &InterpError{Kind: KindResolution, Code: "VARIABLE_UNDEFINED", Message: "\"" + n.Name + "\" is not defined"}
		}
		if sv, ok := v.Value.(*StructuredValue); ok {
			return sv, nil
		}
		d := v.Descriptor()
		return Wrap(v.Value).WithDescriptor(&d), nil
	default:
		return Wrap(""), nil
	}
}

func newTestInvoker(t *testing.T, builtins *Container) (*ExecInvoker, *Environment) {
	t.Helper()
	policy := NewPolicyEnforcer()
	builtinDispatcher := NewBuiltinDispatcher(builtins, nil, nil, nil)
	invoker := NewExecInvoker(nil, policy, nil, nil, nil, nil, builtinDispatcher, nil, nil, nil, nil)
	invoker.SetArgEvaluator(literalArgEvaluator{})
	env := NewRootEnvironment("/project", PathContext{})
	return invoker, env
}

func defineBuiltinExe(env *Environment, name string, paramNames []string, refName string, withClause *WithClause) {
	def := &ExecutableDefinition{Kind: ExecBuiltin, ParamNames: paramNames, RefName: refName, WithClause: withClause}
	v := NewVariableFactory().Executable(name, def, VariableSource{Directive: "exe"})
	env.Define(v, false)
}

// TestExecInvoker_InvokeDispatchesBuiltinAndBindsPositionalArgs exercises
// steps 1-5 of the ExecInvocation contract: resolving the executable,
// binding args into a child Environment as parameters, and dispatching
// to the registered builtin transformer (§4.2, §4.7).
func TestExecInvoker_InvokeDispatchesBuiltinAndBindsPositionalArgs(t *testing.T) {
	container := NewContainer()
	container.SetTransformer("greet", func(ic *InvocationContext, args map[string]any) (map[string]any, error) {
		name, _ := args["name"].(string)
		return map[string]any{"text": "hello, " + name}, nil
	})

	invoker, env := newTestInvoker(t, container)
	defineBuiltinExe(env, "greeter", []string{"name"}, "greet", nil)

	node := &ExecInvocationNode{Name: "greeter", Args: []Node{lit("world")}}
	res, err := invoker.Invoke(context.Background(), env, nil, node, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Denied {
		t.Fatalf("expected the invocation to succeed, got denied: %s", res.DenyReason)
	}
	got, _ := res.Value.Unwrap().(map[string]any)
	if got["text"] != "hello, world" {
		t.Errorf("expected the builtin's result to flow through, got %v", res.Value.Unwrap())
	}
}

func TestExecInvoker_InvokeFailsWhenExecutableUndefined(t *testing.T) {
	invoker, env := newTestInvoker(t, NewContainer())

	node := &ExecInvocationNode{Name: "missing"}
	_, err := invoker.Invoke(context.Background(), env, nil, node, nil)
	if err == nil {
		t.Fatal("expected an error for an undefined executable")
	}
	ierr, ok := err.(*InterpError)
	if !ok || ierr.Kind != KindResolution {
		t.Errorf("expected a KindResolution InterpError, got %v", err)
	}
}

// TestExecInvoker_InvokeDeniedByPerOperationGuardShortCircuitsDispatch
// covers §4.9's per-operation guard surface on the "exe" operation kind:
// a deny decision must short-circuit before dispatch runs and surface
// through InvocationResult.Denied rather than as a Go error (§7).
func TestExecInvoker_InvokeDeniedByPerOperationGuardShortCircuitsDispatch(t *testing.T) {
	calls := 0
	container := NewContainer()
	container.SetTransformer("greet", func(ic *InvocationContext, args map[string]any) (map[string]any, error) {
		calls++
		return map[string]any{"text": "should not run"}, nil
	})

	invoker, env := newTestInvoker(t, container)
	defineBuiltinExe(env, "greeter", []string{"name"}, "greet", nil)
	env.GuardReg.Register(&Guard{
		Name:  "block-greeter",
		Scope: ScopePerOperation,
		Kind:  "exe",
		Rules: []GuardRule{{IsWildcard: true, Decision: DecisionDeny, Message: "greeter is disabled"}},
	})

	node := &ExecInvocationNode{Name: "greeter", Args: []Node{lit("world")}}
	res, err := invoker.Invoke(context.Background(), env, nil, node, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Denied || res.DenyReason != "greeter is disabled" {
		t.Errorf("expected a denied result carrying the guard's message, got %+v", res)
	}
	if calls != 0 {
		t.Error("expected the guard denial to short-circuit before the builtin ran")
	}
}

// TestExecInvoker_InvokeMergesArgumentDescriptorsIntoOutput covers §4.9
// "Output descriptors are derived by unioning input taint with
// exeLabels": a secret-labeled argument's descriptor must propagate onto
// the invocation's output.
func TestExecInvoker_InvokeMergesArgumentDescriptorsIntoOutput(t *testing.T) {
	container := NewContainer()
	container.SetTransformer("echo", func(ic *InvocationContext, args map[string]any) (map[string]any, error) {
		return map[string]any{"value": args["in"]}, nil
	})

	invoker, env := newTestInvoker(t, container)
	defineBuiltinExe(env, "echoer", []string{"in"}, "echo", nil)

	secretDesc := NewDescriptor([]string{LabelSecret}, []string{TaintKeychain}, nil)
	secretVar := NewVariableFactory().Structured("apiKey", Wrap("sk-live").WithDescriptor(&secretDesc), VariableSource{})
	env.Define(secretVar, false)

	node := &ExecInvocationNode{Name: "echoer", Args: []Node{varRef("apiKey")}}
	res, err := invoker.Invoke(context.Background(), env, nil, node, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Value.Descriptor == nil || !res.Value.Descriptor.HasLabel(LabelSecret) {
		t.Errorf("expected the secret label to propagate onto the output, got %+v", res.Value.Descriptor)
	}
}

// TestExecInvoker_InvokeEntersPipelineWhenWithClauseCarriesStages covers
// §4.2 step 7: a with-clause pipeline routes the invocation's output
// through the Pipeline Executor before the result is returned.
func TestExecInvoker_InvokeEntersPipelineWhenWithClauseCarriesStages(t *testing.T) {
	container := NewContainer()
	container.SetTransformer("one", func(ic *InvocationContext, args map[string]any) (map[string]any, error) {
		return map[string]any{"n": int64(1)}, nil
	})
	container.SetTransformer("double", func(ic *InvocationContext, args map[string]any) (map[string]any, error) {
		in, _ := args["in"].(map[string]any)
		n, _ := in["n"].(int64)
		return map[string]any{"n": n * 2}, nil
	})

	invoker, env := newTestInvoker(t, container)
	withClause := &WithClause{Pipeline: []PipelineStage{
		{Entries: []PipelineStageEntry{{ExecutableName: "doubler"}}},
	}}
	defineBuiltinExe(env, "source", nil, "one", withClause)
	defineBuiltinExe(env, "doubler", []string{"in"}, "double", nil)

	node := &ExecInvocationNode{Name: "source"}
	res, err := invoker.Invoke(context.Background(), env, nil, node, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := res.Value.Unwrap().(map[string]any)
	if !ok {
		t.Fatalf("expected a map result, got %v", res.Value.Unwrap())
	}
	if got["n"] != int64(2) {
		t.Errorf("expected the pipeline's doubler stage to run on the source output, got %v", got["n"])
	}
}

func TestCheckOperationGuard_NoRegisteredGuardsAllows(t *testing.T) {
	invoker, env := newTestInvoker(t, NewContainer())

	denied, _, retry, err := invoker.checkOperationGuard(env, nil, "exe", "anything")
	if err != nil || denied || retry != nil {
		t.Errorf("expected no-guard-registered to allow freely, got denied=%v retry=%v err=%v", denied, retry, err)
	}
}

func TestCheckOperationGuard_RetryDecisionSurfacesAsRetrySignal(t *testing.T) {
	invoker, env := newTestInvoker(t, NewContainer())
	env.GuardReg.Register(&Guard{
		Name:  "retry-once",
		Scope: ScopePerOperation,
		Kind:  "run",
		Rules: []GuardRule{{IsWildcard: true, Decision: DecisionRetry, Message: "try again"}},
	})

	denied, _, retry, err := invoker.checkOperationGuard(env, nil, "run", "cmd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denied || retry == nil || retry.Hint != "try again" {
		t.Errorf("expected a retry signal carrying the guard's hint, got denied=%v retry=%v", denied, retry)
	}
}

func TestDescriptorOrEmpty_NilSafe(t *testing.T) {
	var sv *StructuredValue
	if sv.DescriptorOrEmpty().HasLabel(LabelSecret) {
		t.Error("expected a nil StructuredValue to produce the empty descriptor")
	}

	plain := Wrap("x")
	if plain.DescriptorOrEmpty().HasLabel(LabelSecret) {
		t.Error("expected an undescriptored value to produce the empty descriptor")
	}
}

func TestEnvSnapshot_CapturesLocalBindingsOnly(t *testing.T) {
	env := NewRootEnvironment("/project", PathContext{})
	env.Define(NewVariableFactory().Structured("x", Wrap("outer"), VariableSource{}), false)
	child := env.Child()
	child.Define(NewVariableFactory().Structured("y", Wrap("inner"), VariableSource{}), false)

	snap := envSnapshot(child)
	if _, ok := snap["y"]; !ok {
		t.Error("expected envSnapshot to capture the environment's own local binding")
	}
	if _, ok := snap["x"]; ok {
		t.Error("expected envSnapshot not to walk the parent chain (Names() is local-only)")
	}
}

func TestEnvSnapshot_NilEnvironmentReturnsEmptyMap(t *testing.T) {
	snap := envSnapshot(nil)
	if len(snap) != 0 {
		t.Errorf("expected an empty map for a nil environment, got %v", snap)
	}
}
