package interp

import "testing"

func newTestVariable(name string, value any) *Variable {
	return &Variable{Name: name, Value: Wrap(value)}
}

func unwrapVar(v *Variable) any {
	sv, ok := v.Value.(*StructuredValue)
	if !ok {
		return v.Value
	}
	return sv.Unwrap()
}

func TestEnvironment_LookupWalksParentChain(t *testing.T) {
	root := NewRootEnvironment("/project", PathContext{})
	if err := root.Define(newTestVariable("base", "root-value"), false); err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	child := root.Child()
	grandchild := child.Child()

	v, ok := grandchild.Lookup("base")
	if !ok {
		t.Fatal("expected grandchild.Lookup to find a variable defined at the root")
	}
	if unwrapVar(v) != "root-value" {
		t.Errorf("got %v, want root-value", unwrapVar(v))
	}
}

func TestEnvironment_ParametersShadowVariables(t *testing.T) {
	env := NewRootEnvironment("/project", PathContext{})
	if err := env.Define(newTestVariable("x", "from-variable"), false); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	env.DefineParameter(newTestVariable("x", "from-parameter"))

	v, ok := env.Lookup("x")
	if !ok {
		t.Fatal("expected Lookup to find x")
	}
	if unwrapVar(v) != "from-parameter" {
		t.Errorf("expected parameter to shadow variable, got %v", unwrapVar(v))
	}
}

func TestEnvironment_DefineRejectsRedefinition(t *testing.T) {
	env := NewRootEnvironment("/project", PathContext{})
	if err := env.Define(newTestVariable("x", 1), false); err != nil {
		t.Fatalf("first Define failed: %v", err)
	}

	err := env.Define(newTestVariable("x", 2), false)
	if err == nil {
		t.Fatal("expected redefinition of a non-shadowable variable to fail")
	}
	ierr, ok := err.(*InterpError)
	if !ok || ierr.Kind != KindResolution {
		t.Errorf("expected a KindResolution InterpError, got %v", err)
	}
}

func TestEnvironment_DefineAllowsLetShadowingWhenRequested(t *testing.T) {
	env := NewRootEnvironment("/project", PathContext{})
	if err := env.Define(newTestVariable("x", 1), false); err != nil {
		t.Fatalf("first Define failed: %v", err)
	}

	if err := env.Define(newTestVariable("x", 2), true); err != nil {
		t.Errorf("expected shadowing redefinition to succeed, got %v", err)
	}
	v, _ := env.Lookup("x")
	if unwrapVar(v) != 2 {
		t.Errorf("expected redefined value 2, got %v", unwrapVar(v))
	}
}

func TestEnvironment_DefineAllowsRedefiningImportedVariable(t *testing.T) {
	env := NewRootEnvironment("/project", PathContext{})
	imported := newTestVariable("x", "imported")
	imported.Internal.IsImported = true
	if err := env.Define(imported, false); err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	if err := env.Define(newTestVariable("x", "local"), false); err != nil {
		t.Errorf("expected redefinition over an imported variable to succeed, got %v", err)
	}
}

// TestEnvironment_ParallelForIsolationBlocksOuterWrite exercises the
// isolation-root write rule (§5, §9): a write from inside a parallel
// `for` iteration targeting a binding owned at or above the isolation
// root must be rejected rather than silently mutating shared state.
func TestEnvironment_ParallelForIsolationBlocksOuterWrite(t *testing.T) {
	outer := NewRootEnvironment("/project", PathContext{})
	if err := outer.Define(newTestVariable("total", 0), false); err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	iterationRoot := outer.ChildIsolationRoot()
	iteration := iterationRoot.Child()

	err := iteration.Assign("total", newTestVariable("total", 1))
	if err == nil {
		t.Fatal("expected assignment through the isolation boundary to be rejected")
	}
	ierr, ok := err.(*InterpError)
	if !ok || ierr.Kind != KindPolicySecurity {
		t.Errorf("expected a KindPolicySecurity InterpError, got %v", err)
	}

	v, _ := outer.Lookup("total")
	if unwrapVar(v) != 0 {
		t.Errorf("expected outer 'total' to remain unmutated, got %v", unwrapVar(v))
	}
}

// TestEnvironment_ParallelForIsolationAllowsLocalWrite verifies the
// isolation root only blocks writes that cross the boundary — a binding
// local to the iteration itself is freely assignable.
func TestEnvironment_ParallelForIsolationAllowsLocalWrite(t *testing.T) {
	outer := NewRootEnvironment("/project", PathContext{})
	iterationRoot := outer.ChildIsolationRoot()
	iteration := iterationRoot.Child()

	if err := iteration.Define(newTestVariable("localCounter", 0), false); err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	if err := iteration.Assign("localCounter", newTestVariable("localCounter", 1)); err != nil {
		t.Errorf("expected local-only assignment to succeed, got %v", err)
	}
}

func TestEnvironment_IsIsolationRoot(t *testing.T) {
	root := NewRootEnvironment("/project", PathContext{})
	plainChild := root.Child()
	isolated := root.ChildIsolationRoot()

	if plainChild.IsIsolationRoot() {
		t.Error("expected a plain Child() not to be an isolation root")
	}
	if !isolated.IsIsolationRoot() {
		t.Error("expected ChildIsolationRoot() to be an isolation root")
	}
}

func TestEnvironment_AssignDefinesLocallyWhenUnbound(t *testing.T) {
	env := NewRootEnvironment("/project", PathContext{})

	if err := env.Assign("fresh", newTestVariable("fresh", "value")); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	v, ok := env.LocalLookup("fresh")
	if !ok || unwrapVar(v) != "value" {
		t.Errorf("expected Assign to define an unbound name locally, got %v, %v", v, ok)
	}
}
