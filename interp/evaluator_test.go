package interp

import (
	"context"
	"testing"

	"github.com/mlld-lang/mlld/interp/engine/expr"
)

// newTestEvaluator builds an Evaluator suitable for exercising directive
// dispatch, when/if/for control flow, and ExeBlock return propagation —
// none of which touch ExecInvoker, so Invoker is left nil on purpose.
func newTestEvaluator() *Evaluator {
	return &Evaluator{Cond: expr.NewConditionEvaluator()}
}

func lit(v any) *LiteralNode { return &LiteralNode{Value: v} }

func varRef(name string) *VariableReference { return &VariableReference{Name: name} }

// TestEvalWhen_MatchFormFirstEqualBranchWins covers the when-block-match
// scenario: a `when` in match form compares a subject expression against
// each branch's condition value, running the action of the first branch
// whose rendered text equals the subject's (§4.1 "WhenMatch").
func TestEvalWhen_MatchFormFirstEqualBranchWins(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	w := &WhenExpressionNode{
		Form:    WhenMatch,
		Subject: lit("staging"),
		Branches: []WhenBranch{
			{Condition: lit("production"), Action: []Node{lit("prod-config")}},
			{Condition: lit("staging"), Action: []Node{lit("staging-config")}},
			{IsNone: true, Action: []Node{lit("default-config")}},
		},
	}

	sv, err := e.evalWhen(context.Background(), w, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Text != "staging-config" {
		t.Errorf("expected the matching branch's action to run, got %q", sv.Text)
	}
}

func TestEvalWhen_MatchFormFallsThroughToNoneBranch(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	w := &WhenExpressionNode{
		Form:    WhenMatch,
		Subject: lit("canary"),
		Branches: []WhenBranch{
			{Condition: lit("production"), Action: []Node{lit("prod-config")}},
			{Condition: lit("staging"), Action: []Node{lit("staging-config")}},
			{IsNone: true, Action: []Node{lit("default-config")}},
		},
	}

	sv, err := e.evalWhen(context.Background(), w, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Text != "default-config" {
		t.Errorf("expected the none branch to run when nothing matches, got %q", sv.Text)
	}
}

// TestEvalWhen_BlockModifierAllRequiresEveryCondition exercises the
// `all` block-form modifier running its actions only when every
// non-none branch's condition holds (§4.1 "Tie-breaks").
func TestEvalWhen_BlockModifierAllRequiresEveryCondition(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	allTrue := &WhenExpressionNode{
		Form:     WhenBlock,
		Modifier: WhenModifierAll,
		Branches: []WhenBranch{
			{Condition: lit(true), Action: []Node{lit("a")}},
			{Condition: lit(true), Action: []Node{lit("b")}},
		},
	}
	sv, err := e.evalWhen(context.Background(), allTrue, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Text != "b" {
		t.Errorf("expected the last branch's action result when all conditions hold, got %q", sv.Text)
	}

	oneFalse := &WhenExpressionNode{
		Form:     WhenBlock,
		Modifier: WhenModifierAll,
		Branches: []WhenBranch{
			{Condition: lit(true), Action: []Node{lit("a")}},
			{Condition: lit(false), Action: []Node{lit("b")}},
			{IsNone: true, Action: []Node{lit("fallback")}},
		},
	}
	sv, err = e.evalWhen(context.Background(), oneFalse, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Text != "fallback" {
		t.Errorf("expected the none branch when not all conditions hold, got %q", sv.Text)
	}
}

func TestEvalWhen_NoneBeforeLastBranchIsRejected(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	w := &WhenExpressionNode{
		Form: WhenBlock,
		Branches: []WhenBranch{
			{IsNone: true, Action: []Node{lit("early-none")}},
			{Condition: lit(true), Action: []Node{lit("a")}},
		},
	}

	_, err := e.evalWhen(context.Background(), w, env)
	if err == nil {
		t.Fatal("expected a none branch that isn't last to be rejected")
	}
}

// TestEvalExeBlock_ReturnPropagatesValueAndStopsExecution covers the
// exec return-control propagation scenario: a `return` inside an
// ExeBlock must short-circuit remaining statements and surface its
// value as the block's result, never escaping as a Go error to the
// caller (§4.1 "ExeReturn").
func TestEvalExeBlock_ReturnPropagatesValueAndStopsExecution(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	block := &ExeBlockNode{
		Statements: []Node{
			&LetAssignmentNode{Name: "seen", Value: lit("before-return")},
			&ExeReturnNode{Value: lit("early-exit-value")},
			&LetAssignmentNode{Name: "unreachable", Value: lit("should-not-bind")},
		},
	}

	sv, err := e.evalExeBlock(context.Background(), block, env)
	if err != nil {
		t.Fatalf("expected the returnSignal to be caught inside evalExeBlock, got error: %v", err)
	}
	if sv.Text != "early-exit-value" {
		t.Errorf("expected the ExeReturn's value, got %q", sv.Text)
	}
}

func TestEvalExeBlock_NoReturnYieldsEmptyResult(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	block := &ExeBlockNode{
		Statements: []Node{
			&LetAssignmentNode{Name: "x", Value: lit("value")},
		},
	}

	sv, err := e.evalExeBlock(context.Background(), block, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Text != "" {
		t.Errorf("expected an empty result when the block never returns, got %q", sv.Text)
	}
}

// TestEvalExeBlock_ReturnInsideNestedIfStillPropagates verifies a
// return buried inside an `if` branch still reaches the enclosing
// ExeBlock rather than being swallowed by evalIf.
func TestEvalExeBlock_ReturnInsideNestedIfStillPropagates(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	block := &ExeBlockNode{
		Statements: []Node{
			&IfNode{
				Condition: lit(true),
				Then:      []Node{&ExeReturnNode{Value: lit("from-nested-if")}},
			},
			&LetAssignmentNode{Name: "unreachable", Value: lit("should-not-bind")},
		},
	}

	sv, err := e.evalExeBlock(context.Background(), block, env)
	if err != nil {
		t.Fatalf("expected nested return to be caught at the ExeBlock boundary, got error: %v", err)
	}
	if sv.Text != "from-nested-if" {
		t.Errorf("expected the nested return's value, got %q", sv.Text)
	}
}

func TestEvalIf_SelectsThenOrElseBranch(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	n := &IfNode{
		Condition: lit(true),
		Then:      []Node{lit("then-branch")},
		Else:      []Node{lit("else-branch")},
	}
	sv, err := e.evalIf(context.Background(), n, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Text != "then-branch" {
		t.Errorf("expected then-branch, got %q", sv.Text)
	}

	n.Condition = lit(false)
	sv, err = e.evalIf(context.Background(), n, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Text != "else-branch" {
		t.Errorf("expected else-branch, got %q", sv.Text)
	}
}

func TestEvalFor_SequentialPreservesInputOrder(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	n := &ForExpressionNode{
		VarName:    "x",
		Collection: &ArrayNode{Elements: []Node{lit("a"), lit("b"), lit("c")}},
		Body:       varRef("x"),
	}

	sv, err := e.evalFor(context.Background(), n, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := sv.Unwrap().([]any)
	if !ok || len(out) != 3 {
		t.Fatalf("expected a 3-element array, got %v", sv.Unwrap())
	}
	if out[0] != "a" || out[1] != "b" || out[2] != "c" {
		t.Errorf("expected sequential order preserved, got %v", out)
	}
}

func TestEvalBinary_StringConcatAndArithmetic(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	concat := &BinaryExpressionNode{Operator: "+", Left: lit("foo"), Right: lit("bar")}
	sv, err := e.evalBinary(context.Background(), concat, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Text != "foobar" {
		t.Errorf("expected string concatenation, got %q", sv.Text)
	}

	arith := &BinaryExpressionNode{Operator: "*", Left: lit(6), Right: lit(7)}
	sv, err = e.evalBinary(context.Background(), arith, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Unwrap() != float64(42) {
		t.Errorf("expected 42, got %v", sv.Unwrap())
	}
}

func TestEvalBinary_MergesOperandDescriptors(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	secretDesc := NewDescriptor([]string{LabelSecret}, nil, nil)
	leftVar := NewVariableFactory().Structured("left", Wrap("a").WithDescriptor(&secretDesc), VariableSource{})
	env.Define(leftVar, false)

	n := &BinaryExpressionNode{Operator: "+", Left: varRef("left"), Right: lit("b")}
	sv, err := e.evalBinary(context.Background(), n, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Descriptor == nil || !sv.Descriptor.HasLabel(LabelSecret) {
		t.Error("expected the secret label to propagate through the binary expression")
	}
}

func TestEvalVariableReference_UndefinedProducesResolutionError(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	_, err := e.evalVariableReference(varRef("missing"), env)
	if err == nil {
		t.Fatal("expected an error for an undefined variable reference")
	}
	ierr, ok := err.(*InterpError)
	if !ok || ierr.Kind != KindResolution {
		t.Errorf("expected a KindResolution InterpError, got %v", err)
	}
}

func TestEvalLetAssignment_BindsInChildScopeWithShadowing(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})
	env.Define(NewVariableFactory().Structured("x", Wrap("outer"), VariableSource{}), false)

	n := &LetAssignmentNode{Name: "x", Value: lit("inner")}
	sv, next, err := e.evalLetAssignment(context.Background(), n, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sv.Text != "inner" {
		t.Errorf("expected the newly bound value, got %q", sv.Text)
	}
	if next == env {
		t.Error("expected evalLetAssignment to bind in a child scope, not the passed-in env")
	}
	v, _ := next.Lookup("x")
	if v.Value.(*StructuredValue).Text != "inner" {
		t.Error("expected the child scope to see the shadowed value")
	}
	outer, _ := env.Lookup("x")
	if outer.Value.(*StructuredValue).Text != "outer" {
		t.Error("expected the outer scope's binding to remain untouched")
	}
}

func TestEval_DispatchUnknownNodeTypeFails(t *testing.T) {
	e := newTestEvaluator()
	env := NewRootEnvironment("/project", PathContext{})

	_, _, err := e.Eval(context.Background(), &unknownTestNode{}, env)
	if err == nil {
		t.Fatal("expected dispatch over an unrecognized node type to fail")
	}
}

type unknownTestNode struct{ BaseNode }
