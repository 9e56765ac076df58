package script

import "context"

// CodeEvaluator runs a code-execution body (§4.4) against a flattened
// scope: the bound parameters plus any captured shadow environments.
type CodeEvaluator struct {
	interpreter *Interpreter
}

// NewCodeEvaluator returns a CodeEvaluator.
func NewCodeEvaluator() *CodeEvaluator {
	return &CodeEvaluator{interpreter: &Interpreter{}}
}

// Eval runs code with scope as its globals.
func (e *CodeEvaluator) Eval(ctx context.Context, code string, scope map[string]any) (any, error) {
	return e.interpreter.Eval(ctx, code, scope)
}
