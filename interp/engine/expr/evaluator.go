package expr

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// exprFunctions are custom expression builtins available to every
// guard/when condition, grounded on the teacher's engine/yaml
// evaluator.go exprFunctions slice.
var exprFunctions = []expr.Option{
	expr.Function("base64_encode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	}),
	expr.Function("base64_decode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}),
}

// ConditionEvaluator compiles and runs guard-rule and when/if conditions
// against a nested scope map (§4.1, §4.9), using expr-lang exactly as
// the teacher's ExpressionEvaluator did, minus its flat-key formatting.
type ConditionEvaluator struct{}

// NewConditionEvaluator returns a ConditionEvaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

// Eval compiles expression against scope and runs it, returning the
// raw result (callers assert bool for condition use). `defined(path)`
// is available in scope, distinguishing a missing key from a key whose
// value is nil (§4.1 "defined() builtin").
func (e *ConditionEvaluator) Eval(expression string, scope map[string]any) (any, error) {
	scope["null"] = nil

	definedFn := expr.Function(
		"defined",
		func(params ...any) (any, error) {
			path, ok := params[0].(string)
			if !ok {
				return false, fmt.Errorf("defined() expects string path argument, got %T", params[0])
			}
			return definedInScope(scope, path), nil
		},
		new(func(string) bool),
	)

	opts := []expr.Option{
		expr.Env(scope),
		expr.AllowUndefinedVariables(),
		definedFn,
	}
	opts = append(opts, exprFunctions...)

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, ErrConditionEval(err)
	}
	return expr.Run(program, scope)
}

// EvalBool is the common guard/when entry point: evaluate and require a
// boolean result (§4.1 "A branch whose condition evaluates truthy").
func (e *ConditionEvaluator) EvalBool(expression string, scope map[string]any) (bool, error) {
	result, err := e.Eval(expression, scope)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, expected boolean", expression, result)
	}
	return b, nil
}

func definedInScope(scope map[string]any, path string) bool {
	parts := strings.Split(path, ".")
	current := scope
	for i, part := range parts {
		v, ok := current[part]
		if !ok {
			return false
		}
		if i == len(parts)-1 {
			return true
		}
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		current = m
	}
	return true
}

// ErrConditionEval is declared here (rather than imported from the
// top-level interp package) to keep this package import-cycle free;
// the interp package's own ErrConditionEval wraps the same cause text
// ("Failed to evaluate condition expression", §7) when it receives
// errors back from this evaluator.
func ErrConditionEval(cause error) error {
	return fmt.Errorf("Failed to evaluate condition expression: %w", cause)
}
