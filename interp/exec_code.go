package interp

import (
	"context"
	"fmt"

	"github.com/mlld-lang/mlld/interp/engine/script"
)

// CodeExecutor dispatches a code-execution body to sh/js/python (§4.4).
// Only js/javascript/node/nodejs reach the embedded Risor sandbox; sh
// dispatches through CommandExecutor, and python is out of scope for
// this interpreter (no embedded Python VM in the corpus) and always
// errors.
type CodeExecutor struct {
	code *script.CodeEvaluator
	cmd  *CommandExecutor
}

// NewCodeExecutor returns a CodeExecutor.
func NewCodeExecutor(cmd *CommandExecutor) *CodeExecutor {
	return &CodeExecutor{code: script.NewCodeEvaluator(), cmd: cmd}
}

// transformerGlobals and shadowGlobals are merged (transformer methods
// take the "name.method" prefix form expanded by script.GroupByPrefix;
// shadow envs are plain nested maps) before being handed to the VM as
// globals, so code bodies see both `transformer.method(...)` and
// `shared.value` access (§4.4, §4.7).
func (c *CodeExecutor) buildGlobals(params map[string]any, transformerFlat map[string]any, shadowEnvs map[string]any) map[string]any {
	globals := make(map[string]any, len(params)+len(shadowEnvs)+4)
	for k, v := range params {
		globals[k] = v
	}
	for k, v := range shadowEnvs {
		globals[k] = v
	}
	for k, v := range script.GroupByPrefix(transformerFlat) {
		globals[k] = v
	}
	return globals
}

// Execute runs a code body under language, returning its StructuredValue
// result. language is the RHS-normalized form (§3.1 PseudoLanguage/
// ExecutableKind) — "sh", "js", "javascript", "node", "nodejs", or
// "python"/"py".
func (c *CodeExecutor) Execute(ctx context.Context, language, code string, params map[string]any, transformerFlat map[string]any, shadowEnvs map[string]any, workingDirectory string) (*StructuredValue, error) {
	switch language {
	case "sh", "shell", "bash":
		return c.cmd.Execute(ctx, code, workingDirectory, stringifyParams(params), nil)

	case "js", "javascript", "node", "nodejs":
		globals := c.buildGlobals(params, transformerFlat, shadowEnvs)
		result, err := c.code.Eval(ctx, code, globals)
		if err != nil {
			return nil, &InterpError{
				Kind:    KindExecution,
				Code:    "CODE_EVAL_FAILED",
				Message: fmt.Sprintf("%s execution failed: %s", language, err),
				Cause:   err,
			}
		}
		return Wrap(result), nil

	case "python", "py":
		return nil, &InterpError{
			Kind:    KindExecution,
			Code:    "LANGUAGE_UNSUPPORTED",
			Message: "python code execution is not supported by this interpreter build",
		}

	default:
		return nil, &InterpError{
			Kind:    KindExecution,
			Code:    "LANGUAGE_UNKNOWN",
			Message: fmt.Sprintf("unknown code execution language %q", language),
		}
	}
}

func stringifyParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
