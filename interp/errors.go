package interp

import "fmt"

// ErrorKind classifies the §7 error taxonomy by kind, not type name.
type ErrorKind string

const (
	KindParseOrShape     ErrorKind = "ParseOrShape"
	KindResolution       ErrorKind = "Resolution"
	KindValidation       ErrorKind = "Validation"
	KindExecution        ErrorKind = "Execution"
	KindPolicySecurity   ErrorKind = "PolicySecurity"
	KindPipeline         ErrorKind = "Pipeline"
)

// InterpError is the single tagged error type carrying a taxonomy Kind,
// a stable Code, a Message, and contextual fields, mirroring the
// teacher's FlowError/ToMap pattern for injecting `error` into
// expression scope (§7).
type InterpError struct {
	Kind      ErrorKind
	Code      string
	Message   string
	Step      string
	Directive string
	Variable  string
	Cause     error
	Meta      map[string]any

	// Execution-kind detail (§7 "Execution errors carry
	// {command, exitCode, duration, stderr, workingDirectory, directiveType}").
	Command          string
	ExitCode         int
	DurationMillis   int64
	Stderr           string
	WorkingDirectory string
	DirectiveType    string
}

func (e *InterpError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step: %s)", e.Kind, e.Message, e.Step)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *InterpError) Unwrap() error {
	return e.Cause
}

// ToMap converts the error to a map suitable for injection into the
// expr-lang / Risor evaluation scope as `error`, mirroring
// runtime/flow_error.go's FlowError.ToMap.
func (e *InterpError) ToMap() map[string]any {
	m := map[string]any{
		"kind":    string(e.Kind),
		"code":    e.Code,
		"message": e.Message,
		"step":    e.Step,
	}
	if e.Command != "" {
		m["command"] = e.Command
		m["exitCode"] = e.ExitCode
		m["duration"] = e.DurationMillis
		m["stderr"] = e.Stderr
		m["workingDirectory"] = e.WorkingDirectory
		m["directiveType"] = e.DirectiveType
	}
	return m
}

// Stable error constructors for the §7 exact-text cases.

func ErrUnknownNodeType(nodeType string) *InterpError {
	return &InterpError{Kind: KindParseOrShape, Code: "UNKNOWN_NODE_TYPE", Message: fmt.Sprintf("Unknown node type: %s", nodeType)}
}

func ErrVariableRedefined(name string) *InterpError {
	return &InterpError{Kind: KindResolution, Code: "VARIABLE_REDEFINED", Message: fmt.Sprintf("Variable '%s' is already defined and cannot be redefined", name), Variable: name}
}

func ErrUnresolvedField(field, typ string) *InterpError {
	return &InterpError{Kind: KindResolution, Code: "FIELD_ACCESS", Message: fmt.Sprintf("Cannot access field %s of %s", field, typ)}
}

func ErrCircularCommandRef(chain string) *InterpError {
	return &InterpError{Kind: KindResolution, Code: "CIRCULAR_REF", Message: fmt.Sprintf("Circular command reference detected: %s", chain)}
}

func ErrNoneNotLast() *InterpError {
	return &InterpError{Kind: KindValidation, Code: "NONE_NOT_LAST", Message: `The "none" keyword can only appear as the last condition(s) in a when block`}
}

func ErrNoneWithOperators() *InterpError {
	return &InterpError{Kind: KindValidation, Code: "NONE_WITH_OPERATORS", Message: `The 'none' keyword cannot be used with operators`}
}

func ErrConditionEval(cause error) *InterpError {
	return &InterpError{Kind: KindValidation, Code: "CONDITION_EVAL", Message: "Failed to evaluate condition expression", Cause: cause}
}

func ErrIsolationMutation(name string) *InterpError {
	return &InterpError{Kind: KindPolicySecurity, Code: "ISOLATION_VIOLATION", Message: fmt.Sprintf("Parallel for block cannot mutate outer variable @%s.", name), Variable: name}
}

func ErrLabelFlowDenied(reason string) *InterpError {
	return &InterpError{Kind: KindPolicySecurity, Code: "LABEL_FLOW_DENIED", Message: fmt.Sprintf("Security: Exec command blocked - %s", reason)}
}

func ErrKeychainPolicy() *InterpError {
	return &InterpError{Kind: KindPolicySecurity, Code: "KEYCHAIN_POLICY", Message: "Keychain access requires service and account"}
}

func ErrPipelineIterationCap() *InterpError {
	return &InterpError{Kind: KindPipeline, Code: "PIPELINE_ITERATION_CAP", Message: "Pipeline exceeded 100 iterations"}
}

func ErrPipelineStageFailed(stage int, cause error) *InterpError {
	msg := fmt.Sprintf("Pipeline failed at stage %d: %s", stage+1, causeMessage(cause))
	return &InterpError{Kind: KindPipeline, Code: "STAGE_FAILED", Message: msg, Cause: cause}
}

func ErrPipelineAborted(reason string) *InterpError {
	return &InterpError{Kind: KindPipeline, Code: "PIPELINE_ABORTED", Message: fmt.Sprintf("Pipeline aborted: %s", reason)}
}

func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// TaskFailure wraps builtin-transformer/provider errors with
// retryability metadata, mirroring runtime/error.go's TaskError.
type TaskFailure struct {
	Err      error
	Metadata map[string]any
}

// NewTaskFailure creates a TaskFailure wrapping err.
func NewTaskFailure(err error) *TaskFailure {
	return &TaskFailure{Err: err, Metadata: map[string]any{}}
}

func (e *TaskFailure) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "task completed with metadata"
}

func (e *TaskFailure) Unwrap() error {
	return e.Err
}

// WithRetryHint records whether the failure is retryable and, if so, an
// optional backoff hint string.
func (e *TaskFailure) WithRetryHint(retryable bool, retryAfter string) *TaskFailure {
	e.Metadata["retryable"] = retryable
	if retryAfter != "" {
		e.Metadata["retry_after"] = retryAfter
	}
	return e
}

// IsRetryable reports the retryable metadata flag, if set.
func (e *TaskFailure) IsRetryable() bool {
	if v, ok := e.Metadata["retryable"].(bool); ok {
		return v
	}
	return false
}
