package expr

import "testing"

func eval(t *testing.T, expression string, scope map[string]any) any {
	t.Helper()
	result, err := NewConditionEvaluator().Eval(expression, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func TestBase64Encode(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		expected string
	}{
		{"simple string", `base64_encode("hello")`, "aGVsbG8="},
		{"empty string", `base64_encode("")`, ""},
		{"with special chars", `base64_encode("user:password")`, "dXNlcjpwYXNzd29yZA=="},
		{"stripe key format", `base64_encode("sk_test_123:")`, "c2tfdGVzdF8xMjM6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval(t, tt.expr, map[string]any{})
			if result != tt.expected {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestBase64Decode(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		expected string
	}{
		{"simple string", `base64_decode("aGVsbG8=")`, "hello"},
		{"empty string", `base64_decode("")`, ""},
		{"with special chars", `base64_decode("dXNlcjpwYXNzd29yZA==")`, "user:password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval(t, tt.expr, map[string]any{})
			if result != tt.expected {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestBase64WithScope(t *testing.T) {
	scope := map[string]any{"api_key": "sk_test_abc123"}
	result := eval(t, `"Basic " + base64_encode(api_key + ":")`, scope)
	expected := "Basic c2tfdGVzdF9hYmMxMjM6"
	if result != expected {
		t.Errorf("got %q, want %q", result, expected)
	}
}

func TestAllowUndefinedVariables(t *testing.T) {
	scope := map[string]any{
		"exists": "hello",
		"is_nil": nil,
	}

	tests := []struct {
		name     string
		expr     string
		expected any
	}{
		{"existing value", "exists", "hello"},
		{"nil value", "is_nil", nil},
		{"missing variable returns nil", "missing", nil},
		{"missing nested returns nil", "missing.nested.deep", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval(t, tt.expr, scope)
			if result != tt.expected {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestNullCoalescing(t *testing.T) {
	scope := map[string]any{
		"has_value": "hello",
		"is_nil":    nil,
	}

	tests := []struct {
		name     string
		expr     string
		expected any
	}{
		{"value ?? default returns value", `has_value ?? "default"`, "hello"},
		{"nil ?? default returns default", `is_nil ?? "default"`, "default"},
		{"missing ?? default returns default", `missing ?? "default"`, "default"},
		{"chained coalescing", `missing ?? is_nil ?? "fallback"`, "fallback"},
		{"first non-nil wins", `missing ?? has_value ?? "fallback"`, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval(t, tt.expr, scope)
			if result != tt.expected {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestOptionalChaining(t *testing.T) {
	scope := map[string]any{
		"user_name": "John",
		"user": map[string]any{
			"email": "john@example.com",
			"profile": map[string]any{
				"bio": "Hello",
			},
		},
	}

	tests := []struct {
		name     string
		expr     string
		expected any
	}{
		{"existing path", "user_name", "John"},
		{"missing with ?.", "missing?.nested", nil},
		{"missing deep with ?.", "missing?.a?.b?.c", nil},
		{"existing nested with ?.", "user?.email", "john@example.com"},
		{"existing deep with ?.", "user?.profile?.bio", "Hello"},
		{"missing nested field with ?.", "user?.profile?.missing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval(t, tt.expr, scope)
			if result != tt.expected {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestDefinedFunction(t *testing.T) {
	scope := map[string]any{
		"exists": "hello",
		"is_nil": nil,
		"step": map[string]any{
			"result": map[string]any{"id": 123},
		},
	}

	tests := []struct {
		name     string
		expr     string
		expected bool
	}{
		{"existing value is defined", `defined("exists")`, true},
		{"nil value is defined", `defined("is_nil")`, true},
		{"missing is not defined", `defined("missing")`, false},
		{"nested path with dots", `defined("step.result.id")`, true},
		{"missing nested path", `defined("step.result.missing")`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eval(t, tt.expr, scope)
			if result != tt.expected {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestDefinedDistinguishesSkippedFromNilResult(t *testing.T) {
	ran := map[string]any{"step": map[string]any{"result": nil}}
	skipped := map[string]any{}

	result := eval(t, `defined("step.result") ? "ran" : "skipped"`, ran)
	if result != "ran" {
		t.Errorf("got %v, want 'ran'", result)
	}

	result = eval(t, `defined("step.result") ? "ran" : "skipped"`, skipped)
	if result != "skipped" {
		t.Errorf("got %v, want 'skipped'", result)
	}
}

func TestEvalBoolRejectsNonBoolResult(t *testing.T) {
	_, err := NewConditionEvaluator().EvalBool(`"not a bool"`, map[string]any{})
	if err == nil {
		t.Error("expected error for non-bool condition result, got nil")
	}
}

func TestEvalBoolGuardCondition(t *testing.T) {
	scope := map[string]any{"input": map[string]any{"taint": "untrusted"}}
	ok, err := NewConditionEvaluator().EvalBool(`input.taint == "untrusted"`, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected true")
	}
}
