package script

import (
	"context"
	"errors"
	"testing"
)

// TestInterpreterEval_PipelineStageBody exercises the globals shape a
// `js` pipeline stage body actually receives: the upstream stage's
// StructuredValue fields flattened by ValueStore, plus @ctx-derived
// scalars (§4.4, §4.8).
func TestInterpreterEval_PipelineStageBody(t *testing.T) {
	interp := &Interpreter{}
	ctx := context.Background()

	store := NewValueStore()
	store.SetNested("input", map[string]any{
		"status_code": int64(200),
		"body": map[string]any{
			"widgets": []any{"a", "b", "c"},
		},
	})
	store.Set("try", int64(1))

	result, err := interp.Eval(ctx, `input.body.widgets`, store.All())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, ok := result.([]any)
	if !ok || len(list) != 3 {
		t.Fatalf("got %v (%T), want 3-element list", result, result)
	}
}

func TestInterpreterEval_RetryHintFromTryCount(t *testing.T) {
	interp := &Interpreter{}
	ctx := context.Background()

	globals := map[string]any{"try": int64(2)}
	result, err := interp.Eval(ctx, `try > 1`, globals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != true {
		t.Errorf("got %v, want true", result)
	}
}

// TestInterpreterEval_BuiltinTransformerModule exercises the
// mapToModule path: a flat container registry entry like
// "http.request" surfaces as a `http.request(...)` call inside the
// sandbox (§4.7 builtin transformers exposed to code-execution bodies).
func TestInterpreterEval_BuiltinTransformerModule(t *testing.T) {
	interp := &Interpreter{}
	ctx := context.Background()

	flat := map[string]any{
		"http.request": func(url string) map[string]any {
			return map[string]any{"url": url, "status_code": int64(200)}
		},
	}
	globals := GroupByPrefix(flat)

	result, err := interp.Eval(ctx, `http.request("https://example.com").status_code`, globals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != int64(200) {
		t.Errorf("got %v, want 200", result)
	}
}

// TestInterpreterEval_TransformerErrorPropagates verifies a Go function
// returning a non-nil error surfaces as a VM-level error rather than a
// silently nil'd result, matching wrapGoFunc's (T, error) handling.
func TestInterpreterEval_TransformerErrorPropagates(t *testing.T) {
	interp := &Interpreter{}
	ctx := context.Background()

	globals := map[string]any{
		"keychain": map[string]any{
			"get": func(name string) (string, error) {
				return "", errors.New("secret not found: " + name)
			},
		},
	}

	_, err := interp.Eval(ctx, `keychain.get("missing-secret")`, globals)
	if err == nil {
		t.Fatal("expected error from failing keychain.get, got nil")
	}
}

func TestInterpreterEval_SandboxedNoFilesystemOrProcess(t *testing.T) {
	interp := &Interpreter{}
	ctx := context.Background()

	for _, code := range []string{`os.getenv("PATH")`, `exec.command("ls")`} {
		if _, err := interp.Eval(ctx, code, map[string]any{}); err == nil {
			t.Errorf("expected sandbox rejection for %q, got nil error", code)
		}
	}
}

func TestInterpreterEval_StructuredValueAsMap(t *testing.T) {
	interp := &Interpreter{}
	ctx := context.Background()

	result, err := interp.Eval(ctx, `{"widgets": ["a", "b"], "count": 2}`, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", result)
	}
	if m["count"] != int64(2) {
		t.Errorf("got count=%v, want 2", m["count"])
	}
}

func TestInterpreterEval_VariadicGoFunc(t *testing.T) {
	interp := &Interpreter{}
	ctx := context.Background()

	globals := map[string]any{
		"join": func(sep string, parts ...string) string {
			out := ""
			for i, p := range parts {
				if i > 0 {
					out += sep
				}
				out += p
			}
			return out
		},
	}

	result, err := interp.Eval(ctx, `join("-", "widgets", "v2", "stable")`, globals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "widgets-v2-stable" {
		t.Errorf("got %v, want widgets-v2-stable", result)
	}
}
