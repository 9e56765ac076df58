package script

import (
	"testing"
)

// TestValueStore_PipelineStageShadowEnv mirrors how a pipeline stage
// body's globals get assembled: each prior stage's output is set under
// its own key so `stage1.body.id`-style dot access works (§4.8, §4.4).
func TestValueStore_PipelineStageShadowEnv(t *testing.T) {
	s := NewValueStore()

	s.Set("stage1.body.id", "widget-001")
	s.Set("stage1.status_code", int64(200))

	v, ok := s.Get("stage1.body.id")
	if !ok || v != "widget-001" {
		t.Errorf("Get(stage1.body.id) = %v, %v; want widget-001, true", v, ok)
	}

	v, ok = s.Get("stage1.status_code")
	if !ok || v != int64(200) {
		t.Errorf("Get(stage1.status_code) = %v, %v; want 200, true", v, ok)
	}

	stage1, ok := s.Get("stage1")
	if !ok {
		t.Fatal("stage1 not found")
	}
	m, ok := stage1.(map[string]any)
	if !ok {
		t.Fatalf("stage1 is %T, want map[string]any", stage1)
	}
	body, ok := m["body"].(map[string]any)
	if !ok {
		t.Fatal("stage1.body is not a map")
	}
	if body["id"] != "widget-001" {
		t.Errorf("stage1.body.id via nested map = %v, want widget-001", body["id"])
	}
}

// TestValueStore_SetNested_ExpandsHTTPResponse mirrors the http
// transformer's response shape (§4.7) being flattened into dot-path
// globals for a downstream `js` pipeline stage.
func TestValueStore_SetNested_ExpandsHTTPResponse(t *testing.T) {
	s := NewValueStore()

	s.SetNested("response", map[string]any{
		"status_code": int64(200),
		"body": map[string]any{
			"id":      "xyz",
			"widgets": []any{"a", "b", "c"},
		},
	})

	v, ok := s.Get("response.body.id")
	if !ok || v != "xyz" {
		t.Errorf("response.body.id = %v, %v; want xyz, true", v, ok)
	}

	v, ok = s.Get("response.status_code")
	if !ok || v != int64(200) {
		t.Errorf("response.status_code = %v, %v; want 200, true", v, ok)
	}

	v, ok = s.Get("response.body.widgets")
	if !ok {
		t.Fatal("response.body.widgets not found")
	}
	widgets, ok := v.([]any)
	if !ok || len(widgets) != 3 {
		t.Errorf("response.body.widgets = %v, want 3-element slice", v)
	}
}

func TestValueStore_Get_NotFound_UnknownStage(t *testing.T) {
	s := NewValueStore()

	_, ok := s.Get("stage7")
	if ok {
		t.Error("expected not found for an unexecuted stage index")
	}

	s.Set("stage1.body", "value")
	_, ok = s.Get("stage1.body.nested")
	if ok {
		t.Error("expected not found when traversing past a leaf value")
	}
}

func TestValueStore_All_ReturnsPerStageNesting(t *testing.T) {
	s := NewValueStore()

	s.Set("stage0.result", "fetched")
	s.Set("stage1.result", "transformed")

	all := s.All()
	stage0, ok := all["stage0"].(map[string]any)
	if !ok {
		t.Fatal("stage0 is not a map")
	}
	if stage0["result"] != "fetched" {
		t.Errorf("stage0.result = %v, want fetched", stage0["result"])
	}

	stage1, ok := all["stage1"].(map[string]any)
	if !ok {
		t.Fatal("stage1 is not a map")
	}
	if stage1["result"] != "transformed" {
		t.Errorf("stage1.result = %v, want transformed", stage1["result"])
	}
}

// TestValueStore_OverwriteOnRetry mirrors a retry-to-source clearing a
// stage's recorded output and the stage re-running with fresh data
// (§4.8 retry semantics) — the store must reflect the newest value,
// not accumulate stale ones under the same key.
func TestValueStore_OverwriteOnRetry(t *testing.T) {
	s := NewValueStore()

	s.Set("stage0.body", "first-attempt")
	s.Set("stage0.body", "retried-attempt")

	v, ok := s.Get("stage0.body")
	if !ok || v != "retried-attempt" {
		t.Errorf("Get(stage0.body) = %v, want retried-attempt", v)
	}
}

// TestValueStore_SetNested_LeavesListElementsUnexpanded verifies arrays
// are stored as a single list value rather than expanded to numbered
// dot-keys, per SetNested's documented behavior.
func TestValueStore_SetNested_LeavesListElementsUnexpanded(t *testing.T) {
	s := NewValueStore()

	s.SetNested("stage0", map[string]any{
		"items": []any{"x", "y"},
	})

	_, ok := s.Get("stage0.items.0")
	if ok {
		t.Error("expected no numbered-index expansion for list elements")
	}

	v, ok := s.Get("stage0.items")
	if !ok {
		t.Fatal("stage0.items not found")
	}
	items, ok := v.([]any)
	if !ok || len(items) != 2 {
		t.Errorf("stage0.items = %v, want 2-element slice", v)
	}
}
