package filter

import "testing"

func conversations() map[string]any {
	return map[string]any{
		"items": []any{
			map[string]any{"id": "5511@c.us", "displayName": "Mesa 4", "unreadCount": 2},
			map[string]any{"id": "5522@c.us", "displayName": "Delivery Ana", "unreadCount": 0},
		},
	}
}

func TestApply_EmptyExpression(t *testing.T) {
	data := map[string]any{"name": "test"}
	result, err := Apply(data, "  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(map[string]any)["name"] != "test" {
		t.Error("empty expression should return data unchanged")
	}
}

func TestApply_SelectField(t *testing.T) {
	result, err := Apply(map[string]any{"name": "test", "id": 123}, ".name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "test" {
		t.Errorf("expected 'test', got %v", result)
	}
}

func TestApply_SelectUnread(t *testing.T) {
	result, err := Apply(conversations(), `.items[] | select(.unreadCount > 0) | .displayName`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Mesa 4" {
		t.Errorf("expected Mesa 4, got %v", result)
	}
}

func TestApply_MultipleResults(t *testing.T) {
	result, err := Apply(conversations(), `.items[].id`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	values, ok := result.([]any)
	if !ok || len(values) != 2 {
		t.Fatalf("expected two results, got %T %v", result, result)
	}
}

func TestApply_InvalidExpression(t *testing.T) {
	if _, err := Apply(map[string]any{}, "invalid[[["); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestApply_ShellEscapedNotEqual(t *testing.T) {
	result, err := Apply(conversations(), `[.items[] | select(.unreadCount \!= 0)] | length`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 1 {
		t.Errorf("expected 1, got %v", result)
	}
}

func TestNormalizeExpression(t *testing.T) {
	if got := NormalizeExpression(`.a \!= .b`); got != `.a != .b` {
		t.Errorf("NormalizeExpression = %q", got)
	}
}

func TestApply_RootArrayQueryFallsBackToItems(t *testing.T) {
	result, err := Apply(conversations(), `.[].displayName`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	values, ok := result.([]any)
	if !ok || len(values) != 2 || values[0] != "Mesa 4" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestApply_RootArrayQueryWithoutItemsStillErrors(t *testing.T) {
	data := map[string]any{"payload": []any{map[string]any{"id": 1}}}
	if _, err := Apply(data, `.[].id`); err == nil {
		t.Fatal("expected error for root-array query on non-items object")
	}
}

func TestApplyFromJSON(t *testing.T) {
	result, err := ApplyFromJSON([]byte(`{"items":[{"id":"x"}]}`), `.items | length`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 1 {
		t.Errorf("expected 1, got %v", result)
	}
}
