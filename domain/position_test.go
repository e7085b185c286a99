package domain

import (
	"reflect"
	"testing"
)

func TestPlanMoveSameColumn(t *testing.T) {
	// [A:0 B:1 C:2], move C to index 0 -> [C:0 A:1 B:2]
	got := PlanMove([]string{"A", "B", "C"}, nil, "col1", "col1", "C", 0)
	want := []PositionUpdate{
		{ID: "C", Position: 0, ParentID: "col1"},
		{ID: "A", Position: 1, ParentID: "col1"},
		{ID: "B", Position: 2, ParentID: "col1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected plan: %+v", got)
	}
}

func TestPlanMoveSameIndexIsNoop(t *testing.T) {
	got := PlanMove([]string{"A", "B", "C"}, nil, "col1", "col1", "B", 1)
	if len(got) != 0 {
		t.Fatalf("expected empty plan, got %+v", got)
	}
}

func TestPlanMoveClampsToAppend(t *testing.T) {
	got := PlanMove([]string{"A", "B", "C"}, nil, "col1", "col1", "A", 99)
	want := []PositionUpdate{
		{ID: "B", Position: 0, ParentID: "col1"},
		{ID: "C", Position: 1, ParentID: "col1"},
		{ID: "A", Position: 2, ParentID: "col1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected plan: %+v", got)
	}
}

func TestPlanMoveCrossColumn(t *testing.T) {
	// col1=[A B], col2=[C]; move B to col2 index 0 -> col1=[A], col2=[B C]
	got := PlanMove([]string{"A", "B"}, []string{"C"}, "col1", "col2", "B", 0)
	want := []PositionUpdate{
		{ID: "B", Position: 0, ParentID: "col2"},
		{ID: "C", Position: 1, ParentID: "col2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected plan: %+v", got)
	}
}

func TestPlanMoveCrossColumnShiftsSource(t *testing.T) {
	got := PlanMove([]string{"A", "B", "C"}, []string{"D"}, "col1", "col2", "A", 1)
	want := []PositionUpdate{
		{ID: "B", Position: 0, ParentID: "col1"},
		{ID: "C", Position: 1, ParentID: "col1"},
		{ID: "A", Position: 1, ParentID: "col2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected plan: %+v", got)
	}
}

func TestPlanMoveToEmptyColumn(t *testing.T) {
	got := PlanMove([]string{"A"}, nil, "col1", "col2", "A", 0)
	want := []PositionUpdate{{ID: "A", Position: 0, ParentID: "col2"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected plan: %+v", got)
	}
}

func TestPlanMoveNegativeIndexClampsToFront(t *testing.T) {
	got := PlanMove([]string{"A", "B"}, nil, "col1", "col1", "B", -3)
	want := []PositionUpdate{
		{ID: "B", Position: 0, ParentID: "col1"},
		{ID: "A", Position: 1, ParentID: "col1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected plan: %+v", got)
	}
}

func TestPlanMoveDensityAfterSequence(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	moves := []struct {
		id  string
		idx int
	}{
		{"e", 0}, {"a", 4}, {"c", 2}, {"b", 0}, {"d", 3},
	}
	for _, m := range moves {
		plan := PlanMove(ids, nil, "col", "col", m.id, m.idx)
		next := make(map[string]int, len(ids))
		for i, id := range ids {
			next[id] = i
		}
		for _, u := range plan {
			next[u.ID] = u.Position
		}
		seen := make([]string, len(ids))
		for id, pos := range next {
			if pos < 0 || pos >= len(ids) || seen[pos] != "" {
				t.Fatalf("move %+v broke density: %v", m, next)
			}
			seen[pos] = id
		}
		ids = seen
	}
}
