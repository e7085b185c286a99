package domain

import (
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestChangeValidate(t *testing.T) {
	title := "todo"
	cases := []struct {
		name   string
		change Change
		ok     bool
	}{
		{"card insert", Change{EntityType: EntityCard, Op: OpInsert, EntityID: "c1", ParentID: "col1", Card: &CardFields{Title: &title}}, true},
		{"delete without payload", Change{EntityType: EntityCard, Op: OpDelete, EntityID: "c1"}, true},
		{"missing id", Change{EntityType: EntityCard, Op: OpDelete}, false},
		{"unknown op", Change{EntityType: EntityCard, Op: "UPSERT", EntityID: "c1"}, false},
		{"unknown entity", Change{EntityType: "swimlane", Op: OpDelete, EntityID: "x"}, false},
		{"card insert without parent", Change{EntityType: EntityCard, Op: OpInsert, EntityID: "c1", Card: &CardFields{}}, false},
		{"card insert with column in payload", Change{EntityType: EntityCard, Op: OpInsert, EntityID: "c1", Card: &CardFields{ColumnID: strPtr("col1")}}, true},
		{"card update without payload", Change{EntityType: EntityCard, Op: OpUpdate, EntityID: "c1"}, false},
		{"bad priority", Change{EntityType: EntityCard, Op: OpUpdate, EntityID: "c1", Card: &CardFields{Priority: priorityPtr("urgent")}}, false},
		{"column insert without board", Change{EntityType: EntityColumn, Op: OpInsert, EntityID: "col1", Column: &ColumnFields{}}, false},
		{"comment insert", Change{EntityType: EntityComment, Op: OpInsert, EntityID: "cm1", ParentID: "c1", Comment: &CommentFields{Text: &title}}, true},
		{"board update", Change{EntityType: EntityBoard, Op: OpUpdate, EntityID: "b1", Board: &BoardFields{Title: &title}}, true},
	}
	for _, tc := range cases {
		err := tc.change.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
				continue
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("%s: error is not a ValidationError: %v", tc.name, err)
			}
		}
	}
}

func priorityPtr(p Priority) *Priority { return &p }
