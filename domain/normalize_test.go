package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeCardInsert(t *testing.T) {
	row := `{
		"id": "card1",
		"column_id": "col1",
		"title": "Write report",
		"description": "quarterly numbers",
		"priority": "high",
		"position": 2,
		"archived": false,
		"assignees": ["u1", "u2"],
		"created_at": "2025-03-01T10:00:00.123456+00:00",
		"updated_at": "2025-03-01T10:05:00+00:00"
	}`
	c, ok, err := Normalize(EntityCard, FeedEvent{Type: OpInsert, New: json.RawMessage(row)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !ok {
		t.Fatal("card insert unexpectedly suppressed")
	}
	if c.EntityType != EntityCard || c.Op != OpInsert || c.EntityID != "card1" || c.ParentID != "col1" {
		t.Fatalf("bad envelope: %+v", c)
	}
	if c.Card == nil || c.Card.Title == nil || *c.Card.Title != "Write report" {
		t.Fatalf("bad payload: %+v", c.Card)
	}
	if c.Card.Priority == nil || *c.Card.Priority != PriorityHigh {
		t.Fatalf("priority not mapped: %+v", c.Card.Priority)
	}
	if c.Card.Position == nil || *c.Card.Position != 2 {
		t.Fatalf("position not mapped: %+v", c.Card.Position)
	}
	want := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	if c.Card.UpdatedAt == nil || !c.Card.UpdatedAt.Equal(want) {
		t.Fatalf("updated_at not mapped: %+v", c.Card.UpdatedAt)
	}
	if ts := c.Timestamp(); ts == nil || !ts.Equal(want) {
		t.Fatalf("Timestamp() = %v", ts)
	}
}

func TestNormalizeDeleteNeedsOnlyKeys(t *testing.T) {
	c, ok, err := Normalize(EntityCard, FeedEvent{
		Type: OpDelete,
		Old:  json.RawMessage(`{"id":"card9","column_id":"col2"}`),
	})
	if err != nil || !ok {
		t.Fatalf("normalize delete: ok=%v err=%v", ok, err)
	}
	if c.Op != OpDelete || c.EntityID != "card9" || c.ParentID != "col2" {
		t.Fatalf("bad delete change: %+v", c)
	}
	if c.Card != nil {
		t.Fatalf("delete should not carry payload: %+v", c.Card)
	}
}

func TestNormalizeDeleteMissingID(t *testing.T) {
	if _, _, err := Normalize(EntityColumn, FeedEvent{Type: OpDelete, Old: json.RawMessage(`{}`)}); err == nil {
		t.Fatal("expected error for delete without id")
	}
}

func TestNormalizeCommentHousekeepingUpdateSuppressed(t *testing.T) {
	oldRow := `{"id":"cm1","card_id":"card1","text":"hello","author_id":"u1","created_at":"2025-03-01T09:00:00Z","updated_at":"2025-03-01T09:00:00Z"}`
	newRow := `{"id":"cm1","card_id":"card1","text":"hello","author_id":"u1","created_at":"2025-03-01T09:00:00Z","updated_at":"2025-03-01T09:30:00Z"}`
	_, ok, err := Normalize(EntityComment, FeedEvent{Type: OpUpdate, New: json.RawMessage(newRow), Old: json.RawMessage(oldRow)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ok {
		t.Fatal("updated_at-only comment update should be suppressed")
	}
}

func TestNormalizeCommentRealEditPasses(t *testing.T) {
	oldRow := `{"id":"cm1","card_id":"card1","text":"hello","author_id":"u1","updated_at":"2025-03-01T09:00:00Z"}`
	newRow := `{"id":"cm1","card_id":"card1","text":"hello, edited","author_id":"u1","edited_at":"2025-03-01T09:30:00Z","updated_at":"2025-03-01T09:30:00Z"}`
	c, ok, err := Normalize(EntityComment, FeedEvent{Type: OpUpdate, New: json.RawMessage(newRow), Old: json.RawMessage(oldRow)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !ok {
		t.Fatal("real edit suppressed")
	}
	if c.Comment == nil || c.Comment.Text == nil || *c.Comment.Text != "hello, edited" {
		t.Fatalf("bad payload: %+v", c.Comment)
	}
	if c.Comment.EditedAt == nil {
		t.Fatal("edited_at dropped")
	}
}

func TestNormalizeCommentInsertWithoutOldRow(t *testing.T) {
	newRow := `{"id":"cm2","card_id":"card1","text":"first","author_id":"u2","updated_at":"2025-03-01T09:00:00Z"}`
	c, ok, err := Normalize(EntityComment, FeedEvent{Type: OpInsert, New: json.RawMessage(newRow)})
	if err != nil || !ok {
		t.Fatalf("normalize: ok=%v err=%v", ok, err)
	}
	if c.ParentID != "card1" {
		t.Fatalf("parent not mapped: %+v", c)
	}
}

func TestNormalizeColumnMapsBoardParent(t *testing.T) {
	row := `{"id":"col1","board_id":"b1","title":"Doing","position":1,"updated_at":"2025-03-01T09:00:00Z"}`
	c, ok, err := Normalize(EntityColumn, FeedEvent{Type: OpUpdate, New: json.RawMessage(row)})
	if err != nil || !ok {
		t.Fatalf("normalize: ok=%v err=%v", ok, err)
	}
	if c.ParentID != "b1" || c.Column == nil || c.Column.Position == nil || *c.Column.Position != 1 {
		t.Fatalf("bad change: %+v", c)
	}
}

func TestNormalizeBadTimestampRejected(t *testing.T) {
	row := `{"id":"col1","board_id":"b1","updated_at":"yesterday"}`
	if _, _, err := Normalize(EntityColumn, FeedEvent{Type: OpInsert, New: json.RawMessage(row)}); err == nil {
		t.Fatal("expected timestamp parse error")
	}
}

func TestNormalizeUnknownEventType(t *testing.T) {
	if _, _, err := Normalize(EntityCard, FeedEvent{Type: "TRUNCATE"}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
