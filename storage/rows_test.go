package storage

import (
	"testing"
	"time"

	"boardsync/domain"
)

var writeTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestEchoEventRoundTripsThroughNormalize(t *testing.T) {
	title := "Ship it"
	pos := 2
	col := "col-2"
	prio := domain.PriorityHigh
	c := domain.Change{
		EntityType: domain.EntityCard,
		Op:         domain.OpUpdate,
		EntityID:   "card-1",
		ParentID:   "col-2",
		Card: &domain.CardFields{
			ColumnID: &col,
			Title:    &title,
			Priority: &prio,
			Position: &pos,
		},
	}

	ev, err := echoEvent(c, writeTime)
	if err != nil {
		t.Fatalf("echoEvent: %v", err)
	}
	got, ok, err := domain.Normalize(domain.EntityCard, ev)
	if err != nil {
		t.Fatalf("normalize echo: %v", err)
	}
	if !ok {
		t.Fatal("echo was filtered")
	}
	if got.Op != domain.OpUpdate || got.EntityID != "card-1" || got.ParentID != "col-2" {
		t.Fatalf("got change %+v", got)
	}
	f := got.Card
	if f == nil || f.Title == nil || *f.Title != title {
		t.Fatalf("title not preserved: %+v", f)
	}
	if f.Position == nil || *f.Position != pos {
		t.Fatalf("position not preserved: %+v", f)
	}
	if f.Priority == nil || *f.Priority != prio {
		t.Fatalf("priority not preserved: %+v", f)
	}
	if f.Description != nil || f.Archived != nil {
		t.Fatalf("absent fields should stay nil: %+v", f)
	}
	if f.UpdatedAt == nil || !f.UpdatedAt.Equal(writeTime) {
		t.Fatalf("updated_at = %v, want %v", f.UpdatedAt, writeTime)
	}
}

func TestEchoEventDeleteCarriesKeys(t *testing.T) {
	c := domain.Change{
		EntityType: domain.EntityComment,
		Op:         domain.OpDelete,
		EntityID:   "cm-1",
		ParentID:   "card-1",
	}

	ev, err := echoEvent(c, writeTime)
	if err != nil {
		t.Fatalf("echoEvent: %v", err)
	}
	got, ok, err := domain.Normalize(domain.EntityComment, ev)
	if err != nil {
		t.Fatalf("normalize echo: %v", err)
	}
	if !ok {
		t.Fatal("delete echo was filtered")
	}
	if got.Op != domain.OpDelete || got.EntityID != "cm-1" || got.ParentID != "card-1" {
		t.Fatalf("got change %+v", got)
	}
}

func TestTableEntityCarriesOnlySetFields(t *testing.T) {
	text := "looks good"
	c := domain.Change{
		EntityType: domain.EntityComment,
		Op:         domain.OpUpdate,
		EntityID:   "cm-1",
		ParentID:   "card-1",
		Comment:    &domain.CommentFields{Text: &text},
	}

	ent := tableEntity("b1", c, writeTime)
	if ent["PartitionKey"] != "b1" || ent["RowKey"] != "cm-1" {
		t.Fatalf("bad keys: %+v", ent)
	}
	if ent["Text"] != text {
		t.Fatalf("text = %v", ent["Text"])
	}
	if _, present := ent["AuthorID"]; present {
		t.Fatal("unset author should not be written")
	}
	if ent["UpdatedAt"] != writeTime.Format(time.RFC3339Nano) {
		t.Fatalf("updated at = %v", ent["UpdatedAt"])
	}
}

func TestPositionChangePayloads(t *testing.T) {
	card := positionChange(domain.EntityCard, domain.PositionUpdate{ID: "c1", Position: 3, ParentID: "col-1"})
	if card.Card == nil || card.Card.Position == nil || *card.Card.Position != 3 {
		t.Fatalf("card change %+v", card)
	}
	if card.Card.ColumnID == nil || *card.Card.ColumnID != "col-1" {
		t.Fatalf("card change missing column: %+v", card.Card)
	}

	col := positionChange(domain.EntityColumn, domain.PositionUpdate{ID: "col-1", Position: 1, ParentID: "b1"})
	if col.Column == nil || col.Column.Position == nil || *col.Column.Position != 1 {
		t.Fatalf("column change %+v", col)
	}
	if err := card.Validate(); err != nil {
		t.Fatalf("card change invalid: %v", err)
	}
	if err := col.Validate(); err != nil {
		t.Fatalf("column change invalid: %v", err)
	}
}
