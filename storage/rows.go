package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"boardsync/domain"
)

// tableEntity builds the table row for a change. Only the fields the
// change carries are written so merge upserts leave the rest intact.
// Collection-valued fields are stored as JSON strings; table storage has
// no list type.
func tableEntity(boardID string, c domain.Change, now time.Time) map[string]any {
	ent := map[string]any{
		"PartitionKey": boardID,
		"RowKey":       c.EntityID,
		"UpdatedAt":    now.Format(time.RFC3339Nano),
	}
	switch c.EntityType {
	case domain.EntityBoard:
		f := c.Board
		putStr(ent, "Title", f.Title)
		putStr(ent, "OwnerID", f.OwnerID)
		putStr(ent, "TeamID", f.TeamID)
		if f.SharedWith != nil {
			ent["SharedWith"] = jsonString(*f.SharedWith)
		}
		putTime(ent, "CreatedAt", f.CreatedAt)
	case domain.EntityColumn:
		f := c.Column
		if c.ParentID != "" {
			ent["BoardID"] = c.ParentID
		}
		putStr(ent, "Title", f.Title)
		if f.Position != nil {
			ent["Position"] = int32(*f.Position)
		}
		putTime(ent, "CreatedAt", f.CreatedAt)
	case domain.EntityCard:
		f := c.Card
		if f.ColumnID != nil {
			ent["ColumnID"] = *f.ColumnID
		} else if c.Op == domain.OpInsert && c.ParentID != "" {
			ent["ColumnID"] = c.ParentID
		}
		putStr(ent, "Title", f.Title)
		putStr(ent, "Description", f.Description)
		if f.Priority != nil {
			ent["Priority"] = string(*f.Priority)
		}
		if f.Position != nil {
			ent["Position"] = int32(*f.Position)
		}
		if f.Archived != nil {
			ent["Archived"] = *f.Archived
		}
		if f.Assignees != nil {
			ent["Assignees"] = jsonString(*f.Assignees)
		}
		if f.Labels != nil {
			ent["Labels"] = jsonString(*f.Labels)
		}
		if f.Checklist != nil {
			ent["Checklist"] = jsonString(*f.Checklist)
		}
		if f.Attachments != nil {
			ent["Attachments"] = jsonString(*f.Attachments)
		}
		putTime(ent, "CreatedAt", f.CreatedAt)
	case domain.EntityComment:
		f := c.Comment
		if c.ParentID != "" {
			ent["CardID"] = c.ParentID
		}
		putStr(ent, "Text", f.Text)
		putStr(ent, "AuthorID", f.AuthorID)
		putTime(ent, "CreatedAt", f.CreatedAt)
		putTime(ent, "EditedAt", f.EditedAt)
	}
	return ent
}

// echoEvent builds the feed notification matching a completed write. The
// payload carries the written fields plus the server write timestamp, so
// peers merging it land on the same state as a later snapshot would.
func echoEvent(c domain.Change, now time.Time) (domain.FeedEvent, error) {
	if c.Op == domain.OpDelete {
		keys := map[string]string{"id": c.EntityID}
		switch c.EntityType {
		case domain.EntityColumn:
			keys["board_id"] = c.ParentID
		case domain.EntityCard:
			keys["column_id"] = c.ParentID
		case domain.EntityComment:
			keys["card_id"] = c.ParentID
		}
		old, err := json.Marshal(keys)
		if err != nil {
			return domain.FeedEvent{}, err
		}
		return domain.FeedEvent{Type: domain.OpDelete, Old: old}, nil
	}
	row := map[string]any{
		"id":         c.EntityID,
		"updated_at": now.Format(time.RFC3339Nano),
	}
	switch c.EntityType {
	case domain.EntityBoard:
		f := c.Board
		putAny(row, "title", f.Title)
		putAny(row, "owner_id", f.OwnerID)
		putAny(row, "team_id", f.TeamID)
		putAny(row, "shared_with", f.SharedWith)
		putRowTime(row, "created_at", f.CreatedAt)
	case domain.EntityColumn:
		f := c.Column
		if c.ParentID != "" {
			row["board_id"] = c.ParentID
		}
		putAny(row, "title", f.Title)
		putAny(row, "position", f.Position)
		putRowTime(row, "created_at", f.CreatedAt)
	case domain.EntityCard:
		f := c.Card
		if f.ColumnID != nil {
			row["column_id"] = *f.ColumnID
		} else if c.ParentID != "" {
			row["column_id"] = c.ParentID
		}
		putAny(row, "title", f.Title)
		putAny(row, "description", f.Description)
		putAny(row, "priority", f.Priority)
		putAny(row, "position", f.Position)
		putAny(row, "archived", f.Archived)
		putAny(row, "assignees", f.Assignees)
		putAny(row, "labels", f.Labels)
		putAny(row, "checklist", f.Checklist)
		putAny(row, "attachments", f.Attachments)
		putRowTime(row, "created_at", f.CreatedAt)
	case domain.EntityComment:
		f := c.Comment
		if c.ParentID != "" {
			row["card_id"] = c.ParentID
		}
		putAny(row, "text", f.Text)
		putAny(row, "author_id", f.AuthorID)
		putRowTime(row, "created_at", f.CreatedAt)
		putRowTime(row, "edited_at", f.EditedAt)
	default:
		return domain.FeedEvent{}, fmt.Errorf("echo: unknown entity type %q", c.EntityType)
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return domain.FeedEvent{}, err
	}
	return domain.FeedEvent{Type: c.Op, New: payload}, nil
}

func putStr(ent map[string]any, key string, v *string) {
	if v != nil {
		ent[key] = *v
	}
}

func putTime(ent map[string]any, key string, v *time.Time) {
	if v != nil {
		ent[key] = v.UTC().Format(time.RFC3339Nano)
	}
}

func putAny[T any](row map[string]any, key string, v *T) {
	if v != nil {
		row[key] = *v
	}
}

func putRowTime(row map[string]any, key string, v *time.Time) {
	if v != nil {
		row[key] = v.UTC().Format(time.RFC3339Nano)
	}
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
