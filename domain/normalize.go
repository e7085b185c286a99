package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// FeedEvent is a raw notification from the change-feed collaborator.
// INSERT/UPDATE carry the full current row in New; DELETE is only
// guaranteed to carry the row keys in Old.
type FeedEvent struct {
	Type Op              `json:"eventType"`
	New  json.RawMessage `json:"new,omitempty"`
	Old  json.RawMessage `json:"old,omitempty"`
}

type boardRow struct {
	ID         string    `json:"id"`
	Title      *string   `json:"title"`
	OwnerID    *string   `json:"owner_id"`
	TeamID     *string   `json:"team_id"`
	SharedWith *[]string `json:"shared_with"`
	CreatedAt  *string   `json:"created_at"`
	UpdatedAt  *string   `json:"updated_at"`
}

type columnRow struct {
	ID        string  `json:"id"`
	BoardID   string  `json:"board_id"`
	Title     *string `json:"title"`
	Position  *int    `json:"position"`
	CreatedAt *string `json:"created_at"`
	UpdatedAt *string `json:"updated_at"`
}

type cardRow struct {
	ID          string           `json:"id"`
	ColumnID    string           `json:"column_id"`
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Priority    *Priority        `json:"priority"`
	Position    *int             `json:"position"`
	Archived    *bool            `json:"archived"`
	Assignees   *[]string        `json:"assignees"`
	Labels      *[]string        `json:"labels"`
	Checklist   *[]ChecklistItem `json:"checklist"`
	Attachments *[]Attachment    `json:"attachments"`
	CreatedAt   *string          `json:"created_at"`
	UpdatedAt   *string          `json:"updated_at"`
}

type commentRow struct {
	ID        string  `json:"id"`
	CardID    string  `json:"card_id"`
	Text      *string `json:"text"`
	AuthorID  *string `json:"author_id"`
	CreatedAt *string `json:"created_at"`
	EditedAt  *string `json:"edited_at"`
	UpdatedAt *string `json:"updated_at"`
}

// Normalize converts a raw feed event for the given entity type into a
// canonical Change. ok is false when the event should be dropped without
// reaching the store; currently only comment updates whose sole delta is
// the housekeeping updated_at timestamp are filtered that way.
func Normalize(et EntityType, ev FeedEvent) (Change, bool, error) {
	switch ev.Type {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return Change{}, false, fmt.Errorf("normalize %s: unknown event type %q", et, ev.Type)
	}
	if ev.Type == OpDelete {
		return normalizeDelete(et, ev)
	}
	switch et {
	case EntityBoard:
		return normalizeBoard(ev)
	case EntityColumn:
		return normalizeColumn(ev)
	case EntityCard:
		return normalizeCard(ev)
	case EntityComment:
		return normalizeComment(ev)
	}
	return Change{}, false, fmt.Errorf("normalize: unknown entity type %q", et)
}

func normalizeDelete(et EntityType, ev FeedEvent) (Change, bool, error) {
	var keys struct {
		ID       string `json:"id"`
		BoardID  string `json:"board_id"`
		ColumnID string `json:"column_id"`
		CardID   string `json:"card_id"`
	}
	if len(ev.Old) > 0 {
		if err := json.Unmarshal(ev.Old, &keys); err != nil {
			return Change{}, false, fmt.Errorf("normalize %s delete: %w", et, err)
		}
	}
	if keys.ID == "" {
		return Change{}, false, fmt.Errorf("normalize %s delete: missing id", et)
	}
	parent := ""
	switch et {
	case EntityColumn:
		parent = keys.BoardID
	case EntityCard:
		parent = keys.ColumnID
	case EntityComment:
		parent = keys.CardID
	}
	return Change{EntityType: et, Op: OpDelete, EntityID: keys.ID, ParentID: parent}, true, nil
}

func normalizeBoard(ev FeedEvent) (Change, bool, error) {
	var row boardRow
	if err := json.Unmarshal(ev.New, &row); err != nil {
		return Change{}, false, fmt.Errorf("normalize board: %w", err)
	}
	if row.ID == "" {
		return Change{}, false, fmt.Errorf("normalize board: missing id")
	}
	fields := &BoardFields{
		Title:      row.Title,
		OwnerID:    row.OwnerID,
		TeamID:     row.TeamID,
		SharedWith: row.SharedWith,
	}
	var err error
	if fields.CreatedAt, err = parseRowTime(row.CreatedAt); err != nil {
		return Change{}, false, fmt.Errorf("normalize board %s: %w", row.ID, err)
	}
	if fields.UpdatedAt, err = parseRowTime(row.UpdatedAt); err != nil {
		return Change{}, false, fmt.Errorf("normalize board %s: %w", row.ID, err)
	}
	return Change{EntityType: EntityBoard, Op: ev.Type, EntityID: row.ID, Board: fields}, true, nil
}

func normalizeColumn(ev FeedEvent) (Change, bool, error) {
	var row columnRow
	if err := json.Unmarshal(ev.New, &row); err != nil {
		return Change{}, false, fmt.Errorf("normalize column: %w", err)
	}
	if row.ID == "" {
		return Change{}, false, fmt.Errorf("normalize column: missing id")
	}
	fields := &ColumnFields{
		Title:    row.Title,
		Position: row.Position,
	}
	var err error
	if fields.CreatedAt, err = parseRowTime(row.CreatedAt); err != nil {
		return Change{}, false, fmt.Errorf("normalize column %s: %w", row.ID, err)
	}
	if fields.UpdatedAt, err = parseRowTime(row.UpdatedAt); err != nil {
		return Change{}, false, fmt.Errorf("normalize column %s: %w", row.ID, err)
	}
	return Change{EntityType: EntityColumn, Op: ev.Type, EntityID: row.ID, ParentID: row.BoardID, Column: fields}, true, nil
}

func normalizeCard(ev FeedEvent) (Change, bool, error) {
	var row cardRow
	if err := json.Unmarshal(ev.New, &row); err != nil {
		return Change{}, false, fmt.Errorf("normalize card: %w", err)
	}
	if row.ID == "" {
		return Change{}, false, fmt.Errorf("normalize card: missing id")
	}
	fields := &CardFields{
		Title:       row.Title,
		Description: row.Description,
		Priority:    row.Priority,
		Position:    row.Position,
		Archived:    row.Archived,
		Assignees:   row.Assignees,
		Labels:      row.Labels,
		Checklist:   row.Checklist,
		Attachments: row.Attachments,
	}
	if row.ColumnID != "" {
		cid := row.ColumnID
		fields.ColumnID = &cid
	}
	var err error
	if fields.CreatedAt, err = parseRowTime(row.CreatedAt); err != nil {
		return Change{}, false, fmt.Errorf("normalize card %s: %w", row.ID, err)
	}
	if fields.UpdatedAt, err = parseRowTime(row.UpdatedAt); err != nil {
		return Change{}, false, fmt.Errorf("normalize card %s: %w", row.ID, err)
	}
	return Change{EntityType: EntityCard, Op: ev.Type, EntityID: row.ID, ParentID: row.ColumnID, Card: fields}, true, nil
}

func normalizeComment(ev FeedEvent) (Change, bool, error) {
	var row commentRow
	if err := json.Unmarshal(ev.New, &row); err != nil {
		return Change{}, false, fmt.Errorf("normalize comment: %w", err)
	}
	if row.ID == "" {
		return Change{}, false, fmt.Errorf("normalize comment: missing id")
	}
	if ev.Type == OpUpdate && len(ev.Old) > 0 {
		var old commentRow
		if err := json.Unmarshal(ev.Old, &old); err == nil && commentHousekeepingOnly(row, old) {
			// The remote store touches updated_at on rows it did not
			// otherwise change; forwarding those causes UI churn.
			return Change{}, false, nil
		}
	}
	fields := &CommentFields{
		Text:     row.Text,
		AuthorID: row.AuthorID,
	}
	var err error
	if fields.CreatedAt, err = parseRowTime(row.CreatedAt); err != nil {
		return Change{}, false, fmt.Errorf("normalize comment %s: %w", row.ID, err)
	}
	if fields.EditedAt, err = parseRowTime(row.EditedAt); err != nil {
		return Change{}, false, fmt.Errorf("normalize comment %s: %w", row.ID, err)
	}
	if fields.UpdatedAt, err = parseRowTime(row.UpdatedAt); err != nil {
		return Change{}, false, fmt.Errorf("normalize comment %s: %w", row.ID, err)
	}
	return Change{EntityType: EntityComment, Op: ev.Type, EntityID: row.ID, ParentID: row.CardID, Comment: fields}, true, nil
}

func commentHousekeepingOnly(cur, prev commentRow) bool {
	if prev.ID == "" || cur.ID != prev.ID {
		return false
	}
	return cur.CardID == prev.CardID &&
		strPtrEq(cur.Text, prev.Text) &&
		strPtrEq(cur.AuthorID, prev.AuthorID) &&
		strPtrEq(cur.EditedAt, prev.EditedAt) &&
		strPtrEq(cur.CreatedAt, prev.CreatedAt)
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func parseRowTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", *s, err)
	}
	t = t.UTC()
	return &t, nil
}
