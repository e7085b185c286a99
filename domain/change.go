package domain

import (
	"fmt"
	"time"
)

// EntityType identifies which part of the board tree a change targets.
type EntityType string

const (
	EntityBoard   EntityType = "board"
	EntityColumn  EntityType = "column"
	EntityCard    EntityType = "card"
	EntityComment EntityType = "comment"
)

// EntityTypes lists every watched entity type, in subscription order.
var EntityTypes = []EntityType{EntityBoard, EntityColumn, EntityCard, EntityComment}

// Op is the kind of mutation a Change carries.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// BoardFields is a partial board payload. Nil fields are left untouched on
// merge.
type BoardFields struct {
	Title      *string    `json:"title,omitempty"`
	OwnerID    *string    `json:"ownerId,omitempty"`
	TeamID     *string    `json:"teamId,omitempty"`
	SharedWith *[]string  `json:"sharedWith,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

// ColumnFields is a partial column payload.
type ColumnFields struct {
	Title     *string    `json:"title,omitempty"`
	Position  *int       `json:"position,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// CardFields is a partial card payload. ColumnID present means the card is
// (re)parented to that column.
type CardFields struct {
	ColumnID    *string          `json:"columnId,omitempty"`
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Priority    *Priority        `json:"priority,omitempty"`
	Position    *int             `json:"position,omitempty"`
	Archived    *bool            `json:"archived,omitempty"`
	Assignees   *[]string        `json:"assignees,omitempty"`
	Labels      *[]string        `json:"labels,omitempty"`
	Checklist   *[]ChecklistItem `json:"checklist,omitempty"`
	Attachments *[]Attachment    `json:"attachments,omitempty"`
	CreatedAt   *time.Time       `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time       `json:"updatedAt,omitempty"`
}

// CommentFields is a partial comment payload.
type CommentFields struct {
	Text      *string    `json:"text,omitempty"`
	AuthorID  *string    `json:"authorId,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Change is the canonical unit of mutation the board store consumes,
// whether it originates locally (optimistic) or from the remote feed.
// Exactly one of the payload pointers matching EntityType is set for
// INSERT/UPDATE; DELETE carries ids only.
type Change struct {
	EntityType EntityType     `json:"entityType"`
	Op         Op             `json:"op"`
	EntityID   string         `json:"entityId"`
	ParentID   string         `json:"parentId,omitempty"`
	Board      *BoardFields   `json:"board,omitempty"`
	Column     *ColumnFields  `json:"column,omitempty"`
	Card       *CardFields    `json:"card,omitempty"`
	Comment    *CommentFields `json:"comment,omitempty"`
}

// ValidationError marks a change that cannot be applied. The store rejects
// these without touching state.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "invalid change: " + e.Reason
}

// Validate checks that the change carries everything its op requires.
func (c Change) Validate() error {
	switch c.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return ValidationError{Reason: fmt.Sprintf("unknown op %q", c.Op)}
	}
	if c.EntityID == "" {
		return ValidationError{Reason: "missing entity id"}
	}
	switch c.EntityType {
	case EntityBoard, EntityColumn, EntityCard, EntityComment:
	default:
		return ValidationError{Reason: fmt.Sprintf("unknown entity type %q", c.EntityType)}
	}
	if c.Op == OpDelete {
		return nil
	}
	switch c.EntityType {
	case EntityBoard:
		if c.Board == nil {
			return ValidationError{Reason: "board change without board payload"}
		}
	case EntityColumn:
		if c.Column == nil {
			return ValidationError{Reason: "column change without column payload"}
		}
		if c.Op == OpInsert && c.ParentID == "" {
			return ValidationError{Reason: "column insert without board id"}
		}
	case EntityCard:
		if c.Card == nil {
			return ValidationError{Reason: "card change without card payload"}
		}
		if c.Op == OpInsert && c.ParentID == "" && c.Card.ColumnID == nil {
			return ValidationError{Reason: "card insert without column id"}
		}
		if c.Card.Priority != nil && !ValidPriority(*c.Card.Priority) {
			return ValidationError{Reason: fmt.Sprintf("unknown priority %q", *c.Card.Priority)}
		}
	case EntityComment:
		if c.Comment == nil {
			return ValidationError{Reason: "comment change without comment payload"}
		}
		if c.Op == OpInsert && c.ParentID == "" {
			return ValidationError{Reason: "comment insert without card id"}
		}
	}
	return nil
}

// Timestamp returns the payload's updatedAt, if any. The store uses it for
// last-writer-wins merging of out-of-order deliveries.
func (c Change) Timestamp() *time.Time {
	switch c.EntityType {
	case EntityBoard:
		if c.Board != nil {
			return c.Board.UpdatedAt
		}
	case EntityColumn:
		if c.Column != nil {
			return c.Column.UpdatedAt
		}
	case EntityCard:
		if c.Card != nil {
			return c.Card.UpdatedAt
		}
	case EntityComment:
		if c.Comment != nil {
			return c.Comment.UpdatedAt
		}
	}
	return nil
}
