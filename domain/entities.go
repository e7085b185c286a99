package domain

import "time"

// Priority of a card.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ValidPriority reports whether p is one of the known priority values.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Board is the top-level shared document.
type Board struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	OwnerID    string    `json:"ownerId"`
	TeamID     string    `json:"teamId,omitempty"`
	SharedWith []string  `json:"sharedWith,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Column is an ordered container of cards within a board. Position is a
// dense zero-based index within the owning board.
type Column struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChecklistItem is a single line of a card checklist.
type ChecklistItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Attachment is a reference to an externally stored file.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Card is the primary task unit. A non-archived card belongs to exactly one
// column; Position is a dense zero-based index within that column.
type Card struct {
	ID          string          `json:"id"`
	ColumnID    string          `json:"columnId"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    Priority        `json:"priority"`
	Position    int             `json:"position"`
	Archived    bool            `json:"archived"`
	Assignees   []string        `json:"assignees,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Comment is attached to a card. Edits bump EditedAt; the comment list is
// append-mostly.
type Comment struct {
	ID        string     `json:"id"`
	CardID    string     `json:"cardId"`
	Text      string     `json:"text"`
	AuthorID  string     `json:"authorId"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// BoardTree is a full snapshot of one board, used to seed a store.
type BoardTree struct {
	Board    Board     `json:"board"`
	Columns  []Column  `json:"columns"`
	Cards    []Card    `json:"cards"`
	Comments []Comment `json:"comments"`
}
