package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"boardsync/domain"
)

type boardEntity struct {
	aztables.Entity
	Title      string
	OwnerID    string
	TeamID     string
	SharedWith string
	CreatedAt  string
	UpdatedAt  string
}

type columnEntity struct {
	aztables.Entity
	BoardID   string
	Title     string
	Position  int32
	CreatedAt string
	UpdatedAt string
}

type cardEntity struct {
	aztables.Entity
	ColumnID    string
	Title       string
	Description string
	Priority    string
	Position    int32
	Archived    bool
	Assignees   string
	Labels      string
	Checklist   string
	Attachments string
	CreatedAt   string
	UpdatedAt   string
}

type commentEntity struct {
	aztables.Entity
	CardID    string
	Text      string
	AuthorID  string
	CreatedAt string
	EditedAt  string
	UpdatedAt string
}

// FetchBoard assembles a full snapshot of one board from the four entity
// tables.
func (s *Storage) FetchBoard(ctx context.Context, boardID string) (domain.BoardTree, error) {
	var tree domain.BoardTree

	resp, err := s.tables[domain.EntityBoard].GetEntity(ctx, boardID, boardID, nil)
	if err != nil {
		if isNotFound(err) {
			return tree, fmt.Errorf("board %s: not found", boardID)
		}
		return tree, fmt.Errorf("fetch board %s: %w", boardID, err)
	}
	var be boardEntity
	if err := json.Unmarshal(resp.Value, &be); err != nil {
		return tree, fmt.Errorf("decode board %s: %w", boardID, err)
	}
	tree.Board = domain.Board{
		ID:         be.RowKey,
		Title:      be.Title,
		OwnerID:    be.OwnerID,
		TeamID:     be.TeamID,
		SharedWith: decodeList[string](be.SharedWith),
		CreatedAt:  parseEntityTime(be.CreatedAt),
		UpdatedAt:  parseEntityTime(be.UpdatedAt),
	}

	err = s.listEntities(ctx, domain.EntityColumn, boardID, func(raw []byte) error {
		var e columnEntity
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		tree.Columns = append(tree.Columns, domain.Column{
			ID:        e.RowKey,
			BoardID:   boardID,
			Title:     e.Title,
			Position:  int(e.Position),
			CreatedAt: parseEntityTime(e.CreatedAt),
			UpdatedAt: parseEntityTime(e.UpdatedAt),
		})
		return nil
	})
	if err != nil {
		return tree, fmt.Errorf("fetch columns of %s: %w", boardID, err)
	}

	err = s.listEntities(ctx, domain.EntityCard, boardID, func(raw []byte) error {
		var e cardEntity
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		prio := domain.Priority(e.Priority)
		if !domain.ValidPriority(prio) {
			prio = domain.PriorityMedium
		}
		tree.Cards = append(tree.Cards, domain.Card{
			ID:          e.RowKey,
			ColumnID:    e.ColumnID,
			Title:       e.Title,
			Description: e.Description,
			Priority:    prio,
			Position:    int(e.Position),
			Archived:    e.Archived,
			Assignees:   decodeList[string](e.Assignees),
			Labels:      decodeList[string](e.Labels),
			Checklist:   decodeList[domain.ChecklistItem](e.Checklist),
			Attachments: decodeList[domain.Attachment](e.Attachments),
			CreatedAt:   parseEntityTime(e.CreatedAt),
			UpdatedAt:   parseEntityTime(e.UpdatedAt),
		})
		return nil
	})
	if err != nil {
		return tree, fmt.Errorf("fetch cards of %s: %w", boardID, err)
	}

	err = s.listEntities(ctx, domain.EntityComment, boardID, func(raw []byte) error {
		var e commentEntity
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		cm := domain.Comment{
			ID:        e.RowKey,
			CardID:    e.CardID,
			Text:      e.Text,
			AuthorID:  e.AuthorID,
			CreatedAt: parseEntityTime(e.CreatedAt),
			UpdatedAt: parseEntityTime(e.UpdatedAt),
		}
		if e.EditedAt != "" {
			t := parseEntityTime(e.EditedAt)
			cm.EditedAt = &t
		}
		tree.Comments = append(tree.Comments, cm)
		return nil
	})
	if err != nil {
		return tree, fmt.Errorf("fetch comments of %s: %w", boardID, err)
	}

	return tree, nil
}

func (s *Storage) listEntities(ctx context.Context, et domain.EntityType, boardID string, decode func([]byte) error) error {
	filter := fmt.Sprintf("PartitionKey eq '%s'", boardID)
	pager := s.tables[et].NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, raw := range page.Entities {
			if err := decode(raw); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeList[T any](s string) []T {
	if s == "" {
		return nil
	}
	var out []T
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// parseEntityTime tolerates missing timestamps; zero time sorts first,
// which is what the store's ordering wants for legacy rows.
func parseEntityTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
