package mutate

import (
	"context"
	"fmt"

	"boardsync/domain"
)

// BoardReader is the query slice of the board store the reorder engine
// uses to plan moves.
type BoardReader interface {
	Store
	BoardID() string
	Card(id string) (domain.Card, bool)
	Column(id string) (domain.Column, bool)
	CardIDs(columnID string) []string
	ColumnIDs() []string
}

// Engine turns a finished drag gesture into one optimistic batch and the
// matching persistence calls. The whole renumbering lands on the store in
// a single transaction so cards never render at intermediate positions.
type Engine struct {
	store BoardReader
	coord *Coordinator
}

// NewEngine wires a reorder engine.
func NewEngine(store BoardReader, coord *Coordinator) *Engine {
	return &Engine{store: store, coord: coord}
}

// MoveCard places the card at destIndex in destColumnID, renumbering the
// source and destination columns densely. Moving a card onto its current
// index is a no-op.
func (e *Engine) MoveCard(ctx context.Context, cardID, destColumnID string, destIndex int) error {
	card, ok := e.store.Card(cardID)
	if !ok {
		return fmt.Errorf("move card %s: not on this board", cardID)
	}
	if _, ok := e.store.Column(destColumnID); !ok {
		return fmt.Errorf("move card %s: unknown column %s", cardID, destColumnID)
	}
	crossed := card.ColumnID != destColumnID
	source := e.store.CardIDs(card.ColumnID)
	var dest []string
	if crossed {
		dest = e.store.CardIDs(destColumnID)
	}
	plan := domain.PlanMove(source, dest, card.ColumnID, destColumnID, cardID, destIndex)
	if len(plan) == 0 {
		return nil
	}
	changes := make([]domain.Change, 0, len(plan))
	var moved domain.PositionUpdate
	rest := make([]domain.PositionUpdate, 0, len(plan))
	for _, u := range plan {
		u := u
		changes = append(changes, domain.Change{
			EntityType: domain.EntityCard,
			Op:         domain.OpUpdate,
			EntityID:   u.ID,
			Card: &domain.CardFields{
				ColumnID: &u.ParentID,
				Position: &u.Position,
			},
		})
		if u.ID == cardID {
			moved = u
		} else {
			rest = append(rest, u)
		}
	}
	if err := e.store.ApplyBatch(changes); err != nil {
		return err
	}
	return e.coord.persistReorder(ctx, domain.EntityCard, moved, crossed, rest)
}

// MoveColumn reorders a column within the board.
func (e *Engine) MoveColumn(ctx context.Context, columnID string, destIndex int) error {
	if _, ok := e.store.Column(columnID); !ok {
		return fmt.Errorf("move column %s: not on this board", columnID)
	}
	boardID := e.store.BoardID()
	siblings := e.store.ColumnIDs()
	plan := domain.PlanMove(siblings, nil, boardID, boardID, columnID, destIndex)
	if len(plan) == 0 {
		return nil
	}
	changes := make([]domain.Change, 0, len(plan))
	for _, u := range plan {
		u := u
		changes = append(changes, domain.Change{
			EntityType: domain.EntityColumn,
			Op:         domain.OpUpdate,
			EntityID:   u.ID,
			ParentID:   boardID,
			Column:     &domain.ColumnFields{Position: &u.Position},
		})
	}
	if err := e.store.ApplyBatch(changes); err != nil {
		return err
	}
	if err := e.coord.persister.PersistPositions(ctx, domain.EntityColumn, plan); err != nil {
		return fmt.Errorf("persist column positions: %w", err)
	}
	return nil
}
