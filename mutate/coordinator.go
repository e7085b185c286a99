// Package mutate wraps locally-initiated edits: apply to the board store
// first so the UI reflects the edit immediately, then persist remotely.
// The feed's echo of the persisted write merges back as a no-op.
package mutate

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Persister is the external persistence collaborator.
type Persister interface {
	Persist(ctx context.Context, c domain.Change) error
	// MoveCard reparents a card; the destination row must carry the new
	// column before batched position updates are meaningful.
	MoveCard(ctx context.Context, cardID, columnID string, position int) error
	PersistPositions(ctx context.Context, entity domain.EntityType, updates []domain.PositionUpdate) error
}

// Store is the slice of the board store the coordinator needs.
type Store interface {
	Apply(c domain.Change) error
	ApplyBatch(changes []domain.Change) error
}

// Coordinator runs the optimistic three-phase flow. Persistence failures
// are returned to the caller but the optimistic state is deliberately not
// rolled back: most failures are permission or connectivity problems, and
// a naive rollback could discard an unrelated later edit to the same
// entity. The user retries instead.
//
// Concurrent mutations of different entities are independent. Concurrent
// mutations of the same entity hit the store in call order; their
// persistence requests may resolve in any order, which matches the remote
// store's last-writer-wins semantics.
type Coordinator struct {
	store     Store
	persister Persister
	logger    *log.Logger
}

// NewCoordinator wires a coordinator to its store and persister.
func NewCoordinator(store Store, persister Persister, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{store: store, persister: persister, logger: logger}
}

// Do applies the change optimistically and persists it. A validation
// error means nothing was applied; a persistence error means the local
// edit stands but the remote write failed.
func (co *Coordinator) Do(ctx context.Context, c domain.Change) error {
	if err := co.store.Apply(c); err != nil {
		return err
	}
	if err := co.persister.Persist(ctx, c); err != nil {
		co.logger.WithFields(log.Fields{"entity": c.EntityID, "type": c.EntityType, "op": c.Op}).Errorf("persist failed: %v", err)
		return fmt.Errorf("persist %s %s: %w", c.Op, c.EntityID, err)
	}
	return nil
}

// persistReorder submits the durable half of a reorder: the parent change
// first when the move crossed columns, then the remaining renumbering as
// one batch.
func (co *Coordinator) persistReorder(ctx context.Context, entity domain.EntityType, moved domain.PositionUpdate, crossed bool, rest []domain.PositionUpdate) error {
	if crossed {
		if err := co.persister.MoveCard(ctx, moved.ID, moved.ParentID, moved.Position); err != nil {
			co.logger.WithFields(log.Fields{"card": moved.ID, "column": moved.ParentID}).Errorf("move persist failed: %v", err)
			return fmt.Errorf("persist move %s: %w", moved.ID, err)
		}
	} else {
		rest = append([]domain.PositionUpdate{moved}, rest...)
	}
	if len(rest) == 0 {
		return nil
	}
	if err := co.persister.PersistPositions(ctx, entity, rest); err != nil {
		co.logger.WithField("entity", string(entity)).Errorf("position batch persist failed: %v", err)
		return fmt.Errorf("persist positions: %w", err)
	}
	return nil
}
