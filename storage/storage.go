// Package storage implements the persistence and snapshot collaborators
// on Azure Table Storage, one table per entity type partitioned by board
// id. After every successful write it publishes the echo to the change
// feed so peers converge on the durable copy.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Publisher is the echo side of the change feed.
type Publisher interface {
	Publish(ctx context.Context, boardID string, entity domain.EntityType, ev domain.FeedEvent) error
}

// Tables names the four entity tables.
type Tables struct {
	Boards   string
	Columns  string
	Cards    string
	Comments string
}

// Storage provides board persistence over Azure Table Storage.
type Storage struct {
	tables    map[domain.EntityType]*aztables.Client
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
}

// New creates a Storage from the given connection string.
func New(connStr string, tables Tables, logger *log.Logger) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Storage{
		tables: map[domain.EntityType]*aztables.Client{
			domain.EntityBoard:   svc.NewClient(tables.Boards),
			domain.EntityColumn:  svc.NewClient(tables.Columns),
			domain.EntityCard:    svc.NewClient(tables.Cards),
			domain.EntityComment: svc.NewClient(tables.Comments),
		},
		logger: logger,
		now:    time.Now,
	}, nil
}

// SetPublisher wires the echo side of the change feed. Without one,
// writes still land but peers only converge on the next snapshot.
func (s *Storage) SetPublisher(p Publisher) { s.publisher = p }

// ForBoard binds the storage to one board, yielding the persistence
// collaborator the mutation coordinator consumes.
func (s *Storage) ForBoard(boardID string) *BoardPersister {
	return &BoardPersister{st: s, boardID: boardID}
}

// BoardPersister scopes writes to a single board partition.
type BoardPersister struct {
	st      *Storage
	boardID string
}

// Persist writes one change durably and publishes its echo.
func (p *BoardPersister) Persist(ctx context.Context, c domain.Change) error {
	return p.st.persist(ctx, p.boardID, c)
}

// MoveCard reparents a card ahead of a batched renumbering.
func (p *BoardPersister) MoveCard(ctx context.Context, cardID, columnID string, position int) error {
	col := columnID
	pos := position
	return p.st.persist(ctx, p.boardID, domain.Change{
		EntityType: domain.EntityCard,
		Op:         domain.OpUpdate,
		EntityID:   cardID,
		ParentID:   columnID,
		Card:       &domain.CardFields{ColumnID: &col, Position: &pos},
	})
}

// PersistPositions writes a renumbering batch in one transaction; the
// rows share the board partition so the batch is atomic.
func (p *BoardPersister) PersistPositions(ctx context.Context, entity domain.EntityType, updates []domain.PositionUpdate) error {
	return p.st.persistPositions(ctx, p.boardID, entity, updates)
}

func (s *Storage) persist(ctx context.Context, boardID string, c domain.Change) error {
	table, ok := s.tables[c.EntityType]
	if !ok {
		return fmt.Errorf("persist: unknown entity type %q", c.EntityType)
	}
	now := s.now().UTC()
	if c.Op == domain.OpDelete {
		et := azcore.ETagAny
		_, err := table.DeleteEntity(ctx, boardID, c.EntityID, &aztables.DeleteEntityOptions{IfMatch: &et})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete %s %s: %w", c.EntityType, c.EntityID, err)
		}
		if err := s.cascade(ctx, boardID, c); err != nil {
			return err
		}
		s.publishEcho(ctx, boardID, c, now)
		return nil
	}
	ent := tableEntity(boardID, c, now)
	payload, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", c.EntityType, c.EntityID, err)
	}
	mode := aztables.UpdateModeReplace
	if c.Op == domain.OpUpdate {
		mode = aztables.UpdateModeMerge
	}
	if _, err := table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return fmt.Errorf("upsert %s %s: %w", c.EntityType, c.EntityID, err)
	}
	s.publishEcho(ctx, boardID, c, now)
	return nil
}

func (s *Storage) persistPositions(ctx context.Context, boardID string, entity domain.EntityType, updates []domain.PositionUpdate) error {
	table, ok := s.tables[entity]
	if !ok {
		return fmt.Errorf("persist positions: unknown entity type %q", entity)
	}
	if len(updates) == 0 {
		return nil
	}
	now := s.now().UTC()
	changes := make([]domain.Change, 0, len(updates))
	actions := make([]aztables.TransactionAction, 0, len(updates))
	for _, u := range updates {
		c := positionChange(entity, u)
		ent := tableEntity(boardID, c, now)
		payload, err := json.Marshal(ent)
		if err != nil {
			return fmt.Errorf("marshal position %s: %w", u.ID, err)
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeInsertMerge,
			Entity:     payload,
		})
		changes = append(changes, c)
	}
	if _, err := table.SubmitTransaction(ctx, actions, nil); err != nil {
		return fmt.Errorf("position batch (%d rows): %w", len(updates), err)
	}
	for _, c := range changes {
		s.publishEcho(ctx, boardID, c, now)
	}
	return nil
}

// cascade removes child rows of a deleted entity so the next snapshot
// does not resurrect them. Peers cascade in memory on the parent's echo,
// so the child deletions are not echoed individually.
func (s *Storage) cascade(ctx context.Context, boardID string, c domain.Change) error {
	switch c.EntityType {
	case domain.EntityBoard:
		for _, et := range []domain.EntityType{domain.EntityComment, domain.EntityCard, domain.EntityColumn} {
			ids, err := s.collectIDs(ctx, et, boardID, func(childRow) bool { return true })
			if err != nil {
				return err
			}
			if err := s.deleteRows(ctx, et, boardID, ids); err != nil {
				return err
			}
		}
	case domain.EntityColumn:
		cardIDs, err := s.collectIDs(ctx, domain.EntityCard, boardID, func(r childRow) bool {
			return r.ColumnID == c.EntityID
		})
		if err != nil {
			return err
		}
		inColumn := make(map[string]bool, len(cardIDs))
		for _, id := range cardIDs {
			inColumn[id] = true
		}
		commentIDs, err := s.collectIDs(ctx, domain.EntityComment, boardID, func(r childRow) bool {
			return inColumn[r.CardID]
		})
		if err != nil {
			return err
		}
		if err := s.deleteRows(ctx, domain.EntityComment, boardID, commentIDs); err != nil {
			return err
		}
		if err := s.deleteRows(ctx, domain.EntityCard, boardID, cardIDs); err != nil {
			return err
		}
	case domain.EntityCard:
		commentIDs, err := s.collectIDs(ctx, domain.EntityComment, boardID, func(r childRow) bool {
			return r.CardID == c.EntityID
		})
		if err != nil {
			return err
		}
		if err := s.deleteRows(ctx, domain.EntityComment, boardID, commentIDs); err != nil {
			return err
		}
	}
	return nil
}

type childRow struct {
	RowKey   string `json:"RowKey"`
	ColumnID string
	CardID   string
}

func (s *Storage) collectIDs(ctx context.Context, et domain.EntityType, boardID string, keep func(childRow) bool) ([]string, error) {
	var ids []string
	err := s.listEntities(ctx, et, boardID, func(raw []byte) error {
		var r childRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		if keep(r) {
			ids = append(ids, r.RowKey)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s of %s: %w", et, boardID, err)
	}
	return ids, nil
}

func (s *Storage) deleteRows(ctx context.Context, et domain.EntityType, boardID string, ids []string) error {
	table := s.tables[et]
	etag := azcore.ETagAny
	for _, id := range ids {
		_, err := table.DeleteEntity(ctx, boardID, id, &aztables.DeleteEntityOptions{IfMatch: &etag})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("cascade delete %s %s: %w", et, id, err)
		}
	}
	return nil
}

func positionChange(entity domain.EntityType, u domain.PositionUpdate) domain.Change {
	c := domain.Change{EntityType: entity, Op: domain.OpUpdate, EntityID: u.ID, ParentID: u.ParentID}
	switch entity {
	case domain.EntityColumn:
		c.Column = &domain.ColumnFields{Position: &u.Position}
	default:
		c.Card = &domain.CardFields{ColumnID: &u.ParentID, Position: &u.Position}
	}
	return c
}

// publishEcho forwards the written fields to the change feed. Failure to
// publish is logged, not surfaced: the write itself is durable and late
// subscribers recover from the snapshot.
func (s *Storage) publishEcho(ctx context.Context, boardID string, c domain.Change, now time.Time) {
	if s.publisher == nil {
		return
	}
	ev, err := echoEvent(c, now)
	if err != nil {
		s.logger.WithFields(log.Fields{"entity": c.EntityID, "type": c.EntityType}).Errorf("build echo: %v", err)
		return
	}
	if err := s.publisher.Publish(ctx, boardID, c.EntityType, ev); err != nil {
		s.logger.WithFields(log.Fields{"entity": c.EntityID, "type": c.EntityType}).Errorf("publish echo: %v", err)
	}
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
