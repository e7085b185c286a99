// Package subscription keeps a board store fed from the remote change
// feed: one channel per entity type, an initial snapshot seed, and a
// teardown guard so nothing lands on a store after its board is switched
// away from.
package subscription

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Feed is the external change-feed collaborator. Delivery is
// at-least-once; ordering is only guaranteed per entity id within one
// channel.
type Feed interface {
	Subscribe(ctx context.Context, boardID string, entity domain.EntityType, fn func(domain.FeedEvent)) (Handle, error)
}

// Handle releases one feed channel.
type Handle interface {
	Unsubscribe() error
}

// SnapshotFetcher returns the full current tree for a board, used to seed
// the store before live notifications are applied.
type SnapshotFetcher interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardTree, error)
}

// Applier is the slice of the board store the subscriber needs.
type Applier interface {
	Apply(c domain.Change) error
	Seed(tree domain.BoardTree)
}

// Subscriber owns the feed channels for one board.
type Subscriber struct {
	boardID string
	store   Applier
	logger  *log.Logger

	mu      sync.Mutex
	handles []Handle
	pending []domain.Change
	seeded  bool
	closed  bool
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the logger for dropped and failed notifications.
func WithLogger(l *log.Logger) Option {
	return func(s *Subscriber) { s.logger = l }
}

// Open subscribes to every entity type for the board, then fetches and
// seeds the snapshot. Notifications that arrive while the snapshot is in
// flight are queued and replayed after seeding, so nothing is lost in the
// gap. On error nothing stays subscribed.
func Open(ctx context.Context, boardID string, store Applier, feed Feed, snaps SnapshotFetcher, opts ...Option) (*Subscriber, error) {
	s := &Subscriber{
		boardID: boardID,
		store:   store,
		logger:  log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, et := range domain.EntityTypes {
		entity := et
		h, err := feed.Subscribe(ctx, boardID, entity, func(ev domain.FeedEvent) {
			s.deliver(entity, ev)
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("subscribe %s/%s: %w", boardID, entity, err)
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = h.Unsubscribe()
			return nil, fmt.Errorf("subscriber for %s closed during open", boardID)
		}
		s.handles = append(s.handles, h)
		s.mu.Unlock()
	}

	tree, err := snaps.FetchBoard(ctx, boardID)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("snapshot %s: %w", boardID, err)
	}
	store.Seed(tree)

	s.mu.Lock()
	s.seeded = true
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, c := range queued {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			break
		}
		s.apply(c)
		s.mu.Unlock()
	}
	return s, nil
}

// BoardID returns the board this subscriber watches.
func (s *Subscriber) BoardID() string { return s.boardID }

func (s *Subscriber) deliver(entity domain.EntityType, ev domain.FeedEvent) {
	c, ok, err := domain.Normalize(entity, ev)
	if err != nil {
		s.logger.WithField("board", s.boardID).Warnf("dropping notification: %v", err)
		return
	}
	if !ok {
		return
	}
	// The lock is held through the apply so a concurrent Close draws a
	// hard line: once it returns, nothing else reaches the store.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.seeded {
		s.pending = append(s.pending, c)
		return
	}
	s.apply(c)
}

func (s *Subscriber) apply(c domain.Change) {
	if err := s.store.Apply(c); err != nil {
		s.logger.WithFields(log.Fields{"board": s.boardID, "entity": c.EntityID}).Warnf("apply failed: %v", err)
	}
}

// Close releases every channel. No change is applied to the store after
// Close returns, even if a notification is already in flight.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := s.handles
	s.handles = nil
	s.pending = nil
	s.mu.Unlock()
	for _, h := range handles {
		if err := h.Unsubscribe(); err != nil {
			s.logger.WithField("board", s.boardID).Warnf("unsubscribe: %v", err)
		}
	}
}
