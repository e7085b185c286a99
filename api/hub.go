// Package api exposes the board engine over HTTP: REST mutations in,
// server-sent snapshots out, with presence piggybacked on the stream.
package api

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/mutate"
	"boardsync/presence"
	"boardsync/store"
	"boardsync/subscription"
)

// HubConfig carries the collaborators a board session is built from.
type HubConfig struct {
	Feed      subscription.Feed
	Snapshots subscription.SnapshotFetcher
	Persister func(boardID string) mutate.Persister
	Channel   presence.Broadcaster
	Listen    func(ctx context.Context, boardID string, fn func(presence.Event)) (func() error, error)
	Logger    *log.Logger
}

// Hub holds one live Session per board. Sessions are created on first
// use and live until the hub closes.
type Hub struct {
	cfg HubConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is the server-side replica of one board: an in-memory store
// kept live by the change feed, plus the mutation and presence plumbing
// around it.
type Session struct {
	BoardID     string
	Store       *store.Store
	Coordinator *mutate.Coordinator
	Engine      *mutate.Engine
	Tracker     *presence.Tracker

	broker     *updateBroker
	sub        *subscription.Subscriber
	stopListen func() error
	cancel     context.CancelFunc
}

// NewHub creates a Hub from the given collaborators.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	return &Hub{cfg: cfg, sessions: make(map[string]*Session)}
}

// Session returns the live session for a board, opening it on first use.
func (h *Hub) Session(ctx context.Context, boardID string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[boardID]; ok {
		return s, nil
	}
	s, err := h.open(boardID)
	if err != nil {
		return nil, fmt.Errorf("open board %s: %w", boardID, err)
	}
	h.sessions[boardID] = s
	return s, nil
}

// open builds a session on its own context; feed subscriptions must not
// be bound to the lifetime of the request that happened to open them.
func (h *Hub) open(boardID string) (*Session, error) {
	sctx, cancel := context.WithCancel(context.Background())

	broker := newUpdateBroker()
	st := store.New(boardID,
		store.WithLogger(h.cfg.Logger),
		store.WithNotify(broker.notify),
	)

	sub, err := subscription.Open(sctx, boardID, st, h.cfg.Feed, h.cfg.Snapshots,
		subscription.WithLogger(h.cfg.Logger))
	if err != nil {
		cancel()
		return nil, err
	}

	// The session tracker aggregates everyone; an empty user id keeps
	// the self-echo filter out of the way.
	tracker := presence.NewTracker(boardID, "", h.cfg.Channel,
		presence.WithLogger(h.cfg.Logger))
	stop, err := h.cfg.Listen(sctx, boardID, func(ev presence.Event) {
		tracker.HandleEvent(ev)
		broker.notify()
	})
	if err != nil {
		sub.Close()
		cancel()
		return nil, err
	}

	coord := mutate.NewCoordinator(st, h.cfg.Persister(boardID), h.cfg.Logger)
	engine := mutate.NewEngine(st, coord)

	go tracker.RunSweeper(sctx, presence.TypingTTL)

	return &Session{
		BoardID:     boardID,
		Store:       st,
		Coordinator: coord,
		Engine:      engine,
		Tracker:     tracker,
		broker:      broker,
		sub:         sub,
		stopListen:  stop,
		cancel:      cancel,
	}, nil
}

// Broadcast publishes a presence event on the board's channel.
func (h *Hub) Broadcast(ctx context.Context, boardID string, ev presence.Event) error {
	return h.cfg.Channel.Broadcast(ctx, boardID, ev)
}

// Close tears down every open session.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()
	for _, s := range sessions {
		s.close(h.cfg.Logger)
	}
}

func (s *Session) close(logger *log.Logger) {
	s.cancel()
	s.sub.Close()
	if err := s.stopListen(); err != nil {
		logger.WithFields(log.Fields{"board": s.BoardID}).Errorf("stop presence listener: %v", err)
	}
}

// typingByCard collects the users typing on each card of the tree.
func typingByCard(tracker *presence.Tracker, tree domain.BoardTree) map[string][]string {
	out := make(map[string][]string)
	for _, card := range tree.Cards {
		if users := tracker.TypingUsers(card.ID); len(users) > 0 {
			out[card.ID] = users
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
