// Package presence tracks which users are viewing a board and who is
// typing on which card. Everything here is ephemeral: entries live in
// memory, decay on a TTL, and never pass through the board store.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// TypingTTL is how long a typing signal stays alive without a refresh.
const TypingTTL = 2 * time.Second

// EventKind discriminates broadcast messages on a board channel.
type EventKind string

const (
	EventJoin   EventKind = "join"
	EventUpdate EventKind = "update"
	EventLeave  EventKind = "leave"
	EventTyping EventKind = "typing"
)

// Event is one broadcast message. Location events carry the user's
// current column/card; typing events carry the card being typed on.
type Event struct {
	Kind     EventKind `json:"kind"`
	UserID   string    `json:"userId"`
	BoardID  string    `json:"boardId"`
	ColumnID string    `json:"columnId,omitempty"`
	CardID   string    `json:"cardId,omitempty"`
}

// Entry is one user's ephemeral presence on a board.
type Entry struct {
	UserID   string    `json:"userId"`
	BoardID  string    `json:"boardId"`
	ColumnID string    `json:"columnId,omitempty"`
	CardID   string    `json:"cardId,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}

// Broadcaster is the external broadcast-channel collaborator, outbound
// side only; inbound events are wired to HandleEvent by the caller.
type Broadcaster interface {
	Broadcast(ctx context.Context, boardID string, ev Event) error
}

// Tracker maintains the presence and typing sets for one board on behalf
// of one local user.
type Tracker struct {
	boardID string
	selfID  string
	channel Broadcaster
	logger  *log.Logger

	now func() time.Time
	ttl time.Duration

	mu       sync.Mutex
	present  map[string]Entry
	typing   map[string]map[string]time.Time
	location struct{ columnID, cardID string }
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock injects the time source used for TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTypingTTL overrides the typing decay interval.
func WithTypingTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.ttl = ttl }
}

// WithLogger sets the logger for broadcast failures.
func WithLogger(l *log.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker for the given board and local user.
func NewTracker(boardID, userID string, channel Broadcaster, opts ...Option) *Tracker {
	t := &Tracker{
		boardID: boardID,
		selfID:  userID,
		channel: channel,
		logger:  log.StandardLogger(),
		now:     time.Now,
		ttl:     TypingTTL,
		present: make(map[string]Entry),
		typing:  make(map[string]map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Join announces the local user to everyone on the board channel.
func (t *Tracker) Join(ctx context.Context) error {
	return t.channel.Broadcast(ctx, t.boardID, Event{Kind: EventJoin, UserID: t.selfID, BoardID: t.boardID})
}

// SetLocation re-announces the local user's position on every
// navigation. Last announcement wins; no history is kept.
func (t *Tracker) SetLocation(ctx context.Context, columnID, cardID string) error {
	t.mu.Lock()
	t.location.columnID = columnID
	t.location.cardID = cardID
	t.mu.Unlock()
	return t.channel.Broadcast(ctx, t.boardID, Event{
		Kind:     EventUpdate,
		UserID:   t.selfID,
		BoardID:  t.boardID,
		ColumnID: columnID,
		CardID:   cardID,
	})
}

// Typing signals that the local user is typing on a card. Remote peers
// drop the signal after the TTL unless it is refreshed.
func (t *Tracker) Typing(ctx context.Context, cardID string) error {
	return t.channel.Broadcast(ctx, t.boardID, Event{Kind: EventTyping, UserID: t.selfID, BoardID: t.boardID, CardID: cardID})
}

// Leave announces departure. Peers remove the entry immediately, no
// grace period.
func (t *Tracker) Leave(ctx context.Context) error {
	return t.channel.Broadcast(ctx, t.boardID, Event{Kind: EventLeave, UserID: t.selfID, BoardID: t.boardID})
}

// HandleEvent folds one remote broadcast into the local sets. Events for
// other boards and echoes of the local user are ignored.
func (t *Tracker) HandleEvent(ev Event) {
	if ev.BoardID != t.boardID || ev.UserID == "" || ev.UserID == t.selfID {
		return
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Kind {
	case EventJoin, EventUpdate:
		t.present[ev.UserID] = Entry{
			UserID:   ev.UserID,
			BoardID:  ev.BoardID,
			ColumnID: ev.ColumnID,
			CardID:   ev.CardID,
			LastSeen: now,
		}
	case EventLeave:
		delete(t.present, ev.UserID)
		for cardID, users := range t.typing {
			delete(users, ev.UserID)
			if len(users) == 0 {
				delete(t.typing, cardID)
			}
		}
	case EventTyping:
		if ev.CardID == "" {
			return
		}
		users := t.typing[ev.CardID]
		if users == nil {
			users = make(map[string]time.Time)
			t.typing[ev.CardID] = users
		}
		users[ev.UserID] = now.Add(t.ttl)
		if e, ok := t.present[ev.UserID]; ok {
			e.LastSeen = now
			t.present[ev.UserID] = e
		}
	default:
		t.logger.WithField("kind", string(ev.Kind)).Debug("ignoring unknown presence event")
	}
}

// Present returns everyone currently on the board, sorted by user id.
func (t *Tracker) Present() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.present))
	for _, e := range t.present {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// TypingUsers returns who is typing on a card right now, expired entries
// pruned.
func (t *Tracker) TypingUsers(cardID string) []string {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked(now)
	users := t.typing[cardID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Sweep drops expired typing entries. RunSweeper calls it on an
// interval; tests call it directly with an injected clock.
func (t *Tracker) Sweep() {
	now := t.now()
	t.mu.Lock()
	t.expireLocked(now)
	t.mu.Unlock()
}

// RunSweeper expires typing entries on the given interval until ctx is
// done.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// callers hold t.mu
func (t *Tracker) expireLocked(now time.Time) {
	for cardID, users := range t.typing {
		for id, deadline := range users {
			if now.After(deadline) || now.Equal(deadline) {
				delete(users, id)
			}
		}
		if len(users) == 0 {
			delete(t.typing, cardID)
		}
	}
}
