// Package store holds the in-memory tree for a single board and applies
// canonical changes to it. It is the only mutable structure in the sync
// engine; every component goes through Apply/ApplyBatch so the merge rules
// here are the single concurrency discipline.
package store

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// DefaultOrphanTTL bounds how long a change waits for its parent before it
// is discarded.
const DefaultOrphanTTL = 10 * time.Second

type orphan struct {
	change   domain.Change
	deadline time.Time
}

// Store is the in-memory source of truth for one board. All methods are
// safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	boardID  string
	board    *domain.Board
	columns  map[string]*domain.Column
	cards    map[string]*domain.Card
	comments map[string]*domain.Comment
	orphans  []orphan

	orphanTTL time.Duration
	now       func() time.Time
	notify    func()
	logger    *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source used for orphan expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithOrphanTTL overrides how long parentless changes are buffered.
func WithOrphanTTL(ttl time.Duration) Option {
	return func(s *Store) { s.orphanTTL = ttl }
}

// WithLogger sets the logger used for rejected and discarded changes.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNotify registers a hook invoked after every apply that changed state.
// The hook runs outside the store lock.
func WithNotify(fn func()) Option {
	return func(s *Store) { s.notify = fn }
}

// New creates an empty store scoped to the given board id.
func New(boardID string, opts ...Option) *Store {
	s := &Store{
		boardID:   boardID,
		columns:   make(map[string]*domain.Column),
		cards:     make(map[string]*domain.Card),
		comments:  make(map[string]*domain.Comment),
		orphanTTL: DefaultOrphanTTL,
		now:       time.Now,
		logger:    log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BoardID returns the board this store is scoped to.
func (s *Store) BoardID() string { return s.boardID }

// Seed replaces the whole tree with a snapshot, discarding any buffered
// orphans. Used when a subscription (re)opens.
func (s *Store) Seed(tree domain.BoardTree) {
	s.mu.Lock()
	b := tree.Board
	s.board = &b
	s.columns = make(map[string]*domain.Column, len(tree.Columns))
	for i := range tree.Columns {
		col := tree.Columns[i]
		s.columns[col.ID] = &col
	}
	s.cards = make(map[string]*domain.Card, len(tree.Cards))
	for i := range tree.Cards {
		card := tree.Cards[i]
		s.cards[card.ID] = &card
	}
	s.comments = make(map[string]*domain.Comment, len(tree.Comments))
	for i := range tree.Comments {
		cm := tree.Comments[i]
		s.comments[cm.ID] = &cm
	}
	s.orphans = nil
	s.mu.Unlock()
	s.fireNotify(true)
}

// Apply merges one change into the tree. Applying the same change twice
// yields the same state as applying it once; deletes of absent entities
// are no-ops. A malformed change is rejected with a ValidationError and
// the tree is left untouched.
func (s *Store) Apply(c domain.Change) error {
	if err := c.Validate(); err != nil {
		s.logger.WithFields(log.Fields{"entity": c.EntityID, "type": c.EntityType, "op": c.Op}).Warnf("rejected change: %v", err)
		return err
	}
	s.mu.Lock()
	s.expireOrphans()
	changed := s.applyLocked(c)
	s.mu.Unlock()
	s.fireNotify(changed)
	return nil
}

// ApplyBatch applies several changes as one transaction from the point of
// view of readers and the notify hook. Every change is validated before
// any of them is applied.
func (s *Store) ApplyBatch(changes []domain.Change) error {
	for _, c := range changes {
		if err := c.Validate(); err != nil {
			s.logger.WithFields(log.Fields{"entity": c.EntityID, "type": c.EntityType, "op": c.Op}).Warnf("rejected batch: %v", err)
			return err
		}
	}
	s.mu.Lock()
	s.expireOrphans()
	changed := false
	for _, c := range changes {
		if s.applyLocked(c) {
			changed = true
		}
	}
	s.mu.Unlock()
	s.fireNotify(changed)
	return nil
}

// Sweep discards buffered orphans whose parent never arrived within the
// TTL. Apply calls it implicitly; it is exported so a scheduler (or a
// test with an injected clock) can trigger it deterministically.
func (s *Store) Sweep() {
	s.mu.Lock()
	s.expireOrphans()
	s.mu.Unlock()
}

func (s *Store) fireNotify(changed bool) {
	if changed && s.notify != nil {
		s.notify()
	}
}

func (s *Store) applyLocked(c domain.Change) bool {
	switch c.EntityType {
	case domain.EntityBoard:
		return s.applyBoard(c)
	case domain.EntityColumn:
		return s.applyColumn(c)
	case domain.EntityCard:
		return s.applyCard(c)
	case domain.EntityComment:
		return s.applyComment(c)
	}
	return false
}

// stale reports whether the change's payload timestamp is older than what
// the tree already holds. Older deliveries are dropped so replaying a
// feed in any order converges on the same state.
func stale(c domain.Change, current time.Time) bool {
	ts := c.Timestamp()
	return ts != nil && ts.Before(current)
}

func (s *Store) applyBoard(c domain.Change) bool {
	if c.EntityID != s.boardID {
		s.logger.WithField("board", c.EntityID).Debug("dropping change for foreign board")
		return false
	}
	if c.Op == domain.OpDelete {
		if s.board == nil && len(s.columns) == 0 && len(s.cards) == 0 {
			return false
		}
		s.board = nil
		s.columns = make(map[string]*domain.Column)
		s.cards = make(map[string]*domain.Card)
		s.comments = make(map[string]*domain.Comment)
		s.orphans = nil
		return true
	}
	if s.board == nil {
		s.board = &domain.Board{ID: c.EntityID}
	} else if stale(c, s.board.UpdatedAt) {
		return false
	}
	f := c.Board
	if f.Title != nil {
		s.board.Title = *f.Title
	}
	if f.OwnerID != nil {
		s.board.OwnerID = *f.OwnerID
	}
	if f.TeamID != nil {
		s.board.TeamID = *f.TeamID
	}
	if f.SharedWith != nil {
		s.board.SharedWith = append([]string(nil), (*f.SharedWith)...)
	}
	if f.CreatedAt != nil {
		s.board.CreatedAt = *f.CreatedAt
	}
	if f.UpdatedAt != nil {
		s.board.UpdatedAt = *f.UpdatedAt
	}
	return true
}

func (s *Store) applyColumn(c domain.Change) bool {
	if c.ParentID != "" && c.ParentID != s.boardID {
		s.logger.WithFields(log.Fields{"column": c.EntityID, "board": c.ParentID}).Debug("dropping column change for foreign board")
		return false
	}
	if c.Op == domain.OpDelete {
		col, ok := s.columns[c.EntityID]
		if !ok {
			return false
		}
		for id, card := range s.cards {
			if card.ColumnID == col.ID {
				s.removeCommentsOf(id)
				delete(s.cards, id)
			}
		}
		delete(s.columns, c.EntityID)
		s.resequenceColumns()
		return true
	}
	col, ok := s.columns[c.EntityID]
	if !ok {
		col = &domain.Column{ID: c.EntityID, BoardID: s.boardID}
		s.columns[c.EntityID] = col
	} else if stale(c, col.UpdatedAt) {
		return false
	}
	f := c.Column
	if f.Title != nil {
		col.Title = *f.Title
	}
	if f.Position != nil {
		col.Position = *f.Position
	}
	if f.CreatedAt != nil {
		col.CreatedAt = *f.CreatedAt
	}
	if f.UpdatedAt != nil {
		col.UpdatedAt = *f.UpdatedAt
	}
	if !ok {
		s.drainOrphans(domain.EntityCard, col.ID)
	}
	return true
}

func (s *Store) applyCard(c domain.Change) bool {
	if c.Op == domain.OpDelete {
		card, ok := s.cards[c.EntityID]
		if !ok {
			return false
		}
		colID := card.ColumnID
		s.removeCommentsOf(c.EntityID)
		delete(s.cards, c.EntityID)
		s.resequenceCards(colID)
		return true
	}
	target := c.ParentID
	if c.Card.ColumnID != nil {
		target = *c.Card.ColumnID
	}
	card, ok := s.cards[c.EntityID]
	if !ok {
		if target == "" {
			s.logger.WithField("card", c.EntityID).Warn("dropping card change without column")
			return false
		}
		if _, parentKnown := s.columns[target]; !parentKnown {
			s.buffer(c)
			return false
		}
		card = &domain.Card{ID: c.EntityID, ColumnID: target, Priority: domain.PriorityMedium}
		s.cards[c.EntityID] = card
	} else if stale(c, card.UpdatedAt) {
		return false
	}
	prevColumn := card.ColumnID
	f := c.Card
	if f.ColumnID != nil {
		card.ColumnID = *f.ColumnID
	}
	if f.Title != nil {
		card.Title = *f.Title
	}
	if f.Description != nil {
		card.Description = *f.Description
	}
	if f.Priority != nil {
		card.Priority = *f.Priority
	}
	if f.Position != nil {
		card.Position = *f.Position
	}
	if f.Archived != nil {
		card.Archived = *f.Archived
	}
	if f.Assignees != nil {
		card.Assignees = append([]string(nil), (*f.Assignees)...)
	}
	if f.Labels != nil {
		card.Labels = append([]string(nil), (*f.Labels)...)
	}
	if f.Checklist != nil {
		card.Checklist = append([]domain.ChecklistItem(nil), (*f.Checklist)...)
	}
	if f.Attachments != nil {
		card.Attachments = append([]domain.Attachment(nil), (*f.Attachments)...)
	}
	if f.CreatedAt != nil {
		card.CreatedAt = *f.CreatedAt
	}
	if f.UpdatedAt != nil {
		card.UpdatedAt = *f.UpdatedAt
	}
	if prevColumn != "" && prevColumn != card.ColumnID {
		// Reparented: close the gap the card left behind.
		s.resequenceCards(prevColumn)
	}
	if !ok {
		s.drainOrphans(domain.EntityComment, card.ID)
	}
	return true
}

func (s *Store) applyComment(c domain.Change) bool {
	if c.Op == domain.OpDelete {
		if _, ok := s.comments[c.EntityID]; !ok {
			return false
		}
		delete(s.comments, c.EntityID)
		return true
	}
	cm, ok := s.comments[c.EntityID]
	if !ok {
		if c.ParentID == "" {
			s.logger.WithField("comment", c.EntityID).Warn("dropping comment change without card")
			return false
		}
		if _, parentKnown := s.cards[c.ParentID]; !parentKnown {
			s.buffer(c)
			return false
		}
		cm = &domain.Comment{ID: c.EntityID, CardID: c.ParentID}
		s.comments[c.EntityID] = cm
	} else if stale(c, cm.UpdatedAt) {
		return false
	}
	f := c.Comment
	if f.Text != nil {
		cm.Text = *f.Text
	}
	if f.AuthorID != nil {
		cm.AuthorID = *f.AuthorID
	}
	if f.CreatedAt != nil {
		cm.CreatedAt = *f.CreatedAt
	}
	if f.EditedAt != nil {
		t := *f.EditedAt
		cm.EditedAt = &t
	}
	if f.UpdatedAt != nil {
		cm.UpdatedAt = *f.UpdatedAt
	}
	return true
}

func (s *Store) removeCommentsOf(cardID string) {
	for id, cm := range s.comments {
		if cm.CardID == cardID {
			delete(s.comments, id)
		}
	}
}

// resequenceCards rewrites the positions of a column's live cards to the
// dense sequence 0..n-1, preserving their current order.
func (s *Store) resequenceCards(columnID string) {
	ordered := s.orderedCards(columnID)
	for i, card := range ordered {
		s.cards[card.ID].Position = i
	}
}

func (s *Store) resequenceColumns() {
	ordered := s.orderedColumns()
	for i, col := range ordered {
		s.columns[col.ID].Position = i
	}
}

func (s *Store) buffer(c domain.Change) {
	s.orphans = append(s.orphans, orphan{change: c, deadline: s.now().Add(s.orphanTTL)})
	s.logger.WithFields(log.Fields{"entity": c.EntityID, "type": c.EntityType, "parent": c.ParentID}).Debug("buffered change waiting for parent")
}

// drainOrphans replays buffered changes whose parent just arrived.
func (s *Store) drainOrphans(et domain.EntityType, parentID string) {
	if len(s.orphans) == 0 {
		return
	}
	kept := s.orphans[:0]
	var ready []domain.Change
	for _, o := range s.orphans {
		target := o.change.ParentID
		if o.change.EntityType == domain.EntityCard && o.change.Card != nil && o.change.Card.ColumnID != nil {
			target = *o.change.Card.ColumnID
		}
		if o.change.EntityType == et && target == parentID {
			ready = append(ready, o.change)
		} else {
			kept = append(kept, o)
		}
	}
	s.orphans = kept
	for _, c := range ready {
		s.applyLocked(c)
	}
}

func (s *Store) expireOrphans() {
	if len(s.orphans) == 0 {
		return
	}
	now := s.now()
	kept := s.orphans[:0]
	for _, o := range s.orphans {
		if now.After(o.deadline) {
			s.logger.WithFields(log.Fields{"entity": o.change.EntityID, "type": o.change.EntityType, "parent": o.change.ParentID}).Warn("discarding change whose parent never arrived")
			continue
		}
		kept = append(kept, o)
	}
	s.orphans = kept
}
