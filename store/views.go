package store

import (
	"sort"

	"boardsync/domain"
)

// Ordered views are derived by sorting on read; the maps are the only
// source of truth. Ties sort by creation time, then id, so readers see a
// stable order even mid-reconciliation.

// Board returns the board metadata, if it has arrived.
func (s *Store) Board() (domain.Board, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.board == nil {
		return domain.Board{}, false
	}
	return *s.board, true
}

// Columns returns the board's columns in position order.
func (s *Store) Columns() []domain.Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Column, 0, len(s.columns))
	for _, col := range s.orderedColumns() {
		out = append(out, *col)
	}
	return out
}

// Column looks up a single column.
func (s *Store) Column(id string) (domain.Column, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.columns[id]
	if !ok {
		return domain.Column{}, false
	}
	return *col, true
}

// Cards returns a column's live (non-archived) cards in position order.
func (s *Store) Cards(columnID string) []domain.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.orderedCards(columnID)
	out := make([]domain.Card, 0, len(ordered))
	for _, card := range ordered {
		out = append(out, *card)
	}
	return out
}

// CardIDs returns the ordered ids of a column's live cards. The reorder
// engine feeds these to the position allocator.
func (s *Store) CardIDs(columnID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.orderedCards(columnID)
	out := make([]string, 0, len(ordered))
	for _, card := range ordered {
		out = append(out, card.ID)
	}
	return out
}

// ColumnIDs returns the ordered ids of the board's columns.
func (s *Store) ColumnIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.orderedColumns()
	out := make([]string, 0, len(ordered))
	for _, col := range ordered {
		out = append(out, col.ID)
	}
	return out
}

// Card looks up a single card.
func (s *Store) Card(id string) (domain.Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[id]
	if !ok {
		return domain.Card{}, false
	}
	return *card, true
}

// ArchivedCards returns every archived card on the board, newest first.
func (s *Store) ArchivedCards() []domain.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Card, 0)
	for _, card := range s.cards {
		if card.Archived {
			out = append(out, *card)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Comments returns a card's comments, oldest first.
func (s *Store) Comments(cardID string) []domain.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Comment, 0)
	for _, cm := range s.comments {
		if cm.CardID == cardID {
			out = append(out, *cm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Tree snapshots the whole board for streaming to a client.
func (s *Store) Tree() domain.BoardTree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tree domain.BoardTree
	if s.board != nil {
		tree.Board = *s.board
	} else {
		tree.Board = domain.Board{ID: s.boardID}
	}
	for _, col := range s.orderedColumns() {
		tree.Columns = append(tree.Columns, *col)
	}
	for _, col := range s.orderedColumns() {
		for _, card := range s.orderedCards(col.ID) {
			tree.Cards = append(tree.Cards, *card)
		}
	}
	ids := make([]string, 0, len(s.comments))
	for id := range s.comments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		tree.Comments = append(tree.Comments, *s.comments[id])
	}
	return tree
}

// callers hold s.mu
func (s *Store) orderedColumns() []*domain.Column {
	out := make([]*domain.Column, 0, len(s.columns))
	for _, col := range s.columns {
		out = append(out, col)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// callers hold s.mu
func (s *Store) orderedCards(columnID string) []*domain.Card {
	out := make([]*domain.Card, 0)
	for _, card := range s.cards {
		if card.ColumnID == columnID && !card.Archived {
			out = append(out, card)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
