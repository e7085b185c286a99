package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"boardsync/domain"
	"boardsync/store"
)

type fakeHandle struct {
	feed   *fakeFeed
	entity domain.EntityType
}

func (h *fakeHandle) Unsubscribe() error {
	h.feed.mu.Lock()
	defer h.feed.mu.Unlock()
	delete(h.feed.callbacks, h.entity)
	h.feed.unsubscribed++
	return nil
}

type fakeFeed struct {
	mu           sync.Mutex
	callbacks    map[domain.EntityType]func(domain.FeedEvent)
	subscribed   int
	unsubscribed int
	failEntity   domain.EntityType
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{callbacks: make(map[domain.EntityType]func(domain.FeedEvent))}
}

func (f *fakeFeed) Subscribe(ctx context.Context, boardID string, entity domain.EntityType, fn func(domain.FeedEvent)) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entity == f.failEntity {
		return nil, errors.New("channel refused")
	}
	f.callbacks[entity] = fn
	f.subscribed++
	return &fakeHandle{feed: f, entity: entity}, nil
}

func (f *fakeFeed) emit(entity domain.EntityType, ev domain.FeedEvent) {
	f.mu.Lock()
	fn := f.callbacks[entity]
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

type fakeSnapshots struct {
	tree domain.BoardTree
	err  error
	// emit lets a test inject feed events while the snapshot is "in
	// flight", before seeding completes.
	during func()
}

func (f *fakeSnapshots) FetchBoard(ctx context.Context, boardID string) (domain.BoardTree, error) {
	if f.during != nil {
		f.during()
	}
	return f.tree, f.err
}

func cardInsertEvent(id, columnID, title string, pos int) domain.FeedEvent {
	row := fmt.Sprintf(`{"id":%q,"column_id":%q,"title":%q,"position":%d,"updated_at":"2025-03-01T12:00:01Z"}`, id, columnID, title, pos)
	return domain.FeedEvent{Type: domain.OpInsert, New: json.RawMessage(row)}
}

func snapshotTree() domain.BoardTree {
	return domain.BoardTree{
		Board:   domain.Board{ID: "b1", Title: "Plan"},
		Columns: []domain.Column{{ID: "col1", BoardID: "b1", Title: "Todo", Position: 0}},
		Cards:   []domain.Card{{ID: "a", ColumnID: "col1", Title: "A", Position: 0}},
	}
}

func TestOpenSeedsThenAppliesLive(t *testing.T) {
	feed := newFakeFeed()
	st := store.New("b1")
	sub, err := Open(context.Background(), "b1", st, feed, &fakeSnapshots{tree: snapshotTree()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close()

	if feed.subscribed != len(domain.EntityTypes) {
		t.Fatalf("subscribed %d channels", feed.subscribed)
	}
	if _, ok := st.Card("a"); !ok {
		t.Fatal("snapshot not seeded")
	}

	feed.emit(domain.EntityCard, cardInsertEvent("b", "col1", "B", 1))
	if _, ok := st.Card("b"); !ok {
		t.Fatal("live insert not applied")
	}
}

func TestNotificationsDuringSnapshotAreReplayed(t *testing.T) {
	feed := newFakeFeed()
	st := store.New("b1")
	snaps := &fakeSnapshots{tree: snapshotTree()}
	snaps.during = func() {
		feed.emit(domain.EntityCard, cardInsertEvent("early", "col1", "Early", 1))
	}
	sub, err := Open(context.Background(), "b1", st, feed, snaps)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close()

	card, ok := st.Card("early")
	if !ok {
		t.Fatal("queued notification lost")
	}
	if card.Title != "Early" {
		t.Fatalf("card = %+v", card)
	}
	// The seed must still have landed first: the snapshot card survived.
	if _, ok := st.Card("a"); !ok {
		t.Fatal("snapshot card missing")
	}
}

func TestCloseStopsApplies(t *testing.T) {
	feed := newFakeFeed()
	st := store.New("b1")
	sub, err := Open(context.Background(), "b1", st, feed, &fakeSnapshots{tree: snapshotTree()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cb := feed.callbacks[domain.EntityCard]
	sub.Close()
	if feed.unsubscribed != len(domain.EntityTypes) {
		t.Fatalf("unsubscribed %d channels", feed.unsubscribed)
	}
	// A notification already in flight at teardown must be dropped.
	if cb != nil {
		cb(cardInsertEvent("late", "col1", "Late", 1))
	}
	if _, ok := st.Card("late"); ok {
		t.Fatal("change applied after teardown")
	}
}

func TestOpenSubscribeFailureReleasesChannels(t *testing.T) {
	feed := newFakeFeed()
	feed.failEntity = domain.EntityCard
	st := store.New("b1")
	if _, err := Open(context.Background(), "b1", st, feed, &fakeSnapshots{tree: snapshotTree()}); err == nil {
		t.Fatal("expected subscribe error")
	}
	feed.mu.Lock()
	open := len(feed.callbacks)
	feed.mu.Unlock()
	if open != 0 {
		t.Fatalf("%d channels leaked", open)
	}
}

func TestOpenSnapshotFailureReleasesChannels(t *testing.T) {
	feed := newFakeFeed()
	st := store.New("b1")
	if _, err := Open(context.Background(), "b1", st, feed, &fakeSnapshots{err: errors.New("boom")}); err == nil {
		t.Fatal("expected snapshot error")
	}
	feed.mu.Lock()
	open := len(feed.callbacks)
	feed.mu.Unlock()
	if open != 0 {
		t.Fatalf("%d channels leaked", open)
	}
}

func TestBadNotificationLogged(t *testing.T) {
	feed := newFakeFeed()
	st := store.New("b1")
	sub, err := Open(context.Background(), "b1", st, feed, &fakeSnapshots{tree: snapshotTree()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close()
	// Must not panic or wedge the channel.
	feed.emit(domain.EntityCard, domain.FeedEvent{Type: domain.OpInsert, New: json.RawMessage(`{"id":""}`)})
	feed.emit(domain.EntityCard, cardInsertEvent("b", "col1", "B", 1))
	if _, ok := st.Card("b"); !ok {
		t.Fatal("channel wedged after bad notification")
	}
}
