package search

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/amaydixit11/causalchat/internal/core"
	"github.com/amaydixit11/causalchat/internal/engine"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewMemoryIndex()
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	session := uuid.New()

	msgs := []core.Message{
		core.NewMessage(0, session, 0, "anyone up for lunch", core.Entries{1, 0}, time.Now()),
		core.NewMessage(1, session, 1, "lunch sounds great", core.Entries{1, 1}, time.Now()),
		core.NewMessage(2, session, 0, "meeting at three", core.Entries{2, 1}, time.Now()),
	}
	for _, m := range msgs {
		if err := idx.IndexMessage(1, m); err != nil {
			t.Fatalf("index failed: %v", err)
		}
	}
	idx.IndexMessage(0, msgs[1])

	results, err := idx.Search("lunch", SearchOptions{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 hits across receivers, got %d", len(results))
	}

	receiver := 1
	results, _ = idx.Search("lunch", SearchOptions{Receiver: &receiver, Session: session.String()})
	if len(results) != 2 {
		t.Fatalf("expected 2 hits at receiver 1, got %d", len(results))
	}
	for _, r := range results {
		if r.Receiver != 1 || r.Session != session.String() {
			t.Errorf("unexpected hit: %+v", r)
		}
	}

	sender := 0
	results, _ = idx.Search("lunch", SearchOptions{Receiver: &receiver, Sender: &sender})
	if len(results) != 1 || results[0].MessageID != 0 {
		t.Errorf("expected only message 0, got %+v", results)
	}

	results, _ = idx.Search("lunch", SearchOptions{Session: uuid.New().String()})
	if len(results) != 0 {
		t.Errorf("other sessions must not match, got %d", len(results))
	}
}

func TestFollowIndexesDeliveries(t *testing.T) {
	idx := newTestIndex(t)
	e, err := engine.New(engine.Config{Processes: 2, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	sub := e.SubscribeWithOptions(engine.SubscriptionOptions{Events: []engine.EventType{engine.EventDelivered}})
	done := make(chan struct{})
	go func() {
		idx.Follow(sub, zerolog.Nop())
		close(done)
	}()

	m, _ := e.Send(0, "hello causal world")
	e.Enqueue(1, m)
	e.PollDelivery(1)
	e.Close()
	<-done

	if idx.Indexed() != 2 {
		t.Fatalf("expected sender and receiver copies indexed, got %d", idx.Indexed())
	}
	receiver := 1
	results, err := idx.Search("causal", SearchOptions{Receiver: &receiver})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].MessageID != m.ID {
		t.Errorf("expected the delivered message, got %+v", results)
	}
}

func TestDropOtherSessions(t *testing.T) {
	idx := newTestIndex(t)
	old, current := uuid.New(), uuid.New()

	idx.IndexMessage(0, core.NewMessage(0, old, 0, "stale gossip", core.Entries{1, 0}, time.Now()))
	idx.IndexMessage(1, core.NewMessage(0, old, 0, "stale gossip", core.Entries{1, 0}, time.Now()))
	idx.IndexMessage(1, core.NewMessage(0, current, 1, "fresh gossip", core.Entries{0, 1}, time.Now()))

	removed, err := idx.DropOtherSessions(current.String())
	if err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 documents removed, got %d", removed)
	}
	if n, _ := idx.DocCount(); n != 1 {
		t.Errorf("expected 1 document left, got %d", n)
	}

	results, _ := idx.Search("gossip", SearchOptions{})
	if len(results) != 1 || results[0].Session != current.String() {
		t.Errorf("expected only the current session, got %+v", results)
	}

	if removed, _ := idx.DropOtherSessions(current.String()); removed != 0 {
		t.Errorf("second drop should be a no-op, removed %d", removed)
	}
}

func TestFollowDropsOldSessionOnReset(t *testing.T) {
	idx := newTestIndex(t)
	e, err := engine.New(engine.Config{Processes: 2, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	sub := e.SubscribeWithOptions(FollowOptions())
	done := make(chan struct{})
	go func() {
		idx.Follow(sub, zerolog.Nop())
		close(done)
	}()

	m, _ := e.Send(0, "before the reset")
	e.Enqueue(1, m)
	e.PollDelivery(1)
	e.Reset(2)
	e.Send(1, "after the reset")
	e.Close()
	<-done

	if n, _ := idx.DocCount(); n != 1 {
		t.Fatalf("expected only the new session's document, got %d", n)
	}
	results, _ := idx.Search("reset", SearchOptions{})
	if len(results) != 1 || results[0].Session != e.SessionID().String() {
		t.Errorf("expected one hit in the new session, got %+v", results)
	}
}

func TestFollowWarnsWhenEventsDropped(t *testing.T) {
	idx := newTestIndex(t)
	e, err := engine.New(engine.Config{Processes: 2, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	opts := FollowOptions()
	opts.BufferSize = 1
	sub := e.SubscribeWithOptions(opts)

	// Nobody reads yet, so only the first delivery fits
	for i := 0; i < 3; i++ {
		e.Send(0, "burst")
	}

	var logs bytes.Buffer
	done := make(chan struct{})
	go func() {
		idx.Follow(sub, zerolog.New(&logs))
		close(done)
	}()
	e.Close()
	<-done

	if idx.Indexed() != 1 {
		t.Errorf("expected 1 indexed delivery, got %d", idx.Indexed())
	}
	if !strings.Contains(logs.String(), `"dropped":2`) {
		t.Errorf("expected a warning about 2 dropped events, got %q", logs.String())
	}
}
