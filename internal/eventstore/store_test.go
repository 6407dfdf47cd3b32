package eventstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/atlas-bridge/internal/eventstore"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"go.uber.org/zap"
)

type samplePayload struct {
	Symbol string `json:"symbol"`
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	logger := zap.NewNop()
	path := filepath.Join(t.TempDir(), "events.db")

	store, err := eventstore.New(logger, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i, want := range []int64{1, 2, 3} {
		seq, err := store.Append(ctx, types.EventSignalReceived, samplePayload{Symbol: "BTC/USDT"})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != want {
			t.Errorf("append %d: got sequence %d, want %d", i, seq, want)
		}
	}

	if got := store.Tail(); got != 3 {
		t.Errorf("Tail() = %d, want 3", got)
	}
}

func TestReplayReturnsEventsInOrder(t *testing.T) {
	logger := zap.NewNop()
	path := filepath.Join(t.TempDir(), "events.db")

	store, err := eventstore.New(logger, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, symbol := range []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"} {
		if _, err := store.Append(ctx, types.EventSignalReceived, samplePayload{Symbol: symbol}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := store.Replay(ctx, 2)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].SequenceID != 2 || events[1].SequenceID != 3 {
		t.Errorf("unexpected sequence ids: %d, %d", events[0].SequenceID, events[1].SequenceID)
	}
}

func TestSubscribeBackfillsThenStreamsLive(t *testing.T) {
	logger := zap.NewNop()
	path := filepath.Join(t.TempDir(), "events.db")

	store, err := eventstore.New(logger, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.Append(ctx, types.EventSignalReceived, samplePayload{Symbol: "BTC/USDT"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	ch, cancel, err := store.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	backfilled := <-ch
	if backfilled.SequenceID != 1 {
		t.Fatalf("backfill sequence = %d, want 1", backfilled.SequenceID)
	}

	seq, err := store.Append(ctx, types.EventSignalReceived, samplePayload{Symbol: "ETH/USDT"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	live := <-ch
	if live.SequenceID != seq {
		t.Errorf("live sequence = %d, want %d", live.SequenceID, seq)
	}
}

func TestReopenPersistsTail(t *testing.T) {
	logger := zap.NewNop()
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	store1, err := eventstore.New(logger, path)
	if err != nil {
		t.Fatalf("open store 1: %v", err)
	}
	if _, err := store1.Append(ctx, types.EventSignalReceived, samplePayload{Symbol: "BTC/USDT"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store1.Close(); err != nil {
		t.Fatalf("close store 1: %v", err)
	}

	store2, err := eventstore.New(logger, path)
	if err != nil {
		t.Fatalf("open store 2: %v", err)
	}
	defer store2.Close()

	if got := store2.Tail(); got != 1 {
		t.Errorf("reopened tail = %d, want 1", got)
	}

	seq, err := store2.Append(ctx, types.EventSignalReceived, samplePayload{Symbol: "ETH/USDT"})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if seq != 2 {
		t.Errorf("append after reopen got sequence %d, want 2", seq)
	}
}
