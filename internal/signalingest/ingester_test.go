package signalingest_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/eventstore"
	"github.com/atlas-desktop/atlas-bridge/internal/signalingest"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *eventstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := eventstore.New(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("eventstore.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIngestAcceptsFirstAlert(t *testing.T) {
	store := newTestStore(t)
	ing := signalingest.New(zap.NewNop(), store, nil, nil, signalingest.Config{DedupWindow: time.Minute})

	body := []byte(`{"ticker":"AAPL","action":"buy","price":150.25}`)
	result, err := ing.Ingest(context.Background(), body)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !result.Accepted || result.Deduplicated {
		t.Errorf("expected first alert to be accepted, got %+v", result)
	}
	if result.SequenceID == 0 {
		t.Error("expected a non-zero sequence id")
	}
}

func TestIngestDeduplicatesWithinWindow(t *testing.T) {
	store := newTestStore(t)
	ing := signalingest.New(zap.NewNop(), store, nil, nil, signalingest.Config{DedupWindow: time.Hour})

	body := []byte(`{"ticker":"AAPL","action":"buy","price":150.25}`)

	first, err := ing.Ingest(context.Background(), body)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !first.Accepted {
		t.Fatalf("expected first alert accepted, got %+v", first)
	}

	second, err := ing.Ingest(context.Background(), body)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !second.Deduplicated {
		t.Errorf("expected second alert within dedup window to be deduplicated, got %+v", second)
	}
}

func TestIngestRejectsUnparseableAlert(t *testing.T) {
	store := newTestStore(t)
	ing := signalingest.New(zap.NewNop(), store, nil, nil, signalingest.DefaultConfig())

	_, err := ing.Ingest(context.Background(), []byte(`not an alert at all`))
	if err == nil {
		t.Fatal("expected parse error for unparseable alert body")
	}
}
