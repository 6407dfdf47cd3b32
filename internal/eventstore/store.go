// Package eventstore is the append-only, durable, strictly-sequential
// log of domain events that the read models replay to hydrate state.
package eventstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store is the singleton event log. Append is linearized through a
// single mutex so sequence_ids are assigned contiguously with no
// gaps, matching the event-store invariant in spec.md section 3.
type Store struct {
	logger *zap.Logger
	db     *sql.DB

	appendMu sync.Mutex
	tail     int64

	subMu       sync.Mutex
	subscribers map[int]chan types.BridgeEvent
	nextSubID   int
}

// New opens (or creates) the sqlite-backed event log at path.
func New(logger *zap.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apierr.Wrap(apierr.Storage, "open event store", err)
	}
	db.SetMaxOpenConns(1) // single-writer, single process owns the file

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		sequence_id INTEGER PRIMARY KEY,
		type        TEXT NOT NULL,
		timestamp   TEXT NOT NULL,
		payload     BLOB NOT NULL
	)`); err != nil {
		return nil, apierr.Wrap(apierr.Storage, "create events table", err)
	}

	s := &Store{
		logger:      logger.Named("event-store"),
		db:          db,
		subscribers: make(map[int]chan types.BridgeEvent),
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(sequence_id) FROM events`).Scan(&maxSeq); err != nil {
		return nil, apierr.Wrap(apierr.Storage, "read event store tail", err)
	}
	s.tail = maxSeq.Int64

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append assigns the next sequence_id and durably persists the event.
// Failure is always Storage and is fatal to the originating operation.
func (s *Store) Append(ctx context.Context, eventType types.EventType, payload interface{}) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, apierr.Wrap(apierr.Validation, "marshal event payload", err)
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	seq := s.tail + 1
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (sequence_id, type, timestamp, payload) VALUES (?, ?, ?, ?)`,
		seq, string(eventType), now.Format(time.RFC3339Nano), body)
	if err != nil {
		return 0, apierr.Wrap(apierr.Storage, "append event", err)
	}
	s.tail = seq

	ev := types.BridgeEvent{SequenceID: seq, Type: eventType, Timestamp: now, Payload: body}
	s.fanOut(ev)

	return seq, nil
}

// Replay returns every event from sequence_id from (inclusive) to the
// current tail, in order. It is not a lazy iterator: each call reads
// every matching row eagerly into a fresh slice as of the moment it runs.
func (s *Store) Replay(ctx context.Context, from int64) ([]types.BridgeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence_id, type, timestamp, payload FROM events WHERE sequence_id >= ? ORDER BY sequence_id ASC`, from)
	if err != nil {
		return nil, apierr.Wrap(apierr.Storage, "replay events", err)
	}
	defer rows.Close()

	var out []types.BridgeEvent
	for rows.Next() {
		var ev types.BridgeEvent
		var ts string
		var typeStr string
		if err := rows.Scan(&ev.SequenceID, &typeStr, &ts, &ev.Payload); err != nil {
			return nil, apierr.Wrap(apierr.Storage, "scan replayed event", err)
		}
		ev.Type = types.EventType(typeStr)
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Subscribe returns a channel delivering every event appended after
// this call (at-most-once delivery per subscriber) plus, if from is
// less than the current tail, a synchronous backfill up to the tail
// before the channel starts carrying live events. Appends are held off
// while the backfill is queued, so no live event precedes or
// interleaves with it. The returned cancel func unregisters the
// subscriber.
func (s *Store) Subscribe(ctx context.Context, from int64) (<-chan types.BridgeEvent, func(), error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	backfill, err := s.Replay(ctx, from)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan types.BridgeEvent, len(backfill)+1024)
	for _, ev := range backfill {
		ch <- ev
	}

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
		close(ch)
	}

	return ch, cancel, nil
}

// Tail returns the current sequence_id high-water mark (0 if empty).
func (s *Store) Tail() int64 {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	return s.tail
}

func (s *Store) fanOut(ev types.BridgeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("subscriber channel full, dropping event", zap.Int("subscriberId", id), zap.Int64("sequenceId", ev.SequenceID))
		}
	}
}
