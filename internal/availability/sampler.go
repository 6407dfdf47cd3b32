// Package availability samples bridge/broker/tunnel health on a fixed
// interval, persists samples, prunes old ones, and computes rolling
// SLA percentages and outage runs.
package availability

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

const (
	sampleInterval = 30 * time.Second
	retention      = 90 * 24 * time.Hour
	outageMinDur   = 60 * time.Second
)

// HealthCheck reports the current liveness of one monitored signal.
type HealthCheck func(ctx context.Context) bool

// Sampler runs the 30s health-sampling loop and owns the sqlite-backed
// sample history.
type Sampler struct {
	logger *zap.Logger
	db     *sql.DB

	bridgeCheck HealthCheck
	brokerCheck HealthCheck
	tunnelCheck HealthCheck

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New opens (or creates) the ops_availability table at path and
// returns a Sampler wired to the three health checks.
func New(logger *zap.Logger, path string, bridgeCheck, brokerCheck, tunnelCheck HealthCheck) (*Sampler, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apierr.Wrap(apierr.Storage, "open availability database", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS ops_availability (
	sampled_at   TIMESTAMP NOT NULL PRIMARY KEY,
	bridge_ok    INTEGER NOT NULL,
	broker_ok    INTEGER NOT NULL,
	tunnel_ok    INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, apierr.Wrap(apierr.Storage, "create ops_availability table", err)
	}

	return &Sampler{
		logger:      logger.Named("availability"),
		db:          db,
		bridgeCheck: bridgeCheck,
		brokerCheck: brokerCheck,
		tunnelCheck: tunnelCheck,
	}, nil
}

// Start begins the sampling loop in the background.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(runCtx)
}

// Stop halts the sampling loop and waits for it to exit.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(24 * time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		case <-pruneTicker.C:
			if err := s.prune(ctx); err != nil {
				s.logger.Error("prune failed", zap.Error(err))
			}
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	bridgeOK := s.bridgeCheck(ctx)
	brokerOK := s.brokerCheck(ctx)
	tunnelOK := s.tunnelCheck(ctx)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ops_availability (sampled_at, bridge_ok, broker_ok, tunnel_ok) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), boolToInt(bridgeOK), boolToInt(brokerOK), boolToInt(tunnelOK))
	if err != nil {
		s.logger.Error("failed to persist availability sample", zap.Error(err))
	}
}

func (s *Sampler) prune(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-retention)
	_, err := s.db.ExecContext(ctx, `DELETE FROM ops_availability WHERE sampled_at < ?`, cutoff)
	if err != nil {
		return apierr.Wrap(apierr.Storage, "prune old availability samples", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sample is one row read back from the database.
type sample struct {
	at     time.Time
	bridge bool
	broker bool
	tunnel bool
}

func (s *Sampler) samplesSince(ctx context.Context, since time.Time) ([]sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sampled_at, bridge_ok, broker_ok, tunnel_ok FROM ops_availability WHERE sampled_at >= ? ORDER BY sampled_at ASC`, since)
	if err != nil {
		return nil, apierr.Wrap(apierr.Storage, "query availability samples", err)
	}
	defer rows.Close()

	var out []sample
	for rows.Next() {
		var sm sample
		var bridgeOK, brokerOK, tunnelOK int
		if err := rows.Scan(&sm.at, &bridgeOK, &brokerOK, &tunnelOK); err != nil {
			return nil, apierr.Wrap(apierr.Storage, "scan availability sample", err)
		}
		sm.bridge, sm.broker, sm.tunnel = bridgeOK == 1, brokerOK == 1, tunnelOK == 1
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Sampler) Close() error {
	return s.db.Close()
}

// HumanizeWindow renders a duration the way an operator dashboard
// would, e.g. "2 minutes" or "3 days".
func HumanizeWindow(d time.Duration) string {
	return humanize.RelTime(time.Now().Add(-d), time.Now(), "", "")
}
