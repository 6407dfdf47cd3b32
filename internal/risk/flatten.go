package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/eventstore"
	"github.com/atlas-desktop/atlas-bridge/internal/readmodel"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"go.uber.org/zap"
)

// FlattenFunc closes a position at market and is supplied by the
// broker-integration layer; CancelOrdersFunc cancels every open order.
type FlattenFunc func(ctx context.Context, symbol string) error
type CancelOrdersFunc func(ctx context.Context) error

// Scheduler fires a configurable local HH:MM flatten trigger exactly
// once per calendar day in the configured timezone, grounded on the
// teacher's ticker-driven start/stop loop shape
// (internal/autonomous/agent.go).
type Scheduler struct {
	logger *zap.Logger
	store  *eventstore.Store
	proj   *readmodel.Projection
	gate   *Gate

	hour, minute int
	tz           *time.Location

	flatten       FlattenFunc
	cancelOrders  CancelOrdersFunc

	mu         sync.Mutex
	firedDate  string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses an "HH:MM" local trigger time in tz.
func NewScheduler(logger *zap.Logger, store *eventstore.Store, proj *readmodel.Projection, gate *Gate,
	hhmm string, tz *time.Location, flatten FlattenFunc, cancelOrders CancelOrdersFunc) (*Scheduler, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("invalid flatten schedule %q: %w", hhmm, err)
	}
	return &Scheduler{
		logger:       logger.Named("flatten-scheduler"),
		store:        store,
		proj:         proj,
		gate:         gate,
		hour:         hour,
		minute:       minute,
		tz:           tz,
		flatten:      flatten,
		cancelOrders: cancelOrders,
	}, nil
}

// Start begins the polling loop on a 1-second tick. Cheap to poll at
// this granularity since the comparison itself is trivial.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(runCtx)
}

// Stop halts the polling loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkTick(ctx)
		}
	}
}

// checkTick fires the flatten routine at most once per calendar day,
// tracked via firedDate reset on zone-local date rollover — not UTC,
// per the Open Question decision in DESIGN.md.
func (s *Scheduler) checkTick(ctx context.Context) {
	now := time.Now().In(s.tz)
	today := now.Format("2006-01-02")

	s.mu.Lock()
	if s.firedDate != today {
		// new calendar day in this zone: reset idempotence tracking
		s.firedDate = ""
	}
	alreadyFired := s.firedDate == today
	s.mu.Unlock()

	if alreadyFired {
		return
	}
	if now.Hour() != s.hour || now.Minute() != s.minute {
		return
	}

	s.mu.Lock()
	if s.firedDate == today {
		s.mu.Unlock()
		return
	}
	s.firedDate = today
	s.mu.Unlock()

	s.fire(ctx, today)
}

func (s *Scheduler) fire(ctx context.Context, date string) {
	positions := s.proj.AllPositions()
	for _, pos := range positions {
		if err := s.flatten(ctx, pos.Symbol); err != nil {
			s.logger.Error("flatten order failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		}
	}
	if err := s.cancelOrders(ctx); err != nil {
		s.logger.Error("cancel open orders failed", zap.Error(err))
	}

	_, err := s.store.Append(ctx, types.EventSessionFlattened, map[string]interface{}{
		"date":      date,
		"positions": len(positions),
	})
	if err != nil {
		s.logger.Error("failed to append SessionFlattened event", zap.Error(err))
	}

	s.logger.Info("flatten scheduler fired", zap.String("date", date), zap.Int("positionsClosed", len(positions)))
}
