// Package weights persists the ensemble's model weights as a small,
// hot-reloadable JSON document and runs the Dirichlet-posterior
// Bayesian updater that drifts expected weights toward empirically
// successful models.
package weights

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// weightTolerance is the allowed deviation of Σ(model weights) from 1.
var weightTolerance = decimal.NewFromFloat(0.01)

// Store owns the on-disk weight document and its in-memory immutable
// snapshot, published by atomic swap — readers take a snapshot
// reference for the duration of one evaluation; writers install a new
// snapshot only after validating Σ(weights) ≈ 1.
type Store struct {
	logger *zap.Logger
	path   string

	snapshot atomic.Pointer[types.WeightSet]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  func()
}

// Load reads the weight document at path and begins watching it for
// external changes via fsnotify, reloading on write events (poll
// fallback interval 5s if the watcher itself fails to start).
func Load(logger *zap.Logger, path string) (*Store, error) {
	s := &Store{logger: logger.Named("weight-store"), path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, falling back to 5s poll", zap.Error(err))
		s.startPolling()
		return s, nil
	}
	if err := watcher.Add(path); err != nil {
		s.logger.Warn("fsnotify add failed, falling back to 5s poll", zap.Error(err))
		s.startPolling()
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop()

	return s, nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := s.reload(); err != nil {
					s.logger.Error("weight file reload failed", zap.Error(err))
				} else {
					s.logger.Info("weight file hot-reloaded")
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("weight watcher error", zap.Error(err))
		}
	}
}

func (s *Store) startPolling() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		var lastMod time.Time
		for range ticker.C {
			info, err := os.Stat(s.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				if err := s.reload(); err != nil {
					s.logger.Error("weight file reload failed", zap.Error(err))
				}
			}
		}
	}()
	s.cancel = ticker.Stop
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return apierr.Wrap(apierr.Storage, "read weight document", err)
	}
	var ws types.WeightSet
	if err := json.Unmarshal(data, &ws); err != nil {
		return apierr.Wrap(apierr.Validation, "parse weight document", err)
	}
	if err := validateSum(ws); err != nil {
		return err
	}
	s.snapshot.Store(&ws)
	return nil
}

func validateSum(ws types.WeightSet) error {
	sum := ws.Claude.Add(ws.GPT4o).Add(ws.Gemini)
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(weightTolerance) {
		return apierr.New(apierr.Validation, "model weights do not sum to 1 within tolerance")
	}
	return nil
}

// Active returns the current immutable weight snapshot, applying any
// per-regime override.
func (s *Store) Active(regime types.Regime) types.WeightSet {
	snap := s.snapshot.Load()
	if snap == nil {
		return types.WeightSet{}
	}
	if override, ok := snap.RegimeOverrides[regime]; ok {
		merged := *snap
		merged.Claude = override.Claude
		merged.GPT4o = override.GPT4o
		merged.Gemini = override.Gemini
		merged.K = override.K
		return merged
	}
	return *snap
}

// Write validates and persists a new weight document, publishing it
// as the new active snapshot by atomic swap.
func (s *Store) Write(ws types.WeightSet) error {
	if err := validateSum(ws); err != nil {
		return err
	}
	ws.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.Validation, "marshal weight document", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return apierr.Wrap(apierr.Storage, "write weight document", err)
	}
	s.snapshot.Store(&ws)
	return nil
}

// Close stops the watcher/poller.
func (s *Store) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
}
