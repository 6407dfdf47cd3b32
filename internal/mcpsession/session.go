// Package mcpsession layers per-conversation session tracking on top
// of an MCP server: each downstream conversation gets a
// server-assigned session id, echoed back in the Mcp-Session-Id
// header, and is evicted after 30 minutes of idleness.
package mcpsession

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
	"github.com/atlas-desktop/atlas-bridge/pkg/utils"
	"go.uber.org/zap"
)

const idleTTL = 30 * time.Minute

// Session tracks one conversation's last-seen time.
type Session struct {
	ID         string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Manager owns the live session table and evicts idle sessions on a
// periodic sweep.
type Manager struct {
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger.Named("mcp-session"),
		sessions: make(map[string]*Session),
	}
}

// Start begins the idle-eviction sweep, checking every minute.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.sweepLoop(runCtx)
}

// Stop halts the eviction sweep.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if s.LastSeenAt.Before(cutoff) {
			delete(m.sessions, id)
			m.logger.Debug("evicted idle mcp session", zap.String("sessionId", id))
		}
	}
}

// Create allocates a new session and returns its id.
func (m *Manager) Create() *Session {
	now := time.Now()
	s := &Session{ID: utils.GenerateID("mcp"), CreatedAt: now, LastSeenAt: now}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s
}

// Touch validates that a session id is live and bumps its last-seen
// time. Returns an apierr.Validation error ("invalid session id") if
// the session does not exist or was already evicted.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return apierr.New(apierr.Validation, "invalid session id")
	}
	s.LastSeenAt = time.Now()
	return nil
}

// Delete removes a session immediately, for explicit client teardown
// (DELETE /mcp).
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count reports the number of live sessions, for observability.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
