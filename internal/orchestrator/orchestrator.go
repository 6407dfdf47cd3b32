// Package orchestrator is the central integration point: it
// constructs the broker session, event store, read models, risk gate,
// feature pipeline, LLM ensemble, weight store, signal ingester,
// agent dispatcher, outbound stream, availability sampler, and MCP
// session layer, wires them to each other, and owns their
// start/stop lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/availability"
	"github.com/atlas-desktop/atlas-bridge/internal/broker"
	"github.com/atlas-desktop/atlas-bridge/internal/dispatcher"
	"github.com/atlas-desktop/atlas-bridge/internal/ensemble"
	"github.com/atlas-desktop/atlas-bridge/internal/eventstore"
	"github.com/atlas-desktop/atlas-bridge/internal/features"
	"github.com/atlas-desktop/atlas-bridge/internal/mcpsession"
	"github.com/atlas-desktop/atlas-bridge/internal/metrics"
	"github.com/atlas-desktop/atlas-bridge/internal/readmodel"
	"github.com/atlas-desktop/atlas-bridge/internal/regime"
	"github.com/atlas-desktop/atlas-bridge/internal/risk"
	"github.com/atlas-desktop/atlas-bridge/internal/signalingest"
	"github.com/atlas-desktop/atlas-bridge/internal/stream"
	"github.com/atlas-desktop/atlas-bridge/internal/weights"
	"github.com/atlas-desktop/atlas-bridge/pkg/config"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// Bridge wires together every component named in the component design
// and owns their combined lifecycle.
type Bridge struct {
	logger *zap.Logger
	cfg    *config.Config

	Session    *broker.Session
	Subs       *broker.Registry
	Store      *eventstore.Store
	Projection *readmodel.Projection
	RiskGate   *risk.Gate
	Flatten    *risk.Scheduler
	Features   *features.Pipeline
	Weights    *weights.Store
	Updater    *weights.Updater
	Evaluator  *ensemble.Evaluator
	Ingest     *signalingest.Ingester
	Registry   *dispatcher.Registry
	Limiter    *dispatcher.RateLimiter
	Dispatch   *dispatcher.Dispatcher
	Stream     *stream.Hub
	Sampler    *availability.Sampler
	MCPMgr     *mcpsession.Manager
	MCPHandler *mcpsession.Handler

	mu      sync.Mutex
	running bool
}

// New constructs every component but does not connect or start
// anything; call Start to bring the bridge up.
func New(logger *zap.Logger, cfg *config.Config) (*Bridge, error) {
	tz, err := time.LoadLocation(cfg.Flatten.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load flatten timezone: %w", err)
	}

	store, err := eventstore.New(logger, cfg.Store.DataDir+"/events.db")
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	proj := readmodel.New(logger, store)

	limits, err := cfg.Risk.ToRiskLimits()
	if err != nil {
		return nil, fmt.Errorf("parse risk limits: %w", err)
	}
	gate := risk.NewGate(logger, store, proj, limits, tz)

	session := broker.NewSession(logger, broker.Config{
		Host:               cfg.Broker.Host,
		Port:               cfg.Broker.Port,
		ClientID:           cfg.Broker.ClientID,
		MinProtocolVersion: 1,
		DialTimeout:        10 * time.Second,
		InitialBackoff:     500 * time.Millisecond,
		MaxBackoff:         30 * time.Second,
	})
	subs := broker.NewRegistry(logger, session)

	flatten := func(ctx context.Context, symbol string) error {
		pos, ok := proj.Position(symbol)
		if !ok || pos.SignedQty.IsZero() {
			return nil
		}
		side := types.SideSell
		if pos.SignedQty.IsNegative() {
			side = types.SideBuy
		}
		_, err := store.Append(ctx, types.EventOrderPlaced, readmodel.OrderPlacedPayload{
			OrderID:     "flatten-" + symbol,
			Symbol:      symbol,
			Side:        side,
			OriginalQty: pos.SignedQty.Abs(),
		})
		return err
	}
	cancelOrders := func(ctx context.Context) error { return nil }

	scheduler, err := risk.NewScheduler(logger, store, proj, gate, cfg.Flatten.Time, tz, flatten, cancelOrders)
	if err != nil {
		return nil, fmt.Errorf("construct flatten scheduler: %w", err)
	}

	regimeDetector := regime.NewRegimeDetector(logger, regime.DefaultRegimeConfig())
	pipeline := features.New(logger, regimeDetector)

	weightStore, err := weights.Load(logger, cfg.Weights.Path)
	if err != nil {
		return nil, fmt.Errorf("open weight store: %w", err)
	}
	updater := weights.NewUpdater(logger, weightStore)

	providers := []ensemble.Provider{
		ensemble.NewHTTPProvider(logger, "claude", cfg.Providers.Claude.Endpoint, cfg.Providers.Claude.APIKey, cfg.Providers.Claude.Model),
		ensemble.NewHTTPProvider(logger, "gpt4o", cfg.Providers.GPT4o.Endpoint, cfg.Providers.GPT4o.APIKey, cfg.Providers.GPT4o.Model),
		ensemble.NewHTTPProvider(logger, "gemini", cfg.Providers.Gemini.Endpoint, cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.Model),
	}
	evaluator := ensemble.New(logger, providers, weightStore, nil, ensemble.DefaultConfig())

	ingester := signalingest.New(logger, store, pipeline, evaluator, signalingest.DefaultConfig())

	reg := dispatcher.NewRegistry()
	limiter := dispatcher.NewRateLimiter()
	disp := dispatcher.New(logger, reg, limiter)

	hub := stream.NewHub(logger)

	sampler, err := availability.New(logger, cfg.Store.DataDir+"/availability.db",
		func(ctx context.Context) bool { return true },
		func(ctx context.Context) bool {
			connected := session.Connected()
			if connected {
				metrics.BrokerConnected.Set(1)
			} else {
				metrics.BrokerConnected.Set(0)
			}
			return connected
		},
		func(ctx context.Context) bool { return true },
	)
	if err != nil {
		return nil, fmt.Errorf("open availability sampler: %w", err)
	}

	mcpMgr := mcpsession.NewManager(logger)
	mcpServer := mcpsession.NewServer("atlas-bridge", "1.0", reg)
	mcpHandler := mcpsession.NewHandler(logger, mcpMgr, mcpServer)

	b := &Bridge{
		logger:     logger.Named("bridge"),
		cfg:        cfg,
		Session:    session,
		Subs:       subs,
		Store:      store,
		Projection: proj,
		RiskGate:   gate,
		Flatten:    scheduler,
		Features:   pipeline,
		Weights:    weightStore,
		Updater:    updater,
		Evaluator:  evaluator,
		Ingest:     ingester,
		Registry:   reg,
		Limiter:    limiter,
		Dispatch:   disp,
		Stream:     hub,
		Sampler:    sampler,
		MCPMgr:     mcpMgr,
		MCPHandler: mcpHandler,
	}

	b.registerActions()
	return b, nil
}

// Start brings every component up: connects the broker session,
// hydrates the read model, then attaches its live subscriber, and
// starts the flatten scheduler, availability sampler, and MCP session
// sweep.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bridge already running")
	}
	b.running = true
	b.mu.Unlock()

	if err := b.Session.Connect(ctx); err != nil {
		b.logger.Warn("initial broker connect failed, will retry on reconnect loop", zap.Error(err))
		go func() {
			backoff := time.Second
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if err := b.Session.Connect(ctx); err == nil {
					return
				}
				if backoff *= 2; backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
			}
		}()
	}

	if err := b.Projection.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate read model: %w", err)
	}
	if err := b.Projection.Run(ctx); err != nil {
		return fmt.Errorf("start read model subscriber: %w", err)
	}

	b.Flatten.Start(ctx)
	b.MCPMgr.Start(ctx)
	b.Sampler.Start(ctx)

	b.logger.Info("bridge started")
	return nil
}

// Stop tears down every component in reverse start order.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	b.Sampler.Stop()
	b.MCPMgr.Stop()
	b.Flatten.Stop()
	b.Projection.Stop()
	b.Session.Disconnect()
	b.Weights.Close()
	if err := b.Sampler.Close(); err != nil {
		b.logger.Warn("error closing availability sampler", zap.Error(err))
	}
	if err := b.Store.Close(); err != nil {
		b.logger.Warn("error closing event store", zap.Error(err))
	}

	b.logger.Info("bridge stopped")
	return nil
}

// Router builds the HTTP router exposing the dispatch, MCP, stream,
// OpenAPI, and metrics surfaces, wrapped in a permissive CORS policy
// for the operator dashboard origin.
func (b *Bridge) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/api/agent", b.Dispatch).Methods(http.MethodPost)
	r.Handle("/mcp", b.MCPHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		clientID := req.URL.Query().Get("client_id")
		if clientID == "" {
			clientID = fmt.Sprintf("anon-%d", time.Now().UnixNano())
		}
		if err := stream.ServeWS(b.Stream, b.logger, clientID, w, req); err != nil {
			b.logger.Warn("websocket upgrade failed", zap.Error(err))
		}
	})
	r.HandleFunc("/openapi.json", func(w http.ResponseWriter, req *http.Request) {
		lite := req.URL.Query().Get("lite") == "true"
		writeJSONDoc(w, b.Registry.OpenAPIDocument(lite))
	}).Methods(http.MethodGet)
	r.HandleFunc("/health", b.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", b.handleHealthReady).Methods(http.MethodGet)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{b.cfg.Server.DashboardOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key", "Mcp-Session-Id"},
		AllowCredentials: true,
	})
	return corsMiddleware.Handler(r)
}

// handleHealth reports detailed liveness: broker connectivity, event
// store position, and the current risk session, for operator dashboards.
func (b *Bridge) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSONDoc(w, map[string]interface{}{
		"status":          "ok",
		"brokerConnected": b.Session.Connected(),
		"eventStoreTail":  b.Store.Tail(),
		"session":         b.RiskGate.Snapshot(),
	})
}

// handleHealthReady is the narrow readiness probe load balancers poll:
// 200 once the broker session is connected, 503 otherwise.
func (b *Bridge) handleHealthReady(w http.ResponseWriter, req *http.Request) {
	ready := b.Session.Connected()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ready": ready})
}
