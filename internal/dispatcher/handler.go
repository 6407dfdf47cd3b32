package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/metrics"
	"github.com/atlas-desktop/atlas-bridge/pkg/apierr"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// Dispatcher exposes a registry of actions over a single HTTP
// endpoint, enforcing per-key rate limits before invoking a handler.
type Dispatcher struct {
	logger  *zap.Logger
	reg     *Registry
	limiter *RateLimiter
}

func New(logger *zap.Logger, reg *Registry, limiter *RateLimiter) *Dispatcher {
	return &Dispatcher{logger: logger.Named("dispatcher"), reg: reg, limiter: limiter}
}

type dispatchRequest struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

type dispatchResponse struct {
	Action string      `json:"action,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	Field  string      `json:"field,omitempty"`
}

// ServeHTTP implements the single dispatch endpoint contract from
// spec.md 4.7: unknown action -> 400 with sorted valid-action list;
// invalid params -> 400 naming the failed field; handler error ->
// sanitized status from the error's apierr.Kind (500 by default).
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.writeError(w, http.StatusBadRequest, "", "malformed request body", "")
		return
	}

	action, ok := d.reg.Get(req.Action)
	if !ok {
		d.writeJSON(w, http.StatusBadRequest, dispatchResponse{
			Action: req.Action,
			Error:  "unknown action",
			Field:  "action",
			Result: map[string]interface{}{
				"valid_actions": d.reg.Names(),
			},
		})
		return
	}

	apiKey := apiKeyFromRequest(r)
	if d.limiter != nil && !d.limiter.Allow(apiKey, action.Class) {
		metrics.RateLimited.WithLabelValues(string(action.Class)).Inc()
		d.writeError(w, http.StatusTooManyRequests, action.Name, "rate limit exceeded", "")
		return
	}

	if field, valid := Validate(action, req.Params); !valid {
		d.writeError(w, http.StatusBadRequest, action.Name, "invalid parameter", field)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	start := time.Now()
	result, err := action.Handler(ctx, req.Params)
	metrics.ActionDuration.WithLabelValues(action.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		status := http.StatusInternalServerError
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			status = apiErr.Kind.HTTPStatus()
		}
		metrics.ActionsTotal.WithLabelValues(action.Name, "error").Inc()
		d.logger.Error("action handler failed", zap.String("action", action.Name), zap.Error(err))
		d.writeError(w, status, action.Name, "action failed", "")
		return
	}

	metrics.ActionsTotal.WithLabelValues(action.Name, "ok").Inc()
	d.writeJSON(w, http.StatusOK, dispatchResponse{Action: action.Name, Result: result})
}

func (d *Dispatcher) writeError(w http.ResponseWriter, status int, action, message, field string) {
	d.writeJSON(w, status, dispatchResponse{Action: action, Error: message, Field: field})
}

func (d *Dispatcher) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return "anonymous"
}
