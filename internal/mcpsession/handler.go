package mcpsession

import (
	"context"
	"io"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

const sessionHeader = "Mcp-Session-Id"

// Handler exposes POST/GET/DELETE /mcp per spec.md 4.10, delegating
// JSON-RPC message handling to an underlying mcp-go server while this
// package owns the session lifecycle the library does not: explicit
// idle eviction and the 400 "invalid session id" contract.
type Handler struct {
	logger   *zap.Logger
	sessions *Manager
	mcp      *mcpserver.MCPServer
}

func NewHandler(logger *zap.Logger, sessions *Manager, mcpServer *mcpserver.MCPServer) *Handler {
	return &Handler{logger: logger.Named("mcp-http"), sessions: sessions, mcp: mcpServer}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)

	if sessionID == "" {
		s := h.sessions.Create()
		sessionID = s.ID
	} else if err := h.sessions.Touch(sessionID); err != nil {
		writeInvalidSession(w)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	ctx := context.WithValue(r.Context(), sessionContextKey{}, sessionID)
	reply := h.mcp.HandleMessage(ctx, body)

	w.Header().Set(sessionHeader, sessionID)
	w.Header().Set("Content-Type", "application/json")
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	_ = json.NewEncoder(w).Encode(reply)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" || h.sessions.Touch(sessionID) != nil {
		writeInvalidSession(w)
		return
	}
	w.Header().Set(sessionHeader, sessionID)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeInvalidSession(w)
		return
	}
	h.sessions.Delete(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func writeInvalidSession(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid session id"})
}

type sessionContextKey struct{}

// SessionFromContext recovers the Mcp-Session-Id associated with the
// in-flight request, for tool handlers that need it.
func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionContextKey{}).(string)
	return id, ok
}
