// Package server exposes the agent core over a small HTTP surface:
// chat, streaming chat over SSE, memory access, status, health, and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillagent/quill/internal/agent"
	"github.com/quillagent/quill/internal/llm"
	"github.com/quillagent/quill/internal/memory"
	"github.com/quillagent/quill/pkg/models"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// HealthChecker is the slice of the LLM client health probing needs.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// Config tunes the HTTP server.
type Config struct {
	Addr string
}

// Server wires the agent, memory manager, and LLM client into HTTP
// handlers.
type Server struct {
	agent  *agent.Agent
	memory *memory.Manager
	llm    HealthChecker
	cfg    Config
	logger *slog.Logger

	httpServer *http.Server
}

// New builds a server. Start must be called to begin listening.
func New(ag *agent.Agent, mem *memory.Manager, health HealthChecker, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{agent: ag, memory: mem, llm: health, cfg: cfg, logger: logger}
}

// Handler returns the route table. Exposed separately so tests can
// drive it through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/memory", s.handleMemory)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.agent.Monitor().Registry(), promhttp.HandlerOpts{}))
	return mux
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	msg, err := s.agent.Chat(r.Context(), req.Message, req.ConversationID)
	if err != nil {
		s.logger.Error("chat failed", "conversation_id", req.ConversationID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &chatResponse{ConversationID: req.ConversationID, Message: msg})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	chunks, err := s.agent.StreamChat(r.Context(), req.Message, req.ConversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Conversation-ID", req.ConversationID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for chunk := range chunks {
		fmt.Fprintf(w, "event: %s\ndata: ", chunk.Type)
		if err := enc.Encode(chunk); err != nil {
			s.logger.Warn("sse encode failed", "error", err)
			return
		}
		// Encode already wrote one newline; SSE needs a blank line.
		fmt.Fprint(w, "\n")
		flusher.Flush()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Status())
}

type storeMemoryRequest struct {
	Content    string            `json:"content"`
	MemoryType models.MemoryType `json:"memory_type"`
	Importance float64           `json:"importance"`
	Tags       []string          `json:"tags,omitempty"`
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleMemoryGet(w, r)
	case http.MethodPost:
		s.handleMemoryStore(w, r)
	case http.MethodDelete:
		s.handleMemoryDelete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET, POST, or DELETE required")
	}
}

func (s *Server) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if id := q.Get("id"); id != "" {
		entry, err := s.memory.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if entry == nil {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}

	query := q.Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query or id is required")
		return
	}
	topK := 0
	if raw := q.Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "top_k must be an integer")
			return
		}
		topK = n
	}
	entries, err := s.memory.Retrieve(r.Context(), query, topK, models.MemoryType(q.Get("type")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleMemoryStore(w http.ResponseWriter, r *http.Request) {
	var req storeMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.MemoryType == "" {
		req.MemoryType = models.MemorySemantic
	}

	entry := models.NewMemoryEntry(req.Content, req.MemoryType, req.Importance)
	entry.Tags = req.Tags
	if err := s.memory.Store(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	deleted, err := s.memory.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	results := s.llm.HealthCheck(r.Context())

	providers := make(map[string]string, len(results))
	healthy := true
	for name, err := range results {
		if err != nil {
			providers[name] = err.Error()
			healthy = false
		} else {
			providers[name] = "ok"
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "providers": providers})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// ensure llm.Client satisfies HealthChecker
var _ HealthChecker = (*llm.Client)(nil)
