package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/quill"
	"github.com/aretw0/quill/internal/logging"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/notebook"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Notebook is the part of quill.Notebook the server drives.
type Notebook interface {
	State() notebook.State
	Subscribe(fn func(notebook.Change)) func()
	Source(id string) (string, bool)
	AddCell(cellType domain.CellType, text string) (string, error)
	RemoveCell(id string) error
	SetSource(id, text string) error
	ClearResult(id string)
	Execute(ctx context.Context, id string) error
	ExecuteAll(ctx context.Context) error
	RestartKernel(ctx context.Context) error
	Save(ctx context.Context) error
}

var _ Notebook = (*quill.Notebook)(nil)

// Server exposes a notebook to renderers over HTTP.
type Server struct {
	notebook    Notebook
	Streams     *StreamManager
	router      chi.Router
	metrics     http.Handler
	logger      *slog.Logger
	unsubscribe func()
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates a Server and starts forwarding notebook changes to SSE
// clients. Close stops the forwarding.
func NewServer(nb Notebook, opts ...Option) *Server {
	s := &Server{
		notebook: nb,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(64, s.logger)
	s.unsubscribe = nb.Subscribe(s.Streams.Broadcast)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/notebook", s.GetNotebook)
	r.Get("/events", s.SubscribeEvents)
	r.Post("/execute-all", s.ExecuteAll)
	r.Post("/kernel/restart", s.RestartKernel)
	r.Post("/save", s.Save)

	r.Route("/cells", func(r chi.Router) {
		r.Post("/", s.AddCell)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetCell)
			r.Delete("/", s.RemoveCell)
			r.Put("/source", s.SetSource)
			r.Post("/execute", s.ExecuteCell)
			r.Delete("/result", s.ClearResult)
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops forwarding notebook changes.
func (s *Server) Close() {
	s.unsubscribe()
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

// statusOf maps core errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrCellNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotLoaded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSessionFailed), errors.Is(err, domain.ErrSessionNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "quill-http",
		"version": strings.TrimSpace(quill.Version),
	})
}

// GetNotebook handles the GET /notebook request.
func (s *Server) GetNotebook(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.viewNotebook(s.notebook.State()))
}

// GetCell handles the GET /cells/{id} request.
func (s *Server) GetCell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cell, ok := s.notebook.State().Cell(id)
	if !ok {
		http.Error(w, fmt.Sprintf("cell %s not found", id), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, s.viewCell(cell))
}

// AddCell handles the POST /cells request.
func (s *Server) AddCell(w http.ResponseWriter, r *http.Request) {
	var body AddCellRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("AddCell: Invalid request body", "err", err)
		return
	}
	if body.Type == "" {
		body.Type = domain.CellCode
	}

	id, err := s.notebook.AddCell(body.Type, body.Source)
	if err != nil {
		http.Error(w, fmt.Sprintf("AddCell error: %v", err), http.StatusBadRequest)
		return
	}
	cell, _ := s.notebook.State().Cell(id)
	s.writeJSON(w, http.StatusCreated, s.viewCell(cell))
}

// RemoveCell handles the DELETE /cells/{id} request.
func (s *Server) RemoveCell(w http.ResponseWriter, r *http.Request) {
	if err := s.notebook.RemoveCell(chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetSource handles the PUT /cells/{id}/source request.
func (s *Server) SetSource(w http.ResponseWriter, r *http.Request) {
	var body SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("SetSource: Invalid request body", "err", err)
		return
	}
	if err := s.notebook.SetSource(chi.URLParam(r, "id"), body.Source); err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteCell handles the POST /cells/{id}/execute request.
// With wait=false the execution continues in the background and the request
// returns immediately; clients follow progress through /events.
func (s *Server) ExecuteCell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.notebook.State().Cell(id); !ok {
		http.Error(w, fmt.Sprintf("cell %s not found", id), http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("wait") == "false" {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if err := s.notebook.Execute(ctx, id); err != nil {
				s.logger.Warn("Background execution failed", "cell_id", id, "err", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		return
	}

	err := s.notebook.Execute(r.Context(), id)
	cell, _ := s.notebook.State().Cell(id)
	resp := ExecuteResponse{Cell: s.viewCell(cell)}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = statusOf(err)
		s.logger.Warn("Execute failed", "cell_id", id, "err", err)
	}
	s.writeJSON(w, status, resp)
}

// ClearResult handles the DELETE /cells/{id}/result request.
func (s *Server) ClearResult(w http.ResponseWriter, r *http.Request) {
	s.notebook.ClearResult(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteAll handles the POST /execute-all request.
func (s *Server) ExecuteAll(w http.ResponseWriter, r *http.Request) {
	err := s.notebook.ExecuteAll(r.Context())
	view := s.viewNotebook(s.notebook.State())
	if err != nil {
		s.logger.Warn("ExecuteAll finished with errors", "err", err)
		s.writeJSON(w, http.StatusOK, struct {
			NotebookView
			Error string `json:"error"`
		}{view, err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// RestartKernel handles the POST /kernel/restart request.
func (s *Server) RestartKernel(w http.ResponseWriter, r *http.Request) {
	if err := s.notebook.RestartKernel(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("Restart error: %v", err), http.StatusInternalServerError)
		s.logger.Error("Kernel restart failed", "err", err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewKernel(s.notebook.State().Kernel))
}

// Save handles the POST /save request.
func (s *Server) Save(w http.ResponseWriter, r *http.Request) {
	if err := s.notebook.Save(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("Save error: %v", err), http.StatusInternalServerError)
		s.logger.Error("Save failed", "err", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SubscribeEvents handles the GET /events request (SSE).
// Query parameters cells and kinds narrow the feed (comma separated).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	filter := Filter{Cells: splitList(r.URL.Query().Get("cells"))}
	for _, k := range splitList(r.URL.Query().Get("kinds")) {
		filter.Kinds = append(filter.Kinds, notebook.ChangeKind(k))
	}

	ch, cancel := s.Streams.Subscribe(filter)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Info("SSE: Client connected", "cells", filter.Cells, "kinds", filter.Kinds)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: Client disconnected")
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(change)
			if err != nil {
				s.logger.Error("SSE: Failed to encode change", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", change.Kind, payload)
			flusher.Flush()
		}
	}
}
