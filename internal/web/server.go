// Package web serves the pane manager over HTTP and websocket, so browser
// terminals (xterm.js and friends) can attach to live panes.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/branchpane/branchpane/internal/logging"
	"github.com/branchpane/branchpane/internal/pane"
)

// Config defines runtime options for the bridge server.
type Config struct {
	ListenAddr string
	Token      string
	ReadOnly   bool

	// TailBytes is the scrollback replay size for new connections
	// (default: 64KiB)
	TailBytes int64
}

// Server bridges websocket clients to panes. It is the sole consumer of the
// manager's event channel and fans events out to per-pane subscribers.
type Server struct {
	cfg        Config
	manager    *pane.Manager
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	subscribersMu sync.Mutex
	subscribers   map[string]map[chan pane.Event]struct{}
}

// NewServer creates a bridge server with base routes and middleware.
func NewServer(cfg Config, manager *pane.Manager) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:7391"
	}
	if cfg.TailBytes <= 0 {
		cfg.TailBytes = 64 * 1024
	}

	s := &Server{
		cfg:         cfg,
		manager:     manager,
		subscribers: make(map[string]map[chan pane.Event]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/panes", s.handlePanes)
	mux.HandleFunc("/api/panes/", s.handlePaneByID)
	mux.HandleFunc("/ws/pane/", s.handlePaneWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start consumes manager events and serves HTTP until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	go s.dispatchEvents()

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived websocket handlers to stop promptly
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Open websockets may still block graceful shutdown. Force close as a
	// fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}
	return err
}

// dispatchEvents fans the manager's single event stream out to websocket
// subscribers. Slow subscribers lose events rather than blocking the stream.
func (s *Server) dispatchEvents() {
	events := s.manager.Events()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.subscribersMu.Lock()
			for ch := range s.subscribers[ev.PaneID] {
				select {
				case ch <- ev:
				default:
				}
			}
			s.subscribersMu.Unlock()
		}
	}
}

func (s *Server) subscribe(paneID string) chan pane.Event {
	ch := make(chan pane.Event, 64)
	s.subscribersMu.Lock()
	if s.subscribers[paneID] == nil {
		s.subscribers[paneID] = make(map[chan pane.Event]struct{})
	}
	s.subscribers[paneID][ch] = struct{}{}
	s.subscribersMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(paneID string, ch chan pane.Event) {
	s.subscribersMu.Lock()
	if subs, ok := s.subscribers[paneID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(s.subscribers, paneID)
		}
	}
	s.subscribersMu.Unlock()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"ok":       true,
		"readOnly": s.cfg.ReadOnly,
		"panes":    len(s.manager.List()),
		"time":     time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type paneJSON struct {
	ID        string    `json:"id"`
	Branch    string    `json:"branch,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Command   string    `json:"command"`
	Dir       string    `json:"dir,omitempty"`
	Status    string    `json:"status"`
	ExitCode  int       `json:"exitCode"`
	LastCwd   string    `json:"lastCwd,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

func toPaneJSON(info pane.Info) paneJSON {
	return paneJSON{
		ID:        info.ID,
		Branch:    info.Branch,
		Tool:      info.Tool,
		Command:   info.Command,
		Dir:       info.Dir,
		Status:    string(info.Status),
		ExitCode:  info.ExitCode,
		LastCwd:   info.LastKnownCwd,
		StartedAt: info.StartedAt,
	}
}

// spawnRequest is the body of POST /api/panes.
type spawnRequest struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Dir      string            `json:"dir,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Branch   string            `json:"branch,omitempty"`
	RepoRoot string            `json:"repoRoot,omitempty"`
	Tool     string            `json:"tool,omitempty"`
	Cols     int               `json:"cols,omitempty"`
	Rows     int               `json:"rows,omitempty"`
}

func (s *Server) handlePanes(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		infos := s.manager.List()
		out := make([]paneJSON, 0, len(infos))
		for _, info := range infos {
			out = append(out, toPaneJSON(info))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"panes": out})

	case http.MethodPost:
		if s.cfg.ReadOnly {
			writeAPIError(w, http.StatusForbidden, "READ_ONLY", "spawning is disabled in read-only mode")
			return
		}
		var req spawnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json body")
			return
		}
		if req.Command == "" {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "command is required")
			return
		}
		opts := pane.SpawnOptions{
			Command:  req.Command,
			Args:     req.Args,
			Dir:      req.Dir,
			Env:      req.Env,
			Branch:   req.Branch,
			RepoRoot: req.RepoRoot,
			Tool:     req.Tool,
			Cols:     uint16(req.Cols),
			Rows:     uint16(req.Rows),
		}
		var info pane.Info
		var err error
		if req.Tool != "" {
			info, err = s.manager.LaunchAgent(opts)
		} else {
			info, err = s.manager.SpawnShell(opts)
		}
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "SPAWN_FAILED", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(toPaneJSON(info))

	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

// handlePaneByID serves /api/panes/{id} and its input/resize/tail resources.
func (s *Server) handlePaneByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/panes/")
	paneID, sub, _ := strings.Cut(rest, "/")
	if paneID == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "pane id is required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		info, err := s.manager.Get(paneID)
		if err != nil {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "pane not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(toPaneJSON(info))

	case sub == "" && r.Method == http.MethodDelete:
		if s.cfg.ReadOnly {
			writeAPIError(w, http.StatusForbidden, "READ_ONLY", "closing is disabled in read-only mode")
			return
		}
		// Close is idempotent; unknown ids are fine
		if err := s.manager.Close(paneID); err != nil {
			writeAPIError(w, http.StatusInternalServerError, "CLOSE_FAILED", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case sub == "input" && r.Method == http.MethodPost:
		if s.cfg.ReadOnly {
			writeAPIError(w, http.StatusForbidden, "READ_ONLY", "input is disabled in read-only mode")
			return
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read body")
			return
		}
		if err := s.manager.Write(paneID, data); err != nil {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "pane not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case sub == "resize" && r.Method == http.MethodPost:
		var req struct {
			Cols int `json:"cols"`
			Rows int `json:"rows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cols <= 0 || req.Rows <= 0 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "cols and rows are required")
			return
		}
		if err := s.manager.Resize(paneID, uint16(req.Rows), uint16(req.Cols)); err != nil {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "pane not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case sub == "tail" && r.Method == http.MethodGet:
		maxBytes := s.cfg.TailBytes
		if v := r.URL.Query().Get("bytes"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				maxBytes = n
			}
		}
		data, err := s.manager.Tail(paneID, maxBytes)
		if err != nil {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "no scrollback for pane")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)

	default:
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "unknown resource")
	}
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ForComponent(logging.CompWeb).Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
