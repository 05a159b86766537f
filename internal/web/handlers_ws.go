package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/branchpane/branchpane/internal/logging"
	"github.com/branchpane/branchpane/internal/pane"
)

type wsClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

type wsServerMessage struct {
	Type     string    `json:"type"` // status, error
	Event    string    `json:"event,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
	PaneID   string    `json:"paneId,omitempty"`
	Cwd      string    `json:"cwd,omitempty"`
	Status   string    `json:"status,omitempty"`
	ExitCode int       `json:"exitCode,omitempty"`
	Time     time.Time `json:"time,omitempty"`
}

// wsConnWriter serializes writes to a websocket connection. Output frames and
// status messages come from different goroutines.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) WriteBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

func (s *Server) handlePaneWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	const prefix = "/ws/pane/"
	paneID := strings.TrimPrefix(r.URL.Path, prefix)
	if paneID == "" || strings.Contains(paneID, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "pane id is required")
		return
	}

	if _, err := s.manager.Get(paneID); err != nil {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "pane not found")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := newWSConnWriter(conn)
	webLog := logging.ForComponent(logging.CompWeb)

	_ = writer.WriteJSON(wsServerMessage{
		Type:   "status",
		Event:  "connected",
		PaneID: paneID,
		Time:   time.Now().UTC(),
	})

	// Replay scrollback so the client terminal starts with history
	if tail, err := s.manager.Tail(paneID, s.cfg.TailBytes); err == nil && len(tail) > 0 {
		_ = writer.WriteBinary(tail)
	}

	events := s.subscribe(paneID)
	defer s.unsubscribe(paneID, events)

	_ = writer.WriteJSON(wsServerMessage{
		Type:   "status",
		Event:  "ready",
		PaneID: paneID,
		Time:   time.Now().UTC(),
	})

	// Forward pane events to the client until the pane exits or the
	// connection drops
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for {
			select {
			case <-s.baseCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.Kind {
				case pane.EventOutput:
					if err := writer.WriteBinary(ev.Data); err != nil {
						return
					}
				case pane.EventCwd:
					_ = writer.WriteJSON(wsServerMessage{
						Type:   "status",
						Event:  "cwd_changed",
						PaneID: paneID,
						Cwd:    ev.Cwd,
						Time:   ev.Time,
					})
				case pane.EventExit:
					_ = writer.WriteJSON(wsServerMessage{
						Type:     "status",
						Event:    "pane_exited",
						PaneID:   paneID,
						Status:   string(ev.Status),
						ExitCode: ev.ExitCode,
						Time:     ev.Time,
					})
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly",
					slog.String("pane", paneID),
					slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INVALID_MESSAGE",
				Message: "invalid json payload",
				PaneID:  paneID,
				Time:    time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{
				Type:   "status",
				Event:  "pong",
				PaneID: paneID,
				Time:   time.Now().UTC(),
			})
		case "input":
			if s.cfg.ReadOnly {
				_ = writer.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "READ_ONLY",
					Message: "input is disabled in read-only mode",
					PaneID:  paneID,
					Time:    time.Now().UTC(),
				})
				continue
			}
			if err := s.manager.Write(paneID, []byte(msg.Data)); err != nil {
				_ = writer.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "INPUT_WRITE_FAILED",
					Message: "failed to send input to pane",
					PaneID:  paneID,
					Time:    time.Now().UTC(),
				})
			}
		case "resize":
			if msg.Cols <= 0 || msg.Rows <= 0 {
				_ = writer.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "RESIZE_FAILED",
					Message: "invalid dimensions",
					PaneID:  paneID,
					Time:    time.Now().UTC(),
				})
				continue
			}
			if err := s.manager.Resize(paneID, uint16(msg.Rows), uint16(msg.Cols)); err != nil {
				_ = writer.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "RESIZE_FAILED",
					Message: "failed to resize pane",
					PaneID:  paneID,
					Time:    time.Now().UTC(),
				})
			}
		default:
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "UNSUPPORTED_MESSAGE",
				Message: "supported message types: ping,input,resize",
				PaneID:  paneID,
				Time:    time.Now().UTC(),
			})
		}
	}
}
