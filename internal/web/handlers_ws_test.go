package web

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/branchpane/branchpane/internal/pane"
)

// dialPaneWS connects a websocket client to the test server for a pane.
func dialPaneWS(t *testing.T, ts *httptest.Server, paneID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/pane/" + paneID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until pred returns true or the deadline passes.
// Binary frames are accumulated into output; JSON frames are decoded.
func readUntil(t *testing.T, conn *websocket.Conn, timeout time.Duration,
	pred func(output string, msg *wsServerMessage) bool) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var output strings.Builder
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read (output so far %q): %v", output.String(), err)
		}
		if kind == websocket.BinaryMessage {
			output.Write(payload)
			if pred(output.String(), nil) {
				return
			}
			continue
		}
		var msg wsServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("bad server message %q: %v", payload, err)
		}
		if pred(output.String(), &msg) {
			return
		}
	}
}

func TestPaneWSUnknownPane(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/pane/pane-nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown pane")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Errorf("expected 404 handshake response, got %+v", resp)
	}
}

func TestPaneWSEchoRoundTrip(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	info, err := s.manager.SpawnShell(pane.SpawnOptions{Command: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	conn := dialPaneWS(t, ts, info.ID)

	// Handshake: connected then ready
	readUntil(t, conn, 5*time.Second, func(_ string, msg *wsServerMessage) bool {
		return msg != nil && msg.Event == "ready"
	})

	input, _ := json.Marshal(wsClientMessage{Type: "input", Data: "ws-echo-probe\n"})
	if err := conn.WriteMessage(websocket.TextMessage, input); err != nil {
		t.Fatalf("send input: %v", err)
	}

	// cat echoes the line back through the pump as binary output frames
	readUntil(t, conn, 5*time.Second, func(output string, _ *wsServerMessage) bool {
		return strings.Contains(output, "ws-echo-probe")
	})
}

func TestPaneWSResizeAndPing(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	info, err := s.manager.SpawnShell(pane.SpawnOptions{Command: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	conn := dialPaneWS(t, ts, info.ID)
	readUntil(t, conn, 5*time.Second, func(_ string, msg *wsServerMessage) bool {
		return msg != nil && msg.Event == "ready"
	})

	resize, _ := json.Marshal(wsClientMessage{Type: "resize", Cols: 120, Rows: 40})
	if err := conn.WriteMessage(websocket.TextMessage, resize); err != nil {
		t.Fatalf("send resize: %v", err)
	}

	ping, _ := json.Marshal(wsClientMessage{Type: "ping"})
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	readUntil(t, conn, 5*time.Second, func(_ string, msg *wsServerMessage) bool {
		if msg != nil && msg.Type == "error" {
			t.Fatalf("unexpected error message: %+v", msg)
		}
		return msg != nil && msg.Event == "pong"
	})

	// Zero dimensions are rejected without killing the connection
	bad, _ := json.Marshal(wsClientMessage{Type: "resize", Cols: 0, Rows: 0})
	if err := conn.WriteMessage(websocket.TextMessage, bad); err != nil {
		t.Fatalf("send bad resize: %v", err)
	}
	readUntil(t, conn, 5*time.Second, func(_ string, msg *wsServerMessage) bool {
		return msg != nil && msg.Code == "RESIZE_FAILED"
	})
}

func TestPaneWSReadOnlyRejectsInput(t *testing.T) {
	s, ts := newTestServer(t, Config{ReadOnly: true})

	info, err := s.manager.SpawnShell(pane.SpawnOptions{Command: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	conn := dialPaneWS(t, ts, info.ID)
	readUntil(t, conn, 5*time.Second, func(_ string, msg *wsServerMessage) bool {
		return msg != nil && msg.Event == "ready"
	})

	input, _ := json.Marshal(wsClientMessage{Type: "input", Data: "blocked\n"})
	if err := conn.WriteMessage(websocket.TextMessage, input); err != nil {
		t.Fatalf("send input: %v", err)
	}
	readUntil(t, conn, 5*time.Second, func(_ string, msg *wsServerMessage) bool {
		return msg != nil && msg.Code == "READ_ONLY"
	})
}

func TestPaneWSExitNotification(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	info, err := s.manager.SpawnShell(pane.SpawnOptions{Command: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	conn := dialPaneWS(t, ts, info.ID)
	readUntil(t, conn, 5*time.Second, func(_ string, msg *wsServerMessage) bool {
		return msg != nil && msg.Event == "ready"
	})

	go s.manager.Close(info.ID)

	readUntil(t, conn, 5*time.Second, func(_ string, msg *wsServerMessage) bool {
		return msg != nil && msg.Event == "pane_exited"
	})
}
