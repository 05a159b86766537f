package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/branchpane/branchpane/internal/pane"
)

// ctrlQ is the detach byte (ASCII 17).
const ctrlQ = 0x11

// rawTerminal puts stdin into raw mode and returns a restore func.
func rawTerminal() (func(), error) {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("failed to set raw mode: %w", err)
	}
	return func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }, nil
}

// watchWinch runs onResize for every SIGWINCH (and once immediately) until
// stop is closed.
func watchWinch(onResize func(cols, rows int), stop <-chan struct{}, wg *sync.WaitGroup) {
	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)

	resize := func() {
		if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
			onResize(int(ws.Cols), int(ws.Rows))
		}
	}
	resize()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer signal.Stop(sigwinch)
		for {
			select {
			case <-stop:
				return
			case <-sigwinch:
				resize()
			}
		}
	}()
}

// attachLocal connects the current terminal to an in-process pane. It is the
// sole consumer of the manager's event channel, which is fine for the
// interactive shell/launch commands. Returns when the pane exits or the user
// detaches with Ctrl+Q.
func attachLocal(m *pane.Manager, paneID string) error {
	restore, err := rawTerminal()
	if err != nil {
		return err
	}
	defer restore()

	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }
	defer closeStop()

	var wg sync.WaitGroup
	watchWinch(func(cols, rows int) {
		_ = m.Resize(paneID, uint16(rows), uint16(cols))
	}, stop, &wg)

	// Replay scrollback so the terminal starts with history
	if tail, err := m.Tail(paneID, 64*1024); err == nil {
		_, _ = os.Stdout.Write(tail)
	}

	exited := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-m.Events():
				if !ok {
					close(exited)
					return
				}
				if ev.PaneID != paneID {
					continue
				}
				switch ev.Kind {
				case pane.EventOutput:
					_, _ = os.Stdout.Write(ev.Data)
				case pane.EventExit:
					close(exited)
					return
				}
			}
		}
	}()

	// Discard initial terminal control sequences (capability queries etc.)
	startTime := time.Now()
	const controlSeqTimeout = 50 * time.Millisecond

	detached := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if time.Since(startTime) < controlSeqTimeout {
				continue
			}
			if n == 1 && buf[0] == ctrlQ {
				close(detached)
				return
			}
			if err := m.Write(paneID, buf[:n]); err != nil {
				return
			}
		}
	}()

	select {
	case <-exited:
	case <-detached:
	}
	closeStop()
	wg.Wait()
	return nil
}

// attachRemote connects the current terminal to a pane on a running server
// over websocket. Returns when the pane exits, the connection drops, or the
// user detaches with Ctrl+Q.
func attachRemote(client *apiClient, paneID string) error {
	conn, _, err := websocket.DefaultDialer.Dial(client.WSURL(paneID), nil)
	if err != nil {
		return fmt.Errorf("connect to pane %s: %w", paneID, err)
	}
	defer conn.Close()

	restore, err := rawTerminal()
	if err != nil {
		return err
	}
	defer restore()

	var writeMu sync.Mutex
	send := func(msg map[string]any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }
	defer closeStop()

	var wg sync.WaitGroup
	watchWinch(func(cols, rows int) {
		_ = send(map[string]any{"type": "resize", "cols": cols, "rows": rows})
	}, stop, &wg)

	done := make(chan error, 1)
	go func() {
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				done <- nil
				return
			}
			if kind == websocket.BinaryMessage {
				_, _ = os.Stdout.Write(payload)
				continue
			}
			var msg struct {
				Type     string `json:"type"`
				Event    string `json:"event"`
				Message  string `json:"message"`
				Status   string `json:"status"`
				ExitCode int    `json:"exitCode"`
			}
			if json.Unmarshal(payload, &msg) != nil {
				continue
			}
			if msg.Type == "error" {
				done <- fmt.Errorf("server: %s", msg.Message)
				return
			}
			if msg.Event == "pane_exited" {
				done <- nil
				return
			}
		}
	}()

	startTime := time.Now()
	const controlSeqTimeout = 50 * time.Millisecond

	detached := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if time.Since(startTime) < controlSeqTimeout {
				continue
			}
			if n == 1 && buf[0] == ctrlQ {
				close(detached)
				return
			}
			if send(map[string]any{"type": "input", "data": string(buf[:n])}) != nil {
				return
			}
		}
	}()

	select {
	case err := <-done:
		closeStop()
		wg.Wait()
		return err
	case <-detached:
		closeStop()
		wg.Wait()
		return nil
	}
}
