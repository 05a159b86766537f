package pane

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/branchpane/branchpane/internal/logging"
)

var pumpLog = logging.ForComponent(logging.CompPane)

// pump is the single reader of a pane's PTY. Every chunk goes to the
// scrollback log, through the cwd detector, and onto the event channel.
// Runs until the PTY reports EOF or an error, then records the pane's final
// state and emits an exit event.
func (m *Manager) pump(p *Pane) {
	defer close(p.done)
	defer p.log.Close()

	var det CwdDetector
	buf := make([]byte, 4096)

	for {
		n, err := p.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if _, werr := p.log.Write(chunk); werr != nil {
				pumpLog.Warn("scrollback_write_failed",
					slog.String("pane", p.id),
					slog.String("error", werr.Error()),
				)
			}

			for _, cwd := range det.Feed(chunk) {
				m.updateCwd(p, cwd)
			}

			m.emit(Event{
				PaneID: p.id,
				Kind:   EventOutput,
				Data:   chunk,
				Time:   time.Now(),
			})
			logging.Aggregate(logging.CompPane, "output_chunk", slog.String("pane", p.id))
		}

		if err == nil {
			continue
		}

		if isPtyEOF(err) {
			code, werr := p.pty.Wait()
			if werr != nil {
				pumpLog.Warn("pane_wait_failed",
					slog.String("pane", p.id),
					slog.String("error", werr.Error()),
				)
			}
			p.setExited(code)
			m.recordExit(p)
			pumpLog.Info("pane_exited",
				slog.String("pane", p.id),
				slog.Int("exit_code", code),
			)
		} else {
			// Stream failure: the pane is marked errored and the cause is
			// recorded in scrollback. The manager itself stays healthy.
			p.setErrored(err.Error())
			if _, werr := p.log.WriteString(fmt.Sprintf("PTY stream error: %v\n", err)); werr != nil {
				pumpLog.Warn("scrollback_write_failed",
					slog.String("pane", p.id),
					slog.String("error", werr.Error()),
				)
			}
			go p.pty.Wait() // reap
			m.recordExit(p)
			pumpLog.Error("pane_stream_error",
				slog.String("pane", p.id),
				slog.String("error", err.Error()),
			)
		}

		info := p.Snapshot()
		m.emit(Event{
			PaneID:   p.id,
			Kind:     EventExit,
			Status:   info.Status,
			ExitCode: info.ExitCode,
			Err:      info.Err,
			Time:     time.Now(),
		})
		return
	}
}

// isPtyEOF reports whether a PTY read error means the child is gone.
// Linux returns EIO from the master once the slave side closes; a closed
// file is the manager tearing the pane down.
func isPtyEOF(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, os.ErrClosed)
}
