package pane

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// PtyConfig describes the command to run inside a pseudo-terminal.
type PtyConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Rows    uint16
	Cols    uint16
}

// PtyProcess is a command attached to a pseudo-terminal master.
// Reads are owned by exactly one output pump; writes and resizes may come
// from any goroutine (the *os.File is safe for concurrent use).
type PtyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File

	waitOnce sync.Once
	waitErr  error
}

// StartPty spawns the configured command in a new PTY.
// TERM is always set to xterm-256color.
func StartPty(cfg PtyConfig) (*PtyProcess, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("pty: command is required")
	}
	if cfg.Rows == 0 {
		cfg.Rows = 24
	}
	if cfg.Cols == 0 {
		cfg.Cols = 80
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir

	env := os.Environ()
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.Env[k])
	}
	env = append(env, "TERM=xterm-256color")
	cmd.Env = env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: cfg.Rows, Cols: cfg.Cols})
	if err != nil {
		return nil, fmt.Errorf("pty: spawn %s: %w", cfg.Command, err)
	}

	return &PtyProcess{cmd: cmd, ptmx: ptmx}, nil
}

// Read reads output from the PTY master.
func (p *PtyProcess) Read(b []byte) (int, error) {
	return p.ptmx.Read(b)
}

// Write sends input to the PTY master.
func (p *PtyProcess) Write(b []byte) (int, error) {
	return p.ptmx.Write(b)
}

// Resize updates the PTY window size.
func (p *PtyProcess) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return fmt.Errorf("pty: invalid dimensions rows=%d cols=%d", rows, cols)
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Pid returns the child process id, or -1 if the process never started.
func (p *PtyProcess) Pid() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Signal delivers a signal to the child's process group. The child is a
// session leader (pty start uses setsid), so the negative pid reaches the
// whole group.
func (p *PtyProcess) Signal(sig syscall.Signal) error {
	pid := p.Pid()
	if pid <= 0 {
		return fmt.Errorf("pty: process not running")
	}
	if pgid, err := syscall.Getpgid(pid); err == nil {
		return syscall.Kill(-pgid, sig)
	}
	return p.cmd.Process.Signal(sig)
}

// Wait reaps the child and returns its exit code. Safe to call more than
// once; later calls return the first result. A child killed by a signal
// reports exit code 128+signal, matching shell convention.
func (p *PtyProcess) Wait() (int, error) {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	if p.waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		status, isWait := exitErr.Sys().(syscall.WaitStatus)
		if isWait && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, p.waitErr
}

// Close closes the PTY master. The child sees EOF/SIGHUP on its controlling
// terminal.
func (p *PtyProcess) Close() error {
	return p.ptmx.Close()
}
