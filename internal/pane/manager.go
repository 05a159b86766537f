package pane

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/branchpane/branchpane/internal/logging"
)

var mgrLog = logging.ForComponent(logging.CompPane)

// ErrPaneNotFound is returned for operations on an unknown pane id.
var ErrPaneNotFound = errors.New("pane not found")

// Recorder persists pane lifecycle history. Implementations must be safe for
// concurrent use; all calls are best-effort and failures are only logged.
type Recorder interface {
	RecordStart(info Info) error
	RecordExit(paneID string, status Status, exitCode int) error
	RecordCwd(paneID, cwd string) error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// DataDir is the app data directory (scrollback and index live under it)
	DataDir string

	// Recorder receives lifecycle history; may be nil
	Recorder Recorder

	// EventBuffer is the event channel capacity (default: 256)
	EventBuffer int

	// CloseGrace is how long Close waits after SIGTERM before SIGKILL
	// (default: 5s)
	CloseGrace time.Duration
}

// Manager owns all live panes. The pane map is guarded by a mutex; spawn I/O
// happens outside the critical section.
type Manager struct {
	mu    sync.Mutex
	panes map[string]*Pane

	store      *Store
	index      *Index
	recorder   Recorder
	events     chan Event
	closeGrace time.Duration
}

// NewManager creates a manager rooted at dataDir.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("manager: data dir is required")
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = 5 * time.Second
	}

	store, err := NewStore(filepath.Join(opts.DataDir, "terminals"))
	if err != nil {
		return nil, err
	}
	index, err := NewIndex(filepath.Join(opts.DataDir, "terminals", "index"))
	if err != nil {
		return nil, err
	}

	return &Manager{
		panes:      make(map[string]*Pane),
		store:      store,
		index:      index,
		recorder:   opts.Recorder,
		events:     make(chan Event, opts.EventBuffer),
		closeGrace: opts.CloseGrace,
	}, nil
}

// SpawnOptions describes a new pane.
type SpawnOptions struct {
	Command  string
	Args     []string
	Dir      string
	Env      map[string]string
	Rows     uint16
	Cols     uint16
	Branch   string
	RepoRoot string
	Tool     string

	// ResumeSessionID is the prior agent session being continued, if any.
	// It seeds the branch index entry so the mapping survives even when the
	// resumed tool never rewrites its session file.
	ResumeSessionID string
}

// resolveSpawnDir falls back to the user home directory when the requested
// working directory is empty or does not exist. A missing dir must not fail
// the spawn; the pane simply opens at home.
func resolveSpawnDir(dir string) string {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// SpawnShell starts a plain shell pane. Shell panes are not recorded in the
// branch index.
func (m *Manager) SpawnShell(opts SpawnOptions) (Info, error) {
	opts.Tool = ""
	return m.spawn(opts, false)
}

// LaunchAgent starts an agent pane for a branch and records the branch-to-
// pane mapping in the per-repo index. Index persist failures are logged,
// never returned.
func (m *Manager) LaunchAgent(opts SpawnOptions) (Info, error) {
	if opts.Tool == "" {
		return Info{}, fmt.Errorf("manager: agent tool is required")
	}
	return m.spawn(opts, true)
}

func (m *Manager) spawn(opts SpawnOptions, writeIndex bool) (Info, error) {
	id := newPaneID()
	opts.Dir = resolveSpawnDir(opts.Dir)

	log, err := m.store.Open(id)
	if err != nil {
		return Info{}, err
	}

	env := make(map[string]string, len(opts.Env)+3)
	for k, v := range opts.Env {
		env[k] = v
	}
	env["BRANCHPANE_PANE_ID"] = id
	if opts.Branch != "" {
		env["BRANCHPANE_BRANCH"] = opts.Branch
	}
	if opts.Tool != "" {
		env["BRANCHPANE_AGENT"] = opts.Tool
	}

	ptyProc, err := StartPty(PtyConfig{
		Command: opts.Command,
		Args:    opts.Args,
		Dir:     opts.Dir,
		Env:     env,
		Rows:    opts.Rows,
		Cols:    opts.Cols,
	})
	if err != nil {
		log.Close()
		m.store.Remove(id)
		return Info{}, err
	}

	p := &Pane{
		id:        id,
		branch:    opts.Branch,
		tool:      opts.Tool,
		command:   opts.Command,
		dir:       opts.Dir,
		repoRoot:  opts.RepoRoot,
		startedAt: time.Now(),
		pty:       ptyProc,
		log:       log,
		status:    StatusRunning,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.panes[id] = p
	m.mu.Unlock()

	if writeIndex && opts.RepoRoot != "" {
		entry := IndexEntry{
			Branch:       opts.Branch,
			PaneID:       id,
			Tool:         opts.Tool,
			WorktreePath: opts.Dir,
			SessionID:    opts.ResumeSessionID,
			Timestamp:    time.Now().UnixMilli(),
		}
		if err := m.index.Put(opts.RepoRoot, entry); err != nil {
			mgrLog.Warn("index_persist_failed",
				slog.String("pane", id),
				slog.String("branch", opts.Branch),
				slog.String("error", err.Error()),
			)
		}
	}

	if m.recorder != nil {
		if err := m.recorder.RecordStart(p.Snapshot()); err != nil {
			mgrLog.Warn("history_record_failed",
				slog.String("pane", id),
				slog.String("error", err.Error()),
			)
		}
	}

	go m.pump(p)

	mgrLog.Info("pane_spawned",
		slog.String("pane", id),
		slog.String("command", opts.Command),
		slog.String("branch", opts.Branch),
		slog.String("tool", opts.Tool),
	)
	return p.Snapshot(), nil
}

// Events returns the manager's event channel. A single consumer is expected.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Index exposes the branch index (used by the session watcher to attach
// discovered session ids).
func (m *Manager) Index() *Index {
	return m.index
}

// Get returns a snapshot of a pane.
func (m *Manager) Get(id string) (Info, error) {
	p, err := m.pane(id)
	if err != nil {
		return Info{}, err
	}
	return p.Snapshot(), nil
}

// List returns snapshots of all live panes, newest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	panes := make([]*Pane, 0, len(m.panes))
	for _, p := range m.panes {
		panes = append(panes, p)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(panes))
	for _, p := range panes {
		infos = append(infos, p.Snapshot())
	}
	sortInfosByStart(infos)
	return infos
}

// Write sends input bytes to a pane's PTY. All PTY input goes through here.
func (m *Manager) Write(id string, data []byte) error {
	p, err := m.pane(id)
	if err != nil {
		return err
	}
	if _, err := p.pty.Write(data); err != nil {
		return fmt.Errorf("manager: write to %s: %w", id, err)
	}
	return nil
}

// Resize changes a pane's PTY window size.
func (m *Manager) Resize(id string, rows, cols uint16) error {
	p, err := m.pane(id)
	if err != nil {
		return err
	}
	return p.pty.Resize(rows, cols)
}

// Tail returns up to the last maxBytes of a pane's scrollback. Works for
// closed panes too, as long as the log file is still on disk.
func (m *Manager) Tail(id string, maxBytes int64) ([]byte, error) {
	return m.store.Tail(id, maxBytes)
}

// Scrollback exposes the scrollback store.
func (m *Manager) Scrollback() *Store {
	return m.store
}

// Close terminates a pane: SIGTERM, bounded wait, then SIGKILL. Scrollback
// is retained. Closing an unknown pane is a no-op.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	p, ok := m.panes[id]
	if ok {
		delete(m.panes, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.shutdown(p)
}

// CloseAll terminates every live pane in parallel.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	panes := make([]*Pane, 0, len(m.panes))
	for _, p := range m.panes {
		panes = append(panes, p)
	}
	m.panes = make(map[string]*Pane)
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range panes {
		p := p
		g.Go(func() error { return m.shutdown(p) })
	}
	return g.Wait()
}

func (m *Manager) shutdown(p *Pane) error {
	// Already exited: nothing to signal, just close the master side
	select {
	case <-p.done:
		p.setClosed()
		p.pty.Close()
		return nil
	default:
	}

	if err := p.pty.Signal(syscall.SIGTERM); err != nil {
		mgrLog.Debug("pane_sigterm_failed",
			slog.String("pane", p.id),
			slog.String("error", err.Error()),
		)
	}

	select {
	case <-p.done:
	case <-time.After(m.closeGrace):
		mgrLog.Warn("pane_close_timeout", slog.String("pane", p.id))
		_ = p.pty.Signal(syscall.SIGKILL)
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			// Pump stuck on a dead PTY; closing the master unblocks it
			p.pty.Close()
			<-p.done
		}
	}

	p.setClosed()
	p.pty.Close()
	mgrLog.Info("pane_closed", slog.String("pane", p.id))
	return nil
}

func (m *Manager) pane(id string) (*Pane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.panes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPaneNotFound, id)
	}
	return p, nil
}

// updateCwd applies a detected working directory. Duplicate reports are
// suppressed against the pane's last known cwd.
func (m *Manager) updateCwd(p *Pane, cwd string) {
	if !p.setCwd(cwd) {
		return
	}
	if m.recorder != nil {
		if err := m.recorder.RecordCwd(p.id, cwd); err != nil {
			mgrLog.Warn("history_record_failed",
				slog.String("pane", p.id),
				slog.String("error", err.Error()),
			)
		}
	}
	m.emit(Event{PaneID: p.id, Kind: EventCwd, Cwd: cwd, Time: time.Now()})
	mgrLog.Debug("pane_cwd_changed",
		slog.String("pane", p.id),
		slog.String("cwd", cwd),
	)
}

func (m *Manager) recordExit(p *Pane) {
	if m.recorder == nil {
		return
	}
	info := p.Snapshot()
	if err := m.recorder.RecordExit(p.id, info.Status, info.ExitCode); err != nil {
		mgrLog.Warn("history_record_failed",
			slog.String("pane", p.id),
			slog.String("error", err.Error()),
		)
	}
}

// emit delivers an event without ever blocking the output pump.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		logging.Aggregate(logging.CompPane, "event_dropped", slog.String("pane", ev.PaneID))
	}
}

func sortInfosByStart(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.After(infos[j].StartedAt)
	})
}
