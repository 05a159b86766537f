package pane

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a pane's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusErrored Status = "errored"
	StatusClosed  Status = "closed"
)

// Info is a point-in-time snapshot of a pane.
type Info struct {
	ID           string
	Branch       string
	Tool         string
	Command      string
	Dir          string
	RepoRoot     string
	Status       Status
	ExitCode     int
	Err          string
	LastKnownCwd string
	StartedAt    time.Time
}

// Pane is a live PTY session tracked by the manager.
type Pane struct {
	id        string
	branch    string
	tool      string
	command   string
	dir       string
	repoRoot  string
	startedAt time.Time

	pty *PtyProcess
	log *ScrollbackLog

	mu           sync.Mutex
	status       Status
	exitCode     int
	errMsg       string
	lastKnownCwd string

	// closed by the output pump when the read loop ends
	done chan struct{}
}

func newPaneID() string {
	return "pane-" + uuid.NewString()[:8]
}

// ID returns the pane id.
func (p *Pane) ID() string { return p.id }

// Done is closed once the pane's output pump has finished.
func (p *Pane) Done() <-chan struct{} { return p.done }

// Snapshot returns a copy of the pane's current state.
func (p *Pane) Snapshot() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Info{
		ID:           p.id,
		Branch:       p.branch,
		Tool:         p.tool,
		Command:      p.command,
		Dir:          p.dir,
		RepoRoot:     p.repoRoot,
		Status:       p.status,
		ExitCode:     p.exitCode,
		Err:          p.errMsg,
		LastKnownCwd: p.lastKnownCwd,
		StartedAt:    p.startedAt,
	}
}

func (p *Pane) setExited(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		p.status = StatusExited
		p.exitCode = code
	}
}

func (p *Pane) setErrored(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		p.status = StatusErrored
		p.errMsg = msg
	}
}

func (p *Pane) setClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusClosed
}

// setCwd records a detected working directory. Returns false when the value
// matches the last known cwd (duplicate reports are suppressed).
func (p *Pane) setCwd(cwd string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cwd == p.lastKnownCwd {
		return false
	}
	p.lastKnownCwd = cwd
	return true
}
