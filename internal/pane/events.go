package pane

import "time"

// EventKind distinguishes pane event types on the manager's event channel.
type EventKind string

const (
	// EventOutput carries a chunk of raw PTY output.
	EventOutput EventKind = "output"
	// EventCwd reports a change of the pane's working directory.
	EventCwd EventKind = "cwd"
	// EventExit reports that the pane's process has ended.
	EventExit EventKind = "exit"
)

// Event is delivered on the manager's event channel. Sends never block the
// output pump; consumers that fall behind lose events (drops are counted in
// the log aggregator).
type Event struct {
	PaneID   string
	Kind     EventKind
	Data     []byte
	Cwd      string
	Status   Status
	ExitCode int
	Err      string
	Time     time.Time
}
