// Package resolve discovers AI tool session files on disk and maps a pane's
// working directory or branch back to the tool's session id. A failed lookup
// is a normal outcome, not an error: callers get (nil, nil).
package resolve

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/branchpane/branchpane/internal/logging"
)

var resolveLog = logging.ForComponent(logging.CompResolve)

// Options narrows the session search.
type Options struct {
	// Cwd restricts candidates to sessions whose recorded directory equals
	// the given path or is a sub-path of it (in either direction).
	Cwd string

	// Worktrees are additional directories treated like Cwd.
	Worktrees []string

	// Branch is informational; adapters whose layout encodes branches may
	// use it.
	Branch string

	// Since / Until bound candidate file modification times when non-zero.
	Since time.Time
	Until time.Time

	// PreferClosestTo ranks candidates inside the window by distance to this
	// instant. Zero disables the preference.
	PreferClosestTo time.Time

	// Window is the half-width of the preference window around
	// PreferClosestTo. Candidates outside it fall back to recency order.
	Window time.Duration
}

// Candidate is a session file found by an adapter.
type Candidate struct {
	Path    string
	ModTime time.Time
}

// Session is a resolved tool session.
type Session struct {
	ID      string
	Tool    string
	Path    string
	ModTime time.Time
}

// Adapter knows one tool's on-disk session layout.
type Adapter interface {
	// Tool returns the canonical tool name.
	Tool() string

	// Candidates enumerates session files matching the options' directory
	// constraints. Time filtering and ranking happen in Resolve.
	Candidates(opts Options) ([]Candidate, error)

	// SessionID extracts the session id from a candidate file, or "" when
	// none can be determined.
	SessionID(path string) string
}

// Registry holds the known adapters, keyed by canonical tool name.
type Registry struct {
	mu     sync.RWMutex
	byTool map[string]Adapter
}

// NewRegistry creates a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byTool: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.byTool[a.Tool()] = a
	}
	return r
}

// DefaultRegistry returns a registry with the built-in adapters rooted at
// the given home directory.
func DefaultRegistry(home string) *Registry {
	return NewRegistry(
		NewClaudeAdapter(home),
		NewCodexAdapter(home),
		NewGeminiAdapter(home),
		NewOpenCodeAdapter(home),
	)
}

// Adapter returns the adapter for a tool id. Matching is forgiving: the id
// is lowercased and substring-matched, so "claude-code" and "Codex CLI"
// resolve to their canonical adapters.
func (r *Registry) Adapter(toolID string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := strings.ToLower(strings.TrimSpace(toolID))
	if a, ok := r.byTool[id]; ok {
		return a, true
	}
	for _, name := range []string{"claude", "opencode", "codex", "gemini"} {
		if strings.Contains(id, name) {
			if a, ok := r.byTool[name]; ok {
				return a, true
			}
		}
	}
	return nil, false
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTool[a.Tool()] = a
}

// Resolve finds the best session for a tool. A miss returns (nil, nil).
func (r *Registry) Resolve(toolID string, opts Options) (*Session, error) {
	a, ok := r.Adapter(toolID)
	if !ok {
		resolveLog.Debug("unknown_tool", slog.String("tool", toolID))
		return nil, nil
	}
	return ResolveWith(a, opts)
}

// ResolveWith runs the shared resolution algorithm against one adapter:
// enumerate, bound by time, rank, then walk the ranked candidates until one
// yields a session id.
func ResolveWith(a Adapter, opts Options) (*Session, error) {
	cands, err := a.Candidates(opts)
	if err != nil {
		return nil, err
	}

	cands = boundByTime(cands, opts.Since, opts.Until)
	if len(cands) == 0 {
		return nil, nil
	}
	rankCandidates(cands, opts)

	for _, c := range cands {
		if id := a.SessionID(c.Path); id != "" {
			resolveLog.Debug("session_resolved",
				slog.String("tool", a.Tool()),
				slog.String("session", id),
				slog.String("path", c.Path),
			)
			return &Session{ID: id, Tool: a.Tool(), Path: c.Path, ModTime: c.ModTime}, nil
		}
	}
	return nil, nil
}

func boundByTime(cands []Candidate, since, until time.Time) []Candidate {
	if since.IsZero() && until.IsZero() {
		return cands
	}
	out := cands[:0]
	for _, c := range cands {
		if !since.IsZero() && c.ModTime.Before(since) {
			continue
		}
		if !until.IsZero() && c.ModTime.After(until) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// rankCandidates orders candidates newest first. When a preference instant
// is set, candidates inside the window come first, ranked by distance to it;
// everything else keeps recency order behind them, so an empty window still
// resolves to the most recent session.
func rankCandidates(cands []Candidate, opts Options) {
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].ModTime.After(cands[j].ModTime)
	})
	if opts.PreferClosestTo.IsZero() || opts.Window <= 0 {
		return
	}

	distance := func(c Candidate) time.Duration {
		d := c.ModTime.Sub(opts.PreferClosestTo)
		if d < 0 {
			d = -d
		}
		return d
	}
	inWindow := func(c Candidate) bool { return distance(c) <= opts.Window }

	sort.SliceStable(cands, func(i, j int) bool {
		wi, wj := inWindow(cands[i]), inWindow(cands[j])
		if wi != wj {
			return wi
		}
		if wi && wj {
			return distance(cands[i]) < distance(cands[j])
		}
		return false
	})
}

// pathsRelated reports whether two paths are equal or one is a sub-path of
// the other, on path separator boundaries.
func pathsRelated(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = filepath.Clean(a), filepath.Clean(b)
	if a == b {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(a, b+sep) || strings.HasPrefix(b, a+sep)
}

// searchRoots returns the cwd plus worktrees, dropping empties.
func searchRoots(opts Options) []string {
	roots := make([]string, 0, 1+len(opts.Worktrees))
	if opts.Cwd != "" {
		roots = append(roots, opts.Cwd)
	}
	for _, w := range opts.Worktrees {
		if w != "" {
			roots = append(roots, w)
		}
	}
	return roots
}
