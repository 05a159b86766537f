// Package watch captures the session file an agent creates shortly after
// launch. Tools write their session ids to disk at their own pace, so the
// watcher reacts to filesystem events instead of polling.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/branchpane/branchpane/internal/logging"
	"github.com/branchpane/branchpane/internal/resolve"
)

var watchLog = logging.ForComponent(logging.CompWatch)

// debounceDelay coalesces bursts of file events into one resolution pass.
const debounceDelay = 100 * time.Millisecond

// SessionWatcher watches a tool's session directories and re-resolves after
// changes. Each newly resolved session id is delivered once.
type SessionWatcher struct {
	adapter resolve.Adapter
	opts    resolve.Options
	dirs    []string

	watcher   *fsnotify.Watcher
	limiter   *rate.Limiter
	sessionCh chan *resolve.Session

	mu     sync.Mutex
	lastID string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a watcher over the given directories. Missing directories are
// created so the watch can be established before the tool writes anything.
func New(adapter resolve.Adapter, opts resolve.Options, dirs []string) (*SessionWatcher, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("watch: at least one directory is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: create dir %s: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: add %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionWatcher{
		adapter: adapter,
		opts:    opts,
		dirs:    dirs,
		watcher: fsw,
		// Resolution walks session files; cap the rescan rate even under
		// heavy write bursts
		limiter:   rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		sessionCh: make(chan *resolve.Session, 4),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins watching. Must be called in a goroutine; blocks until Stop.
func (w *SessionWatcher) Start() {
	var debounce *time.Timer

	// Catch sessions written before the watch was established
	w.tryResolve()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			ext := filepath.Ext(event.Name)
			if ext != ".json" && ext != ".jsonl" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.tryResolve)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			watchLog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Stop shuts down the watcher.
func (w *SessionWatcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}

// Sessions returns the channel delivering newly resolved sessions.
func (w *SessionWatcher) Sessions() <-chan *resolve.Session {
	return w.sessionCh
}

// WaitForSession blocks until a session is resolved or the timeout expires.
func (w *SessionWatcher) WaitForSession(timeout time.Duration) (*resolve.Session, error) {
	select {
	case sess := <-w.sessionCh:
		return sess, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("watch: no session within %v", timeout)
	case <-w.ctx.Done():
		return nil, fmt.Errorf("watch: watcher stopped")
	}
}

// DirsFor returns the directories a tool writes session files into for the
// given search options. Used to point the watcher at the right places before
// the tool has written anything.
func DirsFor(a resolve.Adapter, opts resolve.Options) []string {
	roots := append([]string{}, opts.Worktrees...)
	if opts.Cwd != "" {
		roots = append(roots, opts.Cwd)
	}

	var dirs []string
	switch ad := a.(type) {
	case *resolve.ClaudeAdapter:
		for _, root := range roots {
			dirs = append(dirs, filepath.Join(ad.ConfigDir, "projects", resolve.ClaudeProjectDirName(root)))
		}
	case *resolve.GeminiAdapter:
		for _, root := range roots {
			dirs = append(dirs, filepath.Join(ad.TmpDir, resolve.GeminiProjectHash(root), "chats"))
		}
	case *resolve.CodexAdapter:
		dirs = append(dirs, ad.SessionsDir)
	case *resolve.OpenCodeAdapter:
		dirs = append(dirs, ad.SessionsDir)
	}
	return dirs
}

func (w *SessionWatcher) tryResolve() {
	if !w.limiter.Allow() {
		// Another pass ran recently; the next event will retry
		time.AfterFunc(debounceDelay, func() {
			select {
			case <-w.ctx.Done():
			default:
				w.tryResolve()
			}
		})
		return
	}

	sess, err := resolve.ResolveWith(w.adapter, w.opts)
	if err != nil {
		watchLog.Warn("resolve_failed",
			slog.String("tool", w.adapter.Tool()),
			slog.String("error", err.Error()),
		)
		return
	}
	if sess == nil {
		return
	}

	w.mu.Lock()
	seen := sess.ID == w.lastID
	if !seen {
		w.lastID = sess.ID
	}
	w.mu.Unlock()
	if seen {
		return
	}

	select {
	case w.sessionCh <- sess:
		watchLog.Info("session_captured",
			slog.String("tool", sess.Tool),
			slog.String("session", sess.ID),
		)
	default:
		watchLog.Warn("session_channel_full", slog.String("session", sess.ID))
	}
}
