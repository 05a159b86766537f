package main

import (
	"flag"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/creack/pty"

	"github.com/branchpane/branchpane/internal/config"
	"github.com/branchpane/branchpane/internal/logging"
	"github.com/branchpane/branchpane/internal/pane"
	"github.com/branchpane/branchpane/internal/resolve"
	"github.com/branchpane/branchpane/internal/statedb"
	"github.com/branchpane/branchpane/internal/watch"
)

// newLocalManager builds a manager backed by the data dir and, best-effort,
// the history database.
func newLocalManager() (*pane.Manager, *statedb.StateDB) {
	cfg, _ := config.Load()
	dataDir, err := cfg.GetDataDir()
	if err != nil {
		fatalf("resolve data dir: %v", err)
	}

	var recorder pane.Recorder
	db, err := statedb.Open(filepath.Join(dataDir, "state.db"))
	if err == nil {
		if err := db.Migrate(); err != nil {
			db.Close()
			db = nil
		} else {
			recorder = db
		}
	} else {
		db = nil
	}

	m, err := pane.NewManager(pane.ManagerOptions{
		DataDir:  dataDir,
		Recorder: recorder,
	})
	if err != nil {
		if db != nil {
			db.Close()
		}
		fatalf("create manager: %v", err)
	}
	return m, db
}

// termSize reads the current terminal dimensions, zero on failure (the PTY
// layer applies its own default).
func termSize() (rows, cols uint16) {
	if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
		return ws.Rows, ws.Cols
	}
	return 0, 0
}

func handleShell(args []string) {
	fs := flag.NewFlagSet("shell", flag.ExitOnError)
	dir := fs.String("dir", "", "working directory (default: home)")
	branch := fs.String("branch", "", "branch label for the pane")
	debug := fs.Bool("debug", false, "verbose logging")
	_ = fs.Parse(normalizeArgs(fs, args))

	initLogging(*debug)
	defer logging.Shutdown()

	cfg, _ := config.Load()

	m, db := newLocalManager()
	defer func() {
		m.CloseAll()
		if db != nil {
			db.Close()
		}
	}()

	rows, cols := termSize()
	// An empty or missing -dir falls back to home inside the manager
	info, err := m.SpawnShell(pane.SpawnOptions{
		Command: cfg.GetShell(),
		Dir:     *dir,
		Branch:  *branch,
		Rows:    rows,
		Cols:    cols,
	})
	if err != nil {
		fatalf("spawn shell: %v", err)
	}

	if err := attachLocal(m, info.ID); err != nil {
		fatalf("attach: %v", err)
	}
}

func handleLaunch(args []string) {
	fs := flag.NewFlagSet("launch", flag.ExitOnError)
	tool := fs.String("tool", "", "agent tool: claude, gemini, opencode, codex, or a [tools.*] name")
	dir := fs.String("dir", "", "working directory (default: current)")
	branch := fs.String("branch", "", "branch name (default: current git branch)")
	repo := fs.String("repo", "", "repository root (default: detected from -dir)")
	resume := fs.Bool("resume", false, "continue the most recent session for this directory")
	session := fs.String("session", "", "session id to continue (implies -resume)")
	debug := fs.Bool("debug", false, "verbose logging")
	_ = fs.Parse(normalizeArgs(fs, args))

	initLogging(*debug)
	defer logging.Shutdown()

	cfg, _ := config.Load()
	if *tool == "" {
		*tool = cfg.DefaultTool
	}
	if *tool == "" {
		fatalf("-tool is required (or set default_tool in config.toml)")
	}
	if *dir == "" {
		*dir, _ = os.Getwd()
	}
	if *repo == "" {
		*repo = gitTopLevel(*dir)
	}
	if *branch == "" {
		*branch = gitBranch(*dir)
	}

	m, db := newLocalManager()
	defer func() {
		m.CloseAll()
		if db != nil {
			db.Close()
		}
	}()

	command, cmdArgs := cfg.ToolCommand(*tool)

	// Pre-fill the continue flag from the resolver when asked to resume.
	// A miss is not an error; the agent just starts a fresh session.
	sessionID := *session
	if sessionID == "" && *resume {
		sessionID = resolveResumeSession(*tool, *dir)
	}
	if resumeArgs, prepend := cfg.ResumeArgs(*tool, sessionID); len(resumeArgs) > 0 {
		if prepend {
			cmdArgs = append(resumeArgs, cmdArgs...)
		} else {
			cmdArgs = append(cmdArgs, resumeArgs...)
		}
	} else {
		sessionID = ""
	}

	rows, cols := termSize()
	launchedAt := time.Now()

	info, err := m.LaunchAgent(pane.SpawnOptions{
		Command:         command,
		Args:            cmdArgs,
		Dir:             *dir,
		Branch:          *branch,
		RepoRoot:        *repo,
		Tool:            *tool,
		Rows:            rows,
		Cols:            cols,
		ResumeSessionID: sessionID,
	})
	if err != nil {
		fatalf("launch %s: %v", *tool, err)
	}

	// Capture the session id the agent writes shortly after startup and
	// record it next to the branch mapping
	if w := startSessionCapture(m, *tool, *dir, *repo, *branch, launchedAt); w != nil {
		defer w.Stop()
	}

	if err := attachLocal(m, info.ID); err != nil {
		fatalf("attach: %v", err)
	}
}

// resolveResumeSession finds the most recent session id for tool in dir.
// Returns empty on any miss or error; resuming is best-effort.
func resolveResumeSession(tool, dir string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	sess, err := resolve.DefaultRegistry(home).Resolve(tool, resolve.Options{Cwd: dir})
	if err != nil || sess == nil {
		return ""
	}
	return sess.ID
}

// startSessionCapture watches the tool's session directories and attaches the
// first discovered session id to the branch index entry. Returns nil when the
// tool has no adapter.
func startSessionCapture(m *pane.Manager, tool, dir, repo, branch string, launchedAt time.Time) *watch.SessionWatcher {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	adapter, ok := resolve.DefaultRegistry(home).Adapter(tool)
	if !ok {
		return nil
	}

	opts := resolve.Options{
		Cwd:             dir,
		Since:           launchedAt.Add(-time.Minute),
		PreferClosestTo: launchedAt,
		Window:          5 * time.Minute,
	}
	dirs := watch.DirsFor(adapter, opts)
	w, err := watch.New(adapter, opts, dirs)
	if err != nil {
		logging.ForComponent(logging.CompWatch).Warn("session_capture_disabled",
			slog.String("tool", tool),
			slog.String("error", err.Error()),
		)
		return nil
	}
	go w.Start()

	go func() {
		for sess := range w.Sessions() {
			if repo == "" || branch == "" {
				continue
			}
			if err := m.Index().SetSessionID(repo, branch, sess.ID); err != nil {
				logging.ForComponent(logging.CompIndex).Warn("session_id_persist_failed",
					slog.String("branch", branch),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
	return w
}

// gitTopLevel returns the repository root for dir, empty when not in a repo.
func gitTopLevel(dir string) string {
	out, err := gitOutput(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return ""
	}
	return out
}

// gitBranch returns the current branch name for dir, empty when not in a
// repo or detached.
func gitBranch(dir string) string {
	out, err := gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil || out == "HEAD" {
		return ""
	}
	return out
}

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
