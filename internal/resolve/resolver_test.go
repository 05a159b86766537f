package resolve

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSessionFile creates a session file with the given mtime.
func writeSessionFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// stubAdapter serves fixed candidates for algorithm tests.
type stubAdapter struct {
	cands []Candidate
	ids   map[string]string
}

func (s *stubAdapter) Tool() string                           { return "stub" }
func (s *stubAdapter) Candidates(Options) ([]Candidate, error) { return s.cands, nil }
func (s *stubAdapter) SessionID(path string) string           { return s.ids[path] }

func TestResolveMissIsNotAnError(t *testing.T) {
	sess, err := ResolveWith(&stubAdapter{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil session on miss, got %+v", sess)
	}
}

func TestResolvePicksMostRecent(t *testing.T) {
	now := time.Now()
	a := &stubAdapter{
		cands: []Candidate{
			{Path: "/old", ModTime: now.Add(-2 * time.Hour)},
			{Path: "/new", ModTime: now.Add(-1 * time.Minute)},
			{Path: "/mid", ModTime: now.Add(-30 * time.Minute)},
		},
		ids: map[string]string{"/old": "old-id", "/new": "new-id", "/mid": "mid-id"},
	}
	sess, err := ResolveWith(a, Options{})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != "new-id" {
		t.Errorf("expected newest session, got %+v", sess)
	}
}

func TestResolveSkipsCandidatesWithoutIDs(t *testing.T) {
	now := time.Now()
	a := &stubAdapter{
		cands: []Candidate{
			{Path: "/new-no-id", ModTime: now},
			{Path: "/older-with-id", ModTime: now.Add(-time.Hour)},
		},
		ids: map[string]string{"/older-with-id": "the-id"},
	}
	sess, err := ResolveWith(a, Options{})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != "the-id" {
		t.Errorf("expected fallback to extractable candidate, got %+v", sess)
	}
}

func TestResolveWindowPreference(t *testing.T) {
	launch := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := &stubAdapter{
		cands: []Candidate{
			// Most recent overall but far from the launch instant
			{Path: "/recent", ModTime: launch.Add(3 * time.Hour)},
			// Inside the window, closest to launch
			{Path: "/close", ModTime: launch.Add(30 * time.Second)},
			// Inside the window but farther
			{Path: "/far", ModTime: launch.Add(4 * time.Minute)},
		},
		ids: map[string]string{"/recent": "recent", "/close": "close", "/far": "far"},
	}

	sess, err := ResolveWith(a, Options{PreferClosestTo: launch, Window: 5 * time.Minute})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != "close" {
		t.Errorf("expected closest-in-window candidate, got %+v", sess)
	}
}

func TestResolveWindowFallsBackToMostRecent(t *testing.T) {
	launch := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := &stubAdapter{
		cands: []Candidate{
			{Path: "/a", ModTime: launch.Add(2 * time.Hour)},
			{Path: "/b", ModTime: launch.Add(5 * time.Hour)},
		},
		ids: map[string]string{"/a": "a", "/b": "b"},
	}

	// Nothing within one minute of launch: recency order wins
	sess, err := ResolveWith(a, Options{PreferClosestTo: launch, Window: time.Minute})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != "b" {
		t.Errorf("expected most recent fallback, got %+v", sess)
	}
}

func TestResolveSinceUntilBounds(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	a := &stubAdapter{
		cands: []Candidate{
			{Path: "/before", ModTime: base.Add(-time.Hour)},
			{Path: "/inside", ModTime: base.Add(time.Hour)},
			{Path: "/after", ModTime: base.Add(10 * time.Hour)},
		},
		ids: map[string]string{"/before": "before", "/inside": "inside", "/after": "after"},
	}

	sess, err := ResolveWith(a, Options{Since: base, Until: base.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != "inside" {
		t.Errorf("expected bounded candidate, got %+v", sess)
	}
}

func TestPathsRelated(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"/home/u/repo", "/home/u/repo", true},
		{"/home/u/repo", "/home/u/repo/sub", true},
		{"/home/u/repo/sub", "/home/u/repo", true},
		{"/home/u/repo", "/home/u/repository", false},
		{"/home/u/repo", "/home/u/other", false},
		{"", "/home/u/repo", false},
		{"/home/u/repo/", "/home/u/repo", true},
	}
	for _, tc := range cases {
		if got := pathsRelated(tc.a, tc.b); got != tc.want {
			t.Errorf("pathsRelated(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestRegistryToolMatching(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CLAUDE_CONFIG_DIR", "")
	r := DefaultRegistry(home)

	cases := []struct {
		id   string
		tool string
	}{
		{"claude", "claude"},
		{"Claude Code", "claude"},
		{"codex", "codex"},
		{"codex-cli", "codex"},
		{"gemini", "gemini"},
		{"GEMINI CLI", "gemini"},
		{"opencode", "opencode"},
	}
	for _, tc := range cases {
		a, ok := r.Adapter(tc.id)
		if !ok {
			t.Errorf("no adapter for %q", tc.id)
			continue
		}
		if a.Tool() != tc.tool {
			t.Errorf("adapter for %q = %s, want %s", tc.id, a.Tool(), tc.tool)
		}
	}

	if _, ok := r.Adapter("some-unknown-tool"); ok {
		t.Error("expected no adapter for unknown tool")
	}

	// Unknown tool resolves to a miss, not an error
	sess, err := r.Resolve("some-unknown-tool", Options{})
	if err != nil || sess != nil {
		t.Errorf("expected (nil, nil) for unknown tool, got (%+v, %v)", sess, err)
	}
}
