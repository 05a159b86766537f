package resolve

import (
	"path/filepath"
	"testing"
	"time"
)

func TestClaudeProjectDirName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/home/user/my-repo", "-home-user-my-repo"},
		{"/tmp/a_b.c", "-tmp-a-b-c"},
		{"/home/user/repo.worktrees/feat one", "-home-user-repo-worktrees-feat-one"},
	}
	for _, tc := range cases {
		if got := ClaudeProjectDirName(tc.in); got != tc.want {
			t.Errorf("ClaudeProjectDirName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClaudeAdapterResolvesByCwd(t *testing.T) {
	configDir := t.TempDir()
	a := &ClaudeAdapter{ConfigDir: configDir}
	now := time.Now()

	cwd := "/home/user/myrepo"
	projDir := filepath.Join(configDir, "projects", ClaudeProjectDirName(cwd))

	writeSessionFile(t, filepath.Join(projDir, testUUID+".jsonl"),
		`{"cwd":"/home/user/myrepo"}`, now.Add(-time.Minute))
	// Subagent transcript must be skipped even though it is newer
	writeSessionFile(t, filepath.Join(projDir, "agent-0000.jsonl"),
		`{"cwd":"/home/user/myrepo"}`, now)
	// Session for an unrelated project must not appear
	otherDir := filepath.Join(configDir, "projects", ClaudeProjectDirName("/home/user/unrelated"))
	writeSessionFile(t, filepath.Join(otherDir, "99999999-aaaa-4bbb-8ccc-dddddddddddd.jsonl"),
		`{}`, now)

	sess, err := ResolveWith(a, Options{Cwd: cwd})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != testUUID {
		t.Errorf("expected %s, got %+v", testUUID, sess)
	}
}

func TestClaudeAdapterSubPathMatching(t *testing.T) {
	configDir := t.TempDir()
	a := &ClaudeAdapter{ConfigDir: configDir}

	// Session recorded for a worktree below the repo root
	worktree := "/home/user/myrepo/worktrees/feature"
	projDir := filepath.Join(configDir, "projects", ClaudeProjectDirName(worktree))
	writeSessionFile(t, filepath.Join(projDir, testUUID+".jsonl"), `{}`, time.Now())

	// Searching from the repo root finds the worktree session
	sess, err := ResolveWith(a, Options{Cwd: "/home/user/myrepo"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != testUUID {
		t.Errorf("expected worktree session from repo root, got %+v", sess)
	}

	// And searching from deeper inside the worktree finds it too
	sess, err = ResolveWith(a, Options{Cwd: worktree + "/src"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != testUUID {
		t.Errorf("expected worktree session from sub-path, got %+v", sess)
	}
}

func TestCodexAdapterFiltersByPayloadCwd(t *testing.T) {
	home := t.TempDir()
	a := NewCodexAdapter(home)
	now := time.Now()

	sessions := filepath.Join(home, ".codex", "sessions", "2026", "08", "01")
	writeSessionFile(t, filepath.Join(sessions, "rollout-a.jsonl"),
		`{"payload":{"id":"match-id","cwd":"/home/user/repo/wt"}}`, now.Add(-time.Minute))
	writeSessionFile(t, filepath.Join(sessions, "rollout-b.jsonl"),
		`{"payload":{"id":"other-id","cwd":"/somewhere/else"}}`, now)

	sess, err := ResolveWith(a, Options{Cwd: "/home/user/repo"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != "match-id" {
		t.Errorf("expected cwd-matched codex session, got %+v", sess)
	}
}

func TestCodexAdapterEmptyDirIsAMiss(t *testing.T) {
	a := NewCodexAdapter(t.TempDir())
	sess, err := ResolveWith(a, Options{Cwd: "/x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected miss, got %+v", sess)
	}
}

func TestGeminiAdapterResolvesViaProjectHash(t *testing.T) {
	home := t.TempDir()
	a := NewGeminiAdapter(home)
	now := time.Now()

	// Use a real directory so symlink resolution is stable
	project := t.TempDir()
	bucket := filepath.Join(home, ".gemini", "tmp", GeminiProjectHash(project), "chats")

	writeSessionFile(t, filepath.Join(bucket, "session-2026-08-01-aaaa1111.json"),
		`{"sessionId":"gem-old","startTime":"2026-08-01T09:00:00Z"}`, now.Add(-time.Hour))
	writeSessionFile(t, filepath.Join(bucket, "session-2026-08-01-bbbb2222.json"),
		`{"sessionId":"gem-new","startTime":"2026-08-01T10:00:00Z"}`, now)

	// A different project's bucket must not leak in
	otherBucket := filepath.Join(home, ".gemini", "tmp", GeminiProjectHash("/other/project"), "chats")
	writeSessionFile(t, filepath.Join(otherBucket, "session-x-cccc3333.json"),
		`{"sessionId":"gem-other"}`, now)

	sess, err := ResolveWith(a, Options{Cwd: project})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != "gem-new" {
		t.Errorf("expected newest session in project bucket, got %+v", sess)
	}
}

func TestOpenCodeAdapterFiltersByDirectory(t *testing.T) {
	home := t.TempDir()
	a := NewOpenCodeAdapter(home)
	now := time.Now()

	sessions := filepath.Join(home, ".opencode", "sessions")
	writeSessionFile(t, filepath.Join(sessions, "ses-one.json"),
		`{"id":"ses_matching","directory":"/home/user/repo"}`, now.Add(-time.Minute))
	writeSessionFile(t, filepath.Join(sessions, "ses-two.json"),
		`{"id":"ses_other","directory":"/elsewhere"}`, now)

	sess, err := ResolveWith(a, Options{Cwd: "/home/user/repo/subdir"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != "ses_matching" {
		t.Errorf("expected directory-matched session, got %+v", sess)
	}
}

func TestOpenCodeSessionWithoutDirectoryMatchesAnything(t *testing.T) {
	home := t.TempDir()
	a := NewOpenCodeAdapter(home)

	sessions := filepath.Join(home, ".opencode", "sessions")
	writeSessionFile(t, filepath.Join(sessions, "ses-bare.json"),
		`{"id":"ses_bare"}`, time.Now())

	sess, err := ResolveWith(a, Options{Cwd: "/any/path"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess == nil || sess.ID != "ses_bare" {
		t.Errorf("expected permissive match, got %+v", sess)
	}
}
