package pane

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewIndex(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	return ix
}

func TestIndexFileNameIsFilesystemSafe(t *testing.T) {
	ix := newTestIndex(t)
	path := ix.FileFor("/home/user/projects/my-repo")

	base := filepath.Base(path)
	if !strings.HasPrefix(base, "my-repo_") {
		t.Errorf("expected repo name prefix, got %q", base)
	}
	if !strings.HasSuffix(base, ".json") {
		t.Errorf("expected .json suffix, got %q", base)
	}
	for _, c := range []string{"/", "+", "="} {
		if strings.Contains(strings.TrimSuffix(base, ".json"), c) {
			t.Errorf("file name contains unsafe character %q: %q", c, base)
		}
	}

	// Same repo name under a different path must map to a different file
	other := ix.FileFor("/tmp/elsewhere/my-repo")
	if other == path {
		t.Error("distinct repo roots with the same name collided")
	}
}

func TestIndexPutAndLoad(t *testing.T) {
	ix := newTestIndex(t)
	repo := "/home/user/repo"

	err := ix.Put(repo, IndexEntry{
		Branch:       "feature-x",
		PaneID:       "pane-abc12345",
		Tool:         "claude",
		WorktreePath: "/home/user/repo-worktrees/feature-x",
		Timestamp:    1700000000000,
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	entries := ix.Load(repo)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries["feature-x"]
	if e.PaneID != "pane-abc12345" || e.Tool != "claude" {
		t.Errorf("unexpected entry: %+v", e)
	}

	// Second branch does not clobber the first
	if err := ix.Put(repo, IndexEntry{Branch: "main", PaneID: "pane-def", Tool: "codex"}); err != nil {
		t.Fatalf("second put failed: %v", err)
	}
	entries = ix.Load(repo)
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestIndexLoadMissingAndCorrupt(t *testing.T) {
	ix := newTestIndex(t)

	if entries := ix.Load("/no/such/repo"); len(entries) != 0 {
		t.Errorf("missing file should load empty, got %d entries", len(entries))
	}

	repo := "/home/user/broken"
	if err := os.WriteFile(ix.FileFor(repo), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if entries := ix.Load(repo); len(entries) != 0 {
		t.Errorf("corrupt file should load empty, got %d entries", len(entries))
	}

	// A corrupt file must not block new writes
	if err := ix.Put(repo, IndexEntry{Branch: "main", PaneID: "pane-1"}); err != nil {
		t.Fatalf("put over corrupt file failed: %v", err)
	}
	if entries := ix.Load(repo); len(entries) != 1 {
		t.Errorf("expected recovery write, got %d entries", len(entries))
	}
}

func TestIndexSetSessionID(t *testing.T) {
	ix := newTestIndex(t)
	repo := "/home/user/repo"

	ix.Put(repo, IndexEntry{Branch: "feature-x", PaneID: "pane-1", Tool: "gemini"})

	if err := ix.SetSessionID(repo, "feature-x", "123e4567-e89b-42d3-a456-426614174000"); err != nil {
		t.Fatalf("set session id failed: %v", err)
	}
	if got := ix.Load(repo)["feature-x"].SessionID; got != "123e4567-e89b-42d3-a456-426614174000" {
		t.Errorf("session id not persisted, got %q", got)
	}

	// Unknown branch is ignored, not an error
	if err := ix.SetSessionID(repo, "nope", "id"); err != nil {
		t.Errorf("unknown branch should be a no-op, got: %v", err)
	}
}

func TestIndexConcurrentPutsLoseNothing(t *testing.T) {
	ix := newTestIndex(t)
	repo := "/home/user/busy-repo"
	const writers = 16

	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- ix.Put(repo, IndexEntry{
				Branch: fmt.Sprintf("branch-%02d", n),
				PaneID: fmt.Sprintf("pane-%02d", n),
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent put failed: %v", err)
		}
	}
	entries := ix.Load(repo)
	if len(entries) != writers {
		t.Fatalf("expected %d entries, got %d", writers, len(entries))
	}
	for i := 0; i < writers; i++ {
		branch := fmt.Sprintf("branch-%02d", i)
		if entries[branch].PaneID != fmt.Sprintf("pane-%02d", i) {
			t.Errorf("entry for %s lost or clobbered: %+v", branch, entries[branch])
		}
	}
}

func TestIndexRemove(t *testing.T) {
	ix := newTestIndex(t)
	repo := "/r"

	ix.Put(repo, IndexEntry{Branch: "a", PaneID: "pane-1"})
	ix.Put(repo, IndexEntry{Branch: "b", PaneID: "pane-2"})

	if err := ix.Remove(repo, "a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	entries := ix.Load(repo)
	if _, ok := entries["a"]; ok {
		t.Error("entry a should be gone")
	}
	if _, ok := entries["b"]; !ok {
		t.Error("entry b should remain")
	}
	if err := ix.Remove(repo, "a"); err != nil {
		t.Errorf("removing a missing branch should be a no-op, got: %v", err)
	}
}
