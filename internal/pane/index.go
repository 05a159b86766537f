package pane

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// IndexEntry maps a branch to the agent pane serving it.
type IndexEntry struct {
	Branch       string `json:"branch"`
	PaneID       string `json:"paneId"`
	Tool         string `json:"toolId"`
	WorktreePath string `json:"worktreePath"`
	SessionID    string `json:"sessionId,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// Index stores one branch-to-pane mapping file per repository root.
// Files are small JSON objects keyed by branch name. Every mutation is a
// read-modify-write of the whole file under one mutex, so concurrent
// launches and the session-capture goroutine cannot drop each other's
// entries.
type Index struct {
	mu  sync.Mutex
	dir string
}

// NewIndex creates the index directory if needed.
func NewIndex(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("index: create dir: %w", err)
	}
	return &Index{dir: dir}, nil
}

// FileFor returns the index file path for a repository root. The name
// combines the repo's directory name with a filesystem-safe base64 encoding
// of the full path, so distinct checkouts with the same name do not collide.
func (ix *Index) FileFor(repoRoot string) string {
	name := filepath.Base(repoRoot)
	encoded := base64.StdEncoding.EncodeToString([]byte(repoRoot))
	encoded = strings.NewReplacer("/", "_", "+", "_", "=", "_").Replace(encoded)
	return filepath.Join(ix.dir, fmt.Sprintf("%s_%s.json", name, encoded))
}

// Load reads the branch map for a repository root. A missing or corrupt
// file loads as an empty map.
func (ix *Index) Load(repoRoot string) map[string]IndexEntry {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.load(repoRoot)
}

func (ix *Index) load(repoRoot string) map[string]IndexEntry {
	entries := make(map[string]IndexEntry)
	data, err := os.ReadFile(ix.FileFor(repoRoot))
	if err != nil {
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return make(map[string]IndexEntry)
	}
	return entries
}

// Put records a branch mapping and persists the file atomically.
func (ix *Index) Put(repoRoot string, entry IndexEntry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entries := ix.load(repoRoot)
	entries[entry.Branch] = entry
	return ix.save(repoRoot, entries)
}

// SetSessionID attaches a discovered session id to an existing branch entry.
// Unknown branches are ignored.
func (ix *Index) SetSessionID(repoRoot, branch, sessionID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entries := ix.load(repoRoot)
	entry, ok := entries[branch]
	if !ok {
		return nil
	}
	entry.SessionID = sessionID
	entries[branch] = entry
	return ix.save(repoRoot, entries)
}

// Remove deletes a branch mapping. Unknown branches are a no-op.
func (ix *Index) Remove(repoRoot, branch string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entries := ix.load(repoRoot)
	if _, ok := entries[branch]; !ok {
		return nil
	}
	delete(entries, branch)
	return ix.save(repoRoot, entries)
}

func (ix *Index) save(repoRoot string, entries map[string]IndexEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("index: encode: %w", err)
	}

	path := ix.FileFor(repoRoot)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("index: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("index: finalize: %w", err)
	}
	return nil
}
