package resolve

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// OpenCodeAdapter reads OpenCode sessions from ~/.opencode/sessions, one
// JSON file per session. Files may record their project directory; files
// without one are matched permissively.
type OpenCodeAdapter struct {
	SessionsDir string
}

func NewOpenCodeAdapter(home string) *OpenCodeAdapter {
	return &OpenCodeAdapter{SessionsDir: filepath.Join(home, ".opencode", "sessions")}
}

func (a *OpenCodeAdapter) Tool() string { return "opencode" }

func (a *OpenCodeAdapter) Candidates(opts Options) ([]Candidate, error) {
	entries, err := os.ReadDir(a.SessionsDir)
	if err != nil {
		return nil, nil
	}
	roots := searchRoots(opts)

	var cands []Candidate
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if entry.IsDir() || (ext != ".json" && ext != ".jsonl") {
			continue
		}
		path := filepath.Join(a.SessionsDir, name)
		if len(roots) > 0 && !openCodeSessionInDirs(path, roots) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		cands = append(cands, Candidate{Path: path, ModTime: info.ModTime()})
	}
	return cands, nil
}

// openCodeSessionInDirs checks the session's recorded directory against the
// search roots. A session with no recorded directory matches anything.
func openCodeSessionInDirs(path string, roots []string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var meta struct {
		Directory string `json:"directory"`
		Cwd       string `json:"cwd"`
		Path      string `json:"path"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return true
	}
	dir := meta.Directory
	if dir == "" {
		dir = meta.Cwd
	}
	if dir == "" {
		dir = meta.Path
	}
	if dir == "" {
		return true
	}
	for _, root := range roots {
		if pathsRelated(dir, root) {
			return true
		}
	}
	return false
}

func (a *OpenCodeAdapter) SessionID(path string) string {
	return ExtractSessionID(path)
}
