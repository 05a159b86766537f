package resolve

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// codexCwdScanLines bounds how many leading lines are checked for the
// session's recorded working directory.
const codexCwdScanLines = 10

// CodexAdapter reads Codex CLI sessions from ~/.codex/sessions, which nests
// rollout files in date directories. The working directory and session id
// live in each line's payload object.
type CodexAdapter struct {
	SessionsDir string
}

func NewCodexAdapter(home string) *CodexAdapter {
	return &CodexAdapter{SessionsDir: filepath.Join(home, ".codex", "sessions")}
}

func (a *CodexAdapter) Tool() string { return "codex" }

func (a *CodexAdapter) Candidates(opts Options) ([]Candidate, error) {
	roots := searchRoots(opts)

	var cands []Candidate
	err := filepath.WalkDir(a.SessionsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".jsonl" && ext != ".json" {
			return nil
		}
		if len(roots) > 0 && !codexSessionInDirs(path, roots) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		cands = append(cands, Candidate{Path: path, ModTime: info.ModTime()})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return cands, nil
}

// codexSessionInDirs checks the leading lines for a payload cwd related to
// any of the search roots.
func codexSessionInDirs(path string, roots []string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lines := 0; scanner.Scan() && lines < codexCwdScanLines; lines++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry struct {
			Cwd     string `json:"cwd"`
			Payload struct {
				Cwd string `json:"cwd"`
			} `json:"payload"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		for _, cwd := range []string{entry.Payload.Cwd, entry.Cwd} {
			if cwd == "" {
				continue
			}
			for _, root := range roots {
				if pathsRelated(cwd, root) {
					return true
				}
			}
		}
	}
	return false
}

func (a *CodexAdapter) SessionID(path string) string {
	return ExtractSessionID(path)
}
