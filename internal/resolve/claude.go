package resolve

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// claudeDirRE matches characters Claude Code replaces when encoding a
// project path into a directory name.
var claudeDirRE = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// ClaudeAdapter reads Claude Code sessions from
// <config>/projects/<encoded-path>/<uuid>.jsonl.
type ClaudeAdapter struct {
	ConfigDir string
}

// NewClaudeAdapter honors CLAUDE_CONFIG_DIR, falling back to ~/.claude.
func NewClaudeAdapter(home string) *ClaudeAdapter {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return &ClaudeAdapter{ConfigDir: dir}
	}
	return &ClaudeAdapter{ConfigDir: filepath.Join(home, ".claude")}
}

func (a *ClaudeAdapter) Tool() string { return "claude" }

// ClaudeProjectDirName converts a filesystem path to Claude's project
// directory encoding: every non-alphanumeric, non-hyphen character becomes
// a hyphen.
func ClaudeProjectDirName(path string) string {
	return claudeDirRE.ReplaceAllString(path, "-")
}

func (a *ClaudeAdapter) Candidates(opts Options) ([]Candidate, error) {
	projectsDir := filepath.Join(a.ConfigDir, "projects")
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		// No sessions recorded yet is a miss, not an error
		return nil, nil
	}

	encoded := make([]string, 0)
	for _, root := range searchRoots(opts) {
		encoded = append(encoded, ClaudeProjectDirName(filepath.Clean(root)))
	}

	var cands []Candidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if len(encoded) > 0 && !claudeDirMatches(entry.Name(), encoded) {
			continue
		}
		cands = append(cands, claudeSessionsIn(filepath.Join(projectsDir, entry.Name()))...)
	}
	return cands, nil
}

// claudeDirMatches applies the cwd relation on encoded names. The encoding
// maps '/' to '-', so sub-path containment becomes hyphen-boundary prefix
// containment in either direction.
func claudeDirMatches(dirName string, encoded []string) bool {
	for _, enc := range encoded {
		if dirName == enc ||
			strings.HasPrefix(dirName, enc+"-") ||
			strings.HasPrefix(enc, dirName+"-") {
			return true
		}
	}
	return false
}

func claudeSessionsIn(dir string) []Candidate {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var cands []Candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		// Subagent transcripts are not resumable sessions
		if strings.HasPrefix(name, "agent-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		cands = append(cands, Candidate{
			Path:    filepath.Join(dir, name),
			ModTime: info.ModTime(),
		})
	}
	return cands
}

func (a *ClaudeAdapter) SessionID(path string) string {
	if strings.HasPrefix(filepath.Base(path), "agent-") {
		return ""
	}
	return ExtractSessionID(path)
}
