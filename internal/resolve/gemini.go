package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// GeminiAdapter reads Gemini CLI sessions from
// ~/.gemini/tmp/<sha256(project path)>/chats/session-*.json.
type GeminiAdapter struct {
	TmpDir string
}

func NewGeminiAdapter(home string) *GeminiAdapter {
	return &GeminiAdapter{TmpDir: filepath.Join(home, ".gemini", "tmp")}
}

func (a *GeminiAdapter) Tool() string { return "gemini" }

// GeminiProjectHash returns the bucket directory name for a project path:
// the sha256 of the resolved absolute path. Matches the hashing Gemini CLI
// applies before writing chats.
func GeminiProjectHash(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])
}

func (a *GeminiAdapter) Candidates(opts Options) ([]Candidate, error) {
	roots := searchRoots(opts)

	// Bucket names are hashes, so sub-path relations cannot be recovered
	// from the directory layout; each search root is hashed directly.
	var chatDirs []string
	if len(roots) == 0 {
		entries, err := os.ReadDir(a.TmpDir)
		if err != nil {
			return nil, nil
		}
		for _, entry := range entries {
			if entry.IsDir() {
				chatDirs = append(chatDirs, filepath.Join(a.TmpDir, entry.Name(), "chats"))
			}
		}
	} else {
		for _, root := range roots {
			chatDirs = append(chatDirs, filepath.Join(a.TmpDir, GeminiProjectHash(root), "chats"))
		}
	}

	var cands []Candidate
	for _, dir := range chatDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			if !strings.HasPrefix(name, "session-") {
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
	}
	return cands, nil
}

func (a *GeminiAdapter) SessionID(path string) string {
	return ExtractSessionID(path)
}
