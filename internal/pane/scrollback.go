package pane

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store manages append-only per-pane output logs. Logs are retained after a
// pane closes so output can still be inspected.
type Store struct {
	dir string
}

// NewStore creates the scrollback directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("scrollback: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the log file path for a pane id.
func (s *Store) Path(paneID string) string {
	return filepath.Join(s.dir, paneID+".log")
}

// Open opens (or creates) the append-only log for a pane.
func (s *Store) Open(paneID string) (*ScrollbackLog, error) {
	f, err := os.OpenFile(s.Path(paneID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("scrollback: open %s: %w", paneID, err)
	}
	return &ScrollbackLog{f: f}, nil
}

// Tail returns up to the last maxBytes bytes of a pane's log.
func (s *Store) Tail(paneID string, maxBytes int64) ([]byte, error) {
	return TailFile(s.Path(paneID), maxBytes)
}

// Remove deletes a pane's log file. Missing files are not an error.
func (s *Store) Remove(paneID string) error {
	err := os.Remove(s.Path(paneID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scrollback: remove %s: %w", paneID, err)
	}
	return nil
}

// ScrollbackLog is a single pane's append-only output log.
type ScrollbackLog struct {
	mu sync.Mutex
	f  *os.File
}

// Write appends a chunk of raw PTY output.
func (l *ScrollbackLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Write(p)
}

// WriteString appends a string, typically a manager-generated marker line.
func (l *ScrollbackLog) WriteString(s string) (int, error) {
	return l.Write([]byte(s))
}

// Close closes the underlying file.
func (l *ScrollbackLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// TailFile reads up to the last maxBytes bytes of a file.
func TailFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := info.Size()
	if maxBytes <= 0 || maxBytes > size {
		maxBytes = size
	}
	if _, err := f.Seek(size-maxBytes, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// StripANSI removes terminal escape sequences and control characters from
// output, keeping newlines, carriage returns, and tabs. Used for plain-text
// scrollback reads.
func StripANSI(data []byte) string {
	var out strings.Builder
	out.Grow(len(data))

	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != 0x1b {
			if b >= 0x20 || b == '\n' || b == '\r' || b == '\t' {
				out.WriteByte(b)
			}
			continue
		}
		if i+1 >= len(data) {
			break
		}
		switch data[i+1] {
		case '[':
			// CSI: parameters end at a final byte in 0x40..0x7e
			j := i + 2
			for j < len(data) && (data[j] < 0x40 || data[j] > 0x7e) {
				j++
			}
			i = j
		case ']':
			// OSC: runs to BEL or ST
			j := i + 2
			for j < len(data) {
				if data[j] == 0x07 {
					break
				}
				if data[j] == 0x1b && j+1 < len(data) && data[j+1] == '\\' {
					j++
					break
				}
				j++
			}
			i = j
		case '(', ')', '#', '%':
			// Charset and single-shift designators take one more byte
			i += 2
		default:
			i++
		}
	}
	return out.String()
}
