package logging

import (
	"os"
	"sync"
)

// RingBuffer retains the most recent writes in a fixed-size window. Every log
// line is mirrored into it so a crash dump can show recent activity even at
// log levels that never reach disk. Implements io.Writer; old data is
// overwritten silently once the window fills.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	size    int
	written int64 // total bytes retained since creation
}

// NewRingBuffer creates a ring buffer holding the last size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, size), size: size}
}

// Write implements io.Writer and never fails. A write larger than the whole
// window keeps only its tail.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	data := p
	if len(data) > rb.size {
		data = data[len(data)-rb.size:]
	}
	off := int(rb.written % int64(rb.size))
	n := copy(rb.buf[off:], data)
	copy(rb.buf, data[n:])
	rb.written += int64(len(data))
	return len(p), nil
}

// Bytes returns a copy of the retained window in write order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.written < int64(rb.size) {
		return append([]byte(nil), rb.buf[:rb.written]...)
	}
	start := int(rb.written % int64(rb.size))
	out := make([]byte, 0, rb.size)
	out = append(out, rb.buf[start:]...)
	return append(out, rb.buf[:start]...)
}

// DumpToFile writes the retained window to path in write order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
