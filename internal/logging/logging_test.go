package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRingBufferChronologicalOrder(t *testing.T) {
	rb := NewRingBuffer(8)

	if _, err := rb.Write([]byte("abc")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := string(rb.Bytes()); got != "abc" {
		t.Errorf("expected %q, got %q", "abc", got)
	}

	// Wrap around: total 10 bytes into an 8 byte buffer
	if _, err := rb.Write([]byte("defghij")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := string(rb.Bytes()); got != "cdefghij" {
		t.Errorf("expected last 8 bytes %q, got %q", "cdefghij", got)
	}
}

func TestRingBufferOversizedWrite(t *testing.T) {
	rb := NewRingBuffer(4)
	if _, err := rb.Write([]byte("0123456789")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := string(rb.Bytes()); got != "6789" {
		t.Errorf("expected tail %q, got %q", "6789", got)
	}
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(64)
	rb.Write([]byte("crash context\n"))

	path := filepath.Join(t.TempDir(), "dump.log")
	if err := rb.DumpToFile(path); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if string(data) != "crash context\n" {
		t.Errorf("unexpected dump contents: %q", data)
	}
}

func TestAggregatorCountsEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	agg := NewAggregator(logger, 300)

	for i := 0; i < 5; i++ {
		agg.Record(CompPane, "output_chunk", slog.String("pane", "pane-abc"))
	}
	agg.Record(CompPane, "event_dropped")

	agg.Start()
	agg.Stop()

	out := buf.String()
	if !strings.Contains(out, "output_chunk") || !strings.Contains(out, "count=5") {
		t.Errorf("expected aggregated output_chunk count=5, got: %s", out)
	}
	if !strings.Contains(out, "event_dropped") {
		t.Errorf("expected event_dropped summary, got: %s", out)
	}
}

func TestForComponentPicksUpInitAfterCreation(t *testing.T) {
	// Component logger created before Init must use the post-Init handler.
	log := ForComponent(CompPty)

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug", Debug: true})
	t.Cleanup(Shutdown)

	log.Info("pty_started", slog.String("pane", "pane-1"))

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "pty_started") {
		t.Errorf("expected pty_started in log, got: %s", data)
	}
	if !strings.Contains(string(data), `"component":"pty"`) {
		t.Errorf("expected component attribute in log, got: %s", data)
	}
}

func TestInitDiscardWithoutDebugOrDir(t *testing.T) {
	Init(Config{})
	t.Cleanup(Shutdown)

	// Must not panic and must return a usable logger
	Logger().Info("ignored")
	ForComponent(CompCLI).Warn("ignored too")
}
