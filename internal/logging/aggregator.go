package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// An Aggregator turns event floods into periodic one-line summaries. Hot
// paths (per-chunk pane output, dropped event sends) call Record instead of
// logging each occurrence; a background goroutine emits one event_summary
// line per component/event pair at the end of each flush window.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	counts map[summaryKey]*summaryState

	done chan struct{}
	wg   sync.WaitGroup
}

type summaryKey struct {
	component string
	event     string
}

// summaryState carries the running count plus the attrs from the latest
// Record call, which stand in for the whole window on the summary line.
type summaryState struct {
	count int64
	attrs []slog.Attr
}

// NewAggregator creates an aggregator flushing every intervalSecs seconds.
// A nil logger drops recorded events.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		counts:   make(map[summaryKey]*summaryState),
		done:     make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		tick := time.NewTicker(a.interval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				a.flush()
			case <-a.done:
				return
			}
		}
	}()
}

// Stop halts the background goroutine and flushes whatever is pending.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.flush()
}

// Record counts one occurrence of an event. Attrs from the most recent call
// replace any earlier ones for the same key.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	key := summaryKey{component: component, event: event}

	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.counts[key]
	if st == nil {
		st = &summaryState{}
		a.counts[key] = st
	}
	st.count++
	if len(fields) > 0 {
		st.attrs = fields
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	pending := a.counts
	a.counts = make(map[summaryKey]*summaryState)
	a.mu.Unlock()

	if a.logger == nil || len(pending) == 0 {
		return
	}

	window := int(a.interval.Seconds())
	for key, st := range pending {
		attrs := make([]slog.Attr, 0, 4+len(st.attrs))
		attrs = append(attrs,
			slog.String("component", key.component),
			slog.String("event", key.event),
			slog.Int64("count", st.count),
			slog.Int("window_seconds", window),
		)
		attrs = append(attrs, st.attrs...)
		a.logger.LogAttrs(context.Background(), slog.LevelInfo, "event_summary", attrs...)
	}
}
