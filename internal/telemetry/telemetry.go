// Package telemetry carries the host's fire-and-forget events: log lines and
// counters. Nothing in here can fail or block the caller.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(eventsTotal, bytesTotal)
}

var eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lobj",
	Subsystem: "host",
	Name:      "events_total",
	Help:      "Total host events by kind",
}, []string{"event"})

var bytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lobj",
	Subsystem: "host",
	Name:      "bytes_total",
	Help:      "Total payload bytes accepted by upload mode",
}, []string{"mode"})

// Sink receives host events.
type Sink interface {
	// Log emits a structured log line.
	Log(level slog.Level, msg string, args ...any)

	// Count adds n to the counter for event.
	Count(event string, n int)

	// Bytes adds n to the payload byte counter for an upload mode.
	Bytes(mode string, n int)
}

// Recorder sends logs to a slog.Logger and counts to the process-wide
// prometheus registry.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder returns a Recorder logging through logger, or through
// slog.Default() if logger is nil.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// Log implements Sink.
func (r *Recorder) Log(level slog.Level, msg string, args ...any) {
	r.logger.Log(context.Background(), level, msg, args...)
}

// Count implements Sink.
func (r *Recorder) Count(event string, n int) {
	if n <= 0 {
		return
	}
	eventsTotal.WithLabelValues(event).Add(float64(n))
}

// Bytes implements Sink.
func (r *Recorder) Bytes(mode string, n int) {
	if n <= 0 {
		return
	}
	bytesTotal.WithLabelValues(mode).Add(float64(n))
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(slog.Level, string, ...any) {}
func (discard) Count(string, int)              {}
func (discard) Bytes(string, int)              {}

// Entry is one log line held by a Capture.
type Entry struct {
	Level   slog.Level
	Message string
	Args    []any
}

// Capture keeps events in memory for inspection. Safe for concurrent use.
type Capture struct {
	mu      sync.Mutex
	entries []Entry
	counts  map[string]int
	bytes   map[string]int
}

// NewCapture returns an empty Capture.
func NewCapture() *Capture {
	return &Capture{counts: map[string]int{}, bytes: map[string]int{}}
}

// Log implements Sink.
func (c *Capture) Log(level slog.Level, msg string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Level: level, Message: msg, Args: args})
}

// Count implements Sink.
func (c *Capture) Count(event string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[event] += n
}

// Bytes implements Sink.
func (c *Capture) Bytes(mode string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytes[mode] += n
}

// Entries returns a copy of the captured log lines.
func (c *Capture) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Messages returns the captured log messages at or above level.
func (c *Capture) Messages(level slog.Level) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.entries {
		if e.Level >= level {
			out = append(out, e.Message)
		}
	}
	return out
}

// Counted returns the running total for event.
func (c *Capture) Counted(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[event]
}

// BytesFor returns the running byte total for mode.
func (c *Capture) BytesFor(mode string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes[mode]
}
