package host

import (
	"context"
	"log/slog"

	"github.com/roach88/lobj/internal/chunk"
	"github.com/roach88/lobj/internal/guard"
	"github.com/roach88/lobj/internal/kv"
	"github.com/roach88/lobj/internal/telemetry"
)

// DefaultMaxObjects bounds how many objects may be in flight at once.
const DefaultMaxObjects = 64

// Registry is the durable key-value layer state is persisted into across
// restarts. Get must wrap kv.ErrNotFound for absent keys.
// Implemented by *kv.Store.
type Registry interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Apply(ctx context.Context, b *kv.Batch) error
}

// Host owns the chunk engines of every in-flight object.
//
// Thread-safety model:
//   - caller API methods: safe from any goroutine, serialized through Run
//   - Run(): must be called from exactly one goroutine
//   - Stop(): safe from any goroutine
type Host struct {
	registry   Registry
	authorizer guard.Authorizer
	sink       telemetry.Sink
	ids        IDGenerator
	clock      *Clock
	queue      *requestQueue
	maxObjects int

	// objects is touched only by the Run goroutine.
	objects map[string]*chunk.Engine
}

// Option configures a Host.
type Option func(*Host)

// WithAuthorizer sets the predicate consulted before each call.
// Default: guard.AllowAll.
func WithAuthorizer(a guard.Authorizer) Option {
	return func(h *Host) {
		h.authorizer = a
	}
}

// WithSink sets where logs and counters go. Default: telemetry.Discard.
func WithSink(s telemetry.Sink) Option {
	return func(h *Host) {
		h.sink = s
	}
}

// WithIDGenerator sets how new objects are named. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(h *Host) {
		h.ids = g
	}
}

// WithMaxObjects bounds how many objects may be in flight.
// Default: DefaultMaxObjects.
func WithMaxObjects(n int) Option {
	return func(h *Host) {
		h.maxObjects = n
	}
}

// WithClock resumes the logical clock from an existing position.
func WithClock(c *Clock) Option {
	return func(h *Host) {
		h.clock = c
	}
}

// New creates a Host persisting into registry.
func New(registry Registry, opts ...Option) *Host {
	h := &Host{
		registry:   registry,
		authorizer: guard.AllowAll,
		sink:       telemetry.Discard,
		ids:        UUIDv7Generator{},
		clock:      NewClock(),
		queue:      newRequestQueue(),
		maxObjects: DefaultMaxObjects,
		objects:    make(map[string]*chunk.Engine),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Run starts the single-writer loop.
// Blocks until ctx is cancelled or Stop is called.
//
// Requests still queued when Run returns fail with a STOPPED CallError.
func (h *Host) Run(ctx context.Context) error {
	h.sink.Log(slog.LevelDebug, "host starting")
	defer h.abortPending()

	for {
		if r, ok := h.queue.TryDequeue(); ok {
			r.run(h.clock.Next())
			continue
		}

		select {
		case <-ctx.Done():
			h.sink.Log(slog.LevelDebug, "host stopping: context cancelled")
			h.queue.Close()
			return ctx.Err()

		case <-h.queue.Wait():
			// The signal channel is closed once the queue is closed
			if h.queue.Len() == 0 && h.closed() {
				h.sink.Log(slog.LevelDebug, "host stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop shuts the host down. Run returns once the queue is empty.
func (h *Host) Stop() {
	h.queue.Close()
}

// Clock returns the host's logical clock.
func (h *Host) Clock() *Clock {
	return h.clock
}

func (h *Host) closed() bool {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	return h.queue.closed
}

func (h *Host) abortPending() {
	for _, r := range h.queue.Drain() {
		r.abort(&CallError{Code: ErrCodeStopped, Op: r.op})
	}
}

// submit runs fn on the Run goroutine after the authorizer admits caller,
// and waits for its result.
func submit[T any](ctx context.Context, h *Host, op, caller string, fn func(seq int64) (T, error)) (T, error) {
	return enqueue(ctx, h, op, func(seq int64) error {
		return h.authorize(op, caller, seq)
	}, fn)
}

// submitSystem runs fn on the Run goroutine without consulting the
// authorizer. Used by the restart boundary hooks.
func submitSystem[T any](ctx context.Context, h *Host, op string, fn func(seq int64) (T, error)) (T, error) {
	return enqueue(ctx, h, op, nil, fn)
}

func enqueue[T any](ctx context.Context, h *Host, op string, admit func(seq int64) error, fn func(seq int64) (T, error)) (T, error) {
	var zero T

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	started := make(chan struct{})

	r := request{
		op: op,
		run: func(seq int64) {
			close(started)
			if err := ctx.Err(); err != nil {
				done <- result{err: err}
				return
			}
			if admit != nil {
				if err := admit(seq); err != nil {
					done <- result{err: err}
					return
				}
			}
			v, err := fn(seq)
			done <- result{value: v, err: err}
		},
		abort: func(err error) {
			done <- result{err: err}
		},
	}

	if !h.queue.Enqueue(r) {
		return zero, &CallError{Code: ErrCodeStopped, Op: op}
	}

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
	}

	// Once the loop has picked the call up, its outcome is reported even
	// though ctx has ended.
	select {
	case <-started:
		res := <-done
		return res.value, res.err
	default:
		return zero, ctx.Err()
	}
}

func (h *Host) authorize(op, caller string, seq int64) error {
	if err := h.authorizer.Authorize(caller); err != nil {
		h.sink.Count("unauthorized", 1)
		h.sink.Log(slog.LevelWarn, "call rejected", "seq", seq, "op", op, "caller", caller)
		return &CallError{Code: ErrCodeUnauthorized, Op: op, Err: err}
	}
	return nil
}
