package host

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/lobj/internal/chunk"
	"github.com/roach88/lobj/internal/guard"
	"github.com/roach88/lobj/internal/kv"
	"github.com/roach88/lobj/internal/remote"
	"github.com/roach88/lobj/internal/telemetry"
)

const caller = "alice"

func setupRegistry(t *testing.T) *kv.Store {
	t.Helper()
	s, err := kv.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// startHost runs h in the background until the test ends.
func startHost(t *testing.T, reg Registry, opts ...Option) *Host {
	t.Helper()
	h := New(reg, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()
	t.Cleanup(func() {
		h.Stop()
		cancel()
		<-errc
	})
	return h
}

func TestHost_HelloParallel(t *testing.T) {
	ctx := context.Background()
	h := startHost(t, setupRegistry(t), WithIDGenerator(NewFixedGenerator("obj-1")))

	id, err := h.Begin(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, "obj-1", id)

	require.NoError(t, h.AppendParallelChunk(ctx, caller, id, 2, []byte("lo")))
	require.NoError(t, h.AppendParallelChunk(ctx, caller, id, 0, []byte("He")))

	missing, err := h.Missing(ctx, caller, id, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, missing)

	complete, err := h.IsComplete(ctx, caller, id, 3)
	require.NoError(t, err)
	assert.False(t, complete)

	_, err = h.Consolidate(ctx, caller, id, 3)
	require.Error(t, err)
	assert.True(t, chunk.IsIncompleteUpload(err))
	assert.Equal(t, "INCOMPLETE_UPLOAD", ErrorCode(err))

	require.NoError(t, h.AppendParallelChunk(ctx, caller, id, 1, []byte("l")))

	result, err := h.Consolidate(ctx, caller, id, 3)
	require.NoError(t, err)
	assert.Equal(t, ConsolidateResult{Bytes: 5, Dropped: []uint32{}}, result)

	status, err := h.Status(ctx, caller, id)
	require.NoError(t, err)
	assert.Equal(t, 5, status.BufferedBytes)
	assert.Equal(t, 0, status.PendingChunks)

	data, err := h.Finalize(ctx, caller, id)
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(data))
}

func TestHost_Sequential(t *testing.T) {
	ctx := context.Background()
	capture := telemetry.NewCapture()
	h := startHost(t, setupRegistry(t), WithSink(capture))

	id, err := h.Begin(ctx, caller)
	require.NoError(t, err)
	assert.Len(t, id, 36, "UUIDv7 by default")

	require.NoError(t, h.AppendChunk(ctx, caller, id, []byte{1, 2, 3}))
	require.NoError(t, h.AppendChunk(ctx, caller, id, []byte{4, 5, 6}))

	data, err := h.Finalize(ctx, caller, id)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, data)

	again, err := h.Finalize(ctx, caller, id)
	require.NoError(t, err)
	assert.Empty(t, again)

	assert.Equal(t, 2, capture.Counted(OpAppendChunk))
	assert.Equal(t, 6, capture.BytesFor("sequential"))
	assert.Equal(t, 2, capture.Counted(OpFinalize))
}

func TestHost_ConsolidateReportsDroppedOrdinals(t *testing.T) {
	ctx := context.Background()
	capture := telemetry.NewCapture()
	h := startHost(t, setupRegistry(t), WithSink(capture))

	id, err := h.Begin(ctx, caller)
	require.NoError(t, err)
	require.NoError(t, h.AppendParallelChunk(ctx, caller, id, 0, []byte("a")))
	require.NoError(t, h.AppendParallelChunk(ctx, caller, id, 9, []byte("stray")))

	result, err := h.Consolidate(ctx, caller, id, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{9}, result.Dropped)
	assert.Equal(t, 1, capture.Counted("dropped_chunks"))
	assert.Contains(t, capture.Messages(slog.LevelWarn), "stray chunks dropped")
}

func TestHost_Unauthorized(t *testing.T) {
	ctx := context.Background()
	allow, err := guard.NewAllowlist(caller)
	require.NoError(t, err)
	capture := telemetry.NewCapture()
	h := startHost(t, setupRegistry(t), WithAuthorizer(allow), WithSink(capture))

	id, err := h.Begin(ctx, caller)
	require.NoError(t, err)

	err = h.AppendChunk(ctx, "mallory", id, []byte("x"))
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.ErrorIs(t, err, guard.ErrUnauthorized)

	_, err = h.Begin(ctx, "mallory")
	assert.True(t, IsUnauthorized(err))

	status, err := h.Status(ctx, caller, id)
	require.NoError(t, err)
	assert.Equal(t, 0, status.BufferedBytes, "rejected call must not touch state")
	assert.Equal(t, 2, capture.Counted("unauthorized"))
}

func TestHost_InvalidObject(t *testing.T) {
	ctx := context.Background()
	h := startHost(t, setupRegistry(t))

	err := h.AppendChunk(ctx, caller, "nope", []byte("x"))
	require.Error(t, err)
	assert.True(t, IsInvalidObject(err))
	assert.Equal(t, "INVALID_OBJECT", ErrorCode(err))
	assert.Contains(t, err.Error(), "object=nope")
}

func TestHost_TooManyObjects(t *testing.T) {
	ctx := context.Background()
	h := startHost(t, setupRegistry(t), WithMaxObjects(2), WithIDGenerator(NewSequenceGenerator("obj")))

	_, err := h.Begin(ctx, caller)
	require.NoError(t, err)
	second, err := h.Begin(ctx, caller)
	require.NoError(t, err)

	_, err = h.Begin(ctx, caller)
	assert.True(t, IsTooManyObjects(err))

	require.NoError(t, h.Discard(ctx, caller, second))
	third, err := h.Begin(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, "obj-3", third)
}

func TestHost_DuplicateGeneratedID(t *testing.T) {
	ctx := context.Background()
	h := startHost(t, setupRegistry(t), WithIDGenerator(NewFixedGenerator("same", "same", "bad/id")))

	_, err := h.Begin(ctx, caller)
	require.NoError(t, err)

	_, err = h.Begin(ctx, caller)
	assert.True(t, IsInvalidObject(err))

	_, err = h.Begin(ctx, caller)
	assert.True(t, IsInvalidObject(err))
}

func TestHost_ResetRemoveDiscard(t *testing.T) {
	ctx := context.Background()
	h := startHost(t, setupRegistry(t), WithIDGenerator(NewFixedGenerator("b", "a")))

	b, err := h.Begin(ctx, caller)
	require.NoError(t, err)
	a, err := h.Begin(ctx, caller)
	require.NoError(t, err)

	require.NoError(t, h.AppendParallelChunk(ctx, caller, a, 0, []byte("x")))
	require.NoError(t, h.AppendParallelChunk(ctx, caller, a, 1, []byte("y")))

	removed, err := h.RemoveChunk(ctx, caller, a, 1)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = h.RemoveChunk(ctx, caller, a, 1)
	require.NoError(t, err)
	assert.False(t, removed)

	objects, err := h.Objects(ctx, caller)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "a", objects[0].ID)
	assert.Equal(t, "b", objects[1].ID)
	assert.Equal(t, 1, objects[0].Status.PendingChunks)

	require.NoError(t, h.Reset(ctx, caller, a))
	status, err := h.Status(ctx, caller, a)
	require.NoError(t, err)
	assert.Equal(t, chunk.ModeIdle, status.Mode)
	assert.Equal(t, 0, status.PendingChunks)

	require.NoError(t, h.Discard(ctx, caller, b))
	_, err = h.Status(ctx, caller, b)
	assert.True(t, IsInvalidObject(err))
}

func TestHost_ConcurrentParallelUpload(t *testing.T) {
	ctx := context.Background()
	h := startHost(t, setupRegistry(t))

	id, err := h.Begin(ctx, caller)
	require.NoError(t, err)

	const chunks = 64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := chunks - 1; i >= 0; i-- {
		ordinal := uint32(i)
		g.Go(func() error {
			return h.AppendParallelChunk(gctx, caller, id, ordinal, []byte{byte(ordinal)})
		})
	}
	require.NoError(t, g.Wait())

	result, err := h.Consolidate(ctx, caller, id, chunks)
	require.NoError(t, err)
	assert.Equal(t, chunks, result.Bytes)

	data, err := h.Finalize(ctx, caller, id)
	require.NoError(t, err)
	for i, b := range data {
		assert.Equal(t, byte(i), b)
	}
}

func TestHost_ClockAdvancesPerCall(t *testing.T) {
	ctx := context.Background()
	h := startHost(t, setupRegistry(t), WithClock(NewClockAt(100)))

	id, err := h.Begin(ctx, caller)
	require.NoError(t, err)
	_, err = h.Status(ctx, caller, id)
	require.NoError(t, err)

	assert.Equal(t, int64(102), h.Clock().Current())
}

func TestHost_Stopped(t *testing.T) {
	ctx := context.Background()
	h := New(setupRegistry(t))

	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()

	_, err := h.Begin(ctx, caller)
	require.NoError(t, err)

	h.Stop()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	_, err = h.Begin(ctx, caller)
	assert.True(t, IsStopped(err))
	assert.Equal(t, "STOPPED", ErrorCode(err))
}

func TestHost_RunReturnsOnCancel(t *testing.T) {
	h := New(setupRegistry(t))
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err := h.Begin(context.Background(), caller)
	assert.True(t, IsStopped(err))
}

func TestHost_CallerContextCanceled(t *testing.T) {
	h := startHost(t, setupRegistry(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Begin(ctx, caller)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHost_SlowCallOutlivesCallerDeadline(t *testing.T) {
	var slow atomic.Bool
	authz := guard.AuthorizerFunc(func(string) error {
		if slow.Load() {
			time.Sleep(100 * time.Millisecond)
		}
		return nil
	})
	h := startHost(t, setupRegistry(t), WithAuthorizer(authz), WithIDGenerator(NewFixedGenerator("obj-1")))

	ctx := context.Background()
	id, err := h.Begin(ctx, caller)
	require.NoError(t, err)

	policy := remote.Policy{
		Attempts:        3,
		Timeout:         20 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Retryable:       func(err error) bool { return ErrorCode(err) == "" },
	}

	slow.Store(true)
	err = remote.Do(ctx, policy, OpAppendChunk, func(ctx context.Context) error {
		return h.AppendChunk(ctx, caller, id, []byte("abc"))
	})
	require.NoError(t, err)
	slow.Store(false)

	data, err := h.Finalize(ctx, caller, id)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data), "a timed-out attempt that ran must not be replayed")
}

func TestErrorCode_Plain(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, "", ErrorCode(assert.AnError))
	assert.Equal(t, "DESERIALIZATION", ErrorCode(&chunk.DeserializationError{Reason: "x"}))
}
