package host

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/lobj/internal/chunk"
)

// Operation names used in errors, logs and counters.
const (
	OpBegin               = "begin"
	OpAppendChunk         = "append_chunk"
	OpFinalize            = "finalize"
	OpAppendParallelChunk = "append_parallel_chunk"
	OpIsComplete          = "is_complete"
	OpMissing             = "missing"
	OpConsolidate         = "consolidate"
	OpStatus              = "status"
	OpRemoveChunk         = "remove_chunk"
	OpReset               = "reset"
	OpDiscard             = "discard"
	OpObjects             = "objects"
)

// ObjectInfo describes one in-flight object.
type ObjectInfo struct {
	ID     string       `json:"id"`
	Status chunk.Status `json:"status"`
}

// ConsolidateResult reports a successful consolidation.
type ConsolidateResult struct {
	// Bytes is the size of the consolidated buffer.
	Bytes int `json:"bytes"`

	// Dropped lists stray ordinals at or beyond the expected count that
	// were discarded with the chunk store.
	Dropped []uint32 `json:"dropped"`
}

// Begin allocates a new object and returns its ID.
func (h *Host) Begin(ctx context.Context, caller string) (string, error) {
	return submit(ctx, h, OpBegin, caller, func(seq int64) (string, error) {
		if len(h.objects) >= h.maxObjects {
			return "", &CallError{
				Code: ErrCodeTooManyObjects,
				Op:   OpBegin,
				Err:  fmt.Errorf("%d objects in flight", len(h.objects)),
			}
		}

		id := h.ids.Generate()
		if err := validateID(id); err != nil {
			return "", &CallError{Code: ErrCodeInvalidObject, Op: OpBegin, Object: id, Err: err}
		}
		if _, exists := h.objects[id]; exists {
			return "", &CallError{
				Code:   ErrCodeInvalidObject,
				Op:     OpBegin,
				Object: id,
				Err:    fmt.Errorf("object already exists"),
			}
		}

		h.objects[id] = chunk.New()
		h.sink.Count(OpBegin, 1)
		h.sink.Log(slog.LevelInfo, "object started", "seq", seq, "object", id, "caller", caller)
		return id, nil
	})
}

// AppendChunk appends data to the object's sequential buffer.
func (h *Host) AppendChunk(ctx context.Context, caller, id string, data []byte) error {
	_, err := withObject(ctx, h, OpAppendChunk, caller, id, func(seq int64, e *chunk.Engine) (struct{}, error) {
		e.Append(data)
		h.sink.Count(OpAppendChunk, 1)
		h.sink.Bytes(chunk.ModeSequential.String(), len(data))
		h.sink.Log(slog.LevelDebug, "chunk appended", "seq", seq, "object", id, "bytes", len(data), "buffered", e.BufferLen())
		return struct{}{}, nil
	})
	return err
}

// Finalize returns the buffered bytes and clears the buffer.
// A second Finalize without new data returns an empty slice.
func (h *Host) Finalize(ctx context.Context, caller, id string) ([]byte, error) {
	return withObject(ctx, h, OpFinalize, caller, id, func(seq int64, e *chunk.Engine) ([]byte, error) {
		data := e.ReadAndClear()
		h.sink.Count(OpFinalize, 1)
		h.sink.Log(slog.LevelInfo, "object finalized", "seq", seq, "object", id, "bytes", len(data))
		return data, nil
	})
}

// AppendParallelChunk stores data at ordinal, replacing any previous copy.
func (h *Host) AppendParallelChunk(ctx context.Context, caller, id string, ordinal uint32, data []byte) error {
	_, err := withObject(ctx, h, OpAppendParallelChunk, caller, id, func(seq int64, e *chunk.Engine) (struct{}, error) {
		e.Insert(ordinal, data)
		h.sink.Count(OpAppendParallelChunk, 1)
		h.sink.Bytes(chunk.ModeParallel.String(), len(data))
		h.sink.Log(slog.LevelDebug, "parallel chunk stored", "seq", seq, "object", id, "ordinal", ordinal, "bytes", len(data))
		return struct{}{}, nil
	})
	return err
}

// IsComplete reports whether ordinals [0, expected) are all present.
func (h *Host) IsComplete(ctx context.Context, caller, id string, expected uint32) (bool, error) {
	return withObject(ctx, h, OpIsComplete, caller, id, func(_ int64, e *chunk.Engine) (bool, error) {
		return e.IsComplete(expected), nil
	})
}

// Missing lists the absent ordinals in [0, expected), ascending.
func (h *Host) Missing(ctx context.Context, caller, id string, expected uint32) ([]uint32, error) {
	return withObject(ctx, h, OpMissing, caller, id, func(_ int64, e *chunk.Engine) ([]uint32, error) {
		return e.Missing(expected), nil
	})
}

// Consolidate assembles ordinals [0, expected) into the object's buffer.
// An incomplete store fails with a *chunk.IncompleteUploadError and leaves
// the object unchanged.
func (h *Host) Consolidate(ctx context.Context, caller, id string, expected uint32) (ConsolidateResult, error) {
	return withObject(ctx, h, OpConsolidate, caller, id, func(seq int64, e *chunk.Engine) (ConsolidateResult, error) {
		dropped := e.Extraneous(expected)

		n, err := e.Consolidate(expected)
		if err != nil {
			h.sink.Count("consolidate_incomplete", 1)
			h.sink.Log(slog.LevelDebug, "consolidation incomplete", "seq", seq, "object", id, "error", err)
			return ConsolidateResult{}, err
		}

		if dropped == nil {
			dropped = []uint32{}
		}
		if len(dropped) > 0 {
			h.sink.Count("dropped_chunks", len(dropped))
			h.sink.Log(slog.LevelWarn, "stray chunks dropped", "seq", seq, "object", id, "ordinals", dropped)
		}
		h.sink.Count(OpConsolidate, 1)
		h.sink.Log(slog.LevelInfo, "object consolidated", "seq", seq, "object", id, "chunks", expected, "bytes", n)
		return ConsolidateResult{Bytes: n, Dropped: dropped}, nil
	})
}

// Status reports the object's live state.
func (h *Host) Status(ctx context.Context, caller, id string) (chunk.Status, error) {
	return withObject(ctx, h, OpStatus, caller, id, func(_ int64, e *chunk.Engine) (chunk.Status, error) {
		return e.Status(), nil
	})
}

// RemoveChunk drops one parallel chunk and reports whether it was present.
func (h *Host) RemoveChunk(ctx context.Context, caller, id string, ordinal uint32) (bool, error) {
	return withObject(ctx, h, OpRemoveChunk, caller, id, func(seq int64, e *chunk.Engine) (bool, error) {
		removed := e.Remove(ordinal)
		h.sink.Log(slog.LevelDebug, "chunk removed", "seq", seq, "object", id, "ordinal", ordinal, "present", removed)
		return removed, nil
	})
}

// Reset discards the object's buffer and pending chunks but keeps the
// object open.
func (h *Host) Reset(ctx context.Context, caller, id string) error {
	_, err := withObject(ctx, h, OpReset, caller, id, func(seq int64, e *chunk.Engine) (struct{}, error) {
		e.Reset()
		h.sink.Count(OpReset, 1)
		h.sink.Log(slog.LevelInfo, "object reset", "seq", seq, "object", id)
		return struct{}{}, nil
	})
	return err
}

// Discard closes the object and drops all of its state.
func (h *Host) Discard(ctx context.Context, caller, id string) error {
	_, err := withObject(ctx, h, OpDiscard, caller, id, func(seq int64, e *chunk.Engine) (struct{}, error) {
		delete(h.objects, id)
		h.sink.Count(OpDiscard, 1)
		h.sink.Log(slog.LevelInfo, "object discarded", "seq", seq, "object", id,
			"buffered", e.BufferLen(), "pending", e.ChunkCount())
		return struct{}{}, nil
	})
	return err
}

// Objects lists every in-flight object ordered by ID.
func (h *Host) Objects(ctx context.Context, caller string) ([]ObjectInfo, error) {
	return submit(ctx, h, OpObjects, caller, func(int64) ([]ObjectInfo, error) {
		ids := h.objectIDs()
		out := make([]ObjectInfo, 0, len(ids))
		for _, id := range ids {
			out = append(out, ObjectInfo{ID: id, Status: h.objects[id].Status()})
		}
		return out, nil
	})
}

// withObject resolves id inside the Run loop before calling fn.
func withObject[T any](ctx context.Context, h *Host, op, caller, id string, fn func(seq int64, e *chunk.Engine) (T, error)) (T, error) {
	return submit(ctx, h, op, caller, func(seq int64) (T, error) {
		var zero T
		e, ok := h.objects[id]
		if !ok {
			return zero, &CallError{Code: ErrCodeInvalidObject, Op: op, Object: id, Err: fmt.Errorf("no such object")}
		}
		return fn(seq, e)
	})
}

func (h *Host) objectIDs() []string {
	ids := make([]string, 0, len(h.objects))
	for id := range h.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// validateID rejects IDs that cannot be used as a registry key suffix.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty object id")
	}
	if strings.ContainsAny(id, "/ \t\r\n") {
		return fmt.Errorf("object id %q contains a separator or whitespace", id)
	}
	return nil
}
