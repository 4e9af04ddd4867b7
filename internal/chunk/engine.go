package chunk

import (
	"fmt"
	"slices"
)

// Mode records which upload path last produced the engine's payload.
type Mode uint8

const (
	// ModeIdle means both the buffer and the chunk store are empty.
	ModeIdle Mode = iota
	// ModeSequential means the buffer is being grown by Append.
	ModeSequential
	// ModeParallel means chunks are waiting in the chunk store.
	ModeParallel
	// ModeConsolidated means the buffer holds a consolidated parallel upload.
	ModeConsolidated
)

// String returns the lower-case mode name used in logs and CLI output.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSequential:
		return "sequential"
	case ModeParallel:
		return "parallel"
	case ModeConsolidated:
		return "consolidated"
	default:
		return "unknown"
	}
}

func (m Mode) valid() bool {
	return m <= ModeConsolidated
}

// Engine is the state of one large object under assembly.
//
// The zero value is not usable; call New.
type Engine struct {
	buffer []byte
	chunks map[uint32][]byte
	mode   Mode
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{
		chunks: make(map[uint32][]byte),
	}
}

// Mode reports the upload path that last touched the engine.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Insert stores data at ordinal, replacing any chunk already there.
// Re-sending an ordinal is how callers retry, so overwriting is not an error.
// The data is copied; the caller may reuse its slice.
func (e *Engine) Insert(ordinal uint32, data []byte) {
	e.chunks[ordinal] = slices.Clone(nonNil(data))
	e.mode = ModeParallel
}

// Remove drops the chunk at ordinal and reports whether one was present.
func (e *Engine) Remove(ordinal uint32) bool {
	if _, ok := e.chunks[ordinal]; !ok {
		return false
	}
	delete(e.chunks, ordinal)
	e.settle()
	return true
}

// ClearChunks empties the chunk store. The buffer is untouched.
func (e *Engine) ClearChunks() {
	clear(e.chunks)
	e.settle()
}

// Ordinals returns the pending ordinals in ascending order.
func (e *Engine) Ordinals() []uint32 {
	ordinals := make([]uint32, 0, len(e.chunks))
	for ordinal := range e.chunks {
		ordinals = append(ordinals, ordinal)
	}
	slices.Sort(ordinals)
	return ordinals
}

// ChunkCount returns the number of chunks waiting in the store.
func (e *Engine) ChunkCount() int {
	return len(e.chunks)
}

// PendingBytes returns the total size of all chunks in the store.
func (e *Engine) PendingBytes() int {
	total := 0
	for _, data := range e.chunks {
		total += len(data)
	}
	return total
}

// Extraneous returns the pending ordinals that fall outside [0, expected),
// in ascending order. Consolidation for expected drops these chunks.
func (e *Engine) Extraneous(expected uint32) []uint32 {
	var out []uint32
	for ordinal := range e.chunks {
		if ordinal >= expected {
			out = append(out, ordinal)
		}
	}
	slices.Sort(out)
	return out
}

// Reset discards the buffer and every pending chunk.
// It is the explicit cleanup path for abandoned uploads.
func (e *Engine) Reset() {
	e.buffer = nil
	clear(e.chunks)
	e.mode = ModeIdle
}

// settle drops back to ModeIdle once nothing is held.
func (e *Engine) settle() {
	if len(e.buffer) == 0 && len(e.chunks) == 0 {
		e.mode = ModeIdle
	}
}

func nonNil(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}

// MarshalText encodes the mode by name so JSON status output stays readable.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name produced by MarshalText.
func (m *Mode) UnmarshalText(text []byte) error {
	for candidate := ModeIdle; candidate <= ModeConsolidated; candidate++ {
		if candidate.String() == string(text) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", text)
}
