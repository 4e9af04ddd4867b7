package chunk

import (
	"fmt"
	"slices"
)

// Append adds data to the end of the buffer.
func (e *Engine) Append(data []byte) {
	e.buffer = append(e.buffer, data...)
	e.mode = ModeSequential
	e.settle()
}

// ReadAndClear returns the buffer and resets it to empty.
//
// This is the finalize step for both upload modes. The returned slice is
// owned by the caller; a second call returns an empty slice.
func (e *Engine) ReadAndClear() []byte {
	data := e.buffer
	e.buffer = nil
	if len(e.chunks) > 0 {
		e.mode = ModeParallel
	} else {
		e.mode = ModeIdle
	}
	if data == nil {
		return []byte{}
	}
	return data
}

// Load replaces the buffer with a copy of data.
func (e *Engine) Load(data []byte) {
	e.buffer = slices.Clone(data)
	e.mode = ModeSequential
	e.settle()
}

// ClearBuffer empties the buffer. The chunk store is untouched.
func (e *Engine) ClearBuffer() {
	e.buffer = nil
	if len(e.chunks) > 0 {
		e.mode = ModeParallel
	}
	e.settle()
}

// BufferLen returns the number of bytes currently buffered.
func (e *Engine) BufferLen() int {
	return len(e.buffer)
}

// Status is a point-in-time snapshot of an engine for progress reporting.
type Status struct {
	Mode          Mode     `json:"mode"`
	BufferedBytes int      `json:"buffered_bytes"`
	PendingChunks int      `json:"pending_chunks"`
	PendingBytes  int      `json:"pending_bytes"`
	Ordinals      []uint32 `json:"ordinals"`
}

// Status reads the live state; nothing is cached between calls.
func (e *Engine) Status() Status {
	return Status{
		Mode:          e.mode,
		BufferedBytes: len(e.buffer),
		PendingChunks: len(e.chunks),
		PendingBytes:  e.PendingBytes(),
		Ordinals:      e.Ordinals(),
	}
}

// String renders the status the way the CLI prints it in text mode.
func (s Status) String() string {
	return fmt.Sprintf("Mode: %s\nSequential buffer: %d bytes\nParallel chunks: %d chunks, %d bytes total\nChunk IDs: %v",
		s.Mode, s.BufferedBytes, s.PendingChunks, s.PendingBytes, s.Ordinals)
}
