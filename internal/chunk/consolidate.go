package chunk

// Consolidate moves ordinals 0..expected-1 from the chunk store into the
// buffer, in ascending order with no separators, and returns the number of
// bytes written.
//
// The buffer is replaced, not appended to. The chunk store is emptied,
// including any chunks at ordinals >= expected (see Extraneous).
//
// If any ordinal in range is missing, Consolidate returns an
// *IncompleteUploadError naming the first missing ordinals and the total
// missing, and changes nothing.
// It is safe to call repeatedly while chunks are still arriving.
func (e *Engine) Consolidate(expected uint32) (int, error) {
	data, err := e.assemble(expected)
	if err != nil {
		return 0, err
	}

	e.buffer = data
	clear(e.chunks)
	e.mode = ModeConsolidated
	e.settle()

	return len(data), nil
}

// Assemble returns what Consolidate would write without touching any state.
func (e *Engine) Assemble(expected uint32) ([]byte, error) {
	return e.assemble(expected)
}

func (e *Engine) assemble(expected uint32) ([]byte, error) {
	if !e.IsComplete(expected) {
		missing, count := e.firstMissing(expected, MaxCarriedOrdinals)
		return nil, &IncompleteUploadError{
			Expected:     expected,
			Missing:      missing,
			MissingCount: count,
		}
	}

	// Size the output once so large objects are copied a single time.
	total := 0
	for ordinal := uint32(0); ordinal < expected; ordinal++ {
		total += len(e.chunks[ordinal])
	}

	out := make([]byte, 0, total)
	for ordinal := uint32(0); ordinal < expected; ordinal++ {
		out = append(out, e.chunks[ordinal]...)
	}
	return out, nil
}
