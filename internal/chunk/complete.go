package chunk

// Missing returns every ordinal in [0, expected) that has not been inserted,
// in ascending order. An empty (non-nil) slice means the object is complete.
//
// The full range is checked regardless of insertion order, so chunks may have
// arrived starting anywhere and with any gaps.
func (e *Engine) Missing(expected uint32) []uint32 {
	missing := []uint32{}
	for ordinal := uint32(0); ordinal < expected; ordinal++ {
		if _, ok := e.chunks[ordinal]; !ok {
			missing = append(missing, ordinal)
		}
	}
	return missing
}

// IsComplete reports whether every ordinal in [0, expected) is present.
// An expected count of zero is vacuously complete.
func (e *Engine) IsComplete(expected uint32) bool {
	// Fewer entries than expected can never cover the range.
	if uint64(len(e.chunks)) < uint64(expected) {
		return false
	}
	for ordinal := uint32(0); ordinal < expected; ordinal++ {
		if _, ok := e.chunks[ordinal]; !ok {
			return false
		}
	}
	return true
}

// firstMissing returns at most limit missing ordinals in [0, expected), in
// ascending order, and the total number missing. The scan stops once limit
// ordinals are found, so it costs O(len(chunks) + limit) whatever expected is.
func (e *Engine) firstMissing(expected uint32, limit int) ([]uint32, uint32) {
	var present uint32
	for ordinal := range e.chunks {
		if ordinal < expected {
			present++
		}
	}
	total := expected - present

	n := limit
	if uint64(total) < uint64(n) {
		n = int(total)
	}
	out := make([]uint32, 0, n)
	for ordinal := uint32(0); ordinal < expected && len(out) < n; ordinal++ {
		if _, ok := e.chunks[ordinal]; !ok {
			out = append(out, ordinal)
		}
	}
	return out, total
}
