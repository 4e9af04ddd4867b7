package chunk

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/zeebo/blake3"
)

// Snapshot format constants.
const (
	snapshotMagic = "LOBJ"

	// SnapshotVersion is the format version written by Export.
	SnapshotVersion = 1

	// magic(4) + version(2) + mode(1) + reserved(1) + buffer length(8).
	snapshotHeaderSize = 16

	// ordinal(4) + length(8) before each chunk's bytes.
	chunkHeaderSize = 12

	digestSize = 32
)

// Export serializes the full engine state into a self-describing snapshot.
//
// Layout (all integers little-endian):
//
//	"LOBJ" | version u16 | mode u8 | reserved u8 | buffer len u64 | buffer
//	chunk count u32 | { ordinal u32 | len u64 | bytes } ascending by ordinal
//	BLAKE3-256 digest of everything above
//
// Export does not modify the engine.
func (e *Engine) Export() []byte {
	ordinals := e.Ordinals()

	size := snapshotHeaderSize + len(e.buffer) + 4 + digestSize
	for _, ordinal := range ordinals {
		size += chunkHeaderSize + len(e.chunks[ordinal])
	}

	out := make([]byte, 0, size)
	out = append(out, snapshotMagic...)
	out = binary.LittleEndian.AppendUint16(out, SnapshotVersion)
	out = append(out, byte(e.mode), 0)
	out = binary.LittleEndian.AppendUint64(out, uint64(len(e.buffer)))
	out = append(out, e.buffer...)

	out = binary.LittleEndian.AppendUint32(out, uint32(len(ordinals)))
	for _, ordinal := range ordinals {
		data := e.chunks[ordinal]
		out = binary.LittleEndian.AppendUint32(out, ordinal)
		out = binary.LittleEndian.AppendUint64(out, uint64(len(data)))
		out = append(out, data...)
	}

	digest := blake3.Sum256(out)
	return append(out, digest[:]...)
}

// Import replaces the engine state with the contents of a snapshot produced
// by Export.
//
// On any defect in the payload Import returns a *DeserializationError and the
// engine keeps the state it had before the call.
func (e *Engine) Import(data []byte) error {
	decoded, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	e.buffer = decoded.buffer
	e.chunks = decoded.chunks
	e.mode = decoded.mode
	return nil
}

type snapshot struct {
	mode   Mode
	buffer []byte
	chunks map[uint32][]byte
}

func decodeSnapshot(data []byte) (*snapshot, error) {
	if len(data) < snapshotHeaderSize+4+digestSize {
		return nil, malformed("snapshot too short: %d bytes", len(data))
	}

	body := data[:len(data)-digestSize]
	want := data[len(data)-digestSize:]
	got := blake3.Sum256(body)
	if !bytes.Equal(got[:], want) {
		return nil, malformed("digest mismatch")
	}

	if string(body[0:4]) != snapshotMagic {
		return nil, malformed("bad magic %q", body[0:4])
	}
	if version := binary.LittleEndian.Uint16(body[4:6]); version != SnapshotVersion {
		return nil, malformed("unsupported snapshot version %d", version)
	}
	mode := Mode(body[6])
	if !mode.valid() {
		return nil, malformed("unknown mode %d", body[6])
	}
	if body[7] != 0 {
		return nil, malformed("reserved byte is %d, want 0", body[7])
	}

	r := &snapshotReader{data: body, off: 8}

	bufferLen, err := r.readUint64("buffer length")
	if err != nil {
		return nil, err
	}
	buffer, err := r.readBytes(bufferLen, "buffer")
	if err != nil {
		return nil, err
	}

	count, err := r.readUint32("chunk count")
	if err != nil {
		return nil, err
	}
	// Every chunk needs at least its header, which bounds a sane count.
	if uint64(count)*chunkHeaderSize > uint64(r.remaining()) {
		return nil, malformed("chunk count %d exceeds payload", count)
	}

	chunks := make(map[uint32][]byte, count)
	var previous uint32
	for i := uint32(0); i < count; i++ {
		ordinal, err := r.readUint32("chunk ordinal")
		if err != nil {
			return nil, err
		}
		if i > 0 && ordinal <= previous {
			return nil, malformed("chunk ordinal %d out of order after %d", ordinal, previous)
		}
		previous = ordinal

		length, err := r.readUint64("chunk length")
		if err != nil {
			return nil, err
		}
		payload, err := r.readBytes(length, "chunk data")
		if err != nil {
			return nil, err
		}
		chunks[ordinal] = payload
	}

	if r.remaining() != 0 {
		return nil, malformed("%d trailing bytes", r.remaining())
	}

	if len(buffer) == 0 {
		buffer = nil
	}
	if err := checkMode(mode, len(buffer), len(chunks)); err != nil {
		return nil, err
	}
	return &snapshot{mode: mode, buffer: buffer, chunks: chunks}, nil
}

// checkMode rejects a mode flag the decoded contents could not have produced.
// An engine is idle exactly when it holds nothing, and a consolidated engine
// holds its bytes in the buffer with no chunks pending.
func checkMode(mode Mode, bufferLen, chunkCount int) error {
	empty := bufferLen == 0 && chunkCount == 0
	switch {
	case mode == ModeIdle && !empty:
		return malformed("mode idle with %d buffered bytes and %d chunks", bufferLen, chunkCount)
	case mode != ModeIdle && empty:
		return malformed("mode %s with no content", mode)
	case mode == ModeConsolidated && chunkCount > 0:
		return malformed("mode consolidated with %d pending chunks", chunkCount)
	}
	return nil
}

// snapshotReader walks a snapshot body with bounds checks on every read.
type snapshotReader struct {
	data []byte
	off  int
}

func (r *snapshotReader) remaining() int {
	return len(r.data) - r.off
}

func (r *snapshotReader) readUint32(field string) (uint32, error) {
	if r.remaining() < 4 {
		return 0, malformed("truncated %s", field)
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *snapshotReader) readUint64(field string) (uint64, error) {
	if r.remaining() < 8 {
		return 0, malformed("truncated %s", field)
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

// readBytes returns a copy so the engine never aliases the caller's snapshot.
func (r *snapshotReader) readBytes(n uint64, field string) ([]byte, error) {
	if n > uint64(r.remaining()) {
		return nil, malformed("%s length %d exceeds remaining %d bytes", field, n, r.remaining())
	}
	v := slices.Clone(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return v, nil
}
