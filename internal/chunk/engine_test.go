package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_New(t *testing.T) {
	e := New()

	assert.Equal(t, ModeIdle, e.Mode())
	assert.Equal(t, 0, e.ChunkCount())
	assert.Equal(t, 0, e.BufferLen())
	assert.Empty(t, e.Ordinals())
}

func TestEngine_InsertOverwrites(t *testing.T) {
	e := New()

	e.Insert(0, []byte("first"))
	e.Insert(0, []byte("second"))

	assert.Equal(t, 1, e.ChunkCount())
	assert.Equal(t, len("second"), e.PendingBytes())

	n, err := e.Consolidate(1)
	require.NoError(t, err)
	assert.Equal(t, len("second"), n)
	assert.Equal(t, "second", string(e.ReadAndClear()))
}

func TestEngine_InsertCopiesData(t *testing.T) {
	e := New()
	data := []byte("abc")

	e.Insert(0, data)
	data[0] = 'z'

	out, err := e.Assemble(1)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
}

func TestEngine_InsertNilIsEmptyChunk(t *testing.T) {
	e := New()

	e.Insert(0, nil)

	assert.True(t, e.IsComplete(1))
	n, err := e.Consolidate(1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEngine_Remove(t *testing.T) {
	e := New()
	e.Insert(0, []byte{1, 2})
	e.Insert(1, []byte{3, 4})

	assert.True(t, e.Remove(0))
	assert.False(t, e.Remove(0), "second remove of the same ordinal")
	assert.Equal(t, 1, e.ChunkCount())
	assert.Equal(t, []uint32{1}, e.Ordinals())

	assert.True(t, e.Remove(1))
	assert.Equal(t, ModeIdle, e.Mode())
}

func TestEngine_Ordinals_Sorted(t *testing.T) {
	e := New()
	for _, ordinal := range []uint32{9, 3, 7, 0, 5} {
		e.Insert(ordinal, []byte{byte(ordinal)})
	}

	assert.Equal(t, []uint32{0, 3, 5, 7, 9}, e.Ordinals())
}

func TestEngine_Extraneous(t *testing.T) {
	e := New()
	e.Insert(0, []byte("a"))
	e.Insert(5, []byte("b"))
	e.Insert(3, []byte("c"))

	assert.Equal(t, []uint32{3, 5}, e.Extraneous(2))
	assert.Empty(t, e.Extraneous(6))
}

func TestEngine_ClearChunks_KeepsBuffer(t *testing.T) {
	e := New()
	e.Append([]byte("keep"))
	e.Insert(0, []byte("drop"))

	e.ClearChunks()

	assert.Equal(t, 0, e.ChunkCount())
	assert.Equal(t, 4, e.BufferLen())
}

func TestEngine_Reset(t *testing.T) {
	e := New()
	e.Append([]byte("abc"))
	e.Insert(0, []byte("def"))

	e.Reset()

	assert.Equal(t, Status{Mode: ModeIdle, Ordinals: []uint32{}}, e.Status())
}

func TestMode_String(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeIdle, "idle"},
		{ModeSequential, "sequential"},
		{ModeParallel, "parallel"},
		{ModeConsolidated, "consolidated"},
		{Mode(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mode.String())
		})
	}
}

func TestMode_TextRoundTrip(t *testing.T) {
	for m := ModeIdle; m <= ModeConsolidated; m++ {
		text, err := m.MarshalText()
		require.NoError(t, err)

		var got Mode
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, m, got)
	}

	var m Mode
	assert.Error(t, m.UnmarshalText([]byte("bogus")))
}
