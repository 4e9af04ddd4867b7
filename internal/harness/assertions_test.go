package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTrace = []TraceEvent{
	{Seq: 1, Op: OpBegin, Outcome: map[string]any{"object": "obj-1"}},
	{Seq: 2, Op: OpInsert, Object: "obj-1", Outcome: map[string]any{}},
	{Seq: 3, Op: OpInsert, Object: "obj-1", Outcome: map[string]any{}},
	{Seq: 4, Op: OpConsolidate, Object: "obj-1", Outcome: map[string]any{"error": "INCOMPLETE_UPLOAD"}},
}

func TestAssertTraceContains(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Op: OpInsert, Object: "obj-1"}))
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Op: OpBegin}))

	err := assertTraceContains(sampleTrace, Assertion{Op: OpInsert, Object: "obj-2"})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "Full trace")
}

func TestAssertTraceOrder(t *testing.T) {
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Ops: []string{OpBegin, OpConsolidate}}))

	err := assertTraceOrder(sampleTrace, Assertion{Ops: []string{OpConsolidate, OpBegin}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(sampleTrace, Assertion{Ops: []string{OpBegin, OpFinalize}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing op: finalize")
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Op: OpInsert, Count: 2}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Op: OpFinalize, Count: 0}))

	err := assertTraceCount(sampleTrace, Assertion{Op: OpInsert, Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestCheckExpect(t *testing.T) {
	ev := sampleTrace[3]

	errs := checkExpect(0, &Step{Op: OpConsolidate, Expect: map[string]any{"error": "INCOMPLETE_UPLOAD"}}, ev, nil)
	assert.Empty(t, errs)

	errs = checkExpect(0, &Step{Op: OpConsolidate}, ev, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "unexpected error INCOMPLETE_UPLOAD")
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual([]uint32{1, 2}, []any{1, 2}))
	assert.True(t, valuesEqual(5, 5))
	assert.True(t, valuesEqual([]string{}, []any{}))
	assert.False(t, valuesEqual([]uint32{1}, []any{2}))
	assert.False(t, valuesEqual("5", 5))
	assert.False(t, valuesEqual(nil, 1.5))
}
