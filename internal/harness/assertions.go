package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/lobj/internal/canon"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %v\n", event.Seq, event.Op, event.Object, event.Outcome)
		}
	}

	return buf.String()
}

// checkExpect compares a step's outcome with its expect clause using subset
// semantics: every expected key must be present with a canonically equal
// value. A step whose clause names no error must not fail.
func checkExpect(index int, st *Step, ev TraceEvent, finalized []byte) []string {
	var errs []string
	prefix := fmt.Sprintf("steps[%d] %s", index, st.Op)

	if _, wantErr := st.Expect["error"]; !wantErr && ev.Failed() {
		errs = append(errs, fmt.Sprintf("%s: unexpected error %v", prefix, ev.Outcome["error"]))
	}

	for _, key := range canon.SortedKeys(st.Expect) {
		want := st.Expect[key]
		got, ok := ev.Outcome[key]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: outcome has no %q (want %v)", prefix, key, want))
			continue
		}
		if !valuesEqual(got, want) {
			errs = append(errs, fmt.Sprintf("%s: %s = %v, want %v", prefix, key, got, want))
		}
	}

	if st.ExpectData != nil && !ev.Failed() {
		want, err := st.ExpectData.Bytes()
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: expect_data: %v", prefix, err))
		} else if !bytes.Equal(finalized, want) {
			errs = append(errs, fmt.Sprintf("%s: finalized %d bytes do not match expected %d bytes", prefix, len(finalized), len(want)))
		}
	}

	return errs
}

// valuesEqual compares outcome values by their canonical JSON encoding, so
// YAML ints match uint32 slices and int counts alike.
func valuesEqual(actual, expected any) bool {
	a, err := canon.Marshal(actual)
	if err != nil {
		return false
	}
	e, err := canon.Marshal(expected)
	if err != nil {
		return false
	}
	return bytes.Equal(a, e)
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, h *Harness) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalObjects:
			err = h.assertFinalObjects(ctx, a)
		case AssertFinalState:
			err = h.assertFinalState(ctx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertTraceContains checks that op ran, on Object when one is given.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Op == a.Op && (a.Object == "" || event.Object == a.Object) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("op %s on %q", a.Op, a.Object),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that ops first appear in the given order.
// Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = i + 1
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that op ran exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalObjects checks the host's in-flight object IDs.
func (h *Harness) assertFinalObjects(ctx context.Context, a Assertion) error {
	infos, err := h.host.Objects(ctx, h.caller(&Step{}))
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	got := make([]string, 0, len(infos))
	for _, info := range infos {
		got = append(got, info.ID)
	}
	want := slices.Clone(a.Objects)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertFinalObjects,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertFinalState checks whether a registry key is present. Exists
// defaults to true.
func (h *Harness) assertFinalState(ctx context.Context, a Assertion) error {
	want := a.Exists == nil || *a.Exists
	got, err := h.registry.Exists(ctx, a.Key)
	if err != nil {
		return fmt.Errorf("check %s: %w", a.Key, err)
	}
	if got != want {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("key %s exists=%t", a.Key, want),
			Actual:   fmt.Sprintf("exists=%t", got),
		}
	}
	return nil
}
