package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/lobj/internal/chunk"
	"github.com/roach88/lobj/internal/guard"
	"github.com/roach88/lobj/internal/host"
	"github.com/roach88/lobj/internal/kv"
	"github.com/roach88/lobj/internal/telemetry"
)

// DefaultCaller is used when a scenario names no caller.
const DefaultCaller = "tester"

// maxInlineData bounds the finalized payloads rendered as text in the trace.
const maxInlineData = 64

// Harness is the test execution engine.
// It runs one scenario against a live host with deterministic object IDs and
// step numbering.
type Harness struct {
	scenario *Scenario
	registry *kv.Store
	clock    *host.Clock
	ids      host.IDGenerator
	sink     telemetry.Sink

	host   *host.Host
	cancel context.CancelFunc
	errc   chan error
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Open an in-memory registry and start a host
//  2. Execute steps, checking expect clauses
//  3. Evaluate assertions against the trace and registry
//  4. Stop the host and return result with pass/fail, trace, and errors
//
// Run returns an error only when the scenario cannot execute at all; failed
// expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithSink(context.Background(), scenario, telemetry.Discard)
}

// RunWithSink is Run with a caller-supplied context and telemetry sink.
func RunWithSink(ctx context.Context, scenario *Scenario, sink telemetry.Sink) (*Result, error) {
	registry, err := kv.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory registry: %w", err)
	}
	defer registry.Close()

	prefix := scenario.IDPrefix
	if prefix == "" {
		prefix = "obj"
	}

	h := &Harness{
		scenario: scenario,
		registry: registry,
		clock:    host.NewClock(),
		ids:      host.NewSequenceGenerator(prefix),
		sink:     sink,
	}
	if err := h.start(); err != nil {
		return nil, err
	}
	defer h.stop()

	result := NewResult()
	for i := range scenario.Steps {
		if err := h.executeStep(ctx, i, &scenario.Steps[i], result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, scenario.Steps[i].Op, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, h) {
		result.AddError(msg)
	}

	return result, nil
}

// start launches a fresh host over the shared registry, as a restarted
// process would. The guard is reseeded from the scenario principals.
func (h *Harness) start() error {
	var authz guard.Authorizer = guard.AllowAll
	if len(h.scenario.Principals) > 0 {
		allow, err := guard.NewAllowlist(h.scenario.Principals...)
		if err != nil {
			return fmt.Errorf("seed principals: %w", err)
		}
		authz = allow
	}

	opts := []host.Option{
		host.WithAuthorizer(authz),
		host.WithSink(h.sink),
		host.WithIDGenerator(h.ids),
	}
	if h.scenario.MaxObjects > 0 {
		opts = append(opts, host.WithMaxObjects(h.scenario.MaxObjects))
	}

	h.host = host.New(h.registry, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.errc = make(chan error, 1)
	go func() { h.errc <- h.host.Run(ctx) }()
	return nil
}

func (h *Harness) stop() {
	if h.host == nil {
		return
	}
	h.host.Stop()
	h.cancel()
	<-h.errc
	h.host = nil
}

func (h *Harness) caller(st *Step) string {
	switch {
	case st.Caller != "":
		return st.Caller
	case h.scenario.Caller != "":
		return h.scenario.Caller
	default:
		return DefaultCaller
	}
}

// executeStep runs one step, records it in the trace and checks its expect
// clause.
func (h *Harness) executeStep(ctx context.Context, index int, st *Step, result *Result) error {
	ev := TraceEvent{
		Seq:    h.clock.Next(),
		Op:     st.Op,
		Object: st.Object,
		Caller: st.Caller,
		Args:   map[string]any{},
	}
	if st.Ordinal != nil {
		ev.Args["ordinal"] = *st.Ordinal
	}
	if st.Expected != nil {
		ev.Args["expected"] = *st.Expected
	}
	if st.Principal != "" {
		ev.Args["principal"] = st.Principal
	}
	if len(st.Corrupt) > 0 {
		ev.Args["corrupt"] = st.Corrupt
	}

	var data []byte
	if st.Data != nil {
		var err error
		if data, err = st.Data.Bytes(); err != nil {
			return err
		}
		ev.Args["size"] = len(data)
	}

	outcome, finalized, err := h.dispatch(ctx, st, data)
	if err != nil {
		code := host.ErrorCode(err)
		if code == "" {
			return err
		}
		outcome = map[string]any{"error": code}
		if missing, ok := chunk.MissingOrdinals(err); ok {
			outcome["missing"] = missing
		}
	}
	ev.Outcome = outcome
	result.AddTrace(ev)

	for _, msg := range checkExpect(index, st, ev, finalized) {
		result.AddError(msg)
	}
	return nil
}

// dispatch performs the host call for a step. Errors carrying a host or
// chunk error code become trace outcomes; anything else aborts the run.
func (h *Harness) dispatch(ctx context.Context, st *Step, data []byte) (map[string]any, []byte, error) {
	caller := h.caller(st)
	hs := h.host
	out := map[string]any{}

	switch st.Op {
	case OpBegin:
		id, err := hs.Begin(ctx, caller)
		if err != nil {
			return nil, nil, err
		}
		out["object"] = id

	case OpAppend:
		if err := hs.AppendChunk(ctx, caller, st.Object, data); err != nil {
			return nil, nil, err
		}

	case OpFinalize:
		payload, err := hs.Finalize(ctx, caller, st.Object)
		if err != nil {
			return nil, nil, err
		}
		out["size"] = len(payload)
		if printable(payload) {
			out["data"] = string(payload)
		}
		return out, payload, nil

	case OpInsert:
		if err := hs.AppendParallelChunk(ctx, caller, st.Object, *st.Ordinal, data); err != nil {
			return nil, nil, err
		}

	case OpRemove:
		removed, err := hs.RemoveChunk(ctx, caller, st.Object, *st.Ordinal)
		if err != nil {
			return nil, nil, err
		}
		out["removed"] = removed

	case OpMissing:
		missing, err := hs.Missing(ctx, caller, st.Object, *st.Expected)
		if err != nil {
			return nil, nil, err
		}
		out["missing"] = missing

	case OpComplete:
		complete, err := hs.IsComplete(ctx, caller, st.Object, *st.Expected)
		if err != nil {
			return nil, nil, err
		}
		out["complete"] = complete

	case OpConsolidate:
		res, err := hs.Consolidate(ctx, caller, st.Object, *st.Expected)
		if err != nil {
			return nil, nil, err
		}
		out["bytes"] = res.Bytes
		out["dropped"] = res.Dropped

	case OpStatus:
		s, err := hs.Status(ctx, caller, st.Object)
		if err != nil {
			return nil, nil, err
		}
		out["mode"] = s.Mode.String()
		out["buffered_bytes"] = s.BufferedBytes
		out["pending_chunks"] = s.PendingChunks
		out["pending_bytes"] = s.PendingBytes
		out["ordinals"] = s.Ordinals

	case OpReset:
		if err := hs.Reset(ctx, caller, st.Object); err != nil {
			return nil, nil, err
		}

	case OpDiscard:
		if err := hs.Discard(ctx, caller, st.Object); err != nil {
			return nil, nil, err
		}

	case OpObjects:
		infos, err := hs.Objects(ctx, caller)
		if err != nil {
			return nil, nil, err
		}
		ids := make([]string, 0, len(infos))
		for _, info := range infos {
			ids = append(ids, info.ID)
		}
		out["objects"] = ids

	case OpRestart:
		if err := h.restart(ctx, st.Corrupt); err != nil {
			return nil, nil, err
		}

	case OpReinitialize:
		if err := hs.Reinitialize(ctx); err != nil {
			return nil, nil, err
		}

	case OpAddPrincipal:
		if err := hs.AddPrincipal(ctx, caller, st.Principal); err != nil {
			return nil, nil, err
		}

	case OpRemovePrincipal:
		removed, err := hs.RemovePrincipal(ctx, caller, st.Principal)
		if err != nil {
			return nil, nil, err
		}
		out["removed"] = removed

	default:
		return nil, nil, fmt.Errorf("unknown op %q", st.Op)
	}

	return out, nil, nil
}

// restart saves the running host, replaces it with a fresh one and restores.
// Snapshots named in corrupt are damaged after saving.
func (h *Harness) restart(ctx context.Context, corrupt []string) error {
	if err := h.host.PreUpgrade(ctx); err != nil {
		return err
	}
	h.stop()

	for _, id := range corrupt {
		if err := h.corrupt(ctx, id); err != nil {
			return err
		}
	}

	if err := h.start(); err != nil {
		return err
	}
	return h.host.PostUpgrade(ctx)
}

// corrupt flips the last byte of an object's stored snapshot.
func (h *Harness) corrupt(ctx context.Context, id string) error {
	key := host.ObjectKey(id)
	data, err := h.registry.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("no stored snapshot for %s", id)
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty stored snapshot for %s", id)
	}
	data = bytes.Clone(data)
	data[len(data)-1] ^= 0xff
	return h.registry.Set(ctx, key, data)
}

// printable reports whether a finalized payload is short text worth inlining.
func printable(data []byte) bool {
	if len(data) > maxInlineData || !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
