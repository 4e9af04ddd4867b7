package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Op      string         `json:"op"`
	Object  string         `json:"object,omitempty"`
	Caller  string         `json:"caller,omitempty"` // set only when the step overrides the scenario caller
	Args    map[string]any `json:"args,omitempty"`
	Outcome map[string]any `json:"outcome"`
}

// Failed reports whether the step ended with an error code.
func (e TraceEvent) Failed() bool {
	_, ok := e.Outcome["error"]
	return ok
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// canonical converts the event to the plain map form used for golden output.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"seq":     e.Seq,
		"op":      e.Op,
		"outcome": e.Outcome,
	}
	if e.Object != "" {
		m["object"] = e.Object
	}
	if e.Caller != "" {
		m["caller"] = e.Caller
	}
	if len(e.Args) > 0 {
		m["args"] = e.Args
	}
	return m
}
