package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lobj/internal/testutil"
)

// Scenario defines a conformance test scenario.
// A scenario drives one host through a list of caller operations and restart
// cycles, checking each step's outcome and the final trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Caller is the principal used by steps that don't name one.
	// Defaults to "tester".
	Caller string `yaml:"caller,omitempty"`

	// Principals seeds an allowlist guard. When empty every caller is allowed.
	Principals []string `yaml:"principals,omitempty"`

	// MaxObjects caps concurrent in-flight objects (host default when zero).
	MaxObjects int `yaml:"max_objects,omitempty"`

	// IDPrefix prefixes generated object IDs: "<prefix>-1", "<prefix>-2", ...
	// Defaults to "obj".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	// Steps run in order against the host.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and registry.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation in a scenario.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Object is the target object ID.
	Object string `yaml:"object,omitempty"`

	// Caller overrides the scenario caller for this step.
	Caller string `yaml:"caller,omitempty"`

	// Ordinal is the chunk position for insert and remove.
	Ordinal *uint32 `yaml:"ordinal,omitempty"`

	// Expected is the chunk count for missing, complete and consolidate.
	Expected *uint32 `yaml:"expected,omitempty"`

	// Data is the payload for append and insert.
	Data *Payload `yaml:"data,omitempty"`

	// Principal is the subject of add_principal and remove_principal.
	Principal string `yaml:"principal,omitempty"`

	// Corrupt names objects whose stored snapshots a restart damages
	// between saving and restoring.
	Corrupt []string `yaml:"corrupt,omitempty"`

	// Expect is a subset match against the step outcome.
	// Without an "error" key the step must succeed.
	Expect map[string]any `yaml:"expect,omitempty"`

	// ExpectData compares finalized bytes against a payload.
	ExpectData *Payload `yaml:"expect_data,omitempty"`
}

// Step operations.
const (
	OpBegin           = "begin"
	OpAppend          = "append"
	OpFinalize        = "finalize"
	OpInsert          = "insert"
	OpRemove          = "remove"
	OpMissing         = "missing"
	OpComplete        = "complete"
	OpConsolidate     = "consolidate"
	OpStatus          = "status"
	OpReset           = "reset"
	OpDiscard         = "discard"
	OpObjects         = "objects"
	OpRestart         = "restart"
	OpReinitialize    = "reinitialize"
	OpAddPrincipal    = "add_principal"
	OpRemovePrincipal = "remove_principal"
)

// Payload describes step bytes. In YAML a plain string is taken as text;
// a mapping selects exactly one of text, hex, repeat or random.
type Payload struct {
	Text   string         `yaml:"text,omitempty"`
	Hex    string         `yaml:"hex,omitempty"`
	Repeat *RepeatPayload `yaml:"repeat,omitempty"`
	Random *RandomPayload `yaml:"random,omitempty"`

	set int
}

// RepeatPayload is Count copies of Byte.
type RepeatPayload struct {
	Byte  uint8 `yaml:"byte"`
	Count int   `yaml:"count"`
}

// RandomPayload is Size seeded pseudo-random bytes.
type RandomPayload struct {
	Size int    `yaml:"size"`
	Seed uint64 `yaml:"seed"`
}

// UnmarshalYAML accepts either a scalar or a mapping.
func (p *Payload) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*p = Payload{Text: node.Value, set: 1}
		return nil
	}
	type plain Payload
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = Payload(raw)
	for _, present := range []bool{raw.Text != "", raw.Hex != "", raw.Repeat != nil, raw.Random != nil} {
		if present {
			p.set++
		}
	}
	return nil
}

// Bytes materializes the payload.
func (p *Payload) Bytes() ([]byte, error) {
	switch {
	case p.Hex != "":
		data, err := hex.DecodeString(p.Hex)
		if err != nil {
			return nil, fmt.Errorf("decode hex payload: %w", err)
		}
		return data, nil
	case p.Repeat != nil:
		if p.Repeat.Count < 0 {
			return nil, fmt.Errorf("repeat count must not be negative")
		}
		return bytes.Repeat([]byte{p.Repeat.Byte}, p.Repeat.Count), nil
	case p.Random != nil:
		if p.Random.Size < 0 {
			return nil, fmt.Errorf("random size must not be negative")
		}
		return testutil.Payload(p.Random.Size, p.Random.Seed), nil
	default:
		return []byte(p.Text), nil
	}
}

// Assertion validates the trace or the registry after all steps ran.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an op (optionally on Object) appears in the trace
	// - "trace_order": ops appear in order
	// - "trace_count": an op appears exactly Count times
	// - "final_objects": the host holds exactly Objects
	// - "final_state": registry Key exists (or not, per Exists)
	Type string `yaml:"type"`

	Op      string   `yaml:"op,omitempty"`
	Object  string   `yaml:"object,omitempty"`
	Ops     []string `yaml:"ops,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Objects []string `yaml:"objects,omitempty"`
	Key     string   `yaml:"key,omitempty"`
	Exists  *bool    `yaml:"exists,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalObjects  = "final_objects"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.MaxObjects < 0 {
		return fmt.Errorf("max_objects must not be negative")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// stepFields lists which optional fields each op requires.
var stepFields = map[string]struct {
	object, ordinal, expected, data, principal bool
}{
	OpBegin:           {},
	OpAppend:          {object: true, data: true},
	OpFinalize:        {object: true},
	OpInsert:          {object: true, ordinal: true, data: true},
	OpRemove:          {object: true, ordinal: true},
	OpMissing:         {object: true, expected: true},
	OpComplete:        {object: true, expected: true},
	OpConsolidate:     {object: true, expected: true},
	OpStatus:          {object: true},
	OpReset:           {object: true},
	OpDiscard:         {object: true},
	OpObjects:         {},
	OpRestart:         {},
	OpReinitialize:    {},
	OpAddPrincipal:    {principal: true},
	OpRemovePrincipal: {principal: true},
}

func validateStep(i int, st *Step) error {
	if st.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", i)
	}
	need, ok := stepFields[st.Op]
	if !ok {
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}
	if need.object && st.Object == "" {
		return fmt.Errorf("steps[%d]: object is required for %s", i, st.Op)
	}
	if need.ordinal && st.Ordinal == nil {
		return fmt.Errorf("steps[%d]: ordinal is required for %s", i, st.Op)
	}
	if need.expected && st.Expected == nil {
		return fmt.Errorf("steps[%d]: expected is required for %s", i, st.Op)
	}
	if need.data && st.Data == nil {
		return fmt.Errorf("steps[%d]: data is required for %s", i, st.Op)
	}
	if need.principal && st.Principal == "" {
		return fmt.Errorf("steps[%d]: principal is required for %s", i, st.Op)
	}
	if st.Data != nil && st.Data.set > 1 {
		return fmt.Errorf("steps[%d]: data must set only one of text, hex, repeat, random", i)
	}
	if len(st.Corrupt) > 0 && st.Op != OpRestart {
		return fmt.Errorf("steps[%d]: corrupt is only valid for restart", i)
	}
	if st.ExpectData != nil {
		if st.Op != OpFinalize {
			return fmt.Errorf("steps[%d]: expect_data is only valid for finalize", i)
		}
		if st.ExpectData.set > 1 {
			return fmt.Errorf("steps[%d]: expect_data must set only one of text, hex, repeat, random", i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must not be negative", index)
		}
	case AssertFinalObjects:
		// An absent list asserts that no objects remain.
	case AssertFinalState:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
