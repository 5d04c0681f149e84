package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lockharness/internal/locksvc"
)

// Scenario is a declarative description of one run: the actors, their
// scripts and what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario proves.
	Description string `yaml:"description" json:"description"`

	// Datastore every actor opens its session on. Defaults to startup.
	Datastore string `yaml:"datastore,omitempty" json:"datastore,omitempty"`

	// Connection is the mode each actor connects with. Defaults to default.
	Connection string `yaml:"connection,omitempty" json:"connection,omitempty"`

	// LogLevel is applied by each actor's setup. Defaults to info.
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty"`

	// Lockstep makes every actor wait at the barrier before each step.
	Lockstep bool `yaml:"lockstep,omitempty" json:"lockstep,omitempty"`

	// Jitter is the upper bound of a random pause before each step, as a
	// Go duration ("5ms"). Empty disables it.
	Jitter string `yaml:"jitter,omitempty" json:"jitter,omitempty"`

	// Seed feeds the jitter sources.
	Seed uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	// Timeout bounds the whole run, as a Go duration. Empty means the
	// caller's default.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Actors run concurrently, in the order listed for reporting.
	Actors []ActorSpec `yaml:"actors" json:"actors"`

	// Assertions are checked after every actor has terminated.
	Assertions []Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

// ActorSpec is one actor's script.
type ActorSpec struct {
	Name  string     `yaml:"name" json:"name"`
	Steps []StepSpec `yaml:"steps" json:"steps"`
}

// StepSpec names a built-in action. In files a step is either a bare action
// name or a mapping with action, args and expect.
type StepSpec struct {
	Action string   `yaml:"action" json:"action"`
	Args   []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Expect turns the step into an expect-failure step: CONFLICT or NOT_HELD.
	Expect string `yaml:"expect,omitempty" json:"expect,omitempty"`
}

var stepSpecKeys = map[string]bool{"action": true, "args": true, "expect": true}

// UnmarshalYAML accepts the bare string form as well as the mapping form.
// Unknown keys in the mapping are rejected.
func (s *StepSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = StepSpec{Action: node.Value}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if !stepSpecKeys[key] {
				return fmt.Errorf("line %d: field %s not found in type harness.StepSpec", node.Content[i].Line, key)
			}
		}
		type plain StepSpec
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*s = StepSpec(p)
		return nil
	}
	return fmt.Errorf("line %d: step must be a string or a mapping", node.Line)
}

// UnmarshalJSON accepts the bare string form as well as the object form.
func (s *StepSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*s = StepSpec{Action: name}
		return nil
	}
	type plain StepSpec
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*s = StepSpec(p)
	return nil
}

// Assertion is a post-run check.
type Assertion struct {
	// Type is one of trace_contains, trace_count or unheld.
	Type string `yaml:"type" json:"type"`

	// Actor restricts trace assertions to one actor. Empty matches any.
	Actor string `yaml:"actor,omitempty" json:"actor,omitempty"`

	// Action is the step name trace assertions look for.
	Action string `yaml:"action,omitempty" json:"action,omitempty"`

	// Outcome restricts trace assertions to steps that observed this kind.
	Outcome string `yaml:"outcome,omitempty" json:"outcome,omitempty"`

	// Count is the exact number of matches for trace_count.
	Count int `yaml:"count,omitempty" json:"count,omitempty"`

	// Module names the module unheld probes. Empty probes the whole datastore.
	Module string `yaml:"module,omitempty" json:"module,omitempty"`

	// Datastore for unheld. Defaults to the scenario's datastore.
	Datastore string `yaml:"datastore,omitempty" json:"datastore,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertUnheld        = "unheld"
)

// LoadScenario reads a scenario file. The extension picks the format:
// .cue files are evaluated with CUE, everything else is parsed as YAML.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var sc *Scenario
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		sc, err = ParseCUE(data, path)
	} else {
		sc, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseYAML decodes and validates a YAML scenario. Unknown fields are errors.
func ParseYAML(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// ParseCUE evaluates a CUE scenario. The scenario is either the file's top
// level or its "scenario" field. The value must be concrete.
func ParseCUE(data []byte, filename string) (*Scenario, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", err)
	}
	if nested := v.LookupPath(cue.ParsePath("scenario")); nested.Exists() {
		v = nested
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE scenario is not concrete: %w", err)
	}

	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export CUE: %w", err)
	}
	var sc Scenario
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to decode CUE scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks the scenario without touching any service.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := locksvc.ParseDatastore(s.datastore()); err != nil {
		return fmt.Errorf("datastore: %w", err)
	}
	if _, err := locksvc.ParseConnMode(s.Connection); err != nil {
		return fmt.Errorf("connection: %w", err)
	}
	if _, err := locksvc.ParseLogLevel(s.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := s.JitterDuration(); err != nil {
		return err
	}
	if _, err := s.TimeoutDuration(); err != nil {
		return err
	}

	if len(s.Actors) == 0 {
		return fmt.Errorf("actors list is required and must be non-empty")
	}
	seen := make(map[string]bool, len(s.Actors))
	for i, a := range s.Actors {
		if a.Name == "" {
			return fmt.Errorf("actors[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("actors[%d]: duplicate actor name %q", i, a.Name)
		}
		seen[a.Name] = true
		for j, st := range a.Steps {
			if _, err := st.build(); err != nil {
				return fmt.Errorf("actors[%d] %q steps[%d]: %w", i, a.Name, j, err)
			}
		}
	}

	for i, as := range s.Assertions {
		if err := validateAssertion(i, as, seen); err != nil {
			return err
		}
	}
	return nil
}

// JitterDuration parses Jitter. Empty is zero.
func (s *Scenario) JitterDuration() (time.Duration, error) {
	d, err := parseDuration("jitter", s.Jitter)
	if err != nil {
		return 0, err
	}
	if d > MaxJitter {
		return 0, fmt.Errorf("jitter: must not exceed %s", MaxJitter)
	}
	return d, nil
}

// TimeoutDuration parses Timeout. Empty is zero.
func (s *Scenario) TimeoutDuration() (time.Duration, error) {
	return parseDuration("timeout", s.Timeout)
}

func (s *Scenario) datastore() string {
	if s.Datastore == "" {
		return string(locksvc.DatastoreStartup)
	}
	return s.Datastore
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}

// build turns a step spec into a Step.
func (st StepSpec) build() (Step, error) {
	spec, ok := LookupAction(st.Action)
	if !ok {
		return Step{}, fmt.Errorf("unknown action %q", st.Action)
	}
	if len(st.Args) != spec.Arity {
		return Step{}, fmt.Errorf("action %q takes %d argument(s), got %d", st.Action, spec.Arity, len(st.Args))
	}
	step := spec.Build()
	if st.Expect == "" {
		return step, nil
	}
	if step.Kind != StepEffect {
		return Step{}, fmt.Errorf("action %q cannot expect a failure", st.Action)
	}
	kind, err := ParseKind(st.Expect)
	if err != nil {
		return Step{}, err
	}
	return ExpectFailure(kind, step), nil
}

func validateAssertion(index int, a Assertion, actors map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Actor != "" && !actors[a.Actor] {
		return fmt.Errorf("assertions[%d]: unknown actor %q", index, a.Actor)
	}
	if a.Outcome != "" {
		if _, err := parseOutcome(a.Outcome); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertUnheld:
		if a.Datastore != "" {
			if _, err := locksvc.ParseDatastore(a.Datastore); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// parseOutcome accepts every kind a trace event can carry.
func parseOutcome(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindNone, KindExternalConflict, KindExternalNotHeld, KindAssertionMismatch, KindUnhandledExternal:
		return k, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}
