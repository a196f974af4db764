package compat

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aotkit/blutter/internal/sdk"
)

//go:embed rules.yaml
var rulesYAML []byte

// Polarity selects whether a marker rule holds on presence or absence.
type Polarity string

const (
	Present Polarity = "present"
	Absent  Polarity = "absent"
)

// Requested feature flags a rule may map to a define.
const (
	FlagNoAnalysis       = "no_analysis"
	FlagIDAFunctionNames = "ida_fcn"
)

var knownFlags = map[string]bool{
	FlagNoAnalysis:       true,
	FlagIDAFunctionNames: true,
}

// Rule is one entry of the compatibility table. Exactly one of Fact or Flag
// is set.
type Rule struct {
	// Fact names the compatibility fact a marker rule establishes.
	Fact string `yaml:"fact"`

	// Flag names a requested feature flag instead of a marker probe.
	Flag string `yaml:"flag"`

	// File is the header to scan, relative to the vm header directory.
	File string `yaml:"file"`

	// Marker is the literal byte string searched for in File.
	Marker string `yaml:"marker"`

	Polarity Polarity `yaml:"polarity"`

	// Requires names an earlier fact that must hold for this rule to be probed.
	Requires string `yaml:"requires,omitempty"`

	// Since and Until bound the major.minor versions the rule applies to.
	// Until is exclusive. Either may be empty.
	Since string `yaml:"since,omitempty"`
	Until string `yaml:"until,omitempty"`

	// Macro is the define name emitted when the fact or flag holds.
	Macro string `yaml:"macro"`

	// Reference points at the upstream change the marker tracks.
	Reference string `yaml:"reference,omitempty"`

	since *gate
	until *gate
}

type gate struct {
	major int
	minor int
}

// IsFlag reports whether the rule maps a requested flag rather than a fact.
func (r *Rule) IsFlag() bool {
	return r.Flag != ""
}

// Define returns the build define token for this rule.
func (r *Rule) Define() string {
	return "-D" + r.Macro + "=1"
}

// AppliesTo reports whether the rule's version gate admits v.
func (r *Rule) AppliesTo(v sdk.Version) bool {
	if r.since != nil && !v.AtLeast(r.since.major, r.since.minor) {
		return false
	}
	if r.until != nil && v.AtLeast(r.until.major, r.until.minor) {
		return false
	}
	return true
}

// RuleSet is the validated, ordered compatibility table.
type RuleSet struct {
	Rules []*Rule
}

type ruleSetContainer struct {
	Rules []*Rule `yaml:"rules"`
}

var (
	defaultRules     *RuleSet
	defaultRulesOnce sync.Once
	defaultRulesErr  error
)

// LoadRules returns the embedded rule table. The table is parsed once.
func LoadRules() (*RuleSet, error) {
	defaultRulesOnce.Do(func() {
		defaultRules, defaultRulesErr = ParseRules(rulesYAML)
	})
	return defaultRules, defaultRulesErr
}

// ParseRules parses and validates a YAML rule table.
func ParseRules(data []byte) (*RuleSet, error) {
	var container ruleSetContainer
	if err := yaml.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("failed to parse compatibility rules: %w", err)
	}
	if len(container.Rules) == 0 {
		return nil, fmt.Errorf("compatibility rule table is empty")
	}

	facts := make(map[string]bool)
	macros := make(map[string]bool)

	for i, r := range container.Rules {
		if err := r.validate(facts); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		if macros[r.Macro] {
			return nil, fmt.Errorf("rule %d: duplicate macro %s", i+1, r.Macro)
		}
		macros[r.Macro] = true
		if !r.IsFlag() {
			facts[r.Fact] = true
		}
	}

	return &RuleSet{Rules: container.Rules}, nil
}

func (r *Rule) validate(earlierFacts map[string]bool) error {
	if r.Macro == "" {
		return fmt.Errorf("macro is required")
	}

	if r.IsFlag() {
		if r.Fact != "" {
			return fmt.Errorf("fact and flag are mutually exclusive (%s/%s)", r.Fact, r.Flag)
		}
		if !knownFlags[r.Flag] {
			return fmt.Errorf("unknown flag %q", r.Flag)
		}
		return nil
	}

	if r.Fact == "" {
		return fmt.Errorf("one of fact or flag is required")
	}
	if earlierFacts[r.Fact] {
		return fmt.Errorf("fact %s declared twice", r.Fact)
	}
	if r.File == "" || r.Marker == "" {
		return fmt.Errorf("fact %s needs both file and marker", r.Fact)
	}
	if r.Polarity != Present && r.Polarity != Absent {
		return fmt.Errorf("fact %s has invalid polarity %q", r.Fact, r.Polarity)
	}
	if r.Requires != "" && !earlierFacts[r.Requires] {
		return fmt.Errorf("fact %s requires %s, which is not declared before it", r.Fact, r.Requires)
	}

	var err error
	if r.since, err = parseGate(r.Since); err != nil {
		return fmt.Errorf("fact %s: since: %w", r.Fact, err)
	}
	if r.until, err = parseGate(r.Until); err != nil {
		return fmt.Errorf("fact %s: until: %w", r.Fact, err)
	}
	return nil
}

func parseGate(s string) (*gate, error) {
	if s == "" {
		return nil, nil
	}
	majorText, minorText, ok := strings.Cut(s, ".")
	if !ok {
		return nil, fmt.Errorf("expected major.minor, got %q", s)
	}
	major, err := strconv.Atoi(majorText)
	if err != nil {
		return nil, fmt.Errorf("bad major in %q", s)
	}
	minor, err := strconv.Atoi(minorText)
	if err != nil {
		return nil, fmt.Errorf("bad minor in %q", s)
	}
	return &gate{major: major, minor: minor}, nil
}
