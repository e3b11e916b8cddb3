package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/reconcilor/internal/account"
)

// Scenario is a scripted reconcile run against an in-memory provider.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Provider is the provider's state before the first step.
	Provider ProviderState `yaml:"provider"`

	// Local is the credential store before the first step. Every local
	// account starts with a refresh token the provider accepts.
	Local LocalState `yaml:"local"`

	// Faults are installed on the provider before the first step.
	Faults *Faults `yaml:"faults,omitempty"`

	// Steps run in order. The engine and the provider are run until both
	// are idle after every step.
	Steps []Step `yaml:"steps"`

	// Expect checks the end state.
	Expect *Expect `yaml:"expect,omitempty"`

	// Assertions validate the trace and the final database state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ProviderState seeds the in-memory provider.
type ProviderState struct {
	Sessions []account.RemoteSession `yaml:"sessions"`
}

// LocalState describes the credential store.
type LocalState struct {
	Primary  string   `yaml:"primary,omitempty"`
	Accounts []string `yaml:"accounts"`
}

// Faults configures provider failures. Error fields take the failure
// message; an empty string clears the fault.
type Faults struct {
	ListError       string            `yaml:"list_error,omitempty"`
	DestroyError    string            `yaml:"destroy_error,omitempty"`
	FetchTokenError string            `yaml:"fetch_token_error,omitempty"`
	RemoveError     string            `yaml:"remove_error,omitempty"`
	CreateErrors    map[string]string `yaml:"create_errors,omitempty"`

	// Revoked accounts lose their refresh and access tokens.
	Revoked []string `yaml:"revoked,omitempty"`

	// DenyUserInfo makes the userinfo endpoint reject an account's tokens.
	DenyUserInfo []string `yaml:"deny_userinfo,omitempty"`

	// FlakyUserInfo makes the userinfo endpoint time out n times for an
	// account. A negative n never recovers.
	FlakyUserInfo map[string]int `yaml:"flaky_userinfo,omitempty"`

	// Impersonate makes the userinfo endpoint report another identity.
	Impersonate map[string]string `yaml:"impersonate,omitempty"`
}

// Step kinds.
const (
	StepSignIn        = "signin"
	StepSignOut       = "signout"
	StepReconcile     = "reconcile"
	StepRemoteChanged = "remote_changed"
	StepAddAccount    = "add_account"
	StepRemoveAccount = "remove_account"
	StepSetPrimary    = "set_primary"
	StepFaults        = "faults"
)

var stepKinds = map[string]bool{
	StepSignIn:        true,
	StepSignOut:       true,
	StepReconcile:     true,
	StepRemoteChanged: true,
	StepAddAccount:    true,
	StepRemoveAccount: true,
	StepSetPrimary:    true,
	StepFaults:        true,
}

// Step is one owner action.
//
//	signin          engine.OnSignedIn
//	signout         clear the store's primary (forwarded as sign-out)
//	reconcile       engine.StartReconcile
//	remote_changed  replace the provider sessions if given, then
//	                engine.OnRemoteSessionsChanged
//	add_account     add account to the provider and the store
//	remove_account  remove account from the store
//	set_primary     make account the store's primary
//	faults          install faults
type Step struct {
	Do       string                  `yaml:"do"`
	Account  string                  `yaml:"account,omitempty"`
	Sessions []account.RemoteSession `yaml:"sessions,omitempty"`
	Faults   *Faults                 `yaml:"faults,omitempty"`
}

// Expect checks the state at the end of a scenario. Unset fields are not
// checked.
type Expect struct {
	// Outcomes lists every finished cycle's outcome in order.
	Outcomes []string `yaml:"outcomes,omitempty"`

	// Remote is the provider's session list.
	Remote []account.RemoteSession `yaml:"remote,omitempty"`

	// Local is the credential store.
	Local *LocalState `yaml:"local,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with the label appears with matching fields
	// - "trace_order": labels appear in order
	// - "trace_count": a label appears exactly N times
	// - "final_state": query a table and verify expected values
	Type string `yaml:"type"`

	// Action is the event label (trace_contains, trace_count).
	// See TraceEvent.Label.
	Action string `yaml:"action,omitempty"`

	// Args are the expected event fields (trace_contains). Subset match.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Table is the database table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state). All fields must match.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state). Subset match.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected label order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
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

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
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

// FindScenarios returns the .yaml and .yml files under dir, sorted. A
// non-empty filter is a glob matched against the file name without its
// extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
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

	seen := make(map[string]bool, len(s.Local.Accounts))
	for i, id := range s.Local.Accounts {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("local.accounts[%d]: account is required", i)
		}
		if seen[id] {
			return fmt.Errorf("local.accounts[%d]: duplicate account %q", i, id)
		}
		seen[id] = true
	}
	if s.Local.Primary != "" && !seen[s.Local.Primary] {
		return fmt.Errorf("local.primary %q is not in local.accounts", s.Local.Primary)
	}

	for i, session := range s.Provider.Sessions {
		if session.ID == "" {
			return fmt.Errorf("provider.sessions[%d]: id is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *Step) error {
	if step.Do == "" {
		return fmt.Errorf("steps[%d]: do is required", index)
	}
	if !stepKinds[step.Do] {
		return fmt.Errorf("steps[%d]: unknown step %q", index, step.Do)
	}

	switch step.Do {
	case StepAddAccount, StepRemoveAccount, StepSetPrimary:
		if step.Account == "" {
			return fmt.Errorf("steps[%d]: account is required for %s", index, step.Do)
		}
	case StepFaults:
		if step.Faults == nil {
			return fmt.Errorf("steps[%d]: faults is required for %s", index, step.Do)
		}
	}

	if step.Sessions != nil && step.Do != StepRemoteChanged {
		return fmt.Errorf("steps[%d]: sessions is only allowed for %s", index, StepRemoteChanged)
	}
	if step.Faults != nil && step.Do != StepFaults {
		return fmt.Errorf("steps[%d]: faults is only allowed for %s", index, StepFaults)
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
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
