package harness

import (
	"sort"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/engine"
)

// Trace event names.
const (
	EventCycleStarted  = "cycle_started"
	EventPlanComputed  = "plan"
	EventOperation     = "operation"
	EventCycleFinished = "cycle_finished"
)

// TraceEvent is one observer callback recorded during a scenario.
//
// Only deterministic fields are kept: no cycle UUIDs, timestamps or error
// messages. Errors appear as their reconcile error code.
type TraceEvent struct {
	Event string `json:"event"`
	Cycle int64  `json:"cycle"`

	// cycle_started
	Trigger string `json:"trigger,omitempty"`

	// plan
	Plan    *account.Plan `json:"plan,omitempty"`
	Invalid []account.ID  `json:"invalid,omitempty"`

	// operation
	Kind    string     `json:"kind,omitempty"`
	Account account.ID `json:"account,omitempty"`
	Index   int        `json:"index,omitempty"`

	// cycle_finished
	Outcome  string `json:"outcome,omitempty"`
	Failures int    `json:"failures,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// Error is the reconcile error code of a failed operation or cycle.
	Error string `json:"error,omitempty"`
}

// Label names the event for trace assertions: "cycle_started", "plan",
// "cycle_finished", or the operation kind with its account, such as
// "fetch" or "create:bob".
func (e TraceEvent) Label() string {
	if e.Event != EventOperation {
		return e.Event
	}
	if e.Account == "" {
		return e.Kind
	}
	return e.Kind + ":" + string(e.Account)
}

// Fields returns the event as a map of plain values. It is the subject of
// trace_contains matching and the golden file encoding.
func (e TraceEvent) Fields() map[string]any {
	m := map[string]any{
		"event": e.Event,
		"cycle": int(e.Cycle),
	}
	switch e.Event {
	case EventCycleStarted:
		m["trigger"] = e.Trigger
	case EventPlanComputed:
		plan := e.Plan
		if plan == nil {
			plan = &account.Plan{}
		}
		m["rebuild"] = plan.Rebuild
		m["create"] = idList(plan.ToCreateRemotely)
		imports := make([]any, len(plan.ToImportLocally))
		for i, entry := range plan.ToImportLocally {
			imports[i] = map[string]any{"id": string(entry.ID), "index": entry.Index}
		}
		m["import"] = imports
		m["invalid"] = idList(e.Invalid)
	case EventOperation:
		m["kind"] = e.Kind
		if e.Account != "" {
			m["account"] = string(e.Account)
		}
		if e.Kind == string(engine.OpImport) {
			m["index"] = e.Index
		}
	case EventCycleFinished:
		m["outcome"] = e.Outcome
		m["failures"] = e.Failures
		if e.Reason != "" {
			m["reason"] = e.Reason
		}
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

func idList(ids []account.ID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the observer callbacks in the order the engine made them.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures. Empty if Pass.
	Errors []string `json:"errors,omitempty"`

	// Local is the credential store after the last step.
	Local account.LocalSet `json:"local"`

	// Remote is the provider's session list after the last step.
	Remote account.RemoteSessionList `json:"remote"`

	// Calls lists the provider calls in the order they were made.
	Calls []string `json:"calls,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Remote: account.RemoteSessionList{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Outcomes returns the outcome of every finished cycle, in order.
func (r *Result) Outcomes() []string {
	out := []string{}
	for _, e := range r.Trace {
		if e.Event == EventCycleFinished {
			out = append(out, e.Outcome)
		}
	}
	return out
}

// recorder is an engine.Observer that appends to a Result's trace.
type recorder struct {
	result *Result
}

func (r *recorder) CycleStarted(info engine.CycleInfo) {
	r.result.Trace = append(r.result.Trace, TraceEvent{
		Event:   EventCycleStarted,
		Cycle:   info.Seq,
		Trigger: string(info.Trigger),
	})
}

func (r *recorder) PlanComputed(info engine.CycleInfo, plan account.Plan, outcome account.ValidationOutcome) {
	invalid := make([]account.ID, 0, len(outcome.Invalid))
	for id := range outcome.Invalid {
		invalid = append(invalid, id)
	}
	sort.Slice(invalid, func(i, j int) bool { return invalid[i] < invalid[j] })

	p := plan
	r.result.Trace = append(r.result.Trace, TraceEvent{
		Event:   EventPlanComputed,
		Cycle:   info.Seq,
		Plan:    &p,
		Invalid: invalid,
	})
}

func (r *recorder) OperationFinished(report engine.OperationReport) {
	r.result.Trace = append(r.result.Trace, TraceEvent{
		Event:   EventOperation,
		Cycle:   report.Cycle.Seq,
		Kind:    string(report.Kind),
		Account: report.Account,
		Index:   report.Index,
		Error:   errorCode(report.Err),
	})
}

func (r *recorder) CycleFinished(report engine.CycleReport) {
	r.result.Trace = append(r.result.Trace, TraceEvent{
		Event:    EventCycleFinished,
		Cycle:    report.Cycle.Seq,
		Outcome:  string(report.Outcome),
		Failures: report.Failures,
		Reason:   report.Reason,
		Error:    errorCode(report.Err),
	})
}

// errorCode returns the reconcile error code of err, "ERROR" for other
// errors and "" for nil.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}
