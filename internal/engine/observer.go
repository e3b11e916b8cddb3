package engine

import "github.com/roach88/reconcilor/internal/account"

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerManual        Trigger = "manual"
	TriggerTimer         Trigger = "timer"
	TriggerRemoteChanged Trigger = "remote_changed"
	TriggerAccountAdded  Trigger = "account_added"
	TriggerSignedIn      Trigger = "signed_in"
)

// OpKind names a boundary operation.
type OpKind string

const (
	OpFetch      OpKind = "fetch"
	OpProbe      OpKind = "probe"
	OpDestroy    OpKind = "destroy"
	OpCreate     OpKind = "create"
	OpImport     OpKind = "import"
	OpRemove     OpKind = "remove"
	OpInvalidate OpKind = "invalidate_token"
)

// Outcome is how a cycle ended.
type Outcome string

const (
	// OutcomeNoop: the plan was empty.
	OutcomeNoop Outcome = "noop"
	// OutcomeApplied: every plan entry succeeded.
	OutcomeApplied Outcome = "applied"
	// OutcomePartial: the plan ran to completion with failed entries.
	OutcomePartial Outcome = "partial"
	// OutcomeAborted: the cycle was discarded before or during execution.
	OutcomeAborted Outcome = "aborted"
	// OutcomeSkipped: the registry had no primary account.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeCancelled: sign-out or shutdown abandoned the cycle.
	OutcomeCancelled Outcome = "cancelled"
)

// CycleInfo identifies a cycle.
type CycleInfo struct {
	ID      string
	Seq     int64
	Trigger Trigger
}

// OperationReport describes one finished boundary operation. Cycle is zero
// for operations outside a cycle (the removal fast path and its fetch).
type OperationReport struct {
	Cycle   CycleInfo
	Kind    OpKind
	Account account.ID
	Index   int
	Err     error
}

// OK reports whether the operation succeeded.
func (r OperationReport) OK() bool {
	return r.Err == nil
}

// CycleReport describes a finished cycle.
type CycleReport struct {
	Cycle    CycleInfo
	Outcome  Outcome
	Plan     *account.Plan
	Failures int
	Reason   string
	Err      error
}

// Observer receives engine telemetry.
//
// All methods are called on the engine's loop goroutine, in the order the
// engine handled the corresponding events. Implementations must not call
// back into the engine synchronously and should return quickly.
type Observer interface {
	CycleStarted(info CycleInfo)
	PlanComputed(info CycleInfo, plan account.Plan, outcome account.ValidationOutcome)
	OperationFinished(report OperationReport)
	CycleFinished(report CycleReport)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) CycleStarted(CycleInfo) {}
func (NopObserver) PlanComputed(CycleInfo, account.Plan, account.ValidationOutcome) {}
func (NopObserver) OperationFinished(OperationReport) {}
func (NopObserver) CycleFinished(CycleReport) {}

// MultiObserver fans out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	out := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) CycleStarted(info CycleInfo) {
	for _, o := range m {
		o.CycleStarted(info)
	}
}

func (m multiObserver) PlanComputed(info CycleInfo, plan account.Plan, outcome account.ValidationOutcome) {
	for _, o := range m {
		o.PlanComputed(info, plan, outcome)
	}
}

func (m multiObserver) OperationFinished(report OperationReport) {
	for _, o := range m {
		o.OperationFinished(report)
	}
}

func (m multiObserver) CycleFinished(report CycleReport) {
	for _, o := range m {
		o.CycleFinished(report)
	}
}
