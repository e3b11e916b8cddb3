package engine

import (
	"context"
	"time"

	"github.com/roach88/reconcilor/internal/account"
)

// State is the engine's lifecycle state.
//
//	Inert --signin--> Idle --start--> Gathering --gathered--> Planned --drained--> Idle
//	                              \-- fetch failed / snapshot failed --> (Aborted) --> Idle
//	any --signout--> Inert
//
// Aborted is transient: the cycle is discarded and the engine is Idle again
// in the same step.
type State int32

const (
	StateInert State = iota
	StateIdle
	StateGathering
	StatePlanned
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInert:
		return "inert"
	case StateIdle:
		return "idle"
	case StateGathering:
		return "gathering"
	case StatePlanned:
		return "planned"
	default:
		return "unknown"
	}
}

// cycle holds everything that lives for one reconciliation cycle. It is
// dropped, with its pending work, when the cycle ends.
type cycle struct {
	info   CycleInfo
	ctx    context.Context
	cancel context.CancelFunc

	local     account.LocalSet
	validator *validator

	sessions account.RemoteSessionList
	listed   bool

	plan     *account.Plan
	work     *pendingWork
	failures int
	started  time.Time

	// removed holds accounts removed while the cycle ran. They are never
	// created remotely, even if the snapshot still listed them.
	removed account.Set
}

// owns reports whether ev is a result for the running cycle.
func (e *Engine) owns(ev Event) bool {
	return ev.Epoch == e.epoch && e.cycle != nil && e.cycle.info.Seq == ev.Cycle
}

func (e *Engine) startReconcile(trigger Trigger) {
	switch {
	case e.State() == StateInert:
		e.logger.Debug("reconcile skipped: signed out", "trigger", string(trigger))
		return
	case e.cycle != nil:
		e.logger.Debug("reconcile skipped: cycle in progress",
			"trigger", string(trigger), "cycle", e.cycle.info.ID)
		return
	}

	ctx, cancel := context.WithCancel(e.opsCtx)
	c := &cycle{
		info: CycleInfo{
			ID:      e.cycleIDs.Generate(),
			Seq:     e.cycles.Next(),
			Trigger: trigger,
		},
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
	}
	e.cycle = c
	e.setState(StateGathering)

	e.logger.Info("cycle started", "cycle", c.info.ID, "seq", c.info.Seq, "trigger", string(trigger))
	e.observer.CycleStarted(c.info)

	seq := c.info.Seq
	e.dispatch(c.ctx, func(ctx context.Context) Event {
		primary, err := e.registry.PrimaryAccount(ctx)
		if err != nil {
			return Event{Type: EventSnapshotTaken, Cycle: seq, Err: err}
		}
		accounts, err := e.registry.ListAccounts(ctx)
		if err != nil {
			return Event{Type: EventSnapshotTaken, Cycle: seq, Err: err}
		}
		return Event{Type: EventSnapshotTaken, Cycle: seq, Local: account.NewLocalSet(primary, accounts)}
	})
}

// onSnapshot fans out the two gathers: one shared session fetch and one
// probe per local account.
func (e *Engine) onSnapshot(ev Event) {
	if !e.owns(ev) {
		return
	}
	c := e.cycle

	if ev.Err != nil {
		e.finishCycle(OutcomeAborted, "registry unreadable",
			newOpError(ErrCodeSnapshotFailed, c.info.ID, "", "read local accounts", ev.Err))
		return
	}
	if !ev.Local.SignedIn() {
		e.finishCycle(OutcomeSkipped, "no primary account", nil)
		return
	}
	if err := ev.Local.Validate(); err != nil {
		e.finishCycle(OutcomeAborted, "inconsistent local accounts",
			newOpError(ErrCodeSnapshotFailed, c.info.ID, ev.Local.Primary, "validate snapshot", err))
		return
	}

	c.local = ev.Local
	c.validator = newValidator(c.local.Accounts)

	seq := c.info.Seq
	e.fetcher.Fetch(func(sessions account.RemoteSessionList, err error) {
		e.onSessionsListed(seq, sessions, err)
	})

	for _, id := range c.local.Accounts {
		id := id
		e.dispatch(c.ctx, func(ctx context.Context) Event {
			return Event{Type: EventProbeResolved, Cycle: seq, Account: id, Probe: e.prober.Probe(ctx, id)}
		})
	}

	e.logger.Debug("gathering", "cycle", c.info.ID, "accounts", len(c.local.Accounts))
}

func (e *Engine) onSessionsListed(seq int64, sessions account.RemoteSessionList, err error) {
	if e.cycle == nil || e.cycle.info.Seq != seq {
		return
	}
	c := e.cycle

	if err != nil {
		rerr := newOpError(ErrCodeFetchFailed, c.info.ID, "", "list sessions", err)
		e.report(OperationReport{Cycle: c.info, Kind: OpFetch, Err: rerr})
		e.finishCycle(OutcomeAborted, "session fetch failed", rerr)
		return
	}

	c.sessions = sessions
	c.listed = true
	e.report(OperationReport{Cycle: c.info, Kind: OpFetch})
	e.maybePlan()
}

func (e *Engine) onProbe(ev Event) {
	if !e.owns(ev) || e.cycle.validator == nil {
		return
	}
	c := e.cycle

	if !c.validator.resolve(ev.Account, ev.Probe.Valid) {
		return
	}

	report := OperationReport{Cycle: c.info, Kind: OpProbe, Account: ev.Account}
	if !ev.Probe.Valid {
		cause := ev.Probe.Err
		if cause == nil {
			cause = ErrAccountMismatch
		}
		report.Err = newOpError(ErrCodeProbeFailed, c.info.ID, ev.Account, "validate account", cause)
	}
	e.report(report)

	if ev.Probe.InvalidateToken {
		id := ev.Account
		seq := c.info.Seq
		// Runs on the activation context so an aborted cycle still drops
		// the bad token.
		e.dispatch(e.opsCtx, func(ctx context.Context) Event {
			err := e.registry.InvalidateToken(ctx, id)
			return Event{Type: EventTokenInvalidated, Cycle: seq, Account: id, Err: err}
		})
	}

	e.maybePlan()
}

// maybePlan runs the planner once both gathers are complete.
func (e *Engine) maybePlan() {
	c := e.cycle
	if c == nil || c.plan != nil || !c.listed || c.validator == nil || !c.validator.done() {
		return
	}

	plan := Plan(c.local, c.sessions, c.validator.outcome)
	plan.ToCreateRemotely = withoutRemoved(plan.ToCreateRemotely, c.removed)
	c.plan = &plan
	e.setState(StatePlanned)

	e.logger.Info("plan computed",
		"cycle", c.info.ID,
		"rebuild", plan.Rebuild,
		"creates", len(plan.ToCreateRemotely),
		"imports", len(plan.ToImportLocally),
	)
	e.observer.PlanComputed(c.info, plan, c.validator.outcome)

	if plan.Empty() {
		e.finishCycle(OutcomeNoop, "", nil)
		return
	}
	e.execute(plan)
}

func withoutRemoved(creates []account.ID, removed account.Set) []account.ID {
	if len(removed) == 0 {
		return creates
	}
	kept := make([]account.ID, 0, len(creates))
	for _, id := range creates {
		if !removed.Has(id) {
			kept = append(kept, id)
		}
	}
	return kept
}

// finishCycle ends the running cycle, cancels whatever it still has in
// flight and reports the outcome.
func (e *Engine) finishCycle(outcome Outcome, reason string, err error) {
	c := e.cycle
	if c == nil {
		return
	}
	c.cancel()
	e.cycle = nil
	if e.State() != StateInert {
		e.setState(StateIdle)
	}

	attrs := []any{
		"cycle", c.info.ID,
		"outcome", string(outcome),
		"failures", c.failures,
		"elapsed", time.Since(c.started),
	}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		e.logger.Warn("cycle finished", attrs...)
	} else {
		e.logger.Info("cycle finished", attrs...)
	}

	e.observer.CycleFinished(CycleReport{
		Cycle:    c.info,
		Outcome:  outcome,
		Plan:     c.plan,
		Failures: c.failures,
		Reason:   reason,
		Err:      err,
	})
}

// removeAccount is the fast path for a removed local account: list the
// sessions through the shared fetcher, abandon the running cycle, and ask
// the provider to drop the account's session. The running cycle stops
// creating id at once, since its snapshot may predate the removal.
func (e *Engine) removeAccount(id account.ID) {
	if e.State() == StateInert {
		return
	}
	if c := e.cycle; c != nil {
		if c.removed == nil {
			c.removed = account.NewSet()
		}
		c.removed.Add(id)
	}

	e.fetcher.Fetch(func(sessions account.RemoteSessionList, err error) {
		if err != nil {
			e.report(OperationReport{
				Kind:    OpRemove,
				Account: id,
				Err:     newOpError(ErrCodeRemoveFailed, "", id, "list sessions", err),
			})
			return
		}

		if e.cycle != nil {
			e.finishCycle(OutcomeAborted, "account removed", nil)
		}

		present := false
		remaining := make([]account.ID, 0, len(sessions))
		for _, sid := range sessions.IDs() {
			if sid == id {
				present = true
				continue
			}
			remaining = append(remaining, sid)
		}
		if !present {
			e.logger.Debug("no remote session to remove", "account", string(id))
			return
		}

		op := uint64(e.ops.Next())
		e.dispatch(e.opsCtx, func(ctx context.Context) Event {
			err := e.directory.RemoveSession(ctx, id, remaining)
			return Event{Type: EventSessionRemoved, Op: op, Account: id, Err: err}
		})
	})
}

func (e *Engine) onRemoved(ev Event) {
	if ev.Epoch != e.epoch {
		return
	}
	report := OperationReport{Kind: OpRemove, Account: ev.Account}
	if ev.Err != nil {
		report.Err = newOpError(ErrCodeRemoveFailed, "", ev.Account, "remove session", ev.Err)
	}
	e.report(report)
}

func (e *Engine) onTokenInvalidated(ev Event) {
	if ev.Epoch != e.epoch {
		return
	}
	report := OperationReport{Kind: OpInvalidate, Account: ev.Account}
	if e.cycle != nil && e.cycle.info.Seq == ev.Cycle {
		report.Cycle = e.cycle.info
	}
	report.Err = ev.Err
	e.report(report)
}

func (e *Engine) signIn() {
	if e.State() != StateInert {
		// Already registered; a repeat sign-in only asks for a cycle.
		e.startReconcile(TriggerSignedIn)
		return
	}

	e.epoch++
	e.opsCtx, e.cancelOps = context.WithCancel(context.Background())
	e.fetcher.reset()
	e.setState(StateIdle)
	if e.interval > 0 {
		e.ticker = time.NewTicker(e.interval)
	}

	e.logger.Info("engine active", "epoch", e.epoch, "interval", e.interval)
	e.startReconcile(TriggerSignedIn)
}

func (e *Engine) signOut() {
	if e.State() == StateInert {
		return
	}
	e.teardown()
	e.logger.Info("engine inert", "epoch", e.epoch)
}

// teardown abandons everything in flight. Late results carry the old epoch
// and are dropped on arrival.
func (e *Engine) teardown() {
	if e.State() == StateInert {
		return
	}
	e.setState(StateInert)

	if e.cycle != nil {
		e.finishCycle(OutcomeCancelled, "signed out",
			&ReconcileError{Code: ErrCodeCancelled, Message: "pending work abandoned", Cycle: e.cycle.info.ID})
	}
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	if e.cancelOps != nil {
		e.cancelOps()
	}
	e.fetcher.reset()
	e.epoch++
}

func (e *Engine) report(r OperationReport) {
	if r.Err != nil {
		e.logger.Warn("operation failed",
			"op", string(r.Kind),
			"cycle", r.Cycle.ID,
			"account", string(r.Account),
			"error", r.Err,
		)
	} else {
		e.logger.Debug("operation finished",
			"op", string(r.Kind),
			"cycle", r.Cycle.ID,
			"account", string(r.Account),
		)
	}
	e.observer.OperationFinished(r)
}
