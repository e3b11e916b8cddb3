package engine

import (
	"context"

	"github.com/roach88/reconcilor/internal/account"
)

// pendingWork tracks a plan's in-flight side effects, keyed by operation
// handle. The cycle stays Planned until every set is empty.
//
// Creates run one at a time, in plan order, so the provider sees the rebuild
// primary first. On a rebuild no create is issued until the destroy has
// completed, successfully or not. Imports run concurrently.
type pendingWork struct {
	destroying bool
	destroyOp  uint64

	queued    []account.ID
	creating  map[uint64]account.ID
	importing map[uint64]account.ImportEntry
}

func newPendingWork(plan account.Plan) *pendingWork {
	queued := make([]account.ID, len(plan.ToCreateRemotely))
	copy(queued, plan.ToCreateRemotely)
	return &pendingWork{
		queued:    queued,
		creating:  make(map[uint64]account.ID),
		importing: make(map[uint64]account.ImportEntry),
	}
}

func (w *pendingWork) empty() bool {
	return !w.destroying && len(w.queued) == 0 && len(w.creating) == 0 && len(w.importing) == 0
}

// execute dispatches a plan's side effects.
func (e *Engine) execute(plan account.Plan) {
	c := e.cycle
	w := newPendingWork(plan)
	c.work = w
	seq := c.info.Seq

	if plan.Rebuild {
		op := uint64(e.ops.Next())
		w.destroying = true
		w.destroyOp = op
		e.dispatch(c.ctx, func(ctx context.Context) Event {
			return Event{Type: EventSessionsDestroyed, Cycle: seq, Op: op, Err: e.directory.DestroyAllSessions(ctx)}
		})
	}

	e.issueNextCreate()

	for _, entry := range plan.ToImportLocally {
		entry := entry
		op := uint64(e.ops.Next())
		w.importing[op] = entry
		e.dispatch(c.ctx, func(ctx context.Context) Event {
			return Event{Type: EventSessionImported, Cycle: seq, Op: op, Account: entry.ID, Err: e.importSession(ctx, entry)}
		})
	}
}

// importSession copies one remote session's credential into the registry.
func (e *Engine) importSession(ctx context.Context, entry account.ImportEntry) error {
	token, err := e.directory.FetchAuthToken(ctx, entry.Index)
	if err != nil {
		return err
	}
	return e.registry.UpdateCredentials(ctx, entry.ID, token)
}

func (e *Engine) issueNextCreate() {
	c := e.cycle
	w := c.work
	for len(w.queued) > 0 && c.removed.Has(w.queued[0]) {
		w.queued = w.queued[1:]
	}
	if w.destroying || len(w.creating) > 0 || len(w.queued) == 0 {
		return
	}

	id := w.queued[0]
	w.queued = w.queued[1:]
	op := uint64(e.ops.Next())
	w.creating[op] = id

	seq := c.info.Seq
	e.dispatch(c.ctx, func(ctx context.Context) Event {
		return Event{Type: EventSessionCreated, Cycle: seq, Op: op, Account: id, Err: e.directory.CreateSession(ctx, id)}
	})
}

func (e *Engine) onDestroyed(ev Event) {
	if !e.owns(ev) || e.cycle.work == nil {
		return
	}
	c := e.cycle
	w := c.work
	if !w.destroying || w.destroyOp != ev.Op {
		return
	}
	w.destroying = false

	report := OperationReport{Cycle: c.info, Kind: OpDestroy}
	if ev.Err != nil {
		c.failures++
		report.Err = newOpError(ErrCodeDestroyFailed, c.info.ID, "", "destroy all sessions", ev.Err)
	}
	e.report(report)

	e.issueNextCreate()
	e.maybeFinish()
}

func (e *Engine) onCreated(ev Event) {
	if !e.owns(ev) || e.cycle.work == nil {
		return
	}
	c := e.cycle
	id, ok := c.work.creating[ev.Op]
	if !ok {
		return
	}
	delete(c.work.creating, ev.Op)

	report := OperationReport{Cycle: c.info, Kind: OpCreate, Account: id}
	if ev.Err != nil {
		c.failures++
		report.Err = newOpError(ErrCodeCreateFailed, c.info.ID, id, "create session", ev.Err)
	}
	e.report(report)

	e.issueNextCreate()
	e.maybeFinish()
}

func (e *Engine) onImported(ev Event) {
	if !e.owns(ev) || e.cycle.work == nil {
		return
	}
	c := e.cycle
	entry, ok := c.work.importing[ev.Op]
	if !ok {
		return
	}
	delete(c.work.importing, ev.Op)

	report := OperationReport{Cycle: c.info, Kind: OpImport, Account: entry.ID, Index: entry.Index}
	if ev.Err != nil {
		c.failures++
		report.Err = newOpError(ErrCodeImportFailed, c.info.ID, entry.ID, "import session", ev.Err)
	}
	e.report(report)

	e.maybeFinish()
}

func (e *Engine) maybeFinish() {
	c := e.cycle
	if c == nil || c.work == nil || !c.work.empty() {
		return
	}
	if c.failures > 0 {
		e.finishCycle(OutcomePartial, "", nil)
		return
	}
	e.finishCycle(OutcomeApplied, "", nil)
}
