package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"time"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/directory"
	"github.com/roach88/reconcilor/internal/engine"
	"github.com/roach88/reconcilor/internal/probe"
	"github.com/roach88/reconcilor/internal/store"
	"github.com/roach88/reconcilor/internal/testutil"
)

// maxSettleRounds bounds one settle. A scenario that keeps producing work
// past it has a feedback loop.
const maxSettleRounds = 10000

// journalEpoch is the first timestamp written to the journal.
var journalEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness wires the real engine, credential store and prober to an
// in-memory provider. Boundary calls are queued and run by hand, so a
// scenario always produces the same trace.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	provider *directory.Memory
	tasks    *testutil.TaskQueue
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database.
//
// Execution flow:
//  1. Seed the store with the local accounts and the provider with its
//     sessions and faults
//  2. Attach the engine to the store's change notifications
//  3. Run each step, then run the engine and the provider until both idle
//  4. Check expectations and assertions against the trace and end state
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	result := NewResult()

	h := &Harness{
		store:    st,
		provider: directory.NewMemory(),
		tasks:    testutil.NewTaskQueue(),
		logger:   logger,
	}

	prober := probe.New(
		probe.NewCachedTokens(st, h.provider),
		h.provider,
		probe.WithLogger(logger),
		probe.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	journal := store.NewJournal(st,
		store.WithJournalLogger(logger),
		store.WithJournalClock(testutil.NewStepClock(journalEpoch, time.Second).Now),
	)
	h.engine = engine.New(h.provider, st, prober,
		engine.WithSpawner(h.tasks.Spawn),
		engine.WithInterval(0),
		engine.WithCycleIDs(engine.NewSequenceGenerator("cycle")),
		engine.WithObserver(engine.MultiObserver(&recorder{result: result}, journal)),
		engine.WithLogger(logger),
	)

	ctx := context.Background()

	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed scenario: %w", err)
	}
	detach := st.Attach(h.engine)
	defer detach()

	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
		if err := h.settle(); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
		h.logger.Info("step completed", "step", i, "do", step.Do, "account", step.Account)
	}

	primary, err := st.PrimaryAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("read final primary: %w", err)
	}
	accounts, err := st.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("read final accounts: %w", err)
	}
	result.Local = account.NewLocalSet(primary, accounts)
	result.Remote = h.provider.Sessions()
	result.Calls = h.provider.Calls()

	if scenario.Expect != nil {
		checkExpect(result, scenario.Expect)
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// seed installs the scenario's starting state. The engine is not attached
// yet, so nothing here reaches it.
func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	for _, raw := range scenario.Local.Accounts {
		id := account.ID(raw)
		if _, err := h.store.AddAccount(ctx, id, h.provider.AddAccount(account.Normalize(raw))); err != nil {
			return err
		}
	}
	if scenario.Local.Primary != "" {
		if err := h.store.SetPrimary(ctx, account.ID(scenario.Local.Primary)); err != nil {
			return err
		}
	}

	h.provider.SetSessions(scenario.Provider.Sessions)
	if scenario.Faults != nil {
		h.applyFaults(scenario.Faults)
	}
	h.provider.ResetCalls()
	return nil
}

func (h *Harness) runStep(ctx context.Context, step Step) error {
	id := account.ID(step.Account)

	switch step.Do {
	case StepSignIn:
		h.engine.OnSignedIn()
	case StepSignOut:
		return h.store.ClearPrimary(ctx)
	case StepReconcile:
		h.engine.StartReconcile()
	case StepRemoteChanged:
		if step.Sessions != nil {
			h.provider.SetSessions(step.Sessions)
		}
		h.engine.OnRemoteSessionsChanged()
	case StepAddAccount:
		token := h.provider.AddAccount(account.Normalize(step.Account))
		_, err := h.store.AddAccount(ctx, id, token)
		return err
	case StepRemoveAccount:
		return h.store.RemoveAccount(ctx, id)
	case StepSetPrimary:
		return h.store.SetPrimary(ctx, id)
	case StepFaults:
		h.applyFaults(step.Faults)
	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
	return nil
}

// settle alternates between handling every queued engine event and running
// every boundary call spawned so far, until neither side has work.
func (h *Harness) settle() error {
	for round := 0; round < maxSettleRounds; round++ {
		handled := h.engine.Drain()
		ran := h.tasks.RunAll()
		if handled == 0 && ran == 0 {
			return nil
		}
	}
	return fmt.Errorf("scenario did not settle after %d rounds", maxSettleRounds)
}

func (h *Harness) applyFaults(f *Faults) {
	p := h.provider
	p.FailList(faultError(f.ListError))
	p.FailDestroy(faultError(f.DestroyError))
	p.FailFetchToken(faultError(f.FetchTokenError))
	p.FailRemove(faultError(f.RemoveError))

	for id, msg := range f.CreateErrors {
		p.FailCreate(account.ID(id), faultError(msg))
	}
	for _, id := range f.Revoked {
		p.Revoke(account.ID(id))
	}
	for _, id := range f.DenyUserInfo {
		p.DenyUserInfo(account.ID(id))
	}
	for id, n := range f.FlakyUserInfo {
		p.FailUserInfo(account.ID(id), n)
	}
	for id, as := range f.Impersonate {
		p.Impersonate(account.ID(id), account.ID(as))
	}
}

// faultError turns a fault message into a transport-style provider error.
func faultError(msg string) error {
	if msg == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", engine.ErrUnavailable, msg)
}

func checkExpect(result *Result, expect *Expect) {
	if expect.Outcomes != nil {
		got := result.Outcomes()
		if !reflect.DeepEqual(got, expect.Outcomes) {
			result.AddError(fmt.Sprintf("outcomes: expected %v, got %v", expect.Outcomes, got))
		}
	}

	if expect.Remote != nil {
		if !sameSessions(result.Remote, expect.Remote) {
			result.AddError(fmt.Sprintf("remote sessions: expected %v, got %v", expect.Remote, result.Remote))
		}
	}

	if expect.Local != nil {
		if got := string(result.Local.Primary); got != expect.Local.Primary {
			result.AddError(fmt.Sprintf("local primary: expected %q, got %q", expect.Local.Primary, got))
		}
		got := make([]string, len(result.Local.Accounts))
		for i, id := range result.Local.Accounts {
			got[i] = string(id)
		}
		want := expect.Local.Accounts
		if want == nil {
			want = []string{}
		}
		if !reflect.DeepEqual(got, want) {
			result.AddError(fmt.Sprintf("local accounts: expected %v, got %v", want, got))
		}
	}
}

func sameSessions(got account.RemoteSessionList, want []account.RemoteSession) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
