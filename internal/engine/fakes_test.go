package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/testutil"
)

// fakeDirectory records every call and answers from static configuration.
type fakeDirectory struct {
	mu         sync.Mutex
	sessions   account.RemoteSessionList
	listErr    error
	destroyErr error
	createErr  map[account.ID]error
	tokenErr   error
	removeErr  error
	calls      []string
}

func (d *fakeDirectory) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDirectory) ListSessions(ctx context.Context) (account.RemoteSessionList, error) {
	d.record("list")
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make(account.RemoteSessionList, len(d.sessions))
	copy(out, d.sessions)
	return out, nil
}

func (d *fakeDirectory) CreateSession(ctx context.Context, id account.ID) error {
	d.record("create:" + string(id))
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createErr[id]
}

func (d *fakeDirectory) DestroyAllSessions(ctx context.Context) error {
	d.record("destroy")
	return d.destroyErr
}

func (d *fakeDirectory) FetchAuthToken(ctx context.Context, index int) (string, error) {
	d.record(fmt.Sprintf("token:%d", index))
	if d.tokenErr != nil {
		return "", d.tokenErr
	}
	return fmt.Sprintf("tok-%d", index), nil
}

func (d *fakeDirectory) RemoveSession(ctx context.Context, id account.ID, remaining []account.ID) error {
	ids := make([]string, len(remaining))
	for i, r := range remaining {
		ids[i] = string(r)
	}
	d.record("remove:" + string(id) + "|" + strings.Join(ids, ","))
	return d.removeErr
}

func (d *fakeDirectory) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *fakeDirectory) Count(prefix string) int {
	n := 0
	for _, c := range d.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// fakeRegistry is an in-memory credential registry.
type fakeRegistry struct {
	mu          sync.Mutex
	primary     account.ID
	accounts    []account.ID
	creds       map[account.ID]string
	invalidated []account.ID
	updateErr   error
}

func (r *fakeRegistry) PrimaryAccount(ctx context.Context) (account.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary, nil
}

func (r *fakeRegistry) ListAccounts(ctx context.Context) ([]account.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]account.ID, len(r.accounts))
	copy(out, r.accounts)
	return out, nil
}

func (r *fakeRegistry) UpdateCredentials(ctx context.Context, id account.ID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if r.creds == nil {
		r.creds = make(map[account.ID]string)
	}
	r.creds[id] = token
	return nil
}

func (r *fakeRegistry) InvalidateToken(ctx context.Context, id account.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, id)
	return nil
}

func (r *fakeRegistry) Creds() map[account.ID]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[account.ID]string, len(r.creds))
	for k, v := range r.creds {
		out[k] = v
	}
	return out
}

func (r *fakeRegistry) Invalidated() []account.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]account.ID(nil), r.invalidated...)
}

// fakeProber answers from a table; unknown accounts are valid.
type fakeProber struct {
	mu      sync.Mutex
	results map[account.ID]ProbeResult
	probed  []account.ID
}

func (p *fakeProber) Probe(ctx context.Context, id account.ID) ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, id)
	if r, ok := p.results[id]; ok {
		return r
	}
	return ProbeResult{Valid: true}
}

// recordingObserver keeps every notification.
type recordingObserver struct {
	mu       sync.Mutex
	started  []CycleInfo
	plans    []account.Plan
	outcomes []account.ValidationOutcome
	ops      []OperationReport
	finished []CycleReport
}

func (o *recordingObserver) CycleStarted(info CycleInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, info)
}

func (o *recordingObserver) PlanComputed(info CycleInfo, plan account.Plan, outcome account.ValidationOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plans = append(o.plans, plan)
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) OperationFinished(r OperationReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, r)
}

func (o *recordingObserver) CycleFinished(r CycleReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, r)
}

func (o *recordingObserver) Finished() []CycleReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]CycleReport(nil), o.finished...)
}

func (o *recordingObserver) Ops(kind OpKind) []OperationReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OperationReport
	for _, r := range o.ops {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func (o *recordingObserver) LastPlan(t *testing.T) account.Plan {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.plans, "no plan computed")
	return o.plans[len(o.plans)-1]
}

// testEngine wires an Engine to fakes and a hand-driven task queue.
type testEngine struct {
	t      *testing.T
	eng    *Engine
	tasks  *testutil.TaskQueue
	dir    *fakeDirectory
	reg    *fakeRegistry
	prober *fakeProber
	obs    *recordingObserver
}

func newTestEngine(t *testing.T, primary account.ID, local []account.ID, remote account.RemoteSessionList) *testEngine {
	t.Helper()
	te := &testEngine{
		t:      t,
		tasks:  testutil.NewTaskQueue(),
		dir:    &fakeDirectory{sessions: remote, createErr: map[account.ID]error{}},
		reg:    &fakeRegistry{primary: primary, accounts: local},
		prober: &fakeProber{results: map[account.ID]ProbeResult{}},
		obs:    &recordingObserver{},
	}
	te.eng = New(te.dir, te.reg, te.prober,
		WithSpawner(te.tasks.Spawn),
		WithObserver(te.obs),
		WithInterval(0),
		WithCycleIDs(NewSequenceGenerator("c")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return te
}

// settle alternates between handling events and running tasks until both
// are exhausted.
func (te *testEngine) settle() {
	te.t.Helper()
	for i := 0; i < 1000; i++ {
		handled := te.eng.Drain()
		ran := te.tasks.RunAll()
		if handled == 0 && ran == 0 {
			return
		}
	}
	te.t.Fatal("engine did not settle")
}

func (te *testEngine) signIn() {
	te.t.Helper()
	te.eng.OnSignedIn()
	te.settle()
}
