package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/engine"
)

func TestMetricsCountCycleActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	info := engine.CycleInfo{ID: "c-1", Seq: 1, Trigger: engine.TriggerManual}

	m.CycleStarted(info)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciling))

	outcome := account.NewValidationOutcome()
	outcome.Resolve("a", true)
	outcome.Resolve("b", false)
	m.PlanComputed(info, account.Plan{
		ToCreateRemotely: []account.ID{"a"},
		ToImportLocally:  []account.ImportEntry{{ID: "c", Index: 1}, {ID: "d", Index: 2}},
	}, outcome)

	m.OperationFinished(engine.OperationReport{Cycle: info, Kind: engine.OpFetch})
	m.OperationFinished(engine.OperationReport{Cycle: info, Kind: engine.OpCreate, Account: "a"})
	m.OperationFinished(engine.OperationReport{Cycle: info, Kind: engine.OpImport, Err: errors.New("boom")})
	m.CycleFinished(engine.CycleReport{Cycle: info, Outcome: engine.OutcomePartial, Failures: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("fetch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("import", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accounts.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accounts.WithLabelValues("invalid")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.reconciling))

	assert.Equal(t, 2, testutil.CollectAndCount(m.planEntries))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CycleFinished(engine.CycleReport{Outcome: engine.OutcomeNoop})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `reconcilor_cycles_total{outcome="noop"} 1`)
}

func TestNewPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
