package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/engine"
	"github.com/roach88/reconcilor/internal/testutil"
)

var journalEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJournal(t *testing.T) (*Store, *Journal) {
	t.Helper()
	s := createTestStore(t)
	clock := testutil.NewStepClock(journalEpoch, time.Second)
	return s, NewJournal(s, WithJournalClock(clock.Now))
}

func TestJournalRecordsCycle(t *testing.T) {
	ctx := context.Background()
	s, j := newTestJournal(t)
	info := engine.CycleInfo{ID: "c-1", Seq: 1, Trigger: engine.TriggerManual}
	plan := account.Plan{
		Rebuild:          true,
		ToCreateRemotely: []account.ID{"a", "b"},
		ToImportLocally:  []account.ImportEntry{},
	}
	outcome := account.NewValidationOutcome()
	outcome.Resolve("a", true)
	outcome.Resolve("b", true)
	outcome.Resolve("c", false)

	j.CycleStarted(info)
	j.PlanComputed(info, plan, outcome)
	j.OperationFinished(engine.OperationReport{Cycle: info, Kind: engine.OpDestroy})
	j.OperationFinished(engine.OperationReport{
		Cycle:   info,
		Kind:    engine.OpCreate,
		Account: "b",
		Err: &engine.ReconcileError{
			Code:    engine.ErrCodeCreateFailed,
			Message: "create session",
			Err:     errors.New("boom"),
		},
	})
	j.CycleFinished(engine.CycleReport{Cycle: info, Outcome: engine.OutcomePartial, Plan: &plan, Failures: 1})

	cycles, err := s.Cycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)

	fp, err := plan.Fingerprint()
	require.NoError(t, err)

	c := cycles[0]
	assert.Equal(t, int64(1), c.Seq)
	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, "manual", c.Trigger)
	assert.Equal(t, "partial", c.Outcome)
	assert.True(t, c.Rebuild)
	assert.Equal(t, 2, c.Creates)
	assert.Equal(t, 0, c.Imports)
	assert.Equal(t, 2, c.ValidAccounts)
	assert.Equal(t, 1, c.InvalidAccounts)
	assert.Equal(t, fp, c.Fingerprint)
	assert.Equal(t, 1, c.Failures)
	assert.Equal(t, journalEpoch, c.StartedAt)
	require.NotNil(t, c.FinishedAt)
	assert.True(t, c.FinishedAt.After(c.StartedAt))

	ops, err := s.Operations(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []OperationRecord{
		{CycleSeq: 1, Kind: "destroy", Index: -1},
		{CycleSeq: 1, Kind: "create", Account: "b", Index: -1, ErrorCode: "CREATE_FAILED",
			Error: "CREATE_FAILED: create session: boom"},
	}, ops)
}

func TestJournalUnfinishedCycle(t *testing.T) {
	s, j := newTestJournal(t)
	j.CycleStarted(engine.CycleInfo{ID: "c-1", Seq: 1, Trigger: engine.TriggerTimer})

	cycles, err := s.Cycles(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "", cycles[0].Outcome)
	assert.Nil(t, cycles[0].FinishedAt)
}

func TestJournalWritesBeforeReturning(t *testing.T) {
	ctx := context.Background()
	s, j := newTestJournal(t)
	info := engine.CycleInfo{ID: "c-1", Seq: 1, Trigger: engine.TriggerManual}

	j.CycleStarted(info)
	seq, err := s.LastCycleSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "cycle row visible once CycleStarted returns")

	j.OperationFinished(engine.OperationReport{Cycle: info, Kind: engine.OpCreate, Account: "b"})
	ops, err := s.Operations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	j.CycleFinished(engine.CycleReport{Cycle: info, Outcome: engine.OutcomeApplied})
	cycles, err := s.Cycles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "applied", cycles[0].Outcome)
}

func TestJournalOperationsOutsideCycle(t *testing.T) {
	ctx := context.Background()
	s, j := newTestJournal(t)

	j.OperationFinished(engine.OperationReport{Kind: engine.OpRemove, Account: "b"})

	ops, err := s.Operations(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []OperationRecord{{Kind: "remove", Account: "b", Index: -1}}, ops)
}

func TestJournalImportIndex(t *testing.T) {
	ctx := context.Background()
	s, j := newTestJournal(t)
	info := engine.CycleInfo{ID: "c-1", Seq: 1, Trigger: engine.TriggerManual}

	j.CycleStarted(info)
	j.OperationFinished(engine.OperationReport{Cycle: info, Kind: engine.OpImport, Account: "c", Index: 2})

	ops, err := s.Operations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].Index)
}

func TestCyclesNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s, j := newTestJournal(t)
	for seq := int64(1); seq <= 5; seq++ {
		info := engine.CycleInfo{ID: fmt.Sprintf("c-%d", seq), Seq: seq, Trigger: engine.TriggerTimer}
		j.CycleStarted(info)
		j.CycleFinished(engine.CycleReport{Cycle: info, Outcome: engine.OutcomeNoop})
	}

	cycles, err := s.Cycles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, int64(5), cycles[0].Seq)
	assert.Equal(t, int64(4), cycles[1].Seq)

	all, err := s.Cycles(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	last, err := s.LastCycleSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
}

func TestLastCycleSeqEmpty(t *testing.T) {
	s := createTestStore(t)

	last, err := s.LastCycleSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
}

func TestJournalSurvivesWriteFailure(t *testing.T) {
	s, j := newTestJournal(t)
	info := engine.CycleInfo{ID: "c-1", Seq: 1, Trigger: engine.TriggerManual}
	j.CycleStarted(info)

	// Duplicate seq: the insert fails and is only logged.
	assert.NotPanics(t, func() { j.CycleStarted(info) })

	cycles, err := s.Cycles(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, cycles, 1)
}
