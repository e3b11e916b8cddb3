package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/engine"
)

// Journal records cycles and operations. It implements engine.Observer.
//
// Observer methods cannot return errors, so write failures are logged and
// the engine carries on.
//
// Writes are synchronous. The engine calls observers on its Run goroutine,
// so each row is committed before the callback returns and a slow disk
// stalls the event loop for the length of the write.
type Journal struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalLogger sets the logger. Default: slog.Default().
func WithJournalLogger(l *slog.Logger) JournalOption {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithJournalClock sets the wall clock used for timestamps.
func WithJournalClock(now func() time.Time) JournalOption {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJournal creates a journal writing to s.
func NewJournal(s *Store, opts ...JournalOption) *Journal {
	j := &Journal{
		store:  s,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

var _ engine.Observer = (*Journal)(nil)

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(time.RFC3339Nano)
}

// CycleStarted implements engine.Observer.
func (j *Journal) CycleStarted(info engine.CycleInfo) {
	_, err := j.store.db.Exec(`
		INSERT INTO cycles (seq, id, cause, started_at)
		VALUES (?, ?, ?, ?)
	`, info.Seq, info.ID, string(info.Trigger), j.timestamp())
	j.logFailure("record cycle start", info, err)
}

// PlanComputed implements engine.Observer.
func (j *Journal) PlanComputed(info engine.CycleInfo, plan account.Plan, outcome account.ValidationOutcome) {
	fingerprint, err := plan.Fingerprint()
	if err != nil {
		j.logFailure("fingerprint plan", info, err)
		fingerprint = ""
	}
	_, err = j.store.db.Exec(`
		UPDATE cycles
		SET rebuild = ?, creates = ?, imports = ?,
		    valid_accounts = ?, invalid_accounts = ?, fingerprint = ?
		WHERE seq = ?
	`, plan.Rebuild, len(plan.ToCreateRemotely), len(plan.ToImportLocally),
		len(outcome.Valid), len(outcome.Invalid), fingerprint, info.Seq)
	j.logFailure("record plan", info, err)
}

// OperationFinished implements engine.Observer.
func (j *Journal) OperationFinished(report engine.OperationReport) {
	var cycleSeq sql.NullInt64
	if report.Cycle.Seq != 0 {
		cycleSeq = sql.NullInt64{Int64: report.Cycle.Seq, Valid: true}
	}
	index := -1
	if report.Kind == engine.OpImport {
		index = report.Index
	}
	var errMsg string
	if report.Err != nil {
		errMsg = report.Err.Error()
	}
	_, err := j.store.db.Exec(`
		INSERT INTO operations
		(cycle_seq, kind, account_id, session_index, error_code, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cycleSeq, string(report.Kind), string(report.Account), index,
		string(engine.CodeOf(report.Err)), errMsg, j.timestamp())
	j.logFailure("record operation", report.Cycle, err)
}

// CycleFinished implements engine.Observer.
func (j *Journal) CycleFinished(report engine.CycleReport) {
	var errMsg string
	if report.Err != nil {
		errMsg = report.Err.Error()
	}
	_, err := j.store.db.Exec(`
		UPDATE cycles
		SET outcome = ?, failures = ?, reason = ?, error = ?, finished_at = ?
		WHERE seq = ?
	`, string(report.Outcome), report.Failures, report.Reason, errMsg, j.timestamp(), report.Cycle.Seq)
	j.logFailure("record cycle finish", report.Cycle, err)
}

func (j *Journal) logFailure(what string, info engine.CycleInfo, err error) {
	if err == nil {
		return
	}
	j.logger.Error("journal write failed",
		"op", what,
		"cycle", info.ID,
		"seq", info.Seq,
		"error", err,
	)
}

// CycleRecord is one row of the cycles table.
type CycleRecord struct {
	Seq             int64      `json:"seq"`
	ID              string     `json:"id"`
	Trigger         string     `json:"trigger"`
	Outcome         string     `json:"outcome"`
	Rebuild         bool       `json:"rebuild"`
	Creates         int        `json:"creates"`
	Imports         int        `json:"imports"`
	ValidAccounts   int        `json:"valid_accounts"`
	InvalidAccounts int        `json:"invalid_accounts"`
	Fingerprint     string     `json:"fingerprint,omitempty"`
	Failures        int        `json:"failures"`
	Reason          string     `json:"reason,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// OperationRecord is one row of the operations table.
type OperationRecord struct {
	CycleSeq  int64      `json:"cycle_seq,omitempty"`
	Kind      string     `json:"kind"`
	Account   account.ID `json:"account,omitempty"`
	Index     int        `json:"index"`
	ErrorCode string     `json:"error_code,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Cycles returns the most recent cycles, newest first. limit <= 0 returns
// all of them.
func (s *Store) Cycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, cause, COALESCE(outcome, ''), rebuild, creates, imports,
		       valid_accounts, invalid_accounts, fingerprint, failures, reason, error,
		       started_at, finished_at
		FROM cycles
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	records := make([]CycleRecord, 0)
	for rows.Next() {
		var r CycleRecord
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.Seq, &r.ID, &r.Trigger, &r.Outcome, &r.Rebuild,
			&r.Creates, &r.Imports, &r.ValidAccounts, &r.InvalidAccounts,
			&r.Fingerprint, &r.Failures, &r.Reason, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("query cycles: scan: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("query cycles: cycle %d started_at: %w", r.Seq, err)
		}
		if finished.Valid {
			t, err := time.Parse(time.RFC3339Nano, finished.String)
			if err != nil {
				return nil, fmt.Errorf("query cycles: cycle %d finished_at: %w", r.Seq, err)
			}
			r.FinishedAt = &t
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	return records, nil
}

// Operations returns the operations of cycle seq in recording order. Seq 0
// returns the operations recorded outside any cycle.
func (s *Store) Operations(ctx context.Context, seq int64) ([]OperationRecord, error) {
	query := `
		SELECT COALESCE(cycle_seq, 0), kind, account_id, session_index, error_code, error
		FROM operations
		WHERE cycle_seq = ?
		ORDER BY id ASC
	`
	args := []any{seq}
	if seq == 0 {
		query = `
			SELECT 0, kind, account_id, session_index, error_code, error
			FROM operations
			WHERE cycle_seq IS NULL
			ORDER BY id ASC
		`
		args = nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	records := make([]OperationRecord, 0)
	for rows.Next() {
		var r OperationRecord
		var id string
		if err := rows.Scan(&r.CycleSeq, &r.Kind, &id, &r.Index, &r.ErrorCode, &r.Error); err != nil {
			return nil, fmt.Errorf("query operations: scan: %w", err)
		}
		r.Account = account.ID(id)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	return records, nil
}

// LastCycleSeq returns the highest recorded cycle sequence, or 0. The daemon
// resumes the engine's cycle clock from it.
func (s *Store) LastCycleSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM cycles`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last cycle seq: %w", err)
	}
	return seq, nil
}
