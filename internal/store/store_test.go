package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open %d", i)
		_, statErr := os.Stat(path)
		require.NoError(t, statErr)

		var count int
		require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count))
		require.NoError(t, s.Close())
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())

	s := createTestStore(t)
	require.NoError(t, s.Close())
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)
	require.NotNil(t, s.DB())
	assert.NoError(t, s.DB().Ping())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(tt.name, tt.want))
		})
	}
}

// Schema table tests

// Schema table tests

func TestSchema_AccountsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "accounts")
	expected := []string{"id", "refresh_token", "position", "is_primary"}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("accounts table missing column %q, got %v", col, columns)
		}
	}
}

func TestSchema_CyclesTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "cycles")
	expected := []string{"seq", "id", "cause", "outcome", "rebuild", "creates", "imports",
		"valid_accounts", "invalid_accounts", "fingerprint", "failures", "reason", "error",
		"started_at", "finished_at"}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("cycles table missing column %q, got %v", col, columns)
		}
	}
}

func TestSchema_OperationsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "operations")
	expected := []string{"id", "cycle_seq", "kind", "account_id", "session_index",
		"error_code", "error", "recorded_at"}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("operations table missing column %q, got %v", col, columns)
		}
	}
}

func TestSchema_AccountsIndexes(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "accounts")
	for _, idx := range []string{"idx_accounts_primary", "idx_accounts_position"} {
		if !contains(indexes, idx) {
			t.Errorf("accounts table missing index %q, got %v", idx, indexes)
		}
	}
}

// Constraint tests

func TestConstraint_SinglePrimary(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO accounts (id, refresh_token, position, is_primary) VALUES ('a', 'rt', 0, 1)`)
	if err != nil {
		t.Fatalf("insert first primary: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO accounts (id, refresh_token, position, is_primary) VALUES ('b', 'rt', 1, 1)`)
	if err == nil {
		t.Error("expected unique violation for second primary account")
	}
}

func TestConstraint_AccessTokensCascade(t *testing.T) {
	s := createTestStore(t)

	if _, err := s.db.Exec(`INSERT INTO accounts (id, refresh_token, position) VALUES ('a', 'rt', 0)`); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO access_tokens (account_id, scope, token) VALUES ('a', 's', 't')`); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := s.db.Exec(`DELETE FROM accounts WHERE id = 'a'`); err != nil {
		t.Fatalf("delete account: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM access_tokens`).Scan(&count); err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 0 {
		t.Errorf("access_tokens not cascaded, %d rows left", count)
	}
}

func TestConstraint_ForeignKeyTokenToAccount(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO access_tokens (account_id, scope, token) VALUES ('ghost', 's', 't')`)
	if err == nil {
		t.Error("expected foreign key violation for token without account")
	}
}

func TestConstraint_ForeignKeyOperationToCycle(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO operations (cycle_seq, kind, recorded_at) VALUES (42, 'fetch', 'now')`)
	if err == nil {
		t.Error("expected foreign key violation for operation without cycle")
	}

	_, err = s.db.Exec(`INSERT INTO operations (cycle_seq, kind, recorded_at) VALUES (NULL, 'remove', 'now')`)
	if err != nil {
		t.Errorf("operation outside a cycle rejected: %v", err)
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	if _, err := s.db.Exec(`INSERT INTO accounts (id, refresh_token, position) VALUES ('a', 'rt', 0)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("in-memory database lost rows: count = %d", count)
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}

	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_V1OperationsIndexExists(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "operations")
	if !contains(indexes, "idx_operations_cycle") {
		t.Errorf("operations table missing idx_operations_cycle, indexes: %v", indexes)
	}
}

func TestMigration_IdempotentUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}

		var version int
		err = s.db.QueryRow("PRAGMA user_version").Scan(&version)
		if err != nil {
			t.Fatalf("failed to get user_version: %v", err)
		}

		if version != currentSchemaVersion {
			t.Errorf("iteration %d: user_version = %d, want %d", i, version, currentSchemaVersion)
		}

		s.Close()
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	// Schema without migrations, as written by a pre-migration build.
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	err = s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}

	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}

	indexes := getTableIndexes(t, s.db, "operations")
	if !contains(indexes, "idx_operations_cycle") {
		t.Errorf("expected idx_operations_cycle after migration, got indexes: %v", indexes)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
