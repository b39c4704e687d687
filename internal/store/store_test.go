package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"case_definitions", "definition_extensions", "event_subscriptions", "case_instances", "plan_item_instances"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_SetsUserVersion(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSchema_SubscriptionColumns(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "event_subscriptions")
	expected := []string{
		"id", "event_type", "tenant_id", "scope_type", "configuration",
		"sub_scope_id", "scope_id", "scope_definition_id", "seq",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("event_subscriptions table missing column %q", col)
		}
	}
}

func TestSchema_CaseInstanceColumns(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "case_instances")
	expected := []string{
		"id", "definition_id", "tenant_id", "definition_tenant_override",
		"reference_id", "reference_type", "state", "created_seq", "started_seq",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("case_instances table missing column %q", col)
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := createTestStore(t)

	subIndexes := getTableIndexes(t, s.db, "event_subscriptions")
	for _, idx := range []string{
		"idx_event_subscriptions_lookup",
		"idx_event_subscriptions_configuration",
		"idx_event_subscriptions_sub_scope",
	} {
		if !contains(subIndexes, idx) {
			t.Errorf("event_subscriptions table missing index %q", idx)
		}
	}

	caseIndexes := getTableIndexes(t, s.db, "case_instances")
	for _, idx := range []string{"idx_case_instances_reference", "idx_case_instances_state"} {
		if !contains(caseIndexes, idx) {
			t.Errorf("case_instances table missing index %q", idx)
		}
	}
}

func TestExecute_CommitsOnSuccess(t *testing.T) {
	s := createTestStore(t)

	seedDefinition(t, s, "def-1")

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM case_definitions").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestExecute_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Execute(ctx, func(tx *Tx) error {
		if err := tx.WriteSubscription(ctx, startSubscription("sub-1", "orderPlaced", "def-1", 1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM event_subscriptions").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestExecute_RollsBackOnPanic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.Execute(ctx, func(tx *Tx) error {
			if err := tx.WriteSubscription(ctx, startSubscription("sub-1", "orderPlaced", "def-1", 1)); err != nil {
				return err
			}
			panic("boom")
		})
	})

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM event_subscriptions").Scan(&count))
	assert.Equal(t, 0, count)
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
