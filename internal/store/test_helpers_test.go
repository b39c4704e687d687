package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/correlate/internal/ir"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustExecute runs fn in a unit of work and fails the test on error.
func mustExecute(t *testing.T, s *Store, fn func(*Tx) error) {
	t.Helper()
	require.NoError(t, s.Execute(context.Background(), fn))
}

// seedDefinition deploys a definition with the given extensions.
func seedDefinition(t *testing.T, s *Store, id string, exts ...ir.Extension) {
	t.Helper()
	mustExecute(t, s, func(tx *Tx) error {
		return tx.WriteDefinition(context.Background(), ir.CaseDefinition{
			ID:         id,
			Key:        id,
			Extensions: exts,
		})
	})
}

// startSubscription builds a definition-level subscription.
func startSubscription(id, eventType, definitionID string, seq int64) ir.Subscription {
	return ir.Subscription{
		ID:                id,
		EventType:         eventType,
		ScopeType:         ir.ScopeTypeCase,
		ScopeDefinitionID: ir.Ptr(definitionID),
		Seq:               seq,
	}
}
