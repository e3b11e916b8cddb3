package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore opens a store on a fresh file that is closed when the
// test ends.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/store.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
