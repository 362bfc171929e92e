// Package testdb opens throwaway schedule databases for tests.
package testdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xjtu-toolbox/xjtutoolbox/data"
)

// Open returns a migrated store in a temp dir, closed when the test ends.
func Open(t testing.TB, opts ...data.Option) *data.Store {
	t.Helper()
	store, err := data.Open(filepath.Join(t.TempDir(), "schedule.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}
