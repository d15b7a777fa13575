package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		s, err := sqlite.New(filepath.Join(t.TempDir(), "leave.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestStore_InMemory(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	types, err := s.ListLeaveTypes(t.Context())
	require.NoError(t, err)
	require.Empty(t, types)
}
