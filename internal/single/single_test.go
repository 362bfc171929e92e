package single

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unix socket paths are short on some systems, so avoid t.TempDir
func socket(t *testing.T) string {
	dir, err := os.MkdirTemp("", "xt")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestSecondInstanceWakesFirst(t *testing.T) {
	path := socket(t)
	var wakes atomic.Int32

	first, primary, err := Acquire(path, func() { wakes.Add(1) })
	require.NoError(t, err)
	require.True(t, primary)
	defer first.Close()

	second, primary, err := Acquire(path, nil)
	require.NoError(t, err)
	assert.False(t, primary)
	assert.Nil(t, second)

	assert.Eventually(t, func() bool { return wakes.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), wakes.Load())
}

func TestStaleSocketIsReplaced(t *testing.T) {
	path := socket(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	inst, primary, err := Acquire(path, nil)
	require.NoError(t, err)
	assert.True(t, primary)
	require.NoError(t, inst.Close())
	assert.NoFileExists(t, path)
}
