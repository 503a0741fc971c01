package lock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireBlocksSecondCaller(t *testing.T) {
	dir := t.TempDir()
	meta := filepath.Join(dir, ".dsg")

	l1, err := Acquire(meta)
	require.NoError(t, err)

	_, err = Acquire(meta)
	assert.Error(t, err)

	require.NoError(t, l1.Release())

	l2, err := Acquire(meta)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
