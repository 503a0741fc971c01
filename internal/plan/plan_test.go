package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/internal/merge"
)

func entry(hash string) *manifest.Entry {
	return &manifest.Entry{Kind: manifest.KindFile, ContentHash: hash}
}

func TestBuildNoConflicts(t *testing.T) {
	states := []merge.PathState{
		{Path: "new-local.txt", State: merge.LXCXR},
		{Path: "new-remote.txt", State: merge.XLXCR},
		{Path: "remote-changed.txt", State: merge.LCRLEqualCNeR},
		{Path: "local-changed.txt", State: merge.LCRCEqualRNeL},
		{Path: "remote-deleted.txt", State: merge.LCxRLEqualC},
		{Path: "local-deleted.txt", State: merge.XLCRCEqualR},
	}

	p, err := Build(states, KindSync)
	require.NoError(t, err)

	assert.Equal(t, []string{"local-changed.txt", "new-local.txt"}, p.Uploads)
	assert.Equal(t, []string{"new-remote.txt", "remote-changed.txt"}, p.Downloads)
	assert.Equal(t, []string{"remote-deleted.txt"}, p.LocalDeletes)
	assert.Equal(t, []string{"local-deleted.txt"}, p.RemoteDeletes)
	assert.Equal(t, 6, p.TotalActions())
}

func TestBuildConflictsReturnSentinel(t *testing.T) {
	states := []merge.PathState{
		{Path: "conflict.txt", State: merge.LCRAllDiffer},
	}

	p, err := Build(states, KindSync)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflictsPresent))
	assert.Len(t, p.Conflicts, 1)
}

func TestOrderingDeletesDeepestFirst(t *testing.T) {
	states := []merge.PathState{
		{Path: "a/b/c.txt", State: merge.LCxRLEqualC},
		{Path: "a.txt", State: merge.LCxRLEqualC},
		{Path: "a/b.txt", State: merge.LCxRLEqualC},
	}

	p, err := Build(states, KindSync)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c.txt", "a/b.txt", "a.txt"}, p.LocalDeletes)
}

func TestOrderingCreatesShallowestFirst(t *testing.T) {
	states := []merge.PathState{
		{Path: "a/b/c.txt", State: merge.LXCXR},
		{Path: "a.txt", State: merge.LXCXR},
		{Path: "a/b.txt", State: merge.LXCXR},
	}

	p, err := Build(states, KindSync)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "a/b.txt", "a/b/c.txt"}, p.Uploads)
}

func TestInferKind(t *testing.T) {
	assert.Equal(t, KindInit, InferKind(false, false))
	assert.Equal(t, KindClone, InferKind(false, true))
	assert.Equal(t, KindSync, InferKind(true, false))
	assert.Equal(t, KindSync, InferKind(true, true))
}
