package clientfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdag/dsg/internal/transport"
)

func newStream(content string) transport.ContentStream {
	return transport.NewFileStream(io_NopCloser{strings.NewReader(content)}, int64(len(content)))
}

type io_NopCloser struct{ *strings.Reader }

func (io_NopCloser) Close() error { return nil }

func TestCommitAppliesStagedWrites(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	fs := New(root, nil)
	require.NoError(t, fs.Begin(ctx, "tx1"))
	require.NoError(t, fs.Recv(ctx, "a/b.txt", newStream("hello")))
	require.NoError(t, fs.Commit(ctx))

	data, err := os.ReadFile(filepath.Join(root, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = os.Stat(filepath.Join(root, MetaDirName, "staging", "tx1"))
	assert.True(t, os.IsNotExist(err))
}

func TestRollbackDiscardsStaged(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	fs := New(root, nil)
	require.NoError(t, fs.Begin(ctx, "tx1"))
	require.NoError(t, fs.Recv(ctx, "a.txt", newStream("data")))
	require.NoError(t, fs.Rollback(ctx))

	_, err := os.Stat(filepath.Join(root, "a.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteRemovesOnCommit(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "gone.txt"), []byte("x"), 0o644))

	fs := New(root, nil)
	require.NoError(t, fs.Begin(ctx, "tx1"))
	require.NoError(t, fs.Delete(ctx, "gone.txt"))
	require.NoError(t, fs.Commit(ctx))

	_, err := os.Stat(filepath.Join(root, "gone.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestBeginRefusesWithCrashMarker(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	stagingDir := filepath.Join(root, MetaDirName, "staging", "tx1")
	require.NoError(t, os.MkdirAll(stagingDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, committingMarker), nil, 0o644))

	fs := New(root, nil)
	err := fs.Begin(ctx, "tx2")
	assert.Error(t, err)
}
