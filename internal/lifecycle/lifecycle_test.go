package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/internal/plan"
	"github.com/hrdag/dsg/internal/remotefs/plainfs"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestEngineInitUploadsEverythingFromEmptyRemote(t *testing.T) {
	localRoot := t.TempDir()
	remoteRoot := t.TempDir()

	mustWrite(t, filepath.Join(localRoot, "a.txt"), "hello")
	mustWrite(t, filepath.Join(localRoot, "nested", "b.txt"), "world")

	e := &Engine{
		LocalRoot: localRoot,
		UserID:    "alice",
		Remote:    plainfs.New(remoteRoot),
	}

	report, err := e.Run(context.Background(), RunOpts{Kind: plan.KindInit}, nil)
	require.NoError(t, err)
	require.NotNil(t, report.TxnResult)
	assert.Equal(t, 2, report.TxnResult.Uploaded)
	assert.Equal(t, "s1", report.NewSnapID)

	gotA, err := os.ReadFile(filepath.Join(remoteRoot, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(gotA))

	gotB, err := os.ReadFile(filepath.Join(remoteRoot, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(gotB))

	// A second run with nothing changed on either side is a no-op.
	report2, err := e.Run(context.Background(), RunOpts{Kind: plan.KindSync}, nil)
	require.NoError(t, err)
	assert.True(t, report2.NoOp)
}

func TestEngineStatusReportsConflict(t *testing.T) {
	localRoot := t.TempDir()
	remoteRoot := t.TempDir()

	mustWrite(t, filepath.Join(localRoot, "a.txt"), "local-version")

	e := &Engine{
		LocalRoot: localRoot,
		UserID:    "alice",
		Remote:    plainfs.New(remoteRoot),
	}

	// Status reads R from the remote's persisted manifest, not a live
	// rescan, so the conflict has to be set up through a cached
	// baseline plus a remote manifest that both genuinely disagree
	// with the local file's content.
	cached := manifest.New()
	cached.Entries["a.txt"] = manifest.Entry{Kind: manifest.KindFile, Size: 1, ContentHash: "cached-hash", UserID: "alice"}
	require.NoError(t, e.saveCached(cached))

	remote := manifest.New()
	remote.Entries["a.txt"] = manifest.Entry{Kind: manifest.KindFile, Size: 2, ContentHash: "remote-hash", UserID: "alice"}
	writeRemoteManifest(t, remoteRoot, remote)

	states, err := e.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.True(t, states[0].State.IsConflict())
}

func TestEngineDryRunDoesNotApply(t *testing.T) {
	localRoot := t.TempDir()
	remoteRoot := t.TempDir()

	mustWrite(t, filepath.Join(localRoot, "a.txt"), "hello")

	e := &Engine{
		LocalRoot: localRoot,
		UserID:    "alice",
		Remote:    plainfs.New(remoteRoot),
	}

	report, err := e.Run(context.Background(), RunOpts{Kind: plan.KindInit, DryRun: true}, nil)
	require.NoError(t, err)
	assert.Nil(t, report.TxnResult)

	_, err = os.Stat(filepath.Join(remoteRoot, "a.txt"))
	assert.True(t, os.IsNotExist(err))
}

// writeRemoteManifest plants a remote manifest directly on disk,
// bypassing plainfs's transactional staging — test setup for "this
// remote already has this state", not a transaction under test.
func writeRemoteManifest(t *testing.T, remoteRoot string, m *manifest.Manifest) {
	t.Helper()

	dir := filepath.Join(remoteRoot, ".dsg")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	f, err := os.Create(filepath.Join(dir, "last-sync.json"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, m.Serialize(f))
}
