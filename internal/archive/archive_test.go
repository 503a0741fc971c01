package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdag/dsg/internal/manifest"
)

func sampleManifest(id string) *manifest.Manifest {
	m := manifest.New()
	m.Entries["a.txt"] = manifest.Entry{Kind: manifest.KindFile, Size: 1, ContentHash: "aaa"}
	m.Metadata.ManifestVersion = manifest.ManifestVersion
	m.Metadata.SnapshotID = id
	m.Metadata.SnapshotMessage = "test snapshot " + id
	m.Stamp("", "")

	return m
}

func TestWriteReadSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := sampleManifest("s1")

	require.NoError(t, WriteSnapshot(dir, m))

	got, err := ReadSnapshot(dir, "s1")
	require.NoError(t, err)
	assert.True(t, m.Equal(got))
	assert.Equal(t, m.Metadata.SnapshotHash, got.Metadata.SnapshotHash)
}

func TestListSnapshotIDs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteSnapshot(dir, sampleManifest("s1")))
	require.NoError(t, WriteSnapshot(dir, sampleManifest("s2")))
	require.NoError(t, WriteSnapshot(dir, sampleManifest("s10")))

	ids, err := ListSnapshotIDs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s10"}, ids)
}

func TestMessagesAppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-messages.json")

	msgs, err := LoadMessages(path)
	require.NoError(t, err)

	_, ok := msgs.Last()
	assert.False(t, ok)

	assert.Equal(t, "s1", msgs.NextSnapshotID())

	m1 := sampleManifest("s1")
	require.NoError(t, msgs.Append(m1.Metadata))

	m2 := sampleManifest("s2")
	m2.Stamp("s1", m1.Metadata.SnapshotHash)
	require.NoError(t, msgs.Append(m2.Metadata))

	reloaded, err := LoadMessages(path)
	require.NoError(t, err)
	assert.Equal(t, SyncMessagesVersion, reloaded.MetadataVersion)
	assert.Len(t, reloaded.Snapshots, 2)
	assert.Equal(t, "s3", reloaded.NextSnapshotID())

	last, ok := reloaded.Last()
	require.True(t, ok)
	assert.Equal(t, "s2", last.SnapshotID)
	assert.Equal(t, "s1", last.SnapshotPrevious)

	ordered := reloaded.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "s1", ordered[0].SnapshotID)
	assert.Equal(t, "s2", ordered[1].SnapshotID)
}
