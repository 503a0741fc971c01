package manifest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() *Manifest {
	m := New()
	m.Entries["a.txt"] = Entry{Kind: KindFile, Size: 3, ContentHash: "aaa", UserID: "alice"}
	m.Entries["b.txt"] = Entry{Kind: KindFile, Size: 4, ContentHash: "bbb", UserID: "alice"}
	m.Entries["link"] = Entry{Kind: KindLink, Target: "a.txt", UserID: "alice"}
	m.Metadata.EntryCount = len(m.Entries)

	return m
}

func TestEntriesHashOrderIndependent(t *testing.T) {
	a := fixture()
	b := New()
	// insert in reverse order
	b.Entries["link"] = a.Entries["link"]
	b.Entries["b.txt"] = a.Entries["b.txt"]
	b.Entries["a.txt"] = a.Entries["a.txt"]

	assert.Equal(t, a.EntriesHash(), b.EntriesHash())
}

func TestEntriesHashChangesOnContent(t *testing.T) {
	a := fixture()
	b := fixture()
	e := b.Entries["a.txt"]
	e.ContentHash = "changed"
	b.Entries["a.txt"] = e

	assert.NotEqual(t, a.EntriesHash(), b.EntriesHash())
}

func TestSnapshotHashChains(t *testing.T) {
	m := fixture()
	m.Metadata.SnapshotID = "s1"
	m.Metadata.SnapshotMessage = "first snapshot"
	m.Stamp("", "")

	first := m.Metadata.SnapshotHash
	assert.NotEmpty(t, first)
	assert.True(t, VerifyChain(m, "", ""))

	m2 := fixture()
	m2.Metadata.SnapshotID = "s2"
	m2.Metadata.SnapshotMessage = "second snapshot"
	m2.Stamp("s1", first)

	assert.Equal(t, "s1", m2.Metadata.SnapshotPrevious)
	assert.NotEqual(t, first, m2.Metadata.SnapshotHash)
	assert.True(t, VerifyChain(m2, "s1", first))
	assert.False(t, VerifyChain(m2, "s1", "wrong-previous-hash"))
	assert.False(t, VerifyChain(m2, "wrong-id", first))
}

func TestSerializeRoundTrip(t *testing.T) {
	m := fixture()
	m.Metadata.ManifestVersion = ManifestVersion
	m.Metadata.SnapshotMessage = "roundtrip"
	m.Stamp("", "")

	var buf bytes.Buffer
	require.NoError(t, m.Serialize(&buf))

	got, err := Deserialize(&buf)
	require.NoError(t, err)

	assert.True(t, m.Equal(got))
	assert.Equal(t, m.Metadata, got.Metadata)
}

func TestDiff(t *testing.T) {
	a := fixture()
	b := a.Clone()
	delete(b.Entries, "b.txt")
	b.Entries["c.txt"] = Entry{Kind: KindFile, Size: 1, ContentHash: "ccc"}
	e := b.Entries["a.txt"]
	e.ContentHash = "changed"
	b.Entries["a.txt"] = e

	d := a.Diff(b)
	assert.ElementsMatch(t, []string{"c.txt"}, d.Removed)
	assert.ElementsMatch(t, []string{"b.txt"}, d.Added)
	assert.ElementsMatch(t, []string{"a.txt"}, d.Changed)
}

func TestValidate(t *testing.T) {
	m := fixture()
	require.NoError(t, m.Validate())

	bad := m.Clone()
	bad.Metadata.EntryCount = 99
	assert.Error(t, bad.Validate())
}
