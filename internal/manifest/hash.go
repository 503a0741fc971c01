package manifest

import (
	"fmt"
	"strings"

	"github.com/hrdag/dsg/pkg/contenthash"
)

// EntriesHash computes an order-independent digest over every entry
// in the manifest: xxh3_64 over the path-sorted concatenation of
// "path\x00file\x00size\x00hash\n" lines for files and
// "path\x00link\x00target\n" lines for symlinks. Order-independence
// matters because two manifests built by walking the same tree on two
// different hosts must hash identically regardless of directory
// iteration order — a property the teacher's per-row SQL hashing
// didn't need, since it never had to hash "the whole table" as one
// value.
func (m *Manifest) EntriesHash() string {
	var b strings.Builder

	for _, p := range m.SortedPaths() {
		e := m.Entries[p]

		switch e.Kind {
		case KindFile:
			fmt.Fprintf(&b, "%s\x00file\x00%d\x00%s\n", p, e.Size, e.ContentHash)
		case KindLink:
			fmt.Fprintf(&b, "%s\x00link\x00%s\n", p, e.Target)
		}
	}

	return contenthash.Sum([]byte(b.String()))
}

// SnapshotHash computes snapshot_hash = xxh3_64(entries_hash || NUL ||
// snapshot_message || NUL || previous_snapshot_hash_or_empty), chaining each
// snapshot to its predecessor so the archive can be verified link by
// link (see internal/archive and Blame/Log in internal/lifecycle).
func SnapshotHash(entriesHash, message, previous string) string {
	return contenthash.Sum([]byte(entriesHash + "\x00" + message + "\x00" + previous))
}

// Stamp fills in EntryCount, EntriesHash, SnapshotPrevious, and
// SnapshotHash from the manifest's current entries and its chain
// predecessor. previousSnapshotID is the predecessor's snapshot_id
// (the empty string for the first snapshot) and is what
// SnapshotPrevious records, so a later reader can look the
// predecessor up by id; previousSnapshotHash is that predecessor's
// own snapshot_hash, the value the chain formula folds in. These are
// deliberately two different values — SnapshotPrevious is a pointer
// by id, not a copy of the predecessor's hash. Callers set
// CreatedAt/CreatedBy/SnapshotID/SnapshotMessage before calling Stamp.
func (m *Manifest) Stamp(previousSnapshotID, previousSnapshotHash string) {
	m.Metadata.EntryCount = len(m.Entries)
	m.Metadata.EntriesHash = m.EntriesHash()
	m.Metadata.SnapshotPrevious = previousSnapshotID
	m.Metadata.SnapshotHash = SnapshotHash(m.Metadata.EntriesHash, m.Metadata.SnapshotMessage, previousSnapshotHash)
}

// VerifyChain checks that cur's snapshot_hash is consistent with its
// own entries_hash and message chained against previousSnapshotHash,
// and that its snapshot_previous field names previousSnapshotID.
func VerifyChain(cur *Manifest, previousSnapshotID, previousSnapshotHash string) bool {
	want := SnapshotHash(cur.Metadata.EntriesHash, cur.Metadata.SnapshotMessage, previousSnapshotHash)
	return want == cur.Metadata.SnapshotHash && cur.Metadata.SnapshotPrevious == previousSnapshotID
}
