// Package archive reads and writes the on-disk forms named in the
// repository layout: LZ4-compressed manifest snapshots under
// archive/<snapshot-id>-sync.json.lz4, and the append-only
// sync-messages.json history of every snapshot's metadata. Nothing
// else in dsg hand-rolls LZ4 framing; every caller that needs to
// persist or read an archived manifest goes through this package.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pierrec/lz4/v4"

	"github.com/hrdag/dsg/internal/manifest"
)

// WriteManifest LZ4-compresses m's canonical JSON serialization to w.
func WriteManifest(w io.Writer, m *manifest.Manifest) error {
	zw := lz4.NewWriter(w)
	defer zw.Close()

	if err := m.Serialize(zw); err != nil {
		return fmt.Errorf("archive: write manifest: %w", err)
	}

	return zw.Close()
}

// ReadManifest decompresses and deserializes a manifest previously
// written by WriteManifest.
func ReadManifest(r io.Reader) (*manifest.Manifest, error) {
	zr := lz4.NewReader(r)

	m, err := manifest.Deserialize(zr)
	if err != nil {
		return nil, fmt.Errorf("archive: read manifest: %w", err)
	}

	return m, nil
}

// snapshotFileName is the layout's fixed naming convention for an
// archived snapshot.
func snapshotFileName(snapshotID string) string {
	return snapshotID + "-sync.json.lz4"
}

// WriteSnapshot writes m to <archiveDir>/<snapshot-id>-sync.json.lz4.
func WriteSnapshot(archiveDir string, m *manifest.Manifest) error {
	if m.Metadata.SnapshotID == "" {
		return fmt.Errorf("archive: manifest has no snapshot_id")
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	path := filepath.Join(archiveDir, snapshotFileName(m.Metadata.SnapshotID))

	tmp, err := os.CreateTemp(archiveDir, ".archive-*")
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteManifest(tmp, m); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

// ReadSnapshot reads the archived manifest for snapshotID from
// archiveDir.
func ReadSnapshot(archiveDir, snapshotID string) (*manifest.Manifest, error) {
	path := filepath.Join(archiveDir, snapshotFileName(snapshotID))

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	return ReadManifest(f)
}

// ListSnapshotIDs returns every snapshot id archived under
// archiveDir, derived from the directory listing rather than
// sync-messages.json, so it stays correct even if the two drift.
func ListSnapshotIDs(archiveDir string) ([]string, error) {
	entries, err := os.ReadDir(archiveDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: listing %s: %w", archiveDir, err)
	}

	var ids []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		const suffix = "-sync.json.lz4"

		if name := e.Name(); strings.HasSuffix(name, suffix) {
			ids = append(ids, strings.TrimSuffix(name, suffix))
		}
	}

	sort.Slice(ids, func(i, j int) bool { return snapshotSeq(ids[i]) < snapshotSeq(ids[j]) })

	return ids, nil
}

// SyncMessagesVersion is the schema version stamped into
// sync-messages.json's top-level metadata_version field — the
// envelope's own format version, distinct from each snapshot's
// manifest_version.
const SyncMessagesVersion = "1"

// SyncMessages is sync-messages.json's full on-disk shape: `{
// "metadata_version": "...", "snapshots": { sid -> ManifestMetadata
// } }`, an id-keyed map rather than a chronological array. Every field
// named in a manifest's Metadata is present for every snapshot, so
// the map's value type is manifest.Metadata directly rather than a
// parallel struct.
type SyncMessages struct {
	path string

	MetadataVersion string                       `json:"metadata_version"`
	Snapshots       map[string]manifest.Metadata `json:"snapshots"`
}

// NewMessages returns an empty, unpathed history — used when a
// message set is built purely in memory (e.g. staged into a
// transaction for the remote side) rather than read from a local
// file.
func NewMessages() *SyncMessages {
	return &SyncMessages{MetadataVersion: SyncMessagesVersion, Snapshots: make(map[string]manifest.Metadata)}
}

// LoadMessages reads sync-messages.json at path, returning an empty
// history if the file does not yet exist (a brand-new repository).
func LoadMessages(path string) (*SyncMessages, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m := NewMessages()
		m.path = path
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load sync-messages: %w", err)
	}

	m, err := ParseMessages(data)
	if err != nil {
		return nil, err
	}

	m.path = path

	return m, nil
}

// ParseMessages decodes a sync-messages.json document from data, as
// read off the wire or out of a staged transaction file rather than
// the local filesystem. A document whose metadata_version is not
// SyncMessagesVersion (including one with no metadata_version at all)
// is rejected with an error.
func ParseMessages(data []byte) (*SyncMessages, error) {
	var m SyncMessages
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("archive: parse sync-messages: %w", err)
	}

	if m.MetadataVersion != SyncMessagesVersion {
		return nil, fmt.Errorf("archive: parse sync-messages: unsupported metadata_version %q", m.MetadataVersion)
	}

	if m.Snapshots == nil {
		m.Snapshots = make(map[string]manifest.Metadata)
	}

	return &m, nil
}

// Put upserts meta into the in-memory history, keyed by its
// snapshot_id, without touching disk. Append calls this, then writes;
// callers building a history purely to Marshal it into a transaction
// (no local path) call Put directly.
func (m *SyncMessages) Put(meta manifest.Metadata) {
	if m.Snapshots == nil {
		m.Snapshots = make(map[string]manifest.Metadata)
	}

	if m.MetadataVersion == "" {
		m.MetadataVersion = SyncMessagesVersion
	}

	m.Snapshots[meta.SnapshotID] = meta
}

// Marshal renders the history as the canonical sync-messages.json
// bytes.
func (m *SyncMessages) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: marshal sync-messages: %w", err)
	}

	return data, nil
}

// Append adds meta's snapshot to the history, keyed by its
// snapshot_id, and rewrites sync-messages.json. Re-appending an
// existing snapshot_id overwrites that entry, which is how a
// metadata-exchange step reconciles entries pulled from a remote that
// already has them.
func (m *SyncMessages) Append(meta manifest.Metadata) error {
	m.Put(meta)

	data, err := m.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("archive: write sync-messages: %w", err)
	}

	return os.Rename(tmp, m.path)
}

// Ordered returns every snapshot's metadata in chronological order,
// derived from the numeric sequence embedded in each "sN" snapshot_id
// rather than map iteration order, which Go does not guarantee.
func (m *SyncMessages) Ordered() []manifest.Metadata {
	ids := make([]string, 0, len(m.Snapshots))
	for id := range m.Snapshots {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return snapshotSeq(ids[i]) < snapshotSeq(ids[j]) })

	out := make([]manifest.Metadata, len(ids))
	for i, id := range ids {
		out[i] = m.Snapshots[id]
	}

	return out
}

// Last returns the most recent snapshot's metadata, or false if the
// history is empty (a fresh repository with no snapshots yet).
func (m *SyncMessages) Last() (manifest.Metadata, bool) {
	ordered := m.Ordered()
	if len(ordered) == 0 {
		return manifest.Metadata{}, false
	}

	return ordered[len(ordered)-1], true
}

// NextSnapshotID returns the next "sN" id in sequence: "s1" for an
// empty history, "s{k+1}" where k is the largest existing snapshot
// integer otherwise (spec.md §3/§4.9).
func (m *SyncMessages) NextSnapshotID() string {
	max := 0

	for id := range m.Snapshots {
		if n := snapshotSeq(id); n > max {
			max = n
		}
	}

	return fmt.Sprintf("s%d", max+1)
}

// SnapshotSeq extracts the integer n from an "sN" snapshot_id,
// returning 0 for anything that doesn't match (so a corrupt or
// foreign id sorts first rather than panicking). Exported so callers
// outside this package (lifecycle's remote/local chain cross-check)
// can compare snapshot ids without duplicating the parse.
func SnapshotSeq(id string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(id, "s"))
	return n
}

// snapshotSeq is the package-internal alias used by sort callbacks
// above.
func snapshotSeq(id string) int { return SnapshotSeq(id) }
