package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ManifestVersion is the current on-disk schema version stamped into
// every snapshot manifest. Deserialize rejects any other non-empty
// manifest_version; a manifest with no manifest_version is accepted.
const ManifestVersion = "1"

// Serialize writes m as canonical JSON: a wrapper struct with
// explicit fields in a fixed order, rather than round-tripping
// through map[string]any, so two hosts encoding the same manifest
// produce byte-identical output (required for the archive's
// compress-then-hash-the-bytes use, and generally good practice for
// anything that gets diffed or committed to version control).
func (m *Manifest) Serialize(w io.Writer) error {
	type wireEntry struct {
		Path   string `json:"path"`
		Kind   string `json:"kind"`
		Size   int64  `json:"size,omitempty"`
		MTime  int64  `json:"mtime,omitempty"`
		Hash   string `json:"hash,omitempty"`
		Target string `json:"target,omitempty"`
		UserID string `json:"user_id"`
	}

	type wire struct {
		Metadata Metadata    `json:"metadata"`
		Entries  []wireEntry `json:"entries"`
	}

	out := wire{Metadata: m.Metadata}

	for _, p := range m.SortedPaths() {
		e := m.Entries[p]

		out.Entries = append(out.Entries, wireEntry{
			Path:   p,
			Kind:   e.Kind.String(),
			Size:   e.Size,
			MTime:  e.ModifiedTime,
			Hash:   e.ContentHash,
			Target: e.Target,
			UserID: e.UserID,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

// Deserialize reads a manifest previously written by Serialize.
func Deserialize(r io.Reader) (*Manifest, error) {
	type wireEntry struct {
		Path   string `json:"path"`
		Kind   string `json:"kind"`
		Size   int64  `json:"size,omitempty"`
		MTime  int64  `json:"mtime,omitempty"`
		Hash   string `json:"hash,omitempty"`
		Target string `json:"target,omitempty"`
		UserID string `json:"user_id"`
	}

	type wire struct {
		Metadata Metadata    `json:"metadata"`
		Entries  []wireEntry `json:"entries"`
	}

	var in wire
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}

	if v := in.Metadata.ManifestVersion; v != "" && v != ManifestVersion {
		return nil, fmt.Errorf("manifest: unsupported manifest_version %q", v)
	}

	m := New()
	m.Metadata = in.Metadata

	for _, we := range in.Entries {
		var kind EntryKind

		switch we.Kind {
		case "file":
			kind = KindFile
		case "link":
			kind = KindLink
		default:
			return nil, fmt.Errorf("manifest: entry %q has unknown kind %q", we.Path, we.Kind)
		}

		m.Entries[we.Path] = Entry{
			Kind:         kind,
			Size:         we.Size,
			ModifiedTime: we.MTime,
			ContentHash:  we.Hash,
			Target:       we.Target,
			UserID:       we.UserID,
		}
	}

	return m, nil
}

// Equal reports whether two manifests carry the same entries
// (ignoring metadata, which records provenance rather than content).
func (m *Manifest) Equal(o *Manifest) bool {
	if len(m.Entries) != len(o.Entries) {
		return false
	}

	for p, e := range m.Entries {
		oe, ok := o.Entries[p]
		if !ok || !e.Equal(oe) {
			return false
		}
	}

	return true
}

// Clone returns a deep copy of m, used by the manifest tests to
// mutate a manifest without affecting the original fixture.
func (m *Manifest) Clone() *Manifest {
	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		panic(fmt.Sprintf("manifest: BUG: clone of valid manifest failed: %v", err))
	}

	clone, err := Deserialize(&buf)
	if err != nil {
		panic(fmt.Sprintf("manifest: BUG: re-decode of just-serialized manifest failed: %v", err))
	}

	return clone
}
