// Package remotefs defines the capability interfaces a dsg remote
// backend implements. Following the design notes' guidance to prefer
// capability interfaces over an inheritance hierarchy, a backend
// composes Filesystem with Transactional, and — only if its storage
// supports it — SnapshotCapable. The transaction coordinator (see
// internal/txn) type-asserts for SnapshotCapable when a lifecycle
// operation needs the init/clone/sync dataset patterns described in
// the specification's backend-driver section; everything else in the
// coordinator only ever depends on Filesystem and Transactional.
package remotefs

import (
	"context"
	"errors"
	"path"

	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/internal/transport"
)

// MetaDirName is the fixed name of the metadata directory under a
// repository root, on both the client and remote side (spec.md §6).
const MetaDirName = ".dsg"

// ManifestRelPath is the repository-relative path of the current
// manifest, the thing GetManifest/PutManifest read and write.
const ManifestRelPath = MetaDirName + "/last-sync.json"

// SyncMessagesRelPath is the repository-relative path of the
// append-only snapshot history.
const SyncMessagesRelPath = MetaDirName + "/sync-messages.json"

// ArchiveRelPath is the repository-relative path of the archived,
// LZ4-compressed manifest for snapshotID.
func ArchiveRelPath(snapshotID string) string {
	return path.Join(MetaDirName, "archive", snapshotID+"-sync.json.lz4")
}

// Filesystem is the minimal read/write/delete surface a remote
// backend exposes for the files a plan names, plus the metadata
// operations spec.md §4.6 requires of every backend: get_manifest,
// put_manifest, and list_snapshots. R in the three-way merge always
// comes from GetManifest — a persisted remote manifest — never from a
// live rescan of the remote tree.
type Filesystem interface {
	Send(ctx context.Context, path string) (transport.ContentStream, error)
	Recv(ctx context.Context, path string, stream transport.ContentStream) error
	Delete(ctx context.Context, path string) error

	// GetManifest returns the remote's current manifest, read from
	// ManifestRelPath. A backend with no manifest yet (a brand-new,
	// empty repository) returns an empty manifest, not an error.
	GetManifest(ctx context.Context) (*manifest.Manifest, error)
	// PutManifest stages m at ManifestRelPath inside the current
	// transaction; it is not visible until Commit.
	PutManifest(ctx context.Context, m *manifest.Manifest) error
	// ListSnapshots returns every snapshot id the remote's archive
	// holds, needed to reconcile which archived snapshots are missing
	// on either side during metadata exchange.
	ListSnapshots(ctx context.Context) ([]string, error)
}

// Transactional is the staging discipline every backend must provide
// so the two-phase commit coordinator can stage a whole plan's worth
// of changes before making any of them visible.
type Transactional interface {
	Begin(ctx context.Context, txID string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionalFilesystem is the combined interface the transaction
// coordinator actually holds a remote backend as.
type TransactionalFilesystem interface {
	Filesystem
	Transactional
}

// SnapshotCapable is implemented by backends whose underlying storage
// can version whole datasets natively (currently only zfsdriver). The
// init and sync lifecycle operations type-assert for this capability
// and use the temp-dataset-rename / snapshot-clone-promote patterns
// when it is present, falling back to a plain staged commit otherwise.
type SnapshotCapable interface {
	// DatasetExists reports whether the backend's target dataset is
	// already present, which is how a caller chooses between the init
	// and sync operation patterns (spec.md §4.10) without having to be
	// told in advance.
	DatasetExists(ctx context.Context) (bool, error)
	// InitDataset creates a brand-new dataset using the
	// temp-dataset-then-rename pattern, so a concurrent reader never
	// observes a partially-populated dataset at its final name, then
	// takes an immutable snapshot tagged snapshotID on the promoted
	// dataset.
	InitDataset(ctx context.Context, snapshotID string) error
	// PromoteSync snapshots the dataset's current state, clones it,
	// applies the staged transaction's changes to the clone, and
	// promotes the clone over the original — the snapshot-clone-promote
	// pattern used for every subsequent sync — then takes an immutable
	// snapshot tagged snapshotID on the promoted dataset.
	PromoteSync(ctx context.Context, txID, snapshotID string) error
}

// ErrBackendNotImplemented is returned by the unsupported backend
// stub for repository kinds the engine declares but does not
// implement (content_addressed_p2p, cloud_relay).
var ErrBackendNotImplemented = errors.New("remotefs: backend not implemented")
