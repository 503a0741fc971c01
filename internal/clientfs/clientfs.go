// Package clientfs implements the local half of a sync transaction:
// the working tree the user edits directly. It stages incoming
// writes and deletes under the repository's metadata directory and
// only makes them visible on Commit, with a crash marker so a
// process killed mid-commit leaves detectable, recoverable state
// instead of a silently half-applied tree. This mirrors the staging
// discipline of the teacher's Executor (stage, then apply phase by
// phase, fatal-vs-skip per phase) adapted to dsg's stronger
// all-or-nothing commit requirement.
package clientfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hrdag/dsg/internal/archive"
	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/internal/remotefs"
	"github.com/hrdag/dsg/internal/transport"
)

// MetaDirName is the reserved directory at the root of every working
// tree dsg manages.
const MetaDirName = remotefs.MetaDirName

const committingMarker = ".committing"

// deletionsDirName is the staging subdirectory holding one empty
// marker file per path queued for deletion (spec.md §4.5: "mark for
// deletion by placing a marker under <staging>/.deletions/<rel_path>").
// A deletion must survive a crash the same way a staged write does, so
// it cannot live only in the in-memory deletes map.
const deletionsDirName = ".deletions"

// Filesystem is dsg's client-side transaction participant.
type Filesystem struct {
	root       string
	stagingDir string
	pending    map[string]string
	deletes    map[string]bool
	logger     *slog.Logger
}

// New returns a Filesystem rooted at the given working tree.
func New(root string, logger *slog.Logger) *Filesystem {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return &Filesystem{root: root, logger: logger}
}

// Begin creates a fresh staging directory for txID, first checking
// for (and refusing to proceed past) a leftover crash marker from an
// interrupted prior transaction — Recover must be called explicitly
// to resolve that before starting new work.
func (f *Filesystem) Begin(ctx context.Context, txID string) error {
	crashed, err := f.PendingRecovery()
	if err != nil {
		return fmt.Errorf("clientfs: begin: %w", err)
	}
	if crashed != "" {
		return fmt.Errorf("clientfs: begin: unresolved crash marker from transaction %q; run recovery first", crashed)
	}

	f.stagingDir = filepath.Join(f.root, MetaDirName, "staging", txID)
	f.pending = make(map[string]string)
	f.deletes = make(map[string]bool)

	if err := os.MkdirAll(f.stagingDir, 0o755); err != nil {
		return fmt.Errorf("clientfs: begin: %w", err)
	}

	return ctx.Err()
}

// Send opens path in the working tree for reading (the upload path:
// client is the transfer source).
func (f *Filesystem) Send(ctx context.Context, path string) (transport.ContentStream, error) {
	abs := filepath.Join(f.root, filepath.FromSlash(path))

	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("clientfs: send %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("clientfs: stat %s: %w", path, err)
	}

	return transport.NewFileStream(file, info.Size()), ctx.Err()
}

// Recv stages stream's content for path (the download path: client is
// the transfer destination). Nothing is visible in the working tree
// until Commit.
func (f *Filesystem) Recv(ctx context.Context, path string, stream transport.ContentStream) error {
	defer stream.Close()

	if f.stagingDir == "" {
		return fmt.Errorf("clientfs: recv %s: no transaction in progress", path)
	}

	stagedPath := filepath.Join(f.stagingDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(stagedPath), 0o755); err != nil {
		return fmt.Errorf("clientfs: recv %s: %w", path, err)
	}

	out, err := os.Create(stagedPath)
	if err != nil {
		return fmt.Errorf("clientfs: recv %s: %w", path, err)
	}

	if _, err := io.Copy(out, stream); err != nil {
		out.Close()
		return fmt.Errorf("clientfs: recv %s: %w", path, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("clientfs: recv %s: %w", path, err)
	}

	f.pending[path] = stagedPath

	return ctx.Err()
}

// Delete marks path for removal from the working tree on Commit. The
// mark is durable across a crash: besides the in-memory deletes entry,
// an empty file is written at .deletions/<rel_path> under the staging
// directory so Recover can finish an interrupted deletion without
// replaying the transaction's plan.
func (f *Filesystem) Delete(ctx context.Context, path string) error {
	if f.deletes == nil {
		f.deletes = make(map[string]bool)
	}

	f.deletes[path] = true

	marker := filepath.Join(f.stagingDir, deletionsDirName, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return fmt.Errorf("clientfs: delete %s: %w", path, err)
	}

	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("clientfs: delete %s: %w", path, err)
	}

	return ctx.Err()
}

// GetManifest reads the working tree's current manifest from
// remotefs.ManifestRelPath, returning a fresh empty manifest if none
// has been written yet.
func (f *Filesystem) GetManifest(ctx context.Context) (*manifest.Manifest, error) {
	abs := filepath.Join(f.root, filepath.FromSlash(remotefs.ManifestRelPath))

	file, err := os.Open(abs)
	if os.IsNotExist(err) {
		return manifest.New(), ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("clientfs: get manifest: %w", err)
	}
	defer file.Close()

	m, err := manifest.Deserialize(file)
	if err != nil {
		return nil, fmt.Errorf("clientfs: get manifest: %w", err)
	}

	return m, ctx.Err()
}

// PutManifest stages m's canonical JSON at remotefs.ManifestRelPath
// through the ordinary Recv staging path.
func (f *Filesystem) PutManifest(ctx context.Context, m *manifest.Manifest) error {
	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		return fmt.Errorf("clientfs: put manifest: %w", err)
	}

	return f.Recv(ctx, remotefs.ManifestRelPath, transport.NewBytesStream(buf.Bytes()))
}

// ListSnapshots returns every snapshot id archived under the working
// tree's .dsg/archive directory.
func (f *Filesystem) ListSnapshots(ctx context.Context) ([]string, error) {
	ids, err := archive.ListSnapshotIDs(filepath.Join(f.root, MetaDirName, "archive"))
	if err != nil {
		return nil, err
	}

	return ids, ctx.Err()
}

// Commit writes a crash marker, applies every staged write and
// delete, then clears the marker and removes the staging directory.
// If the process dies between the marker being written and cleared, a
// subsequent Recover call detects it.
func (f *Filesystem) Commit(ctx context.Context) error {
	marker := filepath.Join(f.stagingDir, committingMarker)
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("clientfs: commit: write crash marker: %w", err)
	}

	if err := f.applyStaged(); err != nil {
		return err
	}

	return f.cleanupStaging(ctx)
}

func (f *Filesystem) applyStaged() error {
	for path, staged := range f.pending {
		dst := filepath.Join(f.root, filepath.FromSlash(path))

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("clientfs: commit %s: %w", path, err)
		}

		if err := os.Rename(staged, dst); err != nil {
			return fmt.Errorf("clientfs: commit %s: %w", path, err)
		}
	}

	for path := range f.deletes {
		dst := filepath.Join(f.root, filepath.FromSlash(path))

		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clientfs: commit delete %s: %w", path, err)
		}
	}

	return nil
}

// Rollback discards everything staged for the current transaction
// without touching the working tree.
func (f *Filesystem) Rollback(ctx context.Context) error {
	return f.cleanupStaging(ctx)
}

func (f *Filesystem) cleanupStaging(ctx context.Context) error {
	if f.stagingDir == "" {
		return nil
	}

	err := os.RemoveAll(f.stagingDir)
	f.stagingDir = ""
	f.pending = nil
	f.deletes = nil

	if err != nil {
		return fmt.Errorf("clientfs: cleanup staging: %w", err)
	}

	return ctx.Err()
}

// PendingRecovery reports the txID of a staging directory left behind
// by a process that died mid-commit, or "" if none exists. Begin
// calls this to refuse starting new work until Recover has resolved
// it.
func (f *Filesystem) PendingRecovery() (string, error) {
	return findCrashedTx(filepath.Join(f.root, MetaDirName, "staging"))
}

// findCrashedTx scans stagingRoot's immediate subdirectories for one
// still holding a committingMarker file, which Commit only ever
// leaves behind when it died between writing the marker and clearing
// it.
func findCrashedTx(stagingRoot string) (string, error) {
	entries, err := os.ReadDir(stagingRoot)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("clientfs: scan staging: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		marker := filepath.Join(stagingRoot, e.Name(), committingMarker)
		if _, err := os.Stat(marker); err == nil {
			return e.Name(), nil
		}
	}

	return "", nil
}

// Recover finishes or discards the interrupted transaction txID,
// found via a leftover committingMarker. Commit only ever writes that
// marker immediately before applying staged writes and deletes, so a
// marker found here means the crash happened during or after
// application — never before it started. Anything still present under
// the staging directory was never successfully applied (a completed
// rename removes its own source), so Recover finishes the job rather
// than rolling it back: it processes every .deletions/<rel_path>
// marker by removing the corresponding working-tree file, then
// renames every remaining staged write into place, then removes the
// staging directory.
func (f *Filesystem) Recover(ctx context.Context, txID string) error {
	dir := filepath.Join(f.root, MetaDirName, "staging", txID)

	marker := filepath.Join(dir, committingMarker)
	if _, err := os.Stat(marker); os.IsNotExist(err) {
		// no crash marker: this transaction never reached commit, so
		// nothing was ever applied to the working tree.
		return os.RemoveAll(dir)
	}

	f.logger.Warn("recovering interrupted transaction", slog.String("tx", txID))

	deletionsDir := filepath.Join(dir, deletionsDirName)
	if err := filepath.WalkDir(deletionsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(deletionsDir, path)
		if err != nil {
			return err
		}

		dst := filepath.Join(f.root, rel)
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}

		return nil
	}); err != nil {
		return fmt.Errorf("clientfs: recover %s: finish deletions: %w", txID, err)
	}

	if err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		if rel == committingMarker || strings.HasPrefix(rel, deletionsDirName+string(filepath.Separator)) {
			return nil
		}

		dst := filepath.Join(f.root, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}

		return os.Rename(path, dst)
	}); err != nil {
		return fmt.Errorf("clientfs: recover %s: finish writes: %w", txID, err)
	}

	return os.RemoveAll(dir)
}
