// Package plainfs implements remotefs.Filesystem and
// remotefs.Transactional over an ordinary directory tree — the
// filesystem_xfs repository kind. It has no native snapshot support,
// so it does not implement remotefs.SnapshotCapable; the transaction
// coordinator commits it through its plain staged Commit instead.
package plainfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hrdag/dsg/internal/archive"
	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/internal/remotefs"
	"github.com/hrdag/dsg/internal/transport"
)

const metaDirName = remotefs.MetaDirName

// Filesystem roots its operations at a plain directory.
type Filesystem struct {
	root       string
	stagingDir string
	pending    map[string]string // manifest path -> staged temp file
	deletes    map[string]bool
}

// New returns a plainfs.Filesystem rooted at root.
func New(root string) *Filesystem {
	return &Filesystem{root: root}
}

var (
	_ remotefs.Filesystem     = (*Filesystem)(nil)
	_ remotefs.Transactional  = (*Filesystem)(nil)
)

// Begin creates a fresh staging directory for txID.
func (f *Filesystem) Begin(ctx context.Context, txID string) error {
	f.stagingDir = filepath.Join(f.root, metaDirName, "staging", txID)
	f.pending = make(map[string]string)
	f.deletes = make(map[string]bool)

	if err := os.MkdirAll(f.stagingDir, 0o755); err != nil {
		return fmt.Errorf("plainfs: begin: %w", err)
	}

	return ctx.Err()
}

// Send opens path under root for streaming out (used when this
// backend is the transfer source, e.g. serving a download).
func (f *Filesystem) Send(ctx context.Context, path string) (transport.ContentStream, error) {
	abs := filepath.Join(f.root, filepath.FromSlash(path))

	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("plainfs: send %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("plainfs: stat %s: %w", path, err)
	}

	return transport.NewFileStream(file, info.Size()), ctx.Err()
}

// Recv stages stream's content under the transaction's staging
// directory; it is not visible at path until Commit.
func (f *Filesystem) Recv(ctx context.Context, path string, stream transport.ContentStream) error {
	defer stream.Close()

	if f.stagingDir == "" {
		return fmt.Errorf("plainfs: recv %s: no transaction in progress", path)
	}

	stagedPath := filepath.Join(f.stagingDir, sanitizeStageName(path))

	if err := os.MkdirAll(filepath.Dir(stagedPath), 0o755); err != nil {
		return fmt.Errorf("plainfs: recv %s: %w", path, err)
	}

	out, err := os.Create(stagedPath)
	if err != nil {
		return fmt.Errorf("plainfs: recv %s: %w", path, err)
	}

	if _, err := io.Copy(out, stream); err != nil {
		out.Close()
		return fmt.Errorf("plainfs: recv %s: %w", path, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("plainfs: recv %s: %w", path, err)
	}

	f.pending[path] = stagedPath

	return ctx.Err()
}

// Delete marks path for removal on Commit.
func (f *Filesystem) Delete(ctx context.Context, path string) error {
	if f.deletes == nil {
		f.deletes = make(map[string]bool)
	}

	f.deletes[path] = true

	return ctx.Err()
}

// GetManifest reads the current manifest from ManifestRelPath under
// root, returning a fresh empty manifest if the repository has no
// manifest yet.
func (f *Filesystem) GetManifest(ctx context.Context) (*manifest.Manifest, error) {
	abs := filepath.Join(f.root, filepath.FromSlash(remotefs.ManifestRelPath))

	file, err := os.Open(abs)
	if os.IsNotExist(err) {
		return manifest.New(), ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("plainfs: get manifest: %w", err)
	}
	defer file.Close()

	m, err := manifest.Deserialize(file)
	if err != nil {
		return nil, fmt.Errorf("plainfs: get manifest: %w", err)
	}

	return m, ctx.Err()
}

// PutManifest stages m's canonical JSON at ManifestRelPath through the
// ordinary Recv staging path, so it becomes visible atomically with
// the rest of the transaction on Commit.
func (f *Filesystem) PutManifest(ctx context.Context, m *manifest.Manifest) error {
	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		return fmt.Errorf("plainfs: put manifest: %w", err)
	}

	return f.Recv(ctx, remotefs.ManifestRelPath, transport.NewBytesStream(buf.Bytes()))
}

// ListSnapshots returns every snapshot id archived under root's
// .dsg/archive directory.
func (f *Filesystem) ListSnapshots(ctx context.Context) ([]string, error) {
	ids, err := archive.ListSnapshotIDs(filepath.Join(f.root, metaDirName, "archive"))
	if err != nil {
		return nil, err
	}

	return ids, ctx.Err()
}

// ClearStaging discards any staged-but-uncommitted writes and removes
// the staging directory without requiring a full transaction
// Begin/Commit cycle — used by backends (zfsdriver) that apply staged
// content onto a different destination root than f.root and must
// reset f once that application succeeds.
func (f *Filesystem) ClearStaging(ctx context.Context) error {
	return f.cleanupStaging(ctx)
}

// Commit applies every staged write and delete, then removes the
// staging directory.
func (f *Filesystem) Commit(ctx context.Context) error {
	for path, staged := range f.pending {
		dst := filepath.Join(f.root, filepath.FromSlash(path))

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("plainfs: commit %s: %w", path, err)
		}

		if err := os.Rename(staged, dst); err != nil {
			return fmt.Errorf("plainfs: commit %s: %w", path, err)
		}
	}

	for path := range f.deletes {
		dst := filepath.Join(f.root, filepath.FromSlash(path))

		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("plainfs: commit delete %s: %w", path, err)
		}
	}

	return f.cleanupStaging(ctx)
}

// ApplyTo applies this filesystem's staged writes and deletes onto an
// arbitrary destination root instead of f.root. zfsdriver uses this
// when the dataset a transaction stages into and the dataset it must
// ultimately land on (a freshly created or cloned dataset) are
// different mountpoints.
func (f *Filesystem) ApplyTo(destRoot string) error {
	for path, staged := range f.pending {
		dst := filepath.Join(destRoot, filepath.FromSlash(path))

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("plainfs: apply %s: %w", path, err)
		}

		if err := copyFile(staged, dst); err != nil {
			return fmt.Errorf("plainfs: apply %s: %w", path, err)
		}
	}

	for path := range f.deletes {
		dst := filepath.Join(destRoot, filepath.FromSlash(path))

		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("plainfs: apply delete %s: %w", path, err)
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// Rollback discards the staging directory without touching root.
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
		return fmt.Errorf("plainfs: cleanup staging: %w", err)
	}

	return ctx.Err()
}

func sanitizeStageName(path string) string {
	return filepath.FromSlash(path)
}
