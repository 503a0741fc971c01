// Package local implements transport.Transport for a remote that
// lives on the same host as the client: the common case when a dsg
// repository's remote is a directory on locally-mounted storage (a
// ZFS pool's mountpoint, or a plain directory on another disk). It
// always copies the stream into a temporary file beside the
// destination and then renames that file into place; it never moves
// the source file itself.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hrdag/dsg/internal/transport"
)

// Transport implements transport.Transport by reading and writing
// files directly under remoteRoot.
type Transport struct {
	remoteRoot string
}

// New returns a local Transport rooted at remoteRoot.
func New(remoteRoot string) *Transport {
	return &Transport{remoteRoot: remoteRoot}
}

var _ transport.Transport = (*Transport)(nil)

// OpenSession is a no-op: there is no connection to establish.
func (t *Transport) OpenSession(context.Context) error { return nil }

// CloseSession is a no-op.
func (t *Transport) CloseSession(context.Context) error { return nil }

// SendToRemote writes stream to path under the remote root, staging
// through a temp file and renaming into place so a reader never
// observes a partially-written file.
func (t *Transport) SendToRemote(ctx context.Context, path string, stream transport.ContentStream) error {
	defer stream.Close()

	dst := filepath.Join(t.remoteRoot, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("local transport: mkdir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".dsg-recv-*")
	if err != nil {
		return fmt.Errorf("local transport: create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, stream); err != nil {
		tmp.Close()
		return fmt.Errorf("local transport: write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local transport: close temp for %s: %w", path, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("local transport: rename into place %s: %w", path, err)
	}

	return nil
}

// FetchFromRemote opens path under the remote root for streaming.
func (t *Transport) FetchFromRemote(ctx context.Context, path string) (transport.ContentStream, error) {
	src := filepath.Join(t.remoteRoot, filepath.FromSlash(path))

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("local transport: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("local transport: stat %s: %w", path, err)
	}

	return transport.NewFileStream(f, info.Size()), nil
}
