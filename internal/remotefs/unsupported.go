package remotefs

import (
	"context"
	"fmt"

	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/internal/transport"
)

// Unsupported is a Filesystem/Transactional stub for repository kinds
// the configuration layer accepts (content_addressed_p2p, cloud_relay)
// but that have no real backend implementation in this engine: §1
// scopes transport implementations beyond what the sync engine
// requires out, and neither kind has a reference implementation in
// the retrieved example pack to ground one on. Every method returns an
// error wrapping ErrBackendNotImplemented rather than panicking; the
// CLI maps that error to its transport/remote exit code. The
// coordinator's dispatch is fully
// generic over Filesystem/Transactional, so a real implementation of
// either kind plugs in later without touching internal/txn or
// internal/lifecycle.
type Unsupported struct {
	Kind string
}

var (
	_ Filesystem    = (*Unsupported)(nil)
	_ Transactional = (*Unsupported)(nil)
)

func (u *Unsupported) err() error {
	return fmt.Errorf("remotefs: backend %q: %w", u.Kind, ErrBackendNotImplemented)
}

func (u *Unsupported) Begin(context.Context, string) error { return u.err() }
func (u *Unsupported) Commit(context.Context) error        { return u.err() }
func (u *Unsupported) Rollback(context.Context) error       { return u.err() }

func (u *Unsupported) Send(context.Context, string) (transport.ContentStream, error) {
	return nil, u.err()
}

func (u *Unsupported) Recv(context.Context, string, transport.ContentStream) error {
	return u.err()
}

func (u *Unsupported) Delete(context.Context, string) error { return u.err() }

func (u *Unsupported) GetManifest(context.Context) (*manifest.Manifest, error) {
	return nil, u.err()
}

func (u *Unsupported) PutManifest(context.Context, *manifest.Manifest) error { return u.err() }

func (u *Unsupported) ListSnapshots(context.Context) ([]string, error) { return nil, u.err() }
