// Package sshtransport implements transport.Transport for a remote
// reached over the network, streaming file content through exec'd
// shell pipes rather than a full SFTP client — dsg only needs bounded
// byte streaming with per-file temporary staging, not general file
// management, so a minimal cat-based protocol over
// golang.org/x/crypto/ssh covers it without pulling in an SFTP
// implementation.
package sshtransport

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/hrdag/dsg/internal/transport"
)

// Transport streams files to and from a remote host over a single
// persistent SSH connection.
type Transport struct {
	addr       string
	config     *ssh.ClientConfig
	remoteRoot string

	client *ssh.Client
}

// New returns an ssh Transport. addr is "host:port"; remoteRoot is the
// directory on the remote host under which paths are resolved.
func New(addr string, config *ssh.ClientConfig, remoteRoot string) *Transport {
	return &Transport{addr: addr, config: config, remoteRoot: remoteRoot}
}

var _ transport.Transport = (*Transport)(nil)

// OpenSession dials the remote host, establishing the connection this
// Transport's Send/Fetch calls reuse.
func (t *Transport) OpenSession(ctx context.Context) error {
	d := &ssh.Dialer{}

	conn, err := d.DialContext(ctx, "tcp", t.addr, t.config)
	if err != nil {
		return fmt.Errorf("sshtransport: dial %s: %w", t.addr, err)
	}

	t.client = conn

	return nil
}

// CloseSession tears down the SSH connection.
func (t *Transport) CloseSession(context.Context) error {
	if t.client == nil {
		return nil
	}

	err := t.client.Close()
	t.client = nil

	return err
}

// SendToRemote streams stream's content to a temp file on the remote
// host and atomically renames it into place, the same staged-write
// discipline internal/transport/local uses on a single host.
func (t *Transport) SendToRemote(ctx context.Context, path string, stream transport.ContentStream) error {
	defer stream.Close()

	if t.client == nil {
		return fmt.Errorf("sshtransport: session not open")
	}

	sess, err := t.client.NewSession()
	if err != nil {
		return fmt.Errorf("sshtransport: new session: %w", err)
	}
	defer sess.Close()

	dst := t.remoteRoot + "/" + path
	cmd := fmt.Sprintf(
		`sh -c 'mkdir -p "$(dirname %q)" && tmp=$(mktemp %q.XXXXXX) && cat > "$tmp" && mv "$tmp" %q'`,
		dst, dst, dst,
	)

	sess.Stdin = stream

	var stderr bytes.Buffer
	sess.Stderr = &stderr

	if err := sess.Run(cmd); err != nil {
		return fmt.Errorf("sshtransport: send %s: %w (stderr: %s)", path, err, stderr.String())
	}

	return ctx.Err()
}

// FetchFromRemote opens a streaming read of path on the remote host.
func (t *Transport) FetchFromRemote(ctx context.Context, path string) (transport.ContentStream, error) {
	if t.client == nil {
		return nil, fmt.Errorf("sshtransport: session not open")
	}

	sess, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("sshtransport: new session: %w", err)
	}

	src := t.remoteRoot + "/" + path

	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshtransport: stdout pipe: %w", err)
	}

	if err := sess.Start(fmt.Sprintf("cat %q", src)); err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshtransport: fetch %s: %w", path, err)
	}

	return &remoteStream{session: sess, r: stdout}, nil
}

// remoteStream wraps a running "cat" session's stdout, exposing a
// ContentStream whose Close waits for the remote process to exit.
// Size is unknown ahead of a separate stat, so callers that need an
// exact size run a stat command first; dsg's streaming consumers only
// need sequential Read.
type remoteStream struct {
	session *ssh.Session
	r       io.Reader
}

func (s *remoteStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *remoteStream) Size() int64                 { return -1 }

func (s *remoteStream) Close() error {
	return s.session.Wait()
}
