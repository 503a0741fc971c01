// Package transport defines how bytes move between a client
// filesystem and a remote filesystem during a sync transaction. It
// follows the redesign guidance to use an explicit stream type
// (ContentStream) with Read/Size rather than a generator or iterator
// abstraction, and to keep Transport a narrow interface a coordinator
// can hold without any back-reference to the filesystems it moves
// data between.
package transport

import (
	"bytes"
	"context"
	"io"
)

// ContentStream is a single-use, sequential byte source. Size reports
// its total length, or -1 when the length is not known up front (as
// for a stream read over ssh). Implementations close their underlying
// handle when Close is
// called; a stream is read exactly once, end to end, and then
// discarded — there is no seek or reset.
type ContentStream interface {
	io.Reader
	io.Closer
	Size() int64
}

// FileStream adapts an *os.File (or any io.ReadCloser) plus a known
// size into a ContentStream.
type FileStream struct {
	io.ReadCloser
	size int64
}

// NewFileStream wraps rc, reporting size as the stream's total length.
func NewFileStream(rc io.ReadCloser, size int64) *FileStream {
	return &FileStream{ReadCloser: rc, size: size}
}

// Size implements ContentStream.
func (f *FileStream) Size() int64 { return f.size }

// BytesStream adapts an in-memory byte slice into a ContentStream, so
// generated content (a serialized manifest, a sync-messages document,
// an archived snapshot's LZ4 bytes) can be staged through the same
// Send/Recv path as a file read off disk, without first writing it to
// a temp file.
type BytesStream struct {
	r    *bytes.Reader
	size int64
}

// NewBytesStream wraps data for a single sequential read.
func NewBytesStream(data []byte) *BytesStream {
	return &BytesStream{r: bytes.NewReader(data), size: int64(len(data))}
}

// Read implements io.Reader.
func (b *BytesStream) Read(p []byte) (int, error) { return b.r.Read(p) }

// Close implements io.Closer; there is no underlying handle to
// release.
func (b *BytesStream) Close() error { return nil }

// Size implements ContentStream.
func (b *BytesStream) Size() int64 { return b.size }

// Transport moves a ContentStream between the client and remote
// filesystems for one transaction. A session brackets one or more
// SendToRemote/FetchFromRemote calls so implementations that need a persistent
// connection (sshtransport) can set it up once.
type Transport interface {
	OpenSession(ctx context.Context) error
	CloseSession(ctx context.Context) error

	// SendToRemote pushes stream to path on the remote side.
	SendToRemote(ctx context.Context, path string, stream ContentStream) error
	// FetchFromRemote opens path on the remote side for reading.
	FetchFromRemote(ctx context.Context, path string) (ContentStream, error)
}
