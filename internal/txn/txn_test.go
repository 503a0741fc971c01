package txn

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/internal/plan"
	"github.com/hrdag/dsg/internal/transport"
)

// fakeParticipant is an in-memory stand-in for clientfs.Filesystem and
// every remotefs backend, grounded on the teacher's testutil fakes
// for Store/ItemClient used in reconciler/executor tests.
type fakeParticipant struct {
	mu       sync.Mutex
	files    map[string]string
	pending  map[string]string
	deletes  map[string]bool
	inTx     bool
	failRecv string // path that should fail Recv, for error-path tests
}

func newFakeParticipant(seed map[string]string) *fakeParticipant {
	files := make(map[string]string, len(seed))
	for k, v := range seed {
		files[k] = v
	}

	return &fakeParticipant{files: files}
}

func (f *fakeParticipant) Begin(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = make(map[string]string)
	f.deletes = make(map[string]bool)
	f.inTx = true

	return nil
}

func (f *fakeParticipant) Send(ctx context.Context, path string) (transport.ContentStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("fake: %s not found", path)
	}

	return transport.NewFileStream(io.NopCloser(strings.NewReader(content)), int64(len(content))), nil
}

func (f *fakeParticipant) Recv(ctx context.Context, path string, stream transport.ContentStream) error {
	defer stream.Close()

	if path == f.failRecv {
		return fmt.Errorf("fake: forced recv failure for %s", path)
	}

	data, err := io.ReadAll(stream)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[path] = string(data)

	return nil
}

func (f *fakeParticipant) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes[path] = true

	return nil
}

func (f *fakeParticipant) Commit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for p, v := range f.pending {
		f.files[p] = v
	}

	for p := range f.deletes {
		delete(f.files, p)
	}

	f.inTx = false

	return nil
}

func (f *fakeParticipant) Rollback(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	f.deletes = nil
	f.inTx = false

	return nil
}

func (f *fakeParticipant) GetManifest(context.Context) (*manifest.Manifest, error) {
	return manifest.New(), nil
}

func (f *fakeParticipant) PutManifest(context.Context, *manifest.Manifest) error {
	return nil
}

func (f *fakeParticipant) ListSnapshots(context.Context) ([]string, error) {
	return nil, nil
}

func TestCoordinatorAppliesPlanAndCommits(t *testing.T) {
	client := newFakeParticipant(map[string]string{"local-only.txt": "new content"})
	remote := newFakeParticipant(map[string]string{"remote-only.txt": "remote content"})

	p := &plan.Plan{
		Uploads:   []string{"local-only.txt"},
		Downloads: []string{"remote-only.txt"},
	}

	coord := New(client, remote)
	result, err := coord.Run(context.Background(), p, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 1, result.Downloaded)
	assert.Equal(t, "new content", remote.files["local-only.txt"])
	assert.Equal(t, "remote content", client.files["remote-only.txt"])
}

func TestCoordinatorRollsBackOnFailure(t *testing.T) {
	client := newFakeParticipant(map[string]string{"a.txt": "a"})
	remote := newFakeParticipant(nil)
	remote.failRecv = "a.txt"

	p := &plan.Plan{Uploads: []string{"a.txt"}}

	coord := New(client, remote)
	_, err := coord.Run(context.Background(), p, Options{})
	require.Error(t, err)

	assert.NotContains(t, remote.files, "a.txt")
	assert.False(t, client.inTx)
	assert.False(t, remote.inTx)
}

func TestCoordinatorDetectsRemoteMovedUnderneath(t *testing.T) {
	client := newFakeParticipant(map[string]string{"a.txt": "a"})
	remote := newFakeParticipant(nil)

	p := &plan.Plan{Uploads: []string{"a.txt"}}

	coord := New(client, remote)
	_, err := coord.Run(context.Background(), p, Options{
		ExpectedRemoteEntriesHash: "expected",
		CurrentRemoteEntriesHash: func(context.Context) (string, error) {
			return "different", nil
		},
	})

	require.ErrorIs(t, err, ErrRemoteMovedUnderneath)
	assert.NotContains(t, remote.files, "a.txt")
}
