// Package txn implements the two-phase commit protocol that applies a
// sync plan across the client filesystem and a remote filesystem. The
// Coordinator holds no transport.Transport: it moves bytes by reading
// one side's Send stream straight into the other side's Recv. It is the only place
// in dsg that is allowed to make a plan's effects visible: everything
// upstream (merge, plan) only decides what should happen, and
// everything the Coordinator touches only happens inside a staged
// transaction that can still be rolled back.
//
// The protocol: begin on both sides, apply every upload/download/
// delete into staging, re-check the remote hasn't moved since the
// plan was computed, then commit remote before client (with a bounded
// retry window on the client commit, since a remote that already
// committed cannot be rolled back). Any failure before commit rolls
// both sides back.
package txn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hrdag/dsg/internal/archive"
	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/internal/plan"
	"github.com/hrdag/dsg/internal/progress"
	"github.com/hrdag/dsg/internal/remotefs"
	"github.com/hrdag/dsg/internal/transport"
)

// Participant is the staging surface both the client and remote sides
// present to the coordinator. clientfs.Filesystem and every
// remotefs backend satisfy it structurally.
type Participant = remotefs.TransactionalFilesystem

// ErrRemoteMovedUnderneath is returned when the remote's entries_hash
// changed between the plan being computed and the coordinator
// reaching its pre-commit check — someone else committed to the same
// remote concurrently.
var ErrRemoteMovedUnderneath = errors.New("txn: remote moved underneath this transaction")

// ErrClientCommitFailedAfterRemote is returned when the remote commit
// succeeded but the client commit could not be made to succeed within
// the retry window. The remote is left committed; the caller must
// surface this loudly, since the two sides are now inconsistent until
// the next sync.
var ErrClientCommitFailedAfterRemote = errors.New("txn: client commit failed after remote commit succeeded")

// ErrEntriesHashMismatch is returned by the pre-commit validation step
// (spec.md §4.8 step 4) when NewManifest's self-reported entries_hash
// doesn't match what a fresh recomputation over its own entries
// produces — a bug in whatever built NewManifest, caught before it can
// be committed anywhere.
var ErrEntriesHashMismatch = errors.New("txn: new manifest's entries_hash does not match its own entries")

// Options configures one coordinator run.
type Options struct {
	// ExpectedRemoteEntriesHash is the remote manifest's entries_hash
	// as observed when the plan was built.
	ExpectedRemoteEntriesHash string
	// CurrentRemoteEntriesHash, if set, is called immediately before
	// commit to detect a concurrent change. Nil disables the check
	// (used by init/clone, which have no prior remote state to race
	// against).
	CurrentRemoteEntriesHash func(ctx context.Context) (string, error)

	// NewManifest is the manifest that becomes the new cache/remote
	// manifest once this transaction commits. When set, Run performs
	// spec.md §4.8's metadata-exchange and pre-commit-validation steps:
	// it reconciles archived snapshots missing on either side, stages
	// NewManifest plus an appended sync-messages entry on both sides,
	// and recomputes NewManifest's entries_hash against its own
	// entries before committing. It also drives the SnapshotCapable
	// dispatch on commit, supplying NewManifest.Metadata.SnapshotID as
	// the tag for the dataset's immutable snapshot. Nil skips all of
	// this (a dry-run preview never reaches Run at all, but a caller
	// that manages metadata itself may still pass nil).
	NewManifest *manifest.Manifest
	// PreviousRemote is the remote manifest read before the plan was
	// built. If it names a snapshot, that snapshot is archived (copied
	// into .dsg/archive on both sides) as part of this transaction,
	// per spec.md §4.9's archive_predecessor(R) step.
	PreviousRemote *manifest.Manifest

	// Sink receives per-operation progress callbacks during apply.
	// Nil is treated as progress.NoopSink.
	Sink progress.Sink

	ClientCommitRetries int           // default 3
	ClientCommitBackoff time.Duration // default 200ms

	Logger *slog.Logger
}

// Result reports what a successful run did.
type Result struct {
	TxID       string
	Uploaded   int
	Downloaded int
	Deleted    int
}

// Coordinator runs the two-phase commit protocol for one plan.
type Coordinator struct {
	Client Participant
	Remote Participant
}

// New returns a Coordinator for the given client and remote
// participants.
func New(client, remote Participant) *Coordinator {
	return &Coordinator{Client: client, Remote: remote}
}

// Run applies p across Client and Remote, returning a Result on
// success. On any failure it rolls back whichever side(s) had begun,
// and returns a wrapped error — never a partially-applied plan.
func (c *Coordinator) Run(ctx context.Context, p *plan.Plan, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	if opts.ClientCommitRetries == 0 {
		opts.ClientCommitRetries = 3
	}

	if opts.ClientCommitBackoff == 0 {
		opts.ClientCommitBackoff = 200 * time.Millisecond
	}

	sink := opts.Sink
	if sink == nil {
		sink = progress.NoopSink{}
	}

	txID := uuid.New().String()
	logger.Info("beginning transaction", slog.String("tx", txID))

	if err := c.Client.Begin(ctx, txID); err != nil {
		return nil, fmt.Errorf("txn: client begin: %w", err)
	}

	if err := c.Remote.Begin(ctx, txID); err != nil {
		_ = c.Client.Rollback(ctx)
		return nil, fmt.Errorf("txn: remote begin: %w", err)
	}

	result := &Result{TxID: txID}

	if err := c.applyPlan(ctx, p, result, sink); err != nil {
		c.rollbackBoth(ctx, logger)
		return nil, err
	}

	if opts.NewManifest != nil {
		if err := c.exchangeMetadata(ctx, opts); err != nil {
			c.rollbackBoth(ctx, logger)
			return nil, err
		}

		if err := validateNewManifest(opts.NewManifest); err != nil {
			c.rollbackBoth(ctx, logger)
			return nil, err
		}
	}

	if opts.CurrentRemoteEntriesHash != nil {
		current, err := opts.CurrentRemoteEntriesHash(ctx)
		if err != nil {
			c.rollbackBoth(ctx, logger)
			return nil, fmt.Errorf("txn: checking remote state: %w", err)
		}

		if current != opts.ExpectedRemoteEntriesHash {
			c.rollbackBoth(ctx, logger)
			return nil, ErrRemoteMovedUnderneath
		}
	}

	if err := c.commitRemote(ctx, opts, txID); err != nil {
		c.rollbackBoth(ctx, logger)
		return nil, fmt.Errorf("txn: remote commit: %w", err)
	}

	if err := c.commitClientWithRetry(ctx, opts, logger); err != nil {
		logger.Error("client commit failed after remote commit succeeded",
			slog.String("tx", txID), slog.Any("error", err))

		return nil, fmt.Errorf("%w: %v", ErrClientCommitFailedAfterRemote, err)
	}

	logger.Info("transaction committed", slog.String("tx", txID))

	return result, nil
}

// commitRemote commits the remote side. When the remote backend
// implements remotefs.SnapshotCapable and a new manifest is being
// recorded, it dispatches to the init or sync dataset pattern (spec.md
// §4.10) based on whether the target dataset already exists, rather
// than the plain staged Commit every other backend uses.
func (c *Coordinator) commitRemote(ctx context.Context, opts Options, txID string) error {
	sc, ok := any(c.Remote).(remotefs.SnapshotCapable)
	if !ok || opts.NewManifest == nil {
		return c.Remote.Commit(ctx)
	}

	exists, err := sc.DatasetExists(ctx)
	if err != nil {
		return fmt.Errorf("check dataset exists: %w", err)
	}

	snapshotID := opts.NewManifest.Metadata.SnapshotID

	if !exists {
		return sc.InitDataset(ctx, snapshotID)
	}

	return sc.PromoteSync(ctx, txID, snapshotID)
}

func (c *Coordinator) applyPlan(ctx context.Context, p *plan.Plan, result *Result, sink progress.Sink) error {
	for _, path := range p.Uploads {
		op := progress.Operation{Kind: "upload", Path: path}

		stream, err := c.Client.Send(ctx, path)
		if err != nil {
			return fmt.Errorf("txn: read %s from client: %w", path, err)
		}

		sink.OnOperationStart(op, stream.Size())
		err = c.Remote.Recv(ctx, path, stream)
		sink.OnOperationEnd(op, err)
		if err != nil {
			return fmt.Errorf("txn: upload %s: %w", path, err)
		}

		result.Uploaded++
	}

	for _, path := range p.Downloads {
		op := progress.Operation{Kind: "download", Path: path}

		stream, err := c.Remote.Send(ctx, path)
		if err != nil {
			return fmt.Errorf("txn: read %s from remote: %w", path, err)
		}

		sink.OnOperationStart(op, stream.Size())
		err = c.Client.Recv(ctx, path, stream)
		sink.OnOperationEnd(op, err)
		if err != nil {
			return fmt.Errorf("txn: download %s: %w", path, err)
		}

		result.Downloaded++
	}

	for _, path := range p.LocalDeletes {
		op := progress.Operation{Kind: "delete-local", Path: path}

		sink.OnOperationStart(op, 0)
		err := c.Client.Delete(ctx, path)
		sink.OnOperationEnd(op, err)
		if err != nil {
			return fmt.Errorf("txn: stage local delete %s: %w", path, err)
		}

		result.Deleted++
	}

	for _, path := range p.RemoteDeletes {
		op := progress.Operation{Kind: "delete-remote", Path: path}

		sink.OnOperationStart(op, 0)
		err := c.Remote.Delete(ctx, path)
		sink.OnOperationEnd(op, err)
		if err != nil {
			return fmt.Errorf("txn: stage remote delete %s: %w", path, err)
		}

		result.Deleted++
	}

	return ctx.Err()
}

// validateNewManifest recomputes m's entries_hash from its own
// entries and compares it against the value already stamped into its
// metadata, catching a bug in whatever built m before it can be
// committed anywhere (spec.md §4.8 step 4).
func validateNewManifest(m *manifest.Manifest) error {
	if m.EntriesHash() != m.Metadata.EntriesHash {
		return ErrEntriesHashMismatch
	}

	return nil
}

// exchangeMetadata implements spec.md §4.8 step 3: it archives the
// superseded snapshot (if any), copies over any archived snapshot
// present on one side but missing on the other, then stages the new
// manifest, its own archived copy, and an updated sync-messages
// history on both the client and the remote, inside the transaction.
func (c *Coordinator) exchangeMetadata(ctx context.Context, opts Options) error {
	if err := c.archivePredecessor(ctx, opts.PreviousRemote); err != nil {
		return err
	}

	if err := c.reconcileArchives(ctx); err != nil {
		return err
	}

	if err := writeManifestAndMessages(ctx, c.Client, opts.NewManifest); err != nil {
		return fmt.Errorf("txn: client metadata: %w", err)
	}

	if err := writeManifestAndMessages(ctx, c.Remote, opts.NewManifest); err != nil {
		return fmt.Errorf("txn: remote metadata: %w", err)
	}

	return nil
}

// archivePredecessor stages prev's archived manifest on both sides, if
// prev names a snapshot. The predecessor may already be archived on
// one or both sides from when it was itself the new snapshot; staging
// it again is harmless, since Recv simply re-stages the same bytes.
func (c *Coordinator) archivePredecessor(ctx context.Context, prev *manifest.Manifest) error {
	if prev == nil || prev.Metadata.SnapshotID == "" {
		return nil
	}

	var buf bytes.Buffer
	if err := archive.WriteManifest(&buf, prev); err != nil {
		return fmt.Errorf("txn: archive predecessor: %w", err)
	}

	relPath := remotefs.ArchiveRelPath(prev.Metadata.SnapshotID)
	data := buf.Bytes()

	if err := c.Client.Recv(ctx, relPath, transport.NewBytesStream(data)); err != nil {
		return fmt.Errorf("txn: archive predecessor on client: %w", err)
	}

	if err := c.Remote.Recv(ctx, relPath, transport.NewBytesStream(data)); err != nil {
		return fmt.Errorf("txn: archive predecessor on remote: %w", err)
	}

	return nil
}

// reconcileArchives copies every archived snapshot present on one
// side but missing on the other, so both sides' archives converge
// even after periods where only one side was reachable.
func (c *Coordinator) reconcileArchives(ctx context.Context) error {
	clientIDs, err := c.Client.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("txn: list client snapshots: %w", err)
	}

	remoteIDs, err := c.Remote.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("txn: list remote snapshots: %w", err)
	}

	clientSet := idSet(clientIDs)
	remoteSet := idSet(remoteIDs)

	for _, id := range remoteIDs {
		if clientSet[id] {
			continue
		}

		if err := copySnapshot(ctx, c.Remote, c.Client, id); err != nil {
			return fmt.Errorf("txn: copy snapshot %s to client: %w", id, err)
		}
	}

	for _, id := range clientIDs {
		if remoteSet[id] {
			continue
		}

		if err := copySnapshot(ctx, c.Client, c.Remote, id); err != nil {
			return fmt.Errorf("txn: copy snapshot %s to remote: %w", id, err)
		}
	}

	return nil
}

func copySnapshot(ctx context.Context, src, dst Participant, id string) error {
	relPath := remotefs.ArchiveRelPath(id)

	stream, err := src.Send(ctx, relPath)
	if err != nil {
		return err
	}

	return dst.Recv(ctx, relPath, stream)
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	return set
}

// writeManifestAndMessages stages m at ManifestRelPath, appends its
// metadata to p's sync-messages history, and stages m's own archived
// copy — the three pieces of metadata spec.md §4.8 step 3 requires
// writing inside the transaction.
func writeManifestAndMessages(ctx context.Context, p Participant, m *manifest.Manifest) error {
	if err := p.PutManifest(ctx, m); err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}

	msgs, err := readMessages(ctx, p)
	if err != nil {
		return fmt.Errorf("read sync-messages: %w", err)
	}

	msgs.Put(m.Metadata)

	data, err := msgs.Marshal()
	if err != nil {
		return fmt.Errorf("marshal sync-messages: %w", err)
	}

	if err := p.Recv(ctx, remotefs.SyncMessagesRelPath, transport.NewBytesStream(data)); err != nil {
		return fmt.Errorf("stage sync-messages: %w", err)
	}

	var buf bytes.Buffer
	if err := archive.WriteManifest(&buf, m); err != nil {
		return fmt.Errorf("serialize archive snapshot: %w", err)
	}

	if err := p.Recv(ctx, remotefs.ArchiveRelPath(m.Metadata.SnapshotID), transport.NewBytesStream(buf.Bytes())); err != nil {
		return fmt.Errorf("stage archive snapshot: %w", err)
	}

	return nil
}

// readMessages reads p's current (already-committed, pre-transaction)
// sync-messages history via Send, treating a missing file as a
// brand-new, empty history rather than an error.
func readMessages(ctx context.Context, p Participant) (*archive.SyncMessages, error) {
	stream, err := p.Send(ctx, remotefs.SyncMessagesRelPath)
	if err != nil {
		return archive.NewMessages(), nil
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}

	return archive.ParseMessages(data)
}

func (c *Coordinator) commitClientWithRetry(ctx context.Context, opts Options, logger *slog.Logger) error {
	var lastErr error

	for attempt := 0; attempt <= opts.ClientCommitRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying client commit", slog.Int("attempt", attempt))
			time.Sleep(opts.ClientCommitBackoff)
		}

		if err := c.Client.Commit(ctx); err != nil {
			lastErr = err
			continue
		}

		return nil
	}

	return lastErr
}

func (c *Coordinator) rollbackBoth(ctx context.Context, logger *slog.Logger) {
	if err := c.Client.Rollback(ctx); err != nil {
		logger.Error("client rollback failed", slog.Any("error", err))
	}

	if err := c.Remote.Rollback(ctx); err != nil {
		logger.Error("remote rollback failed", slog.Any("error", err))
	}
}
