// Package lifecycle implements dsg's unified sync entry point: given a
// local working tree, a cached manifest from the last successful
// sync, and a remote, it classifies every path's three-way state,
// builds a plan, and — unless blocked by conflicts or running in
// dry-run mode — drives the transaction coordinator to apply it and
// record the new chained snapshot, inside the same transaction. Init,
// Clone, and Sync are all just this one Run method called with a
// different OperationKind and RunOpts (Status is a separate read-only
// method that classifies without planning), mirroring the teacher's
// Engine.RunOnce as the single orchestration path every CLI command
// funnels through.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hrdag/dsg/internal/archive"
	"github.com/hrdag/dsg/internal/clientfs"
	"github.com/hrdag/dsg/internal/ignore"
	"github.com/hrdag/dsg/internal/lock"
	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/internal/merge"
	"github.com/hrdag/dsg/internal/plan"
	"github.com/hrdag/dsg/internal/progress"
	"github.com/hrdag/dsg/internal/remotefs"
	"github.com/hrdag/dsg/internal/scanner"
	"github.com/hrdag/dsg/internal/txn"
)

// MetaDirName is the reserved per-repository metadata directory.
const MetaDirName = ".dsg"

// LastSyncFileName holds the local cache of the last successful
// sync's manifest (C in the three-way merge).
const LastSyncFileName = "last-sync.json"

// Engine bundles everything a sync lifecycle operation needs: the
// local working tree, a remote transactional filesystem, and the
// user/engine settings that shape a run. The remote's current state
// (R) always comes from its persisted manifest (GetManifest), never
// from a live rescan — only the client side has a "working tree" a
// scanner can walk.
type Engine struct {
	LocalRoot string
	UserID    string
	Ignore    *ignore.Set
	Normalize bool

	Remote remotefs.TransactionalFilesystem
	Logger *slog.Logger
}

// RunOpts configures one Run invocation.
type RunOpts struct {
	Kind            plan.OperationKind
	DryRun          bool
	Force           bool // not read by Run; has no effect, and conflicts always block
	SnapshotMessage string
}

// Report summarizes one Run.
type Report struct {
	Kind      plan.OperationKind
	States    []merge.PathState
	Plan      *plan.Plan
	TxnResult *txn.Result
	NoOp      bool
	NewSnapID string
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}

	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func (e *Engine) localMetaDir() string {
	return filepath.Join(e.LocalRoot, MetaDirName)
}

func (e *Engine) lastSyncPath() string {
	return filepath.Join(e.localMetaDir(), LastSyncFileName)
}

func (e *Engine) archiveDir() string {
	return filepath.Join(e.localMetaDir(), "archive")
}

func (e *Engine) syncMessagesPath() string {
	return filepath.Join(e.localMetaDir(), "sync-messages.json")
}

// hasCachedFile reports whether a local cache from a prior sync
// exists, without the empty-manifest fallback loadCached applies —
// InferKind needs to distinguish "no cache yet" from "cache is
// (legitimately) empty".
func (e *Engine) hasCachedFile() bool {
	_, err := os.Stat(e.lastSyncPath())
	return err == nil
}

// loadCached reads the locally cached baseline manifest, returning an
// empty manifest if none exists yet (init/clone).
func (e *Engine) loadCached() (*manifest.Manifest, error) {
	f, err := os.Open(e.lastSyncPath())
	if os.IsNotExist(err) {
		return manifest.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: reading cached manifest: %w", err)
	}
	defer f.Close()

	m, err := manifest.Deserialize(f)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: cached manifest corrupt: %w", err)
	}

	return m, nil
}

func (e *Engine) saveCached(m *manifest.Manifest) error {
	if err := os.MkdirAll(e.localMetaDir(), 0o755); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}

	tmp := e.lastSyncPath() + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}

	if err := m.Serialize(f); err != nil {
		f.Close()
		return fmt.Errorf("lifecycle: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}

	return os.Rename(tmp, e.lastSyncPath())
}

// Run executes one full lifecycle cycle: acquire L/C/R according to
// opts.Kind, classify, plan, and (unless blocked or dry-run) apply and
// record a new snapshot in the same transaction.
func (e *Engine) Run(ctx context.Context, opts RunOpts, sink progress.Sink) (*Report, error) {
	if sink == nil {
		sink = progress.NoopSink{}
	}

	l, err := lock.Acquire(e.localMetaDir())
	if err != nil {
		return nil, err
	}
	defer l.Release()

	client := clientfs.New(e.LocalRoot, e.logger())

	if crashed, err := client.PendingRecovery(); err != nil {
		return nil, err
	} else if crashed != "" {
		if err := client.Recover(ctx, crashed); err != nil {
			return nil, fmt.Errorf("lifecycle: recovering interrupted transaction %s: %w", crashed, err)
		}
	}

	// L = scan(local) if kind in {init, sync} else empty. A not-yet-
	// cloned remote has no local working tree to scan, and a clone's
	// whole point is that L starts empty.
	local := manifest.New()
	if opts.Kind == plan.KindInit || opts.Kind == plan.KindSync {
		local, _, err = scanner.Scan(ctx, e.LocalRoot, e.UserID, scanner.Options{
			Ignore: e.Ignore, Normalize: e.Normalize, Logger: e.logger(),
		})
		if err != nil {
			return nil, fmt.Errorf("lifecycle: scanning local tree: %w", err)
		}
	}

	// C = load_local_cache() if kind = sync else empty. Init has
	// nothing to compare against yet; clone has no local cache at all.
	cached := manifest.New()
	if opts.Kind == plan.KindSync {
		cached, err = e.loadCached()
		if err != nil {
			return nil, err
		}
	}

	// R = remote.get_manifest() if kind in {clone, sync} else empty.
	// Init's target dataset may not exist yet, so it must never be
	// queried.
	remote := manifest.New()
	if opts.Kind == plan.KindClone || opts.Kind == plan.KindSync {
		remote, err = e.Remote.GetManifest(ctx)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: fetching remote manifest: %w", err)
		}
	}

	e.warnIfKindMismatch(ctx, opts.Kind)

	states := merge.ClassifyAll(local, cached, remote)

	p, planErr := plan.Build(states, opts.Kind)
	report := &Report{Kind: opts.Kind, States: states, Plan: p}

	if planErr != nil {
		// Conflicts always block an unattended sync, whatever Force
		// says (no automatic conflict resolution is an explicit
		// non-goal).
		return report, planErr
	}

	if p.TotalActions() == 0 {
		report.NoOp = true
		return report, nil
	}

	if opts.DryRun {
		return report, nil
	}

	snapshotID, err := e.nextSnapshotID(ctx)
	if err != nil {
		return report, err
	}

	newManifest := buildNewManifest(states)
	newManifest.Metadata.ManifestVersion = manifest.ManifestVersion
	newManifest.Metadata.SnapshotID = snapshotID
	newManifest.Metadata.CreatedAt = time.Now().UnixNano()
	newManifest.Metadata.CreatedBy = e.UserID
	newManifest.Metadata.SnapshotMessage = opts.SnapshotMessage
	newManifest.Stamp(remote.Metadata.SnapshotID, remote.Metadata.SnapshotHash)

	coord := txn.New(client, e.Remote)

	txnOpts := txn.Options{
		NewManifest:    newManifest,
		PreviousRemote: remote,
		Sink:           sink,
		Logger:         e.logger(),
	}

	// Only sync has a prior remote state that could move underneath
	// this run — init and clone have nothing to race against.
	if opts.Kind == plan.KindSync {
		txnOpts.ExpectedRemoteEntriesHash = remote.EntriesHash()
		txnOpts.CurrentRemoteEntriesHash = func(ctx context.Context) (string, error) {
			m, err := e.Remote.GetManifest(ctx)
			if err != nil {
				return "", err
			}

			return m.EntriesHash(), nil
		}
	}

	result, err := coord.Run(ctx, p, txnOpts)
	if err != nil {
		return report, err
	}

	report.TxnResult = result

	if err := e.saveCached(newManifest); err != nil {
		return report, fmt.Errorf("lifecycle: applied transaction but failed to update local cache: %w", err)
	}

	report.NewSnapID = newManifest.Metadata.SnapshotID

	return report, nil
}

// nextSnapshotID returns the next "sN" id in the chain, taking the
// larger of the local sync-messages history's next id and one past
// the highest id the remote already has archived — so a remote that
// is ahead of the local history (e.g. after another client's sync)
// never gets handed an id it already owns.
func (e *Engine) nextSnapshotID(ctx context.Context) (string, error) {
	local, err := archive.LoadMessages(e.syncMessagesPath())
	if err != nil {
		return "", err
	}

	maxSeq := archive.SnapshotSeq(local.NextSnapshotID()) - 1

	remoteIDs, err := e.Remote.ListSnapshots(ctx)
	if err != nil {
		return "", fmt.Errorf("lifecycle: listing remote snapshots: %w", err)
	}

	for _, id := range remoteIDs {
		if n := archive.SnapshotSeq(id); n > maxSeq {
			maxSeq = n
		}
	}

	return fmt.Sprintf("s%d", maxSeq+1), nil
}

// buildNewManifest derives the manifest that results from applying
// every path's planned action: the entries a fully-synced remote and
// local cache must agree on once the transaction commits.
func buildNewManifest(states []merge.PathState) *manifest.Manifest {
	m := manifest.New()

	for _, s := range states {
		entry, ok := finalEntry(s)
		if !ok {
			continue
		}

		m.Entries[s.Path] = entry
	}

	return m
}

// finalEntry reports the entry a path carries after plan.Build's
// action for its state has been applied — the same fifteen-state
// switch as plan.Build, read for "what survives" rather than "what
// action moves it there". A path is absent from the result wherever
// plan.Build deletes it or merely drops it from the cache (XLCXR).
func finalEntry(s merge.PathState) (manifest.Entry, bool) {
	switch s.State {
	case merge.LCRAllEqual, merge.LCRCEqualRNeL, merge.LCRLEqualRNeC, merge.LXCRLEqualR, merge.LXCXR:
		return *s.L, true

	case merge.LCRLEqualCNeR, merge.XLXCR:
		return *s.R, true

	case merge.LCxRLEqualC, merge.XLCRCEqualR, merge.XLCXR:
		return manifest.Entry{}, false

	default:
		return manifest.Entry{}, false
	}
}

// warnIfKindMismatch cross-checks the requested operation kind
// against plan.InferKind's independent judgment from cache/remote
// existence, logging a warning on disagreement rather than blocking —
// a caller asking for "sync" against a repository InferKind would call
// "clone" is usually a caller bug, but not one this layer should
// second-guess into a hard failure.
func (e *Engine) warnIfKindMismatch(ctx context.Context, kind plan.OperationKind) {
	hasCache := e.hasCachedFile()

	remoteExists := false

	if sc, ok := e.Remote.(remotefs.SnapshotCapable); ok {
		if exists, err := sc.DatasetExists(ctx); err == nil {
			remoteExists = exists
		}
	} else if m, err := e.Remote.GetManifest(ctx); err == nil {
		remoteExists = len(m.Entries) > 0 || m.Metadata.SnapshotID != ""
	}

	if inferred := plan.InferKind(hasCache, remoteExists); inferred != kind {
		e.logger().Warn("requested operation kind disagrees with inferred kind",
			slog.String("requested", kind.String()), slog.String("inferred", inferred.String()))
	}
}

// Status performs the read-only classification half of Run, without
// acquiring the lock or running any transaction — used by `dsg
// status`. Unlike Run, it always gathers all three manifests
// regardless of kind, since its purpose is to show the full three-way
// picture.
func (e *Engine) Status(ctx context.Context) ([]merge.PathState, error) {
	cached, err := e.loadCached()
	if err != nil {
		return nil, err
	}

	local, _, err := scanner.Scan(ctx, e.LocalRoot, e.UserID, scanner.Options{Ignore: e.Ignore, Logger: e.logger()})
	if err != nil {
		return nil, err
	}

	remote, err := e.Remote.GetManifest(ctx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: fetching remote manifest: %w", err)
	}

	return merge.ClassifyAll(local, cached, remote), nil
}

// Log returns the full snapshot history from sync-messages.json,
// oldest first.
func (e *Engine) Log(context.Context) ([]manifest.Metadata, error) {
	msgs, err := archive.LoadMessages(e.syncMessagesPath())
	if err != nil {
		return nil, err
	}

	return msgs.Ordered(), nil
}

// Blame reports, for a single path, the most recent archived snapshot
// in which its entry changed, walking the snapshot chain backward and
// verifying each link's snapshot_hash (against the chain's actual
// predecessor, not its own self-reported one) as it goes — a corrupt
// link surfaces as an error rather than silently truncating the
// history.
func (e *Engine) Blame(ctx context.Context, path string) (manifest.Metadata, error) {
	history, err := e.Log(ctx)
	if err != nil {
		return manifest.Metadata{}, err
	}

	for i := len(history) - 1; i >= 0; i-- {
		meta := history[i]

		snap, err := archive.ReadSnapshot(e.archiveDir(), meta.SnapshotID)
		if err != nil {
			return manifest.Metadata{}, fmt.Errorf("lifecycle: blame: reading snapshot %s: %w", meta.SnapshotID, err)
		}

		expectedPrevID, previousHash := "", ""
		if i > 0 {
			expectedPrevID = history[i-1].SnapshotID
			previousHash = history[i-1].SnapshotHash
		}

		if !manifest.VerifyChain(snap, expectedPrevID, previousHash) {
			return manifest.Metadata{}, fmt.Errorf("lifecycle: blame: snapshot %s fails chain verification", meta.SnapshotID)
		}

		if _, ok := snap.Entries[path]; ok {
			if i == 0 {
				return meta, nil
			}

			prevSnap, err := archive.ReadSnapshot(e.archiveDir(), history[i-1].SnapshotID)
			if err != nil {
				return meta, nil
			}

			if prior, ok := prevSnap.Entries[path]; !ok || !prior.Equal(snap.Entries[path]) {
				return meta, nil
			}
		}
	}

	return manifest.Metadata{}, fmt.Errorf("lifecycle: blame: no snapshot touched %q", path)
}
