// Package plan turns a classified path list from internal/merge into
// an ordered list of work: which paths to upload, download, delete on
// each side, or simply record against the cached manifest with no
// data transfer. Ordering follows the teacher reconciler's
// orderPlan/orderDeletes discipline (shallowest-first for creates,
// deepest-first for deletes), generalized from folder depth to path
// depth since dsg's remote and client filesystems are real directory
// trees underneath the manifest's flat path keys.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hrdag/dsg/internal/merge"
)

// OperationKind names which lifecycle operation is building the plan
// (see InferKind). Build accepts it but maps every state the same way
// whatever the kind.
type OperationKind int

const (
	// KindInit creates a brand-new repository from a local tree with
	// no prior cache and no remote history.
	KindInit OperationKind = iota
	// KindClone populates a new local working tree from an existing
	// remote, with no local content and no cache.
	KindClone
	// KindSync reconciles an established local tree against its cache
	// and the remote.
	KindSync
)

func (k OperationKind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindClone:
		return "clone"
	case KindSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Plan is the ordered, disjoint set of work derived from a classified
// path list.
type Plan struct {
	Uploads       []string // local -> remote
	Downloads     []string // remote -> local
	LocalDeletes  []string
	RemoteDeletes []string
	RecordOnly    []string // no transfer, just update the cached manifest
	Conflicts     []merge.PathState
}

// TotalActions reports the number of non-conflict, non-record-only
// operations the plan will perform — the count the lifecycle layer
// uses to decide whether a sync is a no-op.
func (p *Plan) TotalActions() int {
	return len(p.Uploads) + len(p.Downloads) + len(p.LocalDeletes) + len(p.RemoteDeletes)
}

// ErrConflictsPresent is the error Build returns, unwrapped, when any
// path classified as a conflict state would block an unattended sync.
var ErrConflictsPresent = fmt.Errorf("conflicts present")

// Build converts classified states into a Plan. It never fails on
// conflicts by itself — conflicts are recorded on the Plan so callers
// can report them — but returns ErrConflictsPresent as a sentinel
// alongside a fully-populated Plan so the caller can choose to block.
func Build(states []merge.PathState, kind OperationKind) (*Plan, error) {
	p := &Plan{}

	for _, s := range states {
		switch s.State {
		case merge.LCRAllEqual:
			// nothing to do

		case merge.LCRLEqualCNeR:
			p.Downloads = append(p.Downloads, s.Path)

		case merge.LCRCEqualRNeL:
			p.Uploads = append(p.Uploads, s.Path)

		case merge.LCRLEqualRNeC:
			p.RecordOnly = append(p.RecordOnly, s.Path)

		case merge.LCxRLEqualC:
			p.LocalDeletes = append(p.LocalDeletes, s.Path)

		case merge.XLCRCEqualR:
			p.RemoteDeletes = append(p.RemoteDeletes, s.Path)

		case merge.LXCRLEqualR:
			p.RecordOnly = append(p.RecordOnly, s.Path)

		case merge.LXCXR:
			p.Uploads = append(p.Uploads, s.Path)

		case merge.XLCXR:
			p.RecordOnly = append(p.RecordOnly, s.Path) // drop from cache, nothing to transfer

		case merge.XLXCR:
			p.Downloads = append(p.Downloads, s.Path)

		case merge.LCRAllDiffer, merge.LCxRLNeC, merge.XLCRCNeR, merge.LXCRLNeR:
			p.Conflicts = append(p.Conflicts, s)

		default:
			return nil, fmt.Errorf("plan: path %q classified as impossible state", s.Path)
		}
	}

	orderCreates(p.Uploads)
	orderCreates(p.Downloads)
	orderDeletes(p.LocalDeletes)
	orderDeletes(p.RemoteDeletes)

	if len(p.Conflicts) > 0 {
		return p, ErrConflictsPresent
	}

	return p, nil
}

// InferKind decides which operation kind applies given whether a
// cached manifest and a remote dataset already exist. It implements
// the same init/clone/sync dispatch rule named in the specification's
// unified entry point.
func InferKind(hasCache, remoteDatasetExists bool) OperationKind {
	switch {
	case !hasCache && !remoteDatasetExists:
		return KindInit
	case !hasCache && remoteDatasetExists:
		return KindClone
	default:
		return KindSync
	}
}

func pathDepth(p string) int {
	return strings.Count(p, "/")
}

// orderCreates sorts shallowest-first so a file's parent directory
// exists on the destination before the file itself is written.
func orderCreates(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		di, dj := pathDepth(paths[i]), pathDepth(paths[j])
		if di != dj {
			return di < dj
		}

		return paths[i] < paths[j]
	})
}

// orderDeletes sorts deepest-first so a directory is never asked to
// delete a file before its descendants are gone.
func orderDeletes(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		di, dj := pathDepth(paths[i]), pathDepth(paths[j])
		if di != dj {
			return di > dj
		}

		return paths[i] > paths[j]
	})
}
