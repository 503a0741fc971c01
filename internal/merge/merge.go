// Package merge implements dsg's three-way classifier: given a path's
// entry (or absence) in the local working tree (L), the cached
// manifest from the last successful sync (C), and the remote manifest
// (R), it names which of fifteen states the path is in. Nothing in
// this package decides what action to take — internal/plan turns a
// State into work. Keeping classification and planning separate
// mirrors the teacher's reconciler, which also separates "what
// changed" (classifyStandardChange et al.) from "what to do about it"
// (the action constructors).
package merge

import "github.com/hrdag/dsg/internal/manifest"

// State names one of the fifteen three-way outcomes. Names follow the
// L/C/R presence notation directly: a state like LC_xR_L_eq_C reads
// "L and C are present, R is absent (x), and L equals C".
type State int

const (
	// All three present and equal: nothing changed anywhere.
	LCRAllEqual State = iota
	// All three present; local matches the cached base but remote moved on.
	LCRLEqualCNeR
	// All three present; cached matches remote but local changed.
	LCRCEqualRNeL
	// All three present; local matches remote but the cached base is stale.
	LCRLEqualRNeC
	// All three present and mutually different: a genuine conflict.
	LCRAllDiffer

	// Remote entry absent; local still matches the cached base: the
	// remote deletion should propagate to local.
	LCxRLEqualC
	// Remote entry absent; local changed since the cached base: conflict
	// between "you edited it" and "someone deleted it remotely".
	LCxRLNeC

	// Local entry absent; cached matches remote: the local deletion
	// should propagate to the remote.
	XLCRCEqualR
	// Local entry absent; cached and remote differ: conflict between
	// "you deleted it locally" and "someone changed it remotely".
	XLCRCNeR

	// Cached entry absent; local and remote happen to match: treat as
	// already synced, just record the cached baseline.
	LXCRLEqualR
	// Cached entry absent; local and remote differ: both sides added
	// the same path independently with different content — a conflict.
	LXCRLNeR

	// Only local has the entry: a brand-new local file to upload.
	LXCXR
	// Only the cached base has the entry: it was deleted on both sides
	// since the last sync; nothing left to do but drop the cached row.
	XLCXR
	// Only remote has the entry: a brand-new remote file to download.
	XLXCR

	// Present nowhere. Never a real classification outcome — Classify
	// is only ever called for a path known to exist in at least one of
	// the three manifests — but named so callers can detect a logic
	// bug rather than silently mis-plan.
	Impossible
)

func (s State) String() string {
	switch s {
	case LCRAllEqual:
		return "LCR_all_eq"
	case LCRLEqualCNeR:
		return "LCR_L=C_ne_R"
	case LCRCEqualRNeL:
		return "LCR_C=R_ne_L"
	case LCRLEqualRNeC:
		return "LCR_L=R_ne_C"
	case LCRAllDiffer:
		return "LCR_all_ne"
	case LCxRLEqualC:
		return "LC_xR_L=C"
	case LCxRLNeC:
		return "LC_xR_L!=C"
	case XLCRCEqualR:
		return "xLC_R_C=R"
	case XLCRCNeR:
		return "xLC_R_C!=R"
	case LXCRLEqualR:
		return "L_xC_R_L=R"
	case LXCRLNeR:
		return "L_xC_R_L!=R"
	case LXCXR:
		return "L_xC_xR"
	case XLCXR:
		return "xL_C_xR"
	case XLXCR:
		return "xL_xC_R"
	default:
		return "xLxCxR_impossible"
	}
}

// IsConflict reports whether a state requires human resolution rather
// than an automatic action.
func (s State) IsConflict() bool {
	switch s {
	case LCRAllDiffer, LCxRLNeC, XLCRCNeR, LXCRLNeR:
		return true
	default:
		return false
	}
}

// Classify determines the state of a single path given its optional
// entries in each of the three manifests. A nil pointer means the
// path is absent from that manifest.
func Classify(l, c, r *manifest.Entry) State {
	switch {
	case l != nil && c != nil && r != nil:
		return classifyAllPresent(l, c, r)
	case l != nil && c != nil && r == nil:
		if l.Equal(*c) {
			return LCxRLEqualC
		}

		return LCxRLNeC
	case l == nil && c != nil && r != nil:
		if c.Equal(*r) {
			return XLCRCEqualR
		}

		return XLCRCNeR
	case l != nil && c == nil && r != nil:
		if l.Equal(*r) {
			return LXCRLEqualR
		}

		return LXCRLNeR
	case l != nil && c == nil && r == nil:
		return LXCXR
	case l == nil && c != nil && r == nil:
		return XLCXR
	case l == nil && c == nil && r != nil:
		return XLXCR
	default:
		return Impossible
	}
}

func classifyAllPresent(l, c, r *manifest.Entry) State {
	lc := l.Equal(*c)
	cr := c.Equal(*r)
	lr := l.Equal(*r)

	switch {
	case lc && cr: // and therefore lr too
		return LCRAllEqual
	case lc && !cr:
		return LCRLEqualCNeR
	case cr && !lc:
		return LCRCEqualRNeL
	case lr && !lc:
		return LCRLEqualRNeC
	default:
		return LCRAllDiffer
	}
}
