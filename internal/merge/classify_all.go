package merge

import (
	"sort"

	"github.com/hrdag/dsg/internal/manifest"
)

// PathState pairs a path with its classified state and the three
// source entries (any of which may be absent), so the planner can
// build an action without re-indexing the manifests.
type PathState struct {
	Path  string
	State State
	L, C, R *manifest.Entry
}

// ClassifyAll classifies every path present in at least one of the
// three manifests, in deterministic path order.
func ClassifyAll(local, cached, remote *manifest.Manifest) []PathState {
	seen := make(map[string]struct{})

	for p := range local.Entries {
		seen[p] = struct{}{}
	}

	for p := range cached.Entries {
		seen[p] = struct{}{}
	}

	for p := range remote.Entries {
		seen[p] = struct{}{}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	out := make([]PathState, 0, len(paths))

	for _, p := range paths {
		l := entryPtr(local, p)
		c := entryPtr(cached, p)
		r := entryPtr(remote, p)

		out = append(out, PathState{
			Path:  p,
			State: Classify(l, c, r),
			L:     l,
			C:     c,
			R:     r,
		})
	}

	return out
}

func entryPtr(m *manifest.Manifest, path string) *manifest.Entry {
	if e, ok := m.Entries[path]; ok {
		return &e
	}

	return nil
}
