package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrdag/dsg/internal/manifest"
)

func e(hash string) *manifest.Entry {
	return &manifest.Entry{Kind: manifest.KindFile, ContentHash: hash}
}

func TestClassifyAllFifteenStates(t *testing.T) {
	cases := []struct {
		name       string
		l, c, r    *manifest.Entry
		want       State
		isConflict bool
	}{
		{"all equal", e("a"), e("a"), e("a"), LCRAllEqual, false},
		{"L=C remote moved", e("a"), e("a"), e("b"), LCRLEqualCNeR, false},
		{"C=R local changed", e("a"), e("b"), e("b"), LCRCEqualRNeL, false},
		{"L=R cache stale", e("a"), e("b"), e("a"), LCRLEqualRNeC, false},
		{"all differ", e("a"), e("b"), e("c"), LCRAllDiffer, true},

		{"remote gone, local unchanged", e("a"), e("a"), nil, LCxRLEqualC, false},
		{"remote gone, local changed", e("a"), e("b"), nil, LCxRLNeC, true},

		{"local gone, remote unchanged", nil, e("a"), e("a"), XLCRCEqualR, false},
		{"local gone, remote changed", nil, e("a"), e("b"), XLCRCNeR, true},

		{"no base, both match", e("a"), nil, e("a"), LXCRLEqualR, false},
		{"no base, differ", e("a"), nil, e("b"), LXCRLNeR, true},

		{"only local", e("a"), nil, nil, LXCXR, false},
		{"only cached", nil, e("a"), nil, XLCXR, false},
		{"only remote", nil, nil, e("a"), XLXCR, false},
		{"present nowhere", nil, nil, nil, Impossible, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.l, tc.c, tc.r)
			assert.Equal(t, tc.want, got, "state")
			assert.Equal(t, tc.isConflict, got.IsConflict(), "conflict flag")
		})
	}
}

func TestClassifyAllOverManifests(t *testing.T) {
	local := manifest.New()
	local.Entries["new.txt"] = *e("new")

	cached := manifest.New()

	remote := manifest.New()
	remote.Entries["gone.txt"] = *e("old")

	states := ClassifyAll(local, cached, remote)

	byPath := map[string]State{}
	for _, s := range states {
		byPath[s.Path] = s.State
	}

	assert.Equal(t, LXCXR, byPath["new.txt"])
	assert.Equal(t, XLXCR, byPath["gone.txt"])
}
