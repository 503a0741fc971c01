package ignore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchLayers(t *testing.T) {
	s, err := Compile(Config{
		ExactPaths: []string{"secrets.txt"},
		Basenames:  []string{".DS_Store"},
		Suffixes:   []string{".tmp", ".partial"},
		Patterns:   []string{"build/**"},
	})
	require.NoError(t, err)

	assert.True(t, s.Match("secrets.txt"))
	assert.True(t, s.Match("sub/.DS_Store"))
	assert.True(t, s.Match("out/data.tmp"))
	assert.True(t, s.Match("build/obj/a.o"))
	assert.False(t, s.Match("data/real.csv"))
}

func TestMatchNilSet(t *testing.T) {
	var s *Set
	assert.False(t, s.Match("anything"))
}
