package contenthash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDeterministic(t *testing.T) {
	a, err := Stream(strings.NewReader("hello world"))
	require.NoError(t, err)

	b, err := Stream(strings.NewReader("hello world"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 16) // 8 bytes hex-encoded
}

func TestStreamDiffersOnContent(t *testing.T) {
	a, err := Stream(strings.NewReader("hello world"))
	require.NoError(t, err)

	b, err := Stream(strings.NewReader("hello world!"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSumMatchesStream(t *testing.T) {
	viaSum := Sum([]byte("abc"))
	viaStream, err := Stream(strings.NewReader("abc"))
	require.NoError(t, err)

	assert.Equal(t, viaStream, viaSum)
}

func TestHashWriteIncremental(t *testing.T) {
	h := New()
	_, err := h.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = h.Write([]byte("world"))
	require.NoError(t, err)

	oneShot := New()
	_, err = oneShot.Write([]byte("hello world"))
	require.NoError(t, err)

	assert.Equal(t, oneShot.HexString(), h.HexString())
}
