package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanBuildsManifest(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, MetaDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, MetaDirName, "last-sync.json"), []byte("{}"), 0o644))

	m, report, err := Scan(context.Background(), root, "alice", Options{})
	require.NoError(t, err)
	assert.Empty(t, report.ValidationErr)

	assert.Len(t, m.Entries, 2)
	assert.Contains(t, m.Entries, "a.txt")
	assert.Contains(t, m.Entries, "sub/b.txt")
	assert.NotContains(t, m.Entries, ".dsg/last-sync.json")
}

func TestValidateNameRejectsReserved(t *testing.T) {
	assert.Error(t, ValidateName("CON"))
	assert.Error(t, ValidateName("con.txt"))
	assert.Error(t, ValidateName("trailing "))
	assert.NoError(t, ValidateName("normal.txt"))
}
