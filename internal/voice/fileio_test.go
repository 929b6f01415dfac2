package voice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveFileAtomicReplacesAndCleansUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chunk.json")

	require.NoError(t, SaveFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, SaveFileAtomic(path, []byte("second"), 0o644))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))
	assert.NoFileExists(t, path+".tmp")
}

func TestSaveFileAtomicRenameFailureKeepsTarget(t *testing.T) {
	dir := t.TempDir()
	// a non-empty directory at the target makes the rename fail
	target := filepath.Join(dir, "busy")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "child"), 0o755))

	assert.Error(t, SaveFileAtomic(target, []byte("x"), 0o644))
	assert.DirExists(t, filepath.Join(target, "child"))
	assert.NoFileExists(t, target+".tmp")
}
