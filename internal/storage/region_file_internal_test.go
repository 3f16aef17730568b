package storage

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annelo/go-world-server/internal/chunk"
)

func TestRegionFile_CompactRenameFailureKeepsRegionReadable(t *testing.T) {
	region, err := OpenRegionFile(t.TempDir(), RegionPos{})
	require.NoError(t, err)
	defer region.Close()

	pos := chunk.Pos{X: 2, Z: 3}
	for i := 1; i <= 4; i++ {
		require.NoError(t, region.WriteChunk(pos, bytes.Repeat([]byte{byte(i)}, i*1000)))
	}
	require.True(t, region.NeedsCompaction())

	renameFile = func(string, string) error { return errors.New("rename denied") }
	t.Cleanup(func() { renameFile = os.Rename })

	compacted, err := region.Compact()
	assert.Error(t, err)
	assert.False(t, compacted)

	got, err := region.ReadChunk(pos)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{4}, 4000), got)
	require.NoError(t, region.WriteChunk(chunk.Pos{X: 5}, []byte("after")))

	_, err = os.Stat(region.Filename() + ".tmp")
	assert.True(t, os.IsNotExist(err))

	renameFile = os.Rename
	compacted, err = region.Compact()
	require.NoError(t, err)
	assert.True(t, compacted)
	got, err = region.ReadChunk(chunk.Pos{X: 5})
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), got)
}
