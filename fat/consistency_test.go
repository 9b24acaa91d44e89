package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/imagefs"
)

func TestCheckConsistencyCleanVolume(t *testing.T) {
	fs, _ := openTestFAT16(t)

	f, err := fs.OpenFile("\\A.TXT", imagefs.ModeWrite|imagefs.ModeCreate)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, int(fs.reader.BytesPerCluster())*3))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.CreateDirectory("\\DIR1"))

	assert.NoError(t, fs.CheckConsistency())
}

func TestCheckConsistencyDetectsOrphanedAllocatedCluster(t *testing.T) {
	fs, _ := openTestFAT16(t)

	c, err := fs.table.Allocate()
	require.NoError(t, err)
	require.NoError(t, fs.table.Flush())
	_ = c

	err = fs.CheckConsistency()
	assert.Error(t, err)
}

func TestCheckConsistencyDetectsUnmarkedReachableCluster(t *testing.T) {
	fs, _ := openTestFAT16(t)

	f, err := fs.OpenFile("\\A.TXT", imagefs.ModeWrite|imagefs.ModeCreate)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entry, ok := fs.rootDir.FindByName("A.TXT")
	require.True(t, ok)

	// Forcibly free the cluster out from under the live directory entry, so
	// the closure check finds a reachable-but-free mismatch.
	require.NoError(t, fs.table.MarkFree(entry.FirstCluster))
	require.NoError(t, fs.table.Flush())

	err = fs.CheckConsistency()
	assert.Error(t, err)
}
