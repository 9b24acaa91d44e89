package ntfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConsistencyCleanVolume(t *testing.T) {
	dev := buildTestVolume(t)
	fs, err := Open(dev, nil)
	require.NoError(t, err)

	assert.NoError(t, fs.CheckConsistency())
}

func TestCheckConsistencyDetectsUnreachableAllocatedCluster(t *testing.T) {
	// Mark allocated a cluster no file record's runs ever reference.
	orphanCluster := uint(testMFTCluster + testMFTClusterCount + 5)
	dev := buildTestVolumeWithExtraAllocated(t, []uint16{uint16(orphanCluster)})
	fs, err := Open(dev, nil)
	require.NoError(t, err)

	bitmapRecord, err := fs.mft.ReadRecord(RecordBitmap)
	require.NoError(t, err)
	bitmapAttr, err := findDataAttribute(bitmapRecord, "")
	require.NoError(t, err)
	require.NotZero(t, bitmapAttr.Resident[orphanCluster/8]&(1<<(orphanCluster%8)))

	err = fs.CheckConsistency()
	assert.Error(t, err)
}
