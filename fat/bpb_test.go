package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/imagefs/internal/blockio"
)

func TestDetermineVariant(t *testing.T) {
	assert.Equal(t, Variant12, DetermineVariant(0))
	assert.Equal(t, Variant12, DetermineVariant(4084))
	assert.Equal(t, Variant16, DetermineVariant(4085))
	assert.Equal(t, Variant16, DetermineVariant(65524))
	assert.Equal(t, Variant32, DetermineVariant(65525))
	assert.Equal(t, Variant32, DetermineVariant(1<<20))
}

func TestParseBootSectorFAT16(t *testing.T) {
	const totalSectors = 20000
	dev, err := blockio.NewMemoryDevice(make([]byte, totalSectors*blockio.SectorSize))
	require.NoError(t, err)

	require.NoError(t, Format(dev, FormatOptions{TotalSectors: totalSectors, Label: "TESTVOL"}))

	bs, err := ParseBootSector(dev)
	require.NoError(t, err)
	assert.Equal(t, Variant16, bs.Variant)
	assert.EqualValues(t, blockio.SectorSize, bs.BytesPerSector)
	assert.EqualValues(t, 2, bs.NumFATs)
	assert.True(t, bs.MirrorFAT)
	assert.Greater(t, bs.TotalClusters, uint(0))
}

func TestParseBootSectorFAT32(t *testing.T) {
	const totalSectors = 1048576
	dev, err := blockio.NewMemoryDevice(make([]byte, totalSectors*blockio.SectorSize))
	require.NoError(t, err)

	require.NoError(t, Format(dev, FormatOptions{TotalSectors: totalSectors, Label: "BIGVOL"}))

	bs, err := ParseBootSector(dev)
	require.NoError(t, err)
	assert.Equal(t, Variant32, bs.Variant)
	assert.EqualValues(t, 0, bs.RootDirSectors)
	assert.EqualValues(t, 2, bs.RootCluster)
}

func TestParseBootSectorRejectsNonstandardSectorSize(t *testing.T) {
	const totalSectors = 20000
	dev, err := blockio.NewMemoryDevice(make([]byte, totalSectors*blockio.SectorSize))
	require.NoError(t, err)
	require.NoError(t, Format(dev, FormatOptions{TotalSectors: totalSectors}))

	// Corrupt BytesPerSector in place to simulate a 1024-byte-sector image.
	raw := make([]byte, blockio.SectorSize)
	_, err = dev.ReadAt(raw, 0)
	require.NoError(t, err)
	raw[11] = 0x00
	raw[12] = 0x04 // 0x0400 == 1024
	_, err = dev.WriteAt(raw, 0)
	require.NoError(t, err)

	_, err = ParseBootSector(dev)
	assert.Error(t, err)
}
