package blockio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/imagefs/internal/blockio"
)

func newMemDevice(t *testing.T, size int) *blockio.MemoryDevice {
	t.Helper()
	dev, err := blockio.NewMemoryDevice(make([]byte, size))
	require.NoError(t, err)
	return dev
}

func TestSectorCacheReadWriteRoundTrip(t *testing.T) {
	dev := newMemDevice(t, 4*blockio.SectorSize)
	cache := blockio.NewSectorCache(dev)

	payload := make([]byte, blockio.SectorSize)
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	require.NoError(t, cache.WriteSectors(1, payload))

	out := make([]byte, blockio.SectorSize)
	require.NoError(t, cache.ReadSectors(1, 1, out))
	assert.Equal(t, payload, out)

	require.NoError(t, cache.Flush())

	// A fresh cache over the same device must see the flushed data.
	cache2 := blockio.NewSectorCache(dev)
	out2 := make([]byte, blockio.SectorSize)
	require.NoError(t, cache2.ReadSectors(1, 1, out2))
	assert.Equal(t, payload, out2)
}

func TestSectorCacheOutOfBounds(t *testing.T) {
	dev := newMemDevice(t, 2*blockio.SectorSize)
	cache := blockio.NewSectorCache(dev)

	buf := make([]byte, blockio.SectorSize)
	assert.Error(t, cache.ReadSectors(5, 1, buf))
}

func TestSectorCacheGrow(t *testing.T) {
	dev := newMemDevice(t, 1*blockio.SectorSize)
	cache := blockio.NewSectorCache(dev)
	require.NoError(t, cache.Grow(3))
	assert.EqualValues(t, 3, cache.TotalSectors())

	buf := make([]byte, blockio.SectorSize)
	require.NoError(t, cache.ReadSectors(2, 1, buf))
	assert.Equal(t, make([]byte, blockio.SectorSize), buf)
}
