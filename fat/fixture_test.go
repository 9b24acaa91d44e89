package fat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dargueta/imagefs"
	"github.com/dargueta/imagefs/internal/blockio"
)

// newFormattedDevice builds a memory-backed device pre-sized exactly to
// totalSectors and formats it, so Format's internal Truncate call never
// needs to grow the underlying fixed-size buffer.
func newFormattedDevice(t *testing.T, totalSectors uint, opts FormatOptions) *blockio.MemoryDevice {
	t.Helper()
	dev, err := blockio.NewMemoryDevice(make([]byte, uint64(totalSectors)*blockio.SectorSize))
	require.NoError(t, err)

	opts.TotalSectors = totalSectors
	require.NoError(t, Format(dev, opts))
	return dev
}

// openTestFAT16 formats and opens a small FAT16 image (~10 MiB) with a
// fixed clock, the common starting point for directory/stream/filesystem
// tests.
func openTestFAT16(t *testing.T) (*FileSystem, imagefs.Clock) {
	t.Helper()
	dev := newFormattedDevice(t, 20000, FormatOptions{Label: "TESTVOL"})

	fs, err := Open(dev, nil)
	require.NoError(t, err)

	clock := imagefs.FixedClock{At: time.Date(2024, time.March, 5, 12, 30, 0, 0, time.UTC)}
	fs.SetClock(clock)
	return fs, clock
}

// openTestFAT32 formats and opens a larger FAT32 image (512 MiB, the
// smallest size the geometry table formats as FAT32).
func openTestFAT32(t *testing.T) (*FileSystem, imagefs.Clock) {
	t.Helper()
	dev := newFormattedDevice(t, 1048576, FormatOptions{Label: "BIGVOL"})

	fs, err := Open(dev, nil)
	require.NoError(t, err)

	clock := imagefs.FixedClock{At: time.Date(2024, time.March, 5, 12, 30, 0, 0, time.UTC)}
	fs.SetClock(clock)
	return fs, clock
}
