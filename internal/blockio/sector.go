package blockio

import (
	"fmt"

	"github.com/boljen/go-bitmap"

	diskoerrors "github.com/dargueta/imagefs/errors"
)

// SectorSize is the fixed atomic addressable unit on the underlying stream,
// per spec.md's Sector entity. It's used to address legacy structures (the
// BPB, the boot sector) even though logical cluster size is variable.
const SectorSize = 512

// SectorCache is a write-back cache of whole sectors read from a Device. It
// mirrors the teacher repo's blockcache.BlockCache: a dirty/loaded pair of
// bitmaps tracks which sectors have been pulled in and which have been
// modified since the last Flush.
type SectorCache struct {
	device       Device
	loaded       bitmap.Bitmap
	dirty        bitmap.Bitmap
	data         []byte
	totalSectors uint
}

// NewSectorCache creates a cache over device sized to its current length,
// rounded up to a whole number of sectors.
func NewSectorCache(device Device) *SectorCache {
	totalSectors := uint((device.Len() + SectorSize - 1) / SectorSize)
	return &SectorCache{
		device:       device,
		loaded:       bitmap.NewSlice(int(totalSectors)),
		dirty:        bitmap.NewSlice(int(totalSectors)),
		data:         make([]byte, totalSectors*SectorSize),
		totalSectors: totalSectors,
	}
}

// TotalSectors returns the number of whole sectors currently backing the
// cache.
func (c *SectorCache) TotalSectors() uint { return c.totalSectors }

func (c *SectorCache) checkBounds(sector uint, count uint) error {
	if sector+count > c.totalSectors {
		return diskoerrors.ErrIOError.WithMessage(
			fmt.Sprintf(
				"sector range [%d, %d) out of bounds [0, %d)",
				sector, sector+count, c.totalSectors,
			),
		)
	}
	return nil
}

func (c *SectorCache) ensureLoaded(sector uint, count uint) error {
	if err := c.checkBounds(sector, count); err != nil {
		return err
	}

	for i := sector; i < sector+count; i++ {
		if c.loaded.Get(int(i)) {
			continue
		}

		buf := c.data[i*SectorSize : (i+1)*SectorSize]
		if _, err := c.device.ReadAt(buf, int64(i)*SectorSize); err != nil {
			return err
		}
		c.loaded.Set(int(i), true)
		c.dirty.Set(int(i), false)
	}
	return nil
}

// ReadSectors fills buf (which must be an exact multiple of SectorSize) with
// the contents of count sectors starting at sector, loading them from the
// device first if they aren't already cached.
func (c *SectorCache) ReadSectors(sector uint, count uint, buf []byte) error {
	if uint(len(buf)) != count*SectorSize {
		return diskoerrors.ErrIOError.WithMessage("buffer size doesn't match sector count")
	}
	if err := c.ensureLoaded(sector, count); err != nil {
		return err
	}
	copy(buf, c.data[sector*SectorSize:(sector+count)*SectorSize])
	return nil
}

// WriteSectors copies buf (an exact multiple of SectorSize) into the cache
// starting at sector, marking those sectors dirty. Nothing reaches the
// device until Flush is called.
func (c *SectorCache) WriteSectors(sector uint, data []byte) error {
	count := uint(len(data)) / SectorSize
	if uint(len(data))%SectorSize != 0 {
		return diskoerrors.ErrIOError.WithMessage("write size must be a multiple of the sector size")
	}
	if err := c.checkBounds(sector, count); err != nil {
		return err
	}

	copy(c.data[sector*SectorSize:(sector+count)*SectorSize], data)
	for i := sector; i < sector+count; i++ {
		c.loaded.Set(int(i), true)
		c.dirty.Set(int(i), true)
	}
	return nil
}

// Flush writes every dirty sector back to the device and clears the dirty
// bits. It's the caller's responsibility to invoke this before disposing of
// a writable file system, matching the "scoped acquisition" resource model
// in spec.md §5.
func (c *SectorCache) Flush() error {
	// Walk in contiguous dirty runs so a mostly-clean cache doesn't turn
	// into totalSectors separate one-sector writes.
	var runStart = -1
	flushRun := func(endExclusive uint) error {
		if runStart < 0 {
			return nil
		}
		start := uint(runStart)
		data := c.data[start*SectorSize : endExclusive*SectorSize]
		if _, err := c.device.WriteAt(data, int64(start)*SectorSize); err != nil {
			return err
		}
		for i := start; i < endExclusive; i++ {
			c.dirty.Set(int(i), false)
		}
		runStart = -1
		return nil
	}

	for i := uint(0); i < c.totalSectors; i++ {
		if c.dirty.Get(int(i)) {
			if runStart < 0 {
				runStart = int(i)
			}
			continue
		}
		if err := flushRun(i); err != nil {
			return err
		}
	}
	return flushRun(c.totalSectors)
}

// Grow extends the cache to cover newTotalSectors, which must be >= the
// current TotalSectors(). New sectors are treated as zero-filled and
// unloaded until first written or read.
func (c *SectorCache) Grow(newTotalSectors uint) error {
	if newTotalSectors < c.totalSectors {
		return diskoerrors.ErrIOError.WithMessage("Grow cannot shrink the sector cache")
	}
	if newTotalSectors == c.totalSectors {
		return nil
	}

	newData := make([]byte, newTotalSectors*SectorSize)
	copy(newData, c.data)
	newLoaded := bitmap.NewSlice(int(newTotalSectors))
	newDirty := bitmap.NewSlice(int(newTotalSectors))
	copy(newLoaded, c.loaded)
	copy(newDirty, c.dirty)

	if err := c.device.Truncate(int64(newTotalSectors) * SectorSize); err != nil {
		return err
	}

	c.data = newData
	c.loaded = newLoaded
	c.dirty = newDirty
	c.totalSectors = newTotalSectors
	return nil
}
