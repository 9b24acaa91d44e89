package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"

	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/blockio"
)

// clusterSizeRule is one row of spec.md §4.6's sector-count table.
type clusterSizeRule struct {
	maxSectors        uint
	variant           Variant
	sectorsPerCluster uint
}

// clusterSizeTable mirrors spec.md §4.6 verbatim, in ascending order.
var clusterSizeTable = []clusterSizeRule{
	{32680, Variant16, 2},
	{262144, Variant16, 4},
	{524288, Variant16, 8},
	{1048576 - 1, Variant16, 16},
	{532480, Variant32, 1},
	{16777216, Variant32, 8},
	{33554432, Variant32, 16},
	{67108864, Variant32, 32},
}

// floppyPresets maps the sector counts of the common 720 KiB, 1.44 MiB and
// 2.88 MiB floppy images to the sectors/cluster of their fixed FAT12
// geometry, per spec.md §4.6.
var floppyPresets = map[uint]uint{1440: 2, 2880: 1, 5760: 2}

// selectGeometry picks the FAT variant and sectors/cluster for a volume of
// totalSectors sectors, per spec.md §4.6's table. Format consults
// floppyPresets first, so the floppy sizes never reach this table.
func selectGeometry(totalSectors uint) (Variant, uint, error) {
	if totalSectors <= 8400 {
		return 0, 0, errors.ErrInvalidPath.WithMessage("volume too small to format (<= 8400 sectors)")
	}
	for _, rule := range clusterSizeTable {
		if totalSectors <= rule.maxSectors {
			return rule.variant, rule.sectorsPerCluster, nil
		}
	}
	return Variant32, 64, nil
}

// FormatOptions configures Format.
type FormatOptions struct {
	Label string
	// TotalSectors is the size of the volume to format, in 512-byte
	// sectors. Use one of the well-known floppy sizes (1440, 2880, 5760)
	// to get a fixed FAT12 floppy geometry instead of the general table.
	TotalSectors uint
	// ReservedSectors defaults to 1 for FAT12/16 and 32 for FAT32 when 0.
	ReservedSectors uint
	NumFATs         uint
	// PartitionOffsetSectors is recorded in the BPB's HiddenSectors field.
	PartitionOffsetSectors uint32
}

// Format writes a fresh, empty FAT file system into device, per spec.md
// §4.6. It selects the FAT variant and cluster size from TotalSectors,
// writes the BPB, two FAT copies seeded with the media descriptor and
// end-of-chain markers, an empty root directory region/cluster, and pads
// the stream to full size.
//
// Grounded on the teacher's file_systems/unixv1/format.go, the only
// formatter the teacher repo implements; the bytewriter-over-a-byte-slice
// idiom used here follows it directly even though FAT's geometry table is
// unrelated to UnixV1's.
func Format(device blockio.Device, opts FormatOptions) error {
	if opts.NumFATs == 0 {
		opts.NumFATs = 2
	}

	var variant Variant
	var sectorsPerCluster uint
	if spc, ok := floppyPresets[opts.TotalSectors]; ok {
		variant = Variant12
		sectorsPerCluster = spc
	} else {
		v, spc, err := selectGeometry(opts.TotalSectors)
		if err != nil {
			return err
		}
		variant, sectorsPerCluster = v, spc
	}

	reservedSectors := opts.ReservedSectors
	if reservedSectors == 0 {
		if variant == Variant32 {
			reservedSectors = 32
		} else {
			reservedSectors = 1
		}
	}

	rootEntryCount := uint16(0)
	if variant != Variant32 {
		rootEntryCount = 512
	}
	rootDirSectors := (uint(rootEntryCount)*32 + blockio.SectorSize - 1) / blockio.SectorSize

	entryBits := variant.EntryBits()
	// Binary-search-free closed form: estimate cluster count from total
	// sectors minus reserved/root, then compute the FAT size that fits it,
	// repeating (at most 8 times) until the FAT size stops changing, since
	// FAT size itself consumes data sectors.
	sectorsPerFAT := estimateSectorsPerFAT(opts.TotalSectors, reservedSectors, rootDirSectors, opts.NumFATs, sectorsPerCluster, entryBits)

	totalFATSectors := opts.NumFATs * sectorsPerFAT
	firstDataSector := reservedSectors + totalFATSectors + rootDirSectors
	if firstDataSector >= opts.TotalSectors {
		return errors.ErrInvalidPath.WithMessage("volume too small for computed FAT geometry")
	}
	dataSectors := opts.TotalSectors - firstDataSector
	totalClusters := dataSectors / sectorsPerCluster

	// DetermineVariant's cluster-count rule (spec.md §3) is authoritative and
	// must not be inferred from any other field, including the geometry
	// table consulted above to pick sectorsPerCluster/reservedSectors; if the
	// two disagree, a volume written with this geometry would mislabel its
	// own variant the moment ParseBootSector re-derives it, so refuse to
	// write it instead of producing an image that fails its own consistency
	// check.
	if got := DetermineVariant(totalClusters); got != variant {
		return errors.ErrInvalidPath.WithMessage(fmt.Sprintf(
			"geometry table selected %s but the resulting %d clusters determine %s",
			variant, totalClusters, got))
	}

	buf := make([]byte, uint64(opts.TotalSectors)*blockio.SectorSize)

	if err := writeBootSector(buf, variant, opts, reservedSectors, rootEntryCount, sectorsPerCluster, sectorsPerFAT); err != nil {
		return err
	}

	rootCluster := ClusterID(2)
	for i := uint(0); i < opts.NumFATs; i++ {
		fatStart := (reservedSectors + i*sectorsPerFAT) * blockio.SectorSize
		fatBuf := buf[fatStart : fatStart+sectorsPerFAT*blockio.SectorSize]
		seedFAT(fatBuf, variant, rootCluster)
	}

	if variant == Variant32 {
		rootClusterStart := firstDataSector * blockio.SectorSize
		bytesPerCluster := sectorsPerCluster * blockio.SectorSize
		// Root cluster content defaults to zero, which is already the
		// buffer's zero value; nothing further to write.
		_ = buf[rootClusterStart : rootClusterStart+bytesPerCluster]
	}

	if err := device.Truncate(int64(len(buf))); err != nil {
		return err
	}
	if _, err := device.WriteAt(buf, 0); err != nil {
		return errors.ErrIOError.Wrap(err)
	}

	return nil
}

// estimateSectorsPerFAT computes ceil(numClusters * entryBits / 8 /
// bytesPerSector), per spec.md §4.6, self-consistently accounting for the
// FAT's own footprint in the sector budget.
func estimateSectorsPerFAT(totalSectors, reservedSectors, rootDirSectors, numFATs, sectorsPerCluster, entryBits uint) uint {
	sectorsPerFAT := uint(1)
	for iter := 0; iter < 8; iter++ {
		totalFATSectors := numFATs * sectorsPerFAT
		usedSectors := reservedSectors + totalFATSectors + rootDirSectors
		if usedSectors >= totalSectors {
			break
		}
		dataSectors := totalSectors - usedSectors
		numClusters := dataSectors / sectorsPerCluster
		needed := (numClusters*entryBits + 7) / 8
		newSectorsPerFAT := (needed + blockio.SectorSize - 1) / blockio.SectorSize
		if newSectorsPerFAT == 0 {
			newSectorsPerFAT = 1
		}
		if newSectorsPerFAT == sectorsPerFAT {
			break
		}
		sectorsPerFAT = newSectorsPerFAT
	}
	return sectorsPerFAT
}

func writeBootSector(buf []byte, variant Variant, opts FormatOptions, reservedSectors uint, rootEntryCount uint16, sectorsPerCluster, sectorsPerFAT uint) error {
	w := bytewriter.New(buf[0:512])

	raw := rawBPB{
		JmpBoot:           [3]byte{0xEB, 0x3C, 0x90},
		BytesPerSector:    blockio.SectorSize,
		SectorsPerCluster: uint8(sectorsPerCluster),
		ReservedSectors:   uint16(reservedSectors),
		NumFATs:           uint8(opts.NumFATs),
		RootEntryCount:    rootEntryCount,
		Media:             0xF8,
		SectorsPerTrack:   63,
		NumHeads:          255,
		HiddenSectors:     opts.PartitionOffsetSectors,
	}
	copy(raw.OEMName[:], "IMAGEFS ")

	if opts.TotalSectors < 0x10000 {
		raw.TotalSectors16 = uint16(opts.TotalSectors)
	} else {
		raw.TotalSectors32 = uint32(opts.TotalSectors)
	}
	if variant != Variant32 {
		raw.SectorsPerFAT16 = uint16(sectorsPerFAT)
	}

	if err := binary.Write(w, binary.LittleEndian, &raw); err != nil {
		return errors.ErrIOError.Wrap(err)
	}

	if variant == Variant32 {
		ext := rawFAT32Extension{
			SectorsPerFAT32: uint32(sectorsPerFAT),
			RootCluster:     2,
			FSInfoSector:    1,
			BackupBootSec:   6,
			BootSignature:   0x29,
			VolumeID:        0x12345678,
		}
		copy(ext.VolumeLabel[:], padRight(opts.Label, 11))
		copy(ext.FSType[:], "FAT32   ")
		if err := binary.Write(w, binary.LittleEndian, &ext); err != nil {
			return errors.ErrIOError.Wrap(err)
		}
	} else {
		var tail struct {
			DriveNumber   uint8
			Reserved1     uint8
			BootSignature uint8
			VolumeID      uint32
			VolumeLabel   [11]byte
			FSType        [8]byte
		}
		tail.BootSignature = 0x29
		tail.VolumeID = 0x12345678
		copy(tail.VolumeLabel[:], padRight(opts.Label, 11))
		if variant == Variant12 {
			copy(tail.FSType[:], "FAT12   ")
		} else {
			copy(tail.FSType[:], "FAT16   ")
		}
		if err := binary.Write(w, binary.LittleEndian, &tail); err != nil {
			return errors.ErrIOError.Wrap(err)
		}
	}

	buf[510] = 0x55
	buf[511] = 0xAA
	return nil
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	b := []byte(s)
	for len(b) < n {
		b = append(b, ' ')
	}
	return string(b)
}

// seedFAT writes the media descriptor into entry 0 and end-of-chain
// markers into entry 1 (and entry 2, the root directory's cluster, on
// FAT32) of one FAT copy, per spec.md §4.6.
func seedFAT(fatBuf []byte, variant Variant, rootCluster ClusterID) {
	encodeEntry(variant, fatBuf, 0, 0x0FFFFF00|0xF8)
	eoc := uint32(0x0FFFFFFF)
	switch variant {
	case Variant12:
		eoc = 0x0FFF
	case Variant16:
		eoc = 0xFFFF
	}
	encodeEntry(variant, fatBuf, 1, eoc)
	if variant == Variant32 {
		encodeEntry(variant, fatBuf, uint32(rootCluster), eoc)
	}
}
