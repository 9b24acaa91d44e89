// Package fat implements a read/write engine for FAT12, FAT16, and FAT32
// disk images, exposed through the imagefs.FileSystem façade.
package fat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/blockio"
)

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// Variant identifies which of the three FAT flavors a volume is formatted
// as. Spec.md §3: "determined by the computed cluster count of the data
// region... authoritative and must not be inferred from any other field."
type Variant int

const (
	Variant12 Variant = 12
	Variant16 Variant = 16
	Variant32 Variant = 32
)

func (v Variant) String() string {
	switch v {
	case Variant12:
		return "FAT12"
	case Variant16:
		return "FAT16"
	case Variant32:
		return "FAT32"
	default:
		return "FAT(unknown)"
	}
}

// EntryBits is the number of bits a single allocation table entry occupies
// for this variant.
func (v Variant) EntryBits() uint {
	return uint(v)
}

// rawBPB is the fixed 36-byte structure common to all FAT variants, laid
// out exactly as it appears in sector 0. Grounded on the teacher's
// RawFATBootSectorWithBPB (file_systems/fat/common.go); field names follow
// spec.md §6's "Persisted binary formats" offsets instead of the teacher's
// naming so the field order doubles as documentation of the wire layout.
type rawBPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// rawFAT32Extension is the FAT32-specific block that follows rawBPB at
// offset 36 (spec.md §6).
type rawFAT32Extension struct {
	SectorsPerFAT32 uint32
	ExtFlags        uint16
	FSVersion       uint16
	RootCluster     uint32
	FSInfoSector    uint16
	BackupBootSec   uint16
	Reserved        [12]byte
	DriveNumber     uint8
	Reserved1       uint8
	BootSignature   uint8
	VolumeID        uint32
	VolumeLabel     [11]byte
	FSType          [8]byte
}

// rawLegacyExtension is the FAT12/16 extended BPB block that follows rawBPB
// at offset 36, mirroring rawFAT32Extension's trailing fields without the
// FAT32-only geometry at its head.
type rawLegacyExtension struct {
	DriveNumber   uint8
	Reserved1     uint8
	BootSignature uint8
	VolumeID      uint32
	VolumeLabel   [11]byte
	FSType        [8]byte
}

// BootSector is the fully parsed, derived view of a FAT volume's geometry:
// the raw BPB fields plus every value §4.2-§4.6 compute from them.
type BootSector struct {
	raw         rawBPB
	fat32       rawFAT32Extension
	hasFAT32Ext bool

	Variant           Variant
	BytesPerSector    uint
	SectorsPerCluster uint
	BytesPerCluster   uint
	ReservedSectors   uint
	NumFATs           uint
	RootEntryCount    uint
	TotalSectors      uint
	SectorsPerFAT     uint
	TotalFATSectors   uint
	RootDirSectors    uint
	FirstDataSector   uint
	FirstFATSector    uint
	RootDirSector     uint // FAT12/16 only
	RootCluster       uint // FAT32 only
	TotalClusters     uint
	DirentsPerCluster uint
	VolumeLabel       string
	MirrorFAT         bool
	ActiveFATIndex    uint
}

// DetermineVariant applies spec.md §3's cluster-count rule, the only
// authoritative way to tell FAT12/16/32 apart.
func DetermineVariant(totalClusters uint) Variant {
	switch {
	case totalClusters < 4085:
		return Variant12
	case totalClusters < 65525:
		return Variant16
	default:
		return Variant32
	}
}

// ParseBootSector reads and validates sector 0 of device, returning the
// derived geometry used by every other component in this package.
func ParseBootSector(device blockio.Device) (*BootSector, error) {
	buf := make([]byte, blockio.SectorSize)
	if _, err := device.ReadAt(buf, 0); err != nil {
		return nil, errors.ErrIOError.Wrap(err)
	}

	var raw rawBPB
	if err := binary.Read(bytesReader(buf[:36]), binary.LittleEndian, &raw); err != nil {
		return nil, errors.ErrIOError.Wrap(err)
	}

	// Spec.md's data model fixes the sector at 512 bytes; reject the rarer
	// large-sector media the original FAT spec otherwise permits rather than
	// threading a second unit size through every cluster/table computation.
	if raw.BytesPerSector != blockio.SectorSize {
		return nil, errors.ErrCorrupt.WithMessage(fmt.Sprintf(
			"bytes/sector must be %d, got %d", blockio.SectorSize, raw.BytesPerSector))
	}

	switch raw.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return nil, errors.ErrCorrupt.WithMessage(fmt.Sprintf(
			"sectors/cluster must be a power of 2 in 1..128, got %d", raw.SectorsPerCluster))
	}

	rootDirSectors := (uint(raw.RootEntryCount)*32 + uint(raw.BytesPerSector) - 1) / uint(raw.BytesPerSector)

	var sectorsPerFAT uint
	var fat32Ext rawFAT32Extension
	hasFAT32Ext := raw.SectorsPerFAT16 == 0
	if hasFAT32Ext {
		if err := binary.Read(bytesReader(buf[36:90]), binary.LittleEndian, &fat32Ext); err != nil {
			return nil, errors.ErrIOError.Wrap(err)
		}
		sectorsPerFAT = uint(fat32Ext.SectorsPerFAT32)
	} else {
		sectorsPerFAT = uint(raw.SectorsPerFAT16)
	}

	totalSectors := uint(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = uint(raw.TotalSectors32)
	}

	totalFATSectors := uint(raw.NumFATs) * sectorsPerFAT
	firstDataSector := uint(raw.ReservedSectors) + totalFATSectors + rootDirSectors
	dataSectors := totalSectors - firstDataSector
	bytesPerCluster := uint(raw.BytesPerSector) * uint(raw.SectorsPerCluster)
	totalClusters := dataSectors / uint(raw.SectorsPerCluster)

	variant := DetermineVariant(totalClusters)
	if variant == Variant32 && rootDirSectors != 0 {
		return nil, errors.ErrCorrupt.WithMessage(fmt.Sprintf(
			"root directory sector count is %d, must be 0 on FAT32", rootDirSectors))
	}
	if variant == Variant32 && !hasFAT32Ext {
		return nil, errors.ErrCorrupt.WithMessage(
			"computed cluster count selects FAT32 but the boot sector has no FAT32 extension (16-bit FAT size field is nonzero)")
	}

	bs := &BootSector{
		raw:               raw,
		fat32:             fat32Ext,
		hasFAT32Ext:       hasFAT32Ext,
		Variant:           variant,
		BytesPerSector:    uint(raw.BytesPerSector),
		SectorsPerCluster: uint(raw.SectorsPerCluster),
		BytesPerCluster:   bytesPerCluster,
		ReservedSectors:   uint(raw.ReservedSectors),
		NumFATs:           uint(raw.NumFATs),
		RootEntryCount:    uint(raw.RootEntryCount),
		TotalSectors:      totalSectors,
		SectorsPerFAT:     sectorsPerFAT,
		TotalFATSectors:   totalFATSectors,
		RootDirSectors:    rootDirSectors,
		FirstFATSector:    uint(raw.ReservedSectors),
		FirstDataSector:   firstDataSector,
		TotalClusters:     totalClusters,
		DirentsPerCluster: bytesPerCluster / DirentSize,
	}

	if variant == Variant32 {
		bs.RootCluster = uint(fat32Ext.RootCluster)
		bs.MirrorFAT = fat32Ext.ExtFlags&0x80 == 0
		bs.ActiveFATIndex = uint(fat32Ext.ExtFlags & 0x0F)
		bs.VolumeLabel = trimOEMField(fat32Ext.VolumeLabel[:])
	} else {
		bs.RootDirSector = firstDataSector - rootDirSectors
		bs.MirrorFAT = true
		bs.ActiveFATIndex = 0

		var legacyExt rawLegacyExtension
		if err := binary.Read(bytesReader(buf[36:62]), binary.LittleEndian, &legacyExt); err != nil {
			return nil, errors.ErrIOError.Wrap(err)
		}
		bs.VolumeLabel = trimOEMField(legacyExt.VolumeLabel[:])
	}

	return bs, nil
}

func trimOEMField(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return string(b[:i])
}
