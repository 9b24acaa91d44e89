// Package ntfs implements read-only access to NTFS volumes, mirroring the
// fat package's layering (block I/O -> cluster reader -> allocation map ->
// directory model -> FileSystem façade) but over the Master File Table
// instead of a linked allocation table.
//
// Grounded on fat/bpb.go for the boot-sector parsing shape; NTFS's own BPB
// layout is simpler than FAT's (no 12/16/32 branching) but carries 64-bit
// geometry fields FAT never needed.
package ntfs

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/blockio"
)

// BootSector is the parsed, derived view of an NTFS volume's geometry.
type BootSector struct {
	BytesPerSector    uint
	SectorsPerCluster uint
	BytesPerCluster   uint
	TotalSectors      uint64
	MFTCluster        uint64
	MFTMirrorCluster  uint64
	// BytesPerFileRecord is the size of one MFT file record, derived from
	// the signed ClustersPerFileRecordSegment byte: a positive value counts
	// whole clusters, a negative value n means 2^|n| bytes.
	BytesPerFileRecord uint
	// BytesPerIndexBuffer is the size of one $INDEX_ALLOCATION block,
	// derived the same way as BytesPerFileRecord.
	BytesPerIndexBuffer uint
	VolumeSerialNumber  uint64
}

// signedClusterCountToBytes applies the MFT/index record sizing rule: a
// positive raw value is a cluster count; a negative raw value n means the
// record is 2^|n| bytes, independent of cluster size.
func signedClusterCountToBytes(raw int8, bytesPerCluster uint) uint {
	if raw >= 0 {
		return uint(raw) * bytesPerCluster
	}
	return 1 << uint(-raw)
}

// ParseBootSector reads and validates sector 0 of device, returning the
// derived geometry used by the MFT reader and cluster addressing.
func ParseBootSector(device blockio.Device) (*BootSector, error) {
	buf := make([]byte, blockio.SectorSize)
	if _, err := device.ReadAt(buf, 0); err != nil {
		return nil, errors.ErrIOError.Wrap(err)
	}

	if string(buf[3:7]) != "NTFS" {
		return nil, errors.ErrCorrupt.WithMessage("missing NTFS OEM ID")
	}

	bytesPerSector := binary.LittleEndian.Uint16(buf[11:13])
	if bytesPerSector != blockio.SectorSize {
		return nil, errors.ErrCorrupt.WithMessage(fmt.Sprintf(
			"bytes/sector must be %d, got %d", blockio.SectorSize, bytesPerSector))
	}

	sectorsPerCluster := uint(buf[13])
	switch sectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return nil, errors.ErrCorrupt.WithMessage(fmt.Sprintf(
			"sectors/cluster must be a power of 2 in 1..128, got %d", sectorsPerCluster))
	}
	bytesPerCluster := uint(bytesPerSector) * sectorsPerCluster

	totalSectors := binary.LittleEndian.Uint64(buf[40:48])
	mftCluster := binary.LittleEndian.Uint64(buf[48:56])
	mftMirrorCluster := binary.LittleEndian.Uint64(buf[56:64])
	clustersPerFileRecord := int8(buf[64])
	clustersPerIndexBuffer := int8(buf[68])
	serial := binary.LittleEndian.Uint64(buf[72:80])

	return &BootSector{
		BytesPerSector:      uint(bytesPerSector),
		SectorsPerCluster:   sectorsPerCluster,
		BytesPerCluster:     bytesPerCluster,
		TotalSectors:        totalSectors,
		MFTCluster:          mftCluster,
		MFTMirrorCluster:    mftMirrorCluster,
		BytesPerFileRecord:  signedClusterCountToBytes(clustersPerFileRecord, bytesPerCluster),
		BytesPerIndexBuffer: signedClusterCountToBytes(clustersPerIndexBuffer, bytesPerCluster),
		VolumeSerialNumber:  serial,
	}, nil
}
