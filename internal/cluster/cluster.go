// Package cluster implements the sector/cluster reader described in the
// design as component 4.2: given (first-data-sector, sectors-per-cluster,
// bytes-per-sector), it converts a cluster index into a byte offset and
// exposes whole-cluster reads and writes. It never interprets cluster
// contents — that's the job of fat.Directory, fat.ChainStream, and the
// ntfs package's attribute readers.
//
// Grounded on the teacher repo's drivers/common/clusterio.go, rebuilt on
// top of internal/blockio's sector cache instead of a bare block stream.
package cluster

import (
	"fmt"

	"github.com/dargueta/imagefs/internal/blockio"
)

// ID identifies a cluster. Per spec.md §3, clusters 0 and 1 are reserved
// sentinels in FAT and user data numbering starts at 2; NTFS has no such
// reservation and numbers clusters from 0.
type ID uint32

// Reader converts cluster indices to sector ranges on a blockio.SectorCache
// and reads/writes whole clusters at a time.
type Reader struct {
	sectors           *blockio.SectorCache
	sectorsPerCluster uint
	bytesPerSector    uint
	firstDataSector   uint
	// firstValidCluster is the lowest cluster ID this Reader will resolve;
	// FAT passes 2 (clusters 0 and 1 are reserved), NTFS passes 0.
	firstValidCluster ID
}

// New builds a Reader. bytesPerSector is almost always 512 (spec.md's fixed
// Sector size) but is threaded through explicitly because FAT images can
// legally declare 1024, 2048, or 4096.
func New(
	sectors *blockio.SectorCache,
	sectorsPerCluster uint,
	bytesPerSector uint,
	firstDataSector uint,
	firstValidCluster ID,
) *Reader {
	return &Reader{
		sectors:           sectors,
		sectorsPerCluster: sectorsPerCluster,
		bytesPerSector:    bytesPerSector,
		firstDataSector:   firstDataSector,
		firstValidCluster: firstValidCluster,
	}
}

// BytesPerCluster returns the size of one cluster, in bytes.
func (r *Reader) BytesPerCluster() uint {
	return r.sectorsPerCluster * r.bytesPerSector
}

// ClusterToSector computes the first physical sector backing cluster, per
// the formula in spec.md §4.2:
//
//	(firstDataSector + (cluster - 2) * sectorsPerCluster)
//
// generalized to an arbitrary firstValidCluster rather than a hardcoded 2.
func (r *Reader) ClusterToSector(c ID) (uint, error) {
	if c < r.firstValidCluster {
		return 0, fmt.Errorf("cluster %d is below the first valid cluster %d", c, r.firstValidCluster)
	}
	offset := uint(c - r.firstValidCluster)
	return r.firstDataSector + offset*r.sectorsPerCluster, nil
}

// ReadCluster reads exactly one cluster's worth of bytes.
func (r *Reader) ReadCluster(c ID) ([]byte, error) {
	sector, err := r.ClusterToSector(c)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, r.BytesPerCluster())
	if err := r.sectors.ReadSectors(sector, r.sectorsPerCluster, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteCluster writes exactly one cluster's worth of bytes. len(data) must
// equal BytesPerCluster().
func (r *Reader) WriteCluster(c ID, data []byte) error {
	sector, err := r.ClusterToSector(c)
	if err != nil {
		return err
	}
	return r.sectors.WriteSectors(sector, data)
}
