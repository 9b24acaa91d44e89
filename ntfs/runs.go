package ntfs

import (
	"github.com/dargueta/imagefs/errors"
)

// Extent is one contiguous run of clusters backing a non-resident
// attribute, per spec.md §9's "Extent{vcn, length, lcn | Sparse}" design
// note.
type Extent struct {
	VCN     uint64
	Length  uint64
	LCN     uint64
	Sparse  bool
}

// DecodeDataRuns decodes an NTFS data-run list starting at startVCN,
// per spec.md §3/§4.7: a sequence of (header byte, length field, signed
// offset field) groups terminated by a zero header byte. Each offset is a
// delta from the previous run's LCN; an absent offset field (high nibble of
// the header is 0) marks the run sparse.
func DecodeDataRuns(buf []byte, startVCN uint64) ([]Extent, error) {
	var extents []Extent
	vcn := startVCN
	var lcn int64

	pos := 0
	for pos < len(buf) {
		header := buf[pos]
		if header == 0 {
			break
		}
		pos++

		lengthBytes := int(header & 0x0F)
		offsetBytes := int(header >> 4)

		if pos+lengthBytes > len(buf) {
			return nil, errors.ErrCorrupt.WithMessage("data run length field runs past buffer")
		}
		length := decodeUnsignedLE(buf[pos : pos+lengthBytes])
		pos += lengthBytes

		sparse := offsetBytes == 0
		if !sparse {
			if pos+offsetBytes > len(buf) {
				return nil, errors.ErrCorrupt.WithMessage("data run offset field runs past buffer")
			}
			delta := decodeSignedLE(buf[pos : pos+offsetBytes])
			pos += offsetBytes
			lcn += delta
		}

		extent := Extent{VCN: vcn, Length: length, Sparse: sparse}
		if !sparse {
			extent.LCN = uint64(lcn)
		}
		extents = append(extents, extent)
		vcn += length
	}
	return extents, nil
}

func decodeUnsignedLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}
	return v
}

// decodeSignedLE decodes a little-endian two's-complement integer of
// arbitrary byte width, sign-extending from the top bit of the last byte.
func decodeSignedLE(b []byte) int64 {
	v := decodeUnsignedLE(b)
	bits := uint(len(b)) * 8
	signBit := uint64(1) << (bits - 1)
	if v&signBit != 0 {
		v -= uint64(1) << bits
	}
	return int64(v)
}

// ClustersForRange returns the logical cluster extents a stream's
// [offset, offset+length) byte range covers, given the attribute's full
// Extent list and the volume's bytes-per-cluster. Sparse runs are returned
// clamped like any other, with Sparse set and LCN 0 (spec.md §4.8: reads
// spanning sparse runs yield zero bytes).
func ClustersForRange(extents []Extent, bytesPerCluster uint, offset, length int64) []Extent {
	if length <= 0 {
		return nil
	}
	startVCN := uint64(offset) / uint64(bytesPerCluster)
	endVCN := uint64(offset+length+int64(bytesPerCluster)-1) / uint64(bytesPerCluster)

	var out []Extent
	for _, e := range extents {
		runEnd := e.VCN + e.Length
		if runEnd <= startVCN || e.VCN >= endVCN {
			continue
		}
		clampedStart := e.VCN
		if clampedStart < startVCN {
			clampedStart = startVCN
		}
		clampedEnd := runEnd
		if clampedEnd > endVCN {
			clampedEnd = endVCN
		}
		clamped := Extent{VCN: clampedStart, Length: clampedEnd - clampedStart, Sparse: e.Sparse}
		if !e.Sparse {
			clamped.LCN = e.LCN + (clampedStart - e.VCN)
		}
		out = append(out, clamped)
	}
	return out
}
