package ntfs

import (
	"io"

	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/cluster"
)

// AttributeStream is a read-only seekable byte stream over an attribute's
// content, per spec.md §4.8: resident attributes serve a plain buffer;
// non-resident attributes serve their data runs, returning zero bytes for
// any sparse run and for the gap between realSize and allocatedSize.
//
// Grounded on fat.ChainStream's Seek/Read shape, generalized from a linked
// cluster chain to an arbitrary Extent list and stripped of every write
// path spec.md §4.8 excludes.
type AttributeStream struct {
	reader        *cluster.Reader
	runs          []Extent
	resident      []byte
	bytesPerCluster int64
	realSize      int64
	allocatedSize int64
	pos           int64
}

// NewAttributeStream builds a stream over attr's content. reader is unused
// for resident attributes and may be nil.
func NewAttributeStream(reader *cluster.Reader, attr *Attribute) *AttributeStream {
	s := &AttributeStream{
		reader:        reader,
		realSize:      int64(attr.RealSize),
		allocatedSize: int64(attr.AllocatedSize),
	}
	if attr.NonResident {
		s.runs = attr.Runs
		if reader != nil {
			s.bytesPerCluster = int64(reader.BytesPerCluster())
		}
	} else {
		s.resident = attr.Resident
	}
	return s
}

// Size returns the attribute's real (logical) size.
func (s *AttributeStream) Size() int64 { return s.realSize }

func (s *AttributeStream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = s.realSize + offset
	default:
		return 0, errors.ErrInvalidPath.WithMessage("invalid seek whence")
	}
	if newPos < 0 {
		return 0, errors.ErrInvalidPath.WithMessage("seek to negative offset")
	}
	s.pos = newPos
	return s.pos, nil
}

// Read fills p starting at the current position. Per spec.md §4.8: reads
// past realSize return a short read ending at EOF; within realSize but
// over a sparse run, the bytes read are zero.
func (s *AttributeStream) Read(p []byte) (int, error) {
	if s.pos >= s.realSize {
		return 0, io.EOF
	}

	toRead := int64(len(p))
	if s.pos+toRead > s.realSize {
		toRead = s.realSize - s.pos
	}

	if s.resident != nil {
		n := copy(p[:toRead], s.resident[s.pos:])
		s.pos += int64(n)
		return n, nil
	}

	var total int64
	for total < toRead {
		absolutePos := s.pos + total
		n, err := s.readNonResidentAt(p[total:toRead], absolutePos)
		if err != nil {
			return int(total), err
		}
		if n == 0 {
			break
		}
		total += int64(n)
	}

	s.pos += total
	if total == 0 {
		return 0, io.EOF
	}
	return int(total), nil
}

// readNonResidentAt fills dst (up to one cluster's worth) starting at the
// attribute-relative byte offset pos, zero-filling any sparse run.
func (s *AttributeStream) readNonResidentAt(dst []byte, pos int64) (int, error) {
	vcn := uint64(pos) / uint64(s.bytesPerCluster)
	offsetInCluster := pos % s.bytesPerCluster

	extent := findExtent(s.runs, vcn)
	if extent == nil {
		// No run covers this VCN at all: treat as implicit sparse space
		// within allocatedSize, per spec.md §4.8's "reads past realSize
		// return zero" generalized to any unmapped region inside it.
		n := int64(len(dst))
		if n > s.bytesPerCluster-offsetInCluster {
			n = s.bytesPerCluster - offsetInCluster
		}
		for i := range dst[:n] {
			dst[i] = 0
		}
		return int(n), nil
	}

	runByteLen := int64(extent.Length) * s.bytesPerCluster
	remainingInRun := runByteLen - (pos-int64(extent.VCN)*s.bytesPerCluster)
	n := int64(len(dst))
	if n > remainingInRun {
		n = remainingInRun
	}
	if n > s.bytesPerCluster-offsetInCluster {
		n = s.bytesPerCluster - offsetInCluster
	}

	if extent.Sparse {
		for i := range dst[:n] {
			dst[i] = 0
		}
		return int(n), nil
	}

	clusterIndex := extent.LCN + (vcn - extent.VCN)
	data, err := s.reader.ReadCluster(cluster.ID(clusterIndex))
	if err != nil {
		return 0, err
	}
	copy(dst[:n], data[offsetInCluster:offsetInCluster+n])
	return int(n), nil
}

func findExtent(runs []Extent, vcn uint64) *Extent {
	for i := range runs {
		if vcn >= runs[i].VCN && vcn < runs[i].VCN+runs[i].Length {
			return &runs[i]
		}
	}
	return nil
}

// Close is a no-op: AttributeStream owns no resources beyond the shared
// cluster reader.
func (s *AttributeStream) Close() error { return nil }

// Write and Truncate always fail: NTFS is read-only here, per spec.md §9's
// resolved Open Question ("commits to read-only").
func (s *AttributeStream) Write([]byte) (int, error) {
	return 0, errors.ErrUnsupportedOperation.WithMessage("ntfs file system is read-only")
}
func (s *AttributeStream) Truncate(int64) error {
	return errors.ErrUnsupportedOperation.WithMessage("ntfs file system is read-only")
}
