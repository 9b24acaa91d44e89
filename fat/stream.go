package fat

import (
	"io"

	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/cluster"
)

// ChainStream is a seekable byte stream over a (possibly empty) FAT
// cluster chain, per spec.md §4.5. Position maps to (chain index, offset
// within cluster); writes that extend past the current chain request new
// clusters from the allocation table.
type ChainStream struct {
	reader   *cluster.Reader
	table    *Table
	head     ClusterID // 0 if the file has no clusters allocated yet
	size     int64     // logical file size, independent of allocated capacity
	pos      int64
	readOnly bool
	closed   bool

	onClose func(head ClusterID, size int64) error
}

// NewChainStream builds a stream over head (0 if the file is currently
// empty), reporting a current logical size of size. onClose, if non-nil,
// is invoked once when the stream is closed with the (possibly changed)
// head cluster and final size, so the caller can update the owning
// directory entry.
func NewChainStream(reader *cluster.Reader, table *Table, head ClusterID, size int64, readOnly bool, onClose func(ClusterID, int64) error) *ChainStream {
	return &ChainStream{reader: reader, table: table, head: head, size: size, readOnly: readOnly, onClose: onClose}
}

// Size returns the stream's current logical length.
func (s *ChainStream) Size() int64 { return s.size }

func (s *ChainStream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = s.size + offset
	default:
		return 0, errors.ErrInvalidPath.WithMessage("invalid seek whence")
	}
	if newPos < 0 {
		return 0, errors.ErrInvalidPath.WithMessage("seek to negative offset")
	}
	s.pos = newPos
	return s.pos, nil
}

// Read fills p starting at the current position. Reads at or past EOF
// return (0, io.EOF); reads that straddle EOF are short. A read that
// reaches the end of the allocated chain before the logical size stops
// there and returns the bytes read so far.
func (s *ChainStream) Read(p []byte) (int, error) {
	if s.pos >= s.size {
		return 0, io.EOF
	}

	toRead := int64(len(p))
	if s.pos+toRead > s.size {
		toRead = s.size - s.pos
	}

	chain, err := s.table.Chain(s.head)
	if err != nil {
		return 0, err
	}

	bpc := int64(s.reader.BytesPerCluster())
	var total int64
	for total < toRead {
		absolutePos := s.pos + total
		chainIndex := int(absolutePos / bpc)
		offsetInCluster := absolutePos % bpc

		if chainIndex >= len(chain) {
			break
		}

		data, err := s.reader.ReadCluster(cluster.ID(chain[chainIndex]))
		if err != nil {
			return int(total), err
		}

		n := int64(len(data)) - offsetInCluster
		remaining := toRead - total
		if n > remaining {
			n = remaining
		}
		copy(p[total:total+n], data[offsetInCluster:offsetInCluster+n])
		total += n
	}

	s.pos += total
	if total == 0 {
		return 0, io.EOF
	}
	return int(total), nil
}

// Write writes p at the current position, allocating and linking new
// clusters as needed when the write extends past the current chain.
func (s *ChainStream) Write(p []byte) (int, error) {
	if s.readOnly {
		return 0, errors.ErrReadOnly.WithMessage("file system is not writable")
	}
	if len(p) == 0 {
		return 0, nil
	}

	bpc := int64(s.reader.BytesPerCluster())
	endPos := s.pos + int64(len(p))

	if err := s.ensureCapacity(endPos, bpc); err != nil {
		return 0, err
	}

	chain, err := s.table.Chain(s.head)
	if err != nil {
		return 0, err
	}

	var total int64
	for total < int64(len(p)) {
		absolutePos := s.pos + total
		chainIndex := int(absolutePos / bpc)
		offsetInCluster := absolutePos % bpc

		clusterData, err := s.reader.ReadCluster(cluster.ID(chain[chainIndex]))
		if err != nil {
			return int(total), err
		}

		n := bpc - offsetInCluster
		remaining := int64(len(p)) - total
		if n > remaining {
			n = remaining
		}
		copy(clusterData[offsetInCluster:offsetInCluster+n], p[total:total+n])
		if err := s.reader.WriteCluster(cluster.ID(chain[chainIndex]), clusterData); err != nil {
			return int(total), err
		}
		total += n
	}

	s.pos += total
	if s.pos > s.size {
		s.size = s.pos
	}
	return int(total), nil
}

// ensureCapacity grows the chain, allocating and zero-filling one cluster
// at a time, until it can hold endPos bytes.
func (s *ChainStream) ensureCapacity(endPos, bpc int64) error {
	chain, err := s.table.Chain(s.head)
	if err != nil {
		return err
	}

	neededClusters := int((endPos + bpc - 1) / bpc)
	if neededClusters == 0 {
		neededClusters = 1
	}

	zero := make([]byte, bpc)
	if len(chain) == 0 {
		first, err := s.table.Allocate()
		if err != nil {
			return err
		}
		if err := s.reader.WriteCluster(cluster.ID(first), zero); err != nil {
			return err
		}
		s.head = first
		chain = []ClusterID{first}
	}

	for len(chain) < neededClusters {
		tail := chain[len(chain)-1]
		next, err := s.table.ExtendChain(tail)
		if err != nil {
			return err
		}
		if err := s.reader.WriteCluster(cluster.ID(next), zero); err != nil {
			return err
		}
		chain = append(chain, next)
	}
	return nil
}

// Truncate changes the file's logical size, freeing trailing clusters when
// shrinking or extending the chain with zero-filled clusters when growing.
func (s *ChainStream) Truncate(newSize int64) error {
	if s.readOnly {
		return errors.ErrReadOnly.WithMessage("file system is not writable")
	}
	if newSize < 0 {
		return errors.ErrInvalidPath.WithMessage("negative truncate size")
	}

	bpc := int64(s.reader.BytesPerCluster())
	chain, err := s.table.Chain(s.head)
	if err != nil {
		return err
	}

	neededClusters := int((newSize + bpc - 1) / bpc)

	if newSize == 0 {
		if s.head != 0 {
			if err := s.table.FreeChain(s.head); err != nil {
				return err
			}
		}
		s.head = 0
	} else if neededClusters < len(chain) {
		for i := neededClusters; i < len(chain); i++ {
			if err := s.table.MarkFree(chain[i]); err != nil {
				return err
			}
		}
		if err := s.table.MarkEndOfChain(chain[neededClusters-1]); err != nil {
			return err
		}
	} else if neededClusters > len(chain) {
		if err := s.ensureCapacity(newSize, bpc); err != nil {
			return err
		}
	}

	s.size = newSize
	if s.pos > s.size {
		s.pos = s.size
	}
	return nil
}

// Close flushes the directory-entry callback, if any. Double-close is a
// no-op, per spec.md §5's resource discipline.
func (s *ChainStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.onClose != nil {
		return s.onClose(s.head, s.size)
	}
	return nil
}
