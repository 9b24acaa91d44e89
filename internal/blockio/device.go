// Package blockio implements the block I/O adapter described in the design
// as the bottom layer every other package builds on: it abstracts the
// backing store as a seekable, byte-addressable stream with optional write
// capability, and is the sole authority on the backing byte range.
//
// It is grounded on the teacher repo's drivers/common/blockstream.go, with
// an added in-memory implementation backed by bytesextra for images that
// live entirely in a []byte rather than a file.
package blockio

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	diskoerrors "github.com/dargueta/imagefs/errors"
)

// Device is the positional, byte-addressable view of a backing store that
// every higher layer (sector reader, cluster reader, MFT reader, ...)
// addresses through. Reads must satisfy the full requested length or fail;
// there is no short-read contract at this layer.
type Device interface {
	// ReadAt fills p completely from the stream starting at off, or returns
	// an error. It never returns a short read without an error.
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt writes all of p to the stream starting at off. It fails with
	// errors.ErrReadOnly if the device was opened read-only.
	WriteAt(p []byte, off int64) (int, error)
	// Len returns the current size of the backing store, in bytes.
	Len() int64
	// Truncate resizes the backing store. Growing the device zero-fills the
	// new region.
	Truncate(size int64) error
	// Writable reports whether WriteAt/Truncate are permitted.
	Writable() bool
}

// FileDevice adapts an io.ReadWriteSeeker (most commonly an *os.File, but
// any caller-supplied stream works) into a Device, using the stream's
// ReadAt/WriteAt/Truncate methods when it has them.
type FileDevice struct {
	stream   io.ReadWriteSeeker
	writable bool
	size     int64
}

// NewFileDevice wraps stream as a Device. If the caller only needs read
// access, pass writable=false even if the stream happens to support writes;
// this is the mechanism by which a read-only mount is enforced at the
// lowest layer, per the spec's ErrReadOnly design.
func NewFileDevice(stream io.ReadWriteSeeker, writable bool) (*FileDevice, error) {
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, diskoerrors.ErrIOError.Wrap(err)
	}
	return &FileDevice{stream: stream, writable: writable, size: size}, nil
}

func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	ra, ok := d.stream.(io.ReaderAt)
	if ok {
		n, err := ra.ReadAt(p, off)
		if err != nil {
			return n, diskoerrors.ErrIOError.Wrap(err)
		}
		return n, nil
	}

	if _, err := d.stream.Seek(off, io.SeekStart); err != nil {
		return 0, diskoerrors.ErrIOError.Wrap(err)
	}
	n, err := io.ReadFull(d.stream, p)
	if err != nil {
		return n, diskoerrors.ErrIOError.Wrap(err)
	}
	return n, nil
}

func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if !d.writable {
		return 0, diskoerrors.ErrReadOnly.WithMessage("device opened without write permission")
	}

	wa, ok := d.stream.(io.WriterAt)
	var n int
	var err error
	if ok {
		n, err = wa.WriteAt(p, off)
	} else {
		if _, seekErr := d.stream.Seek(off, io.SeekStart); seekErr != nil {
			return 0, diskoerrors.ErrIOError.Wrap(seekErr)
		}
		n, err = d.stream.Write(p)
	}
	if err != nil {
		return n, diskoerrors.ErrIOError.Wrap(err)
	}
	if off+int64(n) > d.size {
		d.size = off + int64(n)
	}
	return n, nil
}

func (d *FileDevice) Len() int64 { return d.size }

func (d *FileDevice) Truncate(size int64) error {
	if !d.writable {
		return diskoerrors.ErrReadOnly.WithMessage("device opened without write permission")
	}

	truncator, ok := d.stream.(interface{ Truncate(int64) error })
	if ok {
		if err := truncator.Truncate(size); err != nil {
			return diskoerrors.ErrIOError.Wrap(err)
		}
		d.size = size
		return nil
	}

	// No native Truncate: grow by writing zeros, or just adjust the tracked
	// size when shrinking (reads past the new size aren't exposed because
	// every caller goes through the sector cache, which honors Len()).
	if size > d.size {
		zeros := make([]byte, size-d.size)
		if _, err := d.WriteAt(zeros, d.size); err != nil {
			return err
		}
	}
	d.size = size
	return nil
}

func (d *FileDevice) Writable() bool { return d.writable }

// MemoryDevice is a Device backed entirely by a []byte, for images that
// live in memory rather than on disk. It wraps bytesextra.NewReadWriteSeeker
// the same way the teacher repo's testing helpers and block cache did,
// per spec.md's "memory buffer containing a raw image" backing store.
type MemoryDevice struct {
	*FileDevice
}

// NewMemoryDevice wraps buf as a writable Device. MemoryDevice has no
// method that returns the backing bytes; the image's contents are read back
// through ReadAt.
func NewMemoryDevice(buf []byte) (*MemoryDevice, error) {
	seeker := bytesextra.NewReadWriteSeeker(buf)
	fd, err := NewFileDevice(seeker, true)
	if err != nil {
		return nil, err
	}
	return &MemoryDevice{FileDevice: fd}, nil
}
