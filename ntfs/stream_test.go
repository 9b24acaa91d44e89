package ntfs

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/blockio"
	"github.com/dargueta/imagefs/internal/cluster"
)

func newTestClusterReader(t *testing.T, totalSectors uint) *cluster.Reader {
	t.Helper()
	dev, err := blockio.NewMemoryDevice(make([]byte, uint64(totalSectors)*blockio.SectorSize))
	require.NoError(t, err)
	sectors := blockio.NewSectorCache(dev)
	return cluster.New(sectors, 1, blockio.SectorSize, 0, 0)
}

func TestAttributeStreamResidentRead(t *testing.T) {
	attr := &Attribute{RealSize: 5, AllocatedSize: 5, Resident: []byte("hello")}
	s := NewAttributeStream(nil, attr)

	out, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestAttributeStreamNonResidentReadAcrossClusters(t *testing.T) {
	reader := newTestClusterReader(t, 10)
	content := make([]byte, testBytesPerCluster*2)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, reader.WriteCluster(0, content[:testBytesPerCluster]))
	require.NoError(t, reader.WriteCluster(1, content[testBytesPerCluster:]))

	attr := &Attribute{
		NonResident:   true,
		RealSize:      uint64(len(content)),
		AllocatedSize: uint64(len(content)),
		Runs:          []Extent{{VCN: 0, Length: 2, LCN: 0}},
	}
	s := NewAttributeStream(reader, attr)

	out, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestAttributeStreamSparseRunReadsZero(t *testing.T) {
	reader := newTestClusterReader(t, 10)
	attr := &Attribute{
		NonResident:   true,
		RealSize:      testBytesPerCluster,
		AllocatedSize: testBytesPerCluster,
		Runs:          []Extent{{VCN: 0, Length: 1, Sparse: true}},
	}
	s := NewAttributeStream(reader, attr)

	out, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testBytesPerCluster), out)
}

func TestAttributeStreamSeek(t *testing.T) {
	attr := &Attribute{RealSize: 10, AllocatedSize: 10, Resident: []byte("0123456789")}
	s := NewAttributeStream(nil, attr)

	pos, err := s.Seek(5, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 5, pos)

	buf := make([]byte, 3)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "567", string(buf))
}

func TestAttributeStreamWriteIsUnsupported(t *testing.T) {
	attr := &Attribute{RealSize: 1, AllocatedSize: 1, Resident: []byte("x")}
	s := NewAttributeStream(nil, attr)

	_, err := s.Write([]byte("y"))
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)
	assert.ErrorIs(t, s.Truncate(0), errors.ErrUnsupportedOperation)
}
