package ntfs

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/require"

	"github.com/dargueta/imagefs/internal/blockio"
)

// The test fixtures below hand-assemble a tiny NTFS volume byte-for-byte,
// the way fat's Format() builds a FAT volume for its own tests, since this
// package has no formatter of its own: spec.md §9 committed the NTFS
// engine to read-only.
const (
	testBytesPerSector    = 512
	testSectorsPerCluster = 1
	testBytesPerCluster   = testBytesPerSector * testSectorsPerCluster
	testTotalSectors      = 200
	testMFTCluster        = 10
	testMFTClusterCount   = 40
	testBytesPerFileRecord = 1024
)

func utf16LEBytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], u)
	}
	return out
}

// buildResidentAttribute assembles one resident attribute's raw bytes: a
// 24-byte header (unnamed, or named if name != "") followed by the name and
// content, laid out the way ntfs.parseOneAttribute expects to read them
// back.
func buildResidentAttribute(attrType AttributeType, name string, content []byte) []byte {
	nameBytes := utf16LEBytes(name)
	const headerLen = 24
	nameOffset := headerLen
	contentOffset := nameOffset + len(nameBytes)
	total := contentOffset + len(content)

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(attrType))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(total))
	buf[8] = 0
	buf[9] = byte(len(name))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(nameOffset))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(content)))
	binary.LittleEndian.PutUint16(buf[20:22], uint16(contentOffset))
	copy(buf[nameOffset:], nameBytes)
	copy(buf[contentOffset:], content)
	return buf
}

// buildNonResidentAttribute assembles one unnamed non-resident attribute's
// raw bytes: a 64-byte header followed by a pre-encoded data run list.
func buildNonResidentAttribute(attrType AttributeType, startVCN uint64, runs []byte, allocatedSize, realSize uint64) []byte {
	const headerLen = 64
	total := headerLen + len(runs)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(attrType))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(total))
	buf[8] = 1
	binary.LittleEndian.PutUint64(buf[16:24], startVCN)
	binary.LittleEndian.PutUint16(buf[32:34], uint16(headerLen))
	binary.LittleEndian.PutUint64(buf[40:48], allocatedSize)
	binary.LittleEndian.PutUint64(buf[48:56], realSize)
	copy(buf[headerLen:], runs)
	return buf
}

// encodeSingleRun encodes one data run covering length clusters starting at
// lcn, assuming the stream's only preceding run had LCN delta base 0.
func encodeSingleRun(length, lcn uint16) []byte {
	return []byte{
		0x21, // length field: 1 byte, offset field: 2 bytes
		byte(length),
		byte(lcn & 0xFF), byte(lcn >> 8),
		0x00, // terminator
	}
}

func buildStandardInfo(fileAttrs uint32) []byte {
	buf := make([]byte, 48)
	binary.LittleEndian.PutUint32(buf[32:36], fileAttrs)
	return buf
}

func buildFileNameKey(parent FileReference, name string, fileAttrs uint32, realSize uint64) []byte {
	nameBytes := utf16LEBytes(name)
	buf := make([]byte, 66+len(nameBytes))
	binary.LittleEndian.PutUint64(buf[0:8], parent.Packed())
	binary.LittleEndian.PutUint64(buf[40:48], realSize)
	binary.LittleEndian.PutUint64(buf[48:56], realSize)
	binary.LittleEndian.PutUint32(buf[56:60], fileAttrs)
	buf[64] = byte(len(name))
	buf[65] = 1
	copy(buf[66:], nameBytes)
	return buf
}

func buildIndexEntryBytes(ref FileReference, key []byte, isLast bool) []byte {
	entryLen := 16 + len(key)
	buf := make([]byte, entryLen)
	binary.LittleEndian.PutUint64(buf[0:8], ref.Packed())
	binary.LittleEndian.PutUint16(buf[8:10], uint16(entryLen))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(len(key)))
	var flags uint16
	if isLast {
		flags |= indexEntryIsLast
	}
	binary.LittleEndian.PutUint16(buf[12:14], flags)
	copy(buf[16:], key)
	return buf
}

// buildIndexRoot assembles a resident $INDEX_ROOT content buffer: a 16-byte
// indexHeader with entriesOffset 0 (entries start immediately after the
// header), followed by the given entries and a trailing empty sentinel
// entry marked "last".
func buildIndexRoot(entries [][]byte) []byte {
	var body []byte
	for _, e := range entries {
		body = append(body, e...)
	}
	body = append(body, buildIndexEntryBytes(FileReference{}, nil, true)...)

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], 0)
	binary.LittleEndian.PutUint32(header[4:8], uint32(16+len(body)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(16+len(body)))
	return append(header, body...)
}

// protectUSA applies NTFS's update-sequence write-side transform in place:
// it stashes each protected sector's true trailing two bytes into the USA,
// then stamps the sentinel USN value over them, mirroring in reverse what
// applyUpdateSequenceFixup undoes on read.
func protectUSA(buf []byte, usaOffset, usaCount uint16, bytesPerSector uint) {
	usn := []byte{0x01, 0x00}
	copy(buf[usaOffset:usaOffset+2], usn)
	for i := 0; i < int(usaCount)-1; i++ {
		chunkEnd := (i+1)*int(bytesPerSector) - 2
		slot := buf[int(usaOffset)+2+i*2 : int(usaOffset)+4+i*2]
		copy(slot, buf[chunkEnd:chunkEnd+2])
		copy(buf[chunkEnd:chunkEnd+2], usn)
	}
}

// buildTestRecord assembles one complete, USA-protected MFT file record.
func buildTestRecord(index uint64, sequenceNumber, flags uint16, attrs [][]byte) []byte {
	const usaOffset = 48
	usaCount := uint16(testBytesPerFileRecord/testBytesPerSector) + 1
	firstAttrOffset := usaOffset + int(usaCount)*2
	if firstAttrOffset%8 != 0 {
		firstAttrOffset += 8 - firstAttrOffset%8
	}

	buf := make([]byte, testBytesPerFileRecord)
	copy(buf[0:4], []byte(recordSignature))
	binary.LittleEndian.PutUint16(buf[4:6], usaOffset)
	binary.LittleEndian.PutUint16(buf[6:8], usaCount)
	binary.LittleEndian.PutUint16(buf[16:18], sequenceNumber)
	binary.LittleEndian.PutUint16(buf[18:20], 1)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(firstAttrOffset))
	binary.LittleEndian.PutUint16(buf[22:24], flags)

	pos := firstAttrOffset
	for _, a := range attrs {
		copy(buf[pos:], a)
		pos += len(a)
	}
	binary.LittleEndian.PutUint32(buf[pos:pos+4], 0xFFFFFFFF)
	pos += 4

	binary.LittleEndian.PutUint32(buf[24:28], uint32(pos))
	binary.LittleEndian.PutUint32(buf[28:32], testBytesPerFileRecord)

	protectUSA(buf, usaOffset, usaCount, testBytesPerSector)
	return buf
}

func buildTestBootSector() []byte {
	buf := make([]byte, testBytesPerSector)
	copy(buf[3:7], []byte("NTFS"))
	binary.LittleEndian.PutUint16(buf[11:13], testBytesPerSector)
	buf[13] = testSectorsPerCluster
	binary.LittleEndian.PutUint64(buf[40:48], testTotalSectors)
	binary.LittleEndian.PutUint64(buf[48:56], testMFTCluster)
	binary.LittleEndian.PutUint64(buf[56:64], testMFTCluster+1)
	buf[64] = byte(int8(-10)) // 2^10 == 1024 bytes per file record
	buf[68] = byte(int8(-10)) // unused here: no $INDEX_ALLOCATION in these fixtures
	binary.LittleEndian.PutUint64(buf[72:80], 0xAABBCCDD)
	return buf
}

// buildTestUpcaseTable returns a $UpCase payload covering the ASCII range,
// enough to fold the fixture's all-uppercase and mixed-case names.
func buildTestUpcaseTable() []byte {
	const size = 128
	buf := make([]byte, size*2)
	for i := 0; i < size; i++ {
		u := uint16(i)
		if i >= 'a' && i <= 'z' {
			u = uint16(i - ('a' - 'A'))
		}
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], u)
	}
	return buf
}

func buildTestBitmap(allocatedClusters []uint16, totalClusters int) []byte {
	buf := make([]byte, (totalClusters+7)/8)
	for _, c := range allocatedClusters {
		buf[c/8] |= 1 << (c % 8)
	}
	return buf
}

// helloContent and streamMainContent/streamAltContent are the fixture
// files' bodies, kept as package-level constants so filesystem_test.go can
// assert against them without re-deriving the fixture layout.
const (
	helloContent       = "hello from a hand-built ntfs volume"
	streamMainContent  = "primary unnamed data stream"
	streamAltContent   = "secondary alternate data stream"
)

// buildTestVolume assembles a complete NTFS image: a boot sector, MFT
// records 0-15 (only 0/5/6/10 populated and in use, the rest present but
// marked not-in-use), and two user file records (16: HELLO.TXT, 17:
// STREAM.TXT with an "alt" alternate data stream) referenced from the root
// directory's $INDEX_ROOT.
func buildTestVolume(t *testing.T) *blockio.MemoryDevice {
	t.Helper()
	return buildTestVolumeWithExtraAllocated(t, nil)
}

// buildTestVolumeWithExtraAllocated builds the same fixture as
// buildTestVolume, but also marks extraClusters allocated in $Bitmap
// without backing them with any file record's data runs -- used to
// exercise CheckConsistency's orphaned-allocation detection.
func buildTestVolumeWithExtraAllocated(t *testing.T, extraClusters []uint16) *blockio.MemoryDevice {
	t.Helper()

	image := make([]byte, uint64(testTotalSectors)*testBytesPerSector)
	copy(image, buildTestBootSector())

	rootRef := FileReference{Index: RecordRootDirectory, Sequence: 1}
	helloRef := FileReference{Index: 16, Sequence: 1}
	streamRef := FileReference{Index: 17, Sequence: 1}

	mftRuns := encodeSingleRun(testMFTClusterCount, testMFTCluster)
	mftDataAttr := buildNonResidentAttribute(AttrData, 0, mftRuns, testMFTClusterCount*testBytesPerCluster, testMFTClusterCount*testBytesPerCluster)
	record0 := buildTestRecord(RecordMFT, 1, recordFlagInUse, [][]byte{mftDataAttr})

	indexRoot := buildIndexRoot([][]byte{
		buildIndexEntryBytes(helloRef, buildFileNameKey(rootRef, "HELLO.TXT", 0x20, uint64(len(helloContent))), false),
		buildIndexEntryBytes(streamRef, buildFileNameKey(rootRef, "STREAM.TXT", 0x20, uint64(len(streamMainContent))), false),
	})
	record5 := buildTestRecord(RecordRootDirectory, 1, recordFlagInUse|recordFlagIsDirectory, [][]byte{
		buildResidentAttribute(AttrStandardInformation, "", buildStandardInfo(0x10)),
		buildResidentAttribute(AttrIndexRoot, "$I30", indexRoot),
	})

	allocated := make([]uint16, 0, testMFTClusterCount+len(extraClusters))
	for c := uint16(testMFTCluster); c < testMFTCluster+testMFTClusterCount; c++ {
		allocated = append(allocated, c)
	}
	allocated = append(allocated, extraClusters...)
	bitmapContent := buildTestBitmap(allocated, testTotalSectors)
	record6 := buildTestRecord(RecordBitmap, 1, recordFlagInUse, [][]byte{
		buildResidentAttribute(AttrData, "", bitmapContent),
	})

	record9 := buildTestRecord(RecordSecure, 1, 0, nil)

	record10 := buildTestRecord(RecordUpcase, 1, recordFlagInUse, [][]byte{
		buildResidentAttribute(AttrData, "", buildTestUpcaseTable()),
	})

	record16 := buildTestRecord(16, 1, recordFlagInUse, [][]byte{
		buildResidentAttribute(AttrStandardInformation, "", buildStandardInfo(0x20)),
		buildResidentAttribute(AttrFileName, "", buildFileNameKey(rootRef, "HELLO.TXT", 0x20, uint64(len(helloContent)))),
		buildResidentAttribute(AttrData, "", []byte(helloContent)),
	})

	record17 := buildTestRecord(17, 1, recordFlagInUse, [][]byte{
		buildResidentAttribute(AttrStandardInformation, "", buildStandardInfo(0x20)),
		buildResidentAttribute(AttrFileName, "", buildFileNameKey(rootRef, "STREAM.TXT", 0x20, uint64(len(streamMainContent)))),
		buildResidentAttribute(AttrData, "", []byte(streamMainContent)),
		buildResidentAttribute(AttrData, "alt", []byte(streamAltContent)),
	})

	records := map[uint64][]byte{
		0: record0, 1: emptyRecord(1), 2: emptyRecord(2), 3: emptyRecord(3),
		4: emptyRecord(4), 5: record5, 6: record6, 7: emptyRecord(7),
		8: emptyRecord(8), 9: record9, 10: record10, 11: emptyRecord(11),
		12: emptyRecord(12), 13: emptyRecord(13), 14: emptyRecord(14), 15: emptyRecord(15),
		16: record16, 17: record17,
	}

	mftBase := uint64(testMFTCluster) * testBytesPerCluster
	for index, raw := range records {
		offset := mftBase + index*testBytesPerFileRecord
		copy(image[offset:], raw)
	}

	dev, err := blockio.NewMemoryDevice(image)
	require.NoError(t, err)
	return dev
}

func emptyRecord(index uint64) []byte {
	return buildTestRecord(index, 1, 0, nil)
}
