package ntfs

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/imagefs/errors"
)

// Well-known MFT record indices, per spec.md §3.
const (
	RecordMFT             = 0
	RecordMFTMirror       = 1
	RecordLogFile         = 2
	RecordVolume          = 3
	RecordAttrDef         = 4
	RecordRootDirectory   = 5
	RecordBitmap          = 6
	RecordBoot            = 7
	RecordBadClus         = 8
	RecordSecure          = 9
	RecordUpcase          = 10
	RecordExtend          = 11
	firstUserRecordIndex  = 16
	recordSignature       = "FILE"
	recordFlagInUse       = 0x0001
	recordFlagIsDirectory = 0x0002
)

// FileReference identifies an MFT record by index plus the sequence number
// that must match the record's current generation, per spec.md §3's "File
// reference" entity.
type FileReference struct {
	Index    uint64
	Sequence uint16
}

// Packed converts the reference into NTFS's on-disk 64-bit encoding: the
// low 48 bits are the index, the high 16 bits are the sequence number.
func (r FileReference) Packed() uint64 {
	return (r.Index & 0x0000FFFFFFFFFFFF) | (uint64(r.Sequence) << 48)
}

// ParseFileReference unpacks a raw 64-bit MFT reference.
func ParseFileReference(raw uint64) FileReference {
	return FileReference{
		Index:    raw & 0x0000FFFFFFFFFFFF,
		Sequence: uint16(raw >> 48),
	}
}

// Record is a parsed MFT file record: the fixed header plus the raw,
// fixed-up attribute area, not yet decoded into individual Attributes.
type Record struct {
	Index           uint64
	SequenceNumber  uint16
	HardLinkCount   uint16
	Flags           uint16
	UsedSize        uint32
	AllocatedSize   uint32
	BaseRecord      FileReference
	attributeData   []byte
	firstAttrOffset uint16
}

// IsInUse reports whether this record currently describes a live file or
// directory, as opposed to a freed slot in the MFT.
func (r *Record) IsInUse() bool { return r.Flags&recordFlagInUse != 0 }

// IsDirectory reports whether this record is flagged as a directory.
func (r *Record) IsDirectory() bool { return r.Flags&recordFlagIsDirectory != 0 }

// ParseRecord validates the "FILE" signature and update-sequence array of
// buf (exactly one file record, BootSector.BytesPerFileRecord bytes), then
// strips the USA fixup per spec.md §4.7: every 512-byte sector's trailing
// two bytes are verified against the saved USN and replaced with their
// true original contents.
//
// Grounded on spec.md §6's exact header offsets and §8's "NTFS USA
// soundness" invariant.
func ParseRecord(buf []byte, recordIndex uint64, bytesPerSector uint) (*Record, error) {
	if len(buf) < 48 {
		return nil, errors.ErrCorrupt.WithMessage("file record shorter than its fixed header")
	}
	if string(buf[0:4]) != recordSignature {
		return nil, errors.ErrCorrupt.WithMessage(fmt.Sprintf(
			"record %d: bad signature %q", recordIndex, buf[0:4]))
	}

	usaOffset := binary.LittleEndian.Uint16(buf[4:6])
	usaCount := binary.LittleEndian.Uint16(buf[6:8])
	sequenceNumber := binary.LittleEndian.Uint16(buf[16:18])
	hardLinkCount := binary.LittleEndian.Uint16(buf[18:20])
	firstAttrOffset := binary.LittleEndian.Uint16(buf[20:22])
	flags := binary.LittleEndian.Uint16(buf[22:24])
	usedSize := binary.LittleEndian.Uint32(buf[24:28])
	allocatedSize := binary.LittleEndian.Uint32(buf[28:32])
	baseRecordRaw := binary.LittleEndian.Uint64(buf[32:40])

	if usaCount > 0 {
		if err := applyUpdateSequenceFixup(buf, usaOffset, usaCount, bytesPerSector, recordIndex); err != nil {
			return nil, err
		}
	}

	if int(usedSize) > len(buf) {
		return nil, errors.ErrCorrupt.WithMessage(fmt.Sprintf(
			"record %d: used size %d exceeds record buffer %d", recordIndex, usedSize, len(buf)))
	}

	return &Record{
		Index:           recordIndex,
		SequenceNumber:  sequenceNumber,
		HardLinkCount:   hardLinkCount,
		Flags:           flags,
		UsedSize:        usedSize,
		AllocatedSize:   allocatedSize,
		BaseRecord:      ParseFileReference(baseRecordRaw),
		attributeData:   buf[:usedSize],
		firstAttrOffset: firstAttrOffset,
	}, nil
}

// applyUpdateSequenceFixup verifies and reverses NTFS's update-sequence
// protection in place on buf. The USA itself occupies usaCount 16-bit
// words starting at usaOffset: the first word is the USN that should appear
// at the end of every protected sector-sized chunk; the remaining
// usaCount-1 words are the true original bytes that belong there.
func applyUpdateSequenceFixup(buf []byte, usaOffset, usaCount uint16, bytesPerSector uint, recordIndex uint64) error {
	usaEnd := int(usaOffset) + int(usaCount)*2
	if usaEnd > len(buf) {
		return errors.ErrCorrupt.WithMessage(fmt.Sprintf(
			"record %d: update sequence array runs past the record buffer", recordIndex))
	}

	usn := buf[usaOffset : usaOffset+2]
	chunks := int(usaCount) - 1
	for i := 0; i < chunks; i++ {
		chunkEnd := (i+1)*int(bytesPerSector) - 2
		if chunkEnd+2 > len(buf) {
			break
		}
		tail := buf[chunkEnd : chunkEnd+2]
		if tail[0] != usn[0] || tail[1] != usn[1] {
			return errors.ErrCorrupt.WithMessage(fmt.Sprintf(
				"record %d: update sequence mismatch in sector %d", recordIndex, i))
		}
		original := buf[int(usaOffset)+2+i*2 : int(usaOffset)+4+i*2]
		copy(tail, original)
	}
	return nil
}

// Attributes parses every attribute header in the record, stopping at the
// 0xFFFFFFFF terminator. Attributes sharing a type code (e.g. multiple
// named $DATA streams) are returned in on-disk order.
func (r *Record) Attributes() ([]*Attribute, error) {
	return parseAttributes(r.attributeData, int(r.firstAttrOffset))
}
