package ntfs

import (
	"encoding/binary"
	"time"
	"unicode/utf16"

	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/dostime"
)

// AttributeType tags the 16 well-known NTFS attribute types, per spec.md
// §9's "tagged union over the 16 known types" design note.
type AttributeType uint32

const (
	AttrStandardInformation AttributeType = 0x10
	AttrAttributeList       AttributeType = 0x20
	AttrFileName            AttributeType = 0x30
	AttrObjectID            AttributeType = 0x40
	AttrSecurityDescriptor  AttributeType = 0x50
	AttrVolumeName          AttributeType = 0x60
	AttrVolumeInformation   AttributeType = 0x70
	AttrData                AttributeType = 0x80
	AttrIndexRoot           AttributeType = 0x90
	AttrIndexAllocation     AttributeType = 0xA0
	AttrBitmap              AttributeType = 0xB0
	AttrReparsePoint        AttributeType = 0xC0
	AttrEAInformation       AttributeType = 0xD0
	AttrEA                  AttributeType = 0xE0
	AttrPropertySet         AttributeType = 0xF0
	AttrLoggedUtilityStream AttributeType = 0x100
	attrTerminator          AttributeType = 0xFFFFFFFF
)

// Attribute is one decoded attribute from a file record: a tagged union
// over resident content and non-resident data runs, per spec.md §4.7/§9.
type Attribute struct {
	Type          AttributeType
	Name          string
	NonResident   bool
	Flags         uint16
	Resident      []byte
	Runs          []Extent
	RealSize      uint64
	AllocatedSize uint64
	StartVCN      uint64
}

// parseAttributes walks the attribute area of a record starting at offset,
// returning every attribute up to the 0xFFFFFFFF terminator or the end of
// the slice, whichever comes first.
func parseAttributes(data []byte, offset int) ([]*Attribute, error) {
	var attrs []*Attribute
	for offset+4 <= len(data) {
		typeCode := AttributeType(binary.LittleEndian.Uint32(data[offset : offset+4]))
		if typeCode == attrTerminator {
			break
		}
		if offset+8 > len(data) {
			return nil, errors.ErrCorrupt.WithMessage("attribute header truncated")
		}
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		if length == 0 || offset+int(length) > len(data) {
			return nil, errors.ErrCorrupt.WithMessage("attribute length out of range")
		}

		raw := data[offset : offset+int(length)]
		attr, err := parseOneAttribute(typeCode, raw)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
		offset += int(length)
	}
	return attrs, nil
}

func parseOneAttribute(typeCode AttributeType, raw []byte) (*Attribute, error) {
	if len(raw) < 16 {
		return nil, errors.ErrCorrupt.WithMessage("attribute header shorter than 16 bytes")
	}
	nonResident := raw[8] != 0
	nameLength := raw[9]
	nameOffset := binary.LittleEndian.Uint16(raw[10:12])
	flags := binary.LittleEndian.Uint16(raw[12:14])

	var name string
	if nameLength > 0 {
		nameBytes := raw[nameOffset : int(nameOffset)+int(nameLength)*2]
		name = decodeUTF16LE(nameBytes)
	}

	attr := &Attribute{Type: typeCode, Name: name, NonResident: nonResident, Flags: flags}

	if !nonResident {
		if len(raw) < 24 {
			return nil, errors.ErrCorrupt.WithMessage("resident attribute header truncated")
		}
		contentLength := binary.LittleEndian.Uint32(raw[16:20])
		contentOffset := binary.LittleEndian.Uint16(raw[20:22])
		if int(contentOffset)+int(contentLength) > len(raw) {
			return nil, errors.ErrCorrupt.WithMessage("resident content runs past attribute")
		}
		attr.Resident = raw[contentOffset : int(contentOffset)+int(contentLength)]
		attr.RealSize = uint64(contentLength)
		attr.AllocatedSize = uint64(contentLength)
		return attr, nil
	}

	if len(raw) < 64 {
		return nil, errors.ErrCorrupt.WithMessage("non-resident attribute header truncated")
	}
	startVCN := binary.LittleEndian.Uint64(raw[16:24])
	runsOffset := binary.LittleEndian.Uint16(raw[32:34])
	allocatedSize := binary.LittleEndian.Uint64(raw[40:48])
	realSize := binary.LittleEndian.Uint64(raw[48:56])

	runs, err := DecodeDataRuns(raw[runsOffset:], startVCN)
	if err != nil {
		return nil, err
	}

	attr.Runs = runs
	attr.StartVCN = startVCN
	attr.RealSize = realSize
	attr.AllocatedSize = allocatedSize
	return attr, nil
}

func decodeUTF16LE(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(units))
}

// StandardInformation is the decoded content of a $STANDARD_INFORMATION
// attribute: timestamps and DOS-compatible file attribute flags.
type StandardInformation struct {
	CreatedAt      uint64
	LastModifiedAt uint64
	LastChangedAt  uint64
	LastAccessedAt uint64
	FileAttributes uint32
}

// DecodeStandardInformation parses a $STANDARD_INFORMATION attribute's
// resident content.
func DecodeStandardInformation(content []byte) (*StandardInformation, error) {
	if len(content) < 48 {
		return nil, errors.ErrCorrupt.WithMessage("$STANDARD_INFORMATION shorter than 48 bytes")
	}
	return &StandardInformation{
		CreatedAt:      binary.LittleEndian.Uint64(content[0:8]),
		LastModifiedAt: binary.LittleEndian.Uint64(content[8:16]),
		LastChangedAt:  binary.LittleEndian.Uint64(content[16:24]),
		LastAccessedAt: binary.LittleEndian.Uint64(content[24:32]),
		FileAttributes: binary.LittleEndian.Uint32(content[32:36]),
	}, nil
}

// FileNameAttr is the decoded content of a $FILE_NAME attribute, and also
// the layout NTFS reuses verbatim for index entry keys (spec.md §4.7's
// "Directory enumeration" note).
type FileNameAttr struct {
	ParentDirectory FileReference
	CreatedAt       uint64
	LastModifiedAt  uint64
	LastChangedAt   uint64
	LastAccessedAt  uint64
	AllocatedSize   uint64
	RealSize        uint64
	FileAttributes  uint32
	NameLength      uint8
	Namespace       uint8
	Name            string
}

// DecodeFileName parses a $FILE_NAME attribute's resident content, or the
// equivalent key bytes embedded in an index entry.
func DecodeFileName(content []byte) (*FileNameAttr, error) {
	if len(content) < 66 {
		return nil, errors.ErrCorrupt.WithMessage("$FILE_NAME shorter than 66 bytes")
	}
	nameLength := content[64]
	namespace := content[65]
	nameBytes := content[66:]
	if len(nameBytes) < int(nameLength)*2 {
		return nil, errors.ErrCorrupt.WithMessage("$FILE_NAME name runs past attribute content")
	}

	return &FileNameAttr{
		ParentDirectory: ParseFileReference(binary.LittleEndian.Uint64(content[0:8])),
		CreatedAt:       binary.LittleEndian.Uint64(content[8:16]),
		LastModifiedAt:  binary.LittleEndian.Uint64(content[16:24]),
		LastChangedAt:   binary.LittleEndian.Uint64(content[24:32]),
		LastAccessedAt:  binary.LittleEndian.Uint64(content[32:40]),
		AllocatedSize:   binary.LittleEndian.Uint64(content[40:48]),
		RealSize:        binary.LittleEndian.Uint64(content[48:56]),
		FileAttributes:  binary.LittleEndian.Uint32(content[56:60]),
		NameLength:      nameLength,
		Namespace:       namespace,
		Name:            decodeUTF16LE(nameBytes[:int(nameLength)*2]),
	}, nil
}

// CreatedTime, LastModifiedTime, LastAccessedTime, LastChangedTime convert
// this $FILE_NAME's raw tick counts into time.Time, via internal/dostime.
func (f *FileNameAttr) CreatedTime() time.Time      { return dostime.NTFSTimeFromTicks(f.CreatedAt) }
func (f *FileNameAttr) LastModifiedTime() time.Time { return dostime.NTFSTimeFromTicks(f.LastModifiedAt) }
func (f *FileNameAttr) LastAccessedTime() time.Time { return dostime.NTFSTimeFromTicks(f.LastAccessedAt) }
func (f *FileNameAttr) LastChangedTime() time.Time  { return dostime.NTFSTimeFromTicks(f.LastChangedAt) }

// CreatedTime, LastModifiedTime, LastAccessedTime, LastChangedTime convert
// this $STANDARD_INFORMATION's raw tick counts into time.Time.
func (s *StandardInformation) CreatedTime() time.Time      { return dostime.NTFSTimeFromTicks(s.CreatedAt) }
func (s *StandardInformation) LastModifiedTime() time.Time { return dostime.NTFSTimeFromTicks(s.LastModifiedAt) }
func (s *StandardInformation) LastAccessedTime() time.Time { return dostime.NTFSTimeFromTicks(s.LastAccessedAt) }
func (s *StandardInformation) LastChangedTime() time.Time  { return dostime.NTFSTimeFromTicks(s.LastChangedAt) }
