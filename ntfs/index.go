package ntfs

import (
	"encoding/binary"
	"strings"

	"github.com/dargueta/imagefs/errors"
)

const (
	indexEntryHasSubnode = 0x0001
	indexEntryIsLast     = 0x0002
	indexNodeHasSubnodes = 0x0001
	namespaceDOS         = 2
)

// DirEntry is one child yielded by directory enumeration, decoded from an
// $INDEX_ROOT/$INDEX_ALLOCATION entry's embedded $FILE_NAME key, per
// spec.md §4.7's "Directory enumeration" and §3's Index entity.
type DirEntry struct {
	Reference FileReference
	Name      *FileNameAttr
}

// indexEntry is one raw parsed entry from a B-tree node, before its key is
// interpreted as a $FILE_NAME.
type indexEntry struct {
	reference FileReference
	key       []byte
	hasSubnode bool
	isLast    bool
	subnodeVCN uint64
}

// parseIndexEntries walks a run of index entries starting at data[offset:],
// stopping at the entry with the "last in node" flag.
func parseIndexEntries(data []byte, offset int) ([]indexEntry, error) {
	var entries []indexEntry
	pos := offset
	for pos+16 <= len(data) {
		reference := binary.LittleEndian.Uint64(data[pos : pos+8])
		entryLength := binary.LittleEndian.Uint16(data[pos+8 : pos+10])
		keyLength := binary.LittleEndian.Uint16(data[pos+10 : pos+12])
		flags := binary.LittleEndian.Uint16(data[pos+12 : pos+14])

		if entryLength == 0 || pos+int(entryLength) > len(data) {
			return nil, errors.ErrCorrupt.WithMessage("index entry length out of range")
		}

		e := indexEntry{
			reference:  ParseFileReference(reference),
			hasSubnode: flags&indexEntryHasSubnode != 0,
			isLast:     flags&indexEntryIsLast != 0,
		}
		if keyLength > 0 {
			keyStart := pos + 16
			if keyStart+int(keyLength) > len(data) {
				return nil, errors.ErrCorrupt.WithMessage("index entry key runs past entry")
			}
			e.key = data[keyStart : keyStart+int(keyLength)]
		}
		if e.hasSubnode {
			vcnOffset := pos + int(entryLength) - 8
			if vcnOffset < pos || vcnOffset+8 > len(data) {
				return nil, errors.ErrCorrupt.WithMessage("index entry subnode VCN out of range")
			}
			e.subnodeVCN = binary.LittleEndian.Uint64(data[vcnOffset : vcnOffset+8])
		}

		entries = append(entries, e)
		if e.isLast {
			break
		}
		pos += int(entryLength)
	}
	return entries, nil
}

// indexHeader is the 16-byte INDEX_HEADER embedded in both $INDEX_ROOT and
// each $INDEX_ALLOCATION block, giving the offset and extent of the entry
// array that follows it.
type indexHeader struct {
	entriesOffset uint32
	totalSize     uint32
	allocatedSize uint32
	flags         uint8
}

func parseIndexHeader(data []byte) (*indexHeader, error) {
	if len(data) < 16 {
		return nil, errors.ErrCorrupt.WithMessage("index header shorter than 16 bytes")
	}
	return &indexHeader{
		entriesOffset: binary.LittleEndian.Uint32(data[0:4]),
		totalSize:     binary.LittleEndian.Uint32(data[4:8]),
		allocatedSize: binary.LittleEndian.Uint32(data[8:12]),
		flags:         data[12],
	}, nil
}

// Directory reads and lists the children of one NTFS directory's $I30
// index, following $INDEX_ALLOCATION subnodes as needed.
type Directory struct {
	mft    *MFT
	record *Record
}

// NewDirectory wraps record (which must have IsDirectory() true) for index
// enumeration via mft.
func NewDirectory(mft *MFT, record *Record) *Directory {
	return &Directory{mft: mft, record: record}
}

// List returns every child entry in the directory's $I30 index, across the
// resident root node and any $INDEX_ALLOCATION subnodes. Short (DOS-only)
// $FILE_NAME aliases are skipped in favor of the Win32 name for the same
// file when both are present, matching how fat.Directory exposes one
// display name per entry.
func (d *Directory) List() ([]DirEntry, error) {
	attrs, err := d.record.Attributes()
	if err != nil {
		return nil, err
	}

	var rootAttr, allocAttr, bitmapAttr *Attribute
	for _, a := range attrs {
		if a.Name != "$I30" {
			continue
		}
		switch a.Type {
		case AttrIndexRoot:
			rootAttr = a
		case AttrIndexAllocation:
			allocAttr = a
		case AttrBitmap:
			bitmapAttr = a
		}
	}
	_ = bitmapAttr // allocation-unit bitmap isn't needed for a read-only walk

	if rootAttr == nil {
		return nil, errors.ErrNotADirectory.WithMessage("record has no $I30 index root")
	}

	header, err := parseIndexHeader(rootAttr.Resident)
	if err != nil {
		return nil, err
	}
	entries, err := parseIndexEntries(rootAttr.Resident, int(header.entriesOffset)+16)
	if err != nil {
		return nil, err
	}

	var allocStream *AttributeStream
	if allocAttr != nil {
		allocStream = NewAttributeStream(d.mft.reader, allocAttr)
	}

	var out []DirEntry
	seen := make(map[string]bool)
	var walk func(entries []indexEntry) error
	walk = func(entries []indexEntry) error {
		for _, e := range entries {
			if e.hasSubnode && allocStream != nil {
				sub, err := readIndexAllocationBlock(allocStream, e.subnodeVCN, d.mft.bytesPerIndexBuffer, d.mft.bytesPerSector)
				if err != nil {
					return err
				}
				if err := walk(sub); err != nil {
					return err
				}
			}
			if len(e.key) == 0 {
				continue
			}
			fn, err := DecodeFileName(e.key)
			if err != nil {
				return err
			}
			if fn.Namespace == namespaceDOS {
				continue
			}
			lower := strings.ToLower(fn.Name)
			if seen[lower] {
				continue
			}
			seen[lower] = true
			out = append(out, DirEntry{Reference: e.reference, Name: fn})
		}
		return nil
	}

	if err := walk(entries); err != nil {
		return nil, err
	}
	return out, nil
}

// readIndexAllocationBlock reads and parses one $INDEX_ALLOCATION node at
// index-record number vcn, applying its update-sequence fixup the same way
// a file record's is applied.
func readIndexAllocationBlock(stream *AttributeStream, vcn uint64, bytesPerIndexBuffer, bytesPerSector uint) ([]indexEntry, error) {
	buf := make([]byte, bytesPerIndexBuffer)
	if _, err := stream.Seek(int64(vcn)*int64(bytesPerIndexBuffer), 0); err != nil {
		return nil, err
	}
	if _, err := readFull(stream, buf); err != nil {
		return nil, err
	}

	if string(buf[0:4]) != "INDX" {
		return nil, errors.ErrCorrupt.WithMessage("index allocation block missing INDX signature")
	}
	usaOffset := binary.LittleEndian.Uint16(buf[4:6])
	usaCount := binary.LittleEndian.Uint16(buf[6:8])
	if usaCount > 0 {
		if err := applyUpdateSequenceFixup(buf, usaOffset, usaCount, bytesPerSector, vcn); err != nil {
			return nil, err
		}
	}

	header, err := parseIndexHeader(buf[24:])
	if err != nil {
		return nil, err
	}
	return parseIndexEntries(buf[24:], int(header.entriesOffset)+16)
}

func readFull(s *AttributeStream, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Read(buf[total:])
		total += n
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}
