package fat

import (
	"encoding/binary"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"github.com/dargueta/imagefs"
	"github.com/dargueta/imagefs/internal/dostime"
)

// DirentSize is the size of a single raw directory entry, in bytes.
const DirentSize = 32

const (
	deletedMarker   = 0xE5
	escapedE5Marker = 0x05
	freeMarker      = 0x00
)

// rawShortEntry is the on-disk representation of a 32-byte short directory
// entry. Grounded on the teacher's RawDirent (file_systems/fat/dirent.go),
// renamed to make room for the LFN slot type the teacher never modeled.
type rawShortEntry struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeTenths uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

func parseRawShortEntry(data []byte) rawShortEntry {
	var e rawShortEntry
	copy(e.Name[:], data[0:8])
	copy(e.Extension[:], data[8:11])
	e.AttributeFlags = data[11]
	e.NTReserved = data[12]
	e.CreatedTimeTenths = data[13]
	e.CreatedTime = binary.LittleEndian.Uint16(data[14:16])
	e.CreatedDate = binary.LittleEndian.Uint16(data[16:18])
	e.LastAccessedDate = binary.LittleEndian.Uint16(data[18:20])
	e.FirstClusterHigh = binary.LittleEndian.Uint16(data[20:22])
	e.LastModifiedTime = binary.LittleEndian.Uint16(data[22:24])
	e.LastModifiedDate = binary.LittleEndian.Uint16(data[24:26])
	e.FirstClusterLow = binary.LittleEndian.Uint16(data[26:28])
	e.FileSize = binary.LittleEndian.Uint32(data[28:32])
	return e
}

func (e rawShortEntry) bytes() []byte {
	buf := make([]byte, DirentSize)
	copy(buf[0:8], e.Name[:])
	copy(buf[8:11], e.Extension[:])
	buf[11] = e.AttributeFlags
	buf[12] = e.NTReserved
	buf[13] = e.CreatedTimeTenths
	binary.LittleEndian.PutUint16(buf[14:16], e.CreatedTime)
	binary.LittleEndian.PutUint16(buf[16:18], e.CreatedDate)
	binary.LittleEndian.PutUint16(buf[18:20], e.LastAccessedDate)
	binary.LittleEndian.PutUint16(buf[20:22], e.FirstClusterHigh)
	binary.LittleEndian.PutUint16(buf[22:24], e.LastModifiedTime)
	binary.LittleEndian.PutUint16(buf[24:26], e.LastModifiedDate)
	binary.LittleEndian.PutUint16(buf[26:28], e.FirstClusterLow)
	binary.LittleEndian.PutUint32(buf[28:32], e.FileSize)
	return buf
}

func (e rawShortEntry) firstCluster() ClusterID {
	return ClusterID(uint32(e.FirstClusterHigh)<<16 | uint32(e.FirstClusterLow))
}

func setFirstCluster(e *rawShortEntry, c ClusterID) {
	e.FirstClusterHigh = uint16(uint32(c) >> 16)
	e.FirstClusterLow = uint16(uint32(c) & 0xFFFF)
}

// Entry is the parsed, user-facing representation of one directory slot:
// short-entry fields plus the long display name, if any.
type Entry struct {
	ShortName    [11]byte
	DisplayName  string
	Attributes   imagefs.Attr
	FirstCluster ClusterID
	Size         uint32
	CreatedAt    time.Time
	LastAccess   time.Time
	LastModified time.Time

	// slotIndex is the index of the short entry's 32-byte slot within the
	// directory, and lfnSlotCount the number of LFN slots preceding it.
	// Both are populated by Directory; UpdateEntry and DeleteEntry use
	// slotIndex to locate the entry.
	slotIndex    int
	lfnSlotCount int
}

// isDeletedFirstByte reports whether the slot's first byte marks it as a deleted
// entry (0xE5) rather than a live one.
func isDeletedFirstByte(b byte) bool { return b == deletedMarker }

// isFreeFirstByte reports whether the slot's first byte marks the end of
// the in-use region of the directory (0x00): every slot from here to the
// end of the chain is free.
func isFreeFirstByte(b byte) bool { return b == freeMarker }

// decodeShortName reverses the padding/escaping rules the FAT spec applies
// to byte 0 of the short name, then runs the OEM decoder over the
// remaining 8.3 bytes to recover a display string when no LFN is present.
func decodeShortName(raw rawShortEntry, oem encoding.Encoding) string {
	nameBytes := raw.Name
	first := nameBytes[0]
	if first == escapedE5Marker {
		nameBytes[0] = deletedMarker
	}

	decoded, err := oem.NewDecoder().Bytes(nameBytes[:])
	if err != nil {
		decoded = nameBytes[:]
	}
	name := strings.TrimRight(string(decoded), " ")

	extDecoded, err := oem.NewDecoder().Bytes(raw.Extension[:])
	if err != nil {
		extDecoded = raw.Extension[:]
	}
	ext := strings.TrimRight(string(extDecoded), " ")

	if ext == "" {
		return name
	}
	return name + "." + ext
}

// encodeOEMShortName runs an 11-byte packed short name through the OEM
// encoder, escaping a genuine leading 0xE5 byte per the FAT convention so
// it isn't mistaken for a deleted-entry marker.
func encodeOEMShortName(packed [11]byte, oem encoding.Encoding) [11]byte {
	encoded, err := oem.NewEncoder().Bytes(packed[:])
	if err != nil || len(encoded) != 11 {
		encoded = packed[:]
	}
	var out [11]byte
	copy(out[:], encoded)
	if out[0] == deletedMarker {
		out[0] = escapedE5Marker
	}
	return out
}

func rawToEntry(raw rawShortEntry, loc *time.Location) Entry {
	return Entry{
		ShortName:    packRawName(raw),
		Attributes:   imagefs.Attr(raw.AttributeFlags),
		FirstCluster: raw.firstCluster(),
		Size:         raw.FileSize,
		CreatedAt:    dostime.ToTime(raw.CreatedDate, raw.CreatedTime, raw.CreatedTimeTenths, loc),
		LastAccess:   dostime.ToTime(raw.LastAccessedDate, 0, 0, loc),
		LastModified: dostime.ToTime(raw.LastModifiedDate, raw.LastModifiedTime, 0, loc),
	}
}

func packRawName(raw rawShortEntry) [11]byte {
	var out [11]byte
	copy(out[0:8], raw.Name[:])
	copy(out[8:11], raw.Extension[:])
	return out
}

func entryToRaw(e Entry) rawShortEntry {
	var raw rawShortEntry
	copy(raw.Name[:], e.ShortName[0:8])
	copy(raw.Extension[:], e.ShortName[8:11])
	raw.AttributeFlags = uint8(e.Attributes)
	setFirstCluster(&raw, e.FirstCluster)
	raw.FileSize = e.Size

	cDate, cTime, cTenths := dostime.FromTime(e.CreatedAt)
	raw.CreatedDate, raw.CreatedTime, raw.CreatedTimeTenths = cDate, cTime, cTenths

	aDate, _, _ := dostime.FromTime(e.LastAccess)
	raw.LastAccessedDate = aDate

	mDate, mTime, _ := dostime.FromTime(e.LastModified)
	raw.LastModifiedDate, raw.LastModifiedTime = mDate, mTime

	return raw
}
