package fat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/dargueta/imagefs"
)

func TestRawShortEntryByteRoundTrip(t *testing.T) {
	raw := rawShortEntry{
		AttributeFlags: uint8(imagefs.AttrArchive),
		FileSize:       12345,
	}
	copy(raw.Name[:], "README  ")
	copy(raw.Extension[:], "TXT")
	setFirstCluster(&raw, 0x00012345)

	encoded := raw.bytes()
	require.Len(t, encoded, DirentSize)

	decoded := parseRawShortEntry(encoded)
	assert.Equal(t, raw.Name, decoded.Name)
	assert.Equal(t, raw.Extension, decoded.Extension)
	assert.Equal(t, raw.AttributeFlags, decoded.AttributeFlags)
	assert.Equal(t, raw.FileSize, decoded.FileSize)
	assert.EqualValues(t, 0x00012345, decoded.firstCluster())
}

func TestEntryToRawAndBackPreservesTimestamps(t *testing.T) {
	loc := time.UTC
	created := time.Date(2024, time.March, 5, 13, 45, 30, 0, loc)

	entry := Entry{
		ShortName:    packShortName("README", "TXT"),
		Attributes:   imagefs.AttrArchive,
		FirstCluster: 9,
		Size:         512,
		CreatedAt:    created,
		LastAccess:   created,
		LastModified: created,
	}

	raw := entryToRaw(entry)
	roundTripped := rawToEntry(raw, loc)

	assert.Equal(t, entry.ShortName, roundTripped.ShortName)
	assert.Equal(t, entry.FirstCluster, roundTripped.FirstCluster)
	assert.Equal(t, entry.Size, roundTripped.Size)
	// FAT dates have 2-second resolution; truncate before comparing.
	assert.Equal(t, created.Truncate(2*time.Second), roundTripped.CreatedAt.Truncate(2*time.Second))
}

func TestDecodeShortNameHandlesEscapedE5(t *testing.T) {
	raw := rawShortEntry{}
	raw.Name[0] = escapedE5Marker
	copy(raw.Name[1:], "BCDEF  ")
	copy(raw.Extension[:], "TXT")

	name := decodeShortName(raw, charmap.CodePage437)
	assert.True(t, strings.HasSuffix(name, "BCDEF.TXT"))
	// The 0x05 escape must decode to the real 0xE5 byte's OEM glyph, not
	// literally stop the name or resolve to the deleted-entry marker.
	assert.NotEmpty(t, name)
}

func TestDecodeShortNameNoExtension(t *testing.T) {
	raw := rawShortEntry{}
	copy(raw.Name[:], "NOEXT   ")

	name := decodeShortName(raw, charmap.CodePage437)
	assert.Equal(t, "NOEXT", name)
}

func TestIsDeletedAndFreeFirstByte(t *testing.T) {
	assert.True(t, isDeletedFirstByte(0xE5))
	assert.False(t, isDeletedFirstByte(0x00))
	assert.True(t, isFreeFirstByte(0x00))
	assert.False(t, isFreeFirstByte(0xE5))
}
