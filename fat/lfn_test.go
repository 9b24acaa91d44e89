package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsLFN(t *testing.T) {
	assert.False(t, NeedsLFN("README.TXT"))
	assert.False(t, NeedsLFN("NOEXT"))
	assert.True(t, NeedsLFN("readme.txt")) // lowercase
	assert.True(t, NeedsLFN("areallylongname.txt"))
	assert.True(t, NeedsLFN("a.b.c"))
	assert.True(t, NeedsLFN("TOOLONGNAME.TXT"))
}

func TestEncodeDecodeLFNRoundTrip(t *testing.T) {
	shortName := packShortName("ARELLY~1", "TXT")
	slots := EncodeLFN("areallylongname.txt", shortName)
	require.NotEmpty(t, slots)

	name, ok := DecodeLFN(slots, shortName)
	require.True(t, ok)
	assert.Equal(t, "areallylongname.txt", name)
}

func TestDecodeLFNRejectsChecksumMismatch(t *testing.T) {
	shortName := packShortName("ARELLY~1", "TXT")
	slots := EncodeLFN("areallylongname.txt", shortName)

	otherShortName := packShortName("WRONG~1", "TXT")
	_, ok := DecodeLFN(slots, otherShortName)
	assert.False(t, ok)
}

func TestEncodeLFNSpansMultipleSlots(t *testing.T) {
	longName := "this-name-is-definitely-longer-than-thirteen-characters.txt"
	shortName := packShortName("THISNA~1", "TXT")
	slots := EncodeLFN(longName, shortName)
	assert.Greater(t, len(slots), 1)

	name, ok := DecodeLFN(slots, shortName)
	require.True(t, ok)
	assert.Equal(t, longName, name)
}

func TestGenerateShortNameNoCollisionKeepsPlainName(t *testing.T) {
	exists := func([11]byte) bool { return false }
	short := GenerateShortName("README.TXT", exists)
	assert.Equal(t, "README  TXT", string(short[:]))
}

func TestGenerateShortNameAppliesNumericTail(t *testing.T) {
	exists := func([11]byte) bool { return false }
	short := GenerateShortName("areallylongname.txt", exists)
	assert.Equal(t, "AREALL~1TXT", string(short[:]))
}

func TestGenerateShortNameResolvesCollisions(t *testing.T) {
	taken := map[[11]byte]bool{
		packShortName("AREALL~1", "TXT"): true,
		packShortName("AREALL~2", "TXT"): true,
	}
	exists := func(c [11]byte) bool { return taken[c] }

	short := GenerateShortName("areallylongname.txt", exists)
	assert.Equal(t, "AREALL~3TXT", string(short[:]))
}

func TestGenerateShortNameStripsInvalidCharacters(t *testing.T) {
	exists := func([11]byte) bool { return false }
	short := GenerateShortName("a!+.txt", exists)
	assert.Contains(t, string(short[:]), "!")
	assert.NotContains(t, string(short[:]), "+")
}

func TestLFNChecksumIsStableAcrossCase(t *testing.T) {
	a := packShortName("README", "TXT")
	b := normalizeShortKey(packShortName("readme", "txt"))
	assert.Equal(t, lfnChecksum(a), lfnChecksum(b))
}
