package ntfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpcaseTableFoldsLowercase(t *testing.T) {
	table := NewUpcaseTable(buildTestUpcaseTable())
	assert.Equal(t, "HELLO.TXT", table.Fold("hello.txt"))
	assert.Equal(t, "HELLO.TXT", table.Fold("HELLO.TXT"))
}

func TestUpcaseTableEqualIsCaseInsensitive(t *testing.T) {
	table := NewUpcaseTable(buildTestUpcaseTable())
	assert.True(t, table.Equal("Stream.txt", "STREAM.TXT"))
	assert.False(t, table.Equal("Stream.txt", "OTHER.TXT"))
}

func TestUpcaseTableFoldUnitBeyondTableIsIdentity(t *testing.T) {
	table := NewUpcaseTable(buildTestUpcaseTable())
	assert.EqualValues(t, 0x3042, table.FoldUnit(0x3042)) // outside the fixture's 128-entry table
}
