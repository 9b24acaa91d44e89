package fat

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/imagefs"
	"github.com/dargueta/imagefs/internal/cluster"
)

func newTestDirectory(t *testing.T, fs *FileSystem) *Directory {
	t.Helper()
	head, err := fs.table.Allocate()
	require.NoError(t, err)
	zero := make([]byte, fs.reader.BytesPerCluster())
	require.NoError(t, fs.reader.WriteCluster(cluster.ID(head), zero))

	backend := &chainBackend{reader: fs.reader, table: fs.table, head: head}
	return NewDirectory(backend, fs.cfg.OEMEncoding, fs.cfg.LocationFor(), head)
}

func TestDirectoryAddAndListEntry(t *testing.T) {
	fs, clock := openTestFAT16(t)
	dir := newTestDirectory(t, fs)

	entry := Entry{
		ShortName:    packShortName("README", "TXT"),
		DisplayName:  "README.TXT",
		Attributes:   imagefs.AttrArchive,
		FirstCluster: 0,
		Size:         0,
		CreatedAt:    clock.Now(),
		LastAccess:   clock.Now(),
		LastModified: clock.Now(),
	}
	require.NoError(t, dir.AddEntry("README.TXT", entry))

	entries, err := dir.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "README.TXT", entries[0].DisplayName)
}

func TestDirectoryAddEntryWithLongName(t *testing.T) {
	fs, _ := openTestFAT16(t)
	dir := newTestDirectory(t, fs)

	longName := "a really long file name.txt"
	entry := fs.newEntryForCreate(dir, longName, 0)
	require.NoError(t, dir.AddEntry(longName, entry))

	found, ok := dir.FindByName(longName)
	require.True(t, ok)
	assert.Equal(t, longName, found.DisplayName)

	entries, err := dir.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDirectoryFindByShortName(t *testing.T) {
	fs, _ := openTestFAT16(t)
	dir := newTestDirectory(t, fs)

	longName := "a really long file name.txt"
	entry := fs.newEntryForCreate(dir, longName, 0)
	require.NoError(t, dir.AddEntry(longName, entry))

	found, ok := dir.FindByName("AREALL~1.TXT")
	require.True(t, ok)
	assert.Equal(t, longName, found.DisplayName)
}

func TestDirectoryDeleteEntry(t *testing.T) {
	fs, clock := openTestFAT16(t)
	dir := newTestDirectory(t, fs)

	entry := Entry{
		ShortName:    packShortName("README", "TXT"),
		DisplayName:  "README.TXT",
		CreatedAt:    clock.Now(),
		LastAccess:   clock.Now(),
		LastModified: clock.Now(),
	}
	require.NoError(t, dir.AddEntry("README.TXT", entry))
	require.NoError(t, dir.DeleteEntry("README.TXT", false, fs.table))

	entries, err := dir.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDirectoryUpdateEntryPreservesShortName(t *testing.T) {
	fs, clock := openTestFAT16(t)
	dir := newTestDirectory(t, fs)

	entry := Entry{
		ShortName:   packShortName("README", "TXT"),
		DisplayName: "README.TXT",
		CreatedAt:   clock.Now(),
		LastAccess:  clock.Now(),
		LastModified: clock.Now(),
	}
	require.NoError(t, dir.AddEntry("README.TXT", entry))

	updated, ok := dir.FindByName("README.TXT")
	require.True(t, ok)
	updated.Size = 4096

	require.NoError(t, dir.UpdateEntry("README.TXT", updated))

	found, ok := dir.FindByName("README.TXT")
	require.True(t, ok)
	assert.EqualValues(t, 4096, found.Size)
	assert.Equal(t, entry.ShortName, found.ShortName)
}

func TestDirectoryShortNameExists(t *testing.T) {
	fs, _ := openTestFAT16(t)
	dir := newTestDirectory(t, fs)

	entry := Entry{ShortName: packShortName("README", "TXT"), DisplayName: "README.TXT"}
	require.NoError(t, dir.AddEntry("README.TXT", entry))

	assert.True(t, dir.ShortNameExists(packShortName("README", "TXT")))
	assert.False(t, dir.ShortNameExists(packShortName("OTHER", "TXT")))
}

func TestDirectoryAddEntryExtendsChainWhenFull(t *testing.T) {
	fs, _ := openTestFAT16(t)
	dir := newTestDirectory(t, fs)

	bpc := fs.reader.BytesPerCluster()
	capacity := int(bpc) / DirentSize

	for i := 0; i < capacity+5; i++ {
		name := "F" + strconv.Itoa(i) + ".TXT"
		entry := fs.newEntryForCreate(dir, name, 0)
		require.NoError(t, dir.AddEntry(name, entry))
	}

	entries, err := dir.List()
	require.NoError(t, err)
	assert.Len(t, entries, capacity+5)

	chain, err := fs.table.Chain(dir.HeadCluster())
	require.NoError(t, err)
	assert.Greater(t, len(chain), 1)
}
