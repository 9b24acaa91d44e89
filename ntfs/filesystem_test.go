package ntfs

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/imagefs"
	"github.com/dargueta/imagefs/internal/fixtures"
)

// ntfsFixtureManifest is spec.md §8 scenario 5's golden-image manifest for
// the hand-built volume buildTestVolume assembles: one regular file and one
// file carrying an alternate data stream, checked by content hash rather
// than a hardcoded byte comparison.
const ntfsFixtureManifest = `path,size,sha1,is_dir,short_name
\HELLO.TXT,35,,false,
\STREAM.TXT,27,,false,
`

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TestOpenAndReadFileBySHA1 is spec.md §8 scenario 5: open an NTFS image
// and verify a file's content against its expected SHA-1 digest.
func TestOpenAndReadFileBySHA1(t *testing.T) {
	dev := buildTestVolume(t)
	fs, err := Open(dev, nil)
	require.NoError(t, err)
	assert.Equal(t, "NTFS", fs.FriendlyName())
	assert.False(t, fs.CanWrite())

	entries, err := fixtures.LoadManifest(strings.NewReader(ntfsFixtureManifest))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	want := map[string]*fixtures.Entry{}
	for _, e := range entries {
		want[e.Path] = e
	}

	f, err := fs.OpenFile("\\HELLO.TXT", imagefs.ModeRead)
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, helloContent, string(content))
	assert.EqualValues(t, want["\\HELLO.TXT"].Size, len(content))
	assert.Equal(t, sha1Hex(helloContent), sha1Hex(string(content)))
}

// TestAlternateDataStreamReadsIndependently is spec.md §8 scenario 6: a
// file's unnamed $DATA stream and a named alternate stream are addressed
// independently via the "path:stream" convention and never mixed up.
func TestAlternateDataStreamReadsIndependently(t *testing.T) {
	dev := buildTestVolume(t)
	fs, err := Open(dev, nil)
	require.NoError(t, err)

	main, err := fs.OpenFile("\\STREAM.TXT", imagefs.ModeRead)
	require.NoError(t, err)
	mainContent, err := io.ReadAll(main)
	require.NoError(t, err)
	require.NoError(t, main.Close())
	assert.Equal(t, streamMainContent, string(mainContent))

	alt, err := fs.OpenFile("\\STREAM.TXT:alt", imagefs.ModeRead)
	require.NoError(t, err)
	altContent, err := io.ReadAll(alt)
	require.NoError(t, err)
	require.NoError(t, alt.Close())
	assert.Equal(t, streamAltContent, string(altContent))

	assert.NotEqual(t, mainContent, altContent)
}

func TestGetFileLengthHonorsStreamSuffix(t *testing.T) {
	dev := buildTestVolume(t)
	fs, err := Open(dev, nil)
	require.NoError(t, err)

	n, err := fs.GetFileLength("\\STREAM.TXT:alt")
	require.NoError(t, err)
	assert.EqualValues(t, len(streamAltContent), n)
}

func TestExistsAndDirectoryExists(t *testing.T) {
	dev := buildTestVolume(t)
	fs, err := Open(dev, nil)
	require.NoError(t, err)

	assert.True(t, fs.FileExists("\\HELLO.TXT"))
	assert.False(t, fs.DirectoryExists("\\HELLO.TXT"))
	assert.True(t, fs.DirectoryExists("\\"))
	assert.False(t, fs.Exists("\\NOPE.TXT"))
}

func TestGetFilesListsRootDirectory(t *testing.T) {
	dev := buildTestVolume(t)
	fs, err := Open(dev, nil)
	require.NoError(t, err)

	files, err := fs.GetFiles("\\", "*", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"\\HELLO.TXT", "\\STREAM.TXT"}, files)
}

func TestMutatingCallsAreUnsupported(t *testing.T) {
	dev := buildTestVolume(t)
	fs, err := Open(dev, nil)
	require.NoError(t, err)

	assert.Error(t, fs.CreateDirectory("\\NEW"))
	assert.Error(t, fs.DeleteFile("\\HELLO.TXT"))
	assert.Error(t, fs.SetAttributes("\\HELLO.TXT", imagefs.Attr(0)))

	_, err = fs.OpenFile("\\HELLO.TXT", imagefs.ModeWrite)
	assert.Error(t, err)
}

func TestGetFileInfoReportsAttributesAndSize(t *testing.T) {
	dev := buildTestVolume(t)
	fs, err := Open(dev, nil)
	require.NoError(t, err)

	info, err := fs.GetFileInfo("\\HELLO.TXT")
	require.NoError(t, err)
	assert.Equal(t, "HELLO.TXT", info.EntryName)
	assert.EqualValues(t, len(helloContent), info.SizeBytes)
	assert.True(t, info.Attributes.IsDir() == false)
}
