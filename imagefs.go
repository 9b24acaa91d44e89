// Package imagefs provides read (and, for FAT, limited write) access to
// on-disk filesystem images directly from arbitrary byte streams, without
// mounting them through an OS kernel. See fat.FileSystem and
// ntfs.FileSystem for the two concrete engines; this package defines the
// shared FileSystem contract (spec.md's "DiscFileSystem") and the types
// every concrete engine's Stat/Open calls return.
package imagefs

import (
	"io"
	"math"
	"os"
	"time"
)

// Attr is the attribute bit set carried by every directory entry. The low
// six bits are bit-compatible with the FAT attribute byte (spec.md §3, §9's
// "implementation convenience, not an external contract" note) so FAT can
// round-trip them without translation; NTFS synthesizes them from its own
// flags.
type Attr uint16

const (
	AttrReadOnly Attr = 1 << iota
	AttrHidden
	AttrSystem
	AttrVolumeLabel
	AttrDirectory
	AttrArchive
)

func (a Attr) IsDir() bool    { return a&AttrDirectory != 0 }
func (a Attr) IsReadOnly() bool { return a&AttrReadOnly != 0 }
func (a Attr) IsHidden() bool  { return a&AttrHidden != 0 }
func (a Attr) IsSystem() bool  { return a&AttrSystem != 0 }

// UndefinedTimestamp is used in place of a timestamp a file system can't
// represent, mirroring the teacher repo's api.go.
var UndefinedTimestamp = time.UnixMicro(math.MaxInt64)

// FileInfo is the platform-independent metadata record returned by Stat
// calls and directory enumeration. It satisfies os.FileInfo so callers that
// already work against the standard library's abstractions need no
// adapter.
type FileInfo struct {
	EntryName    string
	SizeBytes    int64
	Attributes   Attr
	CreatedAt    time.Time
	LastAccessed time.Time
	LastModified time.Time
	LastChanged  time.Time
	// ShortName is the 8.3 alias for this entry on FAT, in its packed
	// 11-byte form without the dot and with trailing spaces removed (e.g.
	// "AREALL~1TXT"); every FAT entry carries one. Empty for NTFS.
	ShortName string
}

func (fi FileInfo) Name() string       { return fi.EntryName }
func (fi FileInfo) Size() int64        { return fi.SizeBytes }
func (fi FileInfo) IsDir() bool        { return fi.Attributes.IsDir() }
func (fi FileInfo) ModTime() time.Time { return fi.LastModified }
func (fi FileInfo) Sys() interface{}   { return fi }

// Mode implements os.FileInfo. FAT/NTFS have no notion of Unix execute
// permission; directories get 0555, files get 0444 or 0666 depending on the
// read-only attribute, matching the teacher's AttrFlagsToFileMode mapping.
func (fi FileInfo) Mode() os.FileMode {
	var mode os.FileMode
	if fi.Attributes.IsReadOnly() {
		mode = 0o444
	} else {
		mode = 0o666
	}
	if fi.Attributes.IsDir() {
		return os.ModeDir | 0o555
	}
	return mode
}

// DirectoryEntry is what GetFileSystemEntries-style enumeration yields: an
// os.DirEntry that can also produce the richer FileInfo described above.
type DirectoryEntry interface {
	os.DirEntry
	Stat() (FileInfo, error)
}

// OpenMode controls how OpenFile treats an existing or missing path. The
// bit layout follows the teacher repo's iota-flag style (api.go/flags.go)
// scoped down to what a file system image actually needs: there is no
// O_APPEND-style shared-writer semantics to speak of since every FileSystem
// implementation here is single-threaded and exclusively owns its backing
// stream.
type OpenMode int

const (
	// ModeRead opens the file for reading. At least one of ModeRead/ModeWrite
	// must be set.
	ModeRead OpenMode = 1 << iota
	// ModeWrite opens the file for writing; unsupported on ntfs.FileSystem.
	ModeWrite
	// ModeCreate creates the file if it doesn't already exist.
	ModeCreate
	// ModeExclusive requires ModeCreate and fails with ErrAlreadyExists if
	// the file is already present.
	ModeExclusive
	// ModeTruncate discards existing content when opening for write.
	ModeTruncate
	// ModeAppend forces every Write to the current end of file.
	ModeAppend
)

func (m OpenMode) wantsRead() bool      { return m&ModeRead != 0 }
func (m OpenMode) wantsWrite() bool     { return m&ModeWrite != 0 }
func (m OpenMode) wantsCreate() bool    { return m&ModeCreate != 0 }
func (m OpenMode) wantsExclusive() bool { return m&ModeExclusive != 0 }
func (m OpenMode) wantsTruncate() bool  { return m&ModeTruncate != 0 }
func (m OpenMode) wantsAppend() bool    { return m&ModeAppend != 0 }

// WantsRead reports whether the mode permits reads.
func (m OpenMode) WantsRead() bool { return m.wantsRead() }

// WantsWrite reports whether the mode permits writes.
func (m OpenMode) WantsWrite() bool { return m.wantsWrite() }

// WantsCreate reports whether OpenFile should create a missing file.
func (m OpenMode) WantsCreate() bool { return m.wantsCreate() }

// WantsExclusive reports whether OpenFile should fail if the file exists.
func (m OpenMode) WantsExclusive() bool { return m.wantsExclusive() }

// WantsTruncate reports whether OpenFile should truncate an existing file.
func (m OpenMode) WantsTruncate() bool { return m.wantsTruncate() }

// WantsAppend reports whether writes should always target the end of file.
func (m OpenMode) WantsAppend() bool { return m.wantsAppend() }

// File is the handle returned by OpenFile: a seekable byte stream over file
// content, per spec.md §4.5/§4.8.
type File interface {
	io.ReadWriteCloser
	io.Seeker
	// Size returns the file's current length in bytes.
	Size() int64
	// Truncate changes the file's length. It fails with errors.ErrReadOnly
	// on a FAT file system that is not writable, and with
	// errors.ErrUnsupportedOperation on NTFS.
	Truncate(size int64) error
}

// FileSystem is the common capability set every concrete engine (fat,
// ntfs, ...) implements: spec.md §6's "DiscFileSystem" boundary contract.
type FileSystem interface {
	// Root returns the absolute path of the root directory, always "\" on
	// these backslash-path file systems.
	Root() string
	// FriendlyName identifies the concrete file system variant, e.g.
	// "FAT32" or "NTFS".
	FriendlyName() string
	// CanWrite reports whether mutating calls are expected to succeed. It's
	// false for every ntfs.FileSystem and for any fat.FileSystem opened
	// over a read-only Device.
	CanWrite() bool

	Exists(path string) bool
	FileExists(path string) bool
	DirectoryExists(path string) bool

	GetAttributes(path string) (Attr, error)
	SetAttributes(path string, attr Attr) error

	GetCreationTime(path string) (time.Time, error)
	SetCreationTime(path string, t time.Time) error
	GetCreationTimeUtc(path string) (time.Time, error)
	SetCreationTimeUtc(path string, t time.Time) error
	GetLastAccessTime(path string) (time.Time, error)
	SetLastAccessTime(path string, t time.Time) error
	GetLastAccessTimeUtc(path string) (time.Time, error)
	SetLastAccessTimeUtc(path string, t time.Time) error
	GetLastWriteTime(path string) (time.Time, error)
	SetLastWriteTime(path string, t time.Time) error
	GetLastWriteTimeUtc(path string) (time.Time, error)
	SetLastWriteTimeUtc(path string, t time.Time) error

	OpenFile(path string, mode OpenMode) (File, error)
	CreateDirectory(path string) error
	DeleteFile(path string) error
	DeleteDirectory(path string) error
	CopyFile(sourcePath, destinationPath string, overwrite bool) error
	MoveFile(sourcePath, destinationPath string, overwrite bool) error
	MoveDirectory(sourcePath, destinationPath string) error

	GetFiles(path, searchPattern string, recursive bool) ([]string, error)
	GetDirectories(path, searchPattern string, recursive bool) ([]string, error)
	GetFileSystemEntries(path, searchPattern string, recursive bool) ([]string, error)

	GetFileInfo(path string) (FileInfo, error)
	GetDirectoryInfo(path string) (FileInfo, error)
	GetFileSystemInfo(path string) (FileInfo, error)

	GetFileLength(path string) (int64, error)

	// Dispose releases the directory cache, flushes pending writes (if any),
	// and closes owned child streams. Double-dispose is a no-op.
	Dispose() error
}
