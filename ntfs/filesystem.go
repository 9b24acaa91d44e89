// Package ntfs implements read-only access to NTFS volumes through the
// shared imagefs.FileSystem façade, mirroring fat.FileSystem's shape but
// built on the Master File Table instead of a linked allocation table.
//
// Grounded on fat/filesystem.go's path-walking and façade-method shape;
// every mutating method here returns errors.ErrUnsupportedOperation per
// spec.md §9's resolved Open Question ("NTFS write path... commits to
// read-only").
package ntfs

import (
	"strings"
	"time"

	"github.com/dargueta/imagefs"
	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/blockio"
	"github.com/dargueta/imagefs/internal/cluster"
)

// MFT addresses arbitrary file records through the Master File Table's own
// non-resident $DATA attribute, bootstrapped per spec.md §4.7's four-step
// sequence.
type MFT struct {
	reader              *cluster.Reader
	bs                  *BootSector
	bytesPerSector      uint
	bytesPerFileRecord  uint
	bytesPerIndexBuffer uint
	stream              *AttributeStream
}

// bootstrapMFT implements spec.md §4.7's bootstrap sequence: read record 0
// directly from the boot sector's MFTCluster, extract its $DATA runs, and
// wrap them in an AttributeStream any other record is addressed through.
func bootstrapMFT(reader *cluster.Reader, bs *BootSector) (*MFT, error) {
	bootstrapBuf, err := readContiguous(reader, cluster.ID(bs.MFTCluster), bs.BytesPerFileRecord)
	if err != nil {
		return nil, err
	}

	record0, err := ParseRecord(bootstrapBuf, RecordMFT, bs.BytesPerSector)
	if err != nil {
		return nil, err
	}
	attrs, err := record0.Attributes()
	if err != nil {
		return nil, err
	}

	var dataAttr *Attribute
	for _, a := range attrs {
		if a.Type == AttrData && a.Name == "" {
			dataAttr = a
			break
		}
	}
	if dataAttr == nil {
		return nil, errors.ErrCorrupt.WithMessage("MFT record 0 has no unnamed $DATA attribute")
	}

	return &MFT{
		reader:              reader,
		bs:                  bs,
		bytesPerSector:      bs.BytesPerSector,
		bytesPerFileRecord:  bs.BytesPerFileRecord,
		bytesPerIndexBuffer: bs.BytesPerIndexBuffer,
		stream:              NewAttributeStream(reader, dataAttr),
	}, nil
}

// readContiguous reads n bytes starting at the given cluster, spanning as
// many whole clusters as needed; used only for the self-referential
// bootstrap read of MFT record 0, before any run list is available.
func readContiguous(reader *cluster.Reader, start cluster.ID, n uint) ([]byte, error) {
	bpc := reader.BytesPerCluster()
	clustersNeeded := (n + bpc - 1) / bpc
	buf := make([]byte, 0, clustersNeeded*bpc)
	for i := uint(0); i < clustersNeeded; i++ {
		data, err := reader.ReadCluster(start + cluster.ID(i))
		if err != nil {
			return nil, err
		}
		buf = append(buf, data...)
	}
	return buf[:n], nil
}

// ReadRecord reads and parses file record index from the MFT stream.
func (m *MFT) ReadRecord(index uint64) (*Record, error) {
	buf := make([]byte, m.bytesPerFileRecord)
	if _, err := m.stream.Seek(int64(index)*int64(m.bytesPerFileRecord), 0); err != nil {
		return nil, err
	}
	if _, err := readFull(m.stream, buf); err != nil {
		return nil, err
	}
	return ParseRecord(buf, index, m.bytesPerSector)
}

// FileSystem implements imagefs.FileSystem over an NTFS image. It is always
// read-only: CanWrite reports false unconditionally.
type FileSystem struct {
	device blockio.Device
	mft    *MFT
	upcase *UpcaseTable
	reader *cluster.Reader
	bs     *BootSector
	cfg    *imagefs.Config
}

// Open parses the boot sector, bootstraps the MFT, and loads the $UpCase
// table (record 10), per spec.md §4.7's bootstrap sequence.
func Open(device blockio.Device, cfg *imagefs.Config) (*FileSystem, error) {
	cfg = cfg.Resolve()

	sectors := blockio.NewSectorCache(device)
	bs, err := ParseBootSector(device)
	if err != nil {
		return nil, err
	}

	reader := cluster.New(sectors, bs.SectorsPerCluster, bs.BytesPerSector, 0, 0)

	mft, err := bootstrapMFT(reader, bs)
	if err != nil {
		return nil, err
	}

	upcaseRecord, err := mft.ReadRecord(RecordUpcase)
	if err != nil {
		return nil, err
	}
	upcaseAttrs, err := upcaseRecord.Attributes()
	if err != nil {
		return nil, err
	}
	var upcaseData []byte
	for _, a := range upcaseAttrs {
		if a.Type == AttrData && a.Name == "" {
			s := NewAttributeStream(reader, a)
			upcaseData = make([]byte, s.Size())
			if _, err := readFull(s, upcaseData); err != nil {
				return nil, err
			}
			break
		}
	}

	return &FileSystem{
		device: device,
		mft:    mft,
		upcase: NewUpcaseTable(upcaseData),
		reader: reader,
		bs:     bs,
		cfg:    cfg,
	}, nil
}

func (fs *FileSystem) Root() string         { return "\\" }
func (fs *FileSystem) FriendlyName() string { return "NTFS" }
func (fs *FileSystem) CanWrite() bool       { return false }

// splitStreamSuffix separates a path's optional ":streamname" alternate
// data stream suffix, per spec.md §4.7's "path:streamname" convention.
func splitStreamSuffix(path string) (base, stream string) {
	idx := strings.LastIndex(path, ":")
	// A path with no ":" has no stream suffix. This engine's paths carry no
	// drive letter or other prefix containing one, so the last ":" is always
	// taken as the stream marker.
	if idx < 0 {
		return path, ""
	}
	return path[:idx], path[idx+1:]
}

func splitPath(path string) []string {
	path = strings.ReplaceAll(path, "/", "\\")
	path = strings.Trim(path, "\\")
	if path == "" {
		return nil
	}
	return strings.Split(path, "\\")
}

// resolve walks path from the root directory record (index 5), returning
// the record of the final component.
func (fs *FileSystem) resolve(path string) (*Record, error) {
	base, _ := splitStreamSuffix(path)
	parts := splitPath(base)

	record, err := fs.mft.ReadRecord(RecordRootDirectory)
	if err != nil {
		return nil, err
	}

	for _, part := range parts {
		if !record.IsDirectory() {
			return nil, errors.ErrNotADirectory.WithMessage(part + " is not a directory")
		}
		dir := NewDirectory(fs.mft, record)
		children, err := dir.List()
		if err != nil {
			return nil, err
		}

		var next *Record
		for _, c := range children {
			if fs.upcase.Equal(c.Name.Name, part) {
				next, err = fs.mft.ReadRecord(c.Reference.Index)
				if err != nil {
					return nil, err
				}
				break
			}
		}
		if next == nil {
			return nil, errors.ErrNotFound.WithMessage("no such file or directory: " + path)
		}
		record = next
	}
	return record, nil
}

// findDataAttribute returns the named $DATA attribute from record (empty
// name for the default stream), per spec.md §4.7's attribute lookup key.
func findDataAttribute(record *Record, name string) (*Attribute, error) {
	attrs, err := record.Attributes()
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Type == AttrData && a.Name == name {
			return a, nil
		}
	}
	return nil, errors.ErrNotFound.WithMessage("no such data stream: " + name)
}

func (fs *FileSystem) standardInformation(record *Record) (*StandardInformation, error) {
	attrs, err := record.Attributes()
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Type == AttrStandardInformation {
			return DecodeStandardInformation(a.Resident)
		}
	}
	return nil, errors.ErrCorrupt.WithMessage("record has no $STANDARD_INFORMATION")
}

func (fs *FileSystem) Exists(path string) bool {
	if len(splitPath(path)) == 0 {
		return true
	}
	_, err := fs.resolve(path)
	return err == nil
}

func (fs *FileSystem) FileExists(path string) bool {
	r, err := fs.resolve(path)
	return err == nil && !r.IsDirectory()
}

func (fs *FileSystem) DirectoryExists(path string) bool {
	if len(splitPath(path)) == 0 {
		return true
	}
	r, err := fs.resolve(path)
	return err == nil && r.IsDirectory()
}

func (fs *FileSystem) GetAttributes(path string) (imagefs.Attr, error) {
	r, err := fs.resolve(path)
	if err != nil {
		return 0, err
	}
	si, err := fs.standardInformation(r)
	if err != nil {
		return 0, err
	}
	return ntfsAttrToImagefs(si.FileAttributes, r.IsDirectory()), nil
}

// ntfsAttrToImagefs maps NTFS's FILE_ATTRIBUTE_* bits onto imagefs.Attr,
// per spec.md §9's "bit-compatible... implementation convenience" note
// (NTFS's own bit values differ from FAT's, so this is a real translation,
// not a reinterpretation).
func ntfsAttrToImagefs(raw uint32, isDir bool) imagefs.Attr {
	var a imagefs.Attr
	if raw&0x0001 != 0 {
		a |= imagefs.AttrReadOnly
	}
	if raw&0x0002 != 0 {
		a |= imagefs.AttrHidden
	}
	if raw&0x0004 != 0 {
		a |= imagefs.AttrSystem
	}
	if raw&0x0020 != 0 {
		a |= imagefs.AttrArchive
	}
	if isDir {
		a |= imagefs.AttrDirectory
	}
	return a
}

func (fs *FileSystem) SetAttributes(string, imagefs.Attr) error {
	return errors.ErrUnsupportedOperation.WithMessage("ntfs file system is read-only")
}

func (fs *FileSystem) getTime(path string, pick func(*StandardInformation) time.Time) (time.Time, error) {
	r, err := fs.resolve(path)
	if err != nil {
		return time.Time{}, err
	}
	si, err := fs.standardInformation(r)
	if err != nil {
		return time.Time{}, err
	}
	return pick(si), nil
}

func (fs *FileSystem) GetCreationTime(path string) (time.Time, error) {
	return fs.getTime(path, (*StandardInformation).CreatedTime)
}
func (fs *FileSystem) GetCreationTimeUtc(path string) (time.Time, error) {
	t, err := fs.GetCreationTime(path)
	return t.UTC(), err
}
func (fs *FileSystem) GetLastAccessTime(path string) (time.Time, error) {
	return fs.getTime(path, (*StandardInformation).LastAccessedTime)
}
func (fs *FileSystem) GetLastAccessTimeUtc(path string) (time.Time, error) {
	t, err := fs.GetLastAccessTime(path)
	return t.UTC(), err
}
func (fs *FileSystem) GetLastWriteTime(path string) (time.Time, error) {
	return fs.getTime(path, (*StandardInformation).LastModifiedTime)
}
func (fs *FileSystem) GetLastWriteTimeUtc(path string) (time.Time, error) {
	t, err := fs.GetLastWriteTime(path)
	return t.UTC(), err
}

func unsupportedSetTime(string, time.Time) error {
	return errors.ErrUnsupportedOperation.WithMessage("ntfs file system is read-only")
}

func (fs *FileSystem) SetCreationTime(path string, t time.Time) error     { return unsupportedSetTime(path, t) }
func (fs *FileSystem) SetCreationTimeUtc(path string, t time.Time) error  { return unsupportedSetTime(path, t) }
func (fs *FileSystem) SetLastAccessTime(path string, t time.Time) error   { return unsupportedSetTime(path, t) }
func (fs *FileSystem) SetLastAccessTimeUtc(path string, t time.Time) error { return unsupportedSetTime(path, t) }
func (fs *FileSystem) SetLastWriteTime(path string, t time.Time) error    { return unsupportedSetTime(path, t) }
func (fs *FileSystem) SetLastWriteTimeUtc(path string, t time.Time) error { return unsupportedSetTime(path, t) }

// ntfsFile adapts an AttributeStream to imagefs.File.
type ntfsFile struct {
	*AttributeStream
}

// OpenFile implements spec.md §4.7's "path:streamname" alternate-data-stream
// convention; only ModeRead is supported.
func (fs *FileSystem) OpenFile(path string, mode imagefs.OpenMode) (imagefs.File, error) {
	if mode.WantsWrite() {
		return nil, errors.ErrUnsupportedOperation.WithMessage("ntfs file system is read-only")
	}

	_, streamName := splitStreamSuffix(path)
	record, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	if record.IsDirectory() {
		return nil, errors.ErrIsADirectory.WithMessage(path + " is a directory")
	}

	attr, err := findDataAttribute(record, streamName)
	if err != nil {
		return nil, err
	}
	return &ntfsFile{AttributeStream: NewAttributeStream(fs.reader, attr)}, nil
}

func (fs *FileSystem) CreateDirectory(string) error { return fs.readOnlyErr() }
func (fs *FileSystem) DeleteFile(string) error      { return fs.readOnlyErr() }
func (fs *FileSystem) DeleteDirectory(string) error { return fs.readOnlyErr() }
func (fs *FileSystem) CopyFile(string, string, bool) error { return fs.readOnlyErr() }
func (fs *FileSystem) MoveFile(string, string, bool) error { return fs.readOnlyErr() }
func (fs *FileSystem) MoveDirectory(string, string) error  { return fs.readOnlyErr() }

func (fs *FileSystem) readOnlyErr() error {
	return errors.ErrUnsupportedOperation.WithMessage("ntfs file system is read-only")
}

func (fs *FileSystem) enumerate(path string, recursive, wantFiles, wantDirs bool) ([]string, error) {
	record, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	if !record.IsDirectory() {
		return nil, errors.ErrNotADirectory.WithMessage(path + " is not a directory")
	}

	var results []string
	var walk func(r *Record, prefix string) error
	walk = func(r *Record, prefix string) error {
		dir := NewDirectory(fs.mft, r)
		children, err := dir.List()
		if err != nil {
			return err
		}
		for _, c := range children {
			full := prefix + "\\" + c.Name.Name
			childRecord, err := fs.mft.ReadRecord(c.Reference.Index)
			if err != nil {
				return err
			}
			if childRecord.IsDirectory() {
				if wantDirs {
					results = append(results, full)
				}
				if recursive {
					if err := walk(childRecord, full); err != nil {
						return err
					}
				}
			} else if wantFiles {
				results = append(results, full)
			}
		}
		return nil
	}

	prefix := "\\" + strings.Join(splitPath(path), "\\")
	if err := walk(record, strings.TrimRight(prefix, "\\")); err != nil {
		return nil, err
	}
	return results, nil
}

// GetFiles/GetDirectories/GetFileSystemEntries ignore searchPattern: the
// NTFS reader here is read-only diagnostic/extraction tooling, not a full
// shell-glob surface; callers needing wildcard filtering can filter the
// returned slice themselves.
func (fs *FileSystem) GetFiles(path, _ string, recursive bool) ([]string, error) {
	return fs.enumerate(path, recursive, true, false)
}
func (fs *FileSystem) GetDirectories(path, _ string, recursive bool) ([]string, error) {
	return fs.enumerate(path, recursive, false, true)
}
func (fs *FileSystem) GetFileSystemEntries(path, _ string, recursive bool) ([]string, error) {
	return fs.enumerate(path, recursive, true, true)
}

func (fs *FileSystem) recordToFileInfo(name string, r *Record) (imagefs.FileInfo, error) {
	si, err := fs.standardInformation(r)
	if err != nil {
		return imagefs.FileInfo{}, err
	}
	attr, err := findDataAttribute(r, "")
	var size int64
	if err == nil {
		size = int64(attr.RealSize)
	}
	return imagefs.FileInfo{
		EntryName:    name,
		SizeBytes:    size,
		Attributes:   ntfsAttrToImagefs(si.FileAttributes, r.IsDirectory()),
		CreatedAt:    si.CreatedTime(),
		LastAccessed: si.LastAccessedTime(),
		LastModified: si.LastModifiedTime(),
		LastChanged:  si.LastChangedTime(),
	}, nil
}

func (fs *FileSystem) GetFileInfo(path string) (imagefs.FileInfo, error) {
	r, err := fs.resolve(path)
	if err != nil {
		return imagefs.FileInfo{}, err
	}
	if r.IsDirectory() {
		return imagefs.FileInfo{}, errors.ErrIsADirectory.WithMessage(path + " is a directory")
	}
	parts := splitPath(path)
	return fs.recordToFileInfo(parts[len(parts)-1], r)
}

func (fs *FileSystem) GetDirectoryInfo(path string) (imagefs.FileInfo, error) {
	if len(splitPath(path)) == 0 {
		return imagefs.FileInfo{EntryName: "\\", Attributes: imagefs.AttrDirectory}, nil
	}
	r, err := fs.resolve(path)
	if err != nil {
		return imagefs.FileInfo{}, err
	}
	if !r.IsDirectory() {
		return imagefs.FileInfo{}, errors.ErrNotADirectory.WithMessage(path + " is not a directory")
	}
	parts := splitPath(path)
	return fs.recordToFileInfo(parts[len(parts)-1], r)
}

func (fs *FileSystem) GetFileSystemInfo(path string) (imagefs.FileInfo, error) {
	if len(splitPath(path)) == 0 {
		return fs.GetDirectoryInfo(path)
	}
	r, err := fs.resolve(path)
	if err != nil {
		return imagefs.FileInfo{}, err
	}
	parts := splitPath(path)
	return fs.recordToFileInfo(parts[len(parts)-1], r)
}

func (fs *FileSystem) GetFileLength(path string) (int64, error) {
	_, streamName := splitStreamSuffix(path)
	r, err := fs.resolve(path)
	if err != nil {
		return 0, err
	}
	attr, err := findDataAttribute(r, streamName)
	if err != nil {
		return 0, err
	}
	return int64(attr.RealSize), nil
}

// Dispose is a no-op: the NTFS reader holds no write-back state to flush.
func (fs *FileSystem) Dispose() error { return nil }
