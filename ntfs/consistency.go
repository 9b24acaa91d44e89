package ntfs

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"
)

// CheckConsistency validates the NTFS allocation-closure invariant from
// spec.md §8: the clusters the volume's $Bitmap (record 6) marks in use
// must equal the union of clusters referenced by every non-resident
// attribute run reachable from the metadata files (records 0-15) and from
// walking the directory tree rooted at record 5. It accumulates every
// violation instead of stopping at the first one.
//
// Grounded on fat/consistency.go's reachability-vs-allocation-map shape,
// generalized from a single linked allocation table to a per-attribute run
// list and a record tree instead of a directory/cluster-chain tree.
func (fs *FileSystem) CheckConsistency() error {
	var result *multierror.Error

	reachable := make(map[uint64]bool)
	addRuns := func(record *Record) error {
		attrs, err := record.Attributes()
		if err != nil {
			return fmt.Errorf("record %d: %w", record.Index, err)
		}
		for _, a := range attrs {
			if !a.NonResident {
				continue
			}
			for _, run := range a.Runs {
				if run.Sparse {
					continue
				}
				for i := uint64(0); i < run.Length; i++ {
					reachable[run.LCN+i] = true
				}
			}
		}
		return nil
	}

	for i := uint64(RecordMFT); i <= firstUserRecordIndex-1; i++ {
		record, err := fs.mft.ReadRecord(i)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("metadata record %d: %w", i, err))
			continue
		}
		if !record.IsInUse() {
			continue
		}
		if err := addRuns(record); err != nil {
			result = multierror.Append(result, err)
		}
	}

	visited := make(map[uint64]bool)
	var walk func(record *Record) error
	walk = func(record *Record) error {
		if visited[record.Index] {
			return nil
		}
		visited[record.Index] = true

		if err := addRuns(record); err != nil {
			return err
		}
		if !record.IsDirectory() {
			return nil
		}

		dir := NewDirectory(fs.mft, record)
		children, err := dir.List()
		if err != nil {
			return fmt.Errorf("directory record %d: %w", record.Index, err)
		}
		for _, c := range children {
			childRecord, err := fs.mft.ReadRecord(c.Reference.Index)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("record %d: %w", c.Reference.Index, err))
				continue
			}
			if err := walk(childRecord); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return nil
	}

	rootRecord, err := fs.mft.ReadRecord(RecordRootDirectory)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("root directory record: %w", err))
	} else if err := walk(rootRecord); err != nil {
		result = multierror.Append(result, err)
	}

	bitmapRecord, err := fs.mft.ReadRecord(RecordBitmap)
	if err != nil {
		return multierror.Append(result, fmt.Errorf("$Bitmap record: %w", err)).ErrorOrNil()
	}
	bitmapAttr, err := findDataAttribute(bitmapRecord, "")
	if err != nil {
		return multierror.Append(result, fmt.Errorf("$Bitmap has no $DATA attribute: %w", err)).ErrorOrNil()
	}

	bitmapStream := NewAttributeStream(fs.reader, bitmapAttr)
	bitmapData := make([]byte, bitmapStream.Size())
	if _, err := readFull(bitmapStream, bitmapData); err != nil {
		return multierror.Append(result, fmt.Errorf("reading $Bitmap: %w", err)).ErrorOrNil()
	}

	bmap := bitmap.Bitmap(bitmapData)
	totalClusters := fs.bs.TotalSectors * uint64(fs.bs.BytesPerSector) / uint64(fs.bs.BytesPerCluster)
	for c := uint64(0); c < totalClusters; c++ {
		if c/8 >= uint64(len(bitmapData)) {
			break
		}
		allocated := bmap.Get(int(c))
		if allocated && !reachable[c] {
			result = multierror.Append(result, fmt.Errorf("cluster %d is marked allocated in $Bitmap but unreachable from any file record", c))
		}
		if !allocated && reachable[c] {
			result = multierror.Append(result, fmt.Errorf("cluster %d is reachable from a file record but marked free in $Bitmap", c))
		}
	}

	return result.ErrorOrNil()
}
