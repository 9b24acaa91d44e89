// Package fixtures loads golden-image test manifests: small CSV files
// describing the expected directory entries of a reference disk image, so
// end-to-end tests (spec.md §8's numbered scenarios) can assert against a
// data table instead of a wall of hardcoded literals.
//
// Grounded on the teacher repo's go.mod dependency on gocarina/gocsv, which
// isn't exercised anywhere in the retrieved snapshot; it's wired in here as
// the test-tooling consumer the teacher never got around to writing.
package fixtures

import (
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
)

// Entry describes one expected directory entry in a golden image manifest.
type Entry struct {
	Path     string `csv:"path"`
	Size     int64  `csv:"size"`
	SHA1Hex  string `csv:"sha1"`
	IsDir    bool   `csv:"is_dir"`
	ShortRef string `csv:"short_name"`
}

// LoadManifest parses a CSV manifest with columns
// path,size,sha1,is_dir,short_name into a slice of Entry. Boolean columns
// accept "true"/"false" or "1"/"0", matching gocsv's default bool unmarshal.
func LoadManifest(r io.Reader) ([]*Entry, error) {
	var entries []*Entry
	if err := gocsv.Unmarshal(r, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// FormatSize is a small helper so test failure messages can render sizes the
// same way the manifest files spell them, keeping diffs easy to read.
func FormatSize(n int64) string {
	return strconv.FormatInt(n, 10)
}
