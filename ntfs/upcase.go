package ntfs

import (
	"encoding/binary"
	"unicode/utf16"
)

// UpcaseTable is NTFS's on-disk case-folding table: one uint16 per UTF-16
// code unit, mapping it to its upper-cased form. Grounded on spec.md §4.7's
// "comparing up-cased names via the $UpCase table" path-resolution rule and
// §4.9's case-insensitivity requirement.
type UpcaseTable struct {
	table []uint16
}

// NewUpcaseTable parses the raw content of record 10's $DATA attribute (a
// flat array of little-endian uint16 entries) into an UpcaseTable.
func NewUpcaseTable(data []byte) *UpcaseTable {
	table := make([]uint16, len(data)/2)
	for i := range table {
		table[i] = binary.LittleEndian.Uint16(data[i*2 : i*2+2])
	}
	return &UpcaseTable{table: table}
}

// FoldUnit up-cases a single UTF-16 code unit, falling back to the
// identity mapping for any unit beyond the table's range.
func (u *UpcaseTable) FoldUnit(unit uint16) uint16 {
	if int(unit) < len(u.table) {
		return u.table[unit]
	}
	return unit
}

// Fold up-cases name the way NTFS collates file names: unit by unit through
// the $UpCase table, not via Go's locale-aware strings.ToUpper.
func (u *UpcaseTable) Fold(name string) string {
	units := utf16.Encode([]rune(name))
	for i, unit := range units {
		units[i] = u.FoldUnit(unit)
	}
	return string(utf16.Decode(units))
}

// Equal reports whether a and b collate to the same up-cased form.
func (u *UpcaseTable) Equal(a, b string) bool {
	return u.Fold(a) == u.Fold(b)
}
