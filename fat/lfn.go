package fat

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// LFN slot layout, per spec.md §6: attr 0x0F, ordinal @0 (0x40 marks the
// last slot in the chain, written first on disk), 13 UTF-16 code units
// split 5/6/2 across bytes 1-10, 14-25, 28-31, and a checksum at byte 13
// matching the short entry it precedes.
const (
	lfnAttribute    = 0x0F
	lfnLastFlag     = 0x40
	lfnOrdinalMask  = 0x3F
	lfnUnitsPerSlot = 13
)

// lfnChecksum computes the 8-bit rotate-right sum of the 11-byte padded
// short name, per spec.md §4.4.
func lfnChecksum(shortName [11]byte) byte {
	var sum byte
	for _, b := range shortName {
		sum = (sum>>1 | sum<<7) + b
	}
	return sum
}

// encodeLFNSlot packs 13 UTF-16 units (padded with 0xFFFF after a trailing
// NUL terminator) into the three split regions of a 32-byte slot.
func encodeLFNSlot(ordinal int, isLast bool, units [lfnUnitsPerSlot]uint16, checksum byte) []byte {
	buf := make([]byte, DirentSize)
	ord := byte(ordinal) & lfnOrdinalMask
	if isLast {
		ord |= lfnLastFlag
	}
	buf[0] = ord
	putUTF16LE(buf[1:11], units[0:5])
	buf[11] = lfnAttribute
	buf[12] = 0 // type, always 0
	buf[13] = checksum
	putUTF16LE(buf[14:26], units[5:11])
	buf[26] = 0
	buf[27] = 0
	putUTF16LE(buf[28:32], units[11:13])
	return buf
}

func putUTF16LE(dst []byte, units []uint16) {
	for i, u := range units {
		dst[i*2] = byte(u)
		dst[i*2+1] = byte(u >> 8)
	}
}

func getUTF16LE(src []byte) []uint16 {
	units := make([]uint16, len(src)/2)
	for i := range units {
		units[i] = uint16(src[i*2]) | uint16(src[i*2+1])<<8
	}
	return units
}

// decodeLFNSlot extracts the ordinal, last-flag, checksum, and 13 raw
// UTF-16 units from one 32-byte LFN slot.
func decodeLFNSlot(slot []byte) (ordinal int, isLast bool, checksum byte, units [lfnUnitsPerSlot]uint16) {
	ordinal = int(slot[0] & lfnOrdinalMask)
	isLast = slot[0]&lfnLastFlag != 0
	checksum = slot[13]

	copy(units[0:5], getUTF16LE(slot[1:11]))
	copy(units[5:11], getUTF16LE(slot[14:26]))
	copy(units[11:13], getUTF16LE(slot[28:32]))
	return
}

// EncodeLFN splits a long display name into the 32-byte LFN slots that
// must precede its short entry, in on-disk order (highest ordinal first).
func EncodeLFN(name string, shortName [11]byte) [][]byte {
	units := utf16.Encode([]rune(name))
	// Terminate with NUL, then pad the remainder of the final slot with
	// 0xFFFF, matching how Windows writes LFN entries.
	units = append(units, 0)

	numSlots := (len(units) + lfnUnitsPerSlot - 1) / lfnUnitsPerSlot
	checksum := lfnChecksum(shortName)

	slots := make([][]byte, numSlots)
	for i := 0; i < numSlots; i++ {
		var slotUnits [lfnUnitsPerSlot]uint16
		for j := range slotUnits {
			slotUnits[j] = 0xFFFF
		}

		start := i * lfnUnitsPerSlot
		end := start + lfnUnitsPerSlot
		if end > len(units) {
			end = len(units)
		}
		copy(slotUnits[:], units[start:end])

		ordinal := i + 1
		isLast := i == numSlots-1
		slots[numSlots-1-i] = encodeLFNSlot(ordinal, isLast, slotUnits, checksum)
	}
	return slots
}

// DecodeLFN reassembles the display name from a run of LFN slots given in
// on-disk order (the order directory.go reads them in, highest ordinal
// first) and verifies every slot's checksum matches the short entry that
// follows. It returns ("", false) if the chain is inconsistent.
func DecodeLFN(slotsHighToLow [][]byte, shortName [11]byte) (string, bool) {
	if len(slotsHighToLow) == 0 {
		return "", false
	}
	expectedChecksum := lfnChecksum(shortName)

	allUnits := make([]uint16, 0, len(slotsHighToLow)*lfnUnitsPerSlot)
	for i := len(slotsHighToLow) - 1; i >= 0; i-- {
		ordinal, isLast, checksum, units := decodeLFNSlot(slotsHighToLow[i])
		if checksum != expectedChecksum {
			return "", false
		}
		wantOrdinal := len(slotsHighToLow) - i
		if ordinal != wantOrdinal {
			return "", false
		}
		if isLast != (i == 0) {
			return "", false
		}
		allUnits = append(allUnits, units[:]...)
	}

	// Trim at the NUL terminator, then decode.
	for i, u := range allUnits {
		if u == 0 {
			allUnits = allUnits[:i]
			break
		}
	}
	runes := utf16.Decode(allUnits)
	return string(runes), true
}

const shortNameValidChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&'()-@^_`{}~"

func isValidShortNameChar(r rune) bool {
	return strings.ContainsRune(shortNameValidChars, r)
}

// NeedsLFN reports whether name cannot be represented exactly as an 8.3
// short name (wrong case, too long, contains characters outside the
// short-name alphabet, or more than one dot).
func NeedsLFN(name string) bool {
	base, ext, ok := splitBaseExt(name)
	if !ok {
		return true
	}
	if len(base) > 8 || len(ext) > 3 {
		return true
	}
	upper := strings.ToUpper(name)
	if upper != name {
		return true
	}
	for _, r := range base + ext {
		if !isValidShortNameChar(r) {
			return true
		}
	}
	return false
}

// splitBaseExt splits a display name into base and extension on the last
// dot. ok is false if the name has more than one dot.
func splitBaseExt(name string) (base, ext string, ok bool) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return name, "", true
	}
	if strings.IndexByte(name, '.') != idx {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// GenerateShortName implements the standard numeric-tail algorithm
// (spec.md §4.4): uppercase ASCII subset, strip invalid characters,
// truncate the base to 6 characters, append "~N" for the lowest unused N,
// and keep up to 3 extension characters. exists reports whether a
// candidate 11-byte short name collides with an existing entry in the
// directory.
func GenerateShortName(longName string, exists func([11]byte) bool) [11]byte {
	base, ext, ok := splitBaseExt(longName)
	if !ok {
		base, ext = longName, ""
	}

	cleanBase := cleanShortNameComponent(base, 8)
	cleanExt := cleanShortNameComponent(ext, 3)

	if len(cleanBase) <= 8 && !NeedsLFN(longName) {
		return packShortName(cleanBase, cleanExt)
	}

	truncatedBase := cleanBase
	if len(truncatedBase) > 6 {
		truncatedBase = truncatedBase[:6]
	}

	for n := 1; n <= 999999; n++ {
		tail := numericTail(n)
		candidateBase := truncatedBase
		maxBaseLen := 8 - len(tail)
		if len(candidateBase) > maxBaseLen {
			candidateBase = candidateBase[:maxBaseLen]
		}
		candidate := packShortName(candidateBase+tail, cleanExt)
		if !exists(candidate) {
			return candidate
		}
	}
	// Astronomically unlikely: every ~1..~999999 tail collides.
	return packShortName(truncatedBase, cleanExt)
}

func numericTail(n int) string {
	return "~" + strconv.Itoa(n)
}

func cleanShortNameComponent(s string, maxLen int) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, " ", "")
	var b strings.Builder
	for _, r := range s {
		if isValidShortNameChar(r) {
			b.WriteRune(r)
		} else if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
		if b.Len() >= maxLen {
			break
		}
	}
	return b.String()
}

func packShortName(base, ext string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], base)
	copy(out[8:11], ext)
	return out
}
