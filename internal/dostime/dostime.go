// Package dostime converts between Go's time.Time and the two on-disk time
// encodings this repository has to deal with: the FAT/DOS 16-bit date/time
// pair (2-second resolution, 1980 epoch) and NTFS's 64-bit 100-nanosecond
// tick count since 1601-01-01 UTC.
//
// Grounded on the teacher repo's drivers/fat/dirent.go (DateFromInt,
// TimestampFromParts), generalized per spec.md §4.9's exact bit layout.
package dostime

import "time"

// DateFromWord decodes a FAT date word: year = 1980 + bits15..9, month =
// bits8..5, day = bits4..0.
func DateFromWord(date uint16) (year int, month time.Month, day int) {
	day = int(date & 0x001f)
	month = time.Month((date >> 5) & 0x000f)
	year = 1980 + int(date>>9)
	return
}

// TimeFromWord decodes a FAT time word: hour = bits15..11, minute =
// bits10..5, second = 2*bits4..0.
func TimeFromWord(t uint16) (hour, minute, second int) {
	second = int(t&0x001f) * 2
	minute = int((t >> 5) & 0x003f)
	hour = int(t >> 11)
	return
}

// ToTime combines a FAT date word, an optional time word, and an optional
// tenths-of-a-second field (only present on CreatedTime) into a time.Time
// in the given location. timePart and tenths may be 0 when the source field
// doesn't carry a time component (e.g. LastAccessDate is date-only).
func ToTime(datePart, timePart uint16, tenths uint8, loc *time.Location) time.Time {
	year, month, day := DateFromWord(datePart)
	hour, minute, second := TimeFromWord(timePart)

	nanoseconds := 0
	if tenths >= 100 {
		// The tenths field encodes up to 199, split across a leap second
		// boundary: values 100-199 mean "add one second, then this many
		// hundredths past it" per the FAT spec's handling of CreateTimeTenth.
		second++
		tenths -= 100
	}
	nanoseconds = int(tenths) * 10_000_000

	return time.Date(year, month, day, hour, minute, second, nanoseconds, loc)
}

// FromTime encodes a time.Time into a FAT date word, time word, and tenths
// field. The tenths field is always in [0, 199]; callers that don't need
// sub-second resolution (LastAccessDate, LastModified) should discard it.
func FromTime(t time.Time) (date uint16, clock uint16, tenths uint8) {
	year := t.Year()
	if year < 1980 {
		year = 1980
	}

	date = uint16((year-1980)<<9) | uint16(int(t.Month())<<5) | uint16(t.Day())
	clock = uint16(t.Hour()<<11) | uint16(t.Minute()<<5) | uint16(t.Second()/2)

	tenths = uint8((t.Second() % 2) * 100)
	tenths += uint8(t.Nanosecond() / 10_000_000)
	return
}

// ntfsEpoch is 1601-01-01 00:00:00 UTC, the zero point for NTFS's 100ns tick
// timestamps.
var ntfsEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

// nt100nsPerSecond is the number of 100-nanosecond intervals in one second.
const nt100nsPerSecond = 10_000_000

// NTFSTimeFromTicks converts a raw $STANDARD_INFORMATION/$FILE_NAME
// timestamp (100ns ticks since 1601-01-01 UTC) into a time.Time.
func NTFSTimeFromTicks(ticks uint64) time.Time {
	seconds := int64(ticks / nt100nsPerSecond)
	remainderTicks := int64(ticks % nt100nsPerSecond)
	return time.Unix(ntfsEpoch.Unix()+seconds, remainderTicks*100).UTC()
}

// TicksFromNTFSTime is the inverse of NTFSTimeFromTicks; it is provided for
// completeness and test round-tripping even though the NTFS reader here
// never writes timestamps back.
func TicksFromNTFSTime(t time.Time) uint64 {
	seconds := t.Unix() - ntfsEpoch.Unix()
	return uint64(seconds)*nt100nsPerSecond + uint64(t.Nanosecond()/100)
}
