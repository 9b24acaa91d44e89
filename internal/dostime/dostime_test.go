package dostime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dargueta/imagefs/internal/dostime"
)

func TestDateFromWord(t *testing.T) {
	// 0x50FC = 2020-07-28 per spec.md's own worked example in §4.9.
	year, month, day := dostime.DateFromWord(0x50FC)
	assert.Equal(t, 2020, year)
	assert.Equal(t, time.July, month)
	assert.Equal(t, 28, day)
}

func TestToTimeAndFromTimeRoundTrip(t *testing.T) {
	original := time.Date(2023, time.March, 14, 9, 26, 54, 0, time.UTC)
	date, clock, tenths := dostime.FromTime(original)
	decoded := dostime.ToTime(date, clock, tenths, time.UTC)
	assert.Equal(t, original, decoded)
}

func TestNTFSTicksRoundTrip(t *testing.T) {
	original := time.Date(2021, time.November, 5, 12, 0, 0, 0, time.UTC)
	ticks := dostime.TicksFromNTFSTime(original)
	decoded := dostime.NTFSTimeFromTicks(ticks)
	assert.True(t, original.Equal(decoded))
}

func TestNTFSEpoch(t *testing.T) {
	decoded := dostime.NTFSTimeFromTicks(0)
	assert.Equal(t, time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC), decoded)
}
