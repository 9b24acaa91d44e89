package imagefs

import "time"

// Clock abstracts the current-time source used to stamp CreatedAt/
// LastModified on mutations, so tests can inject a fixed time instead of
// racing the wall clock. Spec.md §5's "Clock" ambient dependency.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock every engine defaults to outside of tests.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a Clock that always reports the same instant, letting tests
// assert on exact timestamp values instead of a tolerance window.
type FixedClock struct {
	At time.Time
}

// Now returns the fixed instant this clock was constructed with.
func (c FixedClock) Now() time.Time { return c.At }
