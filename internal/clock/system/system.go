// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock satisfies search.Clock. Timestamps are always UTC so job records
// compare and serialize the same way across storage backends.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
