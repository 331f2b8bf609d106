// Package system provides the wall clock that stamps collection runs.
package system

import "time"

// Resolution is the precision of run timestamps. It matches TIMESTAMPTZ, so a
// run read back from the ledger equals the one that was written.
const Resolution = time.Microsecond

// Clock implements collector.Clock. Times are UTC, truncated to Resolution,
// and carry no monotonic reading.
type Clock struct {
	now func() time.Time
}

// New returns a Clock backed by time.Now.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current ledger time.
func (c *Clock) Now() time.Time {
	return c.now().UTC().Truncate(Resolution)
}
