package ledger

import (
	"time"

	"cloud.google.com/go/civil"
)

// Clock supplies "today" for reads that do not name an as-of date.
type Clock interface {
	Now() time.Time
	Today() civil.Date
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.Location)
}

func (c SystemClock) Today() civil.Date {
	return civil.DateOf(c.Now())
}

// FixedClock always reports the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

func (c FixedClock) Today() civil.Date { return civil.DateOf(c.At) }
