package core

import (
	"fmt"
	"time"
)

// MonthLayout is the layout of a Month.
const MonthLayout = "2006-01"

// Month is a YYYY-MM bucket used for snapshots and monthly aggregation.
type Month string

// NewMonth returns the Month for year and month.
func NewMonth(year int, month time.Month) Month {
	return Month(fmt.Sprintf("%04d-%02d", year, int(month)))
}

// MonthOf returns the Month in which t occurs in t's location.
func MonthOf(t time.Time) Month {
	return NewMonth(t.Year(), t.Month())
}

// ParseMonth parses a "YYYY-MM" string.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "month", Reason: "expected YYYY-MM"}
	}
	return MonthOf(t), nil
}

func (m Month) String() string {
	return string(m)
}

// Validate accepts the empty month, which storage treats as unset.
func (m Month) Validate() error {
	if m == "" {
		return nil
	}
	_, err := ParseMonth(string(m))
	return err
}

// Time returns the first instant of the month in UTC.
func (m Month) Time() time.Time {
	t, _ := time.Parse(MonthLayout, string(m))
	return t
}

// Prev returns the month before m.
func (m Month) Prev() Month {
	return MonthOf(m.Time().AddDate(0, -1, 0))
}

// Next returns the month after m.
func (m Month) Next() Month {
	return MonthOf(m.Time().AddDate(0, 1, 0))
}
