package bulkfetch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Period identifies one month of data.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod returns the period for the given year and month.
func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// ParsePeriod parses "YYYY-MM" (or "YYYY-M").
func ParsePeriod(s string) (Period, error) {
	year, month, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Period{}, eris.Errorf("period: %q is not YYYY-MM", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return Period{}, eris.Wrapf(err, "period: parse year in %q", s)
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return Period{}, eris.Wrapf(err, "period: parse month in %q", s)
	}
	p := Period{Year: y, Month: time.Month(m)}
	if !p.Valid() {
		return Period{}, eris.Errorf("period: %q out of range", s)
	}
	return p, nil
}

// Valid reports whether the month is 1..12 and the year is positive.
func (p Period) Valid() bool {
	return p.Year >= 1 && p.Month >= time.January && p.Month <= time.December
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Compare returns -1, 0 or +1 as p is before, equal to, or after o.
func (p Period) Compare(o Period) int {
	switch {
	case p.Year < o.Year:
		return -1
	case p.Year > o.Year:
		return 1
	case p.Month < o.Month:
		return -1
	case p.Month > o.Month:
		return 1
	default:
		return 0
	}
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool {
	return p.Compare(o) < 0
}

// Next returns the following calendar month.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// MonthsBetween counts the months in the inclusive range [start, end].
// It returns 0 when end is before start.
func MonthsBetween(start, end Period) int {
	n := (end.Year-start.Year)*12 + int(end.Month-start.Month) + 1
	if n < 0 {
		return 0
	}
	return n
}

// MarshalText implements encoding.TextMarshaler.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
