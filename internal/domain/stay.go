package domain

import (
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// StayRange is a half-open [CheckIn, CheckOut) interval of calendar dates,
// normalised to UTC midnight.
type StayRange struct {
	CheckIn  time.Time
	CheckOut time.Time
}

func NewStayRange(checkIn, checkOut time.Time) (StayRange, error) {
	r := StayRange{CheckIn: DateOf(checkIn), CheckOut: DateOf(checkOut)}
	if !r.CheckIn.Before(r.CheckOut) {
		return StayRange{}, Validationf("check-out must be after check-in")
	}
	return r, nil
}

// ParseStayRange accepts YYYY-MM-DD or RFC3339 values.
func ParseStayRange(checkIn, checkOut string) (StayRange, error) {
	in, err := ParseDate(checkIn)
	if err != nil {
		return StayRange{}, err
	}
	out, err := ParseDate(checkOut)
	if err != nil {
		return StayRange{}, err
	}
	return NewStayRange(in, out)
}

func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	return time.Time{}, Validationf("invalid date %q, expected YYYY-MM-DD", s)
}

// DateOf drops the time of day, keeping the calendar date in UTC.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Overlaps uses half-open semantics: a stay ending on the day another
// begins does not overlap it.
func (r StayRange) Overlaps(o StayRange) bool {
	return r.CheckIn.Before(o.CheckOut) && r.CheckOut.After(o.CheckIn)
}

// StartsBefore reports whether check-in falls on an earlier calendar date
// than now.
func (r StayRange) StartsBefore(now time.Time) bool {
	return r.CheckIn.Before(DateOf(now))
}

func (r StayRange) HoursUntilCheckIn(now time.Time) float64 {
	return r.CheckIn.Sub(now).Hours()
}

func (r StayRange) String() string {
	return r.CheckIn.Format(DateLayout) + ".." + r.CheckOut.Format(DateLayout)
}
