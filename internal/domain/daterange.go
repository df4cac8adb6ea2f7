package domain

import "time"

const DateLayout = "2006-01-02"

// MaxNights bounds a single stay.
const MaxNights = 365

// DateRange is a half-open [CheckIn, CheckOut) span of calendar days.
type DateRange struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// Day truncates t to midnight of its calendar date in UTC, whatever zone t
// is expressed in.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func NewDateRange(checkIn, checkOut time.Time) DateRange {
	return DateRange{CheckIn: Day(checkIn), CheckOut: Day(checkOut)}
}

// ParseDateRange parses two YYYY-MM-DD dates.
func ParseDateRange(checkIn, checkOut string) (DateRange, error) {
	verr := &ValidationError{}
	in, err := time.Parse(DateLayout, checkIn)
	if err != nil {
		verr.add("check_in", "must be a date in YYYY-MM-DD form")
	}
	out, err := time.Parse(DateLayout, checkOut)
	if err != nil {
		verr.add("check_out", "must be a date in YYYY-MM-DD form")
	}
	if err := verr.orNil(); err != nil {
		return DateRange{}, err
	}
	return NewDateRange(in, out), nil
}

// Nights counts calendar days without going through time.Duration, which
// saturates after about 292 years.
func (r DateRange) Nights() int {
	return int((Day(r.CheckOut).Unix() - Day(r.CheckIn).Unix()) / 86400)
}

func (r DateRange) Overlaps(o DateRange) bool {
	return r.CheckIn.Before(o.CheckOut) && o.CheckIn.Before(r.CheckOut)
}

// Union returns the smallest range covering both r and o.
func (r DateRange) Union(o DateRange) DateRange {
	u := r
	if o.CheckIn.Before(u.CheckIn) {
		u.CheckIn = o.CheckIn
	}
	if o.CheckOut.After(u.CheckOut) {
		u.CheckOut = o.CheckOut
	}
	return u
}

func (r DateRange) String() string {
	return r.CheckIn.Format(DateLayout) + ".." + r.CheckOut.Format(DateLayout)
}
