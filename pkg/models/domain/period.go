package domain

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// Day truncates t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return Day(t), nil
}

// Period is a half-open range of whole UTC days: [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: Day(start), End: Day(end)}
	if !p.End.After(p.Start) {
		return Period{}, fmt.Errorf("period end %s must be after start %s",
			p.End.Format(DateLayout), p.Start.Format(DateLayout))
	}
	return p, nil
}

// SingleDay returns the one-day period containing t.
func SingleDay(t time.Time) Period {
	d := Day(t)
	return Period{Start: d, End: d.AddDate(0, 0, 1)}
}

// Trailing returns the n days ending with (and including) the day of asOf.
func Trailing(asOf time.Time, days int) Period {
	end := Day(asOf).AddDate(0, 0, 1)
	return Period{Start: end.AddDate(0, 0, -days), End: end}
}

// MonthToDate returns [first day of month, day after asOf).
func MonthToDate(asOf time.Time) Period {
	d := Day(asOf)
	return Period{Start: time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC), End: d.AddDate(0, 0, 1)}
}

func DaysInMonth(t time.Time) int {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours() / 24)
}

// Previous returns the period of equal length that ends where p starts.
func (p Period) Previous() Period {
	return Period{Start: p.Start.AddDate(0, 0, -p.Days()), End: p.Start}
}

func (p Period) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(p.Start) && d.Before(p.End)
}

// EachDay calls fn for every day in the period in ascending order.
func (p Period) EachDay(fn func(day time.Time)) {
	for d := p.Start; d.Before(p.End); d = d.AddDate(0, 0, 1) {
		fn(d)
	}
}

func (p Period) String() string {
	return fmt.Sprintf("%s/%s", p.Start.Format(DateLayout), p.End.Format(DateLayout))
}

// Months splits p into calendar-month billing periods, clipped to p.
func (p Period) Months() []Period {
	var out []Period
	for start := p.Start; start.Before(p.End); {
		next := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		if next.After(p.End) {
			next = p.End
		}
		out = append(out, Period{Start: start, End: next})
		start = next
	}
	return out
}
