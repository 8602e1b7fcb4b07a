// Package schedule turns plan delays into absolute dispatch times.
package schedule

import (
	"fmt"
	"time"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/plan"
)

// Calculator computes dispatch timestamps relative to Now.
type Calculator struct {
	Now func() time.Time
}

func NewCalculator() *Calculator {
	return &Calculator{Now: time.Now}
}

func (c *Calculator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// CalculateScheduleTime adds the ISO-8601 delay to now and pushes the result
// out of the quiet-hours window of timezone, if any. The result is UTC.
func (c *Calculator) CalculateScheduleTime(delay, timezone string, qh *model.QuietHours) (time.Time, error) {
	d, err := plan.ParseDuration(delay)
	if err != nil {
		return time.Time{}, err
	}
	return c.adjust(c.now().Add(d), timezone, qh)
}

// ScheduleFor resolves a send node schedule. An absolute time in the past
// means "now".
func (c *Calculator) ScheduleFor(s model.Schedule, timezone string, qh *model.QuietHours) (time.Time, error) {
	if s.At == nil {
		return c.CalculateScheduleTime(s.Delay, timezone, qh)
	}
	at := *s.At
	if now := c.now(); at.Before(now) {
		at = now
	}
	return c.adjust(at, timezone, qh)
}

func (c *Calculator) adjust(t time.Time, timezone string, qh *model.QuietHours) (time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	adjusted, err := AdjustForQuietHours(t, loc, qh)
	if err != nil {
		return time.Time{}, err
	}
	return adjusted.UTC(), nil
}

// LoadLocation resolves an IANA name; empty means UTC.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}
	return loc, nil
}

// AdjustForQuietHours moves t to the end of the [start,end) local window
// when t falls inside it. Windows with start > end wrap midnight; start ==
// end is an empty window.
func AdjustForQuietHours(t time.Time, loc *time.Location, qh *model.QuietHours) (time.Time, error) {
	if qh == nil {
		return t, nil
	}
	start, err := parseClock(qh.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("quiet hours start: %w", err)
	}
	end, err := parseClock(qh.End)
	if err != nil {
		return time.Time{}, fmt.Errorf("quiet hours end: %w", err)
	}
	if start == end {
		return t, nil
	}

	local := t.In(loc)
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())

	dayOffset := 0
	switch {
	case start < end:
		if sinceMidnight < start || sinceMidnight >= end {
			return t, nil
		}
	default:
		if sinceMidnight >= start {
			dayOffset = 1
		} else if sinceMidnight >= end {
			return t, nil
		}
	}

	y, m, d := local.Date()
	endHour, endMin := int(end/time.Hour), int((end%time.Hour)/time.Minute)
	return time.Date(y, m, d+dayOffset, endHour, endMin, 0, 0, loc), nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
