package membership

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultWindowSchedule starts a new status window every Wednesday at midnight.
const DefaultWindowSchedule = "0 0 * * WED"

// WindowProvider supplies the window that contains a given instant.
type WindowProvider interface {
	WindowAt(t time.Time) Window
}

// CronWindows derives windows from consecutive activations of a cron
// schedule. A window runs from the latest activation at or before t up to the
// next activation.
type CronWindows struct {
	schedule cron.Schedule
	loc      *time.Location
	// lookback bounds the search for the previous activation.
	lookback time.Duration
}

// NewCronWindows parses a standard five-field cron expression. Descriptors
// such as @weekly are accepted too.
func NewCronWindows(expr string, loc *time.Location) (*CronWindows, error) {
	if expr == "" {
		expr = DefaultWindowSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse window schedule %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronWindows{schedule: schedule, loc: loc, lookback: 366 * 24 * time.Hour}, nil
}

// WindowAt returns the window containing t.
func (c *CronWindows) WindowAt(t time.Time) Window {
	t = t.In(c.loc)

	// Widen the lookback until an activation at or before t shows up, then
	// walk forward to the latest one.
	for back := time.Minute; back <= c.lookback; back *= 2 {
		start := c.schedule.Next(t.Add(-back))
		if start.IsZero() || start.After(t) {
			continue
		}
		for {
			next := c.schedule.Next(start)
			if next.IsZero() || next.After(t) {
				return Window{Start: start, End: next}
			}
			start = next
		}
	}
	return Window{Start: t, End: c.schedule.Next(t)}
}

// Current returns the window containing now.
func (c *CronWindows) Current() Window {
	return c.WindowAt(time.Now())
}
