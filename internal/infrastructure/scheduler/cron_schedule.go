package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronSchedule runs a job on a standard five-field cron expression. The
// descriptors @hourly, @daily and "@every <duration>" are accepted too.
type CronSchedule struct {
	expr     string
	schedule cron.Schedule
	location *time.Location
}

// ParseCronSchedule parses expr, evaluating it in loc (UTC when nil).
func ParseCronSchedule(expr string, loc *time.Location) (*CronSchedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty cron expression", ErrInvalidSchedule)
	}
	if loc == nil {
		loc = time.UTC
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}

	return &CronSchedule{expr: expr, schedule: schedule, location: loc}, nil
}

// Next returns the first activation strictly after t.
func (s *CronSchedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// String returns the original expression.
func (s *CronSchedule) String() string {
	return s.expr
}

// ScheduleFor returns the cron schedule when expr is set and the interval
// schedule otherwise.
func ScheduleFor(expr string, interval time.Duration, loc *time.Location) (Schedule, error) {
	if strings.TrimSpace(expr) != "" {
		cs, err := ParseCronSchedule(expr, loc)
		if err != nil {
			return nil, err
		}
		return cs, nil
	}
	is, err := NewIntervalSchedule(interval)
	if err != nil {
		return nil, err
	}
	return is, nil
}
