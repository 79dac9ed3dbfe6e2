package service

import (
	"fmt"
	"strings"
	"time"

	"campaign-tracker/models"
)

// DefaultScheduleLayouts are the day-first layouts accepted in the schedule column.
var DefaultScheduleLayouts = []string{
	"02/01/2006 15:04:05",
	"02-01-2006 15:04:05",
}

// ParseSchedule reads a schedule cell as wall-clock time in loc, trying the
// default layouts and then extra.
func ParseSchedule(raw string, loc *time.Location, extra ...string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", models.ErrInvalidSchedule)
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range DefaultScheduleLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	for _, layout := range extra {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", models.ErrInvalidSchedule, s)
}
