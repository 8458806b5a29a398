package gate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" or a bare hour such as "6".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return 0, fmt.Errorf("empty time of day")
	}

	hourText, minuteText, hasMinutes := strings.Cut(text, ":")
	hour, err := strconv.Atoi(strings.TrimSpace(hourText))
	if err != nil {
		return 0, fmt.Errorf("parse hour in %q: %w", s, err)
	}
	minute := 0
	if hasMinutes {
		minute, err = strconv.Atoi(strings.TrimSpace(minuteText))
		if err != nil {
			return 0, fmt.Errorf("parse minute in %q: %w", s, err)
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// Of returns the time of day of t in t's location.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// QuietHours is a forbidden window. When Start > End the window wraps past midnight.
type QuietHours struct {
	Start TimeOfDay
	End   TimeOfDay
}

// IsQuiet reports whether now falls inside [Start, End).
// A window with Start == End is empty.
func (q QuietHours) IsQuiet(now time.Time) bool {
	t := Of(now)
	if q.Start <= q.End {
		return q.Start <= t && t < q.End
	}
	return t >= q.Start || t < q.End
}
