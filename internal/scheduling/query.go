package scheduling

import (
	"fmt"
	"math"
	"time"
)

const (
	MinDurationMinutes = 30
	MaxDurationMinutes = 12 * 60

	dayStartHour = 7
	dayEndHour   = 19
)

// Window is a half-open time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether neither bound is set.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// DayWindow returns the 07:00-19:00 search window of the given date in loc.
func DayWindow(date time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.In(loc).Date()
	return Window{
		Start: time.Date(y, m, d, dayStartHour, 0, 0, 0, loc),
		End:   time.Date(y, m, d, dayEndHour, 0, 0, 0, loc),
	}
}

// ParseDay parses a YYYY-MM-DD date in loc.
func ParseDay(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduling: invalid date %q: %w", value, err)
	}
	return day, nil
}

// ClampDuration bounds a duration in minutes to [30, 720].
func ClampDuration(minutes int) int {
	if minutes < MinDurationMinutes {
		return MinDurationMinutes
	}
	if minutes > MaxDurationMinutes {
		return MaxDurationMinutes
	}
	return minutes
}

// DurationFromHours converts the hour input of step one to clamped minutes.
func DurationFromHours(hours float64) int {
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		return MinDurationMinutes
	}
	return ClampDuration(int(math.Round(hours * 60)))
}

// SlotQuery asks for open windows inside Window for a procedure of
// DurationMinutes in CenterID. RoomID and ProfessionalID narrow the search
// when non-zero.
type SlotQuery struct {
	Window          Window `json:"window"`
	DurationMinutes int    `json:"duration_minutes"`
	CenterID        int64  `json:"center_id"`
	RoomID          int64  `json:"room_id,omitempty"`
	ProfessionalID  int64  `json:"professional_id,omitempty"`
}

// Normalize clamps the duration and fills an empty window with the
// default day window of day.
func (q SlotQuery) Normalize(day time.Time, loc *time.Location) SlotQuery {
	q.DurationMinutes = ClampDuration(q.DurationMinutes)
	if q.Window.IsZero() {
		q.Window = DayWindow(day, loc)
	}
	return q
}

// Duration returns the procedure duration.
func (q SlotQuery) Duration() time.Duration {
	return time.Duration(q.DurationMinutes) * time.Minute
}
