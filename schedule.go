package steward

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleKind enumerates recurrence shapes for reminders and recurring
// tasks.
type ScheduleKind string

const (
	ScheduleOnce    ScheduleKind = "once"
	ScheduleDaily   ScheduleKind = "daily"
	ScheduleWeekly  ScheduleKind = "weekly"
	ScheduleMonthly ScheduleKind = "monthly"
	ScheduleCustom  ScheduleKind = "custom"
)

// Schedule describes when something fires. TimeOfDay is "HH:MM" in the
// schedule's location; At is used only for ScheduleOnce; Every only for
// ScheduleCustom.
type Schedule struct {
	Kind       ScheduleKind  `json:"kind"`
	At         time.Time     `json:"at,omitzero"`
	TimeOfDay  string        `json:"time_of_day,omitempty"`
	Weekday    time.Weekday  `json:"weekday,omitempty"`
	DayOfMonth int           `json:"day_of_month,omitempty"`
	Every      time.Duration `json:"every,omitempty"`
}

// Describe renders the schedule for display and logs.
func (s Schedule) Describe() string {
	switch s.Kind {
	case ScheduleOnce:
		return s.At.Format("2006-01-02 15:04") + " once"
	case ScheduleDaily:
		return s.TimeOfDay + " daily"
	case ScheduleWeekly:
		return fmt.Sprintf("%s weekly(%s)", s.TimeOfDay, s.Weekday)
	case ScheduleMonthly:
		return fmt.Sprintf("%s monthly(%d)", s.TimeOfDay, s.DayOfMonth)
	case ScheduleCustom:
		return fmt.Sprintf("every %s", s.Every)
	}
	return string(s.Kind)
}

// NextRun computes the first fire time strictly after the given instant, in
// loc. A spent once-schedule and an unknown kind return the zero time.
func (s Schedule) NextRun(after time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	after = after.In(loc)

	switch s.Kind {
	case ScheduleOnce:
		if !s.At.After(after) {
			return time.Time{}, nil
		}
		return s.At.In(loc), nil

	case ScheduleCustom:
		if s.Every <= 0 {
			return time.Time{}, fmt.Errorf("schedule: custom interval must be positive")
		}
		return after.Add(s.Every), nil

	case ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
		hh, mm, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		switch s.Kind {
		case ScheduleDaily:
			next := time.Date(after.Year(), after.Month(), after.Day(), hh, mm, 0, 0, loc)
			if !next.After(after) {
				next = next.AddDate(0, 0, 1)
			}
			return next, nil
		case ScheduleWeekly:
			next := time.Date(after.Year(), after.Month(), after.Day(), hh, mm, 0, 0, loc)
			days := (int(s.Weekday) - int(next.Weekday()) + 7) % 7
			next = next.AddDate(0, 0, days)
			if !next.After(after) {
				next = next.AddDate(0, 0, 7)
			}
			return next, nil
		default: // monthly
			if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
				return time.Time{}, fmt.Errorf("schedule: day of month %d out of range", s.DayOfMonth)
			}
			next := monthlyOn(after.Year(), after.Month(), s.DayOfMonth, hh, mm, loc)
			if !next.After(after) {
				cursor := time.Date(after.Year(), after.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
				next = monthlyOn(cursor.Year(), cursor.Month(), s.DayOfMonth, hh, mm, loc)
			}
			return next, nil
		}
	}
	return time.Time{}, fmt.Errorf("schedule: unknown kind %q", s.Kind)
}

// monthlyOn clamps the requested day to the month's length, so "monthly(31)"
// fires on Feb 28/29 rather than rolling into March.
func monthlyOn(year int, month time.Month, day, hh, mm int, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, hh, mm, 0, 0, loc)
}

// ParseSchedule parses the compact schedule strings carried on recurring
// tasks: "09:00 daily", "08:30 weekly(Monday)", "10:00 monthly(15)",
// "2026-01-02 15:04 once", "every 90m".
func ParseSchedule(s string) (Schedule, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "every "); ok {
		every, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule: bad interval %q", rest)
		}
		return Schedule{Kind: ScheduleCustom, Every: every}, nil
	}
	if rest, ok := strings.CutSuffix(s, " once"); ok {
		at, err := time.Parse("2006-01-02 15:04", rest)
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule: bad once time %q", rest)
		}
		return Schedule{Kind: ScheduleOnce, At: at}, nil
	}

	tod, rest, ok := strings.Cut(s, " ")
	if !ok {
		return Schedule{}, fmt.Errorf("schedule: unparseable %q", s)
	}
	if _, _, err := parseTimeOfDay(tod); err != nil {
		return Schedule{}, err
	}
	switch {
	case rest == "daily":
		return Schedule{Kind: ScheduleDaily, TimeOfDay: tod}, nil
	case strings.HasPrefix(rest, "weekly(") && strings.HasSuffix(rest, ")"):
		day, err := parseWeekday(rest[len("weekly(") : len(rest)-1])
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Kind: ScheduleWeekly, TimeOfDay: tod, Weekday: day}, nil
	case strings.HasPrefix(rest, "monthly(") && strings.HasSuffix(rest, ")"):
		var dom int
		if _, err := fmt.Sscanf(rest[len("monthly("):len(rest)-1], "%d", &dom); err != nil || dom < 1 || dom > 31 {
			return Schedule{}, fmt.Errorf("schedule: bad day of month in %q", rest)
		}
		return Schedule{Kind: ScheduleMonthly, TimeOfDay: tod, DayOfMonth: dom}, nil
	}
	return Schedule{}, fmt.Errorf("schedule: unparseable %q", s)
}

func parseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("schedule: unknown weekday %q", name)
}

func parseTimeOfDay(s string) (int, int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, 0, fmt.Errorf("schedule: bad time of day %q", s)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("schedule: time of day %q out of range", s)
	}
	return hh, mm, nil
}
