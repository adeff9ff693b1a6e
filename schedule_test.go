package steward

import (
	"testing"
	"time"
)

func mustNextRun(t *testing.T, s Schedule, after time.Time) time.Time {
	t.Helper()
	next, err := s.NextRun(after, time.UTC)
	if err != nil {
		t.Fatalf("NextRun(%s) error = %v", s.Describe(), err)
	}
	return next
}

func TestNextRunDaily(t *testing.T) {
	s := Schedule{Kind: ScheduleDaily, TimeOfDay: "09:00"}
	morning := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	if got := mustNextRun(t, s, morning); !got.Equal(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("before fire time: %v, want same day 09:00", got)
	}
	evening := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	if got := mustNextRun(t, s, evening); !got.Equal(time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("after fire time: %v, want next day 09:00", got)
	}
	// Exactly at the fire time: the next occurrence is tomorrow.
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if got := mustNextRun(t, s, at); !got.Equal(time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("at fire time: %v, want next day", got)
	}
}

func TestNextRunWeekly(t *testing.T) {
	s := Schedule{Kind: ScheduleWeekly, TimeOfDay: "08:30", Weekday: time.Monday}
	// 2026-03-10 is a Tuesday.
	tuesday := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 16, 8, 30, 0, 0, time.UTC)
	if got := mustNextRun(t, s, tuesday); !got.Equal(want) {
		t.Errorf("NextRun = %v, want next Monday %v", got, want)
	}
	// Monday before the fire time fires the same day.
	monday := time.Date(2026, 3, 16, 7, 0, 0, 0, time.UTC)
	if got := mustNextRun(t, s, monday); !got.Equal(want) {
		t.Errorf("NextRun = %v, want same Monday %v", got, want)
	}
}

func TestNextRunMonthlyClampsShortMonths(t *testing.T) {
	s := Schedule{Kind: ScheduleMonthly, TimeOfDay: "09:00", DayOfMonth: 31}
	after := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	// 2026 is not a leap year: the 31st clamps to Feb 28.
	want := time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)
	if got := mustNextRun(t, s, after); !got.Equal(want) {
		t.Errorf("NextRun = %v, want clamped %v", got, want)
	}

	midJanuary := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	if got := mustNextRun(t, s, midJanuary); !got.Equal(time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("NextRun = %v, want Jan 31", got)
	}
}

func TestNextRunOnce(t *testing.T) {
	at := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	s := Schedule{Kind: ScheduleOnce, At: at}
	if got := mustNextRun(t, s, at.Add(-time.Hour)); !got.Equal(at) {
		t.Errorf("NextRun = %v, want %v", got, at)
	}
	if got := mustNextRun(t, s, at); !got.IsZero() {
		t.Errorf("spent once-schedule NextRun = %v, want zero", got)
	}
}

func TestNextRunCustom(t *testing.T) {
	s := Schedule{Kind: ScheduleCustom, Every: 90 * time.Minute}
	after := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	if got := mustNextRun(t, s, after); !got.Equal(after.Add(90*time.Minute)) {
		t.Errorf("NextRun = %v, want after+90m", got)
	}
	if _, err := (Schedule{Kind: ScheduleCustom}).NextRun(after, time.UTC); err == nil {
		t.Error("zero custom interval: NextRun = nil error, want error")
	}
}

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in   string
		want Schedule
	}{
		{"09:00 daily", Schedule{Kind: ScheduleDaily, TimeOfDay: "09:00"}},
		{"08:30 weekly(Monday)", Schedule{Kind: ScheduleWeekly, TimeOfDay: "08:30", Weekday: time.Monday}},
		{"10:00 monthly(15)", Schedule{Kind: ScheduleMonthly, TimeOfDay: "10:00", DayOfMonth: 15}},
		{"every 90m", Schedule{Kind: ScheduleCustom, Every: 90 * time.Minute}},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.in)
		if err != nil {
			t.Errorf("ParseSchedule(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSchedule(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}

	once, err := ParseSchedule("2026-01-02 15:04 once")
	if err != nil {
		t.Fatalf("ParseSchedule(once) error = %v", err)
	}
	if once.Kind != ScheduleOnce || !once.At.Equal(time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)) {
		t.Errorf("ParseSchedule(once) = %+v", once)
	}
}

func TestParseScheduleRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"daily",
		"25:00 daily",
		"09:60 daily",
		"09:00 weekly(Funday)",
		"09:00 monthly(32)",
		"09:00 monthly(0)",
		"every soon",
		"09:00 yearly",
	}
	for _, in := range bad {
		if _, err := ParseSchedule(in); err == nil {
			t.Errorf("ParseSchedule(%q) = nil error, want failure", in)
		}
	}
}

func TestScheduleDescribeRoundTrip(t *testing.T) {
	for _, in := range []string{"09:00 daily", "08:30 weekly(Monday)", "10:00 monthly(15)"} {
		s, err := ParseSchedule(in)
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error = %v", in, err)
		}
		if got := s.Describe(); got != in {
			t.Errorf("Describe() = %q, want %q", got, in)
		}
	}
}
