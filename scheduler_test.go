package steward

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func findStatus(t *testing.T, statuses []JobStatus, name string) JobStatus {
	t.Helper()
	for _, st := range statuses {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("job %q not in status report", name)
	return JobStatus{}
}

func TestSchedulerRunsAndStops(t *testing.T) {
	var runs atomic.Int64
	s := NewScheduler(WithShutdownGrace(time.Second))
	err := s.Register(Job{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Enabled:  true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	s.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	if got := runs.Load(); got < 2 {
		t.Errorf("runs = %d, want at least 2", got)
	}
	st := findStatus(t, s.Status(), "counter")
	if st.Runs < 2 || st.LastError != "" || st.LastRun.IsZero() {
		t.Errorf("status = %+v, want successful runs recorded", st)
	}

	after := runs.Load()
	time.Sleep(40 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job still running after Stop")
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	var inFlight atomic.Int32
	var overlapped atomic.Bool
	s := NewScheduler(WithShutdownGrace(time.Second))
	err := s.Register(Job{
		Name:     "slow",
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Enabled:  true,
		Run: func(context.Context) error {
			if inFlight.Add(1) > 1 {
				overlapped.Store(true)
			}
			defer inFlight.Add(-1)
			time.Sleep(40 * time.Millisecond)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	s.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	if overlapped.Load() {
		t.Error("two runs of the same job overlapped")
	}
}

func TestSchedulerIsolatesFailures(t *testing.T) {
	var healthyRuns atomic.Int64
	s := NewScheduler(WithShutdownGrace(time.Second))
	jobs := []Job{
		{
			Name: "failing", Interval: 10 * time.Millisecond, Enabled: true,
			Run: func(context.Context) error { return errors.New("boom") },
		},
		{
			Name: "panicking", Interval: 10 * time.Millisecond, Enabled: true,
			Run: func(context.Context) error { panic("kaboom") },
		},
		{
			Name: "healthy", Interval: 10 * time.Millisecond, Enabled: true,
			Run: func(context.Context) error { healthyRuns.Add(1); return nil },
		},
	}
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			t.Fatalf("Register(%s) error = %v", job.Name, err)
		}
	}

	s.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	if healthyRuns.Load() < 2 {
		t.Errorf("healthy runs = %d, want at least 2 next to failing jobs", healthyRuns.Load())
	}
	failing := findStatus(t, s.Status(), "failing")
	if failing.Failures < 1 || failing.LastError != "boom" {
		t.Errorf("failing status = %+v, want failures counted", failing)
	}
	panicking := findStatus(t, s.Status(), "panicking")
	if panicking.Failures < 1 || panicking.LastError == "" {
		t.Errorf("panicking status = %+v, want the panic captured as a failure", panicking)
	}
}

func TestSchedulerDisabledJobNeverRuns(t *testing.T) {
	var runs atomic.Int64
	s := NewScheduler(WithShutdownGrace(time.Second))
	err := s.Register(Job{
		Name: "disabled", Interval: 5 * time.Millisecond, Enabled: false,
		Run: func(context.Context) error { runs.Add(1); return nil },
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	s.Stop()

	if runs.Load() != 0 {
		t.Errorf("runs = %d, want 0 for a disabled job", runs.Load())
	}
	st := findStatus(t, s.Status(), "disabled")
	if st.Enabled || st.Runs != 0 {
		t.Errorf("status = %+v, want disabled with zero runs", st)
	}
}

func TestSchedulerRegisterValidation(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) error { return nil }
	cases := []struct {
		name string
		job  Job
	}{
		{"empty name", Job{Interval: time.Second, Run: noop}},
		{"zero interval", Job{Name: "x", Run: noop}},
		{"nil run", Job{Name: "x", Interval: time.Second}},
	}
	for _, tc := range cases {
		if err := s.Register(tc.job); err == nil {
			t.Errorf("Register(%s) = nil, want error", tc.name)
		}
	}
	if err := s.Register(Job{Name: "dup", Interval: time.Second, Run: noop}); err != nil {
		t.Fatalf("Register(dup) error = %v", err)
	}
	if err := s.Register(Job{Name: "dup", Interval: time.Second, Run: noop}); err == nil {
		t.Error("duplicate Register = nil, want error")
	}
}
