package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func counterJob(name string, interval time.Duration, n *atomic.Int64) Job {
	return Job{Name: name, Interval: interval, Run: func(context.Context) { n.Add(1) }}
}

func TestNew_InvalidArgs(t *testing.T) {
	t.Parallel()

	noop := func(context.Context) {}
	cases := map[string][]Job{
		"no jobs":              nil,
		"interval must be > 0": {{Name: "a", Interval: 0, Run: noop}},
		"run must not be nil":  {{Name: "a", Interval: time.Second}},
		"name required":        {{Interval: time.Second, Run: noop}},
		"duplicate names": {
			{Name: "a", Interval: time.Second, Run: noop},
			{Name: "a", Interval: time.Minute, Run: noop},
		},
	}

	for name, jobs := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := New(jobs...)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if s != nil {
				t.Fatalf("expected nil scheduler, got %#v", s)
			}
		})
	}
}

func TestScheduler_RunsEveryJobAndReportsStatus(t *testing.T) {
	var drains, purges atomic.Int64

	s, err := New(
		counterJob("drain", 10*time.Millisecond, &drains),
		counterJob("purge", time.Hour, &purges),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	st := s.Status()
	if st.Running || len(st.Jobs) != 2 || st.Jobs[0].LastRunAt != nil {
		t.Fatalf("unexpected initial status: %+v", st)
	}

	if ok := s.Start(); !ok {
		t.Fatalf("expected Start() true")
	}
	waitForAtLeast(t, &drains, 3, 750*time.Millisecond)
	waitForAtLeast(t, &purges, 1, 500*time.Millisecond)
	s.Stop()

	st = s.Status()
	if st.Running {
		t.Fatalf("expected stopped status")
	}
	if st.Jobs[0].Name != "drain" || st.Jobs[0].Runs < 3 || st.Jobs[0].LastRunAt == nil {
		t.Fatalf("unexpected drain status: %+v", st.Jobs[0])
	}
	// hourly job only gets the run that happens on Start
	if st.Jobs[1].Runs != 1 || st.Jobs[1].Interval != "1h0m0s" {
		t.Fatalf("unexpected purge status: %+v", st.Jobs[1])
	}
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	var runs atomic.Int64

	s, err := New(counterJob("drain", 10*time.Millisecond, &runs))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if s.IsRunning() {
		t.Fatalf("expected scheduler idle before Start")
	}

	for round := 0; round < 3; round++ {
		runs.Store(0)

		if !s.Start() {
			t.Fatalf("round %d: expected Start() true", round)
		}
		if s.Start() {
			t.Fatalf("round %d: second Start() should report already running", round)
		}
		if !s.IsRunning() {
			t.Fatalf("round %d: expected running", round)
		}

		waitForAtLeast(t, &runs, 2, 750*time.Millisecond)

		if !s.Stop() {
			t.Fatalf("round %d: expected Stop() true", round)
		}
		if s.Stop() {
			t.Fatalf("round %d: second Stop() should report already stopped", round)
		}

		stopped := runs.Load()
		time.Sleep(60 * time.Millisecond)
		if got := runs.Load(); got != stopped {
			t.Fatalf("round %d: job ran after Stop (%d -> %d)", round, stopped, got)
		}
	}
}

func TestScheduler_RunsOnStartWithoutWaitingForInterval(t *testing.T) {
	var runs atomic.Int64

	s, err := New(counterJob("purge", 10*time.Second, &runs))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	waitForAtLeast(t, &runs, 1, 500*time.Millisecond)
}

func TestScheduler_RecoversFromPanickingJob(t *testing.T) {
	var runs atomic.Int64
	var blewUp atomic.Bool

	s, err := New(
		Job{Name: "flaky", Interval: 10 * time.Millisecond, Run: func(context.Context) {
			if blewUp.CompareAndSwap(false, true) {
				panic("boom")
			}
			runs.Add(1)
		}},
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	waitForAtLeast(t, &runs, 1, 750*time.Millisecond)
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	var (
		mu  sync.Mutex
		got context.Context
	)
	seen := make(chan struct{})

	s, err := New(Job{Name: "drain", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) {
		mu.Lock()
		defer mu.Unlock()
		if got == nil {
			got = ctx
			close(seen)
		}
	}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	s.Start()

	select {
	case <-seen:
	case <-time.After(500 * time.Millisecond):
		s.Stop()
		t.Fatalf("job never ran")
	}

	s.Stop()

	mu.Lock()
	ctx := got
	mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected job context to be canceled after Stop()")
	}
}

// waitForAtLeast polls until the counter reaches n or fails after timeout.
func waitForAtLeast(t *testing.T, calls *atomic.Int64, n int64, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for calls >= %d (got %d)", n, calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
