package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one periodic task. Run is called once right after Start and then
// every Interval until Stop.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(context.Context)
}

type JobStatus struct {
	Name         string     `json:"name"`
	Interval     string     `json:"interval"`
	Runs         int64      `json:"runs"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
}

type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

type jobState struct {
	Job

	runs atomic.Int64

	mu           sync.Mutex
	lastRunAt    time.Time
	lastDuration time.Duration
}

type Scheduler struct {
	jobs []*jobState

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(jobs ...Job) (*Scheduler, error) {
	if len(jobs) == 0 {
		return nil, errors.New("at least one job is required")
	}

	s := &Scheduler{}
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if j.Name == "" {
			return nil, errors.New("job name must not be empty")
		}
		if _, dup := seen[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		seen[j.Name] = struct{}{}

		if j.Interval <= 0 {
			return nil, fmt.Errorf("job %q: interval must be > 0", j.Name)
		}
		if j.Run == nil {
			return nil, fmt.Errorf("job %q: run func must not be nil", j.Name)
		}
		s.jobs = append(s.jobs, &jobState{Job: j})
	}
	return s, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running.Store(true)

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	s.wg.Wait()
	s.running.Store(false)

	slog.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{Running: s.IsRunning(), Jobs: make([]JobStatus, 0, len(s.jobs))}
	for _, j := range s.jobs {
		js := JobStatus{
			Name:     j.Name,
			Interval: j.Interval.String(),
			Runs:     j.runs.Load(),
		}
		j.mu.Lock()
		if !j.lastRunAt.IsZero() {
			at := j.lastRunAt
			js.LastRunAt = &at
			js.LastDuration = j.lastDuration.String()
		}
		j.mu.Unlock()
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, j *jobState) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	slog.Info("scheduler job started", "job", j.Name, "interval", j.Interval.String())

	s.safeRun(ctx, j)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRun(ctx, j)
		}
	}
}

func (s *Scheduler) safeRun(ctx context.Context, j *jobState) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler job panic recovered", "job", j.Name, "panic", r)
		}

		d := time.Since(start)
		j.mu.Lock()
		j.lastRunAt = start.UTC()
		j.lastDuration = d
		j.mu.Unlock()
		j.runs.Add(1)

		slog.Debug("scheduler job completed", "job", j.Name, "duration_ms", d.Milliseconds())
	}()

	j.Run(ctx)
}
