package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nikhil/projectdesk/internal/logger"
)

// JobFunc is one run of a periodic job.
type JobFunc func(ctx context.Context, now time.Time) error

type job struct {
	name     string
	interval time.Duration
	run      JobFunc
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
	runCount int
}

// Scheduler runs named jobs on fixed intervals.
type Scheduler struct {
	jobs map[string]*job
	mu   sync.RWMutex
	ctx  context.Context
	stop context.CancelFunc
	log  *logger.Logger
	now  func() time.Time
}

// New initializes a Scheduler. Jobs start running once added.
func New(log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs: make(map[string]*job),
		ctx:  ctx,
		stop: cancel,
		log:  log,
		now:  time.Now,
	}
}

// AddJob starts fn every interval, replacing a job with the same name.
// When immediate is set the first run happens right away.
func (s *Scheduler) AddJob(name string, interval time.Duration, immediate bool, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[name]; ok {
		existing.cancel()
		<-existing.done
	}

	jobCtx, cancel := context.WithCancel(s.ctx)
	j := &job{name: name, interval: interval, run: fn, cancel: cancel, done: make(chan struct{})}
	s.jobs[name] = j

	go s.loop(jobCtx, j, immediate)
	s.log.Info("Scheduled job", "job", name, "interval", interval)
	return nil
}

// RemoveJob stops and forgets a job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	delete(s.jobs, name)
	s.mu.Unlock()

	if ok {
		j.cancel()
		<-j.done
		s.log.Info("Removed job", "job", name)
	}
}

func (s *Scheduler) loop(ctx context.Context, j *job, immediate bool) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	if immediate {
		s.execute(ctx, j)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	if ctx.Err() != nil {
		return
	}
	now := s.now()
	err := j.run(ctx, now)

	j.mu.Lock()
	j.lastRun = now
	j.lastErr = err
	j.runCount++
	j.mu.Unlock()

	if err != nil {
		s.log.Error("Job failed", "job", j.name, "error", err)
		return
	}
	s.log.Debug("Job finished", "job", j.name, "took", time.Since(now))
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.stop()

	s.mu.Lock()
	jobs := s.jobs
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, j := range jobs {
		<-j.done
	}
	s.log.Info("Scheduler stopped")
}

// JobStatus describes one job for status endpoints.
type JobStatus struct {
	Name      string `json:"name"`
	Interval  string `json:"interval"`
	LastRun   int64  `json:"last_run,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Runs      int    `json:"runs"`
}

// Status returns a snapshot of every job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		st := JobStatus{Name: j.name, Interval: j.interval.String(), Runs: j.runCount}
		if !j.lastRun.IsZero() {
			st.LastRun = j.lastRun.Unix()
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()
		out = append(out, st)
	}
	return out
}
