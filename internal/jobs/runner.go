package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// Config tunes a Runner.
type Config struct {
	// WorkerCount is the number of concurrent workers. Defaults to 1.
	WorkerCount int
	// QueueSize bounds the number of waiting jobs. Defaults to 100.
	QueueSize int
	// StuckAge is how long a job may run before the monitor reports it.
	StuckAge time.Duration
	// StuckCheckInterval is how often the monitor runs. Defaults to 1 minute.
	StuckCheckInterval time.Duration
	// RetainFinished is how many finished jobs keep a queryable status; older
	// ones are evicted. Defaults to 256.
	RetainFinished int
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		WorkerCount:        4,
		QueueSize:          100,
		StuckAge:           10 * time.Minute,
		StuckCheckInterval: time.Minute,
		RetainFinished:     256,
	}
}

type jobState struct {
	kind      string
	status    Status
	startedAt time.Time
	err       error
}

// Runner executes jobs from its queue on a fixed set of workers. Job state
// is tracked in memory only: a generation job cannot be replayed safely once
// its quota has been reserved, so there is nothing to recover after a
// restart.
type Runner struct {
	queue  *Queue
	config Config
	logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	monitor sync.WaitGroup

	mu       sync.Mutex
	states   map[string]*jobState
	finished []string // finished job ids, oldest first
	started  bool

	errHandler   func(job Job, err error)
	stuckHandler func(job string, kind string, age time.Duration)
}

// NewRunner creates a Runner. Call Start before submitting.
func NewRunner(config Config, logger *slog.Logger) *Runner {
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count, using 1", "specified_count", config.WorkerCount)
		config.WorkerCount = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.StuckCheckInterval <= 0 {
		config.StuckCheckInterval = time.Minute
	}
	if config.RetainFinished <= 0 {
		config.RetainFinished = 256
	}

	log := logger.With("component", "job_runner")
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:  NewQueue(config.QueueSize, log),
		config: config,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
		states: make(map[string]*jobState),
	}
	r.errHandler = func(job Job, err error) {
		r.logger.Error("job failed",
			"job_id", job.ID(),
			"job_kind", job.Kind(),
			"error", err)
	}
	return r
}

// SetErrorHandler replaces the handler called when a job returns an error.
func (r *Runner) SetErrorHandler(h func(job Job, err error)) {
	r.errHandler = h
}

// SetStuckHandler registers a handler for jobs running longer than StuckAge.
func (r *Runner) SetStuckHandler(h func(jobID, kind string, age time.Duration)) {
	r.stuckHandler = h
}

// Submit queues job. It returns ErrQueueFull or ErrQueueClosed when the job
// was not accepted.
func (r *Runner) Submit(job Job) error {
	r.mu.Lock()
	r.states[job.ID()] = &jobState{kind: job.Kind(), status: StatusQueued}
	r.mu.Unlock()

	if err := r.queue.Enqueue(job); err != nil {
		r.mu.Lock()
		delete(r.states, job.ID())
		r.mu.Unlock()
		return err
	}
	return nil
}

// Start launches the workers and the stuck-job monitor.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("job runner already started")
	}
	r.started = true

	for i := 0; i < r.config.WorkerCount; i++ {
		r.workers.Add(1)
		go r.worker(i)
	}
	if r.config.StuckAge > 0 {
		r.monitor.Add(1)
		go r.stuckMonitor()
	}

	r.logger.Info("job runner started",
		"worker_count", r.config.WorkerCount,
		"queue_size", r.config.QueueSize)
	return nil
}

// Stop closes the queue and waits for queued and running jobs to finish.
// If ctx ends first the jobs' context is cancelled and Stop waits for the
// workers to return before reporting ctx's error.
func (r *Runner) Stop(ctx context.Context) error {
	r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("job runner stop timed out, cancelling running jobs")
		err = ctx.Err()
	}
	r.cancel()
	<-done
	r.monitor.Wait()
	return err
}

// Status returns the status of a job submitted to this runner.
func (r *Runner) Status(jobID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[jobID]
	if !ok {
		return "", false
	}
	return st.status, true
}

// Pending returns the number of queued jobs.
func (r *Runner) Pending() int {
	return r.queue.Len()
}

func (r *Runner) worker(id int) {
	defer r.workers.Done()
	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return
		case job, ok := <-r.queue.C():
			if !ok {
				r.logger.Debug("job queue closed, stopping worker", "worker_id", id)
				return
			}
			r.process(job, id)
		}
	}
}

func (r *Runner) process(job Job, workerID int) {
	log := r.logger.With(
		"job_id", job.ID(),
		"job_kind", job.Kind(),
		"worker_id", workerID,
	)

	r.setStatus(job.ID(), StatusRunning, nil)
	log.Debug("processing job")
	start := time.Now()

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = job.Execute(r.ctx) })
	if rec := pc.Recovered(); rec != nil {
		err = rec.AsError()
	}

	if err != nil {
		r.finish(job.ID(), StatusFailed, err)
		r.errHandler(job, err)
		return
	}
	r.finish(job.ID(), StatusCompleted, nil)
	log.Debug("job completed", "duration_ms", time.Since(start).Milliseconds())
}

// finish records a terminal status and evicts the oldest finished jobs
// beyond RetainFinished.
func (r *Runner) finish(jobID string, status Status, err error) {
	r.setStatus(jobID, status, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, jobID)
	for len(r.finished) > r.config.RetainFinished {
		oldest := r.finished[0]
		r.finished = r.finished[1:]
		if st, ok := r.states[oldest]; ok && (st.status == StatusCompleted || st.status == StatusFailed) {
			delete(r.states, oldest)
		}
	}
}

func (r *Runner) setStatus(jobID string, status Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[jobID]
	if !ok {
		st = &jobState{}
		r.states[jobID] = st
	}
	st.status = status
	st.err = err
	if status == StatusRunning {
		st.startedAt = time.Now()
	}
}

// stuckMonitor reports jobs that have been running longer than StuckAge.
// Jobs are never restarted; the report is for operators.
func (r *Runner) stuckMonitor() {
	defer r.monitor.Done()

	ticker := time.NewTicker(r.config.StuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.checkStuck(time.Now())
		}
	}
}

func (r *Runner) checkStuck(now time.Time) {
	type stuck struct {
		id, kind string
		age      time.Duration
	}

	r.mu.Lock()
	var found []stuck
	for id, st := range r.states {
		if st.status == StatusRunning && now.Sub(st.startedAt) > r.config.StuckAge {
			found = append(found, stuck{id: id, kind: st.kind, age: now.Sub(st.startedAt)})
		}
	}
	r.mu.Unlock()

	for _, s := range found {
		r.logger.Warn("job running longer than expected",
			"job_id", s.id,
			"job_kind", s.kind,
			"age", s.age.String())
		if r.stuckHandler != nil {
			r.stuckHandler(s.id, s.kind, s.age)
		}
	}
}

// Forget drops the status of a finished job before it ages out.
func (r *Runner) Forget(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[jobID]; ok && (st.status == StatusCompleted || st.status == StatusFailed) {
		delete(r.states, jobID)
	}
}
