// Package jobs runs optimize requests in the background, one at a time, and
// keeps their results in memory for a retention period.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetroute/internal/broker"
	"fleetroute/internal/events"
	"fleetroute/internal/geo"
	"fleetroute/internal/metrics"
	"fleetroute/internal/model"
	"fleetroute/internal/optimizer"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	ErrNotFound       = errors.New("job not found")
	ErrNotCancellable = errors.New("job is no longer pending")
	ErrQueueFull      = errors.New("job queue is full")
)

const (
	DefaultMaxJobs   = 100
	DefaultRetention = time.Hour
)

// Optimizer is what the worker runs; *optimizer.Service implements it.
type Optimizer interface {
	Optimize(ctx context.Context, req optimizer.Request) (*model.Solution, error)
}

type Job struct {
	ID             string          `json:"id"`
	Status         Status          `json:"status"`
	Progress       int             `json:"progress"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ElapsedSeconds float64         `json:"elapsed_seconds,omitempty"`
	Result         *model.Solution `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CallbackURL    string          `json:"callback_url,omitempty"`
	// Err is the typed optimize error of a failed job.
	Err error `json:"-"`

	request optimizer.Request
}

type Stats struct {
	Total     int `json:"total_jobs"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	QueueSize int `json:"queue_size"`
}

type Options struct {
	MaxJobs      int
	Retention    time.Duration
	CleanupEvery time.Duration
	Broker       broker.Broker
	Observer     events.Observer
	// OnFinish runs on the worker goroutine after a job completes or fails.
	OnFinish func(ctx context.Context, job Job)
}

type Queue struct {
	opt  Optimizer
	o    Options
	now  func() time.Time
	wake chan struct{}

	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	pending []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opt Optimizer, o Options) *Queue {
	if o.MaxJobs <= 0 {
		o.MaxJobs = DefaultMaxJobs
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.CleanupEvery <= 0 {
		o.CleanupEvery = time.Minute
	}
	if o.Broker == nil {
		o.Broker = broker.NewMemory()
	}
	if o.Observer == nil {
		o.Observer = events.Nop()
	}
	return &Queue{
		opt:  opt,
		o:    o,
		now:  time.Now,
		wake: make(chan struct{}, 1),
		jobs: map[string]*Job{},
	}
}

// Start launches the worker and the cleanup loop. Close stops both.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(2)
	go func() {
		defer q.wg.Done()
		q.work(ctx)
	}()
	go func() {
		defer q.wg.Done()
		t := time.NewTicker(q.o.CleanupEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				q.cleanup()
			}
		}
	}()
}

// Close stops the goroutines and waits for a running job to return.
func (q *Queue) Close() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit queues req. When the queue holds MaxJobs jobs, expired jobs and then
// the oldest finished job are evicted; with none finished it fails with
// ErrQueueFull.
func (q *Queue) Submit(ctx context.Context, req optimizer.Request, callbackURL string) (Job, error) {
	q.mu.Lock()
	if len(q.jobs) >= q.o.MaxJobs {
		q.cleanupLocked()
	}
	if len(q.jobs) >= q.o.MaxJobs && !q.evictOldestLocked() {
		q.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	j := &Job{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		CreatedAt:   q.now(),
		CallbackURL: callbackURL,
		request:     req,
	}
	q.jobs[j.ID] = j
	q.order = append(q.order, j.ID)
	q.pending = append(q.pending, j.ID)
	metrics.JobQueueDepth.Set(float64(len(q.pending)))
	snap := q.snapshot(j)
	q.mu.Unlock()

	q.announce(ctx, snap)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return snap, nil
}

func (q *Queue) Get(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return q.snapshot(j), nil
}

// List returns jobs in submission order, filtered by status when non-empty.
func (q *Queue) List(status Status) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.order))
	for _, id := range q.order {
		j := q.jobs[id]
		if status == "" || j.Status == status {
			out = append(out, q.snapshot(j))
		}
	}
	return out
}

// Cancel marks a pending job cancelled. Running and finished jobs return
// ErrNotCancellable.
func (q *Queue) Cancel(ctx context.Context, id string) (Job, error) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return Job{}, ErrNotFound
	}
	if j.Status != StatusPending {
		snap := q.snapshot(j)
		q.mu.Unlock()
		return snap, ErrNotCancellable
	}
	now := q.now()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	q.pending = remove(q.pending, id)
	metrics.JobQueueDepth.Set(float64(len(q.pending)))
	metrics.Jobs.WithLabelValues(string(StatusCancelled)).Inc()
	snap := q.snapshot(j)
	q.mu.Unlock()

	q.announce(ctx, snap)
	return snap, nil
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Total: len(q.jobs), QueueSize: len(q.pending)}
	for _, j := range q.jobs {
		switch j.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Topic is the broker topic carrying a job's state changes.
func Topic(id string) string { return id }

func (q *Queue) work(ctx context.Context) {
	for {
		id, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		q.run(ctx, id)
		if ctx.Err() != nil {
			return
		}
	}
}

func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	metrics.JobQueueDepth.Set(float64(len(q.pending)))
	return id, true
}

func (q *Queue) run(ctx context.Context, id string) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok || j.Status != StatusPending {
		q.mu.Unlock()
		return
	}
	now := q.now()
	j.Status = StatusRunning
	j.StartedAt = &now
	j.Progress = 10
	req := j.request
	snap := q.snapshot(j)
	q.mu.Unlock()
	q.announce(ctx, snap)

	q.setProgress(ctx, id, 30)
	sol, err := q.opt.Optimize(ctx, req)

	q.mu.Lock()
	done := q.now()
	j.CompletedAt = &done
	j.request = optimizer.Request{}
	if err != nil {
		j.Status = StatusFailed
		j.Error = err.Error()
		j.Err = err
	} else {
		j.Status = StatusCompleted
		j.Result = sol
		j.Progress = 100
	}
	metrics.Jobs.WithLabelValues(string(j.Status)).Inc()
	snap = q.snapshot(j)
	q.mu.Unlock()

	q.announce(ctx, snap)
	if q.o.OnFinish != nil {
		q.o.OnFinish(ctx, snap)
	}
}

func (q *Queue) setProgress(ctx context.Context, id string, p int) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	j.Progress = p
	snap := q.snapshot(j)
	q.mu.Unlock()
	q.announce(ctx, snap)
}

// announce publishes a state change to stream subscribers and observers.
func (q *Queue) announce(ctx context.Context, j Job) {
	typ := "job.progress"
	if j.Status.Finished() {
		typ = "job." + string(j.Status)
	}
	data := map[string]any{
		"id":       j.ID,
		"status":   string(j.Status),
		"progress": j.Progress,
	}
	if j.Error != "" {
		data["error"] = j.Error
	}
	if j.Result != nil {
		data["routes"] = len(j.Result.Routes)
		data["total_cost"] = j.Result.Summary.TotalCost
	}
	q.o.Broker.Publish(Topic(j.ID), broker.Event{Type: typ, Data: data})
	q.o.Observer.Emit(ctx, events.New(events.JobState, map[string]any{
		"job_id":   j.ID,
		"status":   string(j.Status),
		"progress": j.Progress,
	}))
}

func (q *Queue) cleanup() {
	q.mu.Lock()
	q.cleanupLocked()
	q.mu.Unlock()
}

// cleanupLocked drops finished jobs older than the retention period.
func (q *Queue) cleanupLocked() {
	cutoff := q.now().Add(-q.o.Retention)
	kept := q.order[:0]
	for _, id := range q.order {
		j := q.jobs[id]
		if j.Status.Finished() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

func (q *Queue) evictOldestLocked() bool {
	for i, id := range q.order {
		if q.jobs[id].Status.Finished() {
			delete(q.jobs, id)
			q.order = append(q.order[:i], q.order[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) snapshot(j *Job) Job {
	out := *j
	out.request = optimizer.Request{}
	if j.StartedAt != nil {
		end := q.now()
		if j.CompletedAt != nil {
			end = *j.CompletedAt
		}
		out.ElapsedSeconds = geo.Round2(end.Sub(*j.StartedAt).Seconds())
	}
	return out
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
