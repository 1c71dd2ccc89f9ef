package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/multiapi/driveman/internal/events"
	"github.com/multiapi/driveman/internal/logging"
)

// ErrAlreadyStarted is returned by Start when the runner is already draining.
var ErrAlreadyStarted = errors.New("upload runner already started")

// Uploader performs one file upload. The api client implements it.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, accountKey, parentFolderID string, progress func(written, total int64)) error
}

// Summary is the tally emitted exactly once when a batch drains.
type Summary struct {
	Completed int
	Failed    int
	Cancelled int
}

// notification is an immutable event record posted by workers and drained by
// the single notifier goroutine, so observers always run on one context and
// in order (a job's done notification always precedes the drained summary).
type notification struct {
	drained  bool
	job      Job
	summary  Summary
	progress bool
}

// Runner executes queued upload jobs off the scheduling thread.
//
// Jobs start in FIFO order, up to maxConcurrency in flight. One job's failure
// is recorded on that job alone and never blocks the rest of the queue.
// Cancellation is cooperative: CancelAll cancels jobs still queued and lets
// in-flight uploads finish naturally.
type Runner struct {
	uploader Uploader
	bus      *events.Bus
	log      *logging.Logger

	mu           sync.Mutex
	pending      []*Job
	jobs         map[string]*Job
	started      bool
	cancelled    bool
	active       int
	processed    int // jobs finished since the batch began
	summary      Summary
	drainEmitted bool

	progressObs map[int]func(jobID string, percent int)
	doneObs     map[int]func(jobID string, status Status, err error)
	drainedObs  map[int]func(Summary)
	nextObsID   int

	sem      *semaphore.Weighted
	wake     chan struct{}
	notifyCh chan notification
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRunner creates a runner uploading through uploader. bus may be nil.
func NewRunner(uploader Uploader, bus *events.Bus, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Runner{
		uploader:    uploader,
		bus:         bus,
		log:         logger.Component("upload"),
		jobs:        make(map[string]*Job),
		progressObs: make(map[int]func(string, int)),
		doneObs:     make(map[int]func(string, Status, error)),
		drainedObs:  make(map[int]func(Summary)),
		wake:        make(chan struct{}, 1),
	}
}

// Enqueue appends a job for one local file and returns its ID immediately.
// Enqueueing after a batch drained starts a new batch with a fresh summary.
func (r *Runner) Enqueue(localPath, accountKey, parentFolderID string) string {
	job := newJob(localPath, filepath.Base(localPath), accountKey, parentFolderID)

	r.mu.Lock()
	if len(r.pending) == 0 && r.active == 0 && r.drainEmitted {
		r.summary = Summary{}
		r.processed = 0
		r.drainEmitted = false
		r.cancelled = false
	}
	r.pending = append(r.pending, job)
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.publish(events.EventUploadQueued, job.Clone())
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return job.ID
}

// Start begins draining the queue with up to maxConcurrency uploads in
// flight (values below 1 mean strictly sequential).
func (r *Runner) Start(maxConcurrency int) error {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.sem = semaphore.NewWeighted(int64(maxConcurrency))
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.notifyCh = make(chan notification, events.DefaultBuffer)
	ctx := r.ctx
	r.mu.Unlock()

	r.wg.Add(2)
	go r.notify(ctx)
	go r.dispatch(ctx)
	return nil
}

// Close tears the runner down: stops dispatching and notifying. Unlike
// CancelAll it does not produce Cancelled transitions; use it at shutdown.
func (r *Runner) Close() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}

// CancelAll sets the runner-level cancel flag. Jobs still queued transition
// straight to Cancelled and never start; jobs in flight finish naturally.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	r.cancelled = true
	cancelled := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, job := range cancelled {
		if job.setTerminal(StatusCancelled, nil) {
			r.recordDone(job)
		}
	}
	r.maybeDrained()
}

// OnProgress registers a per-job progress observer. Returns an unsubscribe
// function.
func (r *Runner) OnProgress(obs func(jobID string, percent int)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObsID
	r.nextObsID++
	r.progressObs[id] = obs
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.progressObs, id)
	}
}

// OnJobDone registers an observer of terminal job transitions.
func (r *Runner) OnJobDone(obs func(jobID string, status Status, err error)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObsID
	r.nextObsID++
	r.doneObs[id] = obs
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.doneObs, id)
	}
}

// OnQueueDrained registers an observer of the once-per-batch drained summary.
func (r *Runner) OnQueueDrained(obs func(Summary)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObsID
	r.nextObsID++
	r.drainedObs[id] = obs
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.drainedObs, id)
	}
}

// Job returns a snapshot of one job by ID.
func (r *Runner) Job(jobID string) (Job, bool) {
	r.mu.Lock()
	job, exists := r.jobs[jobID]
	r.mu.Unlock()
	if !exists {
		return Job{}, false
	}
	return job.Clone(), true
}

// Jobs returns snapshots of every tracked job.
func (r *Runner) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	return out
}

// Acknowledge removes a terminal job from the active set. Non-terminal jobs
// are kept; callers acknowledge only after observing a terminal state.
func (r *Runner) Acknowledge(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, exists := r.jobs[jobID]
	if !exists || !job.IsTerminal() {
		return false
	}
	delete(r.jobs, jobID)
	return true
}

// dispatch pops queued jobs in FIFO order and hands each to a worker once a
// concurrency slot frees up, preserving start order.
func (r *Runner) dispatch(ctx context.Context) {
	defer r.wg.Done()

	for {
		job := r.popQueued()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
				continue
			}
		}

		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(job *Job) {
			defer r.sem.Release(1)
			r.execute(ctx, job)
		}(job)
	}
}

// popQueued removes the next pending job and counts it active, so the window
// between pop and worker start still blocks the drained summary.
func (r *Runner) popQueued() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil
	}
	job := r.pending[0]
	r.pending = r.pending[1:]
	r.active++
	return job
}

// execute runs one job to a terminal state. A panicking upload call is
// recorded as that job's failure and never reaches the other jobs.
func (r *Runner) execute(ctx context.Context, job *Job) {
	// Cooperative cancel checkpoint at the job boundary.
	if r.isCancelled() || !job.setInProgress() {
		if job.setTerminal(StatusCancelled, nil) {
			r.finish(job)
			return
		}
		r.decrementActive()
		r.maybeDrained()
		return
	}

	r.publish(events.EventUploadStarted, job.Clone())

	err := r.runUpload(ctx, job)
	if err != nil {
		r.log.Warn().Str("job_id", job.ID).Str("file", job.Name).Err(err).Msg("upload failed")
		job.setTerminal(StatusFailed, err)
	} else {
		r.log.Debug().Str("job_id", job.ID).Str("file", job.Name).Msg("upload completed")
		job.setTerminal(StatusCompleted, nil)
	}
	r.finish(job)
}

// runUpload invokes the uploader with panic isolation.
func (r *Runner) runUpload(ctx context.Context, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("upload panicked: %v", rec)
		}
	}()

	lastPercent := -1
	return r.uploader.UploadFile(ctx, job.FilePath, job.AccountKey, job.ParentFolderID,
		func(written, total int64) {
			if total <= 0 {
				return
			}
			percent := int(written * 100 / total)
			if percent == lastPercent {
				return
			}
			lastPercent = percent
			job.setProgress(percent)
			r.post(notification{job: job.Clone(), progress: true})
		})
}

// finish records a terminal job and posts its notifications.
func (r *Runner) finish(job *Job) {
	r.recordDone(job)
	r.decrementActive()
	r.maybeDrained()
}

// recordDone tallies one terminal job into the batch summary.
func (r *Runner) recordDone(job *Job) {
	r.mu.Lock()
	switch job.GetStatus() {
	case StatusCompleted:
		r.summary.Completed++
	case StatusFailed:
		r.summary.Failed++
	case StatusCancelled:
		r.summary.Cancelled++
	}
	r.processed++
	r.mu.Unlock()

	r.post(notification{job: job.Clone()})
}

func (r *Runner) decrementActive() {
	r.mu.Lock()
	r.active--
	r.mu.Unlock()
}

// maybeDrained emits the batch summary exactly once, when no job is pending
// or in flight and at least one job was processed.
func (r *Runner) maybeDrained() {
	r.mu.Lock()
	if r.drainEmitted || len(r.pending) > 0 || r.active > 0 || r.processed == 0 {
		r.mu.Unlock()
		return
	}
	r.drainEmitted = true
	summary := r.summary
	r.mu.Unlock()

	r.log.Info().
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("cancelled", summary.Cancelled).
		Msg("upload queue drained")
	r.post(notification{drained: true, summary: summary})
}

// isCancelled reports the runner-level cancel flag.
func (r *Runner) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// post hands a notification to the notifier goroutine. Blocking send keeps
// done/drained ordering intact; the notifier drains continuously until Close.
func (r *Runner) post(n notification) {
	r.mu.Lock()
	ch := r.notifyCh
	ctx := r.ctx
	r.mu.Unlock()
	if ch == nil {
		// Runner not started yet (e.g. CancelAll before Start): deliver
		// inline; there is no worker context to marshal from.
		r.deliver(n)
		return
	}
	select {
	case ch <- n:
	case <-ctx.Done():
	}
}

// notify is the single consuming context: every observer callback and bus
// publish for worker-side changes happens on this goroutine, in post order.
func (r *Runner) notify(ctx context.Context) {
	defer r.wg.Done()

	r.mu.Lock()
	ch := r.notifyCh
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			r.deliver(n)
		}
	}
}

// deliver invokes observers and publishes bus events for one notification.
func (r *Runner) deliver(n notification) {
	if n.drained {
		r.mu.Lock()
		observers := make([]func(Summary), 0, len(r.drainedObs))
		for _, obs := range r.drainedObs {
			observers = append(observers, obs)
		}
		r.mu.Unlock()
		for _, obs := range observers {
			obs(n.summary)
		}
		r.bus.Publish(&events.QueueDrainedEvent{
			BaseEvent: events.NewBase(events.EventQueueDrained),
			Completed: n.summary.Completed,
			Failed:    n.summary.Failed,
			Cancelled: n.summary.Cancelled,
		})
		return
	}

	if n.progress {
		r.mu.Lock()
		observers := make([]func(string, int), 0, len(r.progressObs))
		for _, obs := range r.progressObs {
			observers = append(observers, obs)
		}
		r.mu.Unlock()
		for _, obs := range observers {
			obs(n.job.ID, n.job.ProgressPercent)
		}
		r.publish(events.EventUploadProgress, n.job)
		return
	}

	r.mu.Lock()
	observers := make([]func(string, Status, error), 0, len(r.doneObs))
	for _, obs := range r.doneObs {
		observers = append(observers, obs)
	}
	r.mu.Unlock()
	for _, obs := range observers {
		obs(n.job.ID, n.job.Status, n.job.Err)
	}

	switch n.job.Status {
	case StatusCompleted:
		r.publish(events.EventUploadCompleted, n.job)
	case StatusFailed:
		r.publish(events.EventUploadFailed, n.job)
	case StatusCancelled:
		r.publish(events.EventUploadCancelled, n.job)
	}
}

// publish emits one upload lifecycle event from a job snapshot.
func (r *Runner) publish(eventType events.EventType, job Job) {
	r.bus.Publish(&events.UploadEvent{
		BaseEvent: events.NewBase(eventType),
		JobID:     job.ID,
		Name:      job.Name,
		Status:    string(job.Status),
		Percent:   job.ProgressPercent,
		Err:       job.Err,
	})
}
