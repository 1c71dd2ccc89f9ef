// Package upload runs a FIFO queue of file-upload jobs on background
// workers, with per-job progress, cooperative cancellation and isolated
// per-job failure.
package upload

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the state of an upload job. Transitions are monotonic:
// Queued -> InProgress -> {Completed, Failed} or Queued -> Cancelled.
// A job never re-enters Queued or InProgress after a terminal state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Job is one file-upload work item. Only the runner mutates it; callers hold
// snapshots obtained via Clone or the runner's accessors and key every lookup
// by ID (completion order can differ from start order).
type Job struct {
	ID             string
	FilePath       string
	Name           string
	AccountKey     string
	ParentFolderID string

	Status          Status
	ProgressPercent int
	Err             error

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	mu sync.RWMutex
}

// newJob creates a queued job for one local file.
func newJob(filePath, name, accountKey, parentFolderID string) *Job {
	return &Job{
		ID:             generateJobID(),
		FilePath:       filePath,
		Name:           name,
		AccountKey:     accountKey,
		ParentFolderID: parentFolderID,
		Status:         StatusQueued,
		CreatedAt:      time.Now(),
	}
}

// GetStatus returns the current status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// GetProgress returns the current progress percent (thread-safe).
func (j *Job) GetProgress() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.ProgressPercent
}

// GetError returns the recorded error, if any (thread-safe).
func (j *Job) GetError() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Err
}

// setInProgress transitions Queued -> InProgress. Returns false if the job
// already left Queued (e.g. cancelled between pop and start).
func (j *Job) setInProgress() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != StatusQueued {
		return false
	}
	j.Status = StatusInProgress
	j.StartedAt = time.Now()
	return true
}

// setProgress records progress for an in-flight job, clamped to [0, 100].
func (j *Job) setProgress(percent int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != StatusInProgress {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	j.ProgressPercent = percent
}

// setTerminal moves the job to a terminal state. Terminal states are sticky:
// a second call is a no-op and returns false.
func (j *Job) setTerminal(status Status, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return false
	}
	j.Status = status
	j.Err = err
	j.CompletedAt = time.Now()
	if status == StatusCompleted {
		j.ProgressPercent = 100
	}
	return true
}

// IsTerminal reports whether the job reached a terminal state.
func (j *Job) IsTerminal() bool {
	switch j.GetStatus() {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Clone returns a snapshot copy safe for external use.
func (j *Job) Clone() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:              j.ID,
		FilePath:        j.FilePath,
		Name:            j.Name,
		AccountKey:      j.AccountKey,
		ParentFolderID:  j.ParentFolderID,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		Err:             j.Err,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}

// ID generation
var (
	jobCounter uint64
	jobIDMu    sync.Mutex
)

func generateJobID() string {
	jobIDMu.Lock()
	defer jobIDMu.Unlock()
	jobCounter++
	return fmt.Sprintf("upload-%d-%d", time.Now().UnixNano(), jobCounter)
}
