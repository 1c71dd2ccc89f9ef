package upload

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// uploaderFunc adapts a function to the Uploader interface.
type uploaderFunc func(ctx context.Context, localPath, accountKey, parentFolderID string, progress func(written, total int64)) error

func (f uploaderFunc) UploadFile(ctx context.Context, localPath, accountKey, parentFolderID string, progress func(written, total int64)) error {
	return f(ctx, localPath, accountKey, parentFolderID, progress)
}

func waitSummary(t *testing.T, drained chan Summary) Summary {
	t.Helper()
	select {
	case s := <-drained:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the drained summary")
		return Summary{}
	}
}

func TestBatchSummaryCountsOutcomes(t *testing.T) {
	uploadErr := errors.New("checksum mismatch")
	uploader := uploaderFunc(func(ctx context.Context, path, account, folder string, progress func(int64, int64)) error {
		if path == "c.txt" {
			return uploadErr
		}
		return nil
	})

	r := NewRunner(uploader, nil, nil)
	defer r.Close()

	drained := make(chan Summary, 1)
	r.OnQueueDrained(func(s Summary) { drained <- s })

	if err := r.Start(2); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var failedID string
	ids := make([]string, 0, 5)
	for _, path := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		id := r.Enqueue(path, "acct-1", "")
		ids = append(ids, id)
		if path == "c.txt" {
			failedID = id
		}
	}

	summary := waitSummary(t, drained)
	if summary.Completed != 4 || summary.Failed != 1 || summary.Cancelled != 0 {
		t.Fatalf("expected {4 completed, 1 failed, 0 cancelled}, got %+v", summary)
	}

	for _, id := range ids {
		job, ok := r.Job(id)
		if !ok {
			t.Fatalf("job %s missing", id)
		}
		if id == failedID {
			if job.Status != StatusFailed || !errors.Is(job.Err, uploadErr) {
				t.Errorf("expected %s failed with the upload error, got %s (%v)", job.Name, job.Status, job.Err)
			}
			continue
		}
		if job.Status != StatusCompleted {
			t.Errorf("expected %s completed, got %s", job.Name, job.Status)
		}
		if job.ProgressPercent != 100 {
			t.Errorf("expected %s at 100%%, got %d", job.Name, job.ProgressPercent)
		}
	}
}

// Cancelling mid-batch: in-flight work finishes, queued jobs never start.
func TestCancelAllMidBatch(t *testing.T) {
	entered := make(chan string, 5)
	release := make(chan struct{})
	uploader := uploaderFunc(func(ctx context.Context, path, account, folder string, progress func(int64, int64)) error {
		entered <- path
		<-release
		return nil
	})

	r := NewRunner(uploader, nil, nil)
	defer r.Close()

	drained := make(chan Summary, 1)
	r.OnQueueDrained(func(s Summary) { drained <- s })

	if err := r.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ids := make([]string, 0, 5)
	for _, path := range []string{"f1", "f2", "f3", "f4", "f5"} {
		ids = append(ids, r.Enqueue(path, "acct-1", ""))
	}

	// Job 1 runs and completes.
	if got := <-entered; got != "f1" {
		t.Fatalf("expected f1 to start first, got %s", got)
	}
	release <- struct{}{}

	// Job 2 is in flight when the batch is cancelled.
	if got := <-entered; got != "f2" {
		t.Fatalf("expected f2 to start second, got %s", got)
	}
	r.CancelAll()
	release <- struct{}{}

	summary := waitSummary(t, drained)
	if summary.Completed != 2 || summary.Failed != 0 || summary.Cancelled != 3 {
		t.Fatalf("expected {2 completed, 0 failed, 3 cancelled}, got %+v", summary)
	}

	// Cancelled jobs never reached the uploader.
	select {
	case path := <-entered:
		t.Fatalf("cancelled job %s was started", path)
	default:
	}

	for i, id := range ids {
		job, _ := r.Job(id)
		want := StatusCompleted
		if i >= 2 {
			want = StatusCancelled
		}
		if job.Status != want {
			t.Errorf("job %s: expected %s, got %s", job.Name, want, job.Status)
		}
	}
}

func TestFIFOStartOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	uploader := uploaderFunc(func(ctx context.Context, path, account, folder string, progress func(int64, int64)) error {
		mu.Lock()
		order = append(order, path)
		mu.Unlock()
		return nil
	})

	r := NewRunner(uploader, nil, nil)
	defer r.Close()

	drained := make(chan Summary, 1)
	r.OnQueueDrained(func(s Summary) { drained <- s })

	if err := r.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := []string{"1", "2", "3", "4", "5", "6"}
	for _, path := range want {
		r.Enqueue(path, "acct-1", "")
	}
	waitSummary(t, drained)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("expected %d uploads, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected FIFO start order %v, got %v", want, order)
		}
	}
}

func TestProgressReporting(t *testing.T) {
	uploader := uploaderFunc(func(ctx context.Context, path, account, folder string, progress func(int64, int64)) error {
		progress(25, 100)
		progress(25, 100) // duplicate percent is dropped
		progress(50, 100)
		progress(100, 100)
		return nil
	})

	r := NewRunner(uploader, nil, nil)
	defer r.Close()

	var mu sync.Mutex
	var percents []int
	r.OnProgress(func(jobID string, percent int) {
		mu.Lock()
		percents = append(percents, percent)
		mu.Unlock()
	})
	drained := make(chan Summary, 1)
	r.OnQueueDrained(func(s Summary) { drained <- s })

	if err := r.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := r.Enqueue("big.bin", "acct-1", "")
	waitSummary(t, drained)

	mu.Lock()
	got := append([]int(nil), percents...)
	mu.Unlock()
	want := []int{25, 50, 100}
	if len(got) != len(want) {
		t.Fatalf("expected progress %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected progress %v, got %v", want, got)
		}
	}

	job, _ := r.Job(id)
	if job.ProgressPercent != 100 {
		t.Errorf("expected final progress 100, got %d", job.ProgressPercent)
	}
}

// A panicking upload is that job's failure, nothing more.
func TestPanicIsolation(t *testing.T) {
	uploader := uploaderFunc(func(ctx context.Context, path, account, folder string, progress func(int64, int64)) error {
		if path == "poison" {
			panic("nil dereference in encoder")
		}
		return nil
	})

	r := NewRunner(uploader, nil, nil)
	defer r.Close()

	drained := make(chan Summary, 1)
	r.OnQueueDrained(func(s Summary) { drained <- s })

	if err := r.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Enqueue("ok1", "acct-1", "")
	poisonID := r.Enqueue("poison", "acct-1", "")
	r.Enqueue("ok2", "acct-1", "")

	summary := waitSummary(t, drained)
	if summary.Completed != 2 || summary.Failed != 1 {
		t.Fatalf("expected 2 completed / 1 failed, got %+v", summary)
	}

	job, _ := r.Job(poisonID)
	if job.Status != StatusFailed {
		t.Fatalf("expected poison job failed, got %s", job.Status)
	}
	if job.Err == nil || !strings.Contains(job.Err.Error(), "panicked") {
		t.Errorf("expected panic recorded as the job error, got %v", job.Err)
	}
}

// The drained summary fires once per batch; a later Enqueue starts a fresh
// batch with a fresh tally.
func TestDrainedOncePerBatch(t *testing.T) {
	uploader := uploaderFunc(func(ctx context.Context, path, account, folder string, progress func(int64, int64)) error {
		return nil
	})

	r := NewRunner(uploader, nil, nil)
	defer r.Close()

	drained := make(chan Summary, 4)
	r.OnQueueDrained(func(s Summary) { drained <- s })

	if err := r.Start(2); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	r.Enqueue("a", "acct-1", "")
	r.Enqueue("b", "acct-1", "")
	first := waitSummary(t, drained)
	if first.Completed != 2 {
		t.Fatalf("expected first batch {2 completed}, got %+v", first)
	}

	r.Enqueue("c", "acct-1", "")
	second := waitSummary(t, drained)
	if second.Completed != 1 {
		t.Fatalf("expected second batch {1 completed}, got %+v", second)
	}

	select {
	case extra := <-drained:
		t.Fatalf("unexpected extra drained summary: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelAllBeforeStart(t *testing.T) {
	uploader := uploaderFunc(func(ctx context.Context, path, account, folder string, progress func(int64, int64)) error {
		t.Error("uploader must not run")
		return nil
	})

	r := NewRunner(uploader, nil, nil)

	drained := make(chan Summary, 1)
	r.OnQueueDrained(func(s Summary) { drained <- s })

	id1 := r.Enqueue("x", "acct-1", "")
	id2 := r.Enqueue("y", "acct-1", "")
	r.CancelAll()

	summary := waitSummary(t, drained)
	if summary.Cancelled != 2 || summary.Completed != 0 {
		t.Fatalf("expected {0 completed, 2 cancelled}, got %+v", summary)
	}
	for _, id := range []string{id1, id2} {
		job, _ := r.Job(id)
		if job.Status != StatusCancelled {
			t.Errorf("expected cancelled, got %s", job.Status)
		}
	}
}

func TestAcknowledge(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	uploader := uploaderFunc(func(ctx context.Context, path, account, folder string, progress func(int64, int64)) error {
		close(entered)
		<-release
		return nil
	})

	r := NewRunner(uploader, nil, nil)
	defer r.Close()

	drained := make(chan Summary, 1)
	r.OnQueueDrained(func(s Summary) { drained <- s })

	if err := r.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := r.Enqueue("held", "acct-1", "")
	<-entered

	// In-flight jobs cannot be acknowledged away.
	if r.Acknowledge(id) {
		t.Error("acknowledged a non-terminal job")
	}

	close(release)
	waitSummary(t, drained)

	if !r.Acknowledge(id) {
		t.Error("failed to acknowledge a terminal job")
	}
	if r.Acknowledge(id) {
		t.Error("second acknowledge should report missing")
	}
	if _, ok := r.Job(id); ok {
		t.Error("acknowledged job still tracked")
	}
	if r.Acknowledge("no-such-job") {
		t.Error("acknowledged an unknown job")
	}
}

func TestStartTwice(t *testing.T) {
	r := NewRunner(uploaderFunc(func(ctx context.Context, path, account, folder string, progress func(int64, int64)) error {
		return nil
	}), nil, nil)
	defer r.Close()

	if err := r.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(1); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}
