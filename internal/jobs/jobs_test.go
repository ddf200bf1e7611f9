package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/threadline-ai/threadline/backend/pkg/common"
	memstore "github.com/threadline-ai/threadline/backend/pkg/store/memory"
)

func waitForStatus(t *testing.T, s *memstore.Store, jobID string, want string) *common.JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := s.GetJob(context.Background(), jobID)
		if err == nil && record.Status == want {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	record, err := s.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %q (last: %+v, err: %v)", jobID, want, record, err)
	return nil
}

func newOrchestrator(t *testing.T, s *memstore.Store) *Orchestrator {
	t.Helper()
	o, err := New(s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(o.Stop)
	return o
}

func TestEnqueueRunsJobToCompletion(t *testing.T) {
	s := memstore.New()
	o := newOrchestrator(t, s)

	done := make(chan Job, 1)
	o.Register(KindIndexSource, func(_ context.Context, job Job, _ ProgressFunc) error {
		done <- job
		return nil
	})

	jobID, err := o.Enqueue(context.Background(), Job{Kind: KindIndexSource, OrgID: "org-1", SourceID: "src-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case job := <-done:
		if job.SourceID != "src-1" || job.Queue != QueueIndexing {
			t.Errorf("handler got %+v", job)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	record := waitForStatus(t, s, jobID, common.JobStatusCompleted)
	if record.StartedAt == nil || record.FinishedAt == nil {
		t.Error("expected start and finish timestamps")
	}
}

func TestHandlerErrorFailsJob(t *testing.T) {
	s := memstore.New()
	o := newOrchestrator(t, s)

	o.Register(KindCleanup, func(context.Context, Job, ProgressFunc) error {
		return errors.New("cleanup blew up")
	})

	jobID, err := o.Enqueue(context.Background(), Job{Kind: KindCleanup, OrgID: "org-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	record := waitForStatus(t, s, jobID, common.JobStatusFailed)
	if record.ErrorMessage != "cleanup blew up" {
		t.Errorf("error message = %q", record.ErrorMessage)
	}
}

func TestEnqueueUnknownKind(t *testing.T) {
	s := memstore.New()
	o := newOrchestrator(t, s)

	if _, err := o.Enqueue(context.Background(), Job{Kind: "nonsense"}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	s := memstore.New()
	o := newOrchestrator(t, s)

	block := make(chan struct{})
	started := make(chan struct{})
	o.Register(KindReindexAll, func(context.Context, Job, ProgressFunc) error {
		close(started)
		<-block
		return nil
	})
	defer close(block)

	// The batch pool runs one job at a time; the second stays queued.
	firstID, err := o.Enqueue(context.Background(), Job{Kind: KindReindexAll, OrgID: "org-1"})
	if err != nil {
		t.Fatalf("Enqueue first: %v", err)
	}
	<-started

	secondID, err := o.Enqueue(context.Background(), Job{Kind: KindReindexAll, OrgID: "org-1"})
	if err != nil {
		t.Fatalf("Enqueue second: %v", err)
	}

	if err := o.Cancel(context.Background(), secondID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	record, err := s.GetJob(context.Background(), secondID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if record.Status != common.JobStatusFailed {
		t.Errorf("canceled job status = %q, want failed", record.Status)
	}

	// A started job cannot be canceled.
	if err := o.Cancel(context.Background(), firstID); !errors.Is(err, ErrNotCancelable) {
		t.Errorf("Cancel running job err = %v, want ErrNotCancelable", err)
	}
}

func TestProgressReporting(t *testing.T) {
	s := memstore.New()
	o := newOrchestrator(t, s)

	o.Register(KindExtractAll, func(_ context.Context, _ Job, report ProgressFunc) error {
		total := int64(2)
		report(common.JobProgress{Processed: 2, Total: &total})
		return nil
	})

	jobID, err := o.Enqueue(context.Background(), Job{Kind: KindExtractAll, OrgID: "org-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	record := waitForStatus(t, s, jobID, common.JobStatusCompleted)
	if record.Progress == nil || record.Progress.Processed != 2 {
		t.Errorf("progress = %+v, want processed 2", record.Progress)
	}
}

func TestStopWaitsForRunningJob(t *testing.T) {
	s := memstore.New()
	o := newOrchestrator(t, s)

	started := make(chan struct{})
	o.Register(KindIndexSource, func(ctx context.Context, _ Job, _ ProgressFunc) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return ctx.Err()
	})

	jobID, err := o.Enqueue(context.Background(), Job{Kind: KindIndexSource, OrgID: "org-1", SourceID: "src-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started

	o.Stop()

	// A job that already started must finish cleanly, not be aborted by
	// shutdown.
	record, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if record.Status != common.JobStatusCompleted {
		t.Errorf("job status after Stop = %q (%s), want completed", record.Status, record.ErrorMessage)
	}
}

func TestJobTimeoutForcesFailure(t *testing.T) {
	s := memstore.New()
	o := newOrchestrator(t, s)
	o.timeouts[QueueIndexing] = 20 * time.Millisecond

	o.Register(KindIndexSource, func(context.Context, Job, ProgressFunc) error {
		// Overruns the deadline without observing it.
		time.Sleep(100 * time.Millisecond)
		return nil
	})

	jobID, err := o.Enqueue(context.Background(), Job{Kind: KindIndexSource, OrgID: "org-1", SourceID: "src-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	record := waitForStatus(t, s, jobID, common.JobStatusFailed)
	if record.ErrorMessage != context.DeadlineExceeded.Error() {
		t.Errorf("error message = %q, want deadline exceeded", record.ErrorMessage)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := memstore.New()
	o := newOrchestrator(t, s)
	o.Stop()
	o.Stop()
}
