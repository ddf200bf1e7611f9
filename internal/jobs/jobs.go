// Package jobs schedules pipeline work onto per-queue worker pools. Job
// state is persisted so the API process can poll it, while execution stays
// inside the worker process.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/logger"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// Queues.
const (
	QueueIndexing   = "indexing"
	QueueExtraction = "extraction"
	QueueBatch      = "batch"
)

// Job kinds.
const (
	KindIndexSource   = "index_source"
	KindExtractSource = "extract_source"
	KindReindexAll    = "reindex_all"
	KindExtractAll    = "extract_entities_all"
	KindCleanup       = "cleanup"
)

// ErrUnknownKind is returned when a job names a kind with no handler.
var ErrUnknownKind = errors.New("unknown job kind")

// ErrNotCancelable is returned when Cancel targets a job that already
// started or finished.
var ErrNotCancelable = errors.New("job is not queued")

// Job is one unit of scheduled work. SourceID is empty for batch kinds.
type Job struct {
	ID       string
	Queue    string
	Kind     string
	OrgID    string
	SourceID string
}

// ProgressFunc reports incremental progress; handlers call it as they go.
type ProgressFunc func(progress common.JobProgress)

// Handler executes one job under the job's deadline.
type Handler func(ctx context.Context, job Job, report ProgressFunc) error

type queueConfig struct {
	concurrency int
	perMinute   int
	timeout     time.Duration
}

var queueConfigs = map[string]queueConfig{
	QueueIndexing:   {concurrency: 3, perMinute: 5, timeout: 10 * time.Minute},
	QueueExtraction: {concurrency: 2, perMinute: 10, timeout: 10 * time.Minute},
	QueueBatch:      {concurrency: 1, perMinute: 0, timeout: 30 * time.Minute},
}

// Orchestrator owns the worker pools and the persisted job state machine.
type Orchestrator struct {
	jobs     store.JobStore
	handlers map[string]Handler

	pools    map[string]*ants.Pool
	limiters map[string]*rate.Limiter
	timeouts map[string]time.Duration

	rootCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	canceled map[string]bool
	running  sync.WaitGroup
	stopOnce sync.Once
}

// New creates an Orchestrator with one pool per queue.
func New(jobStore store.JobStore) (*Orchestrator, error) {
	rootCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		jobs:     jobStore,
		handlers: make(map[string]Handler),
		pools:    make(map[string]*ants.Pool),
		limiters: make(map[string]*rate.Limiter),
		timeouts: make(map[string]time.Duration),
		rootCtx:  rootCtx,
		cancel:   cancel,
		canceled: make(map[string]bool),
	}

	for queue, cfg := range queueConfigs {
		pool, err := ants.NewPool(cfg.concurrency)
		if err != nil {
			cancel()
			o.releasePools()
			return nil, err
		}
		o.pools[queue] = pool
		if cfg.perMinute > 0 {
			// Burst 1 keeps admissions evenly spaced, bounding any rolling
			// minute to perMinute jobs.
			o.limiters[queue] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.perMinute)), 1)
		}
		o.timeouts[queue] = cfg.timeout
	}
	return o, nil
}

// Register binds a handler to a job kind. Must be called before Enqueue for
// that kind.
func (o *Orchestrator) Register(kind string, handler Handler) {
	o.handlers[kind] = handler
}

func queueForKind(kind string) (string, error) {
	switch kind {
	case KindIndexSource:
		return QueueIndexing, nil
	case KindExtractSource:
		return QueueExtraction, nil
	case KindReindexAll, KindExtractAll, KindCleanup:
		return QueueBatch, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// Enqueue persists a queued job record and submits the job to its queue's
// pool. It returns the job ID to poll.
func (o *Orchestrator) Enqueue(ctx context.Context, job Job) (string, error) {
	if _, ok := o.handlers[job.Kind]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}
	queue, err := queueForKind(job.Kind)
	if err != nil {
		return "", err
	}
	job.Queue = queue

	if job.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", err
		}
		job.ID = id
	}

	record := common.JobRecord{
		ID:         job.ID,
		Queue:      job.Queue,
		OrgID:      job.OrgID,
		Status:     common.JobStatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := o.jobs.CreateJob(ctx, record); err != nil {
		return "", err
	}

	// Submit blocks while the pool is saturated; dispatch from a goroutine
	// so enqueued jobs wait for a worker without blocking the caller.
	o.running.Add(1)
	go func() {
		if err := o.pools[queue].Submit(func() {
			defer o.running.Done()
			o.run(job)
		}); err != nil {
			o.running.Done()
			if updateErr := o.jobs.UpdateJobStatus(context.WithoutCancel(o.rootCtx), job.ID, common.JobStatusFailed, err.Error()); updateErr != nil {
				logger.Error("failed to mark rejected job", "job", job.ID, "error", updateErr)
			}
		}
	}()
	return job.ID, nil
}

func (o *Orchestrator) run(job Job) {
	o.mu.Lock()
	wasCanceled := o.canceled[job.ID]
	delete(o.canceled, job.ID)
	o.mu.Unlock()
	if wasCanceled {
		return
	}

	if limiter, ok := o.limiters[job.Queue]; ok {
		if err := limiter.Wait(o.rootCtx); err != nil {
			o.finish(job, err)
			return
		}
	}

	// The job context is detached from rootCtx: shutdown stops admitting
	// queued jobs but a job that already started runs to completion or its
	// queue timeout.
	ctx, cancel := context.WithTimeout(context.Background(), o.timeouts[job.Queue])
	defer cancel()

	if err := o.jobs.UpdateJobStatus(ctx, job.ID, common.JobStatusRunning, ""); err != nil {
		logger.Error("failed to mark job running", "job", job.ID, "error", err)
	}

	report := func(progress common.JobProgress) {
		if err := o.jobs.UpdateJobProgress(context.WithoutCancel(ctx), job.ID, progress); err != nil {
			logger.Warn("failed to update job progress", "job", job.ID, "error", err)
		}
	}

	err := o.handlers[job.Kind](ctx, job, report)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	o.finish(job, err)
}

func (o *Orchestrator) finish(job Job, err error) {
	status := common.JobStatusCompleted
	message := ""
	if err != nil {
		status = common.JobStatusFailed
		message = err.Error()
		logger.Error("job failed", "job", job.ID, "kind", job.Kind, "error", err)
	}
	if updateErr := o.jobs.UpdateJobStatus(context.WithoutCancel(o.rootCtx), job.ID, status, message); updateErr != nil {
		logger.Error("failed to record job result", "job", job.ID, "error", updateErr)
	}
}

// Cancel prevents a queued job from running. Jobs that already started keep
// running to completion.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	record, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if record.Status != common.JobStatusQueued {
		return ErrNotCancelable
	}

	o.mu.Lock()
	o.canceled[jobID] = true
	o.mu.Unlock()

	return o.jobs.UpdateJobStatus(ctx, jobID, common.JobStatusFailed, "canceled before start")
}

// Stop closes admission, waits for in-flight jobs to finish (or hit their
// queue timeout), then releases the pools. Idempotent.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.cancel()
		o.running.Wait()
		o.releasePools()
	})
}

func (o *Orchestrator) releasePools() {
	for _, pool := range o.pools {
		if pool != nil {
			pool.Release()
		}
	}
}
