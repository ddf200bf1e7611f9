package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/threadline-ai/threadline/backend/pkg/common"
	"github.com/threadline-ai/threadline/backend/pkg/graph"
	"github.com/threadline-ai/threadline/backend/pkg/logger"
	"github.com/threadline-ai/threadline/backend/pkg/store"
)

// Batch tuning.
const (
	defaultSubBatchSize = 5
	batchLeaseTTL       = 5 * time.Minute
)

// Leaser guards batch execution so one workspace runs at most one batch at a
// time across workers. *leaselock.Client satisfies it.
type Leaser interface {
	WithLease(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Runner implements the job handlers. Leases may be nil, in which case batch
// jobs run unguarded (single-worker deployments and tests).
type Runner struct {
	Store    store.Store
	Pipeline *graph.Pipeline
	Leases   Leaser

	SubBatchSize int
}

// Register binds all job kinds to the orchestrator.
func (r *Runner) Register(o *Orchestrator) {
	o.Register(KindIndexSource, r.IndexSource)
	o.Register(KindExtractSource, r.ExtractSource)
	o.Register(KindReindexAll, r.withLease(r.ReindexAll))
	o.Register(KindExtractAll, r.withLease(r.ExtractAll))
	o.Register(KindCleanup, r.withLease(r.Cleanup))
}

func (r *Runner) subBatchSize() int {
	if r.SubBatchSize <= 0 {
		return defaultSubBatchSize
	}
	return r.SubBatchSize
}

func (r *Runner) withLease(handler Handler) Handler {
	return func(ctx context.Context, job Job, report ProgressFunc) error {
		if r.Leases == nil {
			return handler(ctx, job, report)
		}
		return r.Leases.WithLease(ctx, "batch:"+job.OrgID, batchLeaseTTL, func(leaseCtx context.Context) error {
			return handler(leaseCtx, job, report)
		})
	}
}

// IndexSource runs the full pipeline for one source.
func (r *Runner) IndexSource(ctx context.Context, job Job, _ ProgressFunc) error {
	return r.Pipeline.Process(ctx, job.OrgID, job.SourceID)
}

// ExtractSource re-runs recognition over one source's stored chunks.
func (r *Runner) ExtractSource(ctx context.Context, job Job, _ ProgressFunc) error {
	return r.Pipeline.ExtractFromStoredChunks(ctx, job.OrgID, job.SourceID)
}

// ReindexAll reprocesses every source of a workspace from its stored text,
// in small sub-batches so progress lands between batches. Individual source
// failures are counted but do not abort the run.
func (r *Runner) ReindexAll(ctx context.Context, job Job, report ProgressFunc) error {
	sources, err := r.Store.ListSources(ctx, job.OrgID)
	if err != nil {
		return err
	}
	return r.forEachSource(ctx, job, sources, report, func(ctx context.Context, source common.SourceRecord) error {
		return r.Pipeline.Process(ctx, job.OrgID, source.ID)
	})
}

// ExtractAll re-runs entity recognition for every indexed source without
// re-chunking.
func (r *Runner) ExtractAll(ctx context.Context, job Job, report ProgressFunc) error {
	sources, err := r.Store.ListSourcesByStatus(ctx, job.OrgID, common.SourceStatusIndexed, 0)
	if err != nil {
		return err
	}
	return r.forEachSource(ctx, job, sources, report, func(ctx context.Context, source common.SourceRecord) error {
		return r.Pipeline.ExtractFromStoredChunks(ctx, job.OrgID, source.ID)
	})
}

func (r *Runner) forEachSource(
	ctx context.Context,
	job Job,
	sources []common.SourceRecord,
	report ProgressFunc,
	fn func(ctx context.Context, source common.SourceRecord) error,
) error {
	total := int64(len(sources))
	progress := common.JobProgress{Total: &total}
	report(progress)

	size := r.subBatchSize()
	for start := 0; start < len(sources); start += size {
		end := min(start+size, len(sources))
		for _, source := range sources[start:end] {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := fn(ctx, source); err != nil {
				logger.Warn("batch item failed", "job", job.ID, "source", source.ID, "error", err)
				progress.Failed++
			} else {
				progress.Processed++
			}
		}
		report(progress)
	}

	if progress.Failed > 0 {
		return fmt.Errorf("%d of %d sources failed", progress.Failed, total)
	}
	return nil
}

// Cleanup removes entities whose mentions have dropped to zero and any
// relationships left without both endpoints.
func (r *Runner) Cleanup(ctx context.Context, job Job, report ProgressFunc) error {
	entities, err := r.Store.DeleteZeroMentionEntities(ctx, job.OrgID)
	if err != nil {
		return err
	}
	relationships, err := r.Store.DeleteDanglingRelationships(ctx, job.OrgID)
	if err != nil {
		return err
	}
	removed := entities + relationships
	report(common.JobProgress{Processed: removed, Total: &removed})
	logger.Info("cleanup finished", "org", job.OrgID, "entities_removed", entities, "relationships_removed", relationships)
	return nil
}
