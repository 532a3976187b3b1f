package purge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tidemark/internal/model"
	"tidemark/internal/store/bookstore"
	"tidemark/internal/xclient"
)

// RemoteDeleter is the remote single-delete call the orchestrator fans
// out over.
type RemoteDeleter interface {
	DeleteBookmark(ctx context.Context, id string) (model.DeleteResult, error)
}

// LocalStore is the store-side delete. Local deletion always precedes
// the remote call and is never rolled back: local state is
// authoritative for "no longer bookmarked".
type LocalStore interface {
	DeleteBookmark(ctx context.Context, id string) (bool, bookstore.OpMetrics, error)
}

// Progress is invoked after every batch barrier.
type Progress func(completed, total, failed int)

// Options tunes one bulk run.
type Options struct {
	// BatchSize is both the partition size and the parallelism bound.
	BatchSize int
	// BatchDelay is the pause between batches. The next pause doubles
	// when the current batch saw a rate limit, otherwise it resets to
	// the configured value.
	BatchDelay time.Duration
	OnProgress Progress
}

// PartialFailureError reports a bulk run that completed with failures.
// Successes are kept; failures are itemized in the summary.
type PartialFailureError struct {
	Summary model.BulkSummary
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("bulk delete: %d of %d failed", e.Summary.Failed, e.Summary.Total)
}

// Purger runs batched concurrent bulk deletes with adaptive backpressure.
type Purger struct {
	remote RemoteDeleter
	store  LocalStore
	lg     *zap.Logger

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func New(remote RemoteDeleter, store LocalStore, lg *zap.Logger) *Purger {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Purger{remote: remote, store: store, lg: lg, sleep: time.Sleep}
}

// Run deletes the given ids in fixed-size batches. Within a batch the
// deletes run concurrently, bounded by the batch size, and the
// orchestrator waits for the whole batch before moving on. Overall
// success requires zero failures; otherwise the returned error is a
// PartialFailureError carrying the summary, with per-id results still
// populated.
func (p *Purger) Run(ctx context.Context, ids []string, opts Options) (model.BulkSummary, []model.DeleteResult, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	summary := model.BulkSummary{Total: len(ids)}
	results := make([]model.DeleteResult, 0, len(ids))
	completed := 0
	delay := opts.BatchDelay

	for off := 0; off < len(ids); off += batchSize {
		if off > 0 && delay > 0 {
			p.sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			return summary, results, err
		}
		end := off + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[off:end]

		batchResults := make([]model.DeleteResult, len(batch))
		rateLimited := make([]bool, len(batch))
		var wg sync.WaitGroup
		for i, id := range batch {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				batchResults[i], rateLimited[i] = p.deleteOne(ctx, id)
			}(i, id)
		}
		wg.Wait()

		sawRateLimit := false
		for i, r := range batchResults {
			results = append(results, r)
			completed++
			switch {
			case r.AlreadyDeleted:
				summary.AlreadyDeleted++
			case r.Success:
				summary.Successful++
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", r.ID, r.Error))
			}
			if rateLimited[i] {
				sawRateLimit = true
			}
		}
		if opts.OnProgress != nil {
			opts.OnProgress(completed, summary.Total, summary.Failed)
		}
		if sawRateLimit {
			delay = 2 * opts.BatchDelay
			p.lg.Warn("rate limited during batch, doubling inter-batch delay",
				zap.Duration("next_delay", delay))
		} else {
			delay = opts.BatchDelay
		}
	}

	if summary.Failed > 0 {
		return summary, results, &PartialFailureError{Summary: summary}
	}
	return summary, results, nil
}

// deleteOne removes the bookmark locally, then remotely. A local store
// failure fails that id before any remote call; a remote rate limit is
// recorded as a failure and reported so the next batch backs off.
func (p *Purger) deleteOne(ctx context.Context, id string) (model.DeleteResult, bool) {
	if _, _, err := p.store.DeleteBookmark(ctx, id); err != nil {
		return model.DeleteResult{ID: id, Error: fmt.Sprintf("local delete: %v", err)}, false
	}
	res, err := p.remote.DeleteBookmark(ctx, id)
	if err != nil {
		if xclient.IsRateLimited(err) {
			return model.DeleteResult{ID: id, Error: err.Error()}, true
		}
		return model.DeleteResult{ID: id, Error: err.Error()}, false
	}
	return res, false
}
