package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tidemark/internal/config"
	"tidemark/internal/metrics"
	"tidemark/internal/model"
	"tidemark/internal/retry"
	"tidemark/internal/store/bookstore"
)

// Fetcher retrieves one normalized page of remote bookmarks.
type Fetcher interface {
	FetchBookmarks(ctx context.Context, count int, cursor string) (model.Page, error)
}

// Store is the write-through target for fetched records.
type Store interface {
	AddBookmark(ctx context.Context, rec model.Bookmark) (model.Bookmark, bookstore.OpMetrics, error)
}

// State is the coordinator's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StatePersisting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StatePersisting:
		return "persisting"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Syncer drives the fetch -> normalize -> persist loop. Pages are
// fetched strictly sequentially: each request depends on the prior
// page's cursor.
type Syncer struct {
	fetch Fetcher
	store Store
	cfg   config.SyncConfig
	lg    *zap.Logger

	state State
}

func New(fetch Fetcher, store Store, cfg config.SyncConfig, lg *zap.Logger) *Syncer {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Syncer{fetch: fetch, store: store, cfg: cfg, lg: lg, state: StateIdle}
}

// State reports the coordinator's current position. Run is a single
// logical flow; the state is informational, not a synchronization
// mechanism.
func (s *Syncer) State() State { return s.state }

// Run executes one sync pass. Delta mode uses the smaller batch size to
// discover newly-bookmarked items with less wasted fetch volume. The
// pass ends when the remote returns no cursor or an empty page.
// Duplicate ids on re-fetch are expected steady state and absorbed.
func (s *Syncer) Run(ctx context.Context, delta bool) (model.SyncSummary, error) {
	start := time.Now()
	metrics.SyncRuns.Inc()
	summary := model.SyncSummary{Delta: delta}

	batch := s.cfg.FullBatch
	if delta {
		batch = s.cfg.DeltaBatch
	}
	if batch <= 0 {
		batch = 50
	}
	policy := retry.Policy{
		MaxAttempts: s.cfg.MaxAttempts,
		BaseDelay:   time.Duration(s.cfg.BaseBackoffMs) * time.Millisecond,
		Jitter:      true,
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			s.state = StateError
			return summary, err
		}
		if s.cfg.MaxPages > 0 && summary.Pages >= s.cfg.MaxPages {
			break
		}

		s.state = StateFetching
		var page model.Page
		err := retry.Do(ctx, policy, func() error {
			var ferr error
			page, ferr = s.fetch.FetchBookmarks(ctx, batch, cursor)
			if ferr != nil {
				metrics.IncAPIRetry("bookmarks")
			}
			return ferr
		})
		if err != nil {
			s.state = StateError
			metrics.SyncErrors.Inc()
			return summary, fmt.Errorf("fetch page %d: %w", summary.Pages+1, err)
		}
		summary.Pages++
		summary.Fetched += len(page.Bookmarks)

		s.state = StatePersisting
		for _, b := range page.Bookmarks {
			if _, _, err := s.store.AddBookmark(ctx, b); err != nil {
				if errors.Is(err, bookstore.ErrDuplicate) {
					summary.Duplicates++
					metrics.BookmarksDuplicate.Inc()
					continue
				}
				s.state = StateError
				metrics.SyncErrors.Inc()
				return summary, fmt.Errorf("persist bookmark %s: %w", b.ID, err)
			}
			summary.Stored++
			metrics.BookmarksStored.Inc()
		}

		if page.NextCursor == "" || len(page.Bookmarks) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	s.state = StateIdle
	summary.Duration = time.Since(start)
	metrics.ObserveSyncDuration(start)
	s.lg.Info("sync pass complete",
		zap.Bool("delta", delta),
		zap.Int("pages", summary.Pages),
		zap.Int("stored", summary.Stored),
		zap.Int("duplicates", summary.Duplicates),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}
