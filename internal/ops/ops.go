// Package ops is the operation surface the host (UI, messaging, or CLI)
// consumes. Every operation returns a success flag, an optional
// payload, optional op metrics, and an optional structured error
// string; no storage or network fault escapes as a panic or raw error.
// The package knows nothing about any transport.
package ops

import (
	"context"

	"tidemark/internal/model"
	"tidemark/internal/purge"
	"tidemark/internal/store/bookstore"
)

// Storage is the store surface the service wraps.
type Storage interface {
	Init(ctx context.Context) error
	AddBookmark(ctx context.Context, rec model.Bookmark) (model.Bookmark, bookstore.OpMetrics, error)
	GetBookmark(ctx context.Context, id string) (*model.Bookmark, bookstore.OpMetrics, error)
	GetRecent(ctx context.Context, limit int) ([]model.Bookmark, bookstore.OpMetrics, error)
	GetByTag(ctx context.Context, tag string) ([]model.Bookmark, bookstore.OpMetrics, error)
	GetByAuthor(ctx context.Context, author string) ([]model.Bookmark, bookstore.OpMetrics, error)
	DeleteBookmark(ctx context.Context, id string) (bool, bookstore.OpMetrics, error)
	Stats(ctx context.Context) (model.StoreStats, bookstore.OpMetrics, error)
}

// SyncRunner executes one sync pass.
type SyncRunner interface {
	Run(ctx context.Context, delta bool) (model.SyncSummary, error)
}

// BulkRunner executes one bulk-delete run.
type BulkRunner interface {
	Run(ctx context.Context, ids []string, opts purge.Options) (model.BulkSummary, []model.DeleteResult, error)
}

// Service binds the store, sync coordinator and bulk-delete
// orchestrator behind the host contract.
type Service struct {
	store  Storage
	syncer SyncRunner
	purger BulkRunner
}

func NewService(store Storage, syncer SyncRunner, purger BulkRunner) *Service {
	return &Service{store: store, syncer: syncer, purger: purger}
}

// Response is the bare success/error envelope.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BookmarkResponse carries a single record. Data is nil when the id was
// not found; that is a successful outcome, not an error.
type BookmarkResponse struct {
	Success bool                 `json:"success"`
	Data    *model.Bookmark      `json:"data,omitempty"`
	Metrics *bookstore.OpMetrics `json:"metrics,omitempty"`
	Error   string               `json:"error,omitempty"`
}

type BookmarksResponse struct {
	Success bool                 `json:"success"`
	Data    []model.Bookmark     `json:"data,omitempty"`
	Metrics *bookstore.OpMetrics `json:"metrics,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// DeleteResponse distinguishes "removed" from "was already absent".
type DeleteResponse struct {
	Success bool                 `json:"success"`
	Removed bool                 `json:"removed"`
	Metrics *bookstore.OpMetrics `json:"metrics,omitempty"`
	Error   string               `json:"error,omitempty"`
}

type StatsResponse struct {
	Success bool                 `json:"success"`
	Data    *model.StoreStats    `json:"data,omitempty"`
	Metrics *bookstore.OpMetrics `json:"metrics,omitempty"`
	Error   string               `json:"error,omitempty"`
}

type SyncResponse struct {
	Success bool              `json:"success"`
	Summary model.SyncSummary `json:"summary"`
	Error   string            `json:"error,omitempty"`
}

type BulkDeleteResponse struct {
	Success bool                 `json:"success"`
	Results []model.DeleteResult `json:"results"`
	Summary model.BulkSummary    `json:"summary"`
	Error   string               `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Initialize opens or upgrades the schema. Safe to call repeatedly.
func (s *Service) Initialize(ctx context.Context) Response {
	if err := s.store.Init(ctx); err != nil {
		return Response{Error: errString(err)}
	}
	return Response{Success: true}
}

func (s *Service) AddBookmark(ctx context.Context, rec model.Bookmark) BookmarkResponse {
	stored, m, err := s.store.AddBookmark(ctx, rec)
	if err != nil {
		return BookmarkResponse{Metrics: &m, Error: errString(err)}
	}
	return BookmarkResponse{Success: true, Data: &stored, Metrics: &m}
}

func (s *Service) GetBookmark(ctx context.Context, id string) BookmarkResponse {
	rec, m, err := s.store.GetBookmark(ctx, id)
	if err != nil {
		return BookmarkResponse{Metrics: &m, Error: errString(err)}
	}
	return BookmarkResponse{Success: true, Data: rec, Metrics: &m}
}

func (s *Service) GetRecentBookmarks(ctx context.Context, limit int) BookmarksResponse {
	recs, m, err := s.store.GetRecent(ctx, limit)
	if err != nil {
		return BookmarksResponse{Metrics: &m, Error: errString(err)}
	}
	return BookmarksResponse{Success: true, Data: recs, Metrics: &m}
}

func (s *Service) GetBookmarksByTag(ctx context.Context, tag string) BookmarksResponse {
	recs, m, err := s.store.GetByTag(ctx, tag)
	if err != nil {
		return BookmarksResponse{Metrics: &m, Error: errString(err)}
	}
	return BookmarksResponse{Success: true, Data: recs, Metrics: &m}
}

func (s *Service) GetBookmarksByAuthor(ctx context.Context, author string) BookmarksResponse {
	recs, m, err := s.store.GetByAuthor(ctx, author)
	if err != nil {
		return BookmarksResponse{Metrics: &m, Error: errString(err)}
	}
	return BookmarksResponse{Success: true, Data: recs, Metrics: &m}
}

func (s *Service) DeleteBookmark(ctx context.Context, id string) DeleteResponse {
	removed, m, err := s.store.DeleteBookmark(ctx, id)
	if err != nil {
		return DeleteResponse{Metrics: &m, Error: errString(err)}
	}
	return DeleteResponse{Success: true, Removed: removed, Metrics: &m}
}

func (s *Service) GetStats(ctx context.Context) StatsResponse {
	st, m, err := s.store.Stats(ctx)
	if err != nil {
		return StatsResponse{Metrics: &m, Error: errString(err)}
	}
	return StatsResponse{Success: true, Data: &st, Metrics: &m}
}

// StartSync runs one pass; isDelta selects the smaller batch size.
func (s *Service) StartSync(ctx context.Context, isDelta bool) SyncResponse {
	summary, err := s.syncer.Run(ctx, isDelta)
	return SyncResponse{Success: err == nil, Summary: summary, Error: errString(err)}
}

// BulkDelete removes ids locally and remotely in batches. Partial
// failure keeps successes and reports Success=false with the itemized
// summary.
func (s *Service) BulkDelete(ctx context.Context, ids []string, opts purge.Options) BulkDeleteResponse {
	summary, results, err := s.purger.Run(ctx, ids, opts)
	return BulkDeleteResponse{
		Success: err == nil,
		Results: results,
		Summary: summary,
		Error:   errString(err),
	}
}
