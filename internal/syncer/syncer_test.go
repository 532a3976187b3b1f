package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"tidemark/internal/config"
	"tidemark/internal/model"
	"tidemark/internal/store/bookstore"
)

type fakeFetcher struct {
	pages   []model.Page
	cursors []string
	counts  []int
	err     error
}

func (f *fakeFetcher) FetchBookmarks(ctx context.Context, count int, cursor string) (model.Page, error) {
	f.cursors = append(f.cursors, cursor)
	f.counts = append(f.counts, count)
	if f.err != nil {
		return model.Page{}, f.err
	}
	if len(f.pages) == 0 {
		return model.Page{}, nil
	}
	p := f.pages[0]
	f.pages = f.pages[1:]
	return p, nil
}

type fakeStore struct {
	added []string
	dups  map[string]bool
	fail  map[string]error
}

func (f *fakeStore) AddBookmark(ctx context.Context, rec model.Bookmark) (model.Bookmark, bookstore.OpMetrics, error) {
	if err, ok := f.fail[rec.ID]; ok {
		return model.Bookmark{}, bookstore.OpMetrics{}, err
	}
	if f.dups[rec.ID] {
		return model.Bookmark{}, bookstore.OpMetrics{}, bookstore.ErrDuplicate
	}
	f.added = append(f.added, rec.ID)
	return rec, bookstore.OpMetrics{}, nil
}

func marks(ids ...string) []model.Bookmark {
	out := make([]model.Bookmark, len(ids))
	for i, id := range ids {
		out[i] = model.Bookmark{ID: id, Text: "text for " + id}
	}
	return out
}

func testCfg() config.SyncConfig {
	return config.SyncConfig{FullBatch: 100, DeltaBatch: 20, MaxAttempts: 1, BaseBackoffMs: 1}
}

func TestRunMultiPage(t *testing.T) {
	fetch := &fakeFetcher{pages: []model.Page{
		{Bookmarks: marks("1", "2"), NextCursor: "c1"},
		{Bookmarks: marks("3"), NextCursor: "c2"},
		{Bookmarks: marks("4"), NextCursor: ""},
	}}
	store := &fakeStore{}
	s := New(fetch, store, testCfg(), nil)

	sum, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Pages != 3 || sum.Fetched != 4 || sum.Stored != 4 {
		t.Fatalf("summary mismatch: %+v", sum)
	}
	if strings.Join(fetch.cursors, ",") != ",c1,c2" {
		t.Fatalf("cursor chain mismatch: %v", fetch.cursors)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle after success, got %s", s.State())
	}
}

func TestRunDeltaUsesSmallerBatch(t *testing.T) {
	fetch := &fakeFetcher{pages: []model.Page{{Bookmarks: marks("1")}}}
	s := New(fetch, &fakeStore{}, testCfg(), nil)
	if _, err := s.Run(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if fetch.counts[0] != 20 {
		t.Fatalf("expected delta batch size 20, got %d", fetch.counts[0])
	}

	fetch2 := &fakeFetcher{pages: []model.Page{{Bookmarks: marks("1")}}}
	s2 := New(fetch2, &fakeStore{}, testCfg(), nil)
	if _, err := s2.Run(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if fetch2.counts[0] != 100 {
		t.Fatalf("expected full batch size 100, got %d", fetch2.counts[0])
	}
}

func TestRunAbsorbsDuplicates(t *testing.T) {
	fetch := &fakeFetcher{pages: []model.Page{
		{Bookmarks: marks("1", "2", "3")},
	}}
	store := &fakeStore{dups: map[string]bool{"2": true}}
	s := New(fetch, store, testCfg(), nil)

	sum, err := s.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("duplicates must not fail the pass: %v", err)
	}
	if sum.Stored != 2 || sum.Duplicates != 1 {
		t.Fatalf("summary mismatch: %+v", sum)
	}
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	fetch := &fakeFetcher{pages: []model.Page{
		{Bookmarks: nil, NextCursor: "keeps-going"},
	}}
	s := New(fetch, &fakeStore{}, testCfg(), nil)
	sum, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Pages != 1 {
		t.Fatalf("zero records must terminate the pass: %+v", sum)
	}
}

func TestRunTerminatesOnRepeatedCursor(t *testing.T) {
	// The client's cycle guard maps an echoed cursor to "", so the
	// coordinator sees a terminal page. Simulate that contract here.
	fetch := &fakeFetcher{pages: []model.Page{
		{Bookmarks: marks("1"), NextCursor: "X"},
		{Bookmarks: marks("2"), NextCursor: ""},
	}}
	s := New(fetch, &fakeStore{}, testCfg(), nil)
	sum, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Pages != 2 {
		t.Fatalf("expected loop to end, got %+v", sum)
	}
}

func TestRunSurfacesFetchError(t *testing.T) {
	fetch := &fakeFetcher{err: errors.New("remote down")}
	s := New(fetch, &fakeStore{}, testCfg(), nil)
	_, err := s.Run(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), "remote down") {
		t.Fatalf("expected fetch error surfaced, got %v", err)
	}
	if s.State() != StateError {
		t.Errorf("expected error state, got %s", s.State())
	}
}

func TestRunRetriesFetch(t *testing.T) {
	calls := 0
	fetch := &flakyFetcher{failures: 2, calls: &calls}
	cfg := testCfg()
	cfg.MaxAttempts = 3
	s := New(fetch, &fakeStore{}, cfg, nil)
	if _, err := s.Run(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", calls)
	}
}

type flakyFetcher struct {
	failures int
	calls    *int
}

func (f *flakyFetcher) FetchBookmarks(ctx context.Context, count int, cursor string) (model.Page, error) {
	*f.calls++
	if *f.calls <= f.failures {
		return model.Page{}, fmt.Errorf("transient %d", *f.calls)
	}
	return model.Page{}, nil
}

func TestRunSurfacesPersistError(t *testing.T) {
	fetch := &fakeFetcher{pages: []model.Page{{Bookmarks: marks("1")}}}
	store := &fakeStore{fail: map[string]error{"1": errors.New("disk full")}}
	s := New(fetch, store, testCfg(), nil)
	_, err := s.Run(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected persist error surfaced, got %v", err)
	}
}

func TestRunMaxPagesCap(t *testing.T) {
	pages := make([]model.Page, 10)
	for i := range pages {
		pages[i] = model.Page{Bookmarks: marks(fmt.Sprintf("p%d", i)), NextCursor: fmt.Sprintf("c%d", i)}
	}
	fetch := &fakeFetcher{pages: pages}
	cfg := testCfg()
	cfg.MaxPages = 3
	s := New(fetch, &fakeStore{}, cfg, nil)
	sum, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Pages != 3 {
		t.Fatalf("expected cap at 3 pages, got %+v", sum)
	}
}
