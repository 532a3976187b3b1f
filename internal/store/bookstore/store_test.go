package bookstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tidemark/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func mark(id string, ts time.Time, tags ...string) model.Bookmark {
	return model.Bookmark{
		ID:         id,
		Text:       "Some bookmarked tweet about #golang things",
		Author:     "alice",
		AuthorID:   "u1",
		CreatedAt:  ts.Add(-time.Hour),
		BookmarkTS: ts,
		Tags:       tags,
	}
}

func TestInitConcurrent(t *testing.T) {
	s, err := Open(":memory:", nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Init(context.Background())
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	st, _, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !st.Ready || st.SchemaVersion != schemaVersion {
		t.Fatalf("expected ready store at v%d, got %+v", schemaVersion, st)
	}
}

func TestAddAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := mark("100", ts, "go", "reading")
	in.MediaURLs = []string{"https://img/a.jpg", "https://img/a.jpg", "https://img/b.jpg"}
	if _, _, err := s.AddBookmark(ctx, in); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.GetBookmark(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Text != in.Text || got.Author != "alice" || !got.BookmarkTS.Equal(ts) {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "go" || got.Tags[1] != "reading" {
		t.Errorf("tags mismatch: %v", got.Tags)
	}
	if len(got.MediaURLs) != 2 {
		t.Errorf("expected deduped media urls, got %v", got.MediaURLs)
	}
	if len(got.TextTokens) == 0 {
		t.Error("expected derived text tokens")
	}
	for _, tok := range got.TextTokens {
		if len(tok) <= 2 {
			t.Errorf("token %q too short", tok)
		}
	}
}

func TestAddDefaultsBookmarkTimestamp(t *testing.T) {
	s := newTestStore(t)
	before := time.Now().UTC().Add(-time.Second)
	stored, _, err := s.AddBookmark(context.Background(), model.Bookmark{ID: "1", Text: "text here"})
	if err != nil {
		t.Fatal(err)
	}
	if stored.BookmarkTS.Before(before) {
		t.Errorf("expected defaulted timestamp, got %s", stored.BookmarkTS)
	}
	if stored.Tags == nil {
		t.Error("expected defaulted tags slice")
	}
}

func TestAddDuplicateKeepsOriginal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	orig := mark("dup", ts, "first")
	if _, _, err := s.AddBookmark(ctx, orig); err != nil {
		t.Fatal(err)
	}
	again := mark("dup", ts.Add(time.Hour), "second")
	again.Text = "totally different"
	_, _, err := s.AddBookmark(ctx, again)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, _, err := s.GetBookmark(ctx, "dup")
	if err != nil || got == nil {
		t.Fatalf("get after duplicate: %v", err)
	}
	if got.Text != orig.Text || got.Tags[0] != "first" {
		t.Errorf("duplicate insert altered stored record: %+v", got)
	}
}

func TestGetMissingIsNotError(t *testing.T) {
	s := newTestStore(t)
	got, _, err := s.GetBookmark(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing id, got %+v", got)
	}
}

func TestGetRecentOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		b := mark(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour))
		if _, _, err := s.AddBookmark(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	got, _, err := s.GetRecent(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 records, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].BookmarkTS.After(got[i-1].BookmarkTS) {
			t.Errorf("not ordered most-recent-first at %d", i)
		}
	}
	if got[0].ID != "j" {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}
}

func TestGetByTagExactSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	add := func(id string, tags ...string) {
		if _, _, err := s.AddBookmark(ctx, mark(id, ts, tags...)); err != nil {
			t.Fatal(err)
		}
	}
	add("1", "go", "news")
	add("2", "go")
	add("3", "rust")
	add("4")

	got, _, err := s.GetByTag(ctx, "go")
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, b := range got {
		ids[b.ID] = true
	}
	if len(ids) != 2 || !ids["1"] || !ids["2"] {
		t.Fatalf("expected exactly {1,2}, got %v", ids)
	}
	if got, _, _ := s.GetByTag(ctx, "golang"); len(got) != 0 {
		t.Fatalf("expected exact-match only, got %d records", len(got))
	}
}

func TestGetByAuthor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mark("1", ts)
	b := mark("2", ts.Add(time.Hour))
	b.Author = "bob"
	_, _, _ = s.AddBookmark(ctx, a)
	_, _, _ = s.AddBookmark(ctx, b)

	got, _, err := s.GetByAuthor(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("expected only bob's bookmark, got %+v", got)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, _, err := s.AddBookmark(ctx, mark("1", time.Now().UTC(), "go")); err != nil {
		t.Fatal(err)
	}

	removed, _, err := s.DeleteBookmark(ctx, "1")
	if err != nil || !removed {
		t.Fatalf("expected removed=true, got %v %v", removed, err)
	}
	removed, _, err = s.DeleteBookmark(ctx, "1")
	if err != nil {
		t.Fatalf("second delete errored: %v", err)
	}
	if removed {
		t.Error("expected removed=false for absent id")
	}
	// tag index entries go with the record
	got, _, _ := s.GetByTag(ctx, "go")
	if len(got) != 0 {
		t.Errorf("tag index not cleaned: %v", got)
	}
}

func TestTagCap(t *testing.T) {
	s, err := Open(":memory:", nil, Options{MaxTags: 3})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	stored, _, err := s.AddBookmark(context.Background(),
		mark("1", time.Now().UTC(), "a1", "b2", "c3", "d4", "e5"))
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Tags) != 3 {
		t.Fatalf("expected tags capped at 3, got %v", stored.Tags)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _, _ = s.AddBookmark(ctx, mark("1", time.Now().UTC(), "go", "news"))
	_, _, _ = s.AddBookmark(ctx, mark("2", time.Now().UTC(), "go"))

	st, m, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Bookmarks != 2 || st.TagEntries != 3 {
		t.Errorf("counts mismatch: %+v", st)
	}
	if st.SchemaVersion != schemaVersion || !st.Ready {
		t.Errorf("schema state mismatch: %+v", st)
	}
	if m.Duration <= 0 {
		t.Error("expected measured duration")
	}
}

func TestSlowOpFlag(t *testing.T) {
	s, err := Open(":memory:", nil, Options{SlowOp: time.Nanosecond})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, m, err := s.AddBookmark(context.Background(), mark("1", time.Now().UTC()))
	if err != nil {
		t.Fatal(err)
	}
	if !m.Slow {
		t.Error("expected slow flag with nanosecond threshold")
	}
}

func TestOpsBeforeInit(t *testing.T) {
	s, err := Open(":memory:", nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, _, err := s.GetBookmark(context.Background(), "1"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
