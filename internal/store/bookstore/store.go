package bookstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"tidemark/internal/metrics"
	"tidemark/internal/model"
	"tidemark/internal/util"
)

var (
	// ErrDuplicate is returned when inserting an id already present.
	ErrDuplicate = errors.New("bookmark id already exists")
	// ErrNotInitialized is returned when an operation runs before Init.
	ErrNotInitialized = errors.New("store not initialized")
)

// OpMetrics is attached to every public operation result. Slow flags
// operations exceeding the configured threshold; it is a warning
// signal, never a failure.
type OpMetrics struct {
	Duration time.Duration `json:"duration"`
	Slow     bool          `json:"slow,omitempty"`
}

// Options tunes the store.
type Options struct {
	// SlowOp flags operations slower than this. Zero disables flagging.
	SlowOp time.Duration
	// MaxTags caps the tags kept per bookmark. Zero means default (20).
	MaxTags int
}

// Store is the transactional, indexed bookmark store backed by SQLite.
// Init must complete before any other operation.
type Store struct {
	sql     *sql.DB
	lg      *zap.Logger
	slowOp  time.Duration
	maxTags int

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool
}

// Open opens (or creates) the database file. Use ":memory:" for tests.
func Open(path string, lg *zap.Logger, opts Options) (*Store, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single connection: sqlite allows one writer, and it keeps
	// ":memory:" databases from splitting across pooled connections.
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	maxTags := opts.MaxTags
	if maxTags <= 0 {
		maxTags = 20
	}
	return &Store{sql: d, lg: lg, slowOp: opts.SlowOp, maxTags: maxTags}, nil
}

func (s *Store) Close() error { return s.sql.Close() }

// schemaVersion is the current schema. Upgrades are additive only;
// migration steps above the stored version are applied in order.
const schemaVersion = 2

var migrations = []string{
	// v1: primary table plus recency index and multi-valued tag index.
	`CREATE TABLE IF NOT EXISTS bookmarks (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		author_id TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		bookmark_ts INTEGER NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		text_tokens TEXT NOT NULL DEFAULT '[]',
		media_urls TEXT NOT NULL DEFAULT '[]',
		likes INTEGER NOT NULL DEFAULT 0,
		retweets INTEGER NOT NULL DEFAULT 0,
		replies INTEGER NOT NULL DEFAULT 0,
		quoted_tweet TEXT NOT NULL DEFAULT '',
		reply_to TEXT NOT NULL DEFAULT '',
		is_quote INTEGER NOT NULL DEFAULT 0,
		is_reply INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_bookmarks_ts ON bookmarks(bookmark_ts);
	CREATE TABLE IF NOT EXISTS bookmark_tags (
		tag TEXT NOT NULL,
		bookmark_id TEXT NOT NULL REFERENCES bookmarks(id) ON DELETE CASCADE,
		PRIMARY KEY (tag, bookmark_id)
	);`,
	// v2: author lookup index.
	`CREATE INDEX IF NOT EXISTS idx_bookmarks_author ON bookmarks(author);`,
}

// Init creates or upgrades the schema. It is idempotent and safe for
// concurrent callers: the first caller runs the migration, the rest
// share its outcome; calls after success return immediately.
func (s *Store) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.migrate(ctx)
		if s.initErr == nil {
			s.ready.Store(true)
		}
	})
	if s.initErr != nil {
		return fmt.Errorf("schema init failed: %w", s.initErr)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.sql.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_info (id INTEGER PRIMARY KEY CHECK (id=1), version INTEGER NOT NULL)`); err != nil {
		return err
	}
	var version int
	err := s.sql.QueryRowContext(ctx, `SELECT version FROM schema_info WHERE id=1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		version = 0
	} else if err != nil {
		return err
	}
	for v := version; v < schemaVersion; v++ {
		tx, err := s.sql.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration to v%d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_info(id, version) VALUES(1, ?) ON CONFLICT(id) DO UPDATE SET version=excluded.version`, v+1); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.lg.Info("schema upgraded", zap.Int("version", v+1))
	}
	return nil
}

// finish records instrumentation for one public operation.
func (s *Store) finish(op string, start time.Time) OpMetrics {
	d := time.Since(start)
	m := OpMetrics{Duration: d, Slow: s.slowOp > 0 && d > s.slowOp}
	metrics.ObserveStoreOp(op, d, m.Slow)
	if m.Slow {
		s.lg.Warn("slow store operation", zap.String("op", op), zap.Duration("duration", d))
	}
	return m
}

func (s *Store) checkReady() error {
	if !s.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

// AddBookmark derives text tokens, defaults the bookmark timestamp and
// tags, and inserts the record. Inserting an id already present fails
// with ErrDuplicate and leaves the stored record untouched.
func (s *Store) AddBookmark(ctx context.Context, rec model.Bookmark) (model.Bookmark, OpMetrics, error) {
	start := time.Now()
	if err := s.checkReady(); err != nil {
		return model.Bookmark{}, s.finish("add", start), err
	}
	if rec.ID == "" {
		return model.Bookmark{}, s.finish("add", start), errors.New("missing bookmark id")
	}
	if rec.BookmarkTS.IsZero() {
		rec.BookmarkTS = time.Now().UTC()
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if len(rec.Tags) > s.maxTags {
		rec.Tags = rec.Tags[:s.maxTags]
	}
	rec.TextTokens = util.Tokenize(rec.Text)
	rec.MediaURLs = util.Dedupe(rec.MediaURLs)

	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return model.Bookmark{}, s.finish("add", start), fmt.Errorf("transaction failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bookmarks WHERE id=?)`, rec.ID).Scan(&exists); err != nil {
		return model.Bookmark{}, s.finish("add", start), fmt.Errorf("transaction failed: %w", err)
	}
	if exists {
		return model.Bookmark{}, s.finish("add", start), ErrDuplicate
	}
	tagsJSON, _ := json.Marshal(rec.Tags)
	tokensJSON, _ := json.Marshal(rec.TextTokens)
	mediaJSON, _ := json.Marshal(rec.MediaURLs)
	if _, err := tx.ExecContext(ctx, `INSERT INTO bookmarks
		(id, text, author, author_id, avatar_url, created_at, bookmark_ts,
		 tags, text_tokens, media_urls, likes, retweets, replies,
		 quoted_tweet, reply_to, is_quote, is_reply)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Text, rec.Author, rec.AuthorID, rec.AvatarURL,
		rec.CreatedAt.UnixNano(), rec.BookmarkTS.UnixNano(),
		string(tagsJSON), string(tokensJSON), string(mediaJSON),
		rec.Likes, rec.Retweets, rec.Replies,
		rec.QuotedTweet, rec.ReplyTo, boolInt(rec.IsQuote), boolInt(rec.IsReply)); err != nil {
		return model.Bookmark{}, s.finish("add", start), fmt.Errorf("transaction failed: %w", err)
	}
	for _, tag := range rec.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO bookmark_tags(tag, bookmark_id) VALUES(?,?)`, tag, rec.ID); err != nil {
			return model.Bookmark{}, s.finish("add", start), fmt.Errorf("transaction failed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Bookmark{}, s.finish("add", start), fmt.Errorf("transaction failed: %w", err)
	}
	return rec, s.finish("add", start), nil
}

// GetBookmark returns the record, or nil when the id is absent.
// Absence is a normal result, not an error.
func (s *Store) GetBookmark(ctx context.Context, id string) (*model.Bookmark, OpMetrics, error) {
	start := time.Now()
	if err := s.checkReady(); err != nil {
		return nil, s.finish("get", start), err
	}
	row := s.sql.QueryRowContext(ctx, selectCols+` FROM bookmarks WHERE id=?`, id)
	rec, err := scanBookmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.finish("get", start), nil
	}
	if err != nil {
		return nil, s.finish("get", start), err
	}
	return &rec, s.finish("get", start), nil
}

// GetRecent returns at most limit records, most recent bookmark
// timestamp first. The scan is bounded by limit.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]model.Bookmark, OpMetrics, error) {
	start := time.Now()
	if err := s.checkReady(); err != nil {
		return nil, s.finish("recent", start), err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sql.QueryContext(ctx, selectCols+` FROM bookmarks ORDER BY bookmark_ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, s.finish("recent", start), err
	}
	out, err := collect(rows)
	return out, s.finish("recent", start), err
}

// GetByTag returns every record whose tags contain tag, via the
// multi-valued tag index.
func (s *Store) GetByTag(ctx context.Context, tag string) ([]model.Bookmark, OpMetrics, error) {
	start := time.Now()
	if err := s.checkReady(); err != nil {
		return nil, s.finish("by_tag", start), err
	}
	rows, err := s.sql.QueryContext(ctx, selectCols+` FROM bookmarks b
		JOIN bookmark_tags t ON t.bookmark_id = b.id WHERE t.tag = ?`, tag)
	if err != nil {
		return nil, s.finish("by_tag", start), err
	}
	out, err := collect(rows)
	return out, s.finish("by_tag", start), err
}

// GetByAuthor returns every record by the given author handle.
func (s *Store) GetByAuthor(ctx context.Context, author string) ([]model.Bookmark, OpMetrics, error) {
	start := time.Now()
	if err := s.checkReady(); err != nil {
		return nil, s.finish("by_author", start), err
	}
	rows, err := s.sql.QueryContext(ctx, selectCols+` FROM bookmarks WHERE author=? ORDER BY bookmark_ts DESC`, author)
	if err != nil {
		return nil, s.finish("by_author", start), err
	}
	out, err := collect(rows)
	return out, s.finish("by_author", start), err
}

// DeleteBookmark removes the record and its tag index entries. It is
// idempotent: deleting an absent id succeeds with removed=false.
func (s *Store) DeleteBookmark(ctx context.Context, id string) (removed bool, m OpMetrics, err error) {
	start := time.Now()
	if err := s.checkReady(); err != nil {
		return false, s.finish("delete", start), err
	}
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return false, s.finish("delete", start), fmt.Errorf("transaction failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM bookmark_tags WHERE bookmark_id=?`, id); err != nil {
		return false, s.finish("delete", start), fmt.Errorf("transaction failed: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM bookmarks WHERE id=?`, id)
	if err != nil {
		return false, s.finish("delete", start), fmt.Errorf("transaction failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, s.finish("delete", start), fmt.Errorf("transaction failed: %w", err)
	}
	return n > 0, s.finish("delete", start), nil
}

// Stats returns per-table counts plus schema version and readiness.
func (s *Store) Stats(ctx context.Context) (model.StoreStats, OpMetrics, error) {
	start := time.Now()
	st := model.StoreStats{Ready: s.ready.Load()}
	if !st.Ready {
		return st, s.finish("stats", start), nil
	}
	if err := s.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks`).Scan(&st.Bookmarks); err != nil {
		return st, s.finish("stats", start), err
	}
	if err := s.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmark_tags`).Scan(&st.TagEntries); err != nil {
		return st, s.finish("stats", start), err
	}
	if err := s.sql.QueryRowContext(ctx, `SELECT version FROM schema_info WHERE id=1`).Scan(&st.SchemaVersion); err != nil {
		return st, s.finish("stats", start), err
	}
	return st, s.finish("stats", start), nil
}

const selectCols = `SELECT id, text, author, author_id, avatar_url, created_at, bookmark_ts,
	tags, text_tokens, media_urls, likes, retweets, replies,
	quoted_tweet, reply_to, is_quote, is_reply`

type rowScanner interface{ Scan(dest ...any) error }

func scanBookmark(r rowScanner) (model.Bookmark, error) {
	var b model.Bookmark
	var createdNS, bookmarkNS int64
	var tagsJSON, tokensJSON, mediaJSON string
	var isQuote, isReply int
	if err := r.Scan(&b.ID, &b.Text, &b.Author, &b.AuthorID, &b.AvatarURL,
		&createdNS, &bookmarkNS, &tagsJSON, &tokensJSON, &mediaJSON,
		&b.Likes, &b.Retweets, &b.Replies,
		&b.QuotedTweet, &b.ReplyTo, &isQuote, &isReply); err != nil {
		return b, err
	}
	b.CreatedAt = time.Unix(0, createdNS).UTC()
	b.BookmarkTS = time.Unix(0, bookmarkNS).UTC()
	b.IsQuote = isQuote != 0
	b.IsReply = isReply != 0
	_ = json.Unmarshal([]byte(tagsJSON), &b.Tags)
	_ = json.Unmarshal([]byte(tokensJSON), &b.TextTokens)
	_ = json.Unmarshal([]byte(mediaJSON), &b.MediaURLs)
	return b, nil
}

func collect(rows *sql.Rows) ([]model.Bookmark, error) {
	defer rows.Close()
	var out []model.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
