package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/onephotolife/tagserve/pkg/normalize"
)

// ErrInvalidTag is returned when a raw tag normalizes to nothing usable.
var ErrInvalidTag = errors.New("index: tag normalizes to empty key")

// SQLiteStore owns the tags and post_tags tables. All hot paths are single
// statements the driver serializes, so concurrent handlers cannot lose an
// increment.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
	mu      sync.Mutex // guards entropy; ulid reads are not concurrency-safe

	notifyMu sync.RWMutex
	notifier Notifier
}

// NewSQLiteStore opens or creates the tag database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tags (
		key          TEXT PRIMARY KEY,
		display      TEXT NOT NULL,
		count_total  INTEGER NOT NULL DEFAULT 0 CHECK (count_total >= 0),
		last_used_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tags_count ON tags(count_total DESC);

	CREATE TABLE IF NOT EXISTS post_tags (
		post_id    TEXT NOT NULL,
		key        TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (post_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_post_tags_created ON post_tags(created_at);
	CREATE INDEX IF NOT EXISTS idx_post_tags_key ON post_tags(key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SetNotifier wires the in-memory index (or any other listener) into the
// write path. Passed at construction time by the caller; nil disables.
func (s *SQLiteStore) SetNotifier(n Notifier) {
	s.notifyMu.Lock()
	s.notifier = n
	s.notifyMu.Unlock()
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// UpsertUsage normalizes rawTag, then atomically increments its counter and
// refreshes last_used_at, creating the row on first sight with the raw
// spelling as display.
func (s *SQLiteStore) UpsertUsage(ctx context.Context, rawTag string) (Tag, error) {
	key := normalize.NormalizeTag(rawTag)
	if key == "" {
		return Tag{}, ErrInvalidTag
	}
	now := time.Now().UTC()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tags (key, display, count_total, last_used_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			count_total  = count_total + 1,
			last_used_at = excluded.last_used_at
		RETURNING key, display, count_total, last_used_at`,
		key, displayFor(rawTag), now.Format(time.RFC3339))

	t, err := scanTag(row)
	if err != nil {
		return Tag{}, fmt.Errorf("upsert tag %q: %w", key, err)
	}
	s.notifyUsed(t)
	return t, nil
}

// ReleaseUsage decrements the counter for rawTag's key when a post drops
// the tag. The counter floors at zero; the row is never deleted.
func (s *SQLiteStore) ReleaseUsage(ctx context.Context, rawTag string) error {
	key := normalize.NormalizeTag(rawTag)
	if key == "" {
		return ErrInvalidTag
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE tags SET count_total = MAX(count_total - 1, 0)
		WHERE key = ?
		RETURNING key, display, count_total, last_used_at`, key)

	t, err := scanTag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release tag %q: %w", key, err)
	}
	s.notifyReleased(t)
	return nil
}

// RecordPost is the post-persistence hook: it stores one post_tags row per
// distinct key and bumps usage for each. A missing postID gets a ULID.
// Returns the post ID actually recorded.
func (s *SQLiteStore) RecordPost(ctx context.Context, postID string, rawTags []string, createdAt time.Time) (string, error) {
	if postID == "" {
		postID = s.newID()
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	seen := make(map[string]string, len(rawTags))
	order := make([]string, 0, len(rawTags))
	for _, raw := range rawTags {
		key := normalize.NormalizeTag(raw)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = raw
		order = append(order, key)
	}
	if len(order) == 0 {
		return postID, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var used []Tag
	for _, key := range order {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO post_tags (post_id, key, created_at) VALUES (?, ?, ?)`,
			postID, key, createdAt.UTC().Format(time.RFC3339))
		if err != nil {
			return "", fmt.Errorf("record post tag %q: %w", key, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Same tag on the same post counts once.
			continue
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO tags (key, display, count_total, last_used_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET
				count_total  = count_total + 1,
				last_used_at = excluded.last_used_at
			RETURNING key, display, count_total, last_used_at`,
			key, displayFor(seen[key]), createdAt.UTC().Format(time.RFC3339))
		t, err := scanTag(row)
		if err != nil {
			return "", fmt.Errorf("upsert tag %q: %w", key, err)
		}
		used = append(used, t)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	for _, t := range used {
		s.notifyUsed(t)
	}
	return postID, nil
}

// RemovePost deletes a post's tag rows and releases one usage per key.
// Returns the released keys; an unknown post ID yields an empty slice.
func (s *SQLiteStore) RemovePost(ctx context.Context, postID string) ([]string, error) {
	if postID == "" {
		return nil, fmt.Errorf("remove post: empty id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT key FROM post_tags WHERE post_id = ? ORDER BY key ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("remove post %q: %w", postID, err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []string{}, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM post_tags WHERE post_id = ?`, postID); err != nil {
		return nil, fmt.Errorf("remove post %q: %w", postID, err)
	}

	var released []Tag
	for _, key := range keys {
		row := tx.QueryRowContext(ctx, `
			UPDATE tags SET count_total = MAX(count_total - 1, 0)
			WHERE key = ?
			RETURNING key, display, count_total, last_used_at`, key)
		t, err := scanTag(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("release tag %q: %w", key, err)
		}
		released = append(released, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for _, t := range released {
		s.notifyReleased(t)
	}
	return keys, nil
}

// Tags returns every tag row, keys ascending. Used to warm the in-memory
// index at startup and by the snapshot writer.
func (s *SQLiteStore) Tags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, display, count_total, last_used_at FROM tags ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get looks up a single tag by its already-normalized key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Tag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, display, count_total, last_used_at FROM tags WHERE key = ?`, key)
	return scanTag(row)
}

// TagCountsSince groups post_tags usage from `since` onward, count
// descending with key ascending ties. Read-only; never touches tags.
func (s *SQLiteStore) TagCountsSince(ctx context.Context, since time.Time) ([]TagCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, COUNT(*) AS n
		FROM post_tags
		WHERE created_at >= ?
		GROUP BY key
		ORDER BY n DESC, key ASC`,
		since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var c TagCount
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TagCountsDaily buckets post_tags usage from `since` onward by calendar
// day (UTC). Feeds half-life weighting, where a count from six days ago
// must carry less than one from today.
func (s *SQLiteStore) TagCountsDaily(ctx context.Context, since time.Time) ([]TagDayCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, date(created_at) AS day, COUNT(*) AS n
		FROM post_tags
		WHERE created_at >= ?
		GROUP BY key, day
		ORDER BY key ASC, day ASC`,
		since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TagDayCount
	for rows.Next() {
		var c TagDayCount
		var day string
		if err := rows.Scan(&c.Key, &day, &c.Count); err != nil {
			return nil, err
		}
		c.Day, err = time.ParseInLocation(time.DateOnly, day, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse day %q for tag %s: %w", day, c.Key, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// TagCount is one row of the windowed usage aggregation.
type TagCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// TagDayCount is one (tag, day) bucket of the windowed aggregation.
type TagDayCount struct {
	Key   string
	Day   time.Time
	Count int64
}

func (s *SQLiteStore) notifyUsed(t Tag) {
	s.notifyMu.RLock()
	n := s.notifier
	s.notifyMu.RUnlock()
	if n != nil {
		n.TagUsed(t)
	}
}

func (s *SQLiteStore) notifyReleased(t Tag) {
	s.notifyMu.RLock()
	n := s.notifier
	s.notifyMu.RUnlock()
	if n != nil {
		n.TagReleased(t)
	}
}

// displayFor keeps the author's spelling when it survives a trim, falling
// back to the normalized key for degenerate input.
func displayFor(raw string) string {
	d := normalize.Normalize(raw)
	if d == "" {
		return raw
	}
	// Strip hash prefixes but keep the original casing/width for display.
	trimmed := trimHashes(raw)
	if trimmed != "" {
		return trimmed
	}
	return d
}

func trimHashes(s string) string {
	for len(s) > 0 && (s[0] == '#' || s[0] == ' ') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTag(row rowScanner) (Tag, error) {
	var t Tag
	var lastUsed string
	if err := row.Scan(&t.Key, &t.Display, &t.CountTotal, &lastUsed); err != nil {
		return Tag{}, err
	}
	if ts, err := time.Parse(time.RFC3339, lastUsed); err == nil {
		t.LastUsedAt = ts
	} else {
		log.Warnf("tag %s has unparseable last_used_at %q", t.Key, lastUsed)
	}
	return t, nil
}
