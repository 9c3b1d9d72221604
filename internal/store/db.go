// Package store implements the durable, concurrent-safe post/engagement/
// moderation store (spec.md §4.F): post-exists checks, idempotent bulk
// insert, paginated listing, cascade-delete by author, size-and-age purge,
// like/interaction bookkeeping, and the spammer/blocked-author registries.
// It supports both SQLite (default, no external dependencies) and
// PostgreSQL (for larger deployments), kept from the teacher's dual-driver
// internal/db/db.go — same pragma set, same connection pool sizing, same
// "?"-vs-"$1" placeholder dispatch — with the schema and methods rewritten
// from the bridge's objects/follows/actor_keys tables to the feed
// generator's posts/likes/replies/reposts/spammers/blocked_authors/
// engagement_cache/user_interactions schema (spec.md §3).
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a database connection and provides all data access methods
// for the feed generator's posts, engagement sidecars, and moderation
// registries.
type Store struct {
	db     *sql.DB
	driver string

	// blockedCache/spammerCache mirror the teacher's sync.Map caching idiom:
	// these sets are read on every ingested event but written rarely, so an
	// in-memory cache avoids a round-trip on the hot path (spec.md §5:
	// "read often; written rarely... reads may see slightly stale state").
	blockedCache sync.Map // did → struct{}
	spammerCache sync.Map // did → struct{}
}

// Open opens a database connection. The URL can be:
//   - A file path like "feed.db" → SQLite
//   - "sqlite:///path/to/file.db" → SQLite
//   - "postgres://..." → PostgreSQL
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if driver == "sqlite" {
		// WAL mode allows concurrent readers alongside the one writer the
		// batch-flush loop uses; busy_timeout makes lock contention retry
		// instead of immediately surfacing SQLITE_BUSY (spec.md §4.F).
		const sqliteMaxConns = 5
		db.SetMaxOpenConns(sqliteMaxConns)
		db.SetMaxIdleConns(sqliteMaxConns)

		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}

		slog.Info("sqlite database opened", "max_conns", sqliteMaxConns)
	} else {
		const postgresMaxConns = 5
		db.SetMaxOpenConns(postgresMaxConns)
		db.SetMaxIdleConns(postgresMaxConns)
	}

	return &Store{db: db, driver: driver}, nil
}

// PoolStats exposes the underlying connection pool's stats for the
// admin/metrics surface.
func (s *Store) PoolStats() sql.DBStats {
	return s.db.Stats()
}

// Migrate runs all pending database migrations.
func (s *Store) Migrate() error {
	slog.Info("running database migrations")
	for _, m := range commonMigrations {
		if _, err := s.db.Exec(m); err != nil {
			if s.driver == "postgres" && strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	slog.Info("migrations complete")
	return nil
}

var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		uri               TEXT NOT NULL UNIQUE,
		author_did        TEXT,
		text              TEXT NOT NULL,
		ts                INTEGER NOT NULL,
		priority          REAL NOT NULL,
		has_media         INTEGER NOT NULL DEFAULT 0,
		image_count       INTEGER NOT NULL DEFAULT 0,
		has_alt_text      INTEGER NOT NULL DEFAULT 0,
		has_video         INTEGER NOT NULL DEFAULT 0,
		is_first_person   INTEGER NOT NULL DEFAULT 0,
		link_count        INTEGER NOT NULL DEFAULT 0,
		promo_link_count  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS posts_ts ON posts(ts)`,
	`CREATE INDEX IF NOT EXISTS posts_author ON posts(author_did)`,
	`CREATE TABLE IF NOT EXISTS likes (
		post_uri TEXT NOT NULL,
		like_uri TEXT NOT NULL UNIQUE
	)`,
	`CREATE INDEX IF NOT EXISTS likes_post_uri ON likes(post_uri)`,
	`CREATE TABLE IF NOT EXISTS replies (
		parent_uri TEXT NOT NULL,
		event_uri  TEXT NOT NULL UNIQUE,
		actor_did  TEXT,
		ts         INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS replies_parent ON replies(parent_uri)`,
	`CREATE TABLE IF NOT EXISTS reposts (
		parent_uri TEXT NOT NULL,
		event_uri  TEXT NOT NULL UNIQUE,
		actor_did  TEXT,
		ts         INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reposts_parent ON reposts(parent_uri)`,
	`CREATE INDEX IF NOT EXISTS reposts_actor_ts ON reposts(actor_did, ts)`,
	`CREATE TABLE IF NOT EXISTS spammers (
		did          TEXT NOT NULL UNIQUE,
		reason       TEXT NOT NULL,
		frequency    REAL,
		flagged_at   INTEGER NOT NULL,
		auto_detected INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS blocked_authors (
		did               TEXT NOT NULL UNIQUE,
		triggering_post_uri TEXT,
		blocked_at        INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS engagement_cache (
		post_uri      TEXT NOT NULL UNIQUE,
		reply_count   INTEGER NOT NULL DEFAULT 0,
		repost_count  INTEGER NOT NULL DEFAULT 0,
		like_count    INTEGER NOT NULL DEFAULT 0,
		velocity_score REAL NOT NULL DEFAULT 0,
		last_updated  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_interactions (
		user_did   TEXT NOT NULL,
		post_uri   TEXT NOT NULL,
		kind       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(user_did, post_uri, kind, created_at)
	)`,
	`CREATE INDEX IF NOT EXISTS user_interactions_user ON user_interactions(user_did, created_at)`,
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ph returns the SQL placeholder token for the nth (1-indexed) argument.
// SQLite always uses "?"; PostgreSQL uses "$1", "$2", ...
func (s *Store) ph(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}

// ─── Posts ────────────────────────────────────────────────────────────────

// Post is the persisted post record (spec.md §3).
type Post struct {
	URI            string
	AuthorDID      string
	Text           string
	Timestamp      int64
	Priority       float32
	HasMedia       bool
	ImageCount     int
	HasAltText     bool
	HasVideo       bool
	IsFirstPerson  bool
	LinkCount      int
	PromoLinkCount int
}

// PostExists reports whether uri is already stored, per invariant 1
// ("duplicate inserts are silently ignored").
func (s *Store) PostExists(uri string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM posts WHERE uri = `+s.ph(1), uri).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertPosts bulk-inserts posts, ignoring any whose uri already exists.
func (s *Store) InsertPosts(posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert posts: %w", err)
	}
	defer tx.Rollback()

	q := s.insertPostQuery()
	stmt, err := tx.Prepare(q)
	if err != nil {
		return fmt.Errorf("prepare insert posts: %w", err)
	}
	defer stmt.Close()

	for _, p := range posts {
		if _, err := stmt.Exec(
			p.URI, nullableString(p.AuthorDID), p.Text, p.Timestamp, p.Priority,
			boolToInt(p.HasMedia), p.ImageCount, boolToInt(p.HasAltText), boolToInt(p.HasVideo),
			boolToInt(p.IsFirstPerson), p.LinkCount, p.PromoLinkCount,
		); err != nil {
			return fmt.Errorf("insert post %s: %w", p.URI, err)
		}
	}
	return tx.Commit()
}

func (s *Store) insertPostQuery() string {
	if s.driver == "sqlite" {
		return `INSERT OR IGNORE INTO posts
			(uri, author_did, text, ts, priority, has_media, image_count, has_alt_text, has_video, is_first_person, link_count, promo_link_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}
	return `INSERT INTO posts
		(uri, author_did, text, ts, priority, has_media, image_count, has_alt_text, has_video, is_first_person, link_count, promo_link_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (uri) DO NOTHING`
}

// AuthorOf returns the author_did of uri, if the post is stored.
func (s *Store) AuthorOf(uri string) (string, bool, error) {
	var author sql.NullString
	err := s.db.QueryRow(`SELECT author_did FROM posts WHERE uri = `+s.ph(1), uri).Scan(&author)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return author.String, true, nil
}

// ListPosts returns every post with ts > cutoff, ordered by ts descending
// then priority descending — a deterministic base order; the ranker
// (internal/ranker) applies its own bucketed/jittered ordering on top.
func (s *Store) ListPosts(cutoff int64) ([]Post, error) {
	rows, err := s.db.Query(
		`SELECT uri, author_did, text, ts, priority, has_media, image_count, has_alt_text, has_video, is_first_person, link_count, promo_link_count
		 FROM posts WHERE ts > `+s.ph(1)+` ORDER BY ts DESC, priority DESC`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		var author sql.NullString
		var hasMedia, hasAlt, hasVideo, isFP int
		if err := rows.Scan(&p.URI, &author, &p.Text, &p.Timestamp, &p.Priority,
			&hasMedia, &p.ImageCount, &hasAlt, &hasVideo, &isFP, &p.LinkCount, &p.PromoLinkCount); err != nil {
			return nil, err
		}
		p.AuthorDID = author.String
		p.HasMedia = hasMedia != 0
		p.HasAltText = hasAlt != 0
		p.HasVideo = hasVideo != 0
		p.IsFirstPerson = isFP != 0
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// DeletePost removes uri, and cascades to its likes, replies, reposts, and
// engagement counters (no true foreign keys — the cascade is application-level
// per spec.md §6's "advisory at the application level").
func (s *Store) DeletePost(uri string) error {
	return s.inTx(func(tx *sql.Tx) error {
		return s.deletePostsByURI(tx, []string{uri})
	})
}

// DeletePostsByAuthor removes every post by authorDID and cascades the same
// way as DeletePost — used when an author is banned (invariant 5).
func (s *Store) DeletePostsByAuthor(authorDID string) error {
	return s.inTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT uri FROM posts WHERE author_did = `+s.ph(1), authorDID)
		if err != nil {
			return err
		}
		var uris []string
		for rows.Next() {
			var uri string
			if err := rows.Scan(&uri); err != nil {
				rows.Close()
				return err
			}
			uris = append(uris, uri)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		return s.deletePostsByURI(tx, uris)
	})
}

func (s *Store) deletePostsByURI(tx *sql.Tx, uris []string) error {
	for _, uri := range uris {
		for _, stmt := range []string{
			`DELETE FROM posts WHERE uri = ` + s.ph(1),
			`DELETE FROM likes WHERE post_uri = ` + s.ph(1),
			`DELETE FROM replies WHERE parent_uri = ` + s.ph(1),
			`DELETE FROM reposts WHERE parent_uri = ` + s.ph(1),
			`DELETE FROM engagement_cache WHERE post_uri = ` + s.ph(1),
			`DELETE FROM user_interactions WHERE post_uri = ` + s.ph(1),
		} {
			if _, err := tx.Exec(stmt, uri); err != nil {
				return fmt.Errorf("cascade delete %s: %w", uri, err)
			}
		}
	}
	return nil
}

// PurgeStale deletes posts older than maxAge and, if the store exceeds
// maxStoredPosts, the oldest excess posts beyond that cap. Mirrors spec.md
// §4.I's periodic size-and-age purge.
func (s *Store) PurgeStale(now int64, maxAgeSeconds int64, maxStoredPosts int) (int, error) {
	var deleted int
	err := s.inTx(func(tx *sql.Tx) error {
		cutoff := now - maxAgeSeconds
		rows, err := tx.Query(`SELECT uri FROM posts WHERE ts < `+s.ph(1), cutoff)
		if err != nil {
			return err
		}
		var ageExpired []string
		for rows.Next() {
			var uri string
			if err := rows.Scan(&uri); err != nil {
				rows.Close()
				return err
			}
			ageExpired = append(ageExpired, uri)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if err := s.deletePostsByURI(tx, ageExpired); err != nil {
			return err
		}
		deleted += len(ageExpired)

		var remaining int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&remaining); err != nil {
			return err
		}
		if remaining <= maxStoredPosts {
			return nil
		}
		excess := remaining - maxStoredPosts
		rows, err = tx.Query(`SELECT uri FROM posts ORDER BY ts ASC LIMIT `+s.ph(1), excess)
		if err != nil {
			return err
		}
		var oldest []string
		for rows.Next() {
			var uri string
			if err := rows.Scan(&uri); err != nil {
				rows.Close()
				return err
			}
			oldest = append(oldest, uri)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if err := s.deletePostsByURI(tx, oldest); err != nil {
			return err
		}
		deleted += len(oldest)
		return nil
	})
	return deleted, err
}

// ─── Likes ────────────────────────────────────────────────────────────────

// InsertLike records a like, but only if its post_uri references a post
// already in the store (invariant 2's application-level pre-check).
func (s *Store) InsertLike(postURI, likeURI string) error {
	exists, err := s.PostExists(postURI)
	if err != nil {
		return fmt.Errorf("check post exists for like: %w", err)
	}
	if !exists {
		return nil
	}
	q := `INSERT INTO likes (post_uri, like_uri) VALUES (` + s.ph(1) + `, ` + s.ph(2) + `)`
	if s.driver == "sqlite" {
		q = `INSERT OR IGNORE INTO likes (post_uri, like_uri) VALUES (?, ?)`
	} else {
		q += ` ON CONFLICT (like_uri) DO NOTHING`
	}
	_, err = s.db.Exec(q, postURI, likeURI)
	return err
}

// DeleteLike removes a like by its like_uri.
func (s *Store) DeleteLike(likeURI string) error {
	_, err := s.db.Exec(`DELETE FROM likes WHERE like_uri = `+s.ph(1), likeURI)
	return err
}

// LikeCount returns the total number of likes recorded for postURI.
func (s *Store) LikeCount(postURI string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM likes WHERE post_uri = `+s.ph(1), postURI).Scan(&n)
	return n, err
}

// ─── Replies / reposts (engagement sidecars) ───────────────────────────────

// InsertReply appends a reply event to the sidecar table.
func (s *Store) InsertReply(parentURI, eventURI, actorDID string, ts int64) error {
	q := `INSERT INTO replies (parent_uri, event_uri, actor_did, ts) VALUES (` +
		s.ph(1) + `, ` + s.ph(2) + `, ` + s.ph(3) + `, ` + s.ph(4) + `)`
	if s.driver == "sqlite" {
		q = `INSERT OR IGNORE INTO replies (parent_uri, event_uri, actor_did, ts) VALUES (?, ?, ?, ?)`
	} else {
		q += ` ON CONFLICT (event_uri) DO NOTHING`
	}
	_, err := s.db.Exec(q, parentURI, eventURI, actorDID, ts)
	return err
}

// InsertRepost appends a repost event to the sidecar table.
func (s *Store) InsertRepost(parentURI, eventURI, actorDID string, ts int64) error {
	q := `INSERT INTO reposts (parent_uri, event_uri, actor_did, ts) VALUES (` +
		s.ph(1) + `, ` + s.ph(2) + `, ` + s.ph(3) + `, ` + s.ph(4) + `)`
	if s.driver == "sqlite" {
		q = `INSERT OR IGNORE INTO reposts (parent_uri, event_uri, actor_did, ts) VALUES (?, ?, ?, ?)`
	} else {
		q += ` ON CONFLICT (event_uri) DO NOTHING`
	}
	_, err := s.db.Exec(q, parentURI, eventURI, actorDID, ts)
	return err
}

// ReplyCount returns the number of replies recorded against parentURI.
func (s *Store) ReplyCount(parentURI string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM replies WHERE parent_uri = `+s.ph(1), parentURI).Scan(&n)
	return n, err
}

// RepostCount returns the number of reposts recorded against parentURI.
func (s *Store) RepostCount(parentURI string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reposts WHERE parent_uri = `+s.ph(1), parentURI).Scan(&n)
	return n, err
}

// RepliesInWindow returns the number of replies to parentURI since sinceTs.
func (s *Store) RepliesInWindow(parentURI string, sinceTs int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM replies WHERE parent_uri = `+s.ph(1)+` AND ts >= `+s.ph(2),
		parentURI, sinceTs,
	).Scan(&n)
	return n, err
}

// RepostsInWindow returns the number of reposts to parentURI since sinceTs.
func (s *Store) RepostsInWindow(parentURI string, sinceTs int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM reposts WHERE parent_uri = `+s.ph(1)+` AND ts >= `+s.ph(2),
		parentURI, sinceTs,
	).Scan(&n)
	return n, err
}

// ActorRepostFrequency returns how many reposts actorDID has made since
// sinceTs, used by the engagement tracker's repost-velocity spam check
// (spec.md §4.G step 3).
func (s *Store) ActorRepostFrequency(actorDID string, sinceTs int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM reposts WHERE actor_did = `+s.ph(1)+` AND ts >= `+s.ph(2),
		actorDID, sinceTs,
	).Scan(&n)
	return n, err
}

// ─── Engagement counters ───────────────────────────────────────────────────

// EngagementCounters is the denormalized projection maintained by the
// engagement tracker (spec.md §3).
type EngagementCounters struct {
	ReplyCount    int
	RepostCount   int
	LikeCount     int
	VelocityScore float64
	LastUpdated   int64
}

// UpsertEngagement writes the current counters for postURI.
func (s *Store) UpsertEngagement(postURI string, c EngagementCounters) error {
	var q string
	if s.driver == "sqlite" {
		q = `INSERT INTO engagement_cache (post_uri, reply_count, repost_count, like_count, velocity_score, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(post_uri) DO UPDATE SET
				reply_count=excluded.reply_count, repost_count=excluded.repost_count,
				like_count=excluded.like_count, velocity_score=excluded.velocity_score,
				last_updated=excluded.last_updated`
	} else {
		q = `INSERT INTO engagement_cache (post_uri, reply_count, repost_count, like_count, velocity_score, last_updated)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (post_uri) DO UPDATE SET
				reply_count=EXCLUDED.reply_count, repost_count=EXCLUDED.repost_count,
				like_count=EXCLUDED.like_count, velocity_score=EXCLUDED.velocity_score,
				last_updated=EXCLUDED.last_updated`
	}
	_, err := s.db.Exec(q, postURI, c.ReplyCount, c.RepostCount, c.LikeCount, c.VelocityScore, c.LastUpdated)
	return err
}

// Engagement returns the current counters for postURI, or a zero value if none exist.
func (s *Store) Engagement(postURI string) (EngagementCounters, error) {
	var c EngagementCounters
	err := s.db.QueryRow(
		`SELECT reply_count, repost_count, like_count, velocity_score, last_updated FROM engagement_cache WHERE post_uri = `+s.ph(1),
		postURI,
	).Scan(&c.ReplyCount, &c.RepostCount, &c.LikeCount, &c.VelocityScore, &c.LastUpdated)
	if err == sql.ErrNoRows {
		return EngagementCounters{}, nil
	}
	return c, err
}

// PurgeStaleEngagement deletes engagement_cache rows and reply/repost events
// older than maxAgeSeconds, returning the total number of rows deleted.
func (s *Store) PurgeStaleEngagement(now, maxAgeSeconds int64) (int64, error) {
	cutoff := now - maxAgeSeconds
	var total int64
	for _, q := range []string{
		`DELETE FROM engagement_cache WHERE last_updated < ` + s.ph(1),
		`DELETE FROM replies WHERE ts < ` + s.ph(1),
		`DELETE FROM reposts WHERE ts < ` + s.ph(1),
	} {
		res, err := s.db.Exec(q, cutoff)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ─── Interactions ───────────────────────────────────────────────────────────

// InteractionKind is one of the three recognized interaction tags
// (spec.md §3 invariant 6; unrecognized kinds are dropped by the caller
// before reaching the store).
type InteractionKind string

const (
	InteractionSeen        InteractionKind = "seen"
	InteractionRequestMore InteractionKind = "request_more"
	InteractionRequestLess InteractionKind = "request_less"
)

// InsertInteraction idempotently records one viewer interaction; duplicates
// of the same (user_did, post_uri, kind, created_at) tuple are silently ignored.
func (s *Store) InsertInteraction(userDID, postURI string, kind InteractionKind, createdAt int64) error {
	q := `INSERT INTO user_interactions (user_did, post_uri, kind, created_at) VALUES (` +
		s.ph(1) + `, ` + s.ph(2) + `, ` + s.ph(3) + `, ` + s.ph(4) + `)`
	if s.driver == "sqlite" {
		q = `INSERT OR IGNORE INTO user_interactions (user_did, post_uri, kind, created_at) VALUES (?, ?, ?, ?)`
	} else {
		q += ` ON CONFLICT (user_did, post_uri, kind, created_at) DO NOTHING`
	}
	_, err := s.db.Exec(q, userDID, postURI, string(kind), createdAt)
	return err
}

// SeenPosts returns the set of post URIs the viewer has marked "seen" since cutoff.
func (s *Store) SeenPosts(userDID string, cutoff int64) (map[string]struct{}, error) {
	rows, err := s.db.Query(
		`SELECT post_uri FROM user_interactions WHERE user_did = `+s.ph(1)+` AND kind = `+s.ph(2)+` AND created_at > `+s.ph(3),
		userDID, string(InteractionSeen), cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := make(map[string]struct{})
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		seen[uri] = struct{}{}
	}
	return seen, rows.Err()
}

// PreferenceSet partitions the authors of posts the viewer has reacted to
// into boosted (request_more) and penalized (request_less) sets, per
// spec.md §4.H step 3.
type PreferenceSet struct {
	Boosted   map[string]struct{}
	Penalized map[string]struct{}
}

// Preferences resolves a viewer's preference set over their interactions since cutoff.
func (s *Store) Preferences(userDID string, cutoff int64) (PreferenceSet, error) {
	prefs := PreferenceSet{Boosted: map[string]struct{}{}, Penalized: map[string]struct{}{}}
	rows, err := s.db.Query(
		`SELECT p.author_did, ui.kind FROM user_interactions ui
		 JOIN posts p ON p.uri = ui.post_uri
		 WHERE ui.user_did = `+s.ph(1)+` AND ui.created_at > `+s.ph(2)+` AND ui.kind IN (`+s.ph(3)+`, `+s.ph(4)+`)`,
		userDID, cutoff, string(InteractionRequestMore), string(InteractionRequestLess),
	)
	if err != nil {
		return prefs, err
	}
	defer rows.Close()
	for rows.Next() {
		var author sql.NullString
		var kind string
		if err := rows.Scan(&author, &kind); err != nil {
			return prefs, err
		}
		if !author.Valid || author.String == "" {
			continue
		}
		switch InteractionKind(kind) {
		case InteractionRequestMore:
			prefs.Boosted[author.String] = struct{}{}
		case InteractionRequestLess:
			prefs.Penalized[author.String] = struct{}{}
		}
	}
	return prefs, rows.Err()
}

// ─── Moderation registries ─────────────────────────────────────────────────

// IsBlocked reports whether did is in the blocked-author registry, checking
// the in-memory cache before the database.
func (s *Store) IsBlocked(did string) bool {
	if _, ok := s.blockedCache.Load(did); ok {
		return true
	}
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM blocked_authors WHERE did = `+s.ph(1), did).Scan(&exists)
	if err == nil {
		s.blockedCache.Store(did, struct{}{})
		return true
	}
	return false
}

// BlockAuthor inserts did into the blocked-author registry and caches the
// membership; the caller is responsible for cascading the author's post
// deletion in the same moderation step (invariant 5).
func (s *Store) BlockAuthor(did, triggeringPostURI string, blockedAt int64) error {
	q := `INSERT INTO blocked_authors (did, triggering_post_uri, blocked_at) VALUES (` +
		s.ph(1) + `, ` + s.ph(2) + `, ` + s.ph(3) + `)`
	if s.driver == "sqlite" {
		q = `INSERT OR IGNORE INTO blocked_authors (did, triggering_post_uri, blocked_at) VALUES (?, ?, ?)`
	} else {
		q += ` ON CONFLICT (did) DO NOTHING`
	}
	if _, err := s.db.Exec(q, did, nullableString(triggeringPostURI), blockedAt); err != nil {
		return err
	}
	s.blockedCache.Store(did, struct{}{})
	return nil
}

// IsSpammer reports whether did is in the spammer registry, checking the
// in-memory cache before the database.
func (s *Store) IsSpammer(did string) bool {
	if _, ok := s.spammerCache.Load(did); ok {
		return true
	}
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM spammers WHERE did = `+s.ph(1), did).Scan(&exists)
	if err == nil {
		s.spammerCache.Store(did, struct{}{})
		return true
	}
	return false
}

// FlagSpammer inserts did into the spammer registry with reason and an
// optional frequency, and caches the membership. Membership alone suffices
// to reject all future posts by that author (spec.md §3).
func (s *Store) FlagSpammer(did, reason string, frequency *float64, flaggedAt int64, autoDetected bool) error {
	q := `INSERT INTO spammers (did, reason, frequency, flagged_at, auto_detected) VALUES (` +
		s.ph(1) + `, ` + s.ph(2) + `, ` + s.ph(3) + `, ` + s.ph(4) + `, ` + s.ph(5) + `)`
	if s.driver == "sqlite" {
		q = `INSERT OR IGNORE INTO spammers (did, reason, frequency, flagged_at, auto_detected) VALUES (?, ?, ?, ?, ?)`
	} else {
		q += ` ON CONFLICT (did) DO NOTHING`
	}
	var freq sql.NullFloat64
	if frequency != nil {
		freq = sql.NullFloat64{Float64: *frequency, Valid: true}
	}
	if _, err := s.db.Exec(q, did, reason, freq, flaggedAt, boolToInt(autoDetected)); err != nil {
		return err
	}
	s.spammerCache.Store(did, struct{}{})
	return nil
}

// PostCount returns the total number of stored posts, for the admin/metrics
// surface.
func (s *Store) PostCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

