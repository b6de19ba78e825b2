package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

// ErrConflict is returned when an insert hits a uniqueness constraint.
// Callers on create-if-absent paths treat it as "already exists".
var ErrConflict = errors.New("db: unique constraint conflict")

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const maxBusyRetries = 5

// Open opens the sqlite database at path and applies connection pragmas.
// Migrations are run separately by RunMigrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}
	}

	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			log.Printf("Warning: %s failed: %v", pragma, err)
		}
	}

	return &DB{db: sqlDB}, nil
}

// Close closes the underlying connection pool
func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs f within a transaction, retrying when sqlite reports SQLITE_BUSY
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = db.runTransaction(f)
		if !isBusy(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	return translateError(err)
}

func (db *DB) runTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		if !isUniqueViolation(err) && !isBusy(err) {
			log.Printf("error in transaction: %s", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		log.Printf("error committing transaction: %s", err)
		return err
	}
	return nil
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == sqlitelib.SQLITE_BUSY
	}
	return false
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlitelib.SQLITE_CONSTRAINT:
		return strings.Contains(serr.Error(), "UNIQUE")
	}
	return false
}

func translateError(err error) error {
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

// Actors

const (
	actorColumns = `id, uri, kind, handle, username, domain, display_name, summary, avatar_url, profile_url,
		inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, featured_uri, public_key_pem, private_key_pem,
		account_id, local, last_fetched_at, created_at`

	sqlInsertActor = `INSERT INTO actors(` + actorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActor = `UPDATE actors SET kind = ?, handle = ?, username = ?, display_name = ?, summary = ?, avatar_url = ?,
		profile_url = ?, inbox_uri = ?, shared_inbox_uri = ?, outbox_uri = ?, followers_uri = ?, featured_uri = ?,
		public_key_pem = ?, last_fetched_at = ? WHERE id = ?`
	sqlSelectActorByURI       = `SELECT ` + actorColumns + ` FROM actors WHERE uri = ?`
	sqlSelectActorById        = `SELECT ` + actorColumns + ` FROM actors WHERE id = ?`
	sqlSelectLocalActorByName = `SELECT ` + actorColumns + ` FROM actors WHERE local = 1 AND kind = ? AND username = ?`
	sqlInsertAccount          = `INSERT INTO accounts(id, username, created_at) VALUES (?, ?, ?)`
)

func scanActor(row scanner) (*domain.Actor, error) {
	var a domain.Actor
	var kind, createdAt, lastFetched string
	var accountId uuid.NullUUID
	var local int
	err := row.Scan(&a.Id, &a.URI, &kind, &a.Handle, &a.Username, &a.Domain, &a.DisplayName, &a.Summary,
		&a.AvatarURL, &a.ProfileURL, &a.InboxURI, &a.SharedInboxURI, &a.OutboxURI, &a.FollowersURI,
		&a.FeaturedURI, &a.PublicKeyPem, &a.PrivateKeyPem, &accountId, &local, &lastFetched, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Kind = domain.ActorKind(kind)
	a.Local = local == 1
	if accountId.Valid {
		id := accountId.UUID
		a.AccountId = &id
	}
	a.LastFetchedAt = parseTimestamp(lastFetched)
	a.CreatedAt = parseTimestamp(createdAt)
	return &a, nil
}

func (db *DB) readActor(query string, args ...any) (error, *domain.Actor) {
	actor, err := scanActor(db.db.QueryRow(query, args...))
	if err != nil {
		return err, nil
	}
	return nil, actor
}

// CreateActor inserts an actor. A duplicate URI returns ErrConflict.
func (db *DB) CreateActor(actor *domain.Actor) error {
	if actor.Id == uuid.Nil {
		actor.Id = uuid.New()
	}
	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return insertActor(tx, actor)
	})
}

func insertActor(tx *sql.Tx, a *domain.Actor) error {
	_, err := tx.Exec(sqlInsertActor,
		a.Id.String(), a.URI, string(a.Kind), a.Handle, a.Username, a.Domain, a.DisplayName, a.Summary,
		a.AvatarURL, a.ProfileURL, a.InboxURI, a.SharedInboxURI, a.OutboxURI, a.FollowersURI, a.FeaturedURI,
		a.PublicKeyPem, a.PrivateKeyPem, nullableUUID(a.AccountId), boolToInt(a.IsLocal()),
		formatTime(a.LastFetchedAt), formatTime(a.CreatedAt))
	return err
}

// UpdateActor refreshes the profile fields of an existing actor
func (db *DB) UpdateActor(a *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActor, string(a.Kind), a.Handle, a.Username, a.DisplayName, a.Summary,
			a.AvatarURL, a.ProfileURL, a.InboxURI, a.SharedInboxURI, a.OutboxURI, a.FollowersURI,
			a.FeaturedURI, a.PublicKeyPem, formatTime(a.LastFetchedAt), a.Id.String())
		return err
	})
}

func (db *DB) ReadActorByURI(uri string) (error, *domain.Actor) {
	return db.readActor(sqlSelectActorByURI, uri)
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return db.readActor(sqlSelectActorById, id.String())
}

// ReadLocalActorByUsername returns the local Person actor of a user
func (db *DB) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	return db.readActor(sqlSelectLocalActorByName, string(domain.ActorPerson), username)
}

// ReadLocalCommunityByName returns a local Group actor
func (db *DB) ReadLocalCommunityByName(name string) (error, *domain.Actor) {
	return db.readActor(sqlSelectLocalActorByName, string(domain.ActorGroup), name)
}

// CreateLocalActor provisions a local user (account plus Person actor) or a local community.
// Local URIs are derived from host.
func (db *DB) CreateLocalActor(username string, kind domain.ActorKind, host string, keys *util.RsaKeyPair) (error, *domain.Actor) {
	now := time.Now()
	base := "users"
	if kind == domain.ActorGroup {
		base = "communities"
	}
	uri := fmt.Sprintf("https://%s/%s/%s", host, base, username)

	actor := &domain.Actor{
		Id:             uuid.New(),
		URI:            uri,
		Kind:           kind,
		Handle:         domain.FormatHandle(username, host),
		Username:       username,
		Domain:         host,
		DisplayName:    username,
		ProfileURL:     uri,
		InboxURI:       uri + "/inbox",
		SharedInboxURI: fmt.Sprintf("https://%s/inbox", host),
		OutboxURI:      uri + "/outbox",
		FollowersURI:   uri + "/followers",
		FeaturedURI:    uri + "/featured",
		PublicKeyPem:   keys.Public,
		PrivateKeyPem:  keys.Private,
		Local:          true,
		LastFetchedAt:  now,
		CreatedAt:      now,
	}

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		if kind == domain.ActorPerson {
			accountId := uuid.New()
			if _, err := tx.Exec(sqlInsertAccount, accountId.String(), username, formatTime(now)); err != nil {
				return err
			}
			actor.AccountId = &accountId
		}
		if err := insertActor(tx, actor); err != nil {
			return err
		}
		if kind == domain.ActorGroup {
			_, err := tx.Exec(`INSERT INTO community_settings(actor_id, auto_approve) VALUES (?, 1)`, actor.Id.String())
			return err
		}
		return nil
	})
	if err != nil {
		return err, nil
	}
	return nil, actor
}

// Posts

const (
	postColumns = `id, uri, actor_id, content, url, in_reply_to_id, in_reply_to_uri, sensitive, like_count, boost_count, score, created_at`

	sqlInsertPost         = `INSERT INTO posts(` + postColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdatePost         = `UPDATE posts SET content = ?, url = ?, sensitive = ? WHERE id = ?`
	sqlSelectPostByURI    = `SELECT ` + postColumns + ` FROM posts WHERE uri = ?`
	sqlSelectPostById     = `SELECT ` + postColumns + ` FROM posts WHERE id = ?`
	sqlUpdateEngagement   = `UPDATE posts SET like_count = ?, boost_count = ?, score = ? WHERE id = ?`
	sqlCountReplies       = `SELECT COUNT(*) FROM posts WHERE in_reply_to_id = ?`
	sqlSelectPostsByActor = `SELECT ` + postColumns + ` FROM posts WHERE actor_id = ? ORDER BY created_at DESC LIMIT ?`
	sqlCountLocalPosts    = `SELECT COUNT(*) FROM posts p INNER JOIN actors a ON a.id = p.actor_id WHERE a.local = 1`
	sqlCountLocalActors   = `SELECT COUNT(*) FROM actors WHERE local = 1 AND kind = ?`
	sqlInsertMedia        = `INSERT INTO media_attachments(id, post_id, url, media_type, alt_text, width, height) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectMediaByPost  = `SELECT id, post_id, url, media_type, alt_text, width, height FROM media_attachments WHERE post_id = ? ORDER BY rowid`
	sqlInsertHashtag      = `INSERT INTO hashtags(name, usage_count, last_used_at) VALUES (?, 1, ?) ON CONFLICT(name) DO UPDATE SET usage_count = usage_count + 1, last_used_at = excluded.last_used_at RETURNING id`
	sqlInsertPostHashtag  = `INSERT OR IGNORE INTO post_hashtags(post_id, hashtag_id) VALUES (?, ?)`
	sqlSelectPostHashtags = `SELECT h.name FROM hashtags h INNER JOIN post_hashtags ph ON ph.hashtag_id = h.id WHERE ph.post_id = ? ORDER BY h.name`
	sqlSelectPinnedPosts  = `SELECT p.id, p.uri, p.actor_id, p.content, p.url, p.in_reply_to_id, p.in_reply_to_uri, p.sensitive,
		p.like_count, p.boost_count, p.score, p.created_at
		FROM posts p INNER JOIN pinned_posts pp ON pp.post_id = p.id
		WHERE pp.actor_id = ? ORDER BY pp.position ASC`
	sqlInsertPinnedPost = `INSERT INTO pinned_posts(actor_id, post_id, position) VALUES (?, ?, ?)
		ON CONFLICT(actor_id, post_id) DO UPDATE SET position = excluded.position`
)

func scanPost(row scanner) (*domain.Post, error) {
	var p domain.Post
	var replyTo uuid.NullUUID
	var sensitive int
	var createdAt string
	err := row.Scan(&p.Id, &p.URI, &p.ActorId, &p.Content, &p.URL, &replyTo, &p.InReplyToURI, &sensitive,
		&p.LikeCount, &p.BoostCount, &p.Score, &createdAt)
	if err != nil {
		return nil, err
	}
	if replyTo.Valid {
		id := replyTo.UUID
		p.InReplyToId = &id
	}
	p.Sensitive = sensitive == 1
	p.CreatedAt = parseTimestamp(createdAt)
	return &p, nil
}

func scanPosts(rows *sql.Rows) (error, *[]domain.Post) {
	defer rows.Close()
	posts := []domain.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return err, nil
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return err, &posts
	}
	return nil, &posts
}

// CreatePost inserts a post. A duplicate URI returns ErrConflict.
func (db *DB) CreatePost(post *domain.Post) error {
	if post.Id == uuid.Nil {
		post.Id = uuid.New()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPost, post.Id.String(), post.URI, post.ActorId.String(), post.Content, post.URL,
			nullableUUID(post.InReplyToId), post.InReplyToURI, boolToInt(post.Sensitive), post.LikeCount,
			post.BoostCount, post.Score, formatTime(post.CreatedAt))
		return err
	})
}

// UpdatePost rewrites the mutable content fields of a post
func (db *DB) UpdatePost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePost, post.Content, post.URL, boolToInt(post.Sensitive), post.Id.String())
		return err
	})
}

func (db *DB) ReadPostByURI(uri string) (error, *domain.Post) {
	post, err := scanPost(db.db.QueryRow(sqlSelectPostByURI, uri))
	if err != nil {
		return err, nil
	}
	return nil, post
}

func (db *DB) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	post, err := scanPost(db.db.QueryRow(sqlSelectPostById, id.String()))
	if err != nil {
		return err, nil
	}
	return nil, post
}

// DeletePostById removes a post with its attachments, hashtag links, relations and notifications.
// Replies keep their in_reply_to_uri but lose the local parent link.
func (db *DB) DeletePostById(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		postId := id.String()
		for _, stmt := range []string{
			`DELETE FROM media_attachments WHERE post_id = ?`,
			`DELETE FROM post_hashtags WHERE post_id = ?`,
			`DELETE FROM likes WHERE post_id = ?`,
			`DELETE FROM boosts WHERE post_id = ?`,
			`DELETE FROM notifications WHERE post_id = ?`,
			`DELETE FROM pinned_posts WHERE post_id = ?`,
			`DELETE FROM community_submissions WHERE post_id = ?`,
			`UPDATE posts SET in_reply_to_id = NULL WHERE in_reply_to_id = ?`,
			`DELETE FROM posts WHERE id = ?`,
		} {
			if _, err := tx.Exec(stmt, postId); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdatePostEngagement stores recomputed counters and ranking score
func (db *DB) UpdatePostEngagement(postId uuid.UUID, likes, boosts int, score float64) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateEngagement, likes, boosts, score, postId.String())
		return err
	})
}

func (db *DB) CountRepliesByPostId(postId uuid.UUID) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountReplies, postId.String()).Scan(&count)
	return count, err
}

// ReadPostsByActorId returns the newest posts of an actor
func (db *DB) ReadPostsByActorId(actorId uuid.UUID, limit int) (error, *[]domain.Post) {
	rows, err := db.db.Query(sqlSelectPostsByActor, actorId.String(), limit)
	if err != nil {
		return err, nil
	}
	return scanPosts(rows)
}

func (db *DB) CountLocalPosts() (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountLocalPosts).Scan(&count)
	return count, err
}

func (db *DB) CountLocalActors(kind domain.ActorKind) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountLocalActors, string(kind)).Scan(&count)
	return count, err
}

func (db *DB) CreateMediaAttachment(media *domain.MediaAttachment) error {
	if media.Id == uuid.Nil {
		media.Id = uuid.New()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMedia, media.Id.String(), media.PostId.String(), media.URL, media.MediaType,
			media.AltText, media.Width, media.Height)
		return err
	})
}

func (db *DB) ReadMediaByPostId(postId uuid.UUID) (error, *[]domain.MediaAttachment) {
	rows, err := db.db.Query(sqlSelectMediaByPost, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	media := []domain.MediaAttachment{}
	for rows.Next() {
		var m domain.MediaAttachment
		if err := rows.Scan(&m.Id, &m.PostId, &m.URL, &m.MediaType, &m.AltText, &m.Width, &m.Height); err != nil {
			return err, nil
		}
		media = append(media, m)
	}
	return rows.Err(), &media
}

// CreateOrUpdateHashtag creates a new hashtag or increments usage count if it exists.
// Returns the hashtag ID.
func (db *DB) CreateOrUpdateHashtag(name string) (int64, error) {
	var hashtagId int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		return tx.QueryRow(sqlInsertHashtag, util.NormalizeHashtag(name), formatTime(time.Now())).Scan(&hashtagId)
	})
	return hashtagId, err
}

// LinkPostHashtags creates links between a post and multiple hashtags
func (db *DB) LinkPostHashtags(postId uuid.UUID, hashtagIds []int64) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, hashtagId := range hashtagIds {
			if _, err := tx.Exec(sqlInsertPostHashtag, postId.String(), hashtagId); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadHashtagsByPostId returns all hashtag names for a given post
func (db *DB) ReadHashtagsByPostId(postId uuid.UUID) (error, []string) {
	rows, err := db.db.Query(sqlSelectPostHashtags, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err, nil
		}
		names = append(names, name)
	}
	return rows.Err(), names
}

func (db *DB) ReadPinnedPostsByActorId(actorId uuid.UUID) (error, *[]domain.Post) {
	rows, err := db.db.Query(sqlSelectPinnedPosts, actorId.String())
	if err != nil {
		return err, nil
	}
	return scanPosts(rows)
}

// PinPost features a post on an actor profile at the given position
func (db *DB) PinPost(actorId, postId uuid.UUID, position int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPinnedPost, actorId.String(), postId.String(), position)
		return err
	})
}
