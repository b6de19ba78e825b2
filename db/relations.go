package db

import (
	"database/sql"
	"time"

	"github.com/deemkeen/tusker/domain"
	"github.com/google/uuid"
)

// Follow queries
const (
	followColumns = `id, follower_id, target_id, uri, state, created_at`

	sqlInsertFollow            = `INSERT INTO follows(` + followColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollowByURI       = `SELECT ` + followColumns + ` FROM follows WHERE uri = ?`
	sqlSelectFollowByActorIds  = `SELECT ` + followColumns + ` FROM follows WHERE follower_id = ? AND target_id = ?`
	sqlAcceptFollowById        = `UPDATE follows SET state = 'accepted' WHERE id = ?`
	sqlAcceptPendingByTargetId = `UPDATE follows SET state = 'accepted' WHERE target_id = ? AND state = 'pending'`
	sqlDeleteFollowById        = `DELETE FROM follows WHERE id = ?`
	sqlCountFollowers          = `SELECT COUNT(*) FROM follows WHERE target_id = ? AND state = 'accepted'`
	sqlCountFollowing          = `SELECT COUNT(*) FROM follows WHERE follower_id = ? AND state = 'accepted'`
	sqlSelectFollowers         = `SELECT a.id, a.uri, a.kind, a.handle, a.username, a.domain, a.display_name, a.summary, a.avatar_url,
		a.profile_url, a.inbox_uri, a.shared_inbox_uri, a.outbox_uri, a.followers_uri, a.featured_uri, a.public_key_pem,
		a.private_key_pem, a.account_id, a.local, a.last_fetched_at, a.created_at
		FROM follows f INNER JOIN actors a ON a.id = f.follower_id
		WHERE f.target_id = ? AND f.state = 'accepted'
		ORDER BY f.created_at ASC, f.id ASC LIMIT ? OFFSET ?`
	sqlSelectFollowing = `SELECT a.id, a.uri, a.kind, a.handle, a.username, a.domain, a.display_name, a.summary, a.avatar_url,
		a.profile_url, a.inbox_uri, a.shared_inbox_uri, a.outbox_uri, a.followers_uri, a.featured_uri, a.public_key_pem,
		a.private_key_pem, a.account_id, a.local, a.last_fetched_at, a.created_at
		FROM follows f INNER JOIN actors a ON a.id = f.target_id
		WHERE f.follower_id = ? AND f.state = 'accepted'
		ORDER BY f.created_at ASC, f.id ASC LIMIT ? OFFSET ?`
)

func scanFollow(row scanner) (*domain.Follow, error) {
	var f domain.Follow
	var state, createdAt string
	if err := row.Scan(&f.Id, &f.FollowerId, &f.TargetId, &f.URI, &state, &createdAt); err != nil {
		return nil, err
	}
	f.State = domain.FollowState(state)
	f.CreatedAt = parseTimestamp(createdAt)
	return &f, nil
}

// CreateFollow inserts a follow relation. An existing (follower, target) pair returns ErrConflict.
func (db *DB) CreateFollow(follow *domain.Follow) error {
	if follow.Id == uuid.Nil {
		follow.Id = uuid.New()
	}
	if follow.State == "" {
		follow.State = domain.FollowPending
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow, follow.Id.String(), follow.FollowerId.String(), follow.TargetId.String(),
			follow.URI, string(follow.State), formatTime(follow.CreatedAt))
		return err
	})
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.Follow) {
	follow, err := scanFollow(db.db.QueryRow(sqlSelectFollowByURI, uri))
	if err != nil {
		return err, nil
	}
	return nil, follow
}

func (db *DB) ReadFollowByActorIds(followerId, targetId uuid.UUID) (error, *domain.Follow) {
	follow, err := scanFollow(db.db.QueryRow(sqlSelectFollowByActorIds, followerId.String(), targetId.String()))
	if err != nil {
		return err, nil
	}
	return nil, follow
}

func (db *DB) AcceptFollowById(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowById, id.String())
		return err
	})
}

// AcceptPendingFollowsByTargetId accepts every pending follow of target and returns how many changed
func (db *DB) AcceptPendingFollowsByTargetId(targetId uuid.UUID) (int64, error) {
	var affected int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlAcceptPendingByTargetId, targetId.String())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (db *DB) DeleteFollowById(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowById, id.String())
		return err
	})
}

func (db *DB) CountFollowersByActorId(actorId uuid.UUID) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountFollowers, actorId.String()).Scan(&count)
	return count, err
}

func (db *DB) CountFollowingByActorId(actorId uuid.UUID) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountFollowing, actorId.String()).Scan(&count)
	return count, err
}

// ReadFollowersByActorId returns one page of accepted followers in follow order
func (db *DB) ReadFollowersByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.Actor) {
	return db.readActors(sqlSelectFollowers, actorId.String(), limit, offset)
}

// ReadFollowingByActorId returns one page of accepted follow targets in follow order
func (db *DB) ReadFollowingByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.Actor) {
	return db.readActors(sqlSelectFollowing, actorId.String(), limit, offset)
}

func (db *DB) readActors(query string, args ...any) (error, *[]domain.Actor) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	actors := []domain.Actor{}
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return err, nil
		}
		actors = append(actors, *actor)
	}
	if err := rows.Err(); err != nil {
		return err, &actors
	}
	return nil, &actors
}

// Like and boost queries
const (
	sqlInsertLike        = `INSERT INTO likes(id, actor_id, post_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectLikeByActor = `SELECT id, actor_id, post_id, uri, created_at FROM likes WHERE actor_id = ? AND post_id = ?`
	sqlDeleteLikeById    = `DELETE FROM likes WHERE id = ?`
	sqlCountLikesByPost  = `SELECT COUNT(*) FROM likes WHERE post_id = ?`
	sqlCountLikesByActor = `SELECT COUNT(*) FROM likes WHERE actor_id = ?`
	sqlSelectLikedPosts  = `SELECT p.id, p.uri, p.actor_id, p.content, p.url, p.in_reply_to_id, p.in_reply_to_uri, p.sensitive,
		p.like_count, p.boost_count, p.score, p.created_at
		FROM likes l INNER JOIN posts p ON p.id = l.post_id
		WHERE l.actor_id = ? ORDER BY l.created_at DESC, l.id ASC LIMIT ? OFFSET ?`
	sqlInsertBoost        = `INSERT INTO boosts(id, actor_id, post_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectBoostByActor = `SELECT id, actor_id, post_id, uri, created_at FROM boosts WHERE actor_id = ? AND post_id = ?`
	sqlDeleteBoostById    = `DELETE FROM boosts WHERE id = ?`
	sqlCountBoostsByPost  = `SELECT COUNT(*) FROM boosts WHERE post_id = ?`
)

// CreateLike adds a like relation. A second like of the same post by the same actor returns ErrConflict.
func (db *DB) CreateLike(like *domain.Like) error {
	if like.Id == uuid.Nil {
		like.Id = uuid.New()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLike, like.Id.String(), like.ActorId.String(), like.PostId.String(), like.URI,
			formatTime(like.CreatedAt))
		return err
	})
}

func (db *DB) ReadLikeByActorAndPost(actorId, postId uuid.UUID) (error, *domain.Like) {
	var like domain.Like
	var createdAt string
	err := db.db.QueryRow(sqlSelectLikeByActor, actorId.String(), postId.String()).
		Scan(&like.Id, &like.ActorId, &like.PostId, &like.URI, &createdAt)
	if err != nil {
		return err, nil
	}
	like.CreatedAt = parseTimestamp(createdAt)
	return nil, &like
}

func (db *DB) DeleteLikeById(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLikeById, id.String())
		return err
	})
}

func (db *DB) CountLikesByPostId(postId uuid.UUID) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountLikesByPost, postId.String()).Scan(&count)
	return count, err
}

func (db *DB) CountLikedByActorId(actorId uuid.UUID) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountLikesByActor, actorId.String()).Scan(&count)
	return count, err
}

// ReadLikedPostsByActorId returns one page of posts the actor liked, newest like first
func (db *DB) ReadLikedPostsByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post) {
	rows, err := db.db.Query(sqlSelectLikedPosts, actorId.String(), limit, offset)
	if err != nil {
		return err, nil
	}
	return scanPosts(rows)
}

// CreateBoost adds a boost relation. A repeated boost returns ErrConflict.
func (db *DB) CreateBoost(boost *domain.Boost) error {
	if boost.Id == uuid.Nil {
		boost.Id = uuid.New()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertBoost, boost.Id.String(), boost.ActorId.String(), boost.PostId.String(), boost.URI,
			formatTime(boost.CreatedAt))
		return err
	})
}

func (db *DB) ReadBoostByActorAndPost(actorId, postId uuid.UUID) (error, *domain.Boost) {
	var boost domain.Boost
	var createdAt string
	err := db.db.QueryRow(sqlSelectBoostByActor, actorId.String(), postId.String()).
		Scan(&boost.Id, &boost.ActorId, &boost.PostId, &boost.URI, &createdAt)
	if err != nil {
		return err, nil
	}
	boost.CreatedAt = parseTimestamp(createdAt)
	return nil, &boost
}

func (db *DB) DeleteBoostById(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteBoostById, id.String())
		return err
	})
}

func (db *DB) CountBoostsByPostId(postId uuid.UUID) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountBoostsByPost, postId.String()).Scan(&count)
	return count, err
}

// Notification queries
const (
	sqlInsertNotification = `INSERT INTO notifications(id, notification_type, source_actor_id, target_actor_id, post_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`
	sqlDeleteNotificationsByKey = `DELETE FROM notifications
		WHERE notification_type = ? AND source_actor_id = ? AND target_actor_id = ? AND post_id IS ?`
	sqlSelectNotificationsByTarget = `SELECT id, notification_type, source_actor_id, target_actor_id, post_id, read, created_at
		FROM notifications WHERE target_actor_id = ? ORDER BY created_at DESC LIMIT ?`
)

func (db *DB) CreateNotification(n *domain.Notification) error {
	if n.Id == uuid.Nil {
		n.Id = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNotification, n.Id.String(), string(n.NotificationType), n.SourceActorId.String(),
			n.TargetActorId.String(), nullableUUID(n.PostId), formatTime(n.CreatedAt))
		return err
	})
}

// DeleteNotificationsByKey removes the notifications an Undo retracts
func (db *DB) DeleteNotificationsByKey(kind domain.NotificationType, sourceId, targetId uuid.UUID, postId *uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNotificationsByKey, string(kind), sourceId.String(), targetId.String(), nullableUUID(postId))
		return err
	})
}

func (db *DB) ReadNotificationsByActorId(actorId uuid.UUID, limit int) (error, *[]domain.Notification) {
	rows, err := db.db.Query(sqlSelectNotificationsByTarget, actorId.String(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	notifications := []domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		var kind, createdAt string
		var postId uuid.NullUUID
		var read int
		if err := rows.Scan(&n.Id, &kind, &n.SourceActorId, &n.TargetActorId, &postId, &read, &createdAt); err != nil {
			return err, nil
		}
		n.NotificationType = domain.NotificationType(kind)
		if postId.Valid {
			id := postId.UUID
			n.PostId = &id
		}
		n.Read = read == 1
		n.CreatedAt = parseTimestamp(createdAt)
		notifications = append(notifications, n)
	}
	return rows.Err(), &notifications
}

// Activity queries
const (
	activityColumns = `id, uri, verb, actor_id, actor_uri, object_uri, object_type, direction, raw_json, created_at`

	sqlInsertActivity      = `INSERT INTO activities(` + activityColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityByURI = `SELECT ` + activityColumns + ` FROM activities WHERE uri = ?`
	sqlCountOutbox         = `SELECT COUNT(*) FROM activities WHERE actor_id = ? AND direction = 'outbound'`
	sqlSelectOutbox        = `SELECT ` + activityColumns + ` FROM activities WHERE actor_id = ? AND direction = 'outbound'
		ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
)

func scanActivity(row scanner) (*domain.ActivityRecord, error) {
	var a domain.ActivityRecord
	var direction, createdAt string
	err := row.Scan(&a.Id, &a.URI, &a.Verb, &a.ActorId, &a.ActorURI, &a.ObjectURI, &a.ObjectType, &direction,
		&a.RawJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Direction = domain.Direction(direction)
	a.CreatedAt = parseTimestamp(createdAt)
	return &a, nil
}

// CreateActivity records an outbound activity. A duplicate URI returns ErrConflict.
func (db *DB) CreateActivity(a *domain.ActivityRecord) error {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity, a.Id.String(), a.URI, a.Verb, a.ActorId.String(), a.ActorURI,
			a.ObjectURI, a.ObjectType, string(a.Direction), a.RawJSON, formatTime(a.CreatedAt))
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.ActivityRecord) {
	activity, err := scanActivity(db.db.QueryRow(sqlSelectActivityByURI, uri))
	if err != nil {
		return err, nil
	}
	return nil, activity
}

func (db *DB) CountOutboxByActorId(actorId uuid.UUID) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountOutbox, actorId.String()).Scan(&count)
	return count, err
}

// ReadOutboxByActorId returns one page of stored outbound activities, newest first
func (db *DB) ReadOutboxByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.ActivityRecord) {
	rows, err := db.db.Query(sqlSelectOutbox, actorId.String(), limit, offset)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	activities := []domain.ActivityRecord{}
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return err, nil
		}
		activities = append(activities, *activity)
	}
	return rows.Err(), &activities
}
