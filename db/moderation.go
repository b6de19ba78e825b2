package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/deemkeen/tusker/domain"
	"github.com/google/uuid"
)

// Moderation is the sqlite-backed community gate: bans, auto-approval and submissions.
// It reads actors through the same connection pool as DB.
type Moderation struct {
	db *DB
}

func NewModeration(db *DB) *Moderation {
	return &Moderation{db: db}
}

const (
	sqlSelectCommunityBan = `SELECT COALESCE(reason, '') FROM community_bans WHERE community_id = ? AND actor_id = ?`
	sqlInsertCommunityBan = `INSERT INTO community_bans(community_id, actor_id, reason, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(community_id, actor_id) DO UPDATE SET reason = excluded.reason`
	sqlSelectAutoApprove = `SELECT auto_approve FROM community_settings WHERE actor_id = ?`
	sqlUpsertAutoApprove = `INSERT INTO community_settings(actor_id, auto_approve) VALUES (?, ?)
		ON CONFLICT(actor_id) DO UPDATE SET auto_approve = excluded.auto_approve`
	sqlInsertSubmission = `INSERT INTO community_submissions(id, community_id, post_id, auto_approved, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectSubmissions = `SELECT id, community_id, post_id, auto_approved, state, created_at
		FROM community_submissions WHERE community_id = ? ORDER BY created_at ASC`
	sqlSelectCommunityForPost = `SELECT a.id, a.uri, a.kind, a.handle, a.username, a.domain, a.display_name, a.summary, a.avatar_url,
		a.profile_url, a.inbox_uri, a.shared_inbox_uri, a.outbox_uri, a.followers_uri, a.featured_uri, a.public_key_pem,
		a.private_key_pem, a.account_id, a.local, a.last_fetched_at, a.created_at
		FROM community_submissions s INNER JOIN actors a ON a.id = s.community_id
		WHERE s.post_id = ? ORDER BY s.created_at ASC LIMIT 1`
)

// CanPost rejects banned authors and anything addressed to an actor that is not a community
func (m *Moderation) CanPost(communityId, actorId uuid.UUID) (domain.ModerationDecision, error) {
	err, community := m.db.ReadActorById(communityId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ModerationDecision{Allowed: false, Reason: "unknown community"}, nil
		}
		return domain.ModerationDecision{}, err
	}
	if !community.IsGroup() {
		return domain.ModerationDecision{Allowed: false, Reason: "not a community"}, nil
	}

	var reason string
	err = m.db.db.QueryRow(sqlSelectCommunityBan, communityId.String(), actorId.String()).Scan(&reason)
	switch {
	case err == nil:
		if reason == "" {
			reason = "banned"
		}
		return domain.ModerationDecision{Allowed: false, Reason: reason}, nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.ModerationDecision{Allowed: true}, nil
	default:
		return domain.ModerationDecision{}, err
	}
}

// ShouldAutoApprove defaults to true for communities without settings
func (m *Moderation) ShouldAutoApprove(communityId, actorId uuid.UUID) (bool, error) {
	var autoApprove int
	err := m.db.db.QueryRow(sqlSelectAutoApprove, communityId.String()).Scan(&autoApprove)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return autoApprove == 1, nil
}

// SubmitCommunityPost records the post in the community queue; a repeated submission returns ErrConflict
func (m *Moderation) SubmitCommunityPost(communityId, postId uuid.UUID, autoApproved bool) error {
	state := domain.SubmissionPending
	if autoApproved {
		state = domain.SubmissionApproved
	}
	return m.db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSubmission, uuid.New().String(), communityId.String(), postId.String(),
			boolToInt(autoApproved), string(state), formatTime(time.Now()))
		return err
	})
}

// GetCommunityByURI returns a known Group actor, local or remote
func (m *Moderation) GetCommunityByURI(uri string) (error, *domain.Actor) {
	err, actor := m.db.ReadActorByURI(uri)
	if err != nil {
		return err, nil
	}
	if !actor.IsGroup() {
		return sql.ErrNoRows, nil
	}
	return nil, actor
}

func (m *Moderation) GetCommunityByName(name string) (error, *domain.Actor) {
	return m.db.ReadLocalCommunityByName(name)
}

// GetCommunityForPost returns the first community a post was submitted to
func (m *Moderation) GetCommunityForPost(postId uuid.UUID) (error, *domain.Actor) {
	actor, err := scanActor(m.db.db.QueryRow(sqlSelectCommunityForPost, postId.String()))
	if err != nil {
		return err, nil
	}
	return nil, actor
}

// BanActor stops an actor from submitting to a community
func (m *Moderation) BanActor(communityId, actorId uuid.UUID, reason string) error {
	return m.db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertCommunityBan, communityId.String(), actorId.String(), reason, formatTime(time.Now()))
		return err
	})
}

func (m *Moderation) SetAutoApprove(communityId uuid.UUID, autoApprove bool) error {
	return m.db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertAutoApprove, communityId.String(), boolToInt(autoApprove))
		return err
	})
}

// ReadSubmissionsByCommunityId lists the queue of one community, oldest first
func (m *Moderation) ReadSubmissionsByCommunityId(communityId uuid.UUID) (error, *[]domain.CommunitySubmission) {
	rows, err := m.db.db.Query(sqlSelectSubmissions, communityId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	submissions := []domain.CommunitySubmission{}
	for rows.Next() {
		var s domain.CommunitySubmission
		var autoApproved int
		var state, createdAt string
		if err := rows.Scan(&s.Id, &s.CommunityId, &s.PostId, &autoApproved, &state, &createdAt); err != nil {
			return err, nil
		}
		s.AutoApproved = autoApproved == 1
		s.State = domain.SubmissionState(state)
		s.CreatedAt = parseTimestamp(createdAt)
		submissions = append(submissions, s)
	}
	return rows.Err(), &submissions
}
