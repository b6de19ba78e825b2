package activitypub

import (
	"context"
	"net/http"
	"time"

	"github.com/deemkeen/tusker/cache"
	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/google/uuid"
)

// Database defines the database operations required by the ActivityPub package.
// This interface allows for dependency injection and testing with mock implementations.
type Database interface {
	// Actor operations
	CreateActor(actor *domain.Actor) error
	UpdateActor(actor *domain.Actor) error
	ReadActorByURI(uri string) (error, *domain.Actor)
	ReadActorById(id uuid.UUID) (error, *domain.Actor)
	ReadLocalActorByUsername(username string) (error, *domain.Actor)
	ReadLocalCommunityByName(name string) (error, *domain.Actor)

	// Post operations
	CreatePost(post *domain.Post) error
	UpdatePost(post *domain.Post) error
	ReadPostByURI(uri string) (error, *domain.Post)
	ReadPostById(id uuid.UUID) (error, *domain.Post)
	DeletePostById(id uuid.UUID) error
	UpdatePostEngagement(postId uuid.UUID, likes, boosts int, score float64) error
	CountRepliesByPostId(postId uuid.UUID) (int, error)
	CreateMediaAttachment(media *domain.MediaAttachment) error
	CreateOrUpdateHashtag(name string) (int64, error)
	LinkPostHashtags(postId uuid.UUID, hashtagIds []int64) error
	ReadPinnedPostsByActorId(actorId uuid.UUID) (error, *[]domain.Post)

	// Follow operations
	CreateFollow(follow *domain.Follow) error
	ReadFollowByURI(uri string) (error, *domain.Follow)
	ReadFollowByActorIds(followerId, targetId uuid.UUID) (error, *domain.Follow)
	AcceptFollowById(id uuid.UUID) error
	AcceptPendingFollowsByTargetId(targetId uuid.UUID) (int64, error)
	DeleteFollowById(id uuid.UUID) error
	CountFollowersByActorId(actorId uuid.UUID) (int, error)
	CountFollowingByActorId(actorId uuid.UUID) (int, error)
	ReadFollowersByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.Actor)
	ReadFollowingByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.Actor)

	// Like and boost operations
	CreateLike(like *domain.Like) error
	ReadLikeByActorAndPost(actorId, postId uuid.UUID) (error, *domain.Like)
	DeleteLikeById(id uuid.UUID) error
	CountLikesByPostId(postId uuid.UUID) (int, error)
	CountLikedByActorId(actorId uuid.UUID) (int, error)
	ReadLikedPostsByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post)
	CreateBoost(boost *domain.Boost) error
	ReadBoostByActorAndPost(actorId, postId uuid.UUID) (error, *domain.Boost)
	DeleteBoostById(id uuid.UUID) error
	CountBoostsByPostId(postId uuid.UUID) (int, error)

	// Notification operations
	CreateNotification(n *domain.Notification) error
	DeleteNotificationsByKey(kind domain.NotificationType, sourceId, targetId uuid.UUID, postId *uuid.UUID) error

	// Activity operations
	CreateActivity(activity *domain.ActivityRecord) error
	ReadActivityByURI(uri string) (error, *domain.ActivityRecord)
	CountOutboxByActorId(actorId uuid.UUID) (int, error)
	ReadOutboxByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.ActivityRecord)
}

// Moderator decides whether posts addressed to a community are accepted.
// The storage-backed implementation is db.Moderation.
type Moderator interface {
	CanPost(communityId, actorId uuid.UUID) (domain.ModerationDecision, error)
	ShouldAutoApprove(communityId, actorId uuid.UUID) (bool, error)
	SubmitCommunityPost(communityId, postId uuid.UUID, autoApproved bool) error
	GetCommunityByURI(uri string) (error, *domain.Actor)
	GetCommunityByName(name string) (error, *domain.Actor)
	GetCommunityForPost(postId uuid.UUID) (error, *domain.Actor)
}

// ProfileInvalidator drops cached profile views of an actor
type ProfileInvalidator interface {
	InvalidateProfile(ctx context.Context, actorId uuid.UUID) error
}

// HTTPClient defines the HTTP client operations required by the ActivityPub package.
// This interface allows for dependency injection and testing with mock implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient is the default HTTP client used in production
type DefaultHTTPClient struct {
	client *http.Client
}

// NewDefaultHTTPClient creates a new default HTTP client with the specified timeout
func NewDefaultHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Do executes the HTTP request
func (c *DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

type noopProfiles struct{}

func (noopProfiles) InvalidateProfile(context.Context, uuid.UUID) error { return nil }

var (
	_ Database           = (*db.DB)(nil)
	_ Moderator          = (*db.Moderation)(nil)
	_ ProfileInvalidator = (*cache.ProfileCache)(nil)
)
