package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Post is a content item, local or cached from a remote server
type Post struct {
	Id           uuid.UUID
	URI          string // ActivityPub object id, globally unique
	ActorId      uuid.UUID
	Content      string // Sanitized HTML
	URL          string // External link for link posts
	InReplyToId  *uuid.UUID
	InReplyToURI string
	Sensitive    bool
	LikeCount    int // Denormalized like count
	BoostCount   int // Denormalized boost count
	Score        float64
	CreatedAt    time.Time
}

func (post *Post) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tURI: %s \n\tActorId: %s \n\tCreatedAt: %s)", post.Id, post.URI, post.ActorId, post.CreatedAt)
}

// IsReply reports whether the post has a reply parent
func (post *Post) IsReply() bool {
	return post.InReplyToId != nil
}

// MediaAttachment belongs to exactly one post
type MediaAttachment struct {
	Id        uuid.UUID
	PostId    uuid.UUID
	URL       string
	MediaType string
	AltText   string
	Width     int // 0 when unknown
	Height    int // 0 when unknown
}

// Hashtag is a normalized lowercase tag
type Hashtag struct {
	Id   int64
	Name string
}

// PinnedPost is a featured post on an actor profile
type PinnedPost struct {
	ActorId  uuid.UUID
	PostId   uuid.UUID
	Position int
}
