package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotificationFollow NotificationType = "follow"
	NotificationLike   NotificationType = "like"
	NotificationBoost  NotificationType = "boost"
	NotificationReply  NotificationType = "reply"
)

// Notification is a side effect of Like/Boost/Follow/Reply, removed again by the matching Undo
type Notification struct {
	Id               uuid.UUID
	NotificationType NotificationType
	SourceActorId    uuid.UUID  // The actor that triggered the notification (local or remote)
	TargetActorId    uuid.UUID  // The local actor receiving the notification
	PostId           *uuid.UUID // Reference to the post (for like/boost/reply)
	Read             bool
	CreatedAt        time.Time
}

// TypeLabel returns a human-readable label for the notification type
func (n *Notification) TypeLabel() string {
	switch n.NotificationType {
	case NotificationFollow:
		return "followed you"
	case NotificationLike:
		return "liked your post"
	case NotificationBoost:
		return "boosted your post"
	case NotificationReply:
		return "replied to your post"
	default:
		return ""
	}
}

// Summary returns a one-line summary of the notification
func (n *Notification) Summary(sourceHandle string) string {
	return fmt.Sprintf("%s %s", sourceHandle, n.TypeLabel())
}

// SubmissionState is the moderation state of a community submission
type SubmissionState string

const (
	SubmissionPending  SubmissionState = "pending"
	SubmissionApproved SubmissionState = "approved"
)

// CommunitySubmission links a post to the community it was addressed to
type CommunitySubmission struct {
	Id           uuid.UUID
	CommunityId  uuid.UUID
	PostId       uuid.UUID
	AutoApproved bool
	State        SubmissionState
	CreatedAt    time.Time
}
