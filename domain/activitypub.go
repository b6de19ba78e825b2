package domain

import (
	"time"

	"github.com/google/uuid"
)

// FollowState is the lifecycle state of a follow relation
type FollowState string

const (
	FollowPending  FollowState = "pending"
	FollowAccepted FollowState = "accepted"
)

// Follow represents a follow relationship
type Follow struct {
	Id         uuid.UUID
	FollowerId uuid.UUID // Local or remote actor
	TargetId   uuid.UUID // Local or remote actor
	URI        string    // ActivityPub Follow activity URI
	State      FollowState
	CreatedAt  time.Time
}

// IsAccepted reports whether the target has accepted the follow
func (f *Follow) IsAccepted() bool {
	return f.State == FollowAccepted
}

// Like represents a like/favorite on a post
type Like struct {
	Id        uuid.UUID
	ActorId   uuid.UUID // Who liked (can be local or remote)
	PostId    uuid.UUID // Which post was liked
	URI       string    // ActivityPub Like activity URI
	CreatedAt time.Time
}

// Boost represents a boost/reblog/announce on a post
type Boost struct {
	Id        uuid.UUID
	ActorId   uuid.UUID // Who boosted (can be local or remote)
	PostId    uuid.UUID // Which post was boosted
	URI       string    // ActivityPub Announce activity URI
	CreatedAt time.Time
}

// Direction tells whether an activity arrived from a remote server or was produced locally
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// ActivityRecord is a stored outbound activity envelope.
// Inbound activities are not recorded.
type ActivityRecord struct {
	Id         uuid.UUID
	URI        string // Unique
	Verb       string // Create, Like, Announce, Follow, Accept, Reject, Undo, Delete
	ActorId    uuid.UUID
	ActorURI   string
	ObjectURI  string
	ObjectType string
	Direction  Direction
	RawJSON    string
	CreatedAt  time.Time
}
