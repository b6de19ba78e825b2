package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorKind distinguishes people from groups (communities)
type ActorKind string

const (
	ActorPerson ActorKind = "Person"
	ActorGroup  ActorKind = "Group"
)

// Actor is a federated identity, local or remote
type Actor struct {
	Id             uuid.UUID
	URI            string // Stable ActivityPub id, globally unique
	Kind           ActorKind
	Handle         string // @username@host
	Username       string
	Domain         string
	DisplayName    string
	Summary        string
	AvatarURL      string
	ProfileURL     string
	InboxURI       string
	SharedInboxURI string // Optional, used to batch deliveries per server
	OutboxURI      string
	FollowersURI   string
	FeaturedURI    string
	PublicKeyPem   string
	PrivateKeyPem  string     // Only set for local actors
	AccountId      *uuid.UUID // Local-user link (nil for remote actors and communities)
	Local          bool
	LastFetchedAt  time.Time
	CreatedAt      time.Time
}

// IsLocal reports whether the actor is hosted on this server
func (a *Actor) IsLocal() bool {
	return a.Local || a.AccountId != nil
}

// IsGroup reports whether the actor is a community
func (a *Actor) IsGroup() bool {
	return a.Kind == ActorGroup
}

// DeliveryInbox returns the shared inbox when the remote server advertises one
func (a *Actor) DeliveryInbox() string {
	if a.SharedInboxURI != "" {
		return a.SharedInboxURI
	}
	return a.InboxURI
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tURI: %s \n\tHandle: %s \n\tKind: %s)", a.Id, a.URI, a.Handle, a.Kind)
}

// FormatHandle builds the @username@host handle, using "unknown" for a missing username
func FormatHandle(username, host string) string {
	if username == "" {
		username = "unknown"
	}
	return fmt.Sprintf("@%s@%s", username, host)
}
