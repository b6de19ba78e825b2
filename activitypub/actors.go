package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
	"github.com/google/uuid"
)

const (
	maxDisplayNameRunes = 200
	maxSummaryRunes     = 5000
	actorRefreshAfter   = 24 * time.Hour
)

// ErrActorUnresolvable means an actor description cannot be turned into an Actor
var ErrActorUnresolvable = errors.New("actor unresolvable")

// ActorDescription is an ActivityPub Person or Group document
type ActorDescription struct {
	Context           any             `json:"@context,omitempty"`
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	PreferredUsername string          `json:"preferredUsername"`
	Name              string          `json:"name,omitempty"`
	Summary           string          `json:"summary,omitempty"`
	URL               LinkValue       `json:"url,omitempty"`
	Icon              *ImageRef       `json:"icon,omitempty"`
	Inbox             string          `json:"inbox"`
	Outbox            string          `json:"outbox,omitempty"`
	Followers         string          `json:"followers,omitempty"`
	Following         string          `json:"following,omitempty"`
	Liked             string          `json:"liked,omitempty"`
	Featured          string          `json:"featured,omitempty"`
	ManuallyApproves  bool            `json:"manuallyApprovesFollowers"`
	Endpoints         *ActorEndpoints `json:"endpoints,omitempty"`
	PublicKey         *PublicKey      `json:"publicKey,omitempty"`
}

type ActorEndpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// ImageRef is an icon or image, either a bare URL or an Image object
type ImageRef struct {
	Type      string    `json:"type,omitempty"`
	MediaType string    `json:"mediaType,omitempty"`
	URL       LinkValue `json:"url"`
}

func (i *ImageRef) UnmarshalJSON(b []byte) error {
	var link LinkValue
	if err := link.UnmarshalJSON(b); err != nil {
		return err
	}
	i.URL = link
	return nil
}

// ActorResolver maps actor descriptions onto stored Actors
type ActorResolver struct {
	db     Database
	client HTTPClient
	domain string
}

func NewActorResolver(database Database, client HTTPClient, domain string) *ActorResolver {
	return &ActorResolver{db: database, client: client, domain: domain}
}

// Resolve returns the stored Actor for desc, creating it on first sight.
// Local descriptions never create rows.
func (r *ActorResolver) Resolve(desc *ActorDescription) (*domain.Actor, error) {
	if desc == nil || desc.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrActorUnresolvable)
	}

	host := util.HostOf(desc.ID)
	if host == r.domain && desc.PreferredUsername != "" {
		return r.resolveLocal(desc)
	}

	if desc.Inbox == "" {
		return nil, fmt.Errorf("%w: %s has no inbox", ErrActorUnresolvable, desc.ID)
	}

	if err, existing := r.db.ReadActorByURI(desc.ID); err == nil {
		return existing, nil
	}

	actor := &domain.Actor{Id: uuid.New(), CreatedAt: time.Now()}
	applyDescription(actor, desc)

	if err := r.db.CreateActor(actor); err != nil {
		if errors.Is(err, db.ErrConflict) {
			err, existing := r.db.ReadActorByURI(desc.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to read conflicting actor %s: %w", desc.ID, err)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to store actor %s: %w", desc.ID, err)
	}

	log.Printf("Resolver: Stored remote actor %s", actor.Handle)
	return actor, nil
}

func (r *ActorResolver) resolveLocal(desc *ActorDescription) (*domain.Actor, error) {
	lookups := []func(string) (error, *domain.Actor){r.db.ReadLocalActorByUsername, r.db.ReadLocalCommunityByName}
	if desc.Type == string(domain.ActorGroup) {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}
	for _, lookup := range lookups {
		if err, actor := lookup(desc.PreferredUsername); err == nil {
			return actor, nil
		}
	}
	return nil, fmt.Errorf("%w: no local actor named %s", ErrActorUnresolvable, desc.PreferredUsername)
}

// applyDescription copies the federated fields of desc onto actor
func applyDescription(actor *domain.Actor, desc *ActorDescription) {
	host := util.HostOf(desc.ID)

	actor.URI = desc.ID
	actor.Kind = domain.ActorPerson
	if desc.Type == string(domain.ActorGroup) {
		actor.Kind = domain.ActorGroup
	}
	actor.Username = desc.PreferredUsername
	actor.Domain = host
	actor.Handle = domain.FormatHandle(desc.PreferredUsername, host)
	actor.DisplayName = util.TruncateRunes(desc.Name, maxDisplayNameRunes)
	actor.Summary = util.TruncateRunes(desc.Summary, maxSummaryRunes)
	actor.ProfileURL = string(desc.URL)
	actor.AvatarURL = ""
	if desc.Icon != nil {
		actor.AvatarURL = string(desc.Icon.URL)
	}
	actor.InboxURI = desc.Inbox
	actor.SharedInboxURI = ""
	if desc.Endpoints != nil {
		actor.SharedInboxURI = desc.Endpoints.SharedInbox
	}
	actor.OutboxURI = desc.Outbox
	actor.FollowersURI = desc.Followers
	actor.FeaturedURI = desc.Featured
	if desc.PublicKey != nil {
		actor.PublicKeyPem = desc.PublicKey.PublicKeyPem
	}
	actor.LastFetchedAt = time.Now()
}

// ResolveRef resolves an actor reference, using an embedded description when present
func (r *ActorResolver) ResolveRef(ctx context.Context, ref ObjectRef) (*domain.Actor, error) {
	if ref.IsEmbedded() {
		var desc ActorDescription
		if err := ref.Decode(&desc); err == nil && desc.Inbox != "" {
			return r.Resolve(&desc)
		}
	}
	return r.GetOrFetchActor(ctx, ref.ID)
}

// GetOrFetchActor serves a stored actor, refreshing remote ones older than 24h
func (r *ActorResolver) GetOrFetchActor(ctx context.Context, uri string) (*domain.Actor, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty uri", ErrActorUnresolvable)
	}

	err, cached := r.db.ReadActorByURI(uri)
	if err == nil && (cached.IsLocal() || time.Since(cached.LastFetchedAt) < actorRefreshAfter) {
		return cached, nil
	}
	if util.HostOf(uri) == r.domain {
		return nil, fmt.Errorf("%w: unknown local actor %s", ErrActorUnresolvable, uri)
	}

	actor, fetchErr := r.FetchActor(ctx, uri)
	if fetchErr != nil {
		if cached != nil {
			log.Printf("Resolver: Refresh of %s failed, using cached copy: %v", uri, fetchErr)
			return cached, nil
		}
		return nil, fetchErr
	}
	return actor, nil
}

// FetchActor dereferences uri and stores or refreshes the resulting actor
func (r *ActorResolver) FetchActor(ctx context.Context, uri string) (*domain.Actor, error) {
	var desc ActorDescription
	if err := fetchDocument(ctx, r.client, uri, &desc); err != nil {
		return nil, err
	}
	if desc.ID == "" {
		desc.ID = uri
	}
	// Actors are stored under the URI they were fetched from; a document naming another id could overwrite that actor
	if desc.ID != uri {
		return nil, resolveErr(ResolveRejected, uri, "actor document claims id %s", desc.ID)
	}

	if err, existing := r.db.ReadActorByURI(desc.ID); err == nil && !existing.IsLocal() {
		if desc.Inbox == "" {
			return nil, fmt.Errorf("%w: %s has no inbox", ErrActorUnresolvable, desc.ID)
		}
		applyDescription(existing, &desc)
		if err := r.db.UpdateActor(existing); err != nil {
			return nil, fmt.Errorf("failed to refresh actor %s: %w", desc.ID, err)
		}
		log.Printf("Resolver: Refreshed remote actor %s", existing.Handle)
		return existing, nil
	}

	return r.Resolve(&desc)
}
