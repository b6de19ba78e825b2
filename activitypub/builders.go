package activitypub

import (
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/tusker/domain"
	"github.com/google/uuid"
)

// Builder constructs outbound activities for local actors
type Builder struct {
	domain string
}

func NewBuilder(domain string) *Builder {
	return &Builder{domain: domain}
}

// ActivityURI returns a fresh id of the form https://domain/activities/<verb>/<uuid>
func (b *Builder) ActivityURI(verb string) string {
	return fmt.Sprintf("https://%s/activities/%s/%s", b.domain, strings.ToLower(verb), uuid.New().String())
}

// PostURI returns the id of a local post
func (b *Builder) PostURI(id uuid.UUID) string {
	return fmt.Sprintf("https://%s/posts/%s", b.domain, id.String())
}

func (b *Builder) envelope(verb string, actor *domain.Actor, object ObjectRef) Envelope {
	return Envelope{
		Context:   ContextActivityStreams,
		ID:        b.ActivityURI(verb),
		Type:      verb,
		Actor:     Ref(actor.URI),
		Object:    object,
		Published: time.Now().UTC().Format(time.RFC3339),
	}
}

// NoteDraft is the local input for a new post
type NoteDraft struct {
	Content   string
	InReplyTo *domain.Post
	Sensitive bool
	CC        []string // Extra addressees such as a community
}

// Create wraps a new Note authored by actor
func (b *Builder) Create(actor *domain.Actor, draft NoteDraft) (*Create, error) {
	note := ObjectDoc{
		ID:           b.PostURI(uuid.New()),
		Type:         "Note",
		AttributedTo: Ref(actor.URI),
		Content:      draft.Content,
		MediaType:    "text/html",
		Sensitive:    draft.Sensitive,
		Published:    time.Now().UTC().Format(time.RFC3339),
		To:           Addressing{PublicCollection},
		Cc:           append(Addressing{actor.FollowersURI}, draft.CC...),
	}
	if draft.InReplyTo != nil {
		parent := Ref(draft.InReplyTo.URI)
		note.InReplyTo = &parent
	}

	object, err := Embed(note)
	if err != nil {
		return nil, err
	}
	act := &Create{b.envelope("Create", actor, object)}
	act.To, act.Cc = note.To, note.Cc
	return act, nil
}

func (b *Builder) Like(actor *domain.Actor, post *domain.Post) *Like {
	return &Like{b.envelope("Like", actor, Ref(post.URI))}
}

func (b *Builder) Announce(actor *domain.Actor, post *domain.Post) *Announce {
	act := &Announce{b.envelope("Announce", actor, Ref(post.URI))}
	act.To = Addressing{PublicCollection}
	act.Cc = Addressing{actor.FollowersURI}
	return act
}

func (b *Builder) Follow(actor *domain.Actor, targetURI string) *Follow {
	return &Follow{b.envelope("Follow", actor, Ref(targetURI))}
}

// followObject embeds the Follow being answered so receivers can match it without a lookup
func followObject(follow *domain.Follow, followerURI, targetURI string) (ObjectRef, error) {
	return Embed(map[string]any{
		"id":     follow.URI,
		"type":   "Follow",
		"actor":  followerURI,
		"object": targetURI,
	})
}

// Accept answers follow on behalf of its target actor
func (b *Builder) Accept(actor *domain.Actor, follow *domain.Follow, followerURI string) (*Accept, error) {
	object, err := followObject(follow, followerURI, actor.URI)
	if err != nil {
		return nil, err
	}
	return &Accept{b.envelope("Accept", actor, object)}, nil
}

// Reject refuses follow on behalf of its target actor
func (b *Builder) Reject(actor *domain.Actor, follow *domain.Follow, followerURI string) (*Reject, error) {
	object, err := followObject(follow, followerURI, actor.URI)
	if err != nil {
		return nil, err
	}
	return &Reject{b.envelope("Reject", actor, object)}, nil
}

// Undo reverts one of actor's own Follow, Like or Announce activities
func (b *Builder) Undo(actor *domain.Actor, inner Activity) (*Undo, error) {
	inner.envelope().Context = nil
	object, err := Embed(inner)
	if err != nil {
		return nil, err
	}
	return &Undo{b.envelope("Undo", actor, object)}, nil
}

// Delete removes one of actor's posts, sent as a Tombstone
func (b *Builder) Delete(actor *domain.Actor, post *domain.Post) (*Delete, error) {
	object, err := Embed(map[string]any{
		"id":   post.URI,
		"type": "Tombstone",
	})
	if err != nil {
		return nil, err
	}
	act := &Delete{b.envelope("Delete", actor, object)}
	act.To = Addressing{PublicCollection}
	act.Cc = Addressing{actor.FollowersURI}
	return act, nil
}
