package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/deemkeen/tusker/activitypub"
	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
)

const activityJSON = "application/activity+json; charset=utf-8"

type action uint

const (
	outbox action = iota
	followers
	following
	liked
	featured
)

func collectionIRI(actor *domain.Actor, action action) string {
	switch action {
	case outbox:
		return actor.OutboxURI
	case followers:
		return actor.FollowersURI
	case following:
		return actor.URI + "/following"
	case liked:
		return actor.URI + "/liked"
	case featured:
		return actor.FeaturedURI
	default:
		return ""
	}
}

// ActorDocument renders a local Person or Group with its public key
func ActorDocument(actor *domain.Actor, conf *util.AppConfig) *activitypub.ActorDescription {
	displayName := actor.DisplayName
	if displayName == "" {
		displayName = actor.Username
	}

	doc := &activitypub.ActorDescription{
		Context:           []string{activitypub.ContextActivityStreams, activitypub.ContextSecurity},
		ID:                actor.URI,
		Type:              string(actor.Kind),
		PreferredUsername: actor.Username,
		Name:              displayName,
		Summary:           actor.Summary,
		URL:               activitypub.LinkValue(actor.ProfileURL),
		Inbox:             actor.InboxURI,
		Outbox:            collectionIRI(actor, outbox),
		Followers:         collectionIRI(actor, followers),
		Featured:          collectionIRI(actor, featured),
		Endpoints:         &activitypub.ActorEndpoints{SharedInbox: actor.SharedInboxURI},
		PublicKey: &activitypub.PublicKey{
			ID:           activitypub.KeyId(actor.URI),
			Owner:        actor.URI,
			PublicKeyPem: actor.PublicKeyPem,
		},
	}
	if !actor.IsGroup() {
		doc.Following = collectionIRI(actor, following)
		doc.Liked = collectionIRI(actor, liked)
		doc.ManuallyApproves = !conf.Conf.AutoAcceptFollows
	}
	if actor.AvatarURL != "" {
		doc.Icon = &activitypub.ImageRef{Type: "Image", URL: activitypub.LinkValue(actor.AvatarURL)}
	}
	return doc
}

// NoteDocument renders a stored post as a Note
func NoteDocument(post *domain.Post, author *domain.Actor, store Store, conf *util.AppConfig) *activitypub.ObjectDoc {
	note := &activitypub.ObjectDoc{
		Context:      activitypub.ContextActivityStreams,
		ID:           post.URI,
		Type:         "Note",
		AttributedTo: activitypub.Ref(author.URI),
		Content:      post.Content,
		MediaType:    "text/html",
		URL:          activitypub.LinkValue(post.URL),
		Sensitive:    post.Sensitive,
		Published:    post.CreatedAt.UTC().Format(time.RFC3339),
		To:           activitypub.Addressing{activitypub.PublicCollection},
		Cc:           activitypub.Addressing{author.FollowersURI},
	}
	if post.InReplyToURI != "" {
		parent := activitypub.Ref(post.InReplyToURI)
		note.InReplyTo = &parent
	}

	if err, tags := store.ReadHashtagsByPostId(post.Id); err == nil {
		for _, tag := range tags {
			note.Tag = appendRaw(note.Tag, map[string]string{
				"type": "Hashtag",
				"name": "#" + tag,
				"href": fmt.Sprintf("https://%s/tags/%s", conf.Conf.SslDomain, url.PathEscape(tag)),
			})
		}
	}

	if err, media := store.ReadMediaByPostId(post.Id); err == nil {
		for _, m := range *media {
			attachment := map[string]any{
				"type":      "Document",
				"mediaType": m.MediaType,
				"url":       m.URL,
			}
			if m.AltText != "" {
				attachment["name"] = m.AltText
			}
			if m.Width > 0 && m.Height > 0 {
				attachment["width"], attachment["height"] = m.Width, m.Height
			}
			note.Attachment = appendRaw(note.Attachment, attachment)
		}
	}
	return note
}

func appendRaw(list activitypub.ObjectList, v any) activitypub.ObjectList {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to encode %v: %v", v, err)
		return list
	}
	return append(list, raw)
}

// CollectionDocument renders the root of a collection, linking its first and last pages
func CollectionDocument[T any](id string, page *activitypub.CollectionPage[T]) map[string]any {
	return map[string]any{
		"@context":   activitypub.ContextActivityStreams,
		"id":         id,
		"type":       "OrderedCollection",
		"totalItems": page.TotalItems,
		"first":      pageIRI(id, page.First),
		"last":       pageIRI(id, page.Last),
	}
}

// CollectionPageDocument renders one page of a collection
func CollectionPageDocument[T any](id string, page *activitypub.CollectionPage[T], item func(T) any) map[string]any {
	items := make([]any, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, item(it))
	}

	doc := map[string]any{
		"@context":     activitypub.ContextActivityStreams,
		"id":           pageIRI(id, page.Cursor),
		"type":         "OrderedCollectionPage",
		"partOf":       id,
		"totalItems":   page.TotalItems,
		"orderedItems": items,
	}
	if page.NextCursor != nil {
		doc["next"] = pageIRI(id, *page.NextCursor)
	}
	return doc
}

func pageIRI(id, cursor string) string {
	return fmt.Sprintf("%s?cursor=%s", id, url.QueryEscape(cursor))
}

func actorURI(actor domain.Actor) any { return actor.URI }

func postURI(post domain.Post) any { return post.URI }
