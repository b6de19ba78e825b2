package activitypub

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/google/uuid"
)

// Announces of these sub-resources are activity echoes from Lemmy-style servers, not shares of a post
var ignoredAnnouncePattern = regexp.MustCompile(`/activities/(like|dislike|undo)/`)

func (p *Pipeline) handleLike(ctx context.Context, hc *handlerContext, a *Like) (*deliveryPlan, error) {
	err, post := p.db.ReadPostByURI(a.Object.ID)
	if err != nil {
		hc.logf("Like %s targets unknown post %s", a.ID, a.Object.ID)
		return nil, nil
	}

	if err, _ := p.db.ReadLikeByActorAndPost(hc.actor.Id, post.Id); err == nil {
		hc.logf("%s already likes %s", hc.actor.Handle, post.URI)
		return nil, nil
	}

	like := &domain.Like{
		Id:        uuid.New(),
		ActorId:   hc.actor.Id,
		PostId:    post.Id,
		URI:       a.ID,
		CreatedAt: time.Now(),
	}
	if err := p.db.CreateLike(like); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}

	p.rescore(post)
	author := p.postAuthor(post)
	p.notify(domain.NotificationLike, hc.actor, author, &post.Id)
	hc.logf("%s liked %s", hc.actor.Handle, post.URI)

	if hc.inbound() {
		return deliverTo(), nil
	}
	return deliverTo(p.remoteAuthor(post)...), nil
}

func (p *Pipeline) handleAnnounce(ctx context.Context, hc *handlerContext, a *Announce) (*deliveryPlan, error) {
	uri := a.Object.ID
	if uri == "" || ignoredAnnouncePattern.MatchString(uri) {
		hc.logf("Ignoring Announce %s of %s", a.ID, uri)
		return nil, nil
	}

	object := a.Object
	switch object.Type {
	case "Create", "Update":
		// Groups announce the envelope of a post rather than the post itself
		var envelope struct {
			Object ObjectRef `json:"object"`
		}
		if err := object.Decode(&envelope); err != nil || envelope.Object.ID == "" {
			hc.logf("Ignoring Announce %s of a %s without object", a.ID, object.Type)
			return nil, nil
		}
		object = envelope.Object
	default:
		if _, err := newActivity(object.Type); err == nil {
			hc.logf("Ignoring Announce %s wrapping a %s activity", a.ID, object.Type)
			return nil, nil
		}
	}

	post, err := p.resolveAnnounced(ctx, object, hc.actor.URI)
	if err != nil {
		hc.logf("Announce %s: cannot resolve %s: %v", a.ID, object.ID, err)
		return nil, nil
	}

	if err, _ := p.db.ReadBoostByActorAndPost(hc.actor.Id, post.Id); err == nil {
		hc.logf("%s already boosted %s", hc.actor.Handle, post.URI)
		return nil, nil
	}

	boost := &domain.Boost{
		Id:        uuid.New(),
		ActorId:   hc.actor.Id,
		PostId:    post.Id,
		URI:       a.ID,
		CreatedAt: time.Now(),
	}
	if err := p.db.CreateBoost(boost); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}

	p.rescore(post)
	author := p.postAuthor(post)
	p.notify(domain.NotificationBoost, hc.actor, author, &post.Id)
	hc.logf("%s boosted %s", hc.actor.Handle, post.URI)

	if hc.inbound() {
		return deliverTo(), nil
	}
	return deliverTo(append([]Recipient{FollowersRecipient{}}, p.remoteAuthor(post)...)...), nil
}

// resolveAnnounced finds or fetches the announced post. origin is the announcing actor.
func (p *Pipeline) resolveAnnounced(ctx context.Context, object ObjectRef, origin string) (*domain.Post, error) {
	if err, post := p.db.ReadPostByURI(object.ID); err == nil {
		return post, nil
	}

	if object.IsEmbedded() {
		var doc ObjectDoc
		if err := object.Decode(&doc); err == nil && doc.AttributedTo.ID != "" {
			return p.objects.StoreEmbedded(ctx, &doc, origin)
		}
	}

	id, err := p.objects.FetchAndStore(ctx, object.ID)
	if err != nil {
		return nil, err
	}
	err, post := p.db.ReadPostById(id)
	return post, err
}
