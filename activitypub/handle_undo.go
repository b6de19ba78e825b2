package activitypub

import (
	"context"

	"github.com/deemkeen/tusker/domain"
)

// undoTarget returns the activity being undone, from the embedded object or the activity store
func (p *Pipeline) undoTarget(a *Undo) Activity {
	if a.Object.IsEmbedded() {
		if inner, err := parseActivity(a.Object.Raw, false); err == nil {
			return inner
		}
	}
	if a.Object.ID == "" {
		return nil
	}

	if record := p.gate.Lookup(a.Object.ID); record != nil {
		if inner, err := ParseActivity([]byte(record.RawJSON)); err == nil {
			return inner
		}
	}

	// Follows are stored with their activity URI even when the Follow arrived inbound
	if err, follow := p.db.ReadFollowByURI(a.Object.ID); err == nil {
		err, follower := p.db.ReadActorById(follow.FollowerId)
		if err != nil {
			return nil
		}
		err, target := p.db.ReadActorById(follow.TargetId)
		if err != nil {
			return nil
		}
		return &Follow{Envelope{ID: follow.URI, Type: "Follow", Actor: Ref(follower.URI), Object: Ref(target.URI)}}
	}
	return nil
}

func (p *Pipeline) handleUndo(ctx context.Context, hc *handlerContext, a *Undo) (*deliveryPlan, error) {
	inner := p.undoTarget(a)
	if inner == nil {
		hc.logf("Undo %s: cannot resolve undone activity %s", a.ID, a.Object.ID)
		return nil, nil
	}
	if ActivityActor(inner) != hc.actor.URI {
		hc.logf("Undo %s by %s of an activity by %s rejected", a.ID, hc.actor.Handle, ActivityActor(inner))
		return nil, nil
	}

	switch inner := inner.(type) {
	case *Follow:
		return p.undoFollow(hc, inner)
	case *Like:
		return p.undoLike(hc, inner)
	case *Announce:
		return p.undoAnnounce(hc, inner)
	default:
		hc.logf("Undo %s of unsupported %s", a.ID, ActivityVerb(inner))
		return nil, nil
	}
}

func (p *Pipeline) undoFollow(hc *handlerContext, inner *Follow) (*deliveryPlan, error) {
	err, target := p.db.ReadActorByURI(inner.Object.ID)
	if err != nil {
		hc.logf("Undo Follow: unknown target %s", inner.Object.ID)
		return nil, nil
	}
	err, follow := p.db.ReadFollowByActorIds(hc.actor.Id, target.Id)
	if err != nil {
		hc.logf("Undo Follow: %s does not follow %s", hc.actor.Handle, target.Handle)
		return nil, nil
	}

	if err := p.db.DeleteFollowById(follow.Id); err != nil {
		return nil, err
	}
	p.unnotify(domain.NotificationFollow, hc.actor, target, nil)
	hc.logf("%s unfollowed %s", hc.actor.Handle, target.Handle)

	if hc.inbound() || target.IsLocal() {
		return deliverTo(), nil
	}
	return deliverTo(ActorRecipient{Actor: target}), nil
}

func (p *Pipeline) undoLike(hc *handlerContext, inner *Like) (*deliveryPlan, error) {
	err, post := p.db.ReadPostByURI(inner.Object.ID)
	if err != nil {
		hc.logf("Undo Like: unknown post %s", inner.Object.ID)
		return nil, nil
	}
	err, like := p.db.ReadLikeByActorAndPost(hc.actor.Id, post.Id)
	if err != nil {
		hc.logf("Undo Like: %s does not like %s", hc.actor.Handle, post.URI)
		return nil, nil
	}

	if err := p.db.DeleteLikeById(like.Id); err != nil {
		return nil, err
	}
	p.rescore(post)
	p.unnotify(domain.NotificationLike, hc.actor, p.postAuthor(post), &post.Id)
	hc.logf("%s unliked %s", hc.actor.Handle, post.URI)

	if hc.inbound() {
		return deliverTo(), nil
	}
	return deliverTo(p.remoteAuthor(post)...), nil
}

func (p *Pipeline) undoAnnounce(hc *handlerContext, inner *Announce) (*deliveryPlan, error) {
	err, post := p.db.ReadPostByURI(inner.Object.ID)
	if err != nil {
		hc.logf("Undo Announce: unknown post %s", inner.Object.ID)
		return nil, nil
	}
	err, boost := p.db.ReadBoostByActorAndPost(hc.actor.Id, post.Id)
	if err != nil {
		hc.logf("Undo Announce: %s has not boosted %s", hc.actor.Handle, post.URI)
		return nil, nil
	}

	if err := p.db.DeleteBoostById(boost.Id); err != nil {
		return nil, err
	}
	p.rescore(post)
	p.unnotify(domain.NotificationBoost, hc.actor, p.postAuthor(post), &post.Id)
	hc.logf("%s unboosted %s", hc.actor.Handle, post.URI)

	if hc.inbound() {
		return deliverTo(), nil
	}
	return deliverTo(append([]Recipient{FollowersRecipient{}}, p.remoteAuthor(post)...)...), nil
}
