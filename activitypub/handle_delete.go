package activitypub

import (
	"context"
	"log"
)

func (p *Pipeline) handleDelete(ctx context.Context, hc *handlerContext, a *Delete) (*deliveryPlan, error) {
	uri := a.Object.ID
	if uri == "" {
		hc.logf("Delete %s has no object", a.ID)
		return nil, nil
	}
	if uri == hc.actor.URI {
		hc.logf("Ignoring account deletion of %s", hc.actor.Handle)
		return nil, nil
	}

	err, post := p.db.ReadPostByURI(uri)
	if err != nil {
		hc.logf("Delete %s: unknown post %s", a.ID, uri)
		return nil, nil
	}
	if post.ActorId != hc.actor.Id {
		hc.logf("Delete %s by %s of a post it does not own", a.ID, hc.actor.Handle)
		return nil, nil
	}

	if err := p.db.DeletePostById(post.Id); err != nil {
		return nil, err
	}
	if err := p.profiles.InvalidateProfile(ctx, hc.actor.Id); err != nil {
		log.Printf("Inbox: Failed to invalidate profile cache of %s: %v", hc.actor.Handle, err)
	}
	if post.InReplyToId != nil {
		if err, parent := p.db.ReadPostById(*post.InReplyToId); err == nil {
			p.rescore(parent)
		}
	}
	hc.logf("%s deleted %s", hc.actor.Handle, post.URI)

	if hc.inbound() {
		return deliverTo(), nil
	}
	return deliverTo(FollowersRecipient{}), nil
}
