package activitypub

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/google/uuid"
)

func (p *Pipeline) handleFollow(ctx context.Context, hc *handlerContext, a *Follow) (*deliveryPlan, error) {
	target, err := p.followTarget(ctx, hc, a.Object.ID)
	if err != nil {
		hc.logf("Follow %s: target %s unresolvable: %v", a.ID, a.Object.ID, err)
		return nil, nil
	}
	if target.Id == hc.actor.Id {
		hc.logf("Ignoring self-follow %s", a.ID)
		return nil, nil
	}

	if err, existing := p.db.ReadFollowByActorIds(hc.actor.Id, target.Id); err == nil {
		hc.logf("%s already follows %s (%s)", hc.actor.Handle, target.Handle, existing.State)
		return nil, nil
	}

	state := domain.FollowPending
	if target.IsLocal() && (target.IsGroup() || p.conf.Conf.AutoAcceptFollows) {
		state = domain.FollowAccepted
	}

	follow := &domain.Follow{
		Id:         uuid.New(),
		FollowerId: hc.actor.Id,
		TargetId:   target.Id,
		URI:        a.ID,
		State:      state,
		CreatedAt:  time.Now(),
	}
	if err := p.db.CreateFollow(follow); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}

	p.notify(domain.NotificationFollow, hc.actor, target, nil)
	hc.logf("%s follows %s (%s)", hc.actor.Handle, target.Handle, state)

	if hc.inbound() {
		if follow.IsAccepted() {
			p.sendAccept(ctx, target, hc.actor, follow)
		}
		return deliverTo(), nil
	}
	if target.IsLocal() {
		return deliverTo(), nil
	}
	return deliverTo(ActorRecipient{Actor: target}), nil
}

// followTarget requires inbound follows to target a local actor
func (p *Pipeline) followTarget(ctx context.Context, hc *handlerContext, uri string) (*domain.Actor, error) {
	if !hc.inbound() {
		return p.actors.GetOrFetchActor(ctx, uri)
	}
	err, target := p.db.ReadActorByURI(uri)
	if err != nil {
		return nil, err
	}
	if !target.IsLocal() {
		return nil, errors.New("not a local actor")
	}
	return target, nil
}

// sendAccept answers a remote follow on behalf of a local actor
func (p *Pipeline) sendAccept(ctx context.Context, local, follower *domain.Actor, follow *domain.Follow) {
	accept, err := p.builder.Accept(local, follow, follower.URI)
	if err != nil {
		log.Printf("Inbox: Failed to build Accept for %s: %v", follow.URI, err)
		return
	}
	record, body, err := p.record(local, accept)
	if err != nil || body == nil {
		log.Printf("Inbox: Failed to record Accept for %s: %v", follow.URI, err)
		return
	}
	p.delivery.Send(ctx, local, []Recipient{ActorRecipient{Actor: follower}}, record.URI, body, OriginInbound)
}

// findFollow locates the follow answered by an Accept or Reject from target
func (p *Pipeline) findFollow(target *domain.Actor, object ObjectRef) *domain.Follow {
	if object.ID != "" {
		if err, follow := p.db.ReadFollowByURI(object.ID); err == nil && follow.TargetId == target.Id {
			return follow
		}
	}

	if object.IsEmbedded() {
		var wrapped Follow
		if err := object.Decode(&wrapped.Envelope); err == nil && wrapped.Actor.ID != "" {
			if err, follower := p.db.ReadActorByURI(wrapped.Actor.ID); err == nil {
				if err, follow := p.db.ReadFollowByActorIds(follower.Id, target.Id); err == nil {
					return follow
				}
			}
		}
	}
	return nil
}

// embeddedNonFollow reports an embedded object that is something other than a Follow
func embeddedNonFollow(object ObjectRef) bool {
	return object.IsEmbedded() && object.Type != "" && object.Type != "Follow"
}

func (p *Pipeline) handleAccept(ctx context.Context, hc *handlerContext, a *Accept) (*deliveryPlan, error) {
	if embeddedNonFollow(a.Object) {
		hc.logf("Ignoring Accept %s of a %s", a.ID, a.Object.Type)
		return nil, nil
	}

	follow := p.findFollow(hc.actor, a.Object)
	if follow == nil {
		if !hc.inbound() {
			hc.logf("Accept %s: no follow request to %s found", a.ID, hc.actor.Handle)
			return nil, nil
		}
		count, err := p.db.AcceptPendingFollowsByTargetId(hc.actor.Id)
		if err != nil {
			return nil, err
		}
		hc.logf("Accept %s from %s matched no follow, accepted %d pending follows", a.ID, hc.actor.Handle, count)
		if count == 0 {
			return nil, nil
		}
		return deliverTo(), nil
	}

	if follow.IsAccepted() {
		hc.logf("Follow %s already accepted", follow.URI)
		return nil, nil
	}
	if err := p.db.AcceptFollowById(follow.Id); err != nil {
		return nil, err
	}
	hc.logf("%s accepted follow %s", hc.actor.Handle, follow.URI)

	if hc.inbound() {
		return deliverTo(), nil
	}
	return deliverTo(p.followerRecipient(follow)...), nil
}

func (p *Pipeline) handleReject(ctx context.Context, hc *handlerContext, a *Reject) (*deliveryPlan, error) {
	if embeddedNonFollow(a.Object) {
		hc.logf("Ignoring Reject %s of a %s", a.ID, a.Object.Type)
		return nil, nil
	}

	follow := p.findFollow(hc.actor, a.Object)
	if follow == nil {
		hc.logf("Reject %s: no follow to %s found", a.ID, hc.actor.Handle)
		return nil, nil
	}

	if err := p.db.DeleteFollowById(follow.Id); err != nil {
		return nil, err
	}
	if err, follower := p.db.ReadActorById(follow.FollowerId); err == nil {
		p.unnotify(domain.NotificationFollow, follower, hc.actor, nil)
	}
	hc.logf("%s rejected follow %s", hc.actor.Handle, follow.URI)

	if hc.inbound() {
		return deliverTo(), nil
	}
	return deliverTo(p.followerRecipient(follow)...), nil
}

func (p *Pipeline) followerRecipient(follow *domain.Follow) []Recipient {
	err, follower := p.db.ReadActorById(follow.FollowerId)
	if err != nil || follower.IsLocal() {
		return nil
	}
	return []Recipient{ActorRecipient{Actor: follower}}
}
