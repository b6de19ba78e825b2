package activitypub

import (
	"context"
	"errors"
	"log"

	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
)

func (p *Pipeline) handleCreate(ctx context.Context, hc *handlerContext, a *Create) (*deliveryPlan, error) {
	var (
		post    *domain.Post
		created bool
		err     error
	)

	object := a.Object
	switch {
	case object.IsEmbedded():
		var doc ObjectDoc
		if err := object.Decode(&doc); err != nil {
			hc.logf("Create %s has a malformed object: %v", a.ID, err)
			return nil, nil
		}
		if doc.AttributedTo.ID != "" && doc.AttributedTo.ID != hc.actor.URI {
			hc.logf("Create %s by %s carries an object attributed to %s", a.ID, hc.actor.Handle, doc.AttributedTo.ID)
			return nil, nil
		}
		post, created, err = p.objects.StoreObject(ctx, &doc)
	case object.ID != "":
		post, created, err = p.objects.fetchAndStoreBy(ctx, object.ID, hc.actor.URI, newResolveState())
	default:
		hc.logf("Create %s has no object", a.ID)
		return nil, nil
	}

	if err != nil {
		hc.logf("Discarding Create %s: %v", a.ID, err)
		return nil, nil
	}
	if !created {
		hc.logf("Post %s already known", post.URI)
		return nil, nil
	}
	if post.ActorId != hc.actor.Id {
		hc.logf("Create %s stored a post by another actor", a.ID)
		return nil, nil
	}

	var parent *domain.Post
	var parentAuthor *domain.Actor
	if post.InReplyToId != nil {
		if err, found := p.db.ReadPostById(*post.InReplyToId); err == nil {
			parent = found
			parentAuthor = p.postAuthor(parent)
			p.notify(domain.NotificationReply, hc.actor, parentAuthor, &post.Id)
			p.rescore(parent)
		}
	}

	addressees := Recipients(a)
	if object.IsEmbedded() {
		var doc ObjectDoc
		if err := object.Decode(&doc); err == nil {
			addressees = append(addressees, doc.Addressees()...)
		}
	}

	if hc.inbound() {
		p.submitToCommunities(hc.actor, post, addressees)
		return deliverTo(), nil
	}

	recipients := []Recipient{FollowersRecipient{}}
	if parentAuthor != nil && !parentAuthor.IsLocal() {
		recipients = append(recipients, ActorRecipient{Actor: parentAuthor})
	}
	for _, community := range p.addressedCommunities(addressees) {
		if !community.IsLocal() {
			recipients = append(recipients, ActorRecipient{Actor: community})
		}
	}
	return deliverTo(recipients...), nil
}

// addressedCommunities returns the known communities among the addressees
func (p *Pipeline) addressedCommunities(addressees []string) []*domain.Actor {
	if p.moderator == nil {
		return nil
	}
	seen := make(map[string]bool)
	var communities []*domain.Actor
	for _, uri := range addressees {
		if uri == "" || uri == PublicCollection || seen[uri] {
			continue
		}
		seen[uri] = true
		if err, community := p.moderator.GetCommunityByURI(uri); err == nil {
			communities = append(communities, community)
		}
	}
	return communities
}

// submitToCommunities files a post with every local community it was addressed to that admits the author
func (p *Pipeline) submitToCommunities(author *domain.Actor, post *domain.Post, addressees []string) {
	for _, community := range p.addressedCommunities(addressees) {
		if !community.IsLocal() {
			continue
		}

		decision, err := p.moderator.CanPost(community.Id, author.Id)
		if err != nil {
			log.Printf("Inbox: Moderation check for %s in %s failed: %v", author.Handle, community.Handle, err)
			continue
		}
		if !decision.Allowed {
			log.Printf("Inbox: %s may not post to %s: %s", author.Handle, community.Handle, decision.Reason)
			continue
		}

		autoApprove, err := p.moderator.ShouldAutoApprove(community.Id, author.Id)
		if err != nil {
			log.Printf("Inbox: Auto-approve check for %s failed: %v", community.Handle, err)
			autoApprove = false
		}
		if err := p.moderator.SubmitCommunityPost(community.Id, post.Id, autoApprove); err != nil && !errors.Is(err, db.ErrConflict) {
			log.Printf("Inbox: Failed to submit %s to %s: %v", post.URI, community.Handle, err)
			continue
		}
		log.Printf("Inbox: Submitted %s to %s (auto-approved: %t)", post.URI, community.Handle, autoApprove)
	}
}
