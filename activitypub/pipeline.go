package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
	"github.com/google/uuid"
)

// ErrUnknownLocalActor is returned by HandleOutbound for usernames without a local actor
var ErrUnknownLocalActor = errors.New("unknown local actor")

// Deps holds the collaborators of a Pipeline
type Deps struct {
	Database   Database
	Moderator  Moderator
	HTTPClient HTTPClient
	Transport  Transport
	Profiles   ProfileInvalidator
	Previews   LinkPreviewer
	// DeliveryPool runs delivery jobs. Nil delivers synchronously.
	DeliveryPool    *Pool
	OnDeliveryError func(DeliveryFailure)
}

// Pipeline applies inbound and outbound activities to local state and fans them out
type Pipeline struct {
	conf        *util.AppConfig
	db          Database
	moderator   Moderator
	profiles    ProfileInvalidator
	gate        *Gate
	actors      *ActorResolver
	objects     *ObjectResolver
	delivery    *Dispatcher
	collections *Collections
	builder     *Builder
}

func NewPipeline(conf *util.AppConfig, deps Deps) *Pipeline {
	client := deps.HTTPClient
	if client == nil {
		client = NewDefaultHTTPClient(10 * time.Second)
	}
	transport := deps.Transport
	if transport == nil {
		transport = NewSignedTransport(NewDefaultHTTPClient(30 * time.Second))
	}
	profiles := deps.Profiles
	if profiles == nil {
		profiles = noopProfiles{}
	}

	domainName := conf.Conf.SslDomain
	actors := NewActorResolver(deps.Database, client, domainName)
	objects := NewObjectResolver(deps.Database, client, actors, deps.Previews, conf.Conf.MaxContentBytes, conf.Conf.MaxReplyDepth)

	return &Pipeline{
		conf:      conf,
		db:        deps.Database,
		moderator: deps.Moderator,
		profiles:  profiles,
		gate:      NewGate(deps.Database),
		actors:    actors,
		objects:   objects,
		delivery: NewDispatcher(DispatcherConfig{
			Transport:       transport,
			Database:        deps.Database,
			Pool:            deps.DeliveryPool,
			Inbound:         conf.Conf.Delivery.Inbound,
			Outbound:        conf.Conf.Delivery.Outbound,
			Production:      conf.IsProduction(),
			PageSize:        conf.Conf.PageSize,
			OnDeliveryError: deps.OnDeliveryError,
		}),
		collections: NewCollections(deps.Database, objects, client, conf.Conf.PageSize),
		builder:     NewBuilder(domainName),
	}
}

func (p *Pipeline) Actors() *ActorResolver { return p.actors }
func (p *Pipeline) Objects() *ObjectResolver { return p.objects }
func (p *Pipeline) Collections() *Collections { return p.collections }
func (p *Pipeline) Builder() *Builder { return p.builder }
func (p *Pipeline) Gate() *Gate { return p.gate }

// handlerContext carries the direction and acting actor of one activity
type handlerContext struct {
	direction domain.Direction
	actor     *domain.Actor
}

func (h *handlerContext) inbound() bool {
	return h.direction == domain.Inbound
}

func (h *handlerContext) logf(format string, args ...any) {
	prefix := "Outbox: "
	if h.inbound() {
		prefix = "Inbox: "
	}
	log.Printf(prefix+format, args...)
}

// deliveryPlan lists the recipients of a handled activity. A nil plan means the activity was skipped.
type deliveryPlan struct {
	recipients []Recipient
}

func deliverTo(recipients ...Recipient) *deliveryPlan {
	return &deliveryPlan{recipients: recipients}
}

// HandleInbound applies a remote activity. Failures are logged, nothing is delivered back except Accepts.
func (p *Pipeline) HandleInbound(ctx context.Context, raw []byte) error {
	act, err := ParseActivity(raw)
	if err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		return err
	}

	log.Printf("Inbox: Received %s %s from %s", ActivityVerb(act), ActivityID(act), ActivityActor(act))

	actor, err := p.actors.GetOrFetchActor(ctx, ActivityActor(act))
	if err != nil {
		log.Printf("Inbox: Failed to resolve actor %s: %v", ActivityActor(act), err)
		return nil
	}
	if actor.IsLocal() {
		log.Printf("Inbox: Ignoring %s claiming local actor %s", ActivityID(act), actor.Handle)
		return nil
	}

	hc := &handlerContext{direction: domain.Inbound, actor: actor}
	if _, err := p.dispatch(ctx, hc, act); err != nil {
		log.Printf("Inbox: Failed to handle %s %s: %v", ActivityVerb(act), ActivityID(act), err)
	}
	return nil
}

// HandleOutbound applies an activity produced by a local actor, records it and queues its delivery.
// A nil record means the activity had no effect.
func (p *Pipeline) HandleOutbound(ctx context.Context, username string, act Activity) (*domain.ActivityRecord, error) {
	if record := p.gate.Lookup(ActivityID(act)); record != nil {
		log.Printf("Outbox: %s already processed", ActivityID(act))
		return record, nil
	}

	actor, err := p.localActor(username)
	if err != nil {
		return nil, err
	}
	if ActivityActor(act) != actor.URI {
		return nil, fmt.Errorf("activity %s is not by %s", ActivityID(act), actor.URI)
	}

	hc := &handlerContext{direction: domain.Outbound, actor: actor}
	plan, err := p.dispatch(ctx, hc, act)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		log.Printf("Outbox: %s %s had no effect", ActivityVerb(act), ActivityID(act))
		return nil, nil
	}

	record, body, err := p.record(actor, act)
	if err != nil {
		return nil, err
	}
	if body == nil {
		log.Printf("Outbox: %s recorded concurrently, skipping delivery", record.URI)
		return record, nil
	}

	queued := p.delivery.Send(ctx, actor, plan.recipients, record.URI, body, OriginOutbound)
	log.Printf("Outbox: %s %s by %s queued for %d inboxes", record.Verb, record.URI, actor.Handle, queued)
	return record, nil
}

func (p *Pipeline) localActor(username string) (*domain.Actor, error) {
	if err, actor := p.db.ReadLocalActorByUsername(username); err == nil {
		return actor, nil
	}
	if err, community := p.db.ReadLocalCommunityByName(username); err == nil {
		return community, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownLocalActor, username)
}

// record stores an outbound activity. A concurrent duplicate returns the stored record and a nil body.
func (p *Pipeline) record(actor *domain.Actor, act Activity) (*domain.ActivityRecord, []byte, error) {
	body, err := json.Marshal(act)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal activity: %w", err)
	}

	object := ActivityObject(act)
	record := &domain.ActivityRecord{
		Id:         uuid.New(),
		URI:        ActivityID(act),
		Verb:       ActivityVerb(act),
		ActorId:    actor.Id,
		ActorURI:   actor.URI,
		ObjectURI:  object.ID,
		ObjectType: object.Type,
		Direction:  domain.Outbound,
		RawJSON:    string(body),
		CreatedAt:  time.Now(),
	}
	if err := p.db.CreateActivity(record); err != nil {
		if errors.Is(err, db.ErrConflict) {
			if existing := p.gate.Lookup(record.URI); existing != nil {
				return existing, nil, nil
			}
		}
		return nil, nil, fmt.Errorf("failed to record activity: %w", err)
	}
	return record, body, nil
}

func (p *Pipeline) dispatch(ctx context.Context, hc *handlerContext, act Activity) (*deliveryPlan, error) {
	switch a := act.(type) {
	case *Create:
		return p.handleCreate(ctx, hc, a)
	case *Like:
		return p.handleLike(ctx, hc, a)
	case *Announce:
		return p.handleAnnounce(ctx, hc, a)
	case *Follow:
		return p.handleFollow(ctx, hc, a)
	case *Accept:
		return p.handleAccept(ctx, hc, a)
	case *Reject:
		return p.handleReject(ctx, hc, a)
	case *Undo:
		return p.handleUndo(ctx, hc, a)
	case *Delete:
		return p.handleDelete(ctx, hc, a)
	default:
		return nil, fmt.Errorf("unhandled activity type %T", act)
	}
}

// notify records a notification for local targets only
func (p *Pipeline) notify(kind domain.NotificationType, source, target *domain.Actor, postId *uuid.UUID) {
	if target == nil || !target.IsLocal() || source.Id == target.Id {
		return
	}
	n := &domain.Notification{
		Id:               uuid.New(),
		NotificationType: kind,
		SourceActorId:    source.Id,
		TargetActorId:    target.Id,
		PostId:           postId,
		CreatedAt:        time.Now(),
	}
	if err := p.db.CreateNotification(n); err != nil {
		log.Printf("Inbox: Failed to store %s notification for %s: %v", kind, target.Handle, err)
		return
	}
	log.Printf("Inbox: Notified %s: %s", target.Handle, n.Summary(source.Handle))
}

func (p *Pipeline) unnotify(kind domain.NotificationType, source, target *domain.Actor, postId *uuid.UUID) {
	if target == nil || !target.IsLocal() {
		return
	}
	if err := p.db.DeleteNotificationsByKey(kind, source.Id, target.Id, postId); err != nil {
		log.Printf("Inbox: Failed to remove %s notification for %s: %v", kind, target.Handle, err)
	}
}

// rescore recomputes denormalized counts and ranking score from the relation tables
func (p *Pipeline) rescore(post *domain.Post) {
	likes, err := p.db.CountLikesByPostId(post.Id)
	if err != nil {
		log.Printf("Inbox: Failed to count likes of %s: %v", post.URI, err)
		return
	}
	boosts, err := p.db.CountBoostsByPostId(post.Id)
	if err != nil {
		log.Printf("Inbox: Failed to count boosts of %s: %v", post.URI, err)
		return
	}
	replies, err := p.db.CountRepliesByPostId(post.Id)
	if err != nil {
		log.Printf("Inbox: Failed to count replies of %s: %v", post.URI, err)
		return
	}

	post.LikeCount, post.BoostCount = likes, boosts
	post.Score = util.CalculateScore(post.CreatedAt, likes, boosts, replies)
	if err := p.db.UpdatePostEngagement(post.Id, likes, boosts, post.Score); err != nil {
		log.Printf("Inbox: Failed to update engagement of %s: %v", post.URI, err)
	}
}

func (p *Pipeline) postAuthor(post *domain.Post) *domain.Actor {
	err, author := p.db.ReadActorById(post.ActorId)
	if err != nil {
		return nil
	}
	return author
}

// remoteAuthor returns the post's author when it must be delivered to
func (p *Pipeline) remoteAuthor(post *domain.Post) []Recipient {
	author := p.postAuthor(post)
	if author == nil || author.IsLocal() {
		return nil
	}
	return []Recipient{ActorRecipient{Actor: author}}
}
