package activitypub

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
)

// Recipient is a delivery target: ActorRecipient, FollowersRecipient or InboxRecipient
type Recipient interface {
	recipient()
}

// ActorRecipient delivers to one actor, preferring its shared inbox
type ActorRecipient struct {
	Actor *domain.Actor
}

// FollowersRecipient delivers to every accepted follower of the sender
type FollowersRecipient struct{}

// InboxRecipient delivers to an explicit inbox URI
type InboxRecipient struct {
	URI string
}

func (ActorRecipient) recipient()     {}
func (FollowersRecipient) recipient() {}
func (InboxRecipient) recipient()     {}

// Origin selects the retry profile of a delivery
type Origin int

const (
	// OriginInbound replies produced while handling a remote activity (Accept for a Follow)
	OriginInbound Origin = iota
	// OriginOutbound activities produced by local users
	OriginOutbound
)

func (o Origin) String() string {
	if o == OriginInbound {
		return "inbound"
	}
	return "outbound"
}

// DeliveryFailure describes a delivery that exhausted its retries or failed permanently
type DeliveryFailure struct {
	Inbox      string
	SenderURI  string
	ActivityID string
	Origin     Origin
	Attempts   int
	Err        error
}

// DispatcherConfig wires a Dispatcher
type DispatcherConfig struct {
	Transport       Transport
	Database        Database
	Pool            *Pool // nil delivers synchronously
	Inbound         util.RetryProfile
	Outbound        util.RetryProfile
	Production      bool
	PageSize        int
	OnDeliveryError func(DeliveryFailure)
}

// Dispatcher fans activities out to remote inboxes
type Dispatcher struct {
	transport  Transport
	db         Database
	pool       *Pool
	profiles   map[Origin]util.RetryProfile
	production bool
	pageSize   int
	onError    func(DeliveryFailure)
}

func NewDispatcher(conf DispatcherConfig) *Dispatcher {
	onError := conf.OnDeliveryError
	if onError == nil {
		onError = func(f DeliveryFailure) {
			log.Printf("Delivery: Giving up on %s to %s after %d attempts: %v", f.ActivityID, f.Inbox, f.Attempts, f.Err)
		}
	}
	pageSize := conf.PageSize
	if pageSize < 1 {
		pageSize = 100
	}
	return &Dispatcher{
		transport:  conf.Transport,
		db:         conf.Database,
		pool:       conf.Pool,
		profiles:   map[Origin]util.RetryProfile{OriginInbound: conf.Inbound, OriginOutbound: conf.Outbound},
		production: conf.Production,
		pageSize:   pageSize,
		onError:    onError,
	}
}

// Send queues one delivery job per distinct remote inbox and returns the number of jobs
func (d *Dispatcher) Send(ctx context.Context, sender *domain.Actor, recipients []Recipient, activityID string, body []byte, origin Origin) int {
	inboxes := d.inboxes(sender, recipients)
	for _, inbox := range inboxes {
		job := func(ctx context.Context) {
			d.deliver(ctx, sender, inbox, activityID, body, origin)
		}
		if d.pool == nil {
			job(ctx)
			continue
		}
		if !d.pool.Submit(job) {
			log.Printf("Delivery: Pool stopped, dropping %s to %s", activityID, inbox)
		}
	}
	return len(inboxes)
}

// inboxes expands recipients into distinct remote inbox URIs
func (d *Dispatcher) inboxes(sender *domain.Actor, recipients []Recipient) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(actor *domain.Actor) {
		if actor == nil || actor.IsLocal() || actor.Id == sender.Id {
			return
		}
		inbox := actor.DeliveryInbox()
		if inbox == "" || seen[inbox] {
			return
		}
		seen[inbox] = true
		out = append(out, inbox)
	}

	for _, r := range recipients {
		switch r := r.(type) {
		case ActorRecipient:
			add(r.Actor)
		case InboxRecipient:
			if r.URI != "" && !seen[r.URI] {
				seen[r.URI] = true
				out = append(out, r.URI)
			}
		case FollowersRecipient:
			for offset := 0; ; offset += d.pageSize {
				err, batch := d.db.ReadFollowersByActorId(sender.Id, d.pageSize, offset)
				if err != nil {
					log.Printf("Delivery: Failed to read followers of %s: %v", sender.Handle, err)
					break
				}
				for i := range *batch {
					add(&(*batch)[i])
				}
				if len(*batch) < d.pageSize {
					break
				}
			}
		}
	}
	return out
}

// suppressedError marks a failure swallowed outside production
type suppressedError struct {
	err error
}

func (e *suppressedError) Error() string { return e.err.Error() }

func (d *Dispatcher) deliver(ctx context.Context, sender *domain.Actor, inbox, activityID string, body []byte, origin Origin) {
	profile := d.profiles[origin]
	maxAttempts := profile.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = profile.InitialBackoff
	b.MaxInterval = profile.MaxBackoff

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := d.transport.Deliver(ctx, sender, inbox, body)
		if err == nil {
			return struct{}{}, nil
		}
		if !d.production && isNonRoutable(inbox, err) {
			return struct{}{}, backoff.Permanent(&suppressedError{err: err})
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if statusErr.Permanent() {
				return struct{}{}, backoff.Permanent(err)
			}
			if statusErr.RetryAfter > 0 {
				return struct{}{}, backoff.RetryAfter(statusErr.RetryAfter)
			}
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("Delivery: Attempt to %s failed, retrying in %s: %v", inbox, next, err)
		}),
	)

	if err == nil {
		log.Printf("Delivery: Delivered %s to %s", activityID, inbox)
		return
	}

	var suppressed *suppressedError
	if errors.As(err, &suppressed) {
		log.Printf("Delivery: Skipping non-routable inbox %s outside production: %v", inbox, suppressed.err)
		return
	}

	d.onError(DeliveryFailure{
		Inbox:      inbox,
		SenderURI:  sender.URI,
		ActivityID: activityID,
		Origin:     origin,
		Attempts:   attempts,
		Err:        err,
	})
}

var nonRoutableSuffixes = []string{".local", ".localhost", ".test", ".example", ".invalid", ".internal"}

// isNonRoutable reports whether a failed delivery points at a development target
func isNonRoutable(inbox string, err error) bool {
	host := util.HostOf(inbox)
	if host == "localhost" || host == "example.com" || host == "example.org" || host == "example.net" {
		return true
	}
	for _, suffix := range nonRoutableSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
