package activitypub

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"time"

	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
	"github.com/google/uuid"
)

// ObjectDoc is a Note-like ActivityPub object, or a Create/Update wrapping one
type ObjectDoc struct {
	Context      any               `json:"@context,omitempty"`
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	AttributedTo ObjectRef         `json:"attributedTo"`
	Name         string            `json:"name,omitempty"`
	Content      string            `json:"content,omitempty"`
	ContentMap   map[string]string `json:"contentMap,omitempty"`
	MediaType    string            `json:"mediaType,omitempty"`
	URL          LinkValue         `json:"url,omitempty"`
	InReplyTo    *ObjectRef        `json:"inReplyTo,omitempty"`
	Sensitive    bool              `json:"sensitive,omitempty"`
	Published    string            `json:"published,omitempty"`
	To           Addressing        `json:"to,omitempty"`
	Cc           Addressing        `json:"cc,omitempty"`
	Audience     Addressing        `json:"audience,omitempty"`
	Tag          ObjectList        `json:"tag,omitempty"`
	Attachment   ObjectList        `json:"attachment,omitempty"`
	Object       *ObjectRef        `json:"object,omitempty"`
}

// Addressees returns every collection or actor the object is addressed to
func (o *ObjectDoc) Addressees() []string {
	all := make([]string, 0, len(o.To)+len(o.Cc)+len(o.Audience))
	all = append(all, o.To...)
	all = append(all, o.Cc...)
	return append(all, o.Audience...)
}

func (o *ObjectDoc) inReplyTo() string {
	if o.InReplyTo == nil {
		return ""
	}
	return o.InReplyTo.ID
}

func (o *ObjectDoc) body() string {
	if o.Content != "" {
		return o.Content
	}
	for _, content := range o.ContentMap {
		return content
	}
	return ""
}

// ObjectResolver fetches remote posts and stores them root first
type ObjectResolver struct {
	db              Database
	client          HTTPClient
	actors          *ActorResolver
	previews        LinkPreviewer
	maxContentBytes int
	maxDepth        int
}

func NewObjectResolver(database Database, client HTTPClient, actors *ActorResolver, previews LinkPreviewer, maxContentBytes, maxDepth int) *ObjectResolver {
	return &ObjectResolver{
		db:              database,
		client:          client,
		actors:          actors,
		previews:        previews,
		maxContentBytes: maxContentBytes,
		maxDepth:        maxDepth,
	}
}

// resolveState tracks one reply-chain walk
type resolveState struct {
	visited map[string]bool
	depth   int
}

func newResolveState() *resolveState {
	return &resolveState{visited: make(map[string]bool)}
}

func (s *resolveState) parent() *resolveState {
	return &resolveState{visited: s.visited, depth: s.depth + 1}
}

// FetchAndStore returns the id of the post at uri, fetching and storing it (and its reply parents) if unknown
func (r *ObjectResolver) FetchAndStore(ctx context.Context, uri string) (uuid.UUID, error) {
	post, _, err := r.fetchAndStore(ctx, uri, newResolveState())
	if err != nil {
		return uuid.Nil, err
	}
	return post.Id, nil
}

// StoreObject stores an already dereferenced object. created is false when the post existed.
func (r *ObjectResolver) StoreObject(ctx context.Context, doc *ObjectDoc) (post *domain.Post, created bool, err error) {
	st := newResolveState()
	st.visited[doc.ID] = true
	return r.store(ctx, doc, st)
}

// StoreEmbedded stores an object embedded in a document served from origin.
// An object whose id names another host is fetched from there instead.
func (r *ObjectResolver) StoreEmbedded(ctx context.Context, doc *ObjectDoc, origin string) (*domain.Post, error) {
	if doc.ID == "" {
		return nil, resolveErr(ResolveNotFound, origin, "embedded object without id")
	}
	if util.HostOf(doc.ID) == util.HostOf(origin) {
		post, _, err := r.StoreObject(ctx, doc)
		return post, err
	}
	post, _, err := r.fetchAndStore(ctx, doc.ID, newResolveState())
	return post, err
}

func (r *ObjectResolver) fetchAndStore(ctx context.Context, uri string, st *resolveState) (*domain.Post, bool, error) {
	return r.fetchAndStoreBy(ctx, uri, "", st)
}

// fetchAndStoreBy is fetchAndStore that, when author is set, stores nothing unless the object is attributed to author
func (r *ObjectResolver) fetchAndStoreBy(ctx context.Context, uri, author string, st *resolveState) (*domain.Post, bool, error) {
	if err, existing := r.db.ReadPostByURI(uri); err == nil {
		return existing, false, nil
	}
	if st.visited[uri] {
		return nil, false, resolveErr(ResolveRejected, uri, "reply cycle")
	}
	if st.depth > r.maxDepth {
		return nil, false, resolveErr(ResolveRejected, uri, "reply chain deeper than %d", r.maxDepth)
	}
	st.visited[uri] = true

	doc, err := r.fetchObject(ctx, uri)
	if err != nil {
		return nil, false, err
	}
	if author != "" && doc.AttributedTo.ID != author {
		return nil, false, resolveErr(ResolveRejected, doc.ID, "attributed to %q, not %s", doc.AttributedTo.ID, author)
	}
	if doc.ID != uri {
		if err, existing := r.db.ReadPostByURI(doc.ID); err == nil {
			return existing, false, nil
		}
		st.visited[doc.ID] = true
	}
	return r.store(ctx, doc, st)
}

func objectID(doc *ObjectDoc) string { return doc.ID }

// fetchObject dereferences uri, following a Create/Update wrapper once.
// Every document is taken from the host its id names.
func (r *ObjectResolver) fetchObject(ctx context.Context, uri string) (*ObjectDoc, error) {
	doc, err := fetchFromOrigin(ctx, r.client, uri, objectID)
	if err != nil {
		return nil, err
	}
	if doc.Type != "Create" && doc.Type != "Update" {
		if doc.ID == "" {
			doc.ID = uri
		}
		return doc, nil
	}

	if doc.Object == nil || doc.Object.ID == "" {
		return nil, resolveErr(ResolveNotFound, uri, "%s without object id", doc.Type)
	}
	inner := doc.Object.ID
	object, err := fetchFromOrigin(ctx, r.client, inner, objectID)
	if err != nil {
		return nil, err
	}
	if object.Type == "Create" || object.Type == "Update" {
		return nil, resolveErr(ResolveNotFound, inner, "nested %s wrapper", object.Type)
	}
	if object.ID == "" {
		object.ID = inner
	}
	return object, nil
}

// renderContent returns the HTML body for supported object types
func renderContent(doc *ObjectDoc) (string, bool) {
	switch doc.Type {
	case "Note", "Question":
		return doc.body(), true
	case "Article", "Page":
		if doc.Name == "" {
			return doc.body(), true
		}
		return "<p><strong>" + html.EscapeString(doc.Name) + "</strong></p>" + doc.body(), true
	default:
		return "", false
	}
}

func (r *ObjectResolver) store(ctx context.Context, doc *ObjectDoc, st *resolveState) (*domain.Post, bool, error) {
	if doc.ID == "" {
		return nil, false, resolveErr(ResolveNotFound, "", "object without id")
	}
	if err, existing := r.db.ReadPostByURI(doc.ID); err == nil {
		return existing, false, nil
	}

	content, ok := renderContent(doc)
	if !ok {
		return nil, false, resolveErr(ResolveUnsupported, doc.ID, "object type %q", doc.Type)
	}

	if authorHost := util.HostOf(doc.AttributedTo.ID); authorHost != "" && authorHost != util.HostOf(doc.ID) {
		return nil, false, resolveErr(ResolveRejected, doc.ID, "attributed to %s on another host", doc.AttributedTo.ID)
	}
	author, err := r.actors.ResolveRef(ctx, doc.AttributedTo)
	if err != nil {
		return nil, false, &ResolveError{Kind: ResolveNotFound, URI: doc.ID, Err: fmt.Errorf("author unresolvable: %w", err)}
	}

	content, err = util.ValidateContent(content, r.maxContentBytes)
	if err != nil {
		return nil, false, &ResolveError{Kind: ResolveRejected, URI: doc.ID, Err: err}
	}

	post := &domain.Post{
		Id:        uuid.New(),
		URI:       doc.ID,
		ActorId:   author.Id,
		Content:   content,
		Sensitive: doc.Sensitive,
		CreatedAt: parsePublished(doc.Published),
	}

	if parentURI := doc.inReplyTo(); parentURI != "" {
		parent, _, err := r.fetchAndStore(ctx, parentURI, st.parent())
		if err != nil {
			return nil, false, fmt.Errorf("reply parent of %s: %w", doc.ID, err)
		}
		post.InReplyToId = &parent.Id
		post.InReplyToURI = parentURI
	}

	if err := r.db.CreatePost(post); err != nil {
		if errors.Is(err, db.ErrConflict) {
			if err, existing := r.db.ReadPostByURI(doc.ID); err == nil {
				return existing, false, nil
			}
		}
		return nil, false, resolveErr(ResolveTransient, doc.ID, "failed to store post: %w", err)
	}

	r.storeHashtags(post, doc)
	r.storeAttachments(ctx, post, doc)

	log.Printf("Resolver: Stored %s %s by %s", doc.Type, doc.ID, author.Handle)
	return post, true, nil
}

func parsePublished(published string) time.Time {
	if published == "" {
		return time.Now()
	}
	t, err := time.Parse(time.RFC3339, published)
	if err != nil {
		return time.Now()
	}
	return t
}
