package activitypub

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/deemkeen/tusker/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidCursor is returned for cursors that are not non-negative offsets
var ErrInvalidCursor = errors.New("invalid cursor")

// CollectionPage is one page of an ordered collection
type CollectionPage[T any] struct {
	Items      []T
	TotalItems int
	Cursor     string  // Offset of this page
	NextCursor *string // Set only when a full page was returned
	First      string
	Last       string
}

// Collections serves paged views of actor collections
type Collections struct {
	db       Database
	objects  *ObjectResolver
	client   HTTPClient
	pageSize int
}

func NewCollections(database Database, objects *ObjectResolver, client HTTPClient, pageSize int) *Collections {
	if pageSize < 1 {
		pageSize = 20
	}
	return &Collections{db: database, objects: objects, client: client, pageSize: pageSize}
}

func parseCursor(cursor *string) (int, error) {
	if cursor == nil || *cursor == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(*cursor)
	if err != nil || offset < 0 {
		return 0, ErrInvalidCursor
	}
	return offset, nil
}

func (c *Collections) lastCursor(total int) string {
	if total == 0 {
		return "0"
	}
	return strconv.Itoa(((total - 1) / c.pageSize) * c.pageSize)
}

func newPage[T any](items []T, total, offset, pageSize int, last string) *CollectionPage[T] {
	page := &CollectionPage[T]{
		Items:      items,
		TotalItems: total,
		Cursor:     strconv.Itoa(offset),
		First:      "0",
		Last:       last,
	}
	if len(items) == pageSize {
		next := strconv.Itoa(offset + pageSize)
		page.NextCursor = &next
	}
	return page
}

// Followers pages accepted followers. A nil cursor returns every follower.
func (c *Collections) Followers(actorId uuid.UUID, cursor *string) (*CollectionPage[domain.Actor], error) {
	total, err := c.db.CountFollowersByActorId(actorId)
	if err != nil {
		return nil, err
	}

	if cursor == nil {
		var all []domain.Actor
		for offset := 0; ; offset += c.pageSize {
			err, batch := c.db.ReadFollowersByActorId(actorId, c.pageSize, offset)
			if err != nil {
				return nil, err
			}
			all = append(all, *batch...)
			if len(*batch) < c.pageSize {
				break
			}
		}
		return &CollectionPage[domain.Actor]{Items: all, TotalItems: total, Cursor: "0", First: "0", Last: c.lastCursor(total)}, nil
	}

	offset, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	err, items := c.db.ReadFollowersByActorId(actorId, c.pageSize, offset)
	if err != nil {
		return nil, err
	}
	return newPage(*items, total, offset, c.pageSize, c.lastCursor(total)), nil
}

// Following pages the actors an actor follows
func (c *Collections) Following(actorId uuid.UUID, cursor *string) (*CollectionPage[domain.Actor], error) {
	offset, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	total, err := c.db.CountFollowingByActorId(actorId)
	if err != nil {
		return nil, err
	}
	err, items := c.db.ReadFollowingByActorId(actorId, c.pageSize, offset)
	if err != nil {
		return nil, err
	}
	return newPage(*items, total, offset, c.pageSize, c.lastCursor(total)), nil
}

// Liked pages the posts an actor liked
func (c *Collections) Liked(actorId uuid.UUID, cursor *string) (*CollectionPage[domain.Post], error) {
	offset, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	total, err := c.db.CountLikedByActorId(actorId)
	if err != nil {
		return nil, err
	}
	err, items := c.db.ReadLikedPostsByActorId(actorId, c.pageSize, offset)
	if err != nil {
		return nil, err
	}
	return newPage(*items, total, offset, c.pageSize, c.lastCursor(total)), nil
}

type featuredCollection struct {
	Type         string      `json:"type"`
	Items        []ObjectRef `json:"items"`
	OrderedItems []ObjectRef `json:"orderedItems"`
	First        *ObjectRef  `json:"first"`
}

func (f *featuredCollection) entries() []ObjectRef {
	if len(f.OrderedItems) > 0 {
		return f.OrderedItems
	}
	return f.Items
}

// Featured returns pinned posts. Remote actors' featured collections are fetched and their posts stored.
func (c *Collections) Featured(ctx context.Context, actor *domain.Actor) (*CollectionPage[domain.Post], error) {
	if actor.IsLocal() {
		err, posts := c.db.ReadPinnedPostsByActorId(actor.Id)
		if err != nil {
			return nil, err
		}
		return &CollectionPage[domain.Post]{Items: *posts, TotalItems: len(*posts), Cursor: "0", First: "0", Last: "0"}, nil
	}

	if actor.FeaturedURI == "" {
		return &CollectionPage[domain.Post]{Cursor: "0", First: "0", Last: "0"}, nil
	}

	var collection featuredCollection
	if err := fetchDocument(ctx, c.client, actor.FeaturedURI, &collection); err != nil {
		return nil, err
	}
	entries := collection.entries()
	if len(entries) == 0 && collection.First != nil {
		if collection.First.IsEmbedded() {
			var first featuredCollection
			if err := collection.First.Decode(&first); err == nil {
				entries = first.entries()
			}
		} else if collection.First.ID != "" {
			var first featuredCollection
			if err := fetchDocument(ctx, c.client, collection.First.ID, &first); err == nil {
				entries = first.entries()
			}
		}
	}

	var posts []domain.Post
	for _, entry := range entries {
		post, err := c.storeFeatured(ctx, entry, actor.FeaturedURI)
		if err != nil {
			log.Printf("Collections: Skipping featured item %s of %s: %v", entry.ID, actor.Handle, err)
			continue
		}
		posts = append(posts, *post)
	}
	return &CollectionPage[domain.Post]{Items: posts, TotalItems: len(posts), Cursor: "0", First: "0", Last: "0"}, nil
}

func (c *Collections) storeFeatured(ctx context.Context, entry ObjectRef, origin string) (*domain.Post, error) {
	if entry.IsEmbedded() {
		var doc ObjectDoc
		if err := entry.Decode(&doc); err != nil {
			return nil, err
		}
		return c.objects.StoreEmbedded(ctx, &doc, origin)
	}
	id, err := c.objects.FetchAndStore(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	err, post := c.db.ReadPostById(id)
	return post, err
}

// Outbox pages stored outbound activities, newest first. Records that no longer parse are dropped.
func (c *Collections) Outbox(ctx context.Context, actorId uuid.UUID, cursor *string) (*CollectionPage[Activity], error) {
	offset, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	total, err := c.db.CountOutboxByActorId(actorId)
	if err != nil {
		return nil, err
	}
	err, records := c.db.ReadOutboxByActorId(actorId, c.pageSize, offset)
	if err != nil {
		return nil, err
	}

	parsed := make([]Activity, len(*records))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, record := range *records {
		g.Go(func() error {
			act, err := ParseActivity([]byte(record.RawJSON))
			if err != nil {
				log.Printf("Collections: Dropping outbox record %s: %v", record.URI, err)
				return nil
			}
			parsed[i] = act
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]Activity, 0, len(parsed))
	for _, act := range parsed {
		if act != nil {
			items = append(items, act)
		}
	}

	page := newPage(items, total, offset, c.pageSize, c.lastCursor(total))
	if len(*records) == c.pageSize && page.NextCursor == nil {
		next := strconv.Itoa(offset + c.pageSize)
		page.NextCursor = &next
	}
	return page, nil
}
