package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/tusker/activitypub"
	"github.com/deemkeen/tusker/cache"
	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Max 1MB request body size for ActivityPub activities
const maxInboxBody = 1 * 1024 * 1024

// Server exposes the federation endpoints of the local actors
type Server struct {
	conf     *util.AppConfig
	store    Store
	pipeline *activitypub.Pipeline
	inbound  *activitypub.Pool
	profiles *cache.ProfileCache // Nil or disabled renders every request
}

func NewServer(conf *util.AppConfig, store Store, pipeline *activitypub.Pipeline, inbound *activitypub.Pool, profiles *cache.ProfileCache) *Server {
	return &Server{conf: conf, store: store, pipeline: pipeline, inbound: inbound, profiles: profiles}
}

// HTTPServer wraps the router in an http.Server listening on the configured port
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) Router() *gin.Engine {
	// Set Gin to use the same log writer as the rest of the application
	gin.DefaultWriter = util.GetLogWriter()
	gin.DefaultErrorWriter = util.GetLogWriter()

	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	g.Use(RateLimitMiddleware(NewRateLimiter(rate.Limit(10), 20)))

	// Stricter rate limit for inboxes: 5 req/sec per IP
	inboxLimit := RateLimitMiddleware(NewRateLimiter(rate.Limit(5), 10))
	maxBodySize := MaxBytesMiddleware(maxInboxBody)

	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		c.JSON(http.StatusOK, GetWellKnownNodeInfo(s.conf))
	})
	g.GET("/nodeinfo/2.0", func(c *gin.Context) {
		c.JSON(http.StatusOK, GetNodeInfo20(s.store))
	})

	g.POST("/inbox", inboxLimit, maxBodySize, s.handleInbox)
	g.POST("/users/:name/inbox", inboxLimit, maxBodySize, s.personInbox)
	g.POST("/communities/:name/inbox", inboxLimit, maxBodySize, s.communityInbox)

	for _, base := range []string{"/users/:name", "/communities/:name"} {
		g.GET(base, s.handleActor)
		g.GET(base+"/outbox", s.handleOutbox)
		g.GET(base+"/followers", s.handleFollowers)
		g.GET(base+"/featured", s.handleFeatured)
		g.GET(base+"/feed.rss", s.handleRSS)
	}
	g.GET("/users/:name/following", s.handleFollowing)
	g.GET("/users/:name/liked", s.handleLiked)

	g.GET("/posts/:id", s.handlePost)

	return g
}

func renderActivity(c *gin.Context, code int, v any) {
	c.Header("Content-Type", activityJSON)
	c.JSON(code, v)
}

func notFound(c *gin.Context, what string) {
	renderActivity(c, http.StatusNotFound, gin.H{"error": what + " not found"})
}

// localActor resolves :name against users or communities depending on the route
func (s *Server) localActor(c *gin.Context) (*domain.Actor, bool) {
	name := c.Param("name")
	var err error
	var actor *domain.Actor
	if strings.HasPrefix(c.FullPath(), "/communities/") {
		err, actor = s.store.ReadLocalCommunityByName(name)
	} else {
		err, actor = s.store.ReadLocalActorByUsername(name)
	}
	if err != nil {
		notFound(c, "Actor")
		return nil, false
	}
	return actor, true
}

func (s *Server) handleWebfinger(c *gin.Context) {
	err, resp := GetWebfinger(c.Query("resource"), s.store, s.conf)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleActor(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	var doc activitypub.ActorDescription
	err := s.profiles.CacheAside(c.Request.Context(), actor.Id, "actor", &doc, func() error {
		doc = *ActorDocument(actor, s.conf)
		return nil
	})
	if err != nil {
		log.Printf("Failed to render actor %s: %v", actor.Handle, err)
		doc = *ActorDocument(actor, s.conf)
	}
	renderActivity(c, http.StatusOK, &doc)
}

func (s *Server) handlePost(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		notFound(c, "Post")
		return
	}
	err, post := s.store.ReadPostById(id)
	if err != nil {
		notFound(c, "Post")
		return
	}
	err, author := s.store.ReadActorById(post.ActorId)
	if err != nil || !author.IsLocal() {
		notFound(c, "Post")
		return
	}
	renderActivity(c, http.StatusOK, NoteDocument(post, author, s.store, s.conf))
}

// renderCollection serves the collection root without ?cursor and a page with it
func renderCollection[T any](c *gin.Context, id string, load func(cursor *string) (*activitypub.CollectionPage[T], error), item func(T) any) {
	cursor, paged := c.GetQuery("cursor")
	if !paged {
		cursor = "0"
	}

	page, err := load(&cursor)
	if errors.Is(err, activitypub.ErrInvalidCursor) {
		renderActivity(c, http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}
	if err != nil {
		log.Printf("Collections: Failed to load %s: %v", id, err)
		renderActivity(c, http.StatusInternalServerError, gin.H{"error": "Collection unavailable"})
		return
	}

	if paged {
		renderActivity(c, http.StatusOK, CollectionPageDocument(id, page, item))
	} else {
		renderActivity(c, http.StatusOK, CollectionDocument(id, page))
	}
}

func (s *Server) handleFollowers(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	renderCollection(c, collectionIRI(actor, followers), func(cursor *string) (*activitypub.CollectionPage[domain.Actor], error) {
		return s.pipeline.Collections().Followers(actor.Id, cursor)
	}, actorURI)
}

func (s *Server) handleFollowing(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	renderCollection(c, collectionIRI(actor, following), func(cursor *string) (*activitypub.CollectionPage[domain.Actor], error) {
		return s.pipeline.Collections().Following(actor.Id, cursor)
	}, actorURI)
}

func (s *Server) handleLiked(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	renderCollection(c, collectionIRI(actor, liked), func(cursor *string) (*activitypub.CollectionPage[domain.Post], error) {
		return s.pipeline.Collections().Liked(actor.Id, cursor)
	}, postURI)
}

func (s *Server) handleOutbox(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	renderCollection(c, collectionIRI(actor, outbox), func(cursor *string) (*activitypub.CollectionPage[activitypub.Activity], error) {
		return s.pipeline.Collections().Outbox(c.Request.Context(), actor.Id, cursor)
	}, func(a activitypub.Activity) any { return a })
}

func (s *Server) handleFeatured(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	var doc map[string]any
	err := s.profiles.CacheAside(c.Request.Context(), actor.Id, "featured", &doc, func() error {
		page, err := s.pipeline.Collections().Featured(c.Request.Context(), actor)
		if err != nil {
			return err
		}
		items := make([]any, 0, len(page.Items))
		for _, post := range page.Items {
			items = append(items, postURI(post))
		}
		doc = map[string]any{
			"@context":     activitypub.ContextActivityStreams,
			"id":           collectionIRI(actor, featured),
			"type":         "OrderedCollection",
			"totalItems":   page.TotalItems,
			"orderedItems": items,
		}
		return nil
	})
	if err != nil {
		log.Printf("Collections: Failed to load featured posts of %s: %v", actor.Handle, err)
		renderActivity(c, http.StatusInternalServerError, gin.H{"error": "Collection unavailable"})
		return
	}
	renderActivity(c, http.StatusOK, doc)
}

func (s *Server) handleRSS(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "application/xml; charset=utf-8")
	rss, err := GetRSS(actor, s.store, s.conf)
	if err != nil {
		c.Render(http.StatusInternalServerError, render.String{Format: ""})
		return
	}
	c.Render(http.StatusOK, render.String{Format: rss})
}
