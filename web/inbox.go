package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/deemkeen/tusker/activitypub"
	"github.com/deemkeen/tusker/domain"
	"github.com/gin-gonic/gin"
)

var (
	errUnsigned       = errors.New("missing or unreadable signature")
	errSignerMismatch = errors.New("signing key does not belong to the activity actor")
	errBadSignature   = errors.New("signature verification failed")
)

// verifyInbound checks the digest and signature of an inbox POST and returns the signing actor.
// A failed verification refetches the actor once in case the key rotated.
func (s *Server) verifyInbound(ctx context.Context, req *http.Request, body []byte) (*domain.Actor, error) {
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.Host)
	}
	if err := activitypub.VerifyDigest(req, body); err != nil {
		return nil, err
	}
	keyId, err := activitypub.SignatureKeyId(req)
	if err != nil || keyId == "" {
		return nil, errUnsigned
	}

	var head struct {
		Actor activitypub.ObjectRef `json:"actor"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, err
	}
	owner := activitypub.KeyOwner(keyId)
	if owner != head.Actor.ID {
		return nil, errSignerMismatch
	}

	actors := s.pipeline.Actors()
	actor, err := actors.GetOrFetchActor(ctx, owner)
	if err != nil {
		return nil, err
	}
	if actor.IsLocal() {
		return nil, errSignerMismatch
	}
	if _, err := activitypub.VerifyRequest(req, actor.PublicKeyPem); err == nil {
		return actor, nil
	}

	refreshed, err := actors.FetchActor(ctx, owner)
	if err != nil {
		return nil, errBadSignature
	}
	if _, err := activitypub.VerifyRequest(req, refreshed.PublicKeyPem); err != nil {
		return nil, errBadSignature
	}
	return refreshed, nil
}

// handleInbox accepts a signed activity and queues it on the inbound pool
func (s *Server) handleInbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	actor, err := s.verifyInbound(c.Request.Context(), c.Request, body)
	if err != nil {
		log.Printf("Inbox: Rejected request on %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	queued := s.inbound.Submit(func(ctx context.Context) {
		s.pipeline.HandleInbound(ctx, body)
	})
	if !queued {
		log.Printf("Inbox: Dropping activity from %s, inbound pool stopped", actor.Handle)
		c.Status(http.StatusServiceUnavailable)
		return
	}
	c.Status(http.StatusAccepted)
}

// personInbox and communityInbox 404 for unknown local names before verifying
func (s *Server) personInbox(c *gin.Context) {
	if err, _ := s.store.ReadLocalActorByUsername(c.Param("name")); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	s.handleInbox(c)
}

func (s *Server) communityInbox(c *gin.Context) {
	if err, _ := s.store.ReadLocalCommunityByName(c.Param("name")); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	s.handleInbox(c)
}
