package web

import (
	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/google/uuid"
)

// Store is the read side of the database used to render public documents
type Store interface {
	ReadLocalActorByUsername(username string) (error, *domain.Actor)
	ReadLocalCommunityByName(name string) (error, *domain.Actor)
	ReadActorById(id uuid.UUID) (error, *domain.Actor)
	ReadPostById(id uuid.UUID) (error, *domain.Post)
	ReadPostsByActorId(actorId uuid.UUID, limit int) (error, *[]domain.Post)
	ReadMediaByPostId(postId uuid.UUID) (error, *[]domain.MediaAttachment)
	ReadHashtagsByPostId(postId uuid.UUID) (error, []string)
	CountLocalActors(kind domain.ActorKind) (int, error)
	CountLocalPosts() (int, error)
}

var _ Store = (*db.DB)(nil)
