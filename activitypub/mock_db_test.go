package activitypub

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/google/uuid"
)

// MockDatabase is an in-memory mock implementation of the Database interface for testing.
// It stores data in maps and enforces the same uniqueness rules as the sqlite schema.
type MockDatabase struct {
	mu sync.RWMutex

	// Storage maps
	Actors          map[uuid.UUID]*domain.Actor
	ActorsByURI     map[string]*domain.Actor
	Posts           map[uuid.UUID]*domain.Post
	PostsByURI      map[string]*domain.Post
	Media           map[uuid.UUID][]domain.MediaAttachment
	Hashtags        map[string]int64
	PostHashtags    map[uuid.UUID][]int64
	Pinned          []domain.PinnedPost
	Follows         map[uuid.UUID]*domain.Follow
	Likes           map[uuid.UUID]*domain.Like
	Boosts          map[uuid.UUID]*domain.Boost
	Notifications   map[uuid.UUID]*domain.Notification
	Activities      map[uuid.UUID]*domain.ActivityRecord
	ActivitiesByURI map[string]*domain.ActivityRecord

	// Error injection for testing error handling
	ForceError error
}

// NewMockDatabase creates a new mock database with initialized maps
func NewMockDatabase() *MockDatabase {
	return &MockDatabase{
		Actors:          make(map[uuid.UUID]*domain.Actor),
		ActorsByURI:     make(map[string]*domain.Actor),
		Posts:           make(map[uuid.UUID]*domain.Post),
		PostsByURI:      make(map[string]*domain.Post),
		Media:           make(map[uuid.UUID][]domain.MediaAttachment),
		Hashtags:        make(map[string]int64),
		PostHashtags:    make(map[uuid.UUID][]int64),
		Follows:         make(map[uuid.UUID]*domain.Follow),
		Likes:           make(map[uuid.UUID]*domain.Like),
		Boosts:          make(map[uuid.UUID]*domain.Boost),
		Notifications:   make(map[uuid.UUID]*domain.Notification),
		Activities:      make(map[uuid.UUID]*domain.ActivityRecord),
		ActivitiesByURI: make(map[string]*domain.ActivityRecord),
	}
}

// SetForceError sets an error to be returned by all operations
func (m *MockDatabase) SetForceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ForceError = err
}

// AddActor adds an actor to the mock database
func (m *MockDatabase) AddActor(actor *domain.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Actors[actor.Id] = actor
	m.ActorsByURI[actor.URI] = actor
}

// AddPost adds a post to the mock database
func (m *MockDatabase) AddPost(post *domain.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Posts[post.Id] = post
	m.PostsByURI[post.URI] = post
}

// AddFollow adds a follow relationship to the mock database
func (m *MockDatabase) AddFollow(follow *domain.Follow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Follows[follow.Id] = follow
}

// Actor operations

func (m *MockDatabase) CreateActor(actor *domain.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if _, ok := m.ActorsByURI[actor.URI]; ok {
		return db.ErrConflict
	}
	cp := *actor
	m.Actors[actor.Id] = &cp
	m.ActorsByURI[actor.URI] = &cp
	return nil
}

func (m *MockDatabase) UpdateActor(actor *domain.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if _, ok := m.Actors[actor.Id]; !ok {
		return sql.ErrNoRows
	}
	cp := *actor
	m.Actors[actor.Id] = &cp
	m.ActorsByURI[actor.URI] = &cp
	return nil
}

func (m *MockDatabase) ReadActorByURI(uri string) (error, *domain.Actor) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	actor, ok := m.ActorsByURI[uri]
	if !ok {
		return sql.ErrNoRows, nil
	}
	cp := *actor
	return nil, &cp
}

func (m *MockDatabase) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	actor, ok := m.Actors[id]
	if !ok {
		return sql.ErrNoRows, nil
	}
	cp := *actor
	return nil, &cp
}

func (m *MockDatabase) readLocal(username string, kind domain.ActorKind) (error, *domain.Actor) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	for _, actor := range m.Actors {
		if actor.IsLocal() && actor.Kind == kind && actor.Username == username {
			cp := *actor
			return nil, &cp
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	return m.readLocal(username, domain.ActorPerson)
}

func (m *MockDatabase) ReadLocalCommunityByName(name string) (error, *domain.Actor) {
	return m.readLocal(name, domain.ActorGroup)
}

// Post operations

func (m *MockDatabase) CreatePost(post *domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if _, ok := m.PostsByURI[post.URI]; ok {
		return db.ErrConflict
	}
	cp := *post
	m.Posts[post.Id] = &cp
	m.PostsByURI[post.URI] = &cp
	return nil
}

func (m *MockDatabase) UpdatePost(post *domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	stored, ok := m.Posts[post.Id]
	if !ok {
		return sql.ErrNoRows
	}
	stored.Content = post.Content
	stored.URL = post.URL
	stored.Sensitive = post.Sensitive
	return nil
}

func (m *MockDatabase) ReadPostByURI(uri string) (error, *domain.Post) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	post, ok := m.PostsByURI[uri]
	if !ok {
		return sql.ErrNoRows, nil
	}
	cp := *post
	return nil, &cp
}

func (m *MockDatabase) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	post, ok := m.Posts[id]
	if !ok {
		return sql.ErrNoRows, nil
	}
	cp := *post
	return nil, &cp
}

func (m *MockDatabase) DeletePostById(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	post, ok := m.Posts[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(m.Media, id)
	delete(m.PostHashtags, id)
	for likeId, like := range m.Likes {
		if like.PostId == id {
			delete(m.Likes, likeId)
		}
	}
	for boostId, boost := range m.Boosts {
		if boost.PostId == id {
			delete(m.Boosts, boostId)
		}
	}
	for nId, n := range m.Notifications {
		if n.PostId != nil && *n.PostId == id {
			delete(m.Notifications, nId)
		}
	}
	pinned := m.Pinned[:0]
	for _, pin := range m.Pinned {
		if pin.PostId != id {
			pinned = append(pinned, pin)
		}
	}
	m.Pinned = pinned
	for _, other := range m.Posts {
		if other.InReplyToId != nil && *other.InReplyToId == id {
			other.InReplyToId = nil
		}
	}
	delete(m.Posts, id)
	delete(m.PostsByURI, post.URI)
	return nil
}

func (m *MockDatabase) UpdatePostEngagement(postId uuid.UUID, likes, boosts int, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	post, ok := m.Posts[postId]
	if !ok {
		return sql.ErrNoRows
	}
	post.LikeCount, post.BoostCount, post.Score = likes, boosts, score
	return nil
}

func (m *MockDatabase) CountRepliesByPostId(postId uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	count := 0
	for _, post := range m.Posts {
		if post.InReplyToId != nil && *post.InReplyToId == postId {
			count++
		}
	}
	return count, nil
}

func (m *MockDatabase) CreateMediaAttachment(media *domain.MediaAttachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	m.Media[media.PostId] = append(m.Media[media.PostId], *media)
	return nil
}

func (m *MockDatabase) CreateOrUpdateHashtag(name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	if id, ok := m.Hashtags[name]; ok {
		return id, nil
	}
	id := int64(len(m.Hashtags) + 1)
	m.Hashtags[name] = id
	return id, nil
}

func (m *MockDatabase) LinkPostHashtags(postId uuid.UUID, hashtagIds []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	m.PostHashtags[postId] = append(m.PostHashtags[postId], hashtagIds...)
	return nil
}

func (m *MockDatabase) ReadPinnedPostsByActorId(actorId uuid.UUID) (error, *[]domain.Post) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	pins := make([]domain.PinnedPost, 0)
	for _, pin := range m.Pinned {
		if pin.ActorId == actorId {
			pins = append(pins, pin)
		}
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].Position < pins[j].Position })
	posts := make([]domain.Post, 0, len(pins))
	for _, pin := range pins {
		if post, ok := m.Posts[pin.PostId]; ok {
			posts = append(posts, *post)
		}
	}
	return nil, &posts
}

// Follow operations

func (m *MockDatabase) CreateFollow(follow *domain.Follow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for _, f := range m.Follows {
		if f.FollowerId == follow.FollowerId && f.TargetId == follow.TargetId {
			return db.ErrConflict
		}
	}
	cp := *follow
	if cp.State == "" {
		cp.State = domain.FollowPending
	}
	m.Follows[follow.Id] = &cp
	return nil
}

func (m *MockDatabase) ReadFollowByURI(uri string) (error, *domain.Follow) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	for _, f := range m.Follows {
		if f.URI == uri {
			cp := *f
			return nil, &cp
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) ReadFollowByActorIds(followerId, targetId uuid.UUID) (error, *domain.Follow) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	for _, f := range m.Follows {
		if f.FollowerId == followerId && f.TargetId == targetId {
			cp := *f
			return nil, &cp
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) AcceptFollowById(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	f, ok := m.Follows[id]
	if !ok {
		return sql.ErrNoRows
	}
	f.State = domain.FollowAccepted
	return nil
}

func (m *MockDatabase) AcceptPendingFollowsByTargetId(targetId uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	var count int64
	for _, f := range m.Follows {
		if f.TargetId == targetId && f.State == domain.FollowPending {
			f.State = domain.FollowAccepted
			count++
		}
	}
	return count, nil
}

func (m *MockDatabase) DeleteFollowById(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	delete(m.Follows, id)
	return nil
}

func (m *MockDatabase) acceptedFollows(match func(f *domain.Follow) bool) []*domain.Follow {
	var follows []*domain.Follow
	for _, f := range m.Follows {
		if f.IsAccepted() && match(f) {
			follows = append(follows, f)
		}
	}
	sort.Slice(follows, func(i, j int) bool {
		if follows[i].CreatedAt.Equal(follows[j].CreatedAt) {
			return follows[i].Id.String() < follows[j].Id.String()
		}
		return follows[i].CreatedAt.Before(follows[j].CreatedAt)
	})
	return follows
}

func (m *MockDatabase) CountFollowersByActorId(actorId uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	return len(m.acceptedFollows(func(f *domain.Follow) bool { return f.TargetId == actorId })), nil
}

func (m *MockDatabase) CountFollowingByActorId(actorId uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	return len(m.acceptedFollows(func(f *domain.Follow) bool { return f.FollowerId == actorId })), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *MockDatabase) ReadFollowersByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.Actor) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	actors := make([]domain.Actor, 0)
	for _, f := range m.acceptedFollows(func(f *domain.Follow) bool { return f.TargetId == actorId }) {
		if actor, ok := m.Actors[f.FollowerId]; ok {
			actors = append(actors, *actor)
		}
	}
	result := page(actors, limit, offset)
	return nil, &result
}

func (m *MockDatabase) ReadFollowingByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.Actor) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	actors := make([]domain.Actor, 0)
	for _, f := range m.acceptedFollows(func(f *domain.Follow) bool { return f.FollowerId == actorId }) {
		if actor, ok := m.Actors[f.TargetId]; ok {
			actors = append(actors, *actor)
		}
	}
	result := page(actors, limit, offset)
	return nil, &result
}

// Like and boost operations

func (m *MockDatabase) CreateLike(like *domain.Like) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for _, l := range m.Likes {
		if l.ActorId == like.ActorId && l.PostId == like.PostId {
			return db.ErrConflict
		}
	}
	cp := *like
	m.Likes[like.Id] = &cp
	return nil
}

func (m *MockDatabase) ReadLikeByActorAndPost(actorId, postId uuid.UUID) (error, *domain.Like) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	for _, l := range m.Likes {
		if l.ActorId == actorId && l.PostId == postId {
			cp := *l
			return nil, &cp
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) DeleteLikeById(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	delete(m.Likes, id)
	return nil
}

func (m *MockDatabase) CountLikesByPostId(postId uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	count := 0
	for _, l := range m.Likes {
		if l.PostId == postId {
			count++
		}
	}
	return count, nil
}

func (m *MockDatabase) likedBy(actorId uuid.UUID) []*domain.Like {
	var likes []*domain.Like
	for _, l := range m.Likes {
		if l.ActorId == actorId {
			likes = append(likes, l)
		}
	}
	sort.Slice(likes, func(i, j int) bool { return likes[i].CreatedAt.After(likes[j].CreatedAt) })
	return likes
}

func (m *MockDatabase) CountLikedByActorId(actorId uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	return len(m.likedBy(actorId)), nil
}

func (m *MockDatabase) ReadLikedPostsByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.Post) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	posts := make([]domain.Post, 0)
	for _, l := range m.likedBy(actorId) {
		if post, ok := m.Posts[l.PostId]; ok {
			posts = append(posts, *post)
		}
	}
	result := page(posts, limit, offset)
	return nil, &result
}

func (m *MockDatabase) CreateBoost(boost *domain.Boost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for _, b := range m.Boosts {
		if b.ActorId == boost.ActorId && b.PostId == boost.PostId {
			return db.ErrConflict
		}
	}
	cp := *boost
	m.Boosts[boost.Id] = &cp
	return nil
}

func (m *MockDatabase) ReadBoostByActorAndPost(actorId, postId uuid.UUID) (error, *domain.Boost) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	for _, b := range m.Boosts {
		if b.ActorId == actorId && b.PostId == postId {
			cp := *b
			return nil, &cp
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) DeleteBoostById(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	delete(m.Boosts, id)
	return nil
}

func (m *MockDatabase) CountBoostsByPostId(postId uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	count := 0
	for _, b := range m.Boosts {
		if b.PostId == postId {
			count++
		}
	}
	return count, nil
}

// Notification operations

func (m *MockDatabase) CreateNotification(n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	cp := *n
	m.Notifications[n.Id] = &cp
	return nil
}

func (m *MockDatabase) DeleteNotificationsByKey(kind domain.NotificationType, sourceId, targetId uuid.UUID, postId *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for id, n := range m.Notifications {
		if n.NotificationType != kind || n.SourceActorId != sourceId || n.TargetActorId != targetId {
			continue
		}
		if (n.PostId == nil) != (postId == nil) {
			continue
		}
		if n.PostId != nil && *n.PostId != *postId {
			continue
		}
		delete(m.Notifications, id)
	}
	return nil
}

// CountNotifications counts stored notifications of a kind for a target
func (m *MockDatabase) CountNotifications(kind domain.NotificationType, targetId uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.Notifications {
		if n.NotificationType == kind && n.TargetActorId == targetId {
			count++
		}
	}
	return count
}

// Activity operations

func (m *MockDatabase) CreateActivity(activity *domain.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if _, ok := m.ActivitiesByURI[activity.URI]; ok {
		return db.ErrConflict
	}
	cp := *activity
	m.Activities[activity.Id] = &cp
	m.ActivitiesByURI[activity.URI] = &cp
	return nil
}

func (m *MockDatabase) ReadActivityByURI(uri string) (error, *domain.ActivityRecord) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	activity, ok := m.ActivitiesByURI[uri]
	if !ok {
		return sql.ErrNoRows, nil
	}
	cp := *activity
	return nil, &cp
}

func (m *MockDatabase) outbox(actorId uuid.UUID) []domain.ActivityRecord {
	var records []domain.ActivityRecord
	for _, a := range m.Activities {
		if a.ActorId == actorId && a.Direction == domain.Outbound {
			records = append(records, *a)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	return records
}

func (m *MockDatabase) CountOutboxByActorId(actorId uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return 0, m.ForceError
	}
	return len(m.outbox(actorId)), nil
}

func (m *MockDatabase) ReadOutboxByActorId(actorId uuid.UUID, limit, offset int) (error, *[]domain.ActivityRecord) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	result := page(m.outbox(actorId), limit, offset)
	return nil, &result
}

var _ Database = (*MockDatabase)(nil)

// newRemoteActor builds a freshly fetched remote actor on host
func newRemoteActor(username, host string) *domain.Actor {
	uri := "https://" + host + "/users/" + username
	return &domain.Actor{
		Id:            uuid.New(),
		URI:           uri,
		Kind:          domain.ActorPerson,
		Handle:        domain.FormatHandle(username, host),
		Username:      username,
		Domain:        host,
		InboxURI:      uri + "/inbox",
		FollowersURI:  uri + "/followers",
		LastFetchedAt: time.Now(),
		CreatedAt:     time.Now(),
	}
}

// newLocalActor builds a local person on host
func newLocalActor(username, host string) *domain.Actor {
	actor := newRemoteActor(username, host)
	accountId := uuid.New()
	actor.AccountId = &accountId
	actor.Local = true
	return actor
}

// newLocalCommunity builds a local group on host
func newLocalCommunity(name, host string) *domain.Actor {
	uri := "https://" + host + "/communities/" + name
	return &domain.Actor{
		Id:           uuid.New(),
		URI:          uri,
		Kind:         domain.ActorGroup,
		Handle:       domain.FormatHandle(name, host),
		Username:     name,
		Domain:       host,
		InboxURI:     uri + "/inbox",
		FollowersURI: uri + "/followers",
		Local:        true,
		CreatedAt:    time.Now(),
	}
}
