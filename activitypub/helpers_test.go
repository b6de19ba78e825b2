package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
	"github.com/google/uuid"
)

const testDomain = "local.example"

// testConfig returns a production config with millisecond retry backoffs
func testConfig() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testDomain
	conf.Conf.Environment = "production"
	conf.Conf.MaxContentBytes = 100000
	conf.Conf.MaxReplyDepth = 32
	conf.Conf.PageSize = 20
	conf.Conf.AutoAcceptFollows = true
	fast := util.RetryProfile{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	conf.Conf.Delivery.Inbound = fast
	conf.Conf.Delivery.Outbound = fast
	return conf
}

// sentActivity is one delivery captured by fakeTransport
type sentActivity struct {
	Sender string
	Inbox  string
	Body   []byte
}

// fakeTransport records deliveries and optionally fails them
type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentActivity
	attempts map[string]int
	failWith func(inbox string, attempt int) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{attempts: make(map[string]int)}
}

func (f *fakeTransport) Deliver(ctx context.Context, sender *domain.Actor, inbox string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[inbox]++
	if f.failWith != nil {
		if err := f.failWith(inbox, f.attempts[inbox]); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentActivity{Sender: sender.URI, Inbox: inbox, Body: body})
	return nil
}

func (f *fakeTransport) deliveries() []sentActivity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentActivity(nil), f.sent...)
}

func (f *fakeTransport) attemptsTo(inbox string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[inbox]
}

// mockModerator is an in-memory community gate
type mockModerator struct {
	mu          sync.Mutex
	db          *MockDatabase
	banned      map[uuid.UUID]string
	manual      map[uuid.UUID]bool
	submissions []domain.CommunitySubmission
}

func newMockModerator(database *MockDatabase) *mockModerator {
	return &mockModerator{db: database, banned: make(map[uuid.UUID]string), manual: make(map[uuid.UUID]bool)}
}

func (m *mockModerator) CanPost(communityId, actorId uuid.UUID) (domain.ModerationDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	err, community := m.db.ReadActorById(communityId)
	if err != nil || !community.IsGroup() {
		return domain.ModerationDecision{Allowed: false, Reason: "not a community"}, nil
	}
	if reason, ok := m.banned[actorId]; ok {
		return domain.ModerationDecision{Allowed: false, Reason: reason}, nil
	}
	return domain.ModerationDecision{Allowed: true}, nil
}

func (m *mockModerator) ShouldAutoApprove(communityId, actorId uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.manual[communityId], nil
}

func (m *mockModerator) SubmitCommunityPost(communityId, postId uuid.UUID, autoApproved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.submissions {
		if s.CommunityId == communityId && s.PostId == postId {
			return db.ErrConflict
		}
	}
	state := domain.SubmissionPending
	if autoApproved {
		state = domain.SubmissionApproved
	}
	m.submissions = append(m.submissions, domain.CommunitySubmission{
		Id:           uuid.New(),
		CommunityId:  communityId,
		PostId:       postId,
		AutoApproved: autoApproved,
		State:        state,
		CreatedAt:    time.Now(),
	})
	return nil
}

func (m *mockModerator) GetCommunityByURI(uri string) (error, *domain.Actor) {
	err, actor := m.db.ReadActorByURI(uri)
	if err != nil {
		return err, nil
	}
	if !actor.IsGroup() {
		return sql.ErrNoRows, nil
	}
	return nil, actor
}

func (m *mockModerator) GetCommunityByName(name string) (error, *domain.Actor) {
	return m.db.ReadLocalCommunityByName(name)
}

func (m *mockModerator) GetCommunityForPost(postId uuid.UUID) (error, *domain.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.submissions {
		if s.PostId == postId {
			return m.db.ReadActorById(s.CommunityId)
		}
	}
	return sql.ErrNoRows, nil
}

func (m *mockModerator) submitted() []domain.CommunitySubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CommunitySubmission(nil), m.submissions...)
}

// docServer serves JSON documents by path and counts requests
type docServer struct {
	*httptest.Server
	mu     sync.Mutex
	docs   map[string]any
	status map[string]int
	hits   map[string]int
}

func newDocServer(t *testing.T) *docServer {
	t.Helper()
	s := &docServer{docs: make(map[string]any), status: make(map[string]int), hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		doc, ok := s.docs[r.URL.Path]
		code := s.status[r.URL.Path]
		s.mu.Unlock()

		if code != 0 {
			w.WriteHeader(code)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/activity+json")
		if raw, isString := doc.(string); isString {
			w.Write([]byte(raw))
			return
		}
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(s.Close)
	return s
}

// serve registers doc at path and returns its absolute URI
func (s *docServer) serve(path string, doc any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = doc
	return s.URL + path
}

// fail answers every request to path with code
func (s *docServer) fail(path string, code int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[path] = code
	return s.URL + path
}

func (s *docServer) hitsFor(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// actorDoc builds an actor document for uri
func actorDoc(uri, username string) map[string]any {
	return map[string]any{
		"@context":          ContextActivityStreams,
		"id":                uri,
		"type":              "Person",
		"preferredUsername": username,
		"inbox":             uri + "/inbox",
		"followers":         uri + "/followers",
	}
}

// noteDoc builds a Note document attributed to author
func noteDoc(uri, author, content string) map[string]any {
	return map[string]any{
		"id":           uri,
		"type":         "Note",
		"attributedTo": author,
		"content":      content,
		"to":           []string{PublicCollection},
	}
}

// testEnv is a pipeline wired to in-memory collaborators.
// alice is local, bob is a fresh remote actor.
type testEnv struct {
	pipeline  *Pipeline
	conf      *util.AppConfig
	db        *MockDatabase
	moderator *mockModerator
	transport *fakeTransport
	server    *docServer

	mu       sync.Mutex
	failures []DeliveryFailure

	alice *domain.Actor
	bob   *domain.Actor
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, testConfig())
}

func newTestEnvWithConfig(t *testing.T, conf *util.AppConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		conf:      conf,
		db:        NewMockDatabase(),
		transport: newFakeTransport(),
		server:    newDocServer(t),
	}
	env.moderator = newMockModerator(env.db)

	env.alice = newLocalActor("alice", testDomain)
	env.bob = newRemoteActor("bob", "remote.example")
	env.db.AddActor(env.alice)
	env.db.AddActor(env.bob)

	env.pipeline = NewPipeline(conf, Deps{
		Database:   env.db,
		Moderator:  env.moderator,
		HTTPClient: env.server.Client(),
		Transport:  env.transport,
		OnDeliveryError: func(f DeliveryFailure) {
			env.mu.Lock()
			defer env.mu.Unlock()
			env.failures = append(env.failures, f)
		},
	})
	return env
}

// inbound feeds a JSON activity to the inbound pipeline
func (env *testEnv) inbound(t *testing.T, activity map[string]any) {
	t.Helper()
	raw, err := json.Marshal(activity)
	if err != nil {
		t.Fatalf("Failed to marshal activity: %v", err)
	}
	if err := env.pipeline.HandleInbound(context.Background(), raw); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
}

// addPost stores a post by author
func (env *testEnv) addPost(author *domain.Actor, uri string) *domain.Post {
	post := &domain.Post{
		Id:        uuid.New(),
		URI:       uri,
		ActorId:   author.Id,
		Content:   "<p>hello</p>",
		CreatedAt: time.Now(),
	}
	env.db.AddPost(post)
	return post
}

// addFollower makes follower an accepted follower of target
func (env *testEnv) addFollower(follower, target *domain.Actor) *domain.Follow {
	follow := &domain.Follow{
		Id:         uuid.New(),
		FollowerId: follower.Id,
		TargetId:   target.Id,
		URI:        follower.URI + "/follows/" + uuid.New().String(),
		State:      domain.FollowAccepted,
		CreatedAt:  time.Now(),
	}
	env.db.AddFollow(follow)
	return follow
}

func (env *testEnv) post(t *testing.T, uri string) *domain.Post {
	t.Helper()
	err, post := env.db.ReadPostByURI(uri)
	if err != nil {
		t.Fatalf("Expected post %s to be stored: %v", uri, err)
	}
	return post
}

// decodeSent parses a captured delivery body
func decodeSent(t *testing.T, sent sentActivity) Activity {
	t.Helper()
	act, err := ParseActivity(sent.Body)
	if err != nil {
		t.Fatalf("Delivered body does not parse: %v", err)
	}
	return act
}
