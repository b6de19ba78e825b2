package web

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/tusker/activitypub"
	"github.com/deemkeen/tusker/db"
	"github.com/deemkeen/tusker/domain"
	"github.com/deemkeen/tusker/util"
	"github.com/gin-gonic/gin"
)

const testDomain = "local.example"

// testKeyPair returns a 2048-bit key pair as PEM, faster than the 4096-bit production keys
func testKeyPair(t *testing.T) (*rsa.PrivateKey, *util.RsaKeyPair) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	private, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to encode private key: %v", err)
	}
	public, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to encode public key: %v", err)
	}
	return key, &util.RsaKeyPair{
		Private: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: private})),
		Public:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: public})),
	}
}

// remoteServer hosts bob, a remote actor with a working inbox
type remoteServer struct {
	*httptest.Server
	key    *rsa.PrivateKey
	bobURI string

	mu       sync.Mutex
	received [][]byte
}

func newRemoteServer(t *testing.T) *remoteServer {
	t.Helper()
	key, pair := testKeyPair(t)
	rs := &remoteServer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/bob", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/activity+json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":                rs.bobURI,
			"type":              "Person",
			"preferredUsername": "bob",
			"inbox":             rs.bobURI + "/inbox",
			"followers":         rs.bobURI + "/followers",
			"publicKey": map[string]string{
				"id":           activitypub.KeyId(rs.bobURI),
				"owner":        rs.bobURI,
				"publicKeyPem": pair.Public,
			},
		})
	})
	mux.HandleFunc("POST /users/bob/inbox", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.received = append(rs.received, body)
		rs.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})

	rs.Server = httptest.NewServer(mux)
	rs.bobURI = rs.URL + "/users/bob"
	t.Cleanup(rs.Close)
	return rs
}

func (rs *remoteServer) deliveries() [][]byte {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([][]byte(nil), rs.received...)
}

type webEnv struct {
	conf   *util.AppConfig
	db     *db.DB
	pool   *activitypub.Pool
	router *gin.Engine
	remote *remoteServer
	alice  *domain.Actor
	golang *domain.Actor
}

func newWebEnv(t *testing.T) *webEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testDomain
	conf.Conf.Environment = "production"
	conf.Conf.MaxContentBytes = 100000
	conf.Conf.MaxReplyDepth = 32
	conf.Conf.PageSize = 2
	conf.Conf.AutoAcceptFollows = true
	for _, profile := range []*util.RetryProfile{&conf.Conf.Delivery.Inbound, &conf.Conf.Delivery.Outbound} {
		*profile = util.RetryProfile{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	}

	_, keys := testKeyPair(t)
	err, alice := database.CreateLocalActor("alice", domain.ActorPerson, testDomain, keys)
	if err != nil {
		t.Fatalf("Failed to create alice: %v", err)
	}
	err, golang := database.CreateLocalActor("golang", domain.ActorGroup, testDomain, keys)
	if err != nil {
		t.Fatalf("Failed to create community: %v", err)
	}

	pipeline := activitypub.NewPipeline(conf, activitypub.Deps{
		Database:   database,
		Moderator:  db.NewModeration(database),
		HTTPClient: activitypub.NewDefaultHTTPClient(5 * time.Second),
		Transport:  activitypub.NewSignedTransport(activitypub.NewDefaultHTTPClient(5 * time.Second)),
	})
	pool := activitypub.NewPool("inbound", 2, 16)
	pool.Start()
	t.Cleanup(pool.Stop)

	server := NewServer(conf, database, pipeline, pool, nil)
	return &webEnv{
		conf:   conf,
		db:     database,
		pool:   pool,
		router: server.Router(),
		remote: newRemoteServer(t),
		alice:  alice,
		golang: golang,
	}
}

func (e *webEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

// signedPost signs signedBody with key under keyId and sends sentBody
func (e *webEnv) signedPost(t *testing.T, path string, key *rsa.PrivateKey, keyId string, signedBody, sentBody []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://"+testDomain+path, bytes.NewReader(sentBody))
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", testDomain)
	if err := activitypub.SignRequest(req, key, keyId, signedBody); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(sentBody))

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *webEnv) postAs(t *testing.T, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return e.signedPost(t, path, e.remote.key, activitypub.KeyId(e.remote.bobURI), body, body)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return doc
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return b
}
