package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShejanMahamud/atg-task-2-server/internal/domain"
	"github.com/ShejanMahamud/atg-task-2-server/internal/repository/memory"
	"github.com/ShejanMahamud/atg-task-2-server/internal/service/auth"
	"github.com/ShejanMahamud/atg-task-2-server/internal/service/post"
	"github.com/ShejanMahamud/atg-task-2-server/internal/ws"
	"github.com/ShejanMahamud/atg-task-2-server/pkg/config"
	jwtpkg "github.com/ShejanMahamud/atg-task-2-server/pkg/jwt"
)

const testSecret = "router-test-secret"

type testEnv struct {
	router *Router
	repo   *memory.Repository
	hub    *ws.Hub
	cfg    config.APIConfig
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		Environment:     "test",
		JWTSecret:       testSecret,
		AccessTokenTTL:  time.Hour,
		BcryptCost:      4,
		CORSOrigins:     []string{"http://localhost:5173"},
		RateLimitWindow: time.Minute,
	}
}

func newTestEnv(t *testing.T, mutate func(*config.APIConfig)) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.New()
	hub := ws.NewHub()
	authSvc := auth.New(repo, logger, cfg)
	postSvc := post.New(repo, logger, post.WithPublisher(hub), post.WithOwnership(cfg.EnforcePostOwnership))
	router := NewRouter(logger, authSvc, postSvc, hub, NewMemoryRateLimiter(), cfg, repo.Ping, WithRegistry(prometheus.NewRegistry()))
	t.Cleanup(func() {
		router.Close()
		hub.Close()
	})
	return &testEnv{router: router, repo: repo, hub: hub, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:5000"
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectEnvelope(t *testing.T, rec *httptest.ResponseRecorder, status int, success bool, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if got, _ := body["success"].(bool); got != success {
		t.Fatalf("expected success=%v, got %v", success, body["success"])
	}
	if body["message"] != message {
		t.Fatalf("expected message %q, got %v", message, body["message"])
	}
}

func expectMessage(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if _, ok := body["success"]; ok {
		t.Fatalf("expected bare message body, got %v", body)
	}
	if body["message"] != message {
		t.Fatalf("expected message %q, got %v", message, body["message"])
	}
}

func (e *testEnv) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/register", "", map[string]string{
		"name":     "Test " + username,
		"username": username,
		"email":    username + "@example.com",
		"password": "s3cret",
		"gender":   "other",
		"photo":    "https://example.com/" + username + ".png",
	})
	expectEnvelope(t, rec, http.StatusCreated, true, "User registered successfully")
	rec = e.do(t, http.MethodPost, "/login", "", map[string]string{"username": username, "password": "s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected token in login response: %v", body)
	}
	return token
}

func (e *testEnv) createPost(t *testing.T, token string, doc map[string]any) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/posts", token, doc)
	expectEnvelope(t, rec, http.StatusOK, true, "Post Submitted Successfully")
	posts, err := e.repo.ListPosts(context.Background())
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	last := posts[len(posts)-1]
	id, ok := last["_id"].(interface{ Hex() string })
	if !ok {
		t.Fatalf("unexpected _id type %T", last["_id"])
	}
	return id.Hex()
}

func (e *testEnv) listPosts(t *testing.T) []map[string]any {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/posts", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	var body struct {
		Success bool             `json:"success"`
		Posts   []map[string]any `json:"posts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode posts: %v", err)
	}
	if !body.Success {
		t.Fatalf("expected success listing")
	}
	return body.Posts
}

func TestRootReportsServerStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["server_status"]; got != "Server Running" {
		t.Fatalf("unexpected server_status %v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestListPostsEmpty(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/posts", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	posts, ok := body["posts"].([]any)
	if !ok || len(posts) != 0 {
		t.Fatalf("expected empty posts array, got %v", body["posts"])
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerAndLogin(t, "alice")
	rec := env.do(t, http.MethodPost, "/register", "", map[string]string{"username": "alice", "password": "other"})
	expectMessage(t, rec, http.StatusBadRequest, "User already exists")
}

func TestRegisterMissingPasswordIsServerError(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/register", "", map[string]string{"username": "nopass"})
	expectMessage(t, rec, http.StatusInternalServerError, "Internal server error")
}

func TestRegisteredPasswordIsHashed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerAndLogin(t, "hashed")
	user, err := env.repo.FindByUsername(context.Background(), "hashed")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.Password == "s3cret" || !strings.HasPrefix(user.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", user.Password)
	}
}

func TestLoginTokenCarriesProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.registerAndLogin(t, "bob")
	claims, err := jwtpkg.Parse(token, testSecret)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Username != "bob" || claims.Email != "bob@example.com" || claims.UserID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Hour+time.Minute {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestLoginFailuresAnswerOK(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerAndLogin(t, "carol")

	rec := env.do(t, http.MethodPost, "/login", "", map[string]string{"username": "carol", "password": "wrong"})
	expectEnvelope(t, rec, http.StatusOK, false, "Invalid credentials")

	rec = env.do(t, http.MethodPost, "/login", "", map[string]string{"username": "ghost", "password": "s3cret"})
	expectEnvelope(t, rec, http.StatusOK, false, "Invalid credentials")

	rec = env.do(t, http.MethodPost, "/login", "", map[string]string{"username": "carol"})
	expectMessage(t, rec, http.StatusOK, "Internal server error")
}

func TestCreatePostStoresDocumentVerbatim(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createPost(t, "", map[string]any{
		"content": "hello",
		"author":  map[string]any{"name": "dave", "tags": []any{"a", "b"}},
		"likes":   0,
	})
	posts := env.listPosts(t)
	if len(posts) != 1 {
		t.Fatalf("expected one post, got %d", len(posts))
	}
	got := posts[0]
	if got["content"] != "hello" {
		t.Fatalf("unexpected content %v", got["content"])
	}
	author, ok := got["author"].(map[string]any)
	if !ok || author["name"] != "dave" {
		t.Fatalf("expected nested author object, got %v", got["author"])
	}
	if _, ok := got["_id"].(string); !ok {
		t.Fatalf("expected string _id, got %T", got["_id"])
	}
}

func TestCreatePostMalformedBody(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/posts", "", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec.Body.String() != "Something Went Wrong!" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, nil)
	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPatch, "/like/0123456789abcdef01234567"},
		{http.MethodPatch, "/post/0123456789abcdef01234567"},
		{http.MethodPatch, "/forget_password/a@example.com"},
	}
	for _, rt := range routes {
		rec := env.do(t, rt.method, rt.path, "", map[string]any{})
		expectMessage(t, rec, http.StatusUnauthorized, "Access denied")

		rec = env.do(t, rt.method, rt.path, "not-a-jwt", map[string]any{})
		expectMessage(t, rec, http.StatusForbidden, "Invalid token")
	}
}

func TestSchemeOnlyHeaderIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPatch, "/like/0123456789abcdef01234567", nil)
	req.Header.Set("Authorization", "Bearer")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	expectMessage(t, rec, http.StatusUnauthorized, "Access denied")
}

func TestExpiredTokenIsForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	token, err := jwtpkg.GenerateToken(jwtpkg.Claims{UserID: "u1", Username: "old"}, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	rec := env.do(t, http.MethodPatch, "/like/0123456789abcdef01234567", token, nil)
	expectMessage(t, rec, http.StatusForbidden, "Invalid token")
}

func TestToggleLikeAlternates(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.registerAndLogin(t, "erin")
	id := env.createPost(t, token, map[string]any{"content": "like me"})

	for i, want := range []struct {
		liked bool
		likes float64
	}{{true, 1}, {false, 0}, {true, 1}} {
		rec := env.do(t, http.MethodPatch, "/like/"+id, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("toggle %d: status %d (%s)", i, rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if body["message"] != "Post updated successfully" || body["success"] != true {
			t.Fatalf("toggle %d: unexpected envelope %v", i, body)
		}
		if body["liked"] != want.liked || body["likes"] != want.likes {
			t.Fatalf("toggle %d: expected liked=%v likes=%v, got %v %v", i, want.liked, want.likes, body["liked"], body["likes"])
		}
	}

	other := env.registerAndLogin(t, "frank")
	rec := env.do(t, http.MethodPatch, "/like/"+id, other, nil)
	if body := decodeBody(t, rec); body["likes"] != float64(2) {
		t.Fatalf("expected two likes, got %v", body["likes"])
	}

	posts := env.listPosts(t)
	likedBy, _ := posts[0]["likedBy"].([]any)
	if len(likedBy) != 2 || posts[0]["likes"] != float64(2) {
		t.Fatalf("expected likes to match likedBy, got %v / %v", posts[0]["likes"], likedBy)
	}
}

func TestToggleLikeUnknownPost(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.registerAndLogin(t, "gina")
	rec := env.do(t, http.MethodPatch, "/like/0123456789abcdef01234567", token, nil)
	expectEnvelope(t, rec, http.StatusNotFound, false, "Post not found")

	rec = env.do(t, http.MethodPatch, "/like/not-an-id", token, nil)
	expectEnvelope(t, rec, http.StatusNotFound, false, "Post not found")
}

func TestAddCommentAssignsIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createPost(t, "", map[string]any{"content": "discuss"})

	rec := env.do(t, http.MethodPatch, "/comment/"+id, "", map[string]any{
		"commentInfo": map[string]any{"text": "nice", "user": "hank", "_id": "client-id"},
	})
	expectEnvelope(t, rec, http.StatusOK, true, "Comment Added!")

	posts := env.listPosts(t)
	comments, _ := posts[0]["comments"].([]any)
	if len(comments) != 1 {
		t.Fatalf("expected one comment, got %v", posts[0]["comments"])
	}
	comment := comments[0].(map[string]any)
	if comment["text"] != "nice" || comment["user"] != "hank" {
		t.Fatalf("unexpected comment fields %v", comment)
	}
	if cid, _ := comment["_id"].(string); cid == "" || cid == "client-id" {
		t.Fatalf("expected server-assigned comment id, got %v", comment["_id"])
	}
}

func TestAddCommentFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPatch, "/comment/0123456789abcdef01234567", "", map[string]any{"commentInfo": map[string]any{"text": "x"}})
	expectEnvelope(t, rec, http.StatusOK, false, "Comment Failed!")

	rec = env.do(t, http.MethodPatch, "/comment/bogus", "", map[string]any{"commentInfo": map[string]any{"text": "x"}})
	expectEnvelope(t, rec, http.StatusOK, false, "Comment Failed!")
}

func TestUpdatePostContent(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.registerAndLogin(t, "ivan")
	id := env.createPost(t, "", map[string]any{"content": "draft"})

	rec := env.do(t, http.MethodPatch, "/post/"+id, token, map[string]any{"newContent": "final"})
	expectEnvelope(t, rec, http.StatusOK, true, "Post Updated Successfully!")
	if got := env.listPosts(t)[0]["content"]; got != "final" {
		t.Fatalf("expected updated content, got %v", got)
	}

	rec = env.do(t, http.MethodPatch, "/post/"+id, token, map[string]any{"newContent": "final"})
	expectEnvelope(t, rec, http.StatusOK, false, "Post Updated Failed!")

	rec = env.do(t, http.MethodPatch, "/post/0123456789abcdef01234567", token, map[string]any{"newContent": "x"})
	expectEnvelope(t, rec, http.StatusOK, false, "Post Updated Failed!")
}

func TestDeletePost(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createPost(t, "", map[string]any{"content": "bye"})

	rec := env.do(t, http.MethodDelete, "/post/"+id, "", nil)
	expectEnvelope(t, rec, http.StatusOK, true, "Successfully Deleted!")
	if posts := env.listPosts(t); len(posts) != 0 {
		t.Fatalf("expected no posts, got %d", len(posts))
	}

	rec = env.do(t, http.MethodDelete, "/post/"+id, "", nil)
	expectEnvelope(t, rec, http.StatusOK, false, "Something Wrong!")
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.registerAndLogin(t, "judy")

	rec := env.do(t, http.MethodPatch, "/forget_password/judy@example.com", token, map[string]string{"password": "n3w"})
	expectEnvelope(t, rec, http.StatusOK, true, "Password Reset Successfully!")

	rec = env.do(t, http.MethodPost, "/login", "", map[string]string{"username": "judy", "password": "n3w"})
	if body := decodeBody(t, rec); body["success"] != true {
		t.Fatalf("expected login with new password, got %v", body)
	}

	rec = env.do(t, http.MethodPatch, "/forget_password/nobody@example.com", token, map[string]string{"password": "n3w"})
	expectEnvelope(t, rec, http.StatusOK, false, "Password Reset Failed!")

	rec = env.do(t, http.MethodPatch, "/forget_password/judy@example.com", token, map[string]string{})
	expectEnvelope(t, rec, http.StatusInternalServerError, false, "Internal server error")
}

func TestMutationGateRequiresAuth(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.APIConfig) { cfg.RequireAuthAllMutations = true })
	rec := env.do(t, http.MethodPatch, "/comment/0123456789abcdef01234567", "", map[string]any{"commentInfo": map[string]any{}})
	expectMessage(t, rec, http.StatusUnauthorized, "Access denied")
	rec = env.do(t, http.MethodDelete, "/post/0123456789abcdef01234567", "", nil)
	expectMessage(t, rec, http.StatusUnauthorized, "Access denied")

	rec = env.do(t, http.MethodPost, "/posts", "", map[string]any{"content": "open"})
	expectEnvelope(t, rec, http.StatusOK, true, "Post Submitted Successfully")
}

func TestOwnershipScopesMutations(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.APIConfig) { cfg.EnforcePostOwnership = true })
	owner := env.registerAndLogin(t, "kate")
	intruder := env.registerAndLogin(t, "leo")

	rec := env.do(t, http.MethodPost, "/posts", "", map[string]any{"content": "mine"})
	expectMessage(t, rec, http.StatusUnauthorized, "Access denied")

	id := env.createPost(t, owner, map[string]any{"content": "mine"})
	if author, _ := env.listPosts(t)[0]["authorId"].(string); author == "" {
		t.Fatalf("expected authorId stamped on post")
	}

	rec = env.do(t, http.MethodPatch, "/post/"+id, intruder, map[string]any{"newContent": "hijack"})
	expectEnvelope(t, rec, http.StatusOK, false, "Post Updated Failed!")
	rec = env.do(t, http.MethodDelete, "/post/"+id, intruder, nil)
	expectEnvelope(t, rec, http.StatusOK, false, "Something Wrong!")

	rec = env.do(t, http.MethodPatch, "/post/"+id, owner, map[string]any{"newContent": "edited"})
	expectEnvelope(t, rec, http.StatusOK, true, "Post Updated Successfully!")
	rec = env.do(t, http.MethodDelete, "/post/"+id, owner, nil)
	expectEnvelope(t, rec, http.StatusOK, true, "Successfully Deleted!")
}

func TestRateLimitOnLogin(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.APIConfig) { cfg.RateLimitAuth = 2 })
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/login", "", map[string]string{"username": "x", "password": "y"})
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("expected rate limit header")
		}
	}
	rec := env.do(t, http.MethodPost, "/login", "", map[string]string{"username": "x", "password": "y"})
	expectMessage(t, rec, http.StatusTooManyRequests, "Too many requests")
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected zero remaining, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/like/abc", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch) {
		t.Fatalf("expected PATCH to be allowed")
	}

	req = httptest.NewRequest(http.MethodOptions, "/posts", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disallowed origin, got %d", rec.Code)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/nope", "", nil)
	expectMessage(t, rec, http.StatusNotFound, "Not Found")
	rec = env.do(t, http.MethodPut, "/posts", "", nil)
	expectMessage(t, rec, http.StatusMethodNotAllowed, "Method Not Allowed")
}

func TestHealthzReportsDatabase(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Fatalf("unexpected health %v", body)
	}

	env.router.dbHealth = func(context.Context) error { return errors.New("connection refused") }
	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "degraded" {
		t.Fatalf("unexpected health %v", body)
	}
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/posts", "", nil)
	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `social_api_http_requests_total{method="GET",route="/posts",status="200"} 1`) {
		t.Fatalf("expected request counter in metrics output:\n%s", rec.Body.String())
	}
}

func TestPanicRecovery(t *testing.T) {
	env := newTestEnv(t, nil)
	env.router.mux.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := env.do(t, http.MethodGet, "/boom", "", nil)
	expectMessage(t, rec, http.StatusInternalServerError, "Internal server error")
}

func waitForSubscribers(t *testing.T, hub *ws.Hub, topic string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(topic) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers on %s", n, topic)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeedSSEStreamsEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/posts", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	waitForSubscribers(t, env.hub, ws.FeedTopic, 1)

	env.createPost(t, "", map[string]any{"content": "streamed"})

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event domain.PostEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Type != domain.EventPostCreated || event.PostID == "" {
			t.Fatalf("unexpected event %+v", event)
		}
		return
	}
	t.Fatalf("stream ended without event: %v", scanner.Err())
}

func TestFeedWebsocketNarrowsToPost(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	token := env.registerAndLogin(t, "mona")
	id := env.createPost(t, token, map[string]any{"content": "watched"})
	other := env.createPost(t, token, map[string]any{"content": "ignored"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/posts?post_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	waitForSubscribers(t, env.hub, ws.PostTopic(id), 1)

	env.do(t, http.MethodPatch, "/like/"+other, token, nil)
	env.do(t, http.MethodPatch, "/like/"+id, token, nil)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var event domain.PostEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.PostID != id || event.Type != domain.EventPostLiked {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Likes == nil || *event.Likes != 1 {
		t.Fatalf("expected likes=1 in event, got %v", event.Likes)
	}
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.APIConfig) { cfg.RateLimitAuth = 2 })
	var codes []int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"x","password":"y"}`))
		req.RemoteAddr = "192.0.2.10:5000"
		req.Header.Set("X-Forwarded-For", "10.0.0."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("expected codes %v, got %v", want, codes)
		}
	}
}

func TestCreatePostEmptyBody(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/posts", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	expectEnvelope(t, rec, http.StatusOK, true, "Post Submitted Successfully")
	if posts := env.listPosts(t); len(posts) != 1 {
		t.Fatalf("expected one stored post, got %d", len(posts))
	}
}
