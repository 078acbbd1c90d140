package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/crypto/bcrypt"

	"uppath/api/internal/auth"
	"uppath/api/internal/authpw"
	"uppath/api/internal/config"
	"uppath/api/internal/session"
	"uppath/api/internal/store"
)

type pingFailStore struct {
	*store.MemoryStore
}

func (pingFailStore) Ping(context.Context) error {
	return errors.New("database down")
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr.Code, payload
}

func signUpHTTP(t *testing.T, handler http.Handler, name, email string) string {
	t.Helper()
	code, payload := doRequest(t, handler, http.MethodPost, "/api/auth/users", "",
		`{"name":"`+name+`","email":"`+email+`","password":"secret1"}`)
	if code != http.StatusCreated {
		t.Fatalf("signup expected 201, got %d payload=%v", code, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("signup returned no token: %v", payload)
	}
	return token
}

func adminTokenHTTP(t *testing.T, svc *Service, handler http.Handler) string {
	t.Helper()
	if err := svc.ensureAdmin(context.Background()); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	code, payload := doRequest(t, handler, http.MethodPost, "/api/auth/jwt", "",
		`{"email":"`+svc.cfg.AdminEmail+`","password":"`+svc.cfg.AdminPassword+`"}`)
	if code != http.StatusOK {
		t.Fatalf("admin token expected 200, got %d payload=%v", code, payload)
	}
	token, _ := payload["token"].(string)
	return token
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected CORS origin *, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestHealthEndpointKeepsRequestID(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestReadyEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	code, payload := doRequest(t, NewHTTPServer(svc, "*").Handler(), http.MethodGet, "/api/ready", "", "")
	if code != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("expected ready, got %d %v", code, payload)
	}

	failing := New(svc.cfg, pingFailStore{MemoryStore: store.NewMemoryStore()})
	code, payload = doRequest(t, NewHTTPServer(failing, "*").Handler(), http.MethodGet, "/api/ready", "", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if payload["ok"] != false || payload["status"] != "not_ready" {
		t.Fatalf("unexpected payload %v", payload)
	}
	checks, _ := payload["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["error"] != "unavailable" {
		t.Fatalf("expected driver error to stay server side, got %v", database)
	}
	if _, ok := checks["redis"]; ok {
		t.Fatalf("expected no redis check without a session store, got %v", checks)
	}
}

func TestReadyEndpointChecksRedis(t *testing.T) {
	svc, st := newTestService(t)
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	sessions := session.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = sessions.Close() })
	handler := NewHTTPServer(NewWithSessionStore(svc.cfg, st, sessions), "*").Handler()

	code, payload := doRequest(t, handler, http.MethodGet, "/api/ready", "", "")
	checks, _ := payload["checks"].(map[string]any)
	redisCheck, _ := checks["redis"].(map[string]any)
	if code != http.StatusOK || redisCheck["status"] != "ok" {
		t.Fatalf("expected ready with redis ok, got %d %v", code, payload)
	}

	mr.Close()
	code, payload = doRequest(t, handler, http.MethodGet, "/api/ready", "", "")
	checks, _ = payload["checks"].(map[string]any)
	redisCheck, _ = checks["redis"].(map[string]any)
	if code != http.StatusServiceUnavailable || redisCheck["error"] != "unavailable" {
		t.Fatalf("expected 503 with redis unavailable, got %d %v", code, payload)
	}
}

func TestUpvoteFlow(t *testing.T) {
	svc, st := newTestService(t)
	seedRoadmap(t, st, "rm-x")
	handler := NewHTTPServer(svc, "*").Handler()
	token := signUpHTTP(t, handler, "Alice", "alice@example.com")

	code, payload := doRequest(t, handler, http.MethodPut, "/api/roadmaps/rm-x/upvote", token, "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", code, payload)
	}
	if payload["votes"] != float64(1) {
		t.Fatalf("expected votes=1, got %v", payload["votes"])
	}

	code, payload = doRequest(t, handler, http.MethodPut, "/api/roadmaps/rm-x/upvote", token, "")
	if code != http.StatusBadRequest || payload["code"] != "ALREADY_VOTED" {
		t.Fatalf("expected 400 ALREADY_VOTED, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodGet, "/api/roadmaps/rm-x", "", "")
	if code != http.StatusOK || payload["votes"] != float64(1) {
		t.Fatalf("expected item with 1 vote, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodPut, "/api/roadmaps/missing/upvote", token, "")
	if code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", code, payload)
	}
}

func TestUpvoteRequiresBearer(t *testing.T) {
	svc, st := newTestService(t)
	seedRoadmap(t, st, "rm-x")
	handler := NewHTTPServer(svc, "*").Handler()

	code, payload := doRequest(t, handler, http.MethodPut, "/api/roadmaps/rm-x/upvote", "", "")
	assertUnauthorized(t, code, payload)

	code, payload = doRequest(t, handler, http.MethodPut, "/api/roadmaps/rm-x/upvote", "definitely-not-a-token", "")
	assertUnauthorized(t, code, payload)

	expired, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  "user-1",
		Name: "Avery",
		Role: store.RoleMember,
		JTI:  "jti-expired",
		Exp:  time.Now().Add(-1 * time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	code, payload = doRequest(t, handler, http.MethodPut, "/api/roadmaps/rm-x/upvote", expired, "")
	assertUnauthorized(t, code, payload)
}

func TestCommentThreadFlow(t *testing.T) {
	svc, st := newTestService(t)
	seedRoadmap(t, st, "rm-x")
	handler := NewHTTPServer(svc, "*").Handler()
	alice := signUpHTTP(t, handler, "Alice", "alice@example.com")
	bob := signUpHTTP(t, handler, "Bob", "bob@example.com")

	parentID := ""
	for _, text := range []string{"R", "R2", "R3"} {
		body := `{"text":"` + text + `"}`
		if parentID != "" {
			body = `{"text":"` + text + `","parentId":"` + parentID + `"}`
		}
		code, payload := doRequest(t, handler, http.MethodPost, "/api/roadmaps/rm-x/comments", alice, body)
		if code != http.StatusCreated {
			t.Fatalf("create %s expected 201, got %d %v", text, code, payload)
		}
		parentID, _ = payload["id"].(string)
	}

	code, payload := doRequest(t, handler, http.MethodPost, "/api/roadmaps/rm-x/comments", alice,
		`{"text":"R4","parentId":"`+parentID+`"}`)
	if code != http.StatusBadRequest || payload["code"] != "MAX_DEPTH_EXCEEDED" {
		t.Fatalf("expected 400 MAX_DEPTH_EXCEEDED, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodPost, "/api/roadmaps/rm-x/comments", alice,
		`{"text":"orphan","parentId":"cmt_missing"}`)
	if code != http.StatusNotFound || payload["code"] != "PARENT_NOT_FOUND" {
		t.Fatalf("expected 404 PARENT_NOT_FOUND, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodPost, "/api/roadmaps/rm-x/comments", alice, `{"text":"   "}`)
	if code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodGet, "/api/roadmaps/rm-x/comments", "", "")
	if code != http.StatusOK {
		t.Fatalf("list comments expected 200, got %d", code)
	}
	comments, _ := payload["comments"].([]any)
	if len(comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(comments))
	}
	first, _ := comments[0].(map[string]any)
	if first["text"] != "R" || first["authorName"] != "Alice" || first["parentId"] != nil {
		t.Fatalf("unexpected first comment %v", first)
	}

	code, payload = doRequest(t, handler, http.MethodPut, "/api/comments/"+parentID, bob, `{"text":"mine now"}`)
	if code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodPut, "/api/roadmaps/comments/"+parentID, alice, `{"text":"edited"}`)
	if code != http.StatusOK || payload["text"] != "edited" {
		t.Fatalf("expected edit via alias to succeed, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodDelete, "/api/comments/"+parentID, bob, "")
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 on foreign delete, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodDelete, "/api/comments/"+parentID, alice, "")
	if code != http.StatusOK || payload["message"] == nil {
		t.Fatalf("expected delete to succeed, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodDelete, "/api/comments/"+parentID, alice, "")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d %v", code, payload)
	}

	code, _ = doRequest(t, handler, http.MethodGet, "/api/roadmaps/missing/comments", "", "")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for comments on unknown item, got %d", code)
	}
}

func TestSignUpAndTokenEndpoints(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	code, payload := doRequest(t, handler, http.MethodPost, "/api/auth/users", "",
		`{"name":"Avery","email":"avery@example.com","password":"secret1"}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", code, payload)
	}
	user, _ := payload["user"].(map[string]any)
	if user["email"] != "avery@example.com" || user["role"] != store.RoleMember {
		t.Fatalf("unexpected user payload %v", user)
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Fatal("password hash must not be returned")
	}

	code, payload = doRequest(t, handler, http.MethodPost, "/api/auth/users", "",
		`{"name":"Avery","email":"avery@example.com","password":"secret1"}`)
	if code != http.StatusBadRequest || payload["code"] != "EMAIL_EXISTS" {
		t.Fatalf("expected 400 EMAIL_EXISTS, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodPost, "/api/auth/users", "", `{"name":`)
	if code != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected 400 INVALID_BODY, got %d %v", code, payload)
	}

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"missing email", `{"password":"secret1"}`, http.StatusBadRequest, "EMAIL_REQUIRED"},
		{"unknown user", `{"email":"ghost@example.com","password":"secret1"}`, http.StatusNotFound, "USER_NOT_FOUND"},
		{"wrong password", `{"email":"avery@example.com","password":"nope"}`, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, payload := doRequest(t, handler, http.MethodPost, "/api/auth/jwt", "", tt.body)
			if code != tt.status || payload["code"] != tt.code {
				t.Fatalf("expected %d %s, got %d %v", tt.status, tt.code, code, payload)
			}
		})
	}

	code, payload = doRequest(t, handler, http.MethodPost, "/api/auth/jwt", "",
		`{"email":"avery@example.com","password":"secret1"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", code, payload)
	}
	token, _ := payload["token"].(string)

	code, payload = doRequest(t, handler, http.MethodGet, "/api/session", token, "")
	if code != http.StatusOK || payload["authenticated"] != true || payload["userName"] != "Avery" {
		t.Fatalf("expected authenticated session, got %d %v", code, payload)
	}

	code, _ = doRequest(t, handler, http.MethodPost, "/api/auth/logout", token, "")
	if code != http.StatusOK {
		t.Fatalf("expected logout 200, got %d", code)
	}

	code, payload = doRequest(t, handler, http.MethodGet, "/api/session", token, "")
	if code != http.StatusOK || payload["authenticated"] != false {
		t.Fatalf("expected revoked session to be anonymous, got %d %v", code, payload)
	}
}

func TestRoadmapAdminRoutes(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()
	admin := adminTokenHTTP(t, svc, handler)
	member := signUpHTTP(t, handler, "Member", "member@example.com")

	body := `{"title":"Dark mode","description":"Please add it","category":"ui"}`
	code, payload := doRequest(t, handler, http.MethodPost, "/api/roadmaps", member, body)
	if code != http.StatusForbidden {
		t.Fatalf("expected member create to be forbidden, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodPost, "/api/roadmaps", admin, body)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", code, payload)
	}
	id, _ := payload["id"].(string)
	if payload["status"] != store.StatusProposed || payload["votes"] != float64(0) {
		t.Fatalf("unexpected created item %v", payload)
	}

	code, payload = doRequest(t, handler, http.MethodPut, "/api/roadmaps/"+id+"/status", admin, `{"status":"completed"}`)
	if code != http.StatusOK || payload["status"] != store.StatusCompleted {
		t.Fatalf("expected status update, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodPut, "/api/roadmaps/"+id+"/status", admin, `{"status":"shipped"}`)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown status, got %d %v", code, payload)
	}

	code, payload = doRequest(t, handler, http.MethodGet, "/api/roadmaps?status=completed", "", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	items, _ := payload["roadmaps"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one completed item, got %v", payload)
	}

	code, _ = doRequest(t, handler, http.MethodGet, "/api/roadmaps?status=bogus", "", "")
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad filter, got %d", code)
	}
}

func TestWriteRateLimit(t *testing.T) {
	svc, st := newTestService(t)
	seedRoadmap(t, st, "rm-x")
	handler := NewHTTPServer(svc, "*", WithWriteLimit(0.001, 2)).Handler()
	token := signUpHTTP(t, handler, "Alice", "alice@example.com")

	for i := 0; i < 2; i++ {
		code, payload := doRequest(t, handler, http.MethodPost, "/api/roadmaps/rm-x/comments", token, `{"text":"hi"}`)
		if code != http.StatusCreated {
			t.Fatalf("request %d expected 201, got %d %v", i, code, payload)
		}
	}
	code, payload := doRequest(t, handler, http.MethodPost, "/api/roadmaps/rm-x/comments", token, `{"text":"hi"}`)
	if code != http.StatusTooManyRequests || payload["code"] != "RATE_LIMITED" {
		t.Fatalf("expected 429 RATE_LIMITED, got %d %v", code, payload)
	}

	code, _ = doRequest(t, handler, http.MethodGet, "/api/roadmaps/rm-x/comments", "", "")
	if code != http.StatusOK {
		t.Fatalf("reads must not be throttled, got %d", code)
	}
}

func TestRequestTimeoutPropagates(t *testing.T) {
	svc, _ := newTestService(t)
	server := NewHTTPServer(svc, "*", WithRequestTimeout(time.Millisecond))

	var deadline time.Time
	var ok bool
	handler := server.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if !ok || deadline.IsZero() {
		t.Fatal("expected request context to carry a deadline")
	}
}

func TestExpiredRequestAnswersTimeout(t *testing.T) {
	svc, st := newTestService(t)
	seedRoadmap(t, st, "rm-x")
	handler := NewHTTPServer(svc, "*").Handler()
	token := signUpHTTP(t, handler, "Alice", "alice@example.com")

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	req := httptest.NewRequest(http.MethodPut, "/api/roadmaps/rm-x/upvote", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "TIMEOUT" {
		t.Fatalf("expected 503 TIMEOUT, got %d %v", rr.Code, payload)
	}

	code, payload := doRequest(t, handler, http.MethodGet, "/api/roadmaps/rm-x", "", "")
	if code != http.StatusOK || payload["votes"] != float64(0) {
		t.Fatalf("expected vote count unchanged, got %d %v", code, payload)
	}
}

func TestServerErrorLogCarriesRequestID(t *testing.T) {
	fs := &failingStore{
		MemoryStore: store.NewMemoryStore(),
		addVoterFn: func(context.Context, string, string) (store.VoteResult, error) {
			return store.VoteResult{}, errors.New("connection reset")
		},
	}
	svc := New(config.Config{JWTSecret: "test-secret"}, fs)
	svc.accounts = authpw.NewService(fs).WithCost(bcrypt.MinCost)
	seedRoadmap(t, fs.MemoryStore, "rm-x")
	handler := NewHTTPServer(svc, "*").Handler()
	token := signUpHTTP(t, handler, "Alice", "alice@example.com")

	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	req := httptest.NewRequest(http.MethodPut, "/api/roadmaps/rm-x/upvote", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "req-boom")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	want := "request req-boom: PUT /api/roadmaps/rm-x/upvote failed: connection reset"
	if !strings.Contains(logs.String(), want) {
		t.Fatalf("expected %q in logs, got %q", want, logs.String())
	}
	if strings.Contains(rr.Body.String(), "connection reset") {
		t.Fatalf("store error leaked to client: %s", rr.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	svc, _ := newTestService(t)
	code, payload := doRequest(t, NewHTTPServer(svc, "*").Handler(), http.MethodGet, "/api/nothing-here", "", "")
	if code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", code, payload)
	}
}

func assertUnauthorized(t *testing.T, code int, payload map[string]any) {
	t.Helper()
	if code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d payload=%v", code, payload)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestMiddlewareLogsTraceID(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	svc, _ := newTestService(t)
	server := NewHTTPServer(svc, "*")
	server.tracer = tp.Tracer("test")

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/roadmaps/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	traceID := spans[0].SpanContext.TraceID().String()
	if !strings.Contains(logs.String(), `"trace_id":"`+traceID+`"`) {
		t.Fatalf("expected log line with trace id %s, got %q", traceID, logs.String())
	}
	if !strings.Contains(logs.String(), `"status":404`) {
		t.Fatalf("expected status in log line, got %q", logs.String())
	}
}
