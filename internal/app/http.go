package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"uppath/api/internal/auth"
	"uppath/api/internal/store"
)

const tracerName = "uppath/api/internal/app"

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	requestTimeout time.Duration
	writes         *writeLimiter
	tracer         trace.Tracer
}

type Option func(*HTTPServer)

// WithRequestTimeout bounds the context handed to every request.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *HTTPServer) { s.requestTimeout = timeout }
}

// WithWriteLimit throttles mutations per user. A non-positive rate disables it.
func WithWriteLimit(perSecond float64, burst int) Option {
	return func(s *HTTPServer) {
		if perSecond <= 0 {
			s.writes = nil
			return
		}
		s.writes = newWriteLimiter(perSecond, burst)
	}
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...Option) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			log.Printf("ready check database failed: %v", err)
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": "unavailable"}
		}
		if configured, err := s.service.PingSessionStore(ctx); configured {
			checks["redis"] = map[string]any{"status": "ok"}
			if err != nil {
				log.Printf("ready check redis failed: %v", err)
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks["redis"] = map[string]any{"status": "error", "error": "unavailable"}
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/users" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/jwt" {
		s.handleIssueToken(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		principal, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.Logout(r.Context(), principal); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		principal, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      principal.Name,
			"userId":        principal.UserID,
			"role":          principal.Role,
			"expiresAt":     principal.ExpiresAt.Unix(),
		})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "roadmaps" {
		s.handleRoadmapCollection(w, r)
		return
	}

	// /api/roadmaps/comments/{commentId} is kept as an alias of /api/comments/{commentId}.
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "roadmaps" && parts[2] == "comments" {
		s.handleComment(w, r, parts[3])
		return
	}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "comments" {
		s.handleComment(w, r, parts[2])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "roadmaps" {
		s.handleRoadmap(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRoadmapCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		items, err := s.service.ListRoadmaps(r.Context(), query.Get("status"), query.Get("sort"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, roadmapJSON(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"roadmaps": payload})
	case http.MethodPost:
		principal, ok := s.requireWriter(w, r)
		if !ok {
			return
		}
		var body CreateRoadmapInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateRoadmap(r.Context(), principal, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, roadmapJSON(item))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleRoadmap(w http.ResponseWriter, r *http.Request, roadmapID string, rest []string) {
	if len(rest) == 0 && r.Method == http.MethodGet {
		item, err := s.service.GetRoadmap(r.Context(), roadmapID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roadmapJSON(item))
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case rest[0] == "upvote" && r.Method == http.MethodPut:
		principal, ok := s.requireWriter(w, r)
		if !ok {
			return
		}
		votes, err := s.service.Upvote(r.Context(), roadmapID, principal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Upvoted", "votes": votes})

	case rest[0] == "status" && r.Method == http.MethodPut:
		principal, ok := s.requireWriter(w, r)
		if !ok {
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.UpdateRoadmapStatus(r.Context(), principal, roadmapID, body.Status)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roadmapJSON(item))

	case rest[0] == "comments" && r.Method == http.MethodGet:
		comments, err := s.service.ListComments(r.Context(), roadmapID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload := make([]map[string]any, 0, len(comments))
		for _, comment := range comments {
			payload = append(payload, commentJSON(comment))
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": payload})

	case rest[0] == "comments" && r.Method == http.MethodPost:
		principal, ok := s.requireWriter(w, r)
		if !ok {
			return
		}
		var body CreateCommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.CreateComment(r.Context(), roadmapID, principal, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, commentJSON(comment))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request, commentID string) {
	switch r.Method {
	case http.MethodPut:
		principal, ok := s.requireWriter(w, r)
		if !ok {
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.EditComment(r.Context(), commentID, principal, body.Text)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, commentJSON(comment))
	case http.MethodDelete:
		principal, ok := s.requireWriter(w, r)
		if !ok {
			return
		}
		if err := s.service.DeleteComment(r.Context(), commentID, principal); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Comment deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body SignUpInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.SignUp(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":      userJSON(result.User),
		"token":     result.Token,
		"expiresAt": result.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.IssueToken(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt.Unix(),
		"user":      userJSON(result.User),
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Principal{}, false
	}
	principal, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Principal{}, false
		}
		s.fail(w, r, err)
		return Principal{}, false
	}
	return principal, true
}

// requireWriter authenticates the caller and applies the per-user write limit.
func (s *HTTPServer) requireWriter(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	principal, ok := s.requireSession(w, r)
	if !ok {
		return Principal{}, false
	}
	if s.writes != nil && !s.writes.allow(principal.UserID) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
		return Principal{}, false
	}
	return principal, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("request %s: %s %s failed: %v", requestIDFrom(r.Context()), r.Method, r.URL.Path, err)
		trace.SpanFromContext(r.Context()).RecordError(err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		if s.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
			defer cancel()
		}
		ctx, span := s.tracer.Start(ctx, "HTTP "+r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("request.id", requestID),
			attribute.Int("http.response.status_code", writer.status),
		)
		if writer.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(writer.status))
		}

		traceField := ""
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceField = fmt.Sprintf(`,"trace_id":"%s"`, sc.TraceID().String())
		}
		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d%s}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
			traceField,
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func roadmapJSON(item store.Roadmap) map[string]any {
	voters := item.Voters
	if voters == nil {
		voters = []string{}
	}
	return map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"description": item.Description,
		"status":      item.Status,
		"category":    item.Category,
		"createdBy":   nilIfEmpty(item.CreatedBy),
		"voters":      voters,
		"votes":       item.VoteCount,
		"createdAt":   item.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt":   item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func commentJSON(comment store.Comment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"roadmapId":  comment.RoadmapID,
		"authorId":   comment.AuthorID,
		"authorName": comment.AuthorName,
		"text":       comment.Text,
		"parentId":   nilIfEmpty(comment.ParentID),
		"createdAt":  comment.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt":  comment.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func userJSON(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"name":      user.DisplayName,
		"email":     user.Email,
		"role":      user.Role,
		"createdAt": user.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
