package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"uppath/api/internal/auth"
	"uppath/api/internal/authpw"
	"uppath/api/internal/config"
	"uppath/api/internal/rbac"
	"uppath/api/internal/store"
	"uppath/api/internal/thread"
	"uppath/api/internal/util"
)

const (
	maxCommentLength = 300
	maxTitleLength   = 200
)

// Principal is the authenticated caller, built from verified token claims.
type Principal struct {
	Token     string
	UserID    string
	Name      string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type CreateCommentInput struct {
	Text     string `json:"text"`
	ParentID string `json:"parentId"`
}

type CreateRoadmapInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Status      string `json:"status"`
}

type SignUpInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by SignUp and IssueToken.
type AuthResult struct {
	User      store.User
	Token     string
	ExpiresAt time.Time
}

// DataStore is implemented by store.PostgresStore and store.MemoryStore.
type DataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserRole(context.Context, string, string) (bool, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	InsertRoadmap(context.Context, store.Roadmap) (store.Roadmap, error)
	GetRoadmap(context.Context, string) (store.Roadmap, error)
	ListRoadmaps(context.Context, store.RoadmapFilter) ([]store.Roadmap, error)
	UpdateRoadmapStatus(context.Context, string, string) (bool, error)
	AddVoter(context.Context, string, string) (store.VoteResult, error)
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	UpdateCommentText(context.Context, string, string) (store.Comment, error)
	DeleteComment(context.Context, string) (bool, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	Ping(ctx context.Context) error
}

// tokenRevoker records logged-out access tokens. Redis when configured, else the data store.
type tokenRevoker interface {
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    DataStore
	revoked  tokenRevoker
	external bool // revoked is a separate backend, checked on readiness
	accounts *authpw.Service
	now      func() time.Time
}

func New(cfg config.Config, dataStore DataStore) *Service {
	return newService(cfg, dataStore, dataStore, false)
}

func NewWithSessionStore(cfg config.Config, dataStore DataStore, revoked tokenRevoker) *Service {
	return newService(cfg, dataStore, revoked, true)
}

func newService(cfg config.Config, dataStore DataStore, revoked tokenRevoker, external bool) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		revoked:  revoked,
		external: external,
		accounts: authpw.NewService(dataStore),
		now:      time.Now,
	}
}

// Bootstrap provisions the configured admin account and seeds a few roadmap items into
// an empty catalogue.
func (s *Service) Bootstrap(ctx context.Context) error {
	var adminErr error
	if err := s.ensureAdmin(ctx); err != nil {
		adminErr = fmt.Errorf("admin account: %w", err)
	}
	return errors.Join(adminErr, s.seedCatalogue(ctx))
}

func (s *Service) seedCatalogue(ctx context.Context) error {
	existing, err := s.store.ListRoadmaps(ctx, store.RoadmapFilter{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	seeds := []store.Roadmap{
		{Title: "Dark mode", Description: "A dark colour scheme across the whole app.", Category: "ui", Status: store.StatusProposed},
		{Title: "Offline drafts", Description: "Keep unsent feedback when the connection drops.", Category: "feature", Status: store.StatusInProgress},
		{Title: "Email digests", Description: "Weekly summary of items you voted on.", Category: "notifications", Status: store.StatusCompleted},
	}
	for _, seed := range seeds {
		seed.ID = util.NewID("rm")
		if _, err := s.store.InsertRoadmap(ctx, seed); err != nil {
			return err
		}
	}
	return nil
}

// ensureAdmin creates the configured admin account. An account already registered under
// that email is promoted only when it was created with the configured password.
func (s *Service) ensureAdmin(ctx context.Context) error {
	if !s.cfg.HasAdmin() {
		return nil
	}
	user, err := s.accounts.Authenticate(ctx, authpw.SignInRequest{
		Email:    s.cfg.AdminEmail,
		Password: s.cfg.AdminPassword,
	})
	switch {
	case errors.Is(err, authpw.ErrUserNotFound):
		name := strings.TrimSpace(s.cfg.AdminName)
		if name == "" {
			name = "Admin"
		}
		_, err = s.accounts.SignUp(ctx, authpw.SignUpRequest{
			Email:       s.cfg.AdminEmail,
			Password:    s.cfg.AdminPassword,
			DisplayName: name,
			Role:        store.RoleAdmin,
		})
		return err
	case errors.Is(err, authpw.ErrInvalidPassword):
		return fmt.Errorf("%s is registered with a different password; not promoting", s.cfg.AdminEmail)
	case err != nil:
		return err
	}
	if user.Role == store.RoleAdmin {
		return nil
	}
	_, err = s.store.UpdateUserRole(ctx, user.ID, store.RoleAdmin)
	return err
}

// SignUp registers a member account. Admin rights only come from ensureAdmin.
func (s *Service) SignUp(ctx context.Context, input SignUpInput) (AuthResult, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.Name,
		Role:        store.RoleMember,
	})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrEmailExists):
			return AuthResult{}, ErrEmailExists
		case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrInvalidEmail), errors.Is(err, authpw.ErrPasswordTooShort):
			return AuthResult{}, validationError(err.Error())
		}
		return AuthResult{}, err
	}
	return s.issueToken(user)
}

func (s *Service) IssueToken(ctx context.Context, email, password string) (AuthResult, error) {
	user, err := s.accounts.Authenticate(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrEmailRequired):
			return AuthResult{}, ErrEmailRequired
		case errors.Is(err, authpw.ErrUserNotFound):
			return AuthResult{}, ErrUserNotFound
		case errors.Is(err, authpw.ErrInvalidPassword):
			return AuthResult{}, ErrBadCredentials
		}
		return AuthResult{}, err
	}
	return s.issueToken(user)
}

func (s *Service) issueToken(user store.User) (AuthResult, error) {
	expiresAt := s.now().Add(s.tokenTTL())
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  util.NewID("jti"),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) tokenTTL() time.Duration {
	if s.cfg.TokenTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.cfg.TokenTTL
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Principal, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Principal{}, err
	}
	revoked, err := s.revoked.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Principal{}, err
	}
	if revoked {
		return Principal{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Principal{}, auth.ErrInvalidToken
		}
		return Principal{}, err
	}

	return Principal{
		Token:     token,
		UserID:    user.ID,
		Name:      user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, principal Principal) error {
	if principal.JTI == "" {
		return nil
	}
	return s.revoked.RevokeAccessToken(ctx, principal.JTI, principal.ExpiresAt)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Upvote records the principal's vote on a roadmap item and returns the new total.
// A second vote by the same user fails with ErrAlreadyVoted and changes nothing.
func (s *Service) Upvote(ctx context.Context, roadmapID string, principal Principal) (int, error) {
	if !s.Can(principal.Role, rbac.ActionVote) {
		return 0, ErrForbidden
	}
	result, err := s.store.AddVoter(ctx, roadmapID, principal.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrRoadmapNotFound
		}
		return 0, err
	}
	if !result.Inserted {
		return 0, ErrAlreadyVoted
	}
	return result.VoteCount, nil
}

func (s *Service) CreateComment(ctx context.Context, roadmapID string, principal Principal, input CreateCommentInput) (store.Comment, error) {
	if !s.Can(principal.Role, rbac.ActionComment) {
		return store.Comment{}, ErrForbidden
	}
	if _, err := s.store.GetRoadmap(ctx, roadmapID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, ErrRoadmapNotFound
		}
		return store.Comment{}, err
	}
	text, err := normalizeCommentText(input.Text)
	if err != nil {
		return store.Comment{}, err
	}

	parentID := strings.TrimSpace(input.ParentID)
	if parentID != "" {
		if err := s.checkParent(ctx, roadmapID, parentID); err != nil {
			return store.Comment{}, err
		}
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:        util.NewID("cmt"),
		RoadmapID: roadmapID,
		AuthorID:  principal.UserID,
		Text:      text,
		ParentID:  parentID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, ErrRoadmapNotFound
		}
		return store.Comment{}, err
	}
	return comment, nil
}

// checkParent verifies the parent exists on the same item and has room for a reply.
// The check and the later insert are not atomic; two concurrent replies can each pass.
func (s *Service) checkParent(ctx context.Context, roadmapID, parentID string) error {
	parent, err := s.store.GetComment(ctx, parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrParentNotFound
		}
		return err
	}
	if parent.RoadmapID != roadmapID {
		return ErrParentNotFound
	}

	parentOf := func(ctx context.Context, commentID string) (string, error) {
		if commentID == parent.ID {
			return parent.ParentID, nil
		}
		comment, err := s.store.GetComment(ctx, commentID)
		if err != nil {
			return "", err
		}
		return comment.ParentID, nil
	}
	if _, err := thread.ReplyDepth(ctx, parentID, parentOf); err != nil {
		switch {
		case errors.Is(err, thread.ErrParentNotFound):
			return ErrParentNotFound
		case errors.Is(err, thread.ErrMaxDepthExceeded):
			return ErrMaxDepthExceeded
		}
		return err
	}
	return nil
}

// ListComments returns every comment on the item, oldest first. Threading is left to the client.
func (s *Service) ListComments(ctx context.Context, roadmapID string) ([]store.Comment, error) {
	if _, err := s.store.GetRoadmap(ctx, roadmapID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoadmapNotFound
		}
		return nil, err
	}
	return s.store.ListComments(ctx, roadmapID)
}

func (s *Service) EditComment(ctx context.Context, commentID string, principal Principal, text string) (store.Comment, error) {
	if _, err := s.ownComment(ctx, commentID, principal); err != nil {
		return store.Comment{}, err
	}
	normalized, err := normalizeCommentText(text)
	if err != nil {
		return store.Comment{}, err
	}
	updated, err := s.store.UpdateCommentText(ctx, commentID, normalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, ErrCommentNotFound
		}
		return store.Comment{}, err
	}
	return updated, nil
}

// DeleteComment removes a single comment. Replies stay in place with a dangling ParentID.
func (s *Service) DeleteComment(ctx context.Context, commentID string, principal Principal) error {
	if _, err := s.ownComment(ctx, commentID, principal); err != nil {
		return err
	}
	deleted, err := s.store.DeleteComment(ctx, commentID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrCommentNotFound
	}
	return nil
}

func (s *Service) ownComment(ctx context.Context, commentID string, principal Principal) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, ErrCommentNotFound
		}
		return store.Comment{}, err
	}
	if comment.AuthorID != principal.UserID {
		return store.Comment{}, ErrForbidden
	}
	return comment, nil
}

func (s *Service) ListRoadmaps(ctx context.Context, status, sortKey string) ([]store.Roadmap, error) {
	filter := store.RoadmapFilter{}
	if strings.TrimSpace(status) != "" {
		normalized, ok := normalizeStatus(status)
		if !ok {
			return nil, validationError("status must be one of proposed, in-progress, completed")
		}
		filter.Status = normalized
	}
	switch strings.ToLower(strings.TrimSpace(sortKey)) {
	case "", "newest":
	case "popular":
		filter.Popular = true
	default:
		return nil, validationError("sort must be popular or newest")
	}
	return s.store.ListRoadmaps(ctx, filter)
}

func (s *Service) GetRoadmap(ctx context.Context, roadmapID string) (store.Roadmap, error) {
	item, err := s.store.GetRoadmap(ctx, roadmapID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Roadmap{}, ErrRoadmapNotFound
		}
		return store.Roadmap{}, err
	}
	return item, nil
}

func (s *Service) CreateRoadmap(ctx context.Context, principal Principal, input CreateRoadmapInput) (store.Roadmap, error) {
	if !s.Can(principal.Role, rbac.ActionManage) {
		return store.Roadmap{}, ErrForbidden
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Roadmap{}, validationError("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return store.Roadmap{}, validationError("title must be at most 200 characters")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return store.Roadmap{}, validationError("description is required")
	}
	status := store.StatusProposed
	if strings.TrimSpace(input.Status) != "" {
		normalized, ok := normalizeStatus(input.Status)
		if !ok {
			return store.Roadmap{}, validationError("status must be one of proposed, in-progress, completed")
		}
		status = normalized
	}

	return s.store.InsertRoadmap(ctx, store.Roadmap{
		ID:          util.NewID("rm"),
		Title:       title,
		Description: description,
		Status:      status,
		Category:    strings.TrimSpace(input.Category),
		CreatedBy:   principal.UserID,
	})
}

func (s *Service) UpdateRoadmapStatus(ctx context.Context, principal Principal, roadmapID, status string) (store.Roadmap, error) {
	if !s.Can(principal.Role, rbac.ActionManage) {
		return store.Roadmap{}, ErrForbidden
	}
	normalized, ok := normalizeStatus(status)
	if !ok {
		return store.Roadmap{}, validationError("status must be one of proposed, in-progress, completed")
	}
	updated, err := s.store.UpdateRoadmapStatus(ctx, roadmapID, normalized)
	if err != nil {
		return store.Roadmap{}, err
	}
	if !updated {
		return store.Roadmap{}, ErrRoadmapNotFound
	}
	return s.GetRoadmap(ctx, roadmapID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessionStore checks the token revocation backend. configured is false when
// revocations live in the data store and are already covered by Ping.
func (s *Service) PingSessionStore(ctx context.Context) (configured bool, err error) {
	if !s.external {
		return false, nil
	}
	return true, s.revoked.Ping(ctx)
}

func normalizeCommentText(value string) (string, error) {
	text := strings.TrimSpace(value)
	if text == "" {
		return "", validationError("text is required")
	}
	if utf8.RuneCountInString(text) > maxCommentLength {
		return "", validationError("text must be at most 300 characters")
	}
	return text, nil
}

// normalizeStatus accepts "pending" as the older spelling of "proposed".
func normalizeStatus(value string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case store.StatusProposed, "pending":
		return store.StatusProposed, true
	case store.StatusInProgress, "in_progress":
		return store.StatusInProgress, true
	case store.StatusCompleted:
		return store.StatusCompleted, true
	default:
		return "", false
	}
}
