package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. It backs the API when no
// DATABASE_URL is configured and is used throughout the tests. Each method holds the
// store mutex for its whole duration, which gives AddVoter the same insert-if-absent
// semantics as the Postgres primary key. A cancelled or expired context is refused
// before anything is read or written.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	last     time.Time
	users    map[string]User
	roadmaps map[string]Roadmap
	comments map[string]Comment
	revoked  map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		users:    make(map[string]User),
		roadmaps: make(map[string]Roadmap),
		comments: make(map[string]Comment),
		revoked:  make(map[string]time.Time),
	}
}

// tick returns a timestamp strictly after every timestamp handed out before, so
// creation order survives coarse clocks. Callers hold s.mu.
func (s *MemoryStore) tick() time.Time {
	now := s.now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

func (s *MemoryStore) CreateUser(ctx context.Context, user User) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = strings.ToLower(user.Email)
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return User{}, ErrDuplicateEmail
		}
	}
	user.CreatedAt = s.tick()
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *MemoryStore) UpdateUserRole(ctx context.Context, userID, role string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	user.Role = role
	s.users[userID] = user
	return true, nil
}

func (s *MemoryStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revoked[jti] = exp
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.revoked[jti]
	if !ok {
		return false, nil
	}
	if !s.now().Before(exp) {
		delete(s.revoked, jti)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) InsertRoadmap(ctx context.Context, item Roadmap) (Roadmap, error) {
	if err := ctx.Err(); err != nil {
		return Roadmap{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.tick()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Voters = []string{}
	item.VoteCount = 0
	s.roadmaps[item.ID] = item
	return cloneRoadmap(item), nil
}

func (s *MemoryStore) GetRoadmap(ctx context.Context, roadmapID string) (Roadmap, error) {
	if err := ctx.Err(); err != nil {
		return Roadmap{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.roadmaps[roadmapID]
	if !ok {
		return Roadmap{}, sql.ErrNoRows
	}
	return cloneRoadmap(item), nil
}

func (s *MemoryStore) ListRoadmaps(ctx context.Context, filter RoadmapFilter) ([]Roadmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Roadmap, 0, len(s.roadmaps))
	for _, item := range s.roadmaps {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		items = append(items, cloneRoadmap(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if filter.Popular && items[i].VoteCount != items[j].VoteCount {
			return items[i].VoteCount > items[j].VoteCount
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) UpdateRoadmapStatus(ctx context.Context, roadmapID, status string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.roadmaps[roadmapID]
	if !ok {
		return false, nil
	}
	item.Status = status
	item.UpdatedAt = s.tick()
	s.roadmaps[roadmapID] = item
	return true, nil
}

func (s *MemoryStore) AddVoter(ctx context.Context, roadmapID, userID string) (VoteResult, error) {
	if err := ctx.Err(); err != nil {
		return VoteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.roadmaps[roadmapID]
	if !ok {
		return VoteResult{}, sql.ErrNoRows
	}
	if item.HasVoter(userID) {
		return VoteResult{Inserted: false, VoteCount: item.VoteCount}, nil
	}
	item.Voters = append(append([]string{}, item.Voters...), userID)
	item.VoteCount = len(item.Voters)
	s.roadmaps[roadmapID] = item
	return VoteResult{Inserted: true, VoteCount: item.VoteCount}, nil
}

func (s *MemoryStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roadmaps[comment.RoadmapID]; !ok {
		return Comment{}, sql.ErrNoRows
	}
	now := s.tick()
	comment.CreatedAt = now
	comment.UpdatedAt = now
	comment.AuthorName = ""
	s.comments[comment.ID] = comment
	return s.withAuthor(comment), nil
}

func (s *MemoryStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.comments[commentID]
	if !ok {
		return Comment{}, sql.ErrNoRows
	}
	return s.withAuthor(comment), nil
}

func (s *MemoryStore) UpdateCommentText(ctx context.Context, commentID, text string) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	comment, ok := s.comments[commentID]
	if !ok {
		return Comment{}, sql.ErrNoRows
	}
	comment.Text = text
	comment.UpdatedAt = s.tick()
	s.comments[commentID] = comment
	return s.withAuthor(comment), nil
}

func (s *MemoryStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[commentID]; !ok {
		return false, nil
	}
	delete(s.comments, commentID)
	return true, nil
}

func (s *MemoryStore) ListComments(ctx context.Context, roadmapID string) ([]Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Comment, 0)
	for _, comment := range s.comments {
		if comment.RoadmapID == roadmapID {
			items = append(items, s.withAuthor(comment))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) withAuthor(comment Comment) Comment {
	if user, ok := s.users[comment.AuthorID]; ok {
		comment.AuthorName = user.DisplayName
	}
	return comment
}

func cloneRoadmap(item Roadmap) Roadmap {
	item.Voters = append([]string{}, item.Voters...)
	return item
}
