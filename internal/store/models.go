package store

import (
	"errors"
	"time"
)

const (
	StatusProposed   = "proposed"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// ErrDuplicateEmail is returned by CreateUser when the email is already registered.
var ErrDuplicateEmail = errors.New("email already registered")

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Roadmap is a roadmap item. VoteCount always equals len(Voters).
type Roadmap struct {
	ID          string
	Title       string
	Description string
	Status      string
	Category    string
	CreatedBy   string
	Voters      []string
	VoteCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r Roadmap) HasVoter(userID string) bool {
	for _, voter := range r.Voters {
		if voter == userID {
			return true
		}
	}
	return false
}

type RoadmapFilter struct {
	Status  string
	Popular bool
}

// VoteResult reports whether AddVoter inserted the voter and the count afterwards.
type VoteResult struct {
	Inserted  bool
	VoteCount int
}

// Comment on a roadmap item. ParentID is empty for root comments and may point at a
// comment that has since been deleted.
type Comment struct {
	ID         string
	RoadmapID  string
	AuthorID   string
	AuthorName string
	Text       string
	ParentID   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
