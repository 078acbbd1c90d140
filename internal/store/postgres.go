package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, LOWER($3), $4, $5)
		RETURNING email, created_at
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role).Scan(&user.Email, &user.CreatedAt)
	if err != nil {
		if isPgError(err, sqlStateUniqueViolation) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2 WHERE id=$1`, userID, role)
	if err != nil {
		return false, fmt.Errorf("update user role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update user role rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const roadmapColumns = `
	r.id, r.title, r.description, r.status, r.category, COALESCE(r.created_by, ''), r.vote_count, r.created_at, r.updated_at,
	COALESCE((SELECT string_agg(v.user_id, ',' ORDER BY v.created_at, v.user_id) FROM roadmap_votes v WHERE v.roadmap_id = r.id), '')
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoadmap(row rowScanner) (Roadmap, error) {
	var item Roadmap
	var voters string
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Status,
		&item.Category,
		&item.CreatedBy,
		&item.VoteCount,
		&item.CreatedAt,
		&item.UpdatedAt,
		&voters,
	); err != nil {
		return Roadmap{}, err
	}
	item.Voters = []string{}
	if voters != "" {
		item.Voters = strings.Split(voters, ",")
	}
	return item, nil
}

func (s *PostgresStore) InsertRoadmap(ctx context.Context, item Roadmap) (Roadmap, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roadmaps (id, title, description, status, category, created_by)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING created_at, updated_at
	`, item.ID, item.Title, item.Description, item.Status, item.Category, item.CreatedBy).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Roadmap{}, fmt.Errorf("insert roadmap: %w", err)
	}
	item.Voters = []string{}
	item.VoteCount = 0
	return item, nil
}

func (s *PostgresStore) GetRoadmap(ctx context.Context, roadmapID string) (Roadmap, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roadmapColumns+` FROM roadmaps r WHERE r.id = $1`, roadmapID)
	return scanRoadmap(row)
}

func (s *PostgresStore) ListRoadmaps(ctx context.Context, filter RoadmapFilter) ([]Roadmap, error) {
	orderBy := "r.created_at DESC, r.id"
	if filter.Popular {
		orderBy = "r.vote_count DESC, r.created_at DESC, r.id"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roadmapColumns+`
		FROM roadmaps r
		WHERE ($1 = '' OR r.status = $1)
		ORDER BY `+orderBy, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("list roadmaps: %w", err)
	}
	defer rows.Close()

	items := make([]Roadmap, 0)
	for rows.Next() {
		item, err := scanRoadmap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan roadmap: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roadmaps: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateRoadmapStatus(ctx context.Context, roadmapID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE roadmaps
		SET status=$2, updated_at=NOW()
		WHERE id=$1
	`, roadmapID, status)
	if err != nil {
		return false, fmt.Errorf("update roadmap status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update roadmap status rows: %w", err)
	}
	return affected > 0, nil
}

// AddVoter inserts userID into the item's voter set and bumps vote_count in the same
// transaction. The primary key on roadmap_votes makes the insert idempotent, so two
// concurrent callers for the same user cannot both count.
func (s *PostgresStore) AddVoter(ctx context.Context, roadmapID, userID string) (VoteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return VoteResult{}, fmt.Errorf("begin vote tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO roadmap_votes (roadmap_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (roadmap_id, user_id) DO NOTHING
	`, roadmapID, userID)
	if err != nil {
		if isPgError(err, sqlStateForeignKeyViolation) {
			return VoteResult{}, sql.ErrNoRows
		}
		return VoteResult{}, fmt.Errorf("insert vote: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return VoteResult{}, fmt.Errorf("insert vote rows: %w", err)
	}

	var count int
	if inserted == 1 {
		err = tx.QueryRowContext(ctx, `
			UPDATE roadmaps
			SET vote_count = vote_count + 1
			WHERE id=$1
			RETURNING vote_count
		`, roadmapID).Scan(&count)
	} else {
		err = tx.QueryRowContext(ctx, `SELECT vote_count FROM roadmaps WHERE id=$1`, roadmapID).Scan(&count)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VoteResult{}, err
		}
		return VoteResult{}, fmt.Errorf("update vote count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return VoteResult{}, fmt.Errorf("commit vote tx: %w", err)
	}
	return VoteResult{Inserted: inserted == 1, VoteCount: count}, nil
}

const commentColumns = `c.id, c.roadmap_id, c.author_id, COALESCE(u.display_name, ''), c.body, COALESCE(c.parent_id, ''), c.created_at, c.updated_at`

func scanComment(row rowScanner) (Comment, error) {
	var item Comment
	if err := row.Scan(
		&item.ID,
		&item.RoadmapID,
		&item.AuthorID,
		&item.AuthorName,
		&item.Text,
		&item.ParentID,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Comment{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO comments (id, roadmap_id, author_id, body, parent_id)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			RETURNING *
		)
		SELECT `+commentColumns+`
		FROM inserted c
		LEFT JOIN users u ON u.id = c.author_id
	`, comment.ID, comment.RoadmapID, comment.AuthorID, comment.Text, comment.ParentID)
	item, err := scanComment(row)
	if err != nil {
		if isPgError(err, sqlStateForeignKeyViolation) {
			return Comment{}, sql.ErrNoRows
		}
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.id = $1
	`, commentID)
	return scanComment(row)
}

func (s *PostgresStore) UpdateCommentText(ctx context.Context, commentID, text string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH updated AS (
			UPDATE comments
			SET body=$2, updated_at=clock_timestamp()
			WHERE id=$1
			RETURNING *
		)
		SELECT `+commentColumns+`
		FROM updated c
		LEFT JOIN users u ON u.id = c.author_id
	`, commentID, text)
	item, err := scanComment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Comment{}, err
		}
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, roadmapID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.roadmap_id = $1
		ORDER BY c.created_at ASC, c.id ASC
	`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
