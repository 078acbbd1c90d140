// Package thread enforces the reply depth limit on comment threads.
package thread

import (
	"context"
	"database/sql"
	"errors"
)

// MaxDepth is the deepest a comment may sit, counting a root comment as depth 1.
const MaxDepth = 3

var (
	ErrParentNotFound   = errors.New("parent comment not found")
	ErrMaxDepthExceeded = errors.New("max reply depth exceeded")
)

// ParentOf returns the parent id of the comment with the given id ("" for a root)
// and sql.ErrNoRows when the comment does not exist.
type ParentOf func(ctx context.Context, commentID string) (string, error)

// ReplyDepth walks upward from parentID and returns the depth a new reply to it would
// have. It performs at most MaxDepth lookups, so cyclic chains still terminate.
// An ancestor that no longer exists still counts as one level, then ends the walk.
func ReplyDepth(ctx context.Context, parentID string, parentOf ParentOf) (int, error) {
	depth := 0
	current := parentID
	for depth < MaxDepth {
		next, err := parentOf(ctx, current)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return 0, err
			}
			if depth == 0 {
				return 0, ErrParentNotFound
			}
			depth++
			break
		}
		depth++
		if next == "" {
			break
		}
		current = next
	}
	if depth >= MaxDepth {
		return 0, ErrMaxDepthExceeded
	}
	return depth + 1, nil
}
