package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrRoadmapNotFound  = domainError(http.StatusNotFound, "NOT_FOUND", "roadmap item not found", nil)
	ErrCommentNotFound  = domainError(http.StatusNotFound, "NOT_FOUND", "comment not found", nil)
	ErrParentNotFound   = domainError(http.StatusNotFound, "PARENT_NOT_FOUND", "parent comment not found", nil)
	ErrAlreadyVoted     = domainError(http.StatusBadRequest, "ALREADY_VOTED", "you have already upvoted this item", nil)
	ErrMaxDepthExceeded = domainError(http.StatusBadRequest, "MAX_DEPTH_EXCEEDED", "replies cannot be nested more than 3 levels deep", nil)
	ErrForbidden        = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	ErrEmailExists      = domainError(http.StatusBadRequest, "EMAIL_EXISTS", "Email already registered", nil)
	ErrEmailRequired    = domainError(http.StatusBadRequest, "EMAIL_REQUIRED", "email is required", nil)
	ErrUserNotFound     = domainError(http.StatusNotFound, "USER_NOT_FOUND", "user not found", nil)
	ErrBadCredentials   = domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
)

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}
