package app

import (
	"errors"
	"fmt"
	"net/http"

	"filegate/api/internal/auth"
	"filegate/api/internal/authpw"
	"filegate/api/internal/blob"
	"filegate/api/internal/export"
	"filegate/api/internal/lifecycle"
	"filegate/api/internal/session"
	"filegate/api/internal/store"
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
	errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errNotFound  = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
)

func invalidInput(code, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, code, message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var transitionErr *lifecycle.TransitionError
	if errors.As(err, &transitionErr) {
		details = map[string]any{
			"from":   transitionErr.From,
			"action": transitionErr.Action,
		}
	}
	switch {
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", "Action is not allowed from the current status", details
	case errors.Is(err, lifecycle.ErrUnauthorized):
		return http.StatusForbidden, "FORBIDDEN", "Role may not perform this action", details
	case errors.Is(err, lifecycle.ErrMissingComment):
		return http.StatusUnprocessableEntity, "MISSING_COMMENT", "A comment on this file is required", details
	case errors.Is(err, lifecycle.ErrConflict):
		return http.StatusConflict, "STATUS_CONFLICT", "File status changed concurrently", details
	case store.IsNotFound(err), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "INVALID_INPUT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
