package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"hubo/api/internal/attachments"
	"hubo/api/internal/auth"
	"hubo/api/internal/export"
	"hubo/api/internal/generator"
	"hubo/api/internal/progression"
	"hubo/api/internal/store"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var statusErr *generator.StatusError
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, progression.ErrProjectNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, progression.ErrUnrecognizedStage):
		return http.StatusConflict, "UNRECOGNIZED_STAGE", err.Error(), nil
	case errors.Is(err, progression.ErrStageHasTasks):
		return http.StatusConflict, "STAGE_HAS_TASKS", "Current stage already has tasks", nil
	case errors.Is(err, progression.ErrProjectClosed):
		return http.StatusConflict, "PROJECT_CLOSED", "Project is completed or archived", nil
	case errors.Is(err, store.ErrIdeaPromoted):
		return http.StatusConflict, "IDEA_PROMOTED", "Idea already promoted", nil
	case errors.Is(err, generator.ErrNotConfigured):
		return http.StatusServiceUnavailable, "GENERATOR_UNAVAILABLE", "AI endpoints not configured", nil
	case errors.Is(err, generator.ErrInvalidResponse), errors.As(err, &statusErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, "GENERATOR_FAILED", "AI endpoint request failed", nil
	case errors.Is(err, attachments.ErrNotConfigured):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Attachment storage not configured", nil
	case errors.Is(err, attachments.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "TOO_LARGE", "Attachment exceeds size limit", nil
	case errors.Is(err, attachments.ErrEmptyUpload):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Attachment is empty", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependency missing", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
