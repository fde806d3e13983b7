package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/authpw"
	"taskboard/api/internal/avatar"
	"taskboard/api/internal/export"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/store"
	"taskboard/api/internal/validation"
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

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func invalidArgument(message string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_ARGUMENT", message, nil)
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

var errUnauthenticated = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

// invalidArgumentMessages gives each client-facing sentinel a fixed message.
// More specific sentinels come before the ones they wrap.
var invalidArgumentMessages = []struct {
	err     error
	message string
}{
	{ordering.ErrForeignID, "One or more ids do not belong to this board or column"},
	{ordering.ErrDuplicateID, "Each id may be listed only once"},
	{ordering.ErrNegativeOrder, "Order must not be negative"},
	{ordering.ErrTargetRequired, "newOrder is required to move a card within its column"},
	{ordering.ErrInvalidArgument, "Invalid ordering request"},
	{store.ErrInviteInvalid, "Invite token is invalid or expired"},
	{store.ErrResetInvalid, "Reset token is invalid or expired"},
	{store.ErrVerifyInvalid, "Verification token is invalid or expired"},
	{authpw.ErrMissingFields, "Required fields are missing"},
	{authpw.ErrPasswordTooShort, fmt.Sprintf("Password must be at least %d characters", authpw.MinPasswordLength)},
	{authpw.ErrSamePassword, "New password must be different from current password"},
	{authpw.ErrWrongPassword, "Current password is incorrect"},
	{avatar.ErrUnsupportedType, "Avatar must be a png, jpeg, gif or webp image"},
	{avatar.ErrTooLarge, "Avatar exceeds 2MB"},
	{avatar.ErrEmpty, "Avatar is empty"},
	{export.ErrUnsupportedFormat, "Export format must be html or pdf"},
}

// mapError translates any error into the HTTP error envelope. Unknown errors
// become a 500; their text is exposed under details.reason only when
// exposeReason is set.
func mapError(err error, exposeReason bool) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]any{"fields": validationErr.Fields}
	}

	var batchErr *ordering.BatchError
	if errors.As(err, &batchErr) {
		details := map[string]any{
			"failedIds": batchErr.FailedIDs(),
			"applied":   batchErr.Applied,
			"total":     batchErr.Total,
		}
		if exposeReason {
			details["reason"] = batchErr.Error()
		}
		return http.StatusInternalServerError, "SERVER_ERROR", "Reorder partially failed", details
	}

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sql.ErrNoRows), errors.Is(err, ordering.ErrGroupNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailNotVerified):
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, store.ErrUsernameTaken):
		return http.StatusConflict, "USERNAME_EXISTS", "Username already taken", nil
	case errors.Is(err, store.ErrAlreadyMember):
		return http.StatusConflict, "ALREADY_MEMBER", "User is already a member", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	}

	for _, m := range invalidArgumentMessages {
		if errors.Is(err, m.err) {
			return http.StatusBadRequest, "INVALID_ARGUMENT", m.message, nil
		}
	}

	if exposeReason {
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error", map[string]any{"reason": err.Error()}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
