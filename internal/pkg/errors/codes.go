package errors

import "net/http"

// Error codes are stable, machine-readable identifiers. Callers translate
// them into transport responses; messages are English and log-oriented.

// Notification error codes.
const (
	CodeNotificationNotFound  = "NOTIFICATION_NOT_FOUND"
	CodeNotificationForbidden = "NOTIFICATION_FORBIDDEN"
)

// Realtime / auth error codes.
const (
	CodeAuthFailed       = "AUTH_FAILED"
	CodeTokenMissing     = "TOKEN_MISSING"
	CodeTokenInvalid     = "TOKEN_INVALID"
	CodeTokenWrongType   = "TOKEN_WRONG_TYPE"
	CodeNotParticipant   = "CONVERSATION_FORBIDDEN"
	CodeValidationFailed = "VALIDATION_FAILED"
)

// ErrNotificationNotFoundf creates a notification not found error.
func ErrNotificationNotFoundf(id string) *AppError {
	return NotFound(CodeNotificationNotFound, "notification not found").
		WithParams(map[string]interface{}{"notification_id": id})
}

// ErrNotificationForbiddenf is returned when a user touches a notification
// owned by someone else.
func ErrNotificationForbiddenf(id string) *AppError {
	return Forbidden(CodeNotificationForbidden, "notification belongs to another user").
		WithParams(map[string]interface{}{"notification_id": id})
}

// ErrValidationf creates a validation error for a single field.
func ErrValidationf(field, message string) *AppError {
	return &AppError{
		Code:       CodeValidationFailed,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		FieldErrors: []FieldError{
			{Field: field, Code: CodeValidationFailed, Message: message},
		},
	}
}
