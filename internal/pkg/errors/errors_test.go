package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New("NOTIFICATION_NOT_FOUND", "notification not found", http.StatusNotFound),
			want: "NOTIFICATION_NOT_FOUND: notification not found",
		},
		{
			name: "with wrapped error",
			err:  Wrap(fmt.Errorf("redis timeout"), "PRESENCE_STORE", "presence store failure", http.StatusInternalServerError),
			want: "PRESENCE_STORE: presence store failure: redis timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap(inner, "CODE", "msg", 500)

	if !errors.Is(appErr, inner) {
		t.Error("errors.Is should match inner error")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NotFound("NOT_FOUND", "resource not found")
	wrapped := fmt.Errorf("wrapped: %w", appErr)

	got, ok := IsAppError(wrapped)
	if !ok {
		t.Fatal("IsAppError should return true for wrapped AppError")
	}
	if got.Code != "NOT_FOUND" {
		t.Errorf("Code = %q, want NOT_FOUND", got.Code)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantStatus int
	}{
		{"NotFound", NotFound("NF", "not found"), http.StatusNotFound},
		{"BadRequest", BadRequest("BR", "bad request"), http.StatusBadRequest},
		{"Unauthorized", Unauthorized("UA", "unauthorized"), http.StatusUnauthorized},
		{"Forbidden", Forbidden("FB", "forbidden"), http.StatusForbidden},
		{"Conflict", Conflict("CF", "conflict"), http.StatusConflict},
		{"Internal", Internal("IE", "internal"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.wantStatus)
			}
		})
	}
}

func TestAppError_IsSentinel(t *testing.T) {
	nf := fmt.Errorf("load: %w", ErrNotificationNotFoundf("n-1"))
	if !errors.Is(nf, ErrNotFound) {
		t.Error("errors.Is(notFound, ErrNotFound) = false, want true")
	}
	if errors.Is(nf, ErrForbidden) {
		t.Error("errors.Is(notFound, ErrForbidden) = true, want false")
	}

	fb := ErrNotificationForbiddenf("n-1")
	if !errors.Is(fb, ErrForbidden) {
		t.Error("errors.Is(forbidden, ErrForbidden) = false, want true")
	}
	if !HasCode(fb, CodeNotificationForbidden) {
		t.Errorf("HasCode(%v, %q) = false", fb, CodeNotificationForbidden)
	}
	if fb.Params["notification_id"] != "n-1" {
		t.Errorf("Params = %v, want notification_id n-1", fb.Params)
	}
}

func TestErrValidationf(t *testing.T) {
	err := ErrValidationf("conversationId", "conversationId is required")
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want 400", err.HTTPStatus)
	}
	if len(err.FieldErrors) != 1 || err.FieldErrors[0].Field != "conversationId" {
		t.Errorf("FieldErrors = %+v", err.FieldErrors)
	}
}
