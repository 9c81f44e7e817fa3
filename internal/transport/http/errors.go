package httptransport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"subtitle-server-go/internal/domain/capacity"
	"subtitle-server-go/internal/domain/media"
	"subtitle-server-go/internal/domain/transcription"
	apperrors "subtitle-server-go/internal/platform/errors"
)

// StatusFromError is the single place that turns pipeline errors into HTTP
// status codes. Subtype markers take precedence over the error kind.
func StatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, media.ErrMissingParameter), errors.Is(err, media.ErrInvalidParameter):
		return http.StatusUnprocessableEntity
	case errors.Is(err, media.ErrMalformedUpload),
		errors.Is(err, media.ErrUnsupportedMedia),
		errors.Is(err, transcription.ErrUnsupportedAudio):
		return http.StatusBadRequest
	case errors.Is(err, capacity.ErrSaturated), errors.Is(err, transcription.ErrModelLoad):
		return http.StatusServiceUnavailable
	case errors.Is(err, transcription.ErrTimeout):
		return http.StatusGatewayTimeout
	}

	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindCapacity:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// ErrorMessage returns a client-facing description of err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var typed *apperrors.Error
	if !errors.As(err, &typed) {
		return err.Error()
	}
	if typed.Cause == nil {
		return typed.Message
	}
	cause := typed.Cause.Error()
	if strings.HasPrefix(cause, typed.Message) {
		return cause
	}
	return typed.Message + ": " + cause
}
