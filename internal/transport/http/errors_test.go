package httptransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"subtitle-server-go/internal/domain/capacity"
	"subtitle-server-go/internal/domain/media"
	"subtitle-server-go/internal/domain/separation"
	"subtitle-server-go/internal/domain/transcription"
	apperrors "subtitle-server-go/internal/platform/errors"
)

func TestStatusFromError(t *testing.T) {
	validation := func(marker error) error {
		return apperrors.Mark(apperrors.KindValidation, "test", "bad", marker, nil)
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"missing parameter", validation(media.ErrMissingParameter), http.StatusUnprocessableEntity},
		{"invalid parameter", validation(media.ErrInvalidParameter), http.StatusUnprocessableEntity},
		{"malformed upload", validation(media.ErrMalformedUpload), http.StatusBadRequest},
		{"unsupported media", validation(media.ErrUnsupportedMedia), http.StatusBadRequest},
		{"too large", validation(media.ErrTooLarge), http.StatusRequestEntityTooLarge},
		{"unsupported audio", transcription.Fail("t", transcription.ErrUnsupportedAudio, errors.New("codec")), http.StatusBadRequest},
		{"model load", transcription.Fail("t", transcription.ErrModelLoad, errors.New("cuda")), http.StatusServiceUnavailable},
		{"timeout", transcription.Fail("t", nil, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"transcription failed", transcription.Fail("t", nil, errors.New("boom")), http.StatusInternalServerError},
		{"separation failed", separation.Fail("s", errors.New("boom")), http.StatusInternalServerError},
		{"capacity", apperrors.Mark(apperrors.KindCapacity, "c", "full", capacity.ErrSaturated, nil), http.StatusServiceUnavailable},
		{"resource", apperrors.New(apperrors.KindResource, "ws", "disk full"), http.StatusInternalServerError},
		{"plain validation", apperrors.New(apperrors.KindValidation, "v", "bad"), http.StatusBadRequest},
		{"wrapped marker", fmt.Errorf("outer: %w", validation(media.ErrMissingParameter)), http.StatusUnprocessableEntity},
		{"untyped", errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromError(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Empty(t, ErrorMessage(nil))
	assert.Equal(t, "plain", ErrorMessage(errors.New("plain")))
	assert.Equal(t, "file is required", ErrorMessage(apperrors.New(apperrors.KindValidation, "op", "file is required")))

	err := separation.Fail("op", errors.New("exit status 1"))
	assert.Equal(t, "vocal separation failed: exit status 1", ErrorMessage(err))

	wrapped := apperrors.Wrap(apperrors.KindResource, "op", "create workspace", errors.New("permission denied"))
	assert.Equal(t, "create workspace: permission denied", ErrorMessage(wrapped))
}
