package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "subtitle-server-go/internal/platform/errors"
)

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"auto", "", false},
		{"en", "en", false},
		{"zh-CN", "zh", false},
		{"ja", "ja", false},
		{"pt_BR", "pt", false},
		{"!!", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLanguage(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidParameter)
				assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOptionalBool(t *testing.T) {
	v, err := ParseOptionalBool("separate_vocals", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseOptionalBool("separate_vocals", "True")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, *v)

	v, err = ParseOptionalBool("separate_vocals", "off")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.False(t, *v)

	_, err = ParseOptionalBool("separate_vocals", "maybe")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestRequireFileName(t *testing.T) {
	assert.NoError(t, RequireFileName("a.mp3"))
	assert.ErrorIs(t, RequireFileName("  "), ErrMissingParameter)
}
