package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtitle-server-go/internal/platform/config"
)

func newAuthEngine(cfg config.AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/secure", AuthMiddleware(cfg), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("auth_subject"))
	})
	return engine
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, Secret: "s3cret", Issuer: "subtitle"}
	engine := newAuthEngine(cfg)

	valid, err := IssueToken(cfg, "alice", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(cfg, "alice", -time.Minute)
	require.NoError(t, err)
	otherIssuer, err := IssueToken(config.AuthConfig{Secret: "s3cret", Issuer: "other"}, "alice", time.Hour)
	require.NoError(t, err)
	otherSecret, err := IssueToken(config.AuthConfig{Secret: "nope", Issuer: "subtitle"}, "alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"valid header", "Bearer " + valid, "", http.StatusOK},
		{"valid query", "", valid, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + otherIssuer, "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + otherSecret, "", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/secure"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken(config.AuthConfig{}, "x", time.Hour)
	assert.Error(t, err)
}
