package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stagepass/session-service/internal/sessions"
)

// fakeVerifier implements Verifier
type fakeVerifier struct{}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (map[string]interface{}, error) {
	if raw == "goodtoken" || raw == "black-token" {
		return map[string]interface{}{"sub": "user1", "email": "test@example.com"}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

func serveAuth(req *http.Request) *httptest.ResponseRecorder {
	g := gin.New()
	g.GET("/", SessionAuth(&fakeVerifier{}), func(c *gin.Context) {
		claims, _ := c.Get(ClaimsKey)
		c.JSON(http.StatusOK, gin.H{"claims": claims})
	})
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	return rw
}

func TestSessionAuth_NoToken(t *testing.T) {
	rw := serveAuth(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestSessionAuth_InvalidHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "BadHeader")
	require.Equal(t, http.StatusUnauthorized, serveAuth(req).Code)
}

func TestSessionAuth_InvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer forged")
	require.Equal(t, http.StatusUnauthorized, serveAuth(req).Code)
}

func TestSessionAuth_ValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer goodtoken")
	rw := serveAuth(req)

	require.Equal(t, http.StatusOK, rw.Code)
	var got map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Equal(t, "user1", got["claims"]["sub"])
}

func TestSessionAuth_ReadsCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: "goodtoken"})
	require.Equal(t, http.StatusOK, serveAuth(req).Code)
}

func TestSessionAuth_RejectsRevokedToken(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	sessions.SetRevocationClient(client)
	defer sessions.SetRevocationClient(nil)

	token := "black-token"
	require.NoError(t, sessions.RevokeToken(context.Background(), token, 5*time.Second))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	require.Equal(t, http.StatusUnauthorized, serveAuth(req).Code)
}
