package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestDecodeToken_ClaimsAndTimes(t *testing.T) {
	u := &User{UID: "user-123", Email: "ada@example.com", EmailVerified: true}
	iat := time.Unix(1_700_000_000, 0)
	tok, err := MintToken([]byte("secret"), u, iat, time.Hour, map[string]interface{}{
		"adminGroups": map[string]interface{}{"events": true},
	})
	require.NoError(t, err)

	tr, err := DecodeToken(tok)
	require.NoError(t, err)
	require.Equal(t, tok, tr.Token)
	require.Equal(t, iat.Unix(), tr.IssuedAt.Unix())
	require.Equal(t, iat.Add(time.Hour).Unix(), tr.ExpiresAt.Unix())
	require.Equal(t, "user-123", tr.Claims["sub"])
	require.Equal(t, map[string]interface{}{"events": true}, tr.AdminGroups())
}

func TestDecodeToken_IgnoresSignature(t *testing.T) {
	u := &User{UID: "u1", Email: "a@b.c"}
	tok, err := MintToken([]byte("one"), u, time.Now(), time.Minute, nil)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	parts[2] = "bogus"
	tr, err := DecodeToken(strings.Join(parts, "."))
	require.NoError(t, err)
	require.Equal(t, "u1", tr.Claims["sub"])
}

func TestDecodeToken_Malformed(t *testing.T) {
	_, err := DecodeToken("not-a-jwt")
	require.Error(t, err)
}

func TestDecodeToken_MissingIat(t *testing.T) {
	tok := (&jwt.Token{}).EncodeSegment([]byte(`{"alg":"none"}`)) + "." + (&jwt.Token{}).EncodeSegment([]byte(`{"sub":"s"}`)) + "."
	tr, err := DecodeToken(tok)
	require.NoError(t, err)
	require.True(t, tr.IssuedAt.IsZero())
	require.Nil(t, tr.AdminGroups())
}

func TestUserFromClaims(t *testing.T) {
	u := UserFromClaims(map[string]interface{}{"sub": "s1", "email": "x@example.com", "email_verified": true, "name": "X"})
	require.Equal(t, &User{UID: "s1", Email: "x@example.com", EmailVerified: true, DisplayName: "X"}, u)

	require.Nil(t, UserFromClaims(map[string]interface{}{"email": "y@e.com"}))
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(Transient(errors.New("blip"))))
	require.False(t, IsTransient(errors.New("permanent")))
	require.False(t, IsTransient(nil))
	require.Nil(t, Transient(nil))
}

func TestSessionResolve(t *testing.T) {
	var s Session
	require.False(t, s.IsLoaded)

	s = s.Resolve(&User{UID: "u", Email: "u@e.com"})
	require.True(t, s.HasIdentity())
	require.False(t, s.IsEmpty)

	s = s.Resolve(nil)
	require.True(t, s.IsLoaded)
	require.True(t, s.IsEmpty)
	require.False(t, s.HasIdentity())
}

func TestHMACVerifier(t *testing.T) {
	u := &User{UID: "u1", Email: "a@b.c", EmailVerified: true}
	tok, err := MintToken([]byte("dev-secret"), u, time.Now(), time.Minute, nil)
	require.NoError(t, err)

	claims, err := HMACVerifier("dev-secret").Verify(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "u1", claims["sub"])

	_, err = HMACVerifier("other").Verify(context.Background(), tok)
	require.Error(t, err)

	expired, err := MintToken([]byte("dev-secret"), u, time.Now().Add(-2*time.Hour), time.Hour, nil)
	require.NoError(t, err)
	_, err = HMACVerifier("dev-secret").Verify(context.Background(), expired)
	require.Error(t, err)
}
