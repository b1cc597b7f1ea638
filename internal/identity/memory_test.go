package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySource_SignInRefreshSignOut(t *testing.T) {
	src := NewMemorySource([]byte("dev-secret"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := src.Subscribe(ctx)

	_, err := src.IDTokenResult(ctx, false)
	require.ErrorIs(t, err, ErrNoIdentity)

	u := &User{UID: "u1", Email: "u1@example.com", EmailVerified: true}
	require.NoError(t, src.SignInAt(u, time.Now().Add(-time.Hour)))

	ev := recv(t, ch)
	require.Equal(t, AuthStateChanged, ev.Kind)
	require.Equal(t, "u1", ev.User.UID)
	require.Equal(t, TokenChanged, recv(t, ch).Kind)

	first, err := src.IDTokenResult(ctx, false)
	require.NoError(t, err)

	src.SetClaims(map[string]interface{}{"adminGroups": map[string]interface{}{"ops": true}})
	fresh, err := src.IDTokenResult(ctx, true)
	require.NoError(t, err)
	require.True(t, fresh.IssuedAt.After(first.IssuedAt))
	require.Equal(t, map[string]interface{}{"ops": true}, fresh.AdminGroups())
	require.Equal(t, 1, src.Refreshes())
	require.Equal(t, TokenChanged, recv(t, ch).Kind)

	require.NoError(t, src.SignOut(ctx))
	ev = recv(t, ch)
	require.Equal(t, AuthStateChanged, ev.Kind)
	require.Nil(t, ev.User)
}

func TestMemorySource_FailNextRefresh(t *testing.T) {
	src := NewMemorySource([]byte("dev-secret"))
	require.NoError(t, src.SignIn(&User{UID: "u1"}))

	boom := Transient(errors.New("network down"))
	src.FailNextRefresh(boom)

	_, err := src.IDTokenResult(context.Background(), true)
	require.ErrorIs(t, err, ErrTransient)

	_, err = src.IDTokenResult(context.Background(), true)
	require.NoError(t, err)
}

func TestDevSourceSignIn(t *testing.T) {
	src := NewDevSource([]byte("k"))
	_, err := src.SignIn(context.Background(), "ada@example.com", "")
	require.Error(t, err)

	u, err := src.SignIn(context.Background(), "ada@example.com", "anything")
	require.NoError(t, err)
	require.True(t, u.EmailVerified)

	_, err = src.SignIn(context.Background(), "ada@example.com", "other")
	require.ErrorIs(t, err, ErrBadCredentials)

	again, err := src.SignIn(context.Background(), "ada@example.com", "anything")
	require.NoError(t, err)
	require.Equal(t, u.UID, again.UID)

	tr, err := src.IDTokenResult(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, u.UID, tr.Claims["sub"])
}
