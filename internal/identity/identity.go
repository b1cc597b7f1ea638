// Package identity models the identity session source: the signed-in user,
// the session status derived from it, the ID token and the event stream the
// session manager subscribes to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNoIdentity is returned by token operations when nobody is signed in.
	ErrNoIdentity = errors.New("no signed-in identity")
	// ErrTransient marks failures worth retrying later (network blips, 5xx).
	ErrTransient = errors.New("transient identity error")
)

// Transient wraps err so that IsTransient reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is a transient failure.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// User is the signed-in identity as reported by the provider.
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	DisplayName   string `json:"displayName,omitempty"`
}

// Session is the current authentication status.
// IsEmpty and a non-empty UID are mutually exclusive; IsLoaded never reverts.
type Session struct {
	UID           string `json:"uid,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	IsLoaded      bool   `json:"isLoaded"`
	IsEmpty       bool   `json:"isEmpty"`
}

// HasIdentity reports whether the session is resolved with a user.
func (s Session) HasIdentity() bool { return s.IsLoaded && !s.IsEmpty && s.UID != "" }

// Resolve returns the session after an auth-state event carrying u (nil: signed out).
func (s Session) Resolve(u *User) Session {
	if u == nil {
		return Session{IsLoaded: true, IsEmpty: true}
	}
	return Session{
		UID:           u.UID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		IsLoaded:      true,
	}
}

type EventKind int

const (
	// AuthStateChanged fires on sign-in and sign-out, and once on subscribe.
	AuthStateChanged EventKind = iota
	// TokenChanged fires whenever a new ID token is issued for the user.
	TokenChanged
)

func (k EventKind) String() string {
	switch k {
	case AuthStateChanged:
		return "auth_state_changed"
	case TokenChanged:
		return "token_changed"
	}
	return "unknown"
}

// Event is one notification from the identity source. User is nil when signed out.
type Event struct {
	Kind EventKind
	User *User
}

// Source is the identity session source consumed by the session manager.
type Source interface {
	// Subscribe streams events in order until ctx is cancelled. The current
	// auth state is replayed first once the source has resolved it.
	Subscribe(ctx context.Context) <-chan Event
	// IDTokenResult returns the current ID token; forceRefresh asks the
	// provider for a fresh one.
	IDTokenResult(ctx context.Context, forceRefresh bool) (*TokenResult, error)
	// SignOut terminates the session. The resulting state arrives as an event.
	SignOut(ctx context.Context) error
}
