package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemorySource is an in-process identity source. It starts unresolved; call
// Resolve or SignIn to emit the first auth-state event.
type MemorySource struct {
	hub    *Hub
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	user      *User
	token     string
	extra     map[string]interface{}
	failNext  error
	refreshes int
}

func NewMemorySource(secret []byte) *MemorySource {
	return &MemorySource{hub: NewHub(), secret: secret, ttl: time.Hour, now: time.Now}
}

func (m *MemorySource) Subscribe(ctx context.Context) <-chan Event {
	return m.hub.Subscribe(ctx)
}

// Resolve reports "nobody signed in" as the first auth state.
func (m *MemorySource) Resolve() {
	m.hub.Publish(Event{Kind: AuthStateChanged})
}

// SignIn signs u in with a freshly minted token and emits auth and token events.
func (m *MemorySource) SignIn(u *User) error {
	return m.SignInAt(u, m.now())
}

// SignInAt is SignIn with an explicit issued-at time for the first token.
func (m *MemorySource) SignInAt(u *User, issuedAt time.Time) error {
	m.mu.Lock()
	tok, err := MintToken(m.secret, u, issuedAt, m.ttl, m.extra)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.user = copyUser(u)
	m.token = tok
	m.mu.Unlock()

	m.hub.Publish(Event{Kind: AuthStateChanged, User: u})
	m.hub.Publish(Event{Kind: TokenChanged, User: u})
	return nil
}

// SetClaims sets custom claims minted into subsequent tokens.
func (m *MemorySource) SetClaims(extra map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extra = extra
}

// FailNextRefresh makes the next forced refresh return err.
func (m *MemorySource) FailNextRefresh(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Refreshes returns how many forced refreshes were served.
func (m *MemorySource) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

func (m *MemorySource) IDTokenResult(ctx context.Context, forceRefresh bool) (*TokenResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil, ErrNoIdentity
	}
	if !forceRefresh {
		tok := m.token
		m.mu.Unlock()
		return DecodeToken(tok)
	}
	m.refreshes++
	if err := m.failNext; err != nil {
		m.failNext = nil
		m.mu.Unlock()
		return nil, err
	}
	tok, err := MintToken(m.secret, m.user, m.now(), m.ttl, m.extra)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.token = tok
	u := copyUser(m.user)
	m.mu.Unlock()

	m.hub.Publish(Event{Kind: TokenChanged, User: u})
	return DecodeToken(tok)
}

func (m *MemorySource) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.user = nil
	m.token = ""
	m.mu.Unlock()
	m.hub.Publish(Event{Kind: AuthStateChanged})
	return nil
}

// ErrBadCredentials is returned by DevSource.SignIn on a password mismatch.
var ErrBadCredentials = errors.New("invalid username or password")

// DevSource is a MemorySource with password sign-in for local runs without
// an identity provider. The first sign-in for a username registers its
// password; later sign-ins must match it. Users are signed in verified.
type DevSource struct {
	*MemorySource

	credMu sync.Mutex
	creds  map[string][]byte
}

func NewDevSource(secret []byte) *DevSource {
	return &DevSource{MemorySource: NewMemorySource(secret), creds: map[string][]byte{}}
}

func (d *DevSource) SignIn(ctx context.Context, username, password string) (*User, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password required")
	}
	if err := d.checkPassword(username, password); err != nil {
		return nil, err
	}
	u := &User{
		UID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte(username)).String(),
		Email:         username,
		EmailVerified: true,
	}
	if err := d.MemorySource.SignIn(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (d *DevSource) checkPassword(username, password string) error {
	d.credMu.Lock()
	defer d.credMu.Unlock()
	hash, ok := d.creds[username]
	if !ok {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		d.creds[username] = h
		return nil
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return ErrBadCredentials
	}
	return nil
}
