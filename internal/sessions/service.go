package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stagepass/session-service/internal/identity"
)

// CookieName is the cookie the web client mirrors its ID token into.
const CookieName = "token"

// Service mirrors one client session's token cookie into a repository.
type Service struct {
	repo Repository
	id   string
}

// NewService returns a mirror for the session id; an empty id gets a fresh uuid.
func NewService(r Repository, id string) *Service {
	if id == "" {
		id = uuid.NewString()
	}
	return &Service{repo: r, id: id}
}

func (s *Service) ID() string { return s.id }

// Mirror stores token as the current cookie value. An empty token clears the
// cookie and revokes the previous token until it would have expired.
func (s *Service) Mirror(ctx context.Context, token string) error {
	if token == "" {
		return s.clear(ctx)
	}
	sess := &Session{ID: s.id, Token: token, ExpiresAt: time.Now().UTC().Add(time.Hour)}
	if tr, err := identity.DecodeToken(token); err == nil {
		if !tr.ExpiresAt.IsZero() {
			sess.ExpiresAt = tr.ExpiresAt.UTC()
		}
		sess.Sub, _ = tr.Claims["sub"].(string)
	}
	if err := s.repo.Put(ctx, sess); err != nil {
		return fmt.Errorf("mirror session cookie: %w", err)
	}
	return nil
}

// Value returns the mirrored cookie value, "" when cleared or expired.
func (s *Service) Value(ctx context.Context) (string, error) {
	sess, err := s.repo.Get(ctx, s.id)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", nil
	}
	return sess.Token, nil
}

func (s *Service) clear(ctx context.Context) error {
	prev, err := s.repo.Get(ctx, s.id)
	if err != nil {
		return fmt.Errorf("read session cookie: %w", err)
	}
	if err := s.repo.Delete(ctx, s.id); err != nil {
		return fmt.Errorf("clear session cookie: %w", err)
	}
	if prev != nil && prev.Token != "" {
		if err := RevokeToken(ctx, prev.Token, time.Until(prev.ExpiresAt)); err != nil {
			return fmt.Errorf("revoke previous token: %w", err)
		}
	}
	return nil
}
