package authstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stagepass/session-service/internal/functions"
	"github.com/stagepass/session-service/internal/identity"
	"github.com/stagepass/session-service/internal/profile"
	"github.com/stagepass/session-service/internal/route"
	"github.com/stagepass/session-service/pkg/logger"
	"github.com/stagepass/session-service/pkg/metrics"
)

// staleKey identifies one stale-token detection: the token's issued-at and
// the watermark it lost against, both in Unix seconds.
type staleKey struct {
	issuedAt  int64
	watermark int64
}

// tzKey is the (stored, detected) timezone pair last acted on.
type tzKey struct {
	stored   string
	detected string
}

func (m *Manager) onProfile(p *profile.Profile) {
	if p == nil {
		return
	}
	m.mu.Lock()
	if !m.session.HasIdentity() {
		m.mu.Unlock()
		return
	}
	first := m.userData == nil
	m.userData = p
	key := m.profileKey
	m.mu.Unlock()

	if first {
		metrics.SessionTransitions.WithLabelValues(string(PhaseProfileReady)).Inc()
	}
	m.checkStaleToken(p)
	m.backfill(p)
	m.syncTimezone(key, p)
}

// checkStaleToken refreshes claims once per (issued-at, watermark) pair when
// the token predates the profile's refreshTokenTime.
func (m *Manager) checkStaleToken(p *profile.Profile) {
	if p.RefreshTokenTime == nil {
		return
	}
	m.mu.Lock()
	tok := m.token
	if tok == nil || tok.IssuedAt.IsZero() {
		m.mu.Unlock()
		return
	}
	k := staleKey{issuedAt: tok.IssuedAt.Unix(), watermark: p.RefreshTokenTime.Unix()}
	if k.issuedAt >= k.watermark || k == m.stale {
		m.mu.Unlock()
		return
	}
	m.stale = k
	m.mu.Unlock()

	logger.Infof("session %s: token issued %s before watermark %s, refreshing claims",
		m.id, tok.IssuedAt.UTC().Format(time.RFC3339), p.RefreshTokenTime.UTC().Format(time.RFC3339))
	m.goEffect("stale_token_refresh", func(ctx context.Context) error {
		refreshed, _ := m.refresh(ctx, "stale_token")
		if !refreshed {
			// allow the next delivery to retry the same pair
			m.mu.Lock()
			if m.stale == k {
				m.stale = staleKey{}
			}
			m.mu.Unlock()
		}
		return nil
	})
}

func (m *Manager) backfill(p *profile.Profile) {
	missing := p.MissingRequired()
	if len(missing) == 0 || m.deps.Functions == nil {
		return
	}
	req := functions.BackfillRequest{Timezone: m.timezone()}
	logger.Debugf("session %s: backfilling %v", m.id, missing)
	m.goEffect("backfill", func(ctx context.Context) error {
		return m.deps.Functions.Backfill(ctx, req)
	})
}

// syncTimezone persists the detected timezone when the stored one differs.
// An empty stored timezone is left to backfill.
func (m *Manager) syncTimezone(key string, p *profile.Profile) {
	detected := m.timezone()
	if key == "" || p.Timezone == "" || detected == "" || p.Timezone == detected {
		return
	}
	k := tzKey{stored: p.Timezone, detected: detected}
	m.mu.Lock()
	if k == m.tzSynced {
		m.mu.Unlock()
		return
	}
	m.tzSynced = k
	m.mu.Unlock()
	logger.Infof("session %s: timezone %q differs from %q, updating profile", m.id, p.Timezone, detected)
	m.goEffect("timezone_update", func(ctx context.Context) error {
		err := m.deps.Profiles.Update(ctx, key, map[string]interface{}{"timezone": detected})
		if err != nil {
			// the next delivery of the same pair retries
			m.mu.Lock()
			if m.tzSynced == k {
				m.tzSynced = tzKey{}
			}
			m.mu.Unlock()
		}
		return err
	})
}

// guardRoute evaluates the route rules when their inputs changed and
// replaces the location on the first match.
func (m *Manager) guardRoute() {
	loc := m.deps.Router.Current()
	m.mu.RLock()
	s := deriveState(m.session, m.user, m.userData, nil, nil)
	in := route.Input{
		Path:          loc.Path,
		FullPath:      loc.FullPath,
		IsLoggedIn:    s.IsLoggedIn,
		IsLoggedOut:   s.IsLoggedOut,
		EmailVerified: m.session.EmailVerified,
		ProfileLoaded: m.userData != nil,
		IsAdmin:       m.userData != nil && m.userData.IsAdmin,
	}
	m.mu.RUnlock()

	if m.guarded && in == m.guard {
		return
	}
	m.guard, m.guarded = in, true

	r, ok := m.deps.Rules.Evaluate(in)
	if !ok {
		return
	}
	metrics.Redirects.WithLabelValues(string(r.Rule)).Inc()
	m.deps.Errors.Breadcrumb(fmt.Sprintf("redirect %s -> %s (%s)", loc.FullPath, r.URL(), r.Rule))
	logger.Infof("session %s: redirecting %s to %s", m.id, loc.FullPath, r.URL())
	m.deps.Router.Replace(r.Path, r.Query)
}

func (m *Manager) refetch(ctx context.Context, trigger string) error {
	_, err := m.refresh(ctx, trigger)
	return err
}

// refresh forces a new token and reports whether its claims were stored.
// Transient failures and a sign-out racing the call yield a nil error.
func (m *Manager) refresh(ctx context.Context, trigger string) (bool, error) {
	if m.ctx == nil || !m.Session().HasIdentity() {
		return false, nil
	}
	metrics.ClaimsRefreshes.WithLabelValues(trigger).Inc()
	tok, err := m.deps.Identity.IDTokenResult(ctx, true)
	switch {
	case errors.Is(err, identity.ErrNoIdentity):
		return false, nil
	case err != nil:
		m.deps.Errors.Report("refetch_claims", err)
		if identity.IsTransient(err) {
			return false, nil
		}
		return false, fmt.Errorf("refetch claims: %w", err)
	}
	return m.applyToken(ctx, tok)
}

// applyToken hands a refreshed token to the loop so that storing it and
// mirroring the cookie are ordered with sign-out.
func (m *Manager) applyToken(ctx context.Context, tok *identity.TokenResult) (bool, error) {
	res := make(chan bool, 1)
	select {
	case m.events <- event{kind: evToken, token: tok, applied: res}:
	case <-m.ctx.Done():
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-res:
		return ok, nil
	case <-m.ctx.Done():
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (m *Manager) onRefreshedToken(tok *identity.TokenResult, applied chan<- bool) {
	ok := m.setToken(tok)
	if ok {
		m.mirror(tok.Token)
	}
	applied <- ok
}
