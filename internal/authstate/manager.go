// Package authstate hosts the session manager: it follows the identity
// source, keeps the user's profile subscription open while somebody is signed
// in, derives the gate flags and runs the side effects tied to session
// transitions.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/session-service/internal/analytics"
	"github.com/stagepass/session-service/internal/errtrack"
	"github.com/stagepass/session-service/internal/functions"
	"github.com/stagepass/session-service/internal/identity"
	"github.com/stagepass/session-service/internal/profile"
	"github.com/stagepass/session-service/internal/readcache"
	"github.com/stagepass/session-service/internal/route"
	"github.com/stagepass/session-service/internal/shell"
	"github.com/stagepass/session-service/pkg/logger"
	"github.com/stagepass/session-service/pkg/metrics"
)

// CookieMirror stores the current ID token where server-side rendering can
// read it. An empty token clears it.
type CookieMirror interface {
	Mirror(ctx context.Context, token string) error
}

// Deps are the collaborators of a Manager. Identity, Profiles and Router are
// required; the rest fall back to no-ops.
type Deps struct {
	Identity  identity.Source
	Profiles  profile.Store
	Router    route.Router
	Rules     route.Rules
	Functions functions.Client
	Cache     readcache.Cache
	Cookie    CookieMirror
	Analytics analytics.Tracker
	Errors    errtrack.Reporter
	Shell     shell.Bridge
}

type Option func(*Manager)

// WithTimezone sets the function reporting the client's current IANA zone.
func WithTimezone(fn func() string) Option {
	return func(m *Manager) { m.timezone = fn }
}

// WithShellEmbedded forwards ID tokens to the mobile shell on sign-in.
func WithShellEmbedded(embedded bool) Option {
	return func(m *Manager) { m.shellEmbedded = embedded }
}

// WithEffectTimeout bounds each fire-and-forget side effect.
func WithEffectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.effectTimeout = d }
}

// WithID sets the session id used in logs.
func WithID(id string) Option {
	return func(m *Manager) { m.id = id }
}

type eventKind int

const (
	evIdentity eventKind = iota
	evProfile
	evStats
	evRoute
	evBarrier
	evToken
)

type event struct {
	kind    eventKind
	ident   identity.Event
	gen     uint64
	profile *profile.Profile
	stats   *profile.Stats
	token   *identity.TokenResult
	applied chan<- bool
	done    chan struct{}
}

// Manager is the session/auth state manager. All state transitions happen on
// a single loop goroutine; readers go through Snapshot.
type Manager struct {
	deps          Deps
	id            string
	timezone      func() string
	shellEmbedded bool
	effectTimeout time.Duration

	events   chan event
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	effects  sync.WaitGroup
	start    sync.Once
	stop     sync.Once

	mu        sync.RWMutex
	session   identity.Session
	user      *identity.User
	token     *identity.TokenResult
	userData  *profile.Profile
	userStats *profile.Stats
	stale     staleKey
	tzSynced  tzKey

	watchMu  sync.Mutex
	watchers map[int]chan State
	nextID   int

	// owned by the loop goroutine
	gen        uint64
	profileKey string
	closeWatch context.CancelFunc
	guard      route.Input
	guarded    bool
}

func NewManager(deps Deps, opts ...Option) *Manager {
	m := &Manager{
		deps:          deps,
		id:            uuid.NewString(),
		timezone:      func() string { return "UTC" },
		effectTimeout: 15 * time.Second,
		events:        make(chan event, 64),
		loopDone:      make(chan struct{}),
		watchers:      make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.deps.Analytics == nil {
		m.deps.Analytics = &analytics.NopTracker{}
	}
	if m.deps.Errors == nil {
		m.deps.Errors = errtrack.NewLogReporter(0)
	}
	return m
}

func (m *Manager) ID() string { return m.id }

// Start subscribes to the identity source and runs the loop until Stop or
// until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if m.deps.Identity == nil || m.deps.Profiles == nil || m.deps.Router == nil {
		return errors.New("authstate: identity, profiles and router are required")
	}
	started := false
	m.start.Do(func() {
		started = true
		m.ctx, m.cancel = context.WithCancel(ctx)
		idents := m.deps.Identity.Subscribe(m.ctx)
		go m.forwardIdentity(idents)
		go m.loop()
		logger.Infof("session %s: manager started", m.id)
	})
	if !started {
		return errors.New("authstate: manager already started")
	}
	return nil
}

// Stop tears down the identity and profile subscriptions and waits for
// in-flight side effects.
func (m *Manager) Stop() {
	m.stop.Do(func() {
		if m.cancel == nil {
			return
		}
		m.cancel()
		<-m.loopDone
		m.effects.Wait()
		logger.Infof("session %s: manager stopped", m.id)
	})
}

// Snapshot returns the current exposed context.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deriveState(m.session, m.user, m.userData, m.userStats, m.token)
}

// Session returns the raw session status.
func (m *Manager) Session() identity.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Subscribe returns a channel receiving the latest State after every change.
// Slow readers only see the most recent value.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	ch <- m.Snapshot()
	m.watchMu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	m.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.watchMu.Lock()
			if _, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(ch)
			}
			m.watchMu.Unlock()
		})
	}
}

// RefetchClaims forces a token refresh and stores the new claims. It is a
// no-op without an identity. Transient failures are reported and swallowed;
// anything else is returned.
func (m *Manager) RefetchClaims(ctx context.Context) error {
	return m.refetch(ctx, "manual")
}

// SignOut asks the identity source to end the session. Local state follows
// from the resulting auth-state event.
func (m *Manager) SignOut(ctx context.Context) error {
	m.deps.Errors.Breadcrumb("sign out requested")
	if err := m.deps.Identity.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// RouteChanged tells the manager the router's location moved.
func (m *Manager) RouteChanged() {
	m.send(event{kind: evRoute})
}

// Settle waits until every event queued before the call has been handled.
func (m *Manager) Settle(ctx context.Context) error {
	if m.ctx == nil {
		return errors.New("authstate: manager not started")
	}
	done := make(chan struct{})
	select {
	case m.events <- event{kind: evBarrier, done: done}:
	case <-m.ctx.Done():
		return m.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-m.ctx.Done():
		return m.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShouldRender reports whether content at the current path may render.
func (m *Manager) ShouldRender() bool {
	loc := m.deps.Router.Current()
	return m.deps.Rules.ShouldRender(loc.Path, m.Snapshot().IsLoggedIn)
}

func (m *Manager) send(ev event) {
	if m.ctx == nil {
		return
	}
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

func (m *Manager) forwardIdentity(ch <-chan identity.Event) {
	for ev := range ch {
		m.send(event{kind: evIdentity, ident: ev})
	}
}

func (m *Manager) loop() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.ctx.Done():
			m.closeProfile()
			m.closeWatchers()
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Manager) handle(ev event) {
	switch ev.kind {
	case evIdentity:
		if ev.ident.Kind == identity.AuthStateChanged {
			m.onAuthState(ev.ident.User)
		} else {
			m.onTokenChanged(ev.ident.User)
		}
	case evProfile:
		if ev.gen != m.gen {
			logger.Debugf("session %s: dropping profile from superseded subscription", m.id)
			return
		}
		m.onProfile(ev.profile)
	case evStats:
		if ev.gen != m.gen {
			return
		}
		m.mu.Lock()
		m.userStats = ev.stats
		m.mu.Unlock()
	case evToken:
		m.onRefreshedToken(ev.token, ev.applied)
	case evBarrier:
		close(ev.done)
		return
	case evRoute:
	}
	m.guardRoute()
	m.publish()
}

func (m *Manager) onAuthState(u *identity.User) {
	m.mu.Lock()
	prev := m.session
	m.session = prev.Resolve(u)
	m.mu.Unlock()

	if u == nil {
		if prev.IsLoaded && prev.IsEmpty {
			return
		}
		m.signedOut(prev.HasIdentity())
		return
	}

	m.deps.Errors.Breadcrumb("signed in as " + u.UID)
	metrics.SessionTransitions.WithLabelValues(string(PhaseProfilePending)).Inc()
	m.mu.Lock()
	m.user = copyUser(u)
	if prev.UID != u.UID {
		m.userData, m.userStats, m.token = nil, nil, nil
		m.stale = staleKey{}
		m.tzSynced = tzKey{}
	}
	m.mu.Unlock()

	tok := m.loadClaims()
	if tok != nil && m.shellEmbedded && m.deps.Shell != nil {
		m.do("shell_post", func(ctx context.Context) error {
			return m.deps.Shell.Post(ctx, shell.Message{Type: shell.MessageIDToken, Token: tok.Token})
		})
	}
	if tok != nil {
		m.mirror(tok.Token)
	}
	m.identify(u)

	if u.Email != "" && (m.closeWatch == nil || m.profileKey != u.Email) {
		m.openProfile(u.Email)
	}
}

func (m *Manager) onTokenChanged(u *identity.User) {
	if u == nil || !m.Session().HasIdentity() {
		return
	}
	m.mu.Lock()
	if m.session.UID == u.UID {
		m.session.EmailVerified = u.EmailVerified
		m.user = copyUser(u)
	}
	m.mu.Unlock()

	if tok := m.loadClaims(); tok != nil {
		m.mirror(tok.Token)
	}
	m.identify(u)
}

func (m *Manager) signedOut(hadIdentity bool) {
	m.closeProfile()
	m.mu.Lock()
	m.user, m.token, m.userData, m.userStats = nil, nil, nil, nil
	m.stale = staleKey{}
	m.tzSynced = tzKey{}
	m.mu.Unlock()
	metrics.SessionTransitions.WithLabelValues(string(PhaseNoIdentity)).Inc()

	if hadIdentity {
		m.deps.Errors.Breadcrumb("signed out")
		m.do("analytics_logout", func(ctx context.Context) error {
			return m.deps.Analytics.Track(ctx, "logout", nil)
		})
		m.do("analytics_reset", m.deps.Analytics.Reset)
	}
	m.mirror("")
	if m.deps.Cache != nil {
		m.do("cache_clear", m.deps.Cache.Clear)
	}
}

// loadClaims decodes the current token without forcing a refresh.
func (m *Manager) loadClaims() *identity.TokenResult {
	ctx, cancel := context.WithTimeout(m.ctx, m.effectTimeout)
	defer cancel()
	tok, err := m.deps.Identity.IDTokenResult(ctx, false)
	if err != nil {
		m.deps.Errors.Report("token_decode", err)
		return nil
	}
	m.setToken(tok)
	return tok
}

// setToken stores tok if it still belongs to the signed-in user.
func (m *Manager) setToken(tok *identity.TokenResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.HasIdentity() {
		return false
	}
	if sub, _ := tok.Claims["sub"].(string); sub != "" && sub != m.session.UID {
		return false
	}
	m.token = tok
	return true
}

func (m *Manager) mirror(token string) {
	if m.deps.Cookie == nil {
		return
	}
	m.do("cookie_mirror", func(ctx context.Context) error {
		return m.deps.Cookie.Mirror(ctx, token)
	})
}

func (m *Manager) identify(u *identity.User) {
	if !u.EmailVerified || m.deps.Analytics.Identity() == u.UID {
		return
	}
	m.do("analytics_identify", func(ctx context.Context) error {
		return m.deps.Analytics.Identify(ctx, u.UID, map[string]interface{}{"email": u.Email})
	})
}

// do runs a synchronous side effect on the loop, containing its failure.
func (m *Manager) do(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(m.ctx, m.effectTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		m.deps.Errors.Report(op, err)
	}
}

// goEffect runs a fire-and-forget side effect. It outlives state changes
// but not Stop.
func (m *Manager) goEffect(op string, fn func(ctx context.Context) error) {
	m.effects.Add(1)
	go func() {
		defer m.effects.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.effectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.deps.Errors.Report(op, err)
		}
	}()
}

func (m *Manager) openProfile(key string) {
	m.closeProfile()
	ctx, cancel := context.WithCancel(m.ctx)
	m.closeWatch = cancel
	m.profileKey = key
	gen := m.gen

	profiles, err := m.deps.Profiles.WatchProfile(ctx, key)
	if err != nil {
		m.deps.Errors.Report("watch_profile", err)
	} else {
		go func() {
			for p := range profiles {
				m.send(event{kind: evProfile, gen: gen, profile: p})
			}
		}()
	}
	stats, err := m.deps.Profiles.WatchStats(ctx, key)
	if err != nil {
		m.deps.Errors.Report("watch_stats", err)
		return
	}
	go func() {
		for s := range stats {
			m.send(event{kind: evStats, gen: gen, stats: s})
		}
	}()
}

// closeProfile cancels the profile subscription. Deliveries already queued
// from it carry the old generation and are dropped.
func (m *Manager) closeProfile() {
	m.gen++
	if m.closeWatch != nil {
		m.closeWatch()
		m.closeWatch = nil
	}
	m.profileKey = ""
}

func (m *Manager) publish() {
	s := m.Snapshot()
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, ch := range m.watchers {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

func (m *Manager) closeWatchers() {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for id, ch := range m.watchers {
		delete(m.watchers, id)
		close(ch)
	}
}

func copyUser(u *identity.User) *identity.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
