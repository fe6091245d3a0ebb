package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"marsctl/internal/domain"
)

const DefaultReloginCooldown = 60 * time.Second

// Gate lets one cloud operation run at a time. The vendor backend misbehaves
// when one account issues concurrent calls.
type Gate struct {
	sem *semaphore.Weighted
}

func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Exclusive waits for the gate, honouring ctx while queued, and runs fn.
func (g *Gate) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for gate: %w", err)
	}
	defer g.sem.Release(1)
	return fn(ctx)
}

// SessionManager owns the token for one API generation.
type SessionManager struct {
	auth     Authenticator
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	logins singleflight.Group

	mu        sync.RWMutex
	creds     domain.Credentials
	session   domain.Session
	lastLogin time.Time
}

func NewSessionManager(auth Authenticator, cooldown time.Duration, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		auth:     auth,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *SessionManager) Generation() domain.Generation {
	return m.auth.Generation()
}

// Login authenticates and keeps creds in memory for later relogins.
// Concurrent callers share one in-flight request.
func (m *SessionManager) Login(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	return m.login(ctx)
}

func (m *SessionManager) login(ctx context.Context) (domain.Session, error) {
	v, err, shared := m.logins.Do("login", func() (any, error) {
		m.mu.RLock()
		creds := m.creds
		m.mu.RUnlock()

		sess, err := m.auth.Login(ctx, creds)
		if err != nil {
			if errors.Is(err, domain.ErrAuth) {
				m.discard()
			}
			return domain.Session{}, err
		}

		m.mu.Lock()
		m.session = sess
		m.lastLogin = m.now()
		m.mu.Unlock()

		m.logger.Info("logged in",
			"generation", sess.Generation,
			"account_id", sess.AccountID,
		)
		return sess, nil
	})
	if shared {
		m.logger.Debug("joined in-flight login", "generation", m.auth.Generation())
	}
	if err != nil {
		return domain.Session{}, &LoginError{Generation: m.auth.Generation(), Err: err}
	}
	return v.(domain.Session), nil
}

// LoginError is a login attempt the vendor or the network refused, as
// opposed to a relogin the cooldown suppressed.
type LoginError struct {
	Generation domain.Generation
	Err        error
}

func (e *LoginError) Error() string { return e.Err.Error() }

func (e *LoginError) Unwrap() error { return e.Err }

// Ensure returns the held session, logging in when there is none. Expiry is
// never checked here; it surfaces as domain.ErrTokenExpired from a later call.
func (m *SessionManager) Ensure(ctx context.Context) (domain.Session, error) {
	m.mu.RLock()
	sess, creds, last := m.session, m.creds, m.lastLogin
	m.mu.RUnlock()

	if sess.Valid() {
		return sess, nil
	}
	if creds.Email == "" {
		return domain.Session{}, fmt.Errorf("%w: not logged in", domain.ErrAuth)
	}
	if err := m.checkCooldown(last); err != nil {
		return domain.Session{}, err
	}
	return m.login(ctx)
}

// Session returns the held session, which may be the zero value.
func (m *SessionManager) Session() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Do runs fn with a valid session. When fn reports an expired token the
// manager logs in again and retries fn exactly once.
func (m *SessionManager) Do(ctx context.Context, fn func(domain.Session) error) error {
	sess, err := m.Ensure(ctx)
	if err != nil {
		return err
	}

	err = fn(sess)
	if !errors.Is(err, domain.ErrTokenExpired) {
		return err
	}

	m.logger.Info("token expired, logging in again", "generation", sess.Generation)
	fresh, rerr := m.relogin(ctx, sess)
	if rerr != nil {
		return fmt.Errorf("%w: %w", rerr, err)
	}
	return fn(fresh)
}

func (m *SessionManager) relogin(ctx context.Context, stale domain.Session) (domain.Session, error) {
	m.mu.RLock()
	current, last := m.session, m.lastLogin
	m.mu.RUnlock()

	if current.Valid() && current.Token != stale.Token {
		return current, nil
	}
	if err := m.checkCooldown(last); err != nil {
		m.discard()
		return domain.Session{}, err
	}
	return m.login(ctx)
}

func (m *SessionManager) checkCooldown(last time.Time) error {
	if last.IsZero() {
		return nil
	}
	if since := m.now().Sub(last); since < m.cooldown {
		return fmt.Errorf("%w: relogin suppressed, last login %s ago", domain.ErrAuth, since.Round(time.Second))
	}
	return nil
}

func (m *SessionManager) credentials() domain.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// Logout forgets the token and the credentials.
func (m *SessionManager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = domain.Session{}
	m.creds = domain.Credentials{}
	m.lastLogin = time.Time{}
}

func (m *SessionManager) discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = domain.Session{}
}
