package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"marsctl/internal/domain"
)

// backend pairs one API generation with its session.
type backend struct {
	api      CloudAPI
	sessions *SessionManager
}

// Coordinator routes calls to the primary API generation until its login
// fails outright, then to the legacy generation for the rest of the session.
// The switch is one-way.
type Coordinator struct {
	primary    backend
	legacy     *backend
	downgraded atomic.Bool
	logger     *slog.Logger
	recorder   Recorder
}

// NewCoordinator builds a coordinator. legacy may be nil to disable the
// fallback.
func NewCoordinator(primary, legacy CloudAPI, cooldown time.Duration, logger *slog.Logger, recorder Recorder) *Coordinator {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	c := &Coordinator{
		primary: backend{
			api:      primary,
			sessions: NewSessionManager(primary, cooldown, logger),
		},
		logger:   logger,
		recorder: recorder,
	}
	if legacy != nil {
		c.legacy = &backend{
			api:      legacy,
			sessions: NewSessionManager(legacy, cooldown, logger),
		}
	}
	return c
}

// Login authenticates against the active generation. A primary login that
// fails on authentication or transport triggers the downgrade.
func (c *Coordinator) Login(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	if c.downgraded.Load() {
		sess, err := c.legacy.sessions.Login(ctx, creds)
		c.recorder.Login(domain.GenerationLegacy, err)
		return sess, err
	}

	sess, err := c.primary.sessions.Login(ctx, creds)
	c.recorder.Login(domain.GenerationPrimary, err)
	if err == nil {
		return sess, nil
	}
	if c.legacy == nil || !loginFailedOutright(err) {
		return domain.Session{}, err
	}

	c.logger.Warn("primary login failed, trying legacy generation", "error", err)

	legacySess, lerr := c.legacy.sessions.Login(ctx, creds)
	c.recorder.Login(domain.GenerationLegacy, lerr)
	if lerr != nil {
		return domain.Session{}, fmt.Errorf("%w (legacy generation: %v)", err, lerr)
	}

	c.downgrade()
	return legacySess, nil
}

// Failover handles a primary login that failed after the initial one, while
// relogging in on token expiry. It logs in to the legacy generation with the
// credentials of the primary session and, on success, downgrades. It
// reports whether the caller should retry on the now active generation.
func (c *Coordinator) Failover(ctx context.Context, cause error) bool {
	if c.legacy == nil || c.downgraded.Load() {
		return false
	}
	var loginErr *LoginError
	if !errors.As(cause, &loginErr) || loginErr.Generation != domain.GenerationPrimary || !loginFailedOutright(loginErr.Err) {
		return false
	}
	creds := c.primary.sessions.credentials()
	if creds.Email == "" {
		return false
	}

	c.logger.Warn("primary relogin failed, trying legacy generation", "error", cause)

	_, err := c.legacy.sessions.Login(ctx, creds)
	c.recorder.Login(domain.GenerationLegacy, err)
	if err != nil {
		c.logger.Error("legacy login failed", "error", err)
		return false
	}

	c.downgrade()
	return true
}

func (c *Coordinator) downgrade() {
	if c.downgraded.CompareAndSwap(false, true) {
		c.primary.sessions.Logout()
		c.recorder.Fallback(domain.GenerationPrimary, domain.GenerationLegacy)
		c.logger.Warn("switched to legacy generation for this session")
	}
}

func loginFailedOutright(err error) bool {
	return errors.Is(err, domain.ErrAuth) || errors.Is(err, domain.ErrTransport)
}

func (c *Coordinator) active() backend {
	if c.downgraded.Load() {
		return *c.legacy
	}
	return c.primary
}

// Active returns the API and session manager all calls should use now.
func (c *Coordinator) Active() (CloudAPI, *SessionManager) {
	b := c.active()
	return b.api, b.sessions
}

func (c *Coordinator) Generation() domain.Generation {
	if c.downgraded.Load() {
		return domain.GenerationLegacy
	}
	return domain.GenerationPrimary
}

func (c *Coordinator) Downgraded() bool {
	return c.downgraded.Load()
}

// Logout discards the sessions of both generations. The downgrade, if any,
// stays in place.
func (c *Coordinator) Logout() {
	c.primary.sessions.Logout()
	if c.legacy != nil {
		c.legacy.sessions.Logout()
	}
}
