package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluele/gcache"

	"marsctl/internal/domain"
)

const (
	DefaultStateCacheSize = 256
	DefaultStateCacheTTL  = 24 * time.Hour
)

// Client is what the host application talks to. Every cloud call goes
// through one gate, so concurrent callers queue instead of interleaving.
type Client struct {
	coordinator *Coordinator
	directory   *Directory
	sequencer   *Sequencer
	gate        *Gate
	states      gcache.Cache
	recorder    Recorder
	logger      *slog.Logger
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	cacheSize int
	cacheTTL  time.Duration
	recorder  Recorder
}

func WithStateCache(size int, ttl time.Duration) ClientOption {
	return func(o *clientOptions) {
		if size > 0 {
			o.cacheSize = size
		}
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

func WithRecorder(r Recorder) ClientOption {
	return func(o *clientOptions) {
		if r != nil {
			o.recorder = r
		}
	}
}

func NewClient(coordinator *Coordinator, directory *Directory, sequencer *Sequencer, logger *slog.Logger, opts ...ClientOption) *Client {
	o := clientOptions{
		cacheSize: DefaultStateCacheSize,
		cacheTTL:  DefaultStateCacheTTL,
		recorder:  NoopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		coordinator: coordinator,
		directory:   directory,
		sequencer:   sequencer,
		gate:        NewGate(),
		states:      gcache.New(o.cacheSize).LRU().Expiration(o.cacheTTL).Build(),
		recorder:    o.recorder,
		logger:      logger,
	}
}

func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	var sess domain.Session
	err := c.gate.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		sess, err = c.coordinator.Login(ctx, creds)
		return err
	})
	return sess, err
}

func (c *Client) Logout() {
	c.coordinator.Logout()
}

func (c *Client) Generation() domain.Generation {
	return c.coordinator.Generation()
}

// DiscoverDevices runs a discovery pass on the active generation.
func (c *Client) DiscoverDevices(ctx context.Context) ([]domain.Device, error) {
	var devices []domain.Device
	err := c.gate.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		devices, err = c.discover(ctx)
		if err != nil && c.failover(ctx, err) {
			devices, err = c.directory.Devices(), nil
		}
		return err
	})
	return devices, err
}

func (c *Client) discover(ctx context.Context) ([]domain.Device, error) {
	api, sessions := c.coordinator.Active()

	var devices []domain.Device
	err := sessions.Do(ctx, func(sess domain.Session) error {
		var err error
		devices, err = c.directory.Discover(ctx, api, sess)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("discovering devices: %w", err)
	}

	c.recorder.Discovery(sessions.Generation(), len(devices))
	for _, d := range devices {
		c.refresh(d)
	}
	return devices, nil
}

// failover moves to the legacy generation after a primary relogin failed
// outright and rebuilds the directory there, since numeric ids differ
// between generations. It reports whether the operation should be retried.
func (c *Client) failover(ctx context.Context, cause error) bool {
	if cause == nil || !c.coordinator.Failover(ctx, cause) {
		return false
	}
	if _, err := c.discover(ctx); err != nil {
		c.logger.Warn("discovery on legacy generation failed", "error", err)
		return false
	}
	return true
}

// refresh caches the identity of dev from the latest discovery. A known
// device keeps its last known state.
func (c *Client) refresh(dev domain.Device) {
	if known, ok := c.LastKnown(dev.StableID); ok {
		dev = withState(dev, known)
	}
	_ = c.states.Set(dev.StableID, dev)
}

// withState returns dev carrying the observed state of known. Identity,
// including the volatile numeric id, always comes from dev.
func withState(dev, known domain.Device) domain.Device {
	dev.On = known.On
	dev.Level = known.Level
	dev.Online = known.Online
	return dev
}

// Devices returns the devices of the last discovery pass.
func (c *Client) Devices() []domain.Device {
	return c.directory.Devices()
}

// resolve finds a device by stable id, running discovery once on a miss.
func (c *Client) resolve(ctx context.Context, stableID string) (domain.Device, error) {
	if len(stableID) < domain.MinStableIDLength {
		return domain.Device{}, fmt.Errorf("%w: %q is shorter than %d characters", domain.ErrInvalidIdentifier, stableID, domain.MinStableIDLength)
	}
	if dev, ok := c.directory.Lookup(stableID); ok {
		return dev, nil
	}
	if _, err := c.discover(ctx); err != nil {
		return domain.Device{}, err
	}
	if dev, ok := c.directory.Lookup(stableID); ok {
		return dev, nil
	}
	return domain.Device{}, fmt.Errorf("%w: %s", domain.ErrNoDeviceFound, stableID)
}

// LastKnown returns the caller-visible state of a device without touching
// the cloud.
func (c *Client) LastKnown(stableID string) (domain.Device, bool) {
	v, err := c.states.Get(stableID)
	if err != nil {
		return domain.Device{}, false
	}
	return v.(domain.Device), true
}

// GetState queries a device. A failing status query is reported in the
// StateReport, not as an error; errors are reserved for unknown devices and
// authentication problems.
func (c *Client) GetState(ctx context.Context, stableID string) (domain.StateReport, error) {
	var report domain.StateReport
	err := c.gate.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		report, err = c.getState(ctx, stableID)
		if err != nil && c.failover(ctx, err) {
			report, err = c.getState(ctx, stableID)
		}
		return err
	})
	return report, err
}

func (c *Client) getState(ctx context.Context, stableID string) (domain.StateReport, error) {
	dev, err := c.resolve(ctx, stableID)
	if err != nil {
		return domain.StateReport{}, err
	}
	if known, ok := c.LastKnown(dev.StableID); ok {
		dev = withState(dev, known)
	}

	api, sessions := c.coordinator.Active()
	var status domain.DeviceStatus
	err = sessions.Do(ctx, func(sess domain.Session) error {
		var err error
		status, err = api.Status(ctx, sess, dev)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			return domain.StateReport{}, err
		}
		c.logger.Warn("status query failed, reporting last known state", "stable_id", dev.StableID, "error", err)
		return domain.StateReport{Device: dev, Err: err}, nil
	}

	dev.On = status.On
	dev.Online = status.Online
	if status.Level != domain.LevelUnset {
		dev.Level = domain.ClampLevel(status.Level)
	}
	_ = c.states.Set(dev.StableID, dev)
	return domain.StateReport{Device: dev, Fresh: true}, nil
}

// SetState switches a device and sets its level. Expected failures are
// reported in the Outcome; the last known state only changes on success.
func (c *Client) SetState(ctx context.Context, stableID string, on bool, level int) domain.Outcome {
	intent := domain.ControlIntent{StableID: stableID, On: on, Level: level}

	var out domain.Outcome
	err := c.gate.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.setState(ctx, intent)

		// No command was accepted when the outcome is Failed.
		cause := err
		if cause == nil && out.Result == domain.ResultFailed {
			cause = out.Err
		}
		if c.failover(ctx, cause) {
			out, err = c.setState(ctx, intent)
		}
		return err
	})
	if err != nil {
		out = domain.Outcome{Result: domain.ResultFailed, Transport: domain.TransportCloud, Err: err}
	}

	c.recorder.Command(out)
	return out
}

func (c *Client) setState(ctx context.Context, intent domain.ControlIntent) (domain.Outcome, error) {
	dev, err := c.resolve(ctx, intent.StableID)
	if err != nil {
		return domain.Outcome{}, err
	}

	api, sessions := c.coordinator.Active()
	out, trace := c.sequencer.Run(ctx, api, sessions, dev, intent)

	c.logger.Info("control finished",
		"stable_id", dev.StableID,
		"generation", sessions.Generation(),
		"result", out.Result,
		"verified", out.Verified,
		"transport", out.Transport,
		"attempts", out.Attempts,
		"steps", len(trace),
	)

	if out.Succeeded() {
		next := dev
		if known, ok := c.LastKnown(dev.StableID); ok {
			next = withState(dev, known)
		}
		next.On = intent.On
		next.Level = intent.WireLevel()
		_ = c.states.Set(dev.StableID, next)
	}
	return out, nil
}
