package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"marsctl/internal/domain"
)

// State is a step of the control sequence.
type State int

const (
	StateIdle State = iota
	StateActivating
	StateWaking
	StateCommanding
	StateVerifying
	StateRetryOnce
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateWaking:
		return "waking"
	case StateCommanding:
		return "commanding"
	case StateVerifying:
		return "verifying"
	case StateRetryOnce:
		return "retry_once"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// stepPolicy says whether a failing step ends the attempt.
type stepPolicy int

const (
	advisory stepPolicy = iota
	fatal
)

const maxAttempts = 2

// Sequencer runs activate, wake, command, verify and one retry against a
// single device.
type Sequencer struct {
	local  LocalTransport
	logger *slog.Logger
}

func NewSequencer(local LocalTransport, logger *slog.Logger) *Sequencer {
	return &Sequencer{local: local, logger: logger}
}

type run struct {
	dev    domain.Device
	trace  []State
	logger *slog.Logger
}

func (r *run) enter(s State) {
	r.trace = append(r.trace, s)
	r.logger.Debug("sequence step", "stable_id", r.dev.StableID, "state", s.String())
}

// step runs fn in state s. Advisory failures are logged and swallowed.
func (r *run) step(s State, policy stepPolicy, fn func() error) error {
	r.enter(s)
	err := fn()
	if err == nil {
		return nil
	}
	if policy == advisory && !errors.Is(err, domain.ErrAuth) {
		r.logger.Warn("advisory step failed, continuing",
			"stable_id", r.dev.StableID,
			"state", s.String(),
			"error", err,
		)
		return nil
	}
	return err
}

// Run drives one control request to Done or Failed. Once activation has
// started the sequence ignores cancellation of ctx so that activation windows
// never overlap; each call is still bounded by the transport timeout.
func (s *Sequencer) Run(ctx context.Context, api DeviceController, sessions SessionRunner, dev domain.Device, intent domain.ControlIntent) (domain.Outcome, []State) {
	r := &run{dev: dev, trace: []State{StateIdle}, logger: s.logger}

	if len(dev.StableID) < domain.MinStableIDLength {
		r.enter(StateFailed)
		return domain.Outcome{
			Result:    domain.ResultFailed,
			Transport: domain.TransportCloud,
			Err:       fmt.Errorf("%w: %q is shorter than %d characters", domain.ErrInvalidIdentifier, dev.StableID, domain.MinStableIDLength),
		}, r.trace
	}
	if err := ctx.Err(); err != nil {
		r.enter(StateFailed)
		return domain.Outcome{Result: domain.ResultFailed, Transport: domain.TransportCloud, Err: err}, r.trace
	}

	ctx = context.WithoutCancel(ctx)
	on, level := intent.On, intent.WireLevel()

	err := r.step(StateActivating, advisory, func() error {
		return sessions.Do(ctx, func(sess domain.Session) error {
			return api.Activate(ctx, sess, dev)
		})
	})
	if err != nil {
		r.enter(StateFailed)
		return domain.Outcome{Result: domain.ResultFailed, Transport: domain.TransportCloud, Err: err}, r.trace
	}

	var wake bool
	switch dev.Connectivity {
	case domain.ConnectivityWifiCloud:
		wake = false
	case domain.ConnectivityBluetoothOnly:
		wake = true
		if out, ok := s.tryLocal(ctx, r, on, level); ok {
			return out, r.trace
		}
	case domain.ConnectivityUnknown:
		wake = true
	}

	out := s.runCloud(ctx, r, api, sessions, on, level, wake)
	return out, r.trace
}

// tryLocal attempts the Bluetooth path. Any failure falls through to the
// cloud.
func (s *Sequencer) tryLocal(ctx context.Context, r *run, on bool, level int) (domain.Outcome, bool) {
	if s.local == nil || !s.local.Available() {
		return domain.Outcome{}, false
	}

	r.enter(StateCommanding)
	if err := s.local.SendControl(ctx, r.dev, on, level); err != nil {
		s.logger.Warn("ble control failed, falling back to cloud", "stable_id", r.dev.StableID, "error", err)
		return domain.Outcome{}, false
	}

	r.enter(StateDone)
	return domain.Outcome{
		Result:    domain.ResultDone,
		Accepted:  true,
		Transport: domain.TransportBLE,
		Attempts:  1,
	}, true
}

func (s *Sequencer) runCloud(ctx context.Context, r *run, api DeviceController, sessions SessionRunner, on bool, level int, wake bool) domain.Outcome {
	var (
		accepted bool
		verified bool
		attempts int
		lastErr  error
	)

	for attempt := 1; attempt <= maxAttempts && !verified; attempt++ {
		if attempt > 1 {
			r.enter(StateRetryOnce)
		}
		attempts = attempt

		if wake {
			s.wake(ctx, r, api, sessions)
		}

		err := r.step(StateCommanding, fatal, func() error {
			return sessions.Do(ctx, func(sess domain.Session) error {
				return api.Control(ctx, sess, r.dev, on, level)
			})
		})
		if err != nil {
			lastErr = err
			s.logger.Warn("control command failed",
				"stable_id", r.dev.StableID,
				"attempt", attempt,
				"error", err,
			)
			if errors.Is(err, domain.ErrAuth) {
				break
			}
			continue
		}
		accepted = true

		err = r.step(StateVerifying, fatal, func() error {
			return sessions.Do(ctx, func(sess domain.Session) error {
				_, err := api.Status(ctx, sess, r.dev)
				return err
			})
		})
		if err != nil {
			s.logger.Warn("verification failed",
				"stable_id", r.dev.StableID,
				"attempt", attempt,
				"error", err,
			)
			continue
		}
		verified = true
	}

	if !accepted {
		r.enter(StateFailed)
		return domain.Outcome{
			Result:    domain.ResultFailed,
			Transport: domain.TransportCloud,
			Attempts:  attempts,
			Err:       lastErr,
		}
	}

	r.enter(StateDone)
	if !verified {
		s.logger.Warn("command accepted but unverified", "stable_id", r.dev.StableID, "attempts", attempts)
	}
	return domain.Outcome{
		Result:    domain.ResultDone,
		Accepted:  true,
		Verified:  verified,
		Transport: domain.TransportCloud,
		Attempts:  attempts,
	}
}

// wake sends the primary wake shape and, on failure, the alternate one.
// Neither failure stops the sequence.
func (s *Sequencer) wake(ctx context.Context, r *run, api DeviceController, sessions SessionRunner) {
	send := func(shape domain.WakeShape) error {
		return sessions.Do(ctx, func(sess domain.Session) error {
			return api.Wake(ctx, sess, r.dev, shape)
		})
	}

	_ = r.step(StateWaking, advisory, func() error {
		err := send(domain.WakePrimary)
		if err == nil {
			return nil
		}
		s.logger.Debug("primary wake failed, trying alternate", "stable_id", r.dev.StableID, "error", err)
		return send(domain.WakeAlternate)
	})
}
