// Package ble drives devices directly over Bluetooth Low Energy.
//
// The command byte format has never been confirmed against real hardware.
// Payloads come from a pluggable Encoder and the whole path stays disabled
// unless explicitly turned on; callers must fall back to the cloud on any
// error from here.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"marsctl/internal/domain"
	"marsctl/internal/infra"
	"marsctl/internal/infra/lgled"
)

// Encoder turns a control request into the bytes written to the device.
type Encoder func(dev domain.Device, on bool, level int) ([]byte, error)

// ExperimentalEncoder reuses the cloud instruction layout. It is a guess.
func ExperimentalEncoder(dev domain.Device, on bool, level int) ([]byte, error) {
	s, err := lgled.Instruction{
		Method: "outletCtrl",
		Params: map[string]any{"pid": dev.StableID, "num": level, "isClose": !on},
	}.Encode()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

type Config struct {
	ScanTimeout time.Duration
	ServiceUUID string
	WriteUUID   string
	Encoder     Encoder
	Retry       infra.RetryConfig
}

// radio finds and connects to a device by advertised name suffix.
type radio interface {
	Enable() error
	Connect(ctx context.Context, nameSuffix string, timeout time.Duration) (link, error)
}

type link interface {
	Write(serviceUUID, charUUID string, data []byte) error
	Close() error
}

var ErrUnavailable = errors.New("bluetooth unavailable")

type Transport struct {
	radio     radio
	cfg       Config
	logger    *slog.Logger
	available atomic.Bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTransport(cfg Config, logger *slog.Logger) *Transport {
	return newTransport(newTinygoRadio(), cfg, logger)
}

func newTransport(r radio, cfg Config, logger *slog.Logger) *Transport {
	if cfg.Encoder == nil {
		cfg.Encoder = ExperimentalEncoder
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = infra.DefaultRetryConfig()
	}
	return &Transport{
		radio:  r,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Open enables the adapter. A failure leaves the transport unavailable
// rather than being fatal.
func (t *Transport) Open() error {
	if err := t.radio.Enable(); err != nil {
		t.available.Store(false)
		return fmt.Errorf("%w: enabling adapter: %w", ErrUnavailable, err)
	}
	t.available.Store(true)
	return nil
}

func (t *Transport) Available() bool {
	return t.available.Load()
}

// SendControl writes one control payload. Operations on the same device are
// serialized and the connection is closed on every return path.
func (t *Transport) SendControl(ctx context.Context, dev domain.Device, on bool, level int) error {
	if !t.Available() {
		return ErrUnavailable
	}

	lock := t.deviceLock(dev.StableID)
	lock.Lock()
	defer lock.Unlock()

	payload, err := t.cfg.Encoder(dev, on, level)
	if err != nil {
		return fmt.Errorf("encoding ble payload: %w", err)
	}

	var l link
	err = infra.WithRetry(ctx, t.cfg.Retry, func() error {
		var connErr error
		l, connErr = t.radio.Connect(ctx, dev.StableID, t.cfg.ScanTimeout)
		return connErr
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", dev.StableID, err)
	}
	defer func() {
		if cerr := l.Close(); cerr != nil {
			t.logger.Warn("ble disconnect failed", "stable_id", dev.StableID, "error", cerr)
		}
	}()

	if err := l.Write(t.cfg.ServiceUUID, t.cfg.WriteUUID, payload); err != nil {
		return fmt.Errorf("writing to %s: %w", dev.StableID, err)
	}

	t.logger.Debug("ble control written", "stable_id", dev.StableID, "bytes", len(payload))
	return nil
}

func (t *Transport) deviceLock(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}
