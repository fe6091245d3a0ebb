package ble

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"marsctl/internal/domain"
	"marsctl/internal/infra"
)

type fakeLink struct {
	radio *fakeRadio
}

func (l *fakeLink) Write(svc, char string, data []byte) error {
	l.radio.mu.Lock()
	defer l.radio.mu.Unlock()
	l.radio.writes = append(l.radio.writes, data)
	return l.radio.writeErr
}

func (l *fakeLink) Close() error {
	l.radio.mu.Lock()
	defer l.radio.mu.Unlock()
	l.radio.open--
	l.radio.closed++
	return nil
}

type fakeRadio struct {
	mu        sync.Mutex
	enableErr error
	connFails int
	writeErr  error
	connects  int
	open      int
	maxOpen   int
	closed    int
	writes    [][]byte
}

func (r *fakeRadio) Enable() error { return r.enableErr }

func (r *fakeRadio) Connect(_ context.Context, _ string, _ time.Duration) (link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	if r.connFails > 0 {
		r.connFails--
		return nil, errNotFound
	}
	r.open++
	if r.open > r.maxOpen {
		r.maxOpen = r.open
	}
	return &fakeLink{radio: r}, nil
}

func testConfig() Config {
	return Config{
		ServiceUUID: "0000ffe0-0000-1000-8000-00805f9b34fb",
		WriteUUID:   "0000ffe1-0000-1000-8000-00805f9b34fb",
		Retry:       infra.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var dev = domain.Device{StableID: "345F45EC73CC"}

func TestTransport_UnavailableUntilOpened(t *testing.T) {
	r := &fakeRadio{}
	tr := newTransport(r, testConfig(), testLogger())

	if err := tr.SendControl(context.Background(), dev, true, 50); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("before Open: got %v, want ErrUnavailable", err)
	}

	r.enableErr = errors.New("no adapter")
	if err := tr.Open(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Open: got %v, want ErrUnavailable", err)
	}
	if tr.Available() {
		t.Error("transport should stay unavailable after a failed Open")
	}
}

func TestTransport_ReleasesConnectionOnEveryPath(t *testing.T) {
	r := &fakeRadio{}
	tr := newTransport(r, testConfig(), testLogger())
	if err := tr.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := tr.SendControl(context.Background(), dev, true, 50); err != nil {
		t.Fatalf("SendControl: %v", err)
	}

	r.writeErr = errors.New("gatt write failed")
	if err := tr.SendControl(context.Background(), dev, true, 50); err == nil {
		t.Fatal("expected write failure")
	}

	if r.open != 0 {
		t.Errorf("open connections: got %d, want 0", r.open)
	}
	if r.closed != 2 {
		t.Errorf("closed connections: got %d, want 2", r.closed)
	}
}

func TestTransport_RetriesConnect(t *testing.T) {
	r := &fakeRadio{connFails: 1}
	tr := newTransport(r, testConfig(), testLogger())
	_ = tr.Open()

	if err := tr.SendControl(context.Background(), dev, false, 0); err != nil {
		t.Fatalf("SendControl: %v", err)
	}
	if r.connects != 2 {
		t.Errorf("connect attempts: got %d, want 2", r.connects)
	}

	r.connFails = 5
	if err := tr.SendControl(context.Background(), dev, false, 0); !errors.Is(err, errNotFound) {
		t.Errorf("persistent failure: got %v, want errNotFound", err)
	}
}

func TestTransport_SerializesPerDevice(t *testing.T) {
	r := &fakeRadio{}
	tr := newTransport(r, testConfig(), testLogger())
	_ = tr.Open()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.SendControl(context.Background(), dev, true, 10)
		}()
	}
	wg.Wait()

	if r.maxOpen != 1 {
		t.Errorf("concurrent connections to one device: got %d, want 1", r.maxOpen)
	}
	if len(r.writes) != 8 {
		t.Errorf("writes: got %d, want 8", len(r.writes))
	}
}

func TestExperimentalEncoder(t *testing.T) {
	b, err := ExperimentalEncoder(dev, true, 30)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var in struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if in.Params["pid"] != "345F45EC73CC" || in.Params["num"] != float64(30) {
		t.Errorf("params: got %v", in.Params)
	}
}
