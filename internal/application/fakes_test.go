package application_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"marsctl/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiCall struct {
	Method   string
	ID       int64
	StableID string
	On       bool
	Level    int
	Shape    domain.WakeShape
	Group    domain.GroupTag
	Token    string
}

// fakeAPI is a scriptable CloudAPI. Error slices are consumed one per call;
// once empty the call succeeds.
type fakeAPI struct {
	mu  sync.Mutex
	gen domain.Generation

	loginErr error
	logins   int
	expired  map[string]bool

	groups   map[domain.GroupTag][]domain.RawDevice
	groupErr map[domain.GroupTag]error

	activateErr error
	wakeErr     map[domain.WakeShape]error
	controlErrs []error
	statusErrs  []error
	status      domain.DeviceStatus

	calls []apiCall
}

func newFakeAPI(gen domain.Generation) *fakeAPI {
	return &fakeAPI{
		gen:      gen,
		expired:  map[string]bool{},
		groups:   map[domain.GroupTag][]domain.RawDevice{},
		groupErr: map[domain.GroupTag]error{},
		wakeErr:  map[domain.WakeShape]error{},
		status:   domain.DeviceStatus{On: true, Level: domain.LevelUnset, Online: true},
	}
}

func (f *fakeAPI) record(c apiCall) {
	f.calls = append(f.calls, c)
}

func (f *fakeAPI) checkToken(sess domain.Session) error {
	if f.expired[sess.Token] {
		return domain.NewAPIError("102", "token expired", domain.ErrTokenExpired)
	}
	return nil
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeAPI) Generation() domain.Generation { return f.gen }

func (f *fakeAPI) Login(_ context.Context, creds domain.Credentials) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	f.record(apiCall{Method: "login"})
	if f.loginErr != nil {
		return domain.Session{}, f.loginErr
	}
	return domain.Session{
		Token:      fmt.Sprintf("%s-tok-%d", f.gen, f.logins),
		AccountID:  1,
		Generation: f.gen,
	}, nil
}

func (f *fakeAPI) ListDevices(_ context.Context, sess domain.Session, group domain.GroupTag) ([]domain.RawDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(apiCall{Method: "list", Group: group, Token: sess.Token})
	if err := f.checkToken(sess); err != nil {
		return nil, err
	}
	if err := f.groupErr[group]; err != nil {
		return nil, err
	}
	return f.groups[group], nil
}

func (f *fakeAPI) Activate(_ context.Context, sess domain.Session, dev domain.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(apiCall{Method: "activate", StableID: dev.StableID, Token: sess.Token})
	if err := f.checkToken(sess); err != nil {
		return err
	}
	return f.activateErr
}

func (f *fakeAPI) Wake(_ context.Context, sess domain.Session, dev domain.Device, shape domain.WakeShape) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(apiCall{Method: "wake", StableID: dev.StableID, Shape: shape, Token: sess.Token})
	if err := f.checkToken(sess); err != nil {
		return err
	}
	return f.wakeErr[shape]
}

func (f *fakeAPI) Control(_ context.Context, sess domain.Session, dev domain.Device, on bool, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(apiCall{Method: "control", ID: dev.ID, StableID: dev.StableID, On: on, Level: level, Token: sess.Token})
	if err := f.checkToken(sess); err != nil {
		return err
	}
	return pop(&f.controlErrs)
}

func (f *fakeAPI) Status(_ context.Context, sess domain.Session, dev domain.Device) (domain.DeviceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(apiCall{Method: "status", ID: dev.ID, StableID: dev.StableID, Token: sess.Token})
	if err := f.checkToken(sess); err != nil {
		return domain.DeviceStatus{}, err
	}
	if err := pop(&f.statusErrs); err != nil {
		return domain.DeviceStatus{}, err
	}
	return f.status, nil
}

func (f *fakeAPI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeAPI) callsOf(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAPI) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// staticSessions hands out a fixed session with no relogin logic.
type staticSessions struct{}

func (staticSessions) Do(_ context.Context, fn func(domain.Session) error) error {
	return fn(domain.Session{Token: "static"})
}

type fakeLocal struct {
	available bool
	err       error
	sent      []domain.ControlIntent
}

func (f *fakeLocal) Available() bool { return f.available }

func (f *fakeLocal) SendControl(_ context.Context, dev domain.Device, on bool, level int) error {
	f.sent = append(f.sent, domain.ControlIntent{StableID: dev.StableID, On: on, Level: level})
	return f.err
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

var (
	rejected  = domain.NewAPIError("500", "device busy", domain.ErrRejected)
	transport = fmt.Errorf("%w: connection reset", domain.ErrTransport)
)
