package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"marsctl/internal/domain"
)

func TestRecorder_Logins(t *testing.T) {
	r := NewRecorder()

	r.Login(domain.GenerationPrimary, errors.New("wrong password"))
	r.Login(domain.GenerationLegacy, nil)
	r.Fallback(domain.GenerationPrimary, domain.GenerationLegacy)

	if got := testutil.ToFloat64(r.logins.WithLabelValues("marspro", "error")); got != 1 {
		t.Errorf("primary failures: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.logins.WithLabelValues("marshydro", "ok")); got != 1 {
		t.Errorf("legacy successes: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.fallbacks.WithLabelValues("marspro", "marshydro")); got != 1 {
		t.Errorf("fallbacks: got %v, want 1", got)
	}
}

func TestRecorder_Commands(t *testing.T) {
	r := NewRecorder()

	r.Command(domain.Outcome{Result: domain.ResultDone, Accepted: true, Verified: true, Transport: domain.TransportCloud, Attempts: 1})
	r.Command(domain.Outcome{Result: domain.ResultDone, Accepted: true, Transport: domain.TransportCloud, Attempts: 2})
	r.Command(domain.Outcome{Result: domain.ResultFailed, Transport: domain.TransportCloud, Attempts: 2})

	if got := testutil.ToFloat64(r.commands.WithLabelValues("done", "cloud")); got != 2 {
		t.Errorf("done commands: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.commands.WithLabelValues("failed", "cloud")); got != 1 {
		t.Errorf("failed commands: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.unverified); got != 1 {
		t.Errorf("unverified: got %v, want 1", got)
	}
}

func TestRecorder_DeviceState(t *testing.T) {
	r := NewRecorder()

	r.DeviceState(domain.Device{StableID: "345F45EC73CC", Name: "Tent", On: true, Level: 70})
	r.DeviceState(domain.Device{StableID: "0A0B0C0D0E0F", Name: "Fan", Level: domain.LevelUnset})

	if got := testutil.ToFloat64(r.deviceOn.WithLabelValues("345F45EC73CC", "Tent")); got != 1 {
		t.Errorf("device on: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.level.WithLabelValues("345F45EC73CC", "Tent")); got != 70 {
		t.Errorf("level: got %v, want 70", got)
	}
	if got := testutil.CollectAndCount(r.level); got != 1 {
		t.Errorf("level series: got %d, want 1 (unset level must not be exported)", got)
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.Discovery(domain.GenerationPrimary, 3)

	server := httptest.NewServer(r.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `marsctl_discovered_devices{generation="marspro"} 3`) {
		t.Errorf("scrape output missing discovered devices gauge:\n%s", body)
	}
}
