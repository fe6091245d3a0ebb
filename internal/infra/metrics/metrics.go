package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marsctl/internal/domain"
)

// Recorder exports client activity as Prometheus metrics on its own
// registry.
type Recorder struct {
	registry *prometheus.Registry

	logins     *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
	devices    *prometheus.GaugeVec
	commands   *prometheus.CounterVec
	attempts   prometheus.Histogram
	unverified prometheus.Counter
	deviceOn   *prometheus.GaugeVec
	level      *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marsctl_logins_total",
			Help: "Login attempts by API generation and result",
		}, []string{"generation", "result"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marsctl_generation_fallbacks_total",
			Help: "Switches from one API generation to another",
		}, []string{"from", "to"}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marsctl_discovered_devices",
			Help: "Devices found by the last discovery pass",
		}, []string{"generation"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marsctl_commands_total",
			Help: "Control requests by result and transport",
		}, []string{"result", "transport"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marsctl_command_attempts",
			Help:    "Command attempts per control request",
			Buckets: []float64{0, 1, 2},
		}),
		unverified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marsctl_commands_unverified_total",
			Help: "Accepted control requests the vendor could not confirm",
		}),
		deviceOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marsctl_device_on",
			Help: "1 when the device was last seen switched on",
		}, []string{"stable_id", "name"}),
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marsctl_device_level_percent",
			Help: "Last seen brightness or fan speed",
		}, []string{"stable_id", "name"}),
	}

	r.registry.MustRegister(r.logins, r.fallbacks, r.devices, r.commands, r.attempts, r.unverified, r.deviceOn, r.level)
	return r
}

func (r *Recorder) Login(gen domain.Generation, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.logins.WithLabelValues(string(gen), result).Inc()
}

func (r *Recorder) Fallback(from, to domain.Generation) {
	r.fallbacks.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) Discovery(gen domain.Generation, devices int) {
	r.devices.WithLabelValues(string(gen)).Set(float64(devices))
}

func (r *Recorder) Command(out domain.Outcome) {
	r.commands.WithLabelValues(string(out.Result), string(out.Transport)).Inc()
	r.attempts.Observe(float64(out.Attempts))
	if out.Unverified() {
		r.unverified.Inc()
	}
}

// DeviceState records a polled device state.
func (r *Recorder) DeviceState(dev domain.Device) {
	on := 0.0
	if dev.On {
		on = 1
	}
	r.deviceOn.WithLabelValues(dev.StableID, dev.Name).Set(on)
	if dev.Level != domain.LevelUnset {
		r.level.WithLabelValues(dev.StableID, dev.Name).Set(float64(dev.Level))
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
