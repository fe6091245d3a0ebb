package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"marsctl/config"
	"marsctl/internal/application"
	"marsctl/internal/domain"
	"marsctl/internal/infra/ble"
	"marsctl/internal/infra/lgled"
	"marsctl/internal/infra/marshydro"
	"marsctl/internal/infra/marspro"
	"marsctl/internal/infra/metrics"
)

var configPath string

func main() {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "marsctl",
		Short:         "Control Mars Hydro / MarsPro grow lights and fans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(loginCmd(), discoverCmd(), getCmd(), setCmd(), watchCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *application.Client
	recorder *metrics.Recorder
}

func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Log)
	logger.Debug("loaded config", "config", litter.Sdump(redacted(*cfg)))

	fp := fingerprint(cfg.Cloud)
	opts := []lgled.Option{
		lgled.WithTimeout(cfg.Cloud.Timeout),
		lgled.WithExpiredCodes(cfg.Cloud.TokenExpiredCodes...),
	}

	primary := marspro.NewClient(lgled.NewTransport(cfg.Cloud.PrimaryURL, fp, opts...))
	var legacy application.CloudAPI
	if !cfg.Cloud.DisableFallback {
		legacy = marshydro.NewClient(lgled.NewTransport(cfg.Cloud.LegacyURL, fp, opts...))
	}

	recorder := metrics.NewRecorder()
	coordinator := application.NewCoordinator(primary, legacy, cfg.Session.ReloginCooldown, logger, recorder)
	directory := application.NewDirectory(productGroups(cfg.Discovery), logger)

	var local application.LocalTransport
	if cfg.BLE.Enabled {
		t := ble.NewTransport(ble.Config{
			ScanTimeout: cfg.BLE.ScanTimeout,
			ServiceUUID: cfg.BLE.ServiceUUID,
			WriteUUID:   cfg.BLE.WriteUUID,
		}, logger)
		if err := t.Open(); err != nil {
			logger.Warn("bluetooth unavailable, using cloud only", "error", err)
		}
		local = t
	}

	client := application.NewClient(
		coordinator,
		directory,
		application.NewSequencer(local, logger),
		logger,
		application.WithStateCache(cfg.State.CacheSize, cfg.State.CacheTTL),
		application.WithRecorder(recorder),
	)

	return &app{cfg: cfg, logger: logger, client: client, recorder: recorder}, nil
}

func (a *app) login(ctx context.Context) error {
	sess, err := a.client.Login(ctx, domain.Credentials{
		Email:    a.cfg.Account.Email,
		Password: a.cfg.Account.Password,
	})
	if err != nil {
		return err
	}
	a.logger.Debug("session ready", "generation", sess.Generation, "account_id", sess.AccountID)
	return nil
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check the account credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			if err := a.login(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("logged in (%s)\n", a.client.Generation())
			return nil
		},
	}
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List the devices on the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			if err := a.login(cmd.Context()); err != nil {
				return err
			}
			devices, err := a.client.DiscoverDevices(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range devices {
				fmt.Printf("%-14s %-32s %-6s %-9s on=%-5t level=%s\n",
					d.StableID, d.Name, d.Kind, d.Connectivity, d.On, formatLevel(d.Level))
			}
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <stable-id>",
		Short: "Query the state of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			if err := a.login(cmd.Context()); err != nil {
				return err
			}
			report, err := a.client.GetState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			d := report.Device
			fmt.Printf("%s on=%t level=%s online=%t fresh=%t\n", d.StableID, d.On, formatLevel(d.Level), d.Online, report.Fresh)
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	var (
		on    bool
		off   bool
		level int
	)
	cmd := &cobra.Command{
		Use:   "set <stable-id>",
		Short: "Switch a device and set its brightness or speed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if on == off {
				return errors.New("exactly one of --on or --off is required")
			}
			a, err := setup()
			if err != nil {
				return err
			}
			if err := a.login(cmd.Context()); err != nil {
				return err
			}
			out := a.client.SetState(cmd.Context(), args[0], on, level)
			if !out.Succeeded() {
				return fmt.Errorf("command failed after %d attempt(s): %w", out.Attempts, out.Err)
			}
			caveat := ""
			if out.Unverified() {
				caveat = " (unverified)"
			}
			fmt.Printf("ok via %s in %d attempt(s)%s\n", out.Transport, out.Attempts, caveat)
			return nil
		},
	}
	cmd.Flags().BoolVar(&on, "on", false, "switch on")
	cmd.Flags().BoolVar(&off, "off", false, "switch off")
	cmd.Flags().IntVarP(&level, "level", "l", 100, "brightness or speed, 0-100")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll device state and serve Prometheus metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			return a.watch(cmd.Context())
		},
	}
}

func (a *app) watch(ctx context.Context) error {
	if err := a.login(ctx); err != nil {
		return err
	}
	if _, err := a.client.DiscoverDevices(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.recorder.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.logger.Info("serving metrics", "addr", a.cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()

	ticker := time.NewTicker(a.cfg.Metrics.PollInterval)
	defer ticker.Stop()

	for {
		a.poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) poll(ctx context.Context) {
	for _, d := range a.client.Devices() {
		report, err := a.client.GetState(ctx, d.StableID)
		if err != nil {
			a.logger.Error("polling device failed", "stable_id", d.StableID, "error", err)
			continue
		}
		a.recorder.DeviceState(report.Device)
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "pretty":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func fingerprint(cfg config.CloudConfig) lgled.Fingerprint {
	fp := lgled.DefaultFingerprint()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&fp.AppVersion, cfg.AppVersion)
	set(&fp.OSType, cfg.OSType)
	set(&fp.OSVersion, cfg.OSVersion)
	set(&fp.DeviceModel, cfg.DeviceModel)
	set(&fp.DeviceID, cfg.DeviceID)
	set(&fp.Timezone, cfg.Timezone)
	set(&fp.Language, cfg.Language)
	return fp
}

func productGroups(cfg config.DiscoveryConfig) []domain.GroupTag {
	groups := make([]domain.GroupTag, 0, len(cfg.ProductGroups))
	for _, g := range cfg.ProductGroups {
		if g == nil {
			groups = append(groups, domain.AnyGroup)
			continue
		}
		groups = append(groups, domain.Group(*g))
	}
	return groups
}

func redacted(cfg config.Config) config.Config {
	if cfg.Account.Password != "" {
		cfg.Account.Password = "***"
	}
	return cfg
}

func formatLevel(level int) string {
	if level == domain.LevelUnset {
		return "-"
	}
	return strconv.Itoa(level)
}
