package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Account   AccountConfig   `yaml:"account"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Session   SessionConfig   `yaml:"session"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	State     StateConfig     `yaml:"state"`
	BLE       BLEConfig       `yaml:"ble"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type AccountConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type CloudConfig struct {
	PrimaryURL        string        `yaml:"primary_url"`
	LegacyURL         string        `yaml:"legacy_url"`
	DisableFallback   bool          `yaml:"disable_fallback"`
	Timeout           time.Duration `yaml:"timeout"`
	TokenExpiredCodes []string      `yaml:"token_expired_codes"`
	AppVersion        string        `yaml:"app_version"`
	OSType            string        `yaml:"os_type"`
	OSVersion         string        `yaml:"os_version"`
	DeviceModel       string        `yaml:"device_model"`
	DeviceID          string        `yaml:"device_id"`
	Timezone          string        `yaml:"timezone"`
	Language          string        `yaml:"language"`
}

type SessionConfig struct {
	ReloginCooldown time.Duration `yaml:"relogin_cooldown"`
}

type DiscoveryConfig struct {
	// A null entry is the wildcard group.
	ProductGroups []*int `yaml:"product_groups"`
}

type StateConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type BLEConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
	ServiceUUID string        `yaml:"service_uuid"`
	WriteUUID   string        `yaml:"write_uuid"`
}

type MetricsConfig struct {
	Addr         string        `yaml:"addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references and decodes YAML.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Account.Email == "" {
		errs = append(errs, errors.New("account.email is required"))
	}
	if c.Account.Password == "" {
		errs = append(errs, errors.New("account.password is required"))
	}
	if c.BLE.Enabled && (c.BLE.ServiceUUID == "" || c.BLE.WriteUUID == "") {
		errs = append(errs, errors.New("ble.service_uuid and ble.write_uuid are required when ble is enabled"))
	}
	return errors.Join(errs...)
}

func (c *Config) setDefaults() {
	if c.Cloud.PrimaryURL == "" {
		c.Cloud.PrimaryURL = "https://mars-pro.api.lgledsolutions.com"
	}
	if c.Cloud.LegacyURL == "" {
		c.Cloud.LegacyURL = "https://api.lgledsolutions.com/api/android"
	}
	if c.Cloud.Timeout == 0 {
		c.Cloud.Timeout = 30 * time.Second
	}
	if len(c.Cloud.TokenExpiredCodes) == 0 {
		c.Cloud.TokenExpiredCodes = []string{"102"}
	}
	if c.Session.ReloginCooldown == 0 {
		c.Session.ReloginCooldown = 60 * time.Second
	}
	if len(c.Discovery.ProductGroups) == 0 {
		one, two, three := 1, 2, 3
		c.Discovery.ProductGroups = []*int{&one, &two, &three, nil}
	}
	if c.State.CacheSize == 0 {
		c.State.CacheSize = 256
	}
	if c.State.CacheTTL == 0 {
		c.State.CacheTTL = 24 * time.Hour
	}
	if c.BLE.ScanTimeout == 0 {
		c.BLE.ScanTimeout = 10 * time.Second
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9120"
	}
	if c.Metrics.PollInterval == 0 {
		c.Metrics.PollInterval = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}
