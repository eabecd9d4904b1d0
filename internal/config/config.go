package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/relabs-tech/car_tracker/internal/device"
	"github.com/relabs-tech/car_tracker/internal/gps"
	"github.com/relabs-tech/car_tracker/internal/transport"
)

// EnvPrefix marks environment variables that override file values.
// TRACKER_NARROWBAND__DAILY_QUOTA sets narrowband.daily_quota; list keys
// take comma-separated values, as in TRACKER_TRANSPORTS=console,cellular.
const EnvPrefix = "TRACKER_"

// Config holds all application configuration values.
type Config struct {
	Tracker      TrackerConfig                `json:"tracker"`
	Source       SourceConfig                 `json:"source"`
	Device       DeviceConfig                 `json:"device"`
	Transports   []string                     `json:"transports"`
	Narrowband   transport.NarrowbandConfig   `json:"narrowband"`
	Cellular     transport.CellularConfig     `json:"cellular"`
	LocalNetwork transport.LocalNetworkConfig `json:"local_network"`
	FixLog       FixLogConfig                 `json:"fix_log"`
	Metrics      MetricsConfig                `json:"metrics"`
}

var validate = newValidator()

// newValidator reports fields by their configuration key.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// listKeys take comma-separated values from the environment.
var listKeys = map[string]bool{"transports": true}

func envKeyValue(k, v string) (string, any) {
	k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), "__", ".")
	if !listKeys[k] {
		return k, v
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return k, items
}

// SetDefaults fills every section. Transport sections are filled even when
// the transport is disabled.
func (c *Config) SetDefaults() {
	c.Tracker.SetDefaults()
	c.Source.SetDefaults()
	c.Device.SetDefaults()
	if len(c.Transports) == 0 {
		c.Transports = []string{string(transport.KindConsole)}
	}
	c.Narrowband.SetDefaults()
	c.Cellular.SetDefaults()
	c.LocalNetwork.SetDefaults()
	c.FixLog.SetDefaults()
}

// Validate checks every section and, when the narrowband transport is
// enabled, that the period respects its daily quota.
func (c *Config) Validate() error {
	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if err := c.FixLog.Validate(); err != nil {
		return fmt.Errorf("fix_log: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	kinds, err := c.Kinds()
	if err != nil {
		return err
	}
	for _, k := range kinds {
		switch k {
		case transport.KindNarrowband:
			if err := c.Narrowband.Validate(); err != nil {
				return fmt.Errorf("narrowband: %w", err)
			}
			if err := c.Narrowband.CheckPeriod(c.Tracker.Period()); err != nil {
				return fmt.Errorf("narrowband: %w", err)
			}
		case transport.KindCellular:
			if err := c.Cellular.Validate(); err != nil {
				return fmt.Errorf("cellular: %w", err)
			}
		}
	}
	return nil
}

// Kinds parses the enabled transports in registration order.
func (c *Config) Kinds() ([]transport.Kind, error) {
	if len(c.Transports) == 0 {
		return nil, errors.New("transports: at least one transport is required")
	}
	seen := make(map[transport.Kind]bool, len(c.Transports))
	kinds := make([]transport.Kind, 0, len(c.Transports))
	for _, name := range c.Transports {
		k, err := transport.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("transports: %w", err)
		}
		if seen[k] {
			return nil, fmt.Errorf("transports: %s listed twice", k)
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// TrackerConfig sets the transmission schedule.
type TrackerConfig struct {
	PeriodSeconds   int    `json:"period_seconds" validate:"gt=0"`
	FirePolicy      string `json:"fire_policy" validate:"oneof=immediate delayed"`
	SinkSetupPolicy string `json:"sink_setup_policy" validate:"oneof=abort exclude"`
}

func (c *TrackerConfig) SetDefaults() {
	if c.PeriodSeconds == 0 {
		c.PeriodSeconds = 900
	}
	if c.FirePolicy == "" {
		c.FirePolicy = "immediate"
	}
	if c.SinkSetupPolicy == "" {
		c.SinkSetupPolicy = "abort"
	}
}

func (c TrackerConfig) Validate() error { return validate.Struct(c) }

// Period returns the transmission period.
func (c TrackerConfig) Period() time.Duration {
	return time.Duration(c.PeriodSeconds) * time.Second
}

// SourceConfig selects and configures the position source.
type SourceConfig struct {
	// Kind is "nmea" for a serial receiver or "mock" for a synthetic track.
	Kind                      string  `json:"kind" validate:"oneof=nmea mock"`
	SerialPort                string  `json:"serial_port" validate:"required_if=Kind nmea"`
	BaudRate                  int     `json:"baud_rate" validate:"gte=0"`
	AcquisitionTimeoutSeconds int     `json:"acquisition_timeout_seconds" validate:"gte=0"`
	PollIntervalMS            int     `json:"poll_interval_ms" validate:"gte=0"`
	MockLatitude              float64 `json:"mock_latitude"`
	MockLongitude             float64 `json:"mock_longitude"`
}

func (c *SourceConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = "nmea"
	}
	if c.SerialPort == "" {
		c.SerialPort = "/dev/serial0"
	}
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.AcquisitionTimeoutSeconds == 0 {
		c.AcquisitionTimeoutSeconds = 300
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 500
	}
}

func (c SourceConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kind == "mock" {
		origin := gps.Fix{Latitude: c.MockLatitude, Longitude: c.MockLongitude}
		if !origin.Valid() {
			return fmt.Errorf("mock origin %v is out of range", origin)
		}
	}
	return nil
}

// NMEA converts the section for gps.NewNMEASource.
func (c SourceConfig) NMEA() gps.NMEAConfig {
	return gps.NMEAConfig{
		SerialPort:         c.SerialPort,
		BaudRate:           c.BaudRate,
		AcquisitionTimeout: time.Duration(c.AcquisitionTimeoutSeconds) * time.Second,
		PollInterval:       time.Duration(c.PollIntervalMS) * time.Millisecond,
	}
}

// DeviceConfig drives the bring-up phase.
type DeviceConfig struct {
	NTPServer        string `json:"ntp_server"`
	NTPTimeoutMS     int    `json:"ntp_timeout_ms" validate:"gte=0"`
	TrustSystemClock bool   `json:"trust_system_clock"`
	IndicatorPin     string `json:"indicator_pin"`
}

func (c *DeviceConfig) SetDefaults() {
	if c.NTPServer == "" {
		c.NTPServer = "pool.ntp.org"
	}
	if c.NTPTimeoutMS == 0 {
		c.NTPTimeoutMS = 5000
	}
}

func (c DeviceConfig) Validate() error { return validate.Struct(c) }

// Bringup converts the section for device.NewBringup.
func (c DeviceConfig) Bringup() device.BringupConfig {
	return device.BringupConfig{
		NTPServer:        c.NTPServer,
		NTPTimeout:       time.Duration(c.NTPTimeoutMS) * time.Millisecond,
		TrustSystemClock: c.TrustSystemClock,
		IndicatorPin:     c.IndicatorPin,
	}
}

// FixLogConfig locates the on-device fix log. An empty path disables it.
type FixLogConfig struct {
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes" validate:"gte=0"`
}

func (c *FixLogConfig) SetDefaults() {
	if c.MaxBytes == 0 {
		c.MaxBytes = 64 * 1024
	}
}

func (c FixLogConfig) Validate() error { return validate.Struct(c) }

// Enabled reports whether fixes should be persisted.
func (c FixLogConfig) Enabled() bool { return c.Path != "" }

// MetricsConfig exposes the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr" validate:"omitempty,hostname_port"`
}

func (c MetricsConfig) Validate() error { return validate.Struct(c) }

// InitGlobal loads the process-wide configuration once.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
