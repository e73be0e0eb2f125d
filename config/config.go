// Package config defines sessionkit configuration, its defaults, and the
// Viper-backed loader used by the CLI.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vinayprograms/sessionkit/session"
)

// Policy bounds in minutes.
const (
	MinTimeoutMinutes     = 1
	MaxTimeoutMinutes     = 480
	DefaultTimeoutMinutes = 30
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	API        APIConfig        `mapstructure:"api" toml:"api"`
	Session    SessionConfig    `mapstructure:"session" toml:"session"`
	Policy     PolicyConfig     `mapstructure:"policy" toml:"policy"`
	Activity   ActivityConfig   `mapstructure:"activity" toml:"activity"`
	Inactivity InactivityConfig `mapstructure:"inactivity" toml:"inactivity"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat" toml:"heartbeat"`
	Store      StoreConfig      `mapstructure:"store" toml:"store"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" toml:"telemetry"`
}

// APIConfig configures the backend client.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" toml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" toml:"timeout"`
}

// SessionConfig configures routes and tracked roles.
type SessionConfig struct {
	PublicRoutes    []string `mapstructure:"public_routes" toml:"public_routes"`
	AdminLoginRoute string   `mapstructure:"admin_login_route" toml:"admin_login_route"`
	LandingRoute    string   `mapstructure:"landing_route" toml:"landing_route"`
	TrackStandard   bool     `mapstructure:"track_standard" toml:"track_standard"`
}

// PolicyConfig configures the timeout policy source.
type PolicyConfig struct {
	DefaultMinutes  int           `mapstructure:"default_minutes" toml:"default_minutes"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" toml:"refresh_interval"`
}

// ActivityConfig configures input collection.
type ActivityConfig struct {
	Throttle time.Duration `mapstructure:"throttle" toml:"throttle"`
}

// InactivityConfig configures the inactivity monitor.
type InactivityConfig struct {
	RearmCoalesce time.Duration `mapstructure:"rearm_coalesce" toml:"rearm_coalesce"`
}

// HeartbeatConfig configures presence reporting.
type HeartbeatConfig struct {
	Interval     time.Duration `mapstructure:"interval" toml:"interval"`
	OfflineAfter time.Duration `mapstructure:"offline_after" toml:"offline_after"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" toml:"backend"`
	NATSURL string `mapstructure:"nats_url" toml:"nats_url"`
	Bucket  string `mapstructure:"bucket" toml:"bucket"`
}

// TelemetryConfig configures OTLP trace export. Tracing is off when
// Endpoint is empty.
type TelemetryConfig struct {
	Endpoint string `mapstructure:"endpoint" toml:"endpoint"`
	Protocol string `mapstructure:"protocol" toml:"protocol"`
	Insecure bool   `mapstructure:"insecure" toml:"insecure"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Telemetry export protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000/api/",
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			PublicRoutes:    append([]string(nil), session.DefaultPublicRoutes...),
			AdminLoginRoute: session.AdminLoginRoute,
			LandingRoute:    session.LandingRoute,
		},
		Policy: PolicyConfig{
			DefaultMinutes:  DefaultTimeoutMinutes,
			RefreshInterval: 2 * time.Minute,
		},
		Activity: ActivityConfig{
			Throttle: time.Second,
		},
		Inactivity: InactivityConfig{
			RearmCoalesce: 2 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval:     5 * time.Second,
			OfflineAfter: 15 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			NATSURL: "nats://127.0.0.1:4222",
			Bucket:  "sessionkit",
		},
		Telemetry: TelemetryConfig{
			Protocol: ProtocolGRPC,
		},
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	var problems []string

	if c.Policy.DefaultMinutes < MinTimeoutMinutes || c.Policy.DefaultMinutes > MaxTimeoutMinutes {
		problems = append(problems, fmt.Sprintf("policy.default_minutes %d outside [%d,%d]",
			c.Policy.DefaultMinutes, MinTimeoutMinutes, MaxTimeoutMinutes))
	}
	if c.Policy.RefreshInterval <= 0 {
		problems = append(problems, "policy.refresh_interval must be positive")
	}
	if c.Heartbeat.Interval <= 0 {
		problems = append(problems, "heartbeat.interval must be positive")
	}
	if c.Heartbeat.Interval >= c.Heartbeat.OfflineAfter {
		problems = append(problems, fmt.Sprintf("heartbeat.interval %s must be shorter than heartbeat.offline_after %s",
			c.Heartbeat.Interval, c.Heartbeat.OfflineAfter))
	}
	if c.Activity.Throttle < 0 || c.Inactivity.RearmCoalesce < 0 {
		problems = append(problems, "throttle and rearm_coalesce must not be negative")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.Store.NATSURL == "" {
			problems = append(problems, "store.nats_url required for nats backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store.backend %q", c.Store.Backend))
	}
	switch c.Telemetry.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		problems = append(problems, fmt.Sprintf("unknown telemetry.protocol %q", c.Telemetry.Protocol))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// PublicRoutes returns the configured public route set.
func (c Config) PublicRoutes() session.RouteSet {
	return session.NewRouteSet(c.Session.PublicRoutes...)
}

// Loader wraps Viper configuration loading.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader initializes a Loader with every default registered, so each key
// can be overridden through SESSIONKIT_* environment variables.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("SESSIONKIT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("sessionkit")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/sessionkit")

	setDefaults(v, Default())
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("session.public_routes", d.Session.PublicRoutes)
	v.SetDefault("session.admin_login_route", d.Session.AdminLoginRoute)
	v.SetDefault("session.landing_route", d.Session.LandingRoute)
	v.SetDefault("session.track_standard", d.Session.TrackStandard)
	v.SetDefault("policy.default_minutes", d.Policy.DefaultMinutes)
	v.SetDefault("policy.refresh_interval", d.Policy.RefreshInterval)
	v.SetDefault("activity.throttle", d.Activity.Throttle)
	v.SetDefault("inactivity.rearm_coalesce", d.Inactivity.RearmCoalesce)
	v.SetDefault("heartbeat.interval", d.Heartbeat.Interval)
	v.SetDefault("heartbeat.offline_after", d.Heartbeat.OfflineAfter)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.nats_url", d.Store.NATSURL)
	v.SetDefault("store.bucket", d.Store.Bucket)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.protocol", d.Telemetry.Protocol)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
}

// Viper exposes the underlying Viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = strings.TrimSpace(path)
}

// ReadInConfig reads configuration from file if available.
func (l *Loader) ReadInConfig() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// Load reads configuration, unmarshals it, and validates the result.
func (l *Loader) Load() (Config, error) {
	if err := l.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
