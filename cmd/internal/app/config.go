package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/auth/session"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/backend"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/bridge"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/connectivity"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/progress"
)

// ErrConfig is returned for configuration that cannot start the agent.
var ErrConfig = errors.New("invalid config")

// ConfigPathEnv names the optional YAML config file.
const ConfigPathEnv = "LASSMUO_CONFIG"

// Config is the resolved agent configuration.
type Config struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration

	LogLevel  string
	LogFormat string

	BackendURL     string
	RequestTimeout time.Duration

	// StatePath is the bbolt file for persisted credentials; empty keeps them in memory.
	StatePath string

	ConflictBackoff time.Duration

	Session      session.Config
	Connectivity connectivity.Config
	Bridge       bridge.Config
}

// configFile mirrors the YAML schema. Durations are Go duration strings.
type configFile struct {
	HTTPAddr string `yaml:"http_addr"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Backend struct {
		URL            string `yaml:"url"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"backend"`
	State struct {
		Path string `yaml:"path"`
	} `yaml:"state"`
	Progress struct {
		ConflictBackoff string `yaml:"conflict_backoff"`
	} `yaml:"progress"`
	Session struct {
		Length   string `yaml:"length"`
		Warning  string `yaml:"warning"`
		Tick     string `yaml:"tick"`
		ClampJWT *bool  `yaml:"clamp_jwt"`
	} `yaml:"session"`
	Connectivity struct {
		Interval string `yaml:"interval"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"connectivity"`
	Bridge struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		OriginRequired *bool    `yaml:"origin_required"`
	} `yaml:"bridge"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:          "127.0.0.1:8765",
		ReadHeaderTimeout: 5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
		RequestTimeout:    backend.DefaultTimeout,
		ConflictBackoff:   progress.DefaultConflictBackoff,
		Session:           session.DefaultConfig(),
		Connectivity: connectivity.Config{
			Interval: connectivity.DefaultInterval,
			Timeout:  connectivity.DefaultTimeout,
		},
		Bridge: bridge.DefaultConfig(),
	}
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// path may be empty, in which case LASSMUO_CONFIG is consulted; a missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = EnvString(ConfigPathEnv, "")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
	}

	cfg.applyEnv()

	sess, err := session.ApplyEnv(cfg.Session)
	if err != nil {
		return Config{}, fmt.Errorf("%w: session: %v", ErrConfig, err)
	}
	cfg.Session = sess

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("%w: parse config file: %v", ErrConfig, err)
	}

	setString(&c.HTTPAddr, f.HTTPAddr)
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)
	setString(&c.BackendURL, f.Backend.URL)
	setString(&c.StatePath, f.State.Path)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.request_timeout", f.Backend.RequestTimeout, &c.RequestTimeout},
		{"progress.conflict_backoff", f.Progress.ConflictBackoff, &c.ConflictBackoff},
		{"session.length", f.Session.Length, &c.Session.Length},
		{"session.warning", f.Session.Warning, &c.Session.WarningThreshold},
		{"session.tick", f.Session.Tick, &c.Session.TickInterval},
		{"connectivity.interval", f.Connectivity.Interval, &c.Connectivity.Interval},
		{"connectivity.timeout", f.Connectivity.Timeout, &c.Connectivity.Timeout},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfig, d.name, err)
		}
		*d.dst = v
	}

	if f.Session.ClampJWT != nil {
		c.Session.ClampToJWT = *f.Session.ClampJWT
	}
	if len(f.Bridge.AllowedOrigins) > 0 {
		c.Bridge.AllowedOrigins = f.Bridge.AllowedOrigins
	}
	if f.Bridge.OriginRequired != nil {
		c.Bridge.OriginRequired = *f.Bridge.OriginRequired
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = EnvString("LASSMUO_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = EnvString("LASSMUO_LOG_LEVEL", c.LogLevel)
	c.LogFormat = EnvString("LASSMUO_LOG_FORMAT", c.LogFormat)
	c.BackendURL = EnvString("LASSMUO_BACKEND_URL", c.BackendURL)
	c.RequestTimeout = EnvDuration("LASSMUO_REQUEST_TIMEOUT", c.RequestTimeout)
	c.StatePath = EnvString("LASSMUO_STATE_PATH", c.StatePath)
	c.ConflictBackoff = EnvDuration("LASSMUO_CONFLICT_BACKOFF", c.ConflictBackoff)
	c.Connectivity.Interval = EnvDuration("LASSMUO_CONNECTIVITY_INTERVAL", c.Connectivity.Interval)
	c.Connectivity.Timeout = EnvDuration("LASSMUO_CONNECTIVITY_TIMEOUT", c.Connectivity.Timeout)
	c.Bridge.AllowedOrigins = EnvCSV("LASSMUO_BRIDGE_ALLOWED_ORIGINS", c.Bridge.AllowedOrigins)
	c.Bridge.OriginRequired = EnvBool("LASSMUO_BRIDGE_ORIGIN_REQUIRED", c.Bridge.OriginRequired)
}

// Validate reports ErrConfig for settings the agent cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("%w: LASSMUO_BACKEND_URL is required", ErrConfig)
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: http addr is empty", ErrConfig)
	}
	if c.RequestTimeout <= 0 || c.ConflictBackoff < 0 {
		return fmt.Errorf("%w: non-positive timeout", ErrConfig)
	}
	if c.Connectivity.Interval <= 0 || c.Connectivity.Timeout <= 0 {
		return fmt.Errorf("%w: connectivity interval/timeout must be positive", ErrConfig)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: session: %v", ErrConfig, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrConfig, c.LogFormat)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
