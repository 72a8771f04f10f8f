package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines the runtime configuration of the session lifecycle.
type Config struct {
	// Length is how far Refresh (and login) push the expiry from now.
	Length time.Duration

	// WarningThreshold is the remaining time at or below which a warning is surfaced.
	WarningThreshold time.Duration

	// TickInterval is the period of the lifecycle re-evaluation.
	TickInterval time.Duration

	// ClampToJWT caps the derived expiry at the token's own "exp" claim when the
	// bearer is a JWT.
	ClampToJWT bool
}

// DefaultConfig returns the default lifecycle settings.
func DefaultConfig() Config {
	return Config{
		Length:           24 * time.Hour,
		WarningThreshold: 5 * time.Minute,
		TickInterval:     30 * time.Second,
		ClampToJWT:       true,
	}
}

// Validate reports ErrConfig when the settings cannot produce a sane lifecycle.
func (c Config) Validate() error {
	if c.Length <= 0 || c.WarningThreshold < 0 || c.TickInterval <= 0 {
		return ErrConfig
	}
	if c.WarningThreshold >= c.Length {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - LASSMUO_SESSION_LENGTH
//   - LASSMUO_SESSION_WARNING
//   - LASSMUO_SESSION_TICK
//   - LASSMUO_SESSION_CLAMP_JWT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	return ApplyEnv(DefaultConfig())
}

// ApplyEnv overlays the LASSMUO_SESSION_* variables on base and validates the result.
func ApplyEnv(base Config) (Config, error) {
	cfg := base

	if v := os.Getenv("LASSMUO_SESSION_LENGTH"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.Length = d
	}

	if v := os.Getenv("LASSMUO_SESSION_WARNING"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.WarningThreshold = d
	}

	if v := os.Getenv("LASSMUO_SESSION_TICK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TickInterval = d
	}

	if v := os.Getenv("LASSMUO_SESSION_CLAMP_JWT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.ClampToJWT = b
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
