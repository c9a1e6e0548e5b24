// Package config loads the orbitlab configuration from YAML and ORBITLAB_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/trail"
)

const (
	DefaultAddr          = ":8080"
	DefaultTickRateHz    = 30
	DefaultSpeed         = 1.0
	DefaultTrailLength   = 100
	DefaultDurationHours = 12.0
	DefaultSampleCount   = 1200
	DefaultThresholdKm   = 10.0
	DefaultMaxSamples    = 500000
	DefaultTLEGroup      = "stations"
	DefaultTLECacheDir   = "/tmp/orbitlab/tle"
)

type Config struct {
	LogLevel   string           `yaml:"log_level"`
	HTTP       HTTPConfig       `yaml:"http"`
	Simulation SimulationConfig `yaml:"simulation"`
	Model      orbit.Params     `yaml:"model"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Stream     StreamConfig     `yaml:"stream"`
	TLE        TLEConfig        `yaml:"tle"`
	Auth       AuthConfig       `yaml:"auth"`
	Bodies     []BodySpec       `yaml:"bodies,omitempty"`
}

type HTTPConfig struct {
	Addr       string `yaml:"addr"`
	TrustProxy bool   `yaml:"trust_proxy"`
}

// SimulationConfig configures the session clock and host loop. A zero
// Epoch means the wall time at session start.
type SimulationConfig struct {
	TickRateHz  int       `yaml:"tick_rate_hz"`
	Speed       float64   `yaml:"speed"`
	TrailLength int       `yaml:"trail_length"`
	Epoch       time.Time `yaml:"epoch,omitempty"`
}

type AnalysisConfig struct {
	DurationHours float64       `yaml:"duration_hours"`
	SampleCount   int           `yaml:"sample_count"`
	ThresholdKm   float64       `yaml:"threshold_km"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxSamples    int           `yaml:"max_samples"`
	Workers       int           `yaml:"workers"`
}

type StreamConfig struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"`
	BandwidthLimit     int           `yaml:"bandwidth_limit"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
}

type TLEConfig struct {
	EnableFetch bool          `yaml:"enable_fetch"`
	BaseURL     string        `yaml:"base_url"`
	Group       string        `yaml:"group"`
	CacheDir    string        `yaml:"cache_dir"`
	MaxFiles    int           `yaml:"max_files"`
	MaxAge      time.Duration `yaml:"max_age"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token,omitempty"`
}

// BodySpec is a body registered at startup, either a named preset or an
// inline orbital configuration.
type BodySpec struct {
	Preset       string `yaml:"preset,omitempty"`
	orbit.Config `yaml:",inline"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "debug",
		HTTP:     HTTPConfig{Addr: DefaultAddr},
		Simulation: SimulationConfig{
			TickRateHz:  DefaultTickRateHz,
			Speed:       DefaultSpeed,
			TrailLength: DefaultTrailLength,
		},
		Model: orbit.DefaultParams(),
		Analysis: AnalysisConfig{
			DurationHours: DefaultDurationHours,
			SampleCount:   DefaultSampleCount,
			ThresholdKm:   DefaultThresholdKm,
			Timeout:       30 * time.Second,
			MaxSamples:    DefaultMaxSamples,
			Workers:       runtime.NumCPU(),
		},
		Stream: StreamConfig{
			MaxConcurrentPerIP: 10,
			BandwidthLimit:     1048576,
			KeepaliveInterval:  30 * time.Second,
		},
		TLE: TLEConfig{
			EnableFetch: true,
			Group:       DefaultTLEGroup,
			CacheDir:    DefaultTLECacheDir,
			MaxFiles:    5,
			MaxAge:      24 * time.Hour,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Simulation.TickRateHz < 1 || c.Simulation.TickRateHz > 240 {
		errs = append(errs, fmt.Errorf("simulation.tick_rate_hz must be in [1, 240], got %d", c.Simulation.TickRateHz))
	}
	if !(c.Simulation.Speed > 0) {
		errs = append(errs, fmt.Errorf("simulation.speed must be positive, got %v", c.Simulation.Speed))
	}
	if c.Model.EarthRadiusKm <= 0 || c.Model.MinAltitudeKm <= 0 || c.Model.MaxAltitudeKm < c.Model.MinAltitudeKm {
		errs = append(errs, errors.New("model: earth radius and altitude clamp must be positive and ordered"))
	}
	if c.Analysis.Timeout <= 0 {
		errs = append(errs, errors.New("analysis.timeout must be positive"))
	}
	if c.TLE.EnableFetch && c.TLE.MaxAge < time.Minute {
		errs = append(errs, fmt.Errorf("tle.max_age must be at least 1m when fetching is enabled, got %v", c.TLE.MaxAge))
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		errs = append(errs, errors.New("auth.token is required when auth is enabled"))
	}
	for i, b := range c.Bodies {
		if b.Preset == "" && b.ID == "" {
			errs = append(errs, fmt.Errorf("bodies[%d]: preset or id is required", i))
		}
	}
	return errors.Join(errs...)
}

// TrailLength returns the configured trail length clamped to the buffer limit.
func (c *Config) TrailLength() int {
	return trail.Clamp(c.Simulation.TrailLength)
}

// TickInterval is the host loop cadence.
func (c *Config) TickInterval() time.Duration {
	if c.Simulation.TickRateHz <= 0 {
		return time.Second / DefaultTickRateHz
	}
	return time.Second / time.Duration(c.Simulation.TickRateHz)
}

// ApplyEnv overrides fields from ORBITLAB_* variables. Invalid values are
// logged and ignored.
func (c *Config) ApplyEnv(logger *slog.Logger) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	posInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
			return
		}
		*dst = n
	}
	posFloat := func(key string, dst *float64) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !(f > 0) {
			logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
			return
		}
		*dst = f
	}
	seconds := func(key string, dst *time.Duration) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		d, err := parseSeconds(v)
		if err != nil {
			logger.Warn("invalid "+key+" value, using default", "value", v, "default", dst.String())
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
			return
		}
		*dst = b
	}

	str("ORBITLAB_LOG_LEVEL", &c.LogLevel)
	str("ORBITLAB_HTTP_ADDR", &c.HTTP.Addr)
	boolean("ORBITLAB_TRUST_PROXY", &c.HTTP.TrustProxy)

	posInt("ORBITLAB_TICK_RATE", &c.Simulation.TickRateHz)
	posFloat("ORBITLAB_SPEED", &c.Simulation.Speed)
	if v, ok := os.LookupEnv("ORBITLAB_TRAIL_LENGTH"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			logger.Warn("invalid ORBITLAB_TRAIL_LENGTH value, using default", "value", v, "default", c.Simulation.TrailLength)
		} else {
			c.Simulation.TrailLength = n
		}
	}
	if v, ok := os.LookupEnv("ORBITLAB_EPOCH"); ok && v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			logger.Warn("invalid ORBITLAB_EPOCH value, using session start", "value", v)
		} else {
			c.Simulation.Epoch = t.UTC()
		}
	}

	posFloat("ORBITLAB_ANALYSIS_DURATION_HOURS", &c.Analysis.DurationHours)
	posInt("ORBITLAB_ANALYSIS_SAMPLES", &c.Analysis.SampleCount)
	posFloat("ORBITLAB_ANALYSIS_THRESHOLD_KM", &c.Analysis.ThresholdKm)
	seconds("ORBITLAB_ANALYSIS_TIMEOUT", &c.Analysis.Timeout)
	posInt("ORBITLAB_ANALYSIS_MAX_SAMPLES", &c.Analysis.MaxSamples)
	posInt("ORBITLAB_ANALYSIS_WORKERS", &c.Analysis.Workers)

	posInt("ORBITLAB_STREAM_MAX_CONCURRENT", &c.Stream.MaxConcurrentPerIP)
	posInt("ORBITLAB_STREAM_BANDWIDTH_LIMIT", &c.Stream.BandwidthLimit)
	seconds("ORBITLAB_STREAM_KEEPALIVE_INTERVAL", &c.Stream.KeepaliveInterval)

	boolean("ORBITLAB_ENABLE_TLE_FETCH", &c.TLE.EnableFetch)
	str("ORBITLAB_TLE_BASE_URL", &c.TLE.BaseURL)
	str("ORBITLAB_TLE_GROUP", &c.TLE.Group)
	str("ORBITLAB_TLE_CACHE_DIR", &c.TLE.CacheDir)
	seconds("ORBITLAB_TLE_MAX_AGE", &c.TLE.MaxAge)

	boolean("ORBITLAB_AUTH_ENABLED", &c.Auth.Enabled)
	str("ORBITLAB_AUTH_TOKEN", &c.Auth.Token)
}

// parseSeconds accepts either a bare number of seconds or a Go duration.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("must be positive")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// ParseLevel maps a level name to slog. Unknown names return Debug.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelDebug
	}
	return l
}
