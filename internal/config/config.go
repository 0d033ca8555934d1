// Package config assembles process settings from .env, the environment and
// an optional YAML file, in that order of precedence from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fleetroute/internal/cost"
	"fleetroute/internal/geo"
	"fleetroute/internal/logging"
	"fleetroute/internal/model"
)

type OSRM struct {
	URL     string
	Profile string
	RPS     float64
}

type Jobs struct {
	Max       int
	Retention time.Duration
}

type Webhooks struct {
	Secret      string
	MaxAttempts int
}

type Config struct {
	Port        string
	Log         logging.Config
	DatabaseURL string
	RedisURL    string
	OSRM        OSRM
	FuelPrice   float64
	Jobs        Jobs
	Webhooks    Webhooks
	File        string

	Optimizer model.OptimizerConfig
	Rates     cost.Rates
	Profiles  model.Profiles
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:      "8080",
		OSRM:      OSRM{Profile: "driving", RPS: 5},
		FuelPrice: cost.DefaultFuelPrice,
		Jobs:      Jobs{Max: 100, Retention: time.Hour},
		Webhooks:  Webhooks{MaxAttempts: 10},
		Optimizer: model.DefaultConfig(),
		Rates:     cost.DefaultRates(),
		Profiles:  model.DefaultProfiles(),
	}
}

// Load reads .env when present, then the environment, then CONFIG_FILE.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}
	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return Config{}, err
	}
	if cfg.File != "" {
		if err := cfg.ApplyFile(cfg.File); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// FromEnv builds a Config from getenv over Default.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("OSRM_URL", &cfg.OSRM.URL)
	str("OSRM_PROFILE", &cfg.OSRM.Profile)
	str("WEBHOOK_SECRET", &cfg.Webhooks.Secret)
	str("CONFIG_FILE", &cfg.File)

	var errs []error
	num := func(key string, dst *float64) {
		v := getenv(key)
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			errs = append(errs, fmt.Errorf("%s: want a positive number, got %q", key, v))
			return
		}
		*dst = f
	}
	integer := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s: want a positive integer, got %q", key, v))
			return
		}
		*dst = n
	}
	num("OSRM_RPS", &cfg.OSRM.RPS)
	num("FUEL_PRICE", &cfg.FuelPrice)
	integer("JOB_MAX", &cfg.Jobs.Max)
	integer("WEBHOOK_MAX_ATTEMPTS", &cfg.Webhooks.MaxAttempts)
	retention := 0
	integer("JOB_RETENTION_SEC", &retention)
	if retention > 0 {
		cfg.Jobs.Retention = time.Duration(retention) * time.Second
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// fileConfig is the YAML layout. Absent keys keep their current values.
type fileConfig struct {
	Optimizer       model.OptimizerConfig        `yaml:"optimizer"`
	Cost            cost.Rates                   `yaml:"cost"`
	FuelPrice       float64                      `yaml:"fuel_price"`
	VehicleProfiles map[int]model.VehicleProfile `yaml:"vehicle_profiles"`
}

// ApplyFile overlays the YAML file at path onto c.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return c.ApplyYAML(raw)
}

// ApplyYAML overlays a YAML document onto c and validates the optimizer
// defaults it produces.
func (c *Config) ApplyYAML(raw []byte) error {
	fc := fileConfig{Optimizer: c.Optimizer.Clone(), Cost: c.Rates, FuelPrice: c.FuelPrice}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := fc.Optimizer.Validate(); err != nil {
		return fmt.Errorf("config: optimizer: %w", err)
	}
	if _, err := geo.ParseClock(fc.Optimizer.ShiftStart); err != nil {
		return fmt.Errorf("config: optimizer: shift_start: %w", err)
	}
	profiles := make(model.Profiles, len(c.Profiles))
	for t, p := range c.Profiles {
		profiles[t] = p
	}
	for t, p := range fc.VehicleProfiles {
		if t < 0 || t >= 64 || p.Capacity <= 0 {
			return fmt.Errorf("config: vehicle_profiles[%d]: need a type in [0,64) and a positive capacity", t)
		}
		profiles[model.VehicleType(t)] = p
	}
	c.Optimizer = fc.Optimizer
	c.Rates = fc.Cost
	if fc.FuelPrice > 0 {
		c.FuelPrice = fc.FuelPrice
	}
	c.Profiles = profiles
	return nil
}
