/*
Package config loads server configuration.

PRECEDENCE (later wins):
  1. Defaults()
  2. YAML file (-config flag or DEAL_DESK_CONFIG)
  3. .env file, then process environment (DEAL_DESK_*)
  4. Command-line flags that were set explicitly

EXAMPLE YAML:
  port: 8080
  db: deal-desk.db
  log_level: info
  remote:
    base_url: http://calc.internal/api
    timeout: 15s
    rate_per_second: 20
    burst: 10
  jwt_secret: change-me
  page_size: 20
  draft_idle_ttl: 30m
  reaper_schedule: "@every 5m"
  cors_origins: ["http://localhost:5173"]
  time_zone: America/Lima
  rates: {PEN: 1, USD: 3.8}
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/deal-desk/deal"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DEAL_DESK_"

// RemoteConfig configures the calculation service client.
type RemoteConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

// Config is the full server configuration.
type Config struct {
	Port           int                `yaml:"port"`
	DBPath         string             `yaml:"db"`
	LogLevel       string             `yaml:"log_level"`
	Remote         RemoteConfig       `yaml:"remote"`
	JWTSecret      string             `yaml:"jwt_secret"`
	PageSize       int                `yaml:"page_size"`
	DraftIdleTTL   time.Duration      `yaml:"draft_idle_ttl"`
	ReaperSchedule string             `yaml:"reaper_schedule"`
	CORSOrigins    []string           `yaml:"cors_origins"`
	TimeZone       string             `yaml:"time_zone"`
	Rates          map[string]float64 `yaml:"rates"`
}

// Defaults returns a configuration suitable for local development.
func Defaults() Config {
	return Config{
		Port:     8080,
		DBPath:   "deal-desk.db",
		LogLevel: "info",
		Remote: RemoteConfig{
			BaseURL: "http://localhost:9000/api",
			Timeout: 15 * time.Second,
		},
		PageSize:       20,
		DraftIdleTTL:   30 * time.Minute,
		ReaperSchedule: "@every 5m",
		CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
		TimeZone:       "America/Lima",
		Rates:          map[string]float64{string(deal.CurrencyPEN): 1, string(deal.CurrencyUSD): 3.8},
	}
}

// Load builds the configuration from args (without the program name).
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("deal-desk", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	port := fs.Int("port", 0, "HTTP server port")
	dbPath := fs.String("db", "", "SQLite database path (\":memory:\" for in-memory)")
	configPath := fs.String("config", "", "YAML config file")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Defaults()

	path := *configPath
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "db":
			cfg.DBPath = *dbPath
		}
	})

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	num("PORT", &c.Port)
	str("DB", &c.DBPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("REMOTE_URL", &c.Remote.BaseURL)
	dur("REMOTE_TIMEOUT", &c.Remote.Timeout)
	num("REMOTE_BURST", &c.Remote.Burst)
	str("JWT_SECRET", &c.JWTSecret)
	num("PAGE_SIZE", &c.PageSize)
	dur("DRAFT_TTL", &c.DraftIdleTTL)
	str("REAPER_SCHEDULE", &c.ReaperSchedule)
	str("TIME_ZONE", &c.TimeZone)

	if v, ok := os.LookupEnv(envPrefix + "REMOTE_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREMOTE_RPS: %w", envPrefix, err))
		} else {
			c.Remote.RatePerSecond = f
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "CORS_ORIGINS"); ok {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		errs = append(errs, errors.New("remote base_url is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, fmt.Errorf("jwt secret is required (set %sJWT_SECRET)", envPrefix))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	if c.DraftIdleTTL <= 0 {
		errs = append(errs, fmt.Errorf("draft_idle_ttl must be positive, got %s", c.DraftIdleTTL))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	for cur := range c.Rates {
		if !deal.Currency(cur).Valid() {
			errs = append(errs, fmt.Errorf("rate for unsupported currency %q", cur))
		}
	}
	return errors.Join(errs...)
}

// Location resolves TimeZone; empty means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// EstimateRates converts the configured rates for client-side estimates.
func (c Config) EstimateRates() deal.Rates {
	out := make(deal.Rates, len(c.Rates))
	for cur, r := range c.Rates {
		out[deal.Currency(cur)] = decimal.NewFromFloat(r)
	}
	return out
}
