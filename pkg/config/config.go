// Package config loads the proxy configuration: built-in defaults, an
// optional YAML file, then environment overrides, validated as a whole.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

const (
	// BackendMemory keeps the response cache in process.
	BackendMemory = "memory"

	// BackendRedis shares the response cache through Redis.
	BackendRedis = "redis"

	// DefaultFlushSchedule clears the whole cache every 4 hours.
	DefaultFlushSchedule = "0 */4 * * *"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Defaults QueryDefaults  `yaml:"defaults"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `yaml:"pretty"`
}

// UpstreamConfig holds the upstream base URLs and fetch policy.
type UpstreamConfig struct {
	CKANBaseURL    string        `yaml:"ckan_base_url" validate:"required,url"`
	RevenueBaseURL string        `yaml:"revenue_base_url" validate:"required,url"`
	ExpenseBaseURL string        `yaml:"expense_base_url" validate:"required,url"`
	UserAgent      string        `yaml:"user_agent" validate:"required"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=1"`
	BackoffStep    time.Duration `yaml:"backoff_step" validate:"min=0"`
}

// CacheConfig selects the cache backend and its expiry policy.
type CacheConfig struct {
	Backend        string    `yaml:"backend" validate:"oneof=memory redis"`
	RedisURL       string    `yaml:"redis_url" validate:"required_if=Backend redis"`
	RedisNamespace string    `yaml:"redis_namespace"`
	FlushSchedule  string    `yaml:"flush_schedule" validate:"required"`
	TTL            TTLPolicy `yaml:"ttl"`
}

// TTLPolicy is the cache lifetime per resource family.
type TTLPolicy struct {
	DatasetList     time.Duration `yaml:"dataset_list" validate:"gt=0"`
	DatasetDetail   time.Duration `yaml:"dataset_detail" validate:"gt=0"`
	Datastore       time.Duration `yaml:"datastore" validate:"gt=0"`
	Medications     time.Duration `yaml:"medications" validate:"gt=0"`
	Accidents       time.Duration `yaml:"accidents" validate:"gt=0"`
	CitizenRequests time.Duration `yaml:"citizen_requests" validate:"gt=0"`
	CompanyRegistry time.Duration `yaml:"company_registry" validate:"gt=0"`
	Revenue         time.Duration `yaml:"revenue" validate:"gt=0"`
	Expenses        time.Duration `yaml:"expenses" validate:"gt=0"`
	Search          time.Duration `yaml:"search" validate:"gt=0"`
}

// QueryDefaults are substituted for query parameters the caller omits.
type QueryDefaults struct {
	Year   int `yaml:"year" validate:"min=0"`
	Limit  int `yaml:"limit" validate:"min=0"`
	Offset int `yaml:"offset" validate:"min=0"`
	Rows   int `yaml:"rows" validate:"min=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Upstream: UpstreamConfig{
			CKANBaseURL:    "http://dados.recife.pe.gov.br/api/3",
			RevenueBaseURL: "https://portaldatransparencia.recife.pe.gov.br/dados/api/receitas",
			ExpenseBaseURL: "https://portaldatransparencia.recife.pe.gov.br/dados/api/despesas",
			UserAgent:      "VIGIA-Recife/2.0",
			Timeout:        10 * time.Second,
			MaxRetries:     3,
			BackoffStep:    time.Second,
		},
		Cache: CacheConfig{
			Backend:        BackendMemory,
			RedisNamespace: "",
			FlushSchedule:  DefaultFlushSchedule,
			TTL: TTLPolicy{
				DatasetList:     time.Hour,
				DatasetDetail:   30 * time.Minute,
				Datastore:       15 * time.Minute,
				Medications:     15 * time.Minute,
				Accidents:       15 * time.Minute,
				CitizenRequests: 15 * time.Minute,
				CompanyRegistry: time.Hour,
				Revenue:         30 * time.Minute,
				Expenses:        30 * time.Minute,
				Search:          30 * time.Minute,
			},
		},
		Defaults: QueryDefaults{
			Year:   2025,
			Limit:  100,
			Offset: 0,
			Rows:   20,
		},
	}
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration from defaults, the YAML file at path (when
// not empty) and the process environment.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path. Keys absent from the file keep
// their current value.
func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = file.Close() }()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode YAML config: %w", err)
	}

	return nil
}

// applyEnv applies the supported environment overrides.
func (c *Config) applyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("HOST"); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("LOG_PRETTY"); ok && v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_PRETTY %q: %w", v, err)
		}
		c.Log.Pretty = pretty
	}
	if v, ok := lookup("CACHE_BACKEND"); ok && v != "" {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.Cache.RedisURL = v
	}
	if v, ok := lookup("CACHE_FLUSH_SCHEDULE"); ok && v != "" {
		c.Cache.FlushSchedule = v
	}
	if v, ok := lookup("UPSTREAM_USER_AGENT"); ok && v != "" {
		c.Upstream.UserAgent = v
	}
	if v, ok := lookup("CKAN_BASE_URL"); ok && v != "" {
		c.Upstream.CKANBaseURL = v
	}

	return nil
}

// Validate checks struct constraints and the flush schedule syntax.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := cron.ParseStandard(c.Cache.FlushSchedule); err != nil {
		return fmt.Errorf("invalid configuration: flush_schedule %q: %w", c.Cache.FlushSchedule, err)
	}

	return nil
}
