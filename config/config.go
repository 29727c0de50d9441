// Package config loads the inbox CLI configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/querysync/codec"
)

var (
	// ErrReadFailed is returned when the config file cannot be read.
	ErrReadFailed = zerr.New("failed to read config file")

	// ErrParseFailed is returned when the config file is not valid YAML or
	// names unknown fields.
	ErrParseFailed = zerr.New("failed to parse config file")

	// ErrInvalid is returned when a value is out of range.
	ErrInvalid = zerr.New("invalid config")
)

const DefaultTokenEnv = "INBOX_TOKEN"

// Cache providers.
const (
	ProviderNone      = "none"
	ProviderRistretto = "ristretto"
	ProviderBigcache  = "bigcache"
	ProviderRedis     = "redis"
)

// Log backends.
const (
	BackendSlog   = "slog"
	BackendZap    = "zap"
	BackendLogrus = "logrus"
)

type Config struct {
	API     API     `yaml:"api"`
	Query   Query   `yaml:"query"`
	Cache   Cache   `yaml:"cache"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

type API struct {
	BaseURL  string        `yaml:"base_url"`
	TokenEnv string        `yaml:"token_env"` // env var holding the bearer token
	Timeout  time.Duration `yaml:"timeout"`
	Format   string        `yaml:"format"` // json | cbor | msgpack
}

type Query struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleTime    time.Duration `yaml:"stale_time"`
	PageSize     int           `yaml:"page_size"`
}

// Cache configures the response cache in front of the API.
type Cache struct {
	Provider  string        `yaml:"provider"`
	Namespace string        `yaml:"namespace"`
	TTL       time.Duration `yaml:"ttl"`
	MaxBytes  int64         `yaml:"max_bytes"` // ristretto and bigcache
	Redis     Redis         `yaml:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Log struct {
	Backend string `yaml:"backend"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // text | json
}

type Metrics struct {
	Addr string `yaml:"addr"` // empty disables the metrics endpoint
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		API: API{
			BaseURL:  "http://localhost:5000/api",
			TokenEnv: DefaultTokenEnv,
			Timeout:  15 * time.Second,
			Format:   string(codec.FormatJSON),
		},
		Query: Query{
			PollInterval: 10 * time.Second,
			StaleTime:    5 * time.Second,
			PageSize:     10,
		},
		Cache: Cache{
			Provider:  ProviderNone,
			Namespace: "inbox",
			TTL:       time.Minute,
			MaxBytes:  64 << 20,
			Redis:     Redis{Addr: "localhost:6379"},
		},
		Log: Log{Backend: BackendSlog, Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	// #nosec G304 -- path comes from the --config flag
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, zerr.With(zerr.Wrap(ErrReadFailed, err.Error()), "path", path)
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, zerr.With(err, "path", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, zerr.Wrap(ErrParseFailed, err.Error())
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.API.Format = strings.ToLower(strings.TrimSpace(c.API.Format))
	c.Cache.Provider = strings.ToLower(strings.TrimSpace(c.Cache.Provider))
	c.Log.Backend = strings.ToLower(strings.TrimSpace(c.Log.Backend))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Cache.Provider == "" {
		c.Cache.Provider = ProviderNone
	}
	if c.API.TokenEnv == "" {
		c.API.TokenEnv = DefaultTokenEnv
	}
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("api.base_url", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return invalid("api.timeout", c.API.Timeout)
	}
	if _, err := codec.ParseFormat(c.API.Format); err != nil {
		return invalid("api.format", c.API.Format)
	}
	if c.Query.PollInterval < 0 {
		return invalid("query.poll_interval", c.Query.PollInterval)
	}
	if c.Query.StaleTime < 0 {
		return invalid("query.stale_time", c.Query.StaleTime)
	}
	if c.Query.PageSize <= 0 || c.Query.PageSize > 100 {
		return invalid("query.page_size", c.Query.PageSize)
	}
	switch c.Cache.Provider {
	case ProviderNone, ProviderRistretto, ProviderBigcache:
	case ProviderRedis:
		if c.Cache.Redis.Addr == "" {
			return invalid("cache.redis.addr", c.Cache.Redis.Addr)
		}
	default:
		return invalid("cache.provider", c.Cache.Provider)
	}
	if c.Cache.Provider != ProviderNone {
		if c.Cache.Namespace == "" {
			return invalid("cache.namespace", c.Cache.Namespace)
		}
		if c.Cache.TTL <= 0 {
			return invalid("cache.ttl", c.Cache.TTL)
		}
	}
	switch c.Log.Backend {
	case BackendSlog, BackendZap, BackendLogrus:
	default:
		return invalid("log.backend", c.Log.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format", c.Log.Format)
	}
	return nil
}

// Token returns the bearer token from the configured environment variable.
func (c Config) Token() string { return os.Getenv(c.API.TokenEnv) }

func invalid(field string, value any) error {
	return zerr.With(zerr.With(zerr.Wrap(ErrInvalid, field), "field", field), "value", value)
}
