// Package config loads the bridge configuration and appservice registration files.
package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/wiggin77/matrix-appservice-bridge/server/matrix"
)

const (
	// DBTypeMongo selects the document backend
	DBTypeMongo = "mongodb"
	// DBTypeLevelDB selects the ordered-prefix backend
	DBTypeLevelDB = "leveldb"

	// EnvPrefix is prepended to every environment override, e.g. BRIDGE_DB_URL.
	EnvPrefix = "BRIDGE_"

	// DefaultBindAddress is used when bindAddress is not configured
	DefaultBindAddress = "0.0.0.0"
)

// Config is the bridge configuration file. The first block of fields is required;
// everything after DB is optional.
type Config struct {
	ServerURL       string   `yaml:"serverURL" env:"SERVER_URL"`
	PublicServerURL string   `yaml:"publicServerURL" env:"PUBLIC_SERVER_URL"`
	MatrixDomain    string   `yaml:"matrixDomain" env:"MATRIX_DOMAIN"`
	AppservicePort  int      `yaml:"appservicePort" env:"APPSERVICE_PORT"`
	DB              DBConfig `yaml:"db" envPrefix:"DB_"`

	BindAddress string                 `yaml:"bindAddress" env:"BIND_ADDRESS"`
	Workers     int                    `yaml:"workers" env:"WORKERS"`
	RateLimit   matrix.RateLimitConfig `yaml:"rateLimit"`
	Logging     *zeroconfig.Config     `yaml:"logging"`
}

// DBConfig selects and configures the Store backend.
type DBConfig struct {
	Type string `yaml:"type" env:"TYPE"`

	// mongodb
	URL      string `yaml:"url" env:"URL"`
	Database string `yaml:"database" env:"DATABASE"`

	// leveldb
	Directory   string `yaml:"directory" env:"DIRECTORY"`
	CacheSize   int    `yaml:"cacheSize" env:"CACHE_SIZE"`
	Compression bool   `yaml:"compression" env:"COMPRESSION"`
}

// ConfigError reports a missing or invalid configuration key.
//
//nolint:revive // ConfigError reads better than Error at call sites outside the package
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Key, e.Reason)
}

func missing(key string) error {
	return &ConfigError{Key: key, Reason: "is required"}
}

// Load reads, overrides from the environment, defaults and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration file")
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration file")
	}

	// The logging section is not overridable; keep env out of zeroconfig's writer slices.
	logging := cfg.Logging
	cfg.Logging = nil
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "failed to apply environment overrides")
	}
	cfg.Logging = logging

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = DefaultBindAddress
	}
	if c.Workers <= 0 {
		c.Workers = max(runtime.NumCPU(), 4)
	}
}

// Validate checks that required configuration fields are present. The first problem found
// is returned as a *ConfigError.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return missing("serverURL")
	}
	if err := checkHTTPURL("serverURL", c.ServerURL); err != nil {
		return err
	}
	if c.PublicServerURL == "" {
		return missing("publicServerURL")
	}
	if err := checkHTTPURL("publicServerURL", c.PublicServerURL); err != nil {
		return err
	}
	if c.MatrixDomain == "" {
		return missing("matrixDomain")
	}
	if c.AppservicePort <= 0 {
		return &ConfigError{Key: "appservicePort", Reason: "must be a positive integer"}
	}

	switch c.DB.Type {
	case "":
		return missing("db.type")
	case DBTypeMongo:
		if c.DB.URL == "" {
			return missing("db.url")
		}
		if c.DB.Database == "" {
			return missing("db.database")
		}
	case DBTypeLevelDB:
		if c.DB.Directory == "" {
			return missing("db.directory")
		}
		if c.DB.CacheSize <= 0 {
			return &ConfigError{Key: "db.cacheSize", Reason: "must be a positive integer"}
		}
	default:
		return &ConfigError{Key: "db.type", Reason: fmt.Sprintf("must be %q or %q, got %q", DBTypeMongo, DBTypeLevelDB, c.DB.Type)}
	}
	return nil
}

// checkHTTPURL requires an absolute http or https URL with a host.
func checkHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("is not a valid URL: %v", err)}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("must be an http(s) URL with a host, got %q", raw)}
	}
	return nil
}

// ListenAddress is the host:port the built-in appservice listener binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.AppservicePort)
}
