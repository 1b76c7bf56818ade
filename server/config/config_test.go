package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const levelDBConfig = `
serverURL: http://localhost:8008
publicServerURL: https://matrix.example.com
matrixDomain: example.com
appservicePort: 9000
db:
  type: leveldb
  directory: /var/lib/bridge
  cacheSize: 8
  compression: true
`

const mongoConfig = `
serverURL: http://localhost:8008
publicServerURL: https://matrix.example.com
matrixDomain: example.com
appservicePort: 9000
db:
  type: mongodb
  url: mongodb://localhost:27017
  database: bridge
`

func TestParse(t *testing.T) {
	t.Run("LevelDB", func(t *testing.T) {
		cfg, err := Parse([]byte(levelDBConfig))
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:8008", cfg.ServerURL)
		assert.Equal(t, "https://matrix.example.com", cfg.PublicServerURL)
		assert.Equal(t, "example.com", cfg.MatrixDomain)
		assert.Equal(t, 9000, cfg.AppservicePort)
		assert.Equal(t, DBTypeLevelDB, cfg.DB.Type)
		assert.Equal(t, "/var/lib/bridge", cfg.DB.Directory)
		assert.Equal(t, 8, cfg.DB.CacheSize)
		assert.True(t, cfg.DB.Compression)
	})

	t.Run("MongoDB", func(t *testing.T) {
		cfg, err := Parse([]byte(mongoConfig))
		require.NoError(t, err)

		assert.Equal(t, DBTypeMongo, cfg.DB.Type)
		assert.Equal(t, "mongodb://localhost:27017", cfg.DB.URL)
		assert.Equal(t, "bridge", cfg.DB.Database)
	})

	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Parse([]byte(levelDBConfig))
		require.NoError(t, err)

		assert.Equal(t, DefaultBindAddress, cfg.BindAddress)
		assert.Equal(t, max(runtime.NumCPU(), 4), cfg.Workers)
		assert.False(t, cfg.RateLimit.Enabled)
		assert.Nil(t, cfg.Logging)
		assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddress())
	})

	t.Run("OptionalSections", func(t *testing.T) {
		doc := levelDBConfig + `
workers: 3
rateLimit:
  enabled: true
  messages:
    rate: 0.5
    burstSize: 4
  invites:
    interval: 2s
  roomCreation:
    rate: 2
    burstSize: 1
logging:
  min_level: debug
  writers:
    - type: stdout
      format: json
`
		cfg, err := Parse([]byte(doc))
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.Workers)
		assert.True(t, cfg.RateLimit.Enabled)
		assert.Equal(t, 0.5, cfg.RateLimit.Messages.Rate)
		assert.Equal(t, 4, cfg.RateLimit.Messages.BurstSize)
		assert.Equal(t, 2*time.Second, cfg.RateLimit.Invites.Interval)
		assert.Equal(t, 2.0, cfg.RateLimit.RoomCreation.Rate)
		assert.Equal(t, 1, cfg.RateLimit.RoomCreation.BurstSize)
		require.NotNil(t, cfg.Logging)
		assert.Len(t, cfg.Logging.Writers, 1)
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		_, err := Parse([]byte("serverURL: [unterminated"))
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ServerURL:       "http://localhost:8008",
			PublicServerURL: "https://matrix.example.com",
			MatrixDomain:    "example.com",
			AppservicePort:  9000,
			DB: DBConfig{
				Type:      DBTypeLevelDB,
				Directory: "/tmp/db",
				CacheSize: 8,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		key    string
	}{
		{name: "missing serverURL", mutate: func(c *Config) { c.ServerURL = "" }, key: "serverURL"},
		{name: "serverURL without scheme", mutate: func(c *Config) { c.ServerURL = "localhost:8008" }, key: "serverURL"},
		{name: "serverURL without host", mutate: func(c *Config) { c.ServerURL = "http://" }, key: "serverURL"},
		{name: "unparseable publicServerURL", mutate: func(c *Config) { c.PublicServerURL = "https://[::1" }, key: "publicServerURL"},
		{name: "missing publicServerURL", mutate: func(c *Config) { c.PublicServerURL = "" }, key: "publicServerURL"},
		{name: "missing matrixDomain", mutate: func(c *Config) { c.MatrixDomain = "" }, key: "matrixDomain"},
		{name: "zero appservicePort", mutate: func(c *Config) { c.AppservicePort = 0 }, key: "appservicePort"},
		{name: "negative appservicePort", mutate: func(c *Config) { c.AppservicePort = -1 }, key: "appservicePort"},
		{name: "missing db.type", mutate: func(c *Config) { c.DB.Type = "" }, key: "db.type"},
		{name: "unknown db.type", mutate: func(c *Config) { c.DB.Type = "sqlite" }, key: "db.type"},
		{name: "missing leveldb directory", mutate: func(c *Config) { c.DB.Directory = "" }, key: "db.directory"},
		{name: "zero leveldb cacheSize", mutate: func(c *Config) { c.DB.CacheSize = 0 }, key: "db.cacheSize"},
		{name: "missing mongodb url", mutate: func(c *Config) { c.DB = DBConfig{Type: DBTypeMongo, Database: "bridge"} }, key: "db.url"},
		{name: "missing mongodb database", mutate: func(c *Config) { c.DB = DBConfig{Type: DBTypeMongo, URL: "mongodb://x"} }, key: "db.database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})
}

func TestParseMissingKeysFromFile(t *testing.T) {
	doc := `
serverURL: http://localhost:8008
publicServerURL: https://matrix.example.com
matrixDomain: example.com
appservicePort: 9000
db:
  directory: /tmp/db
  cacheSize: 8
`
	_, err := Parse([]byte(doc))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "db.type", cfgErr.Key)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BRIDGE_SERVER_URL", "http://synapse:8008")
	t.Setenv("BRIDGE_DB_CACHE_SIZE", "64")

	cfg, err := Parse([]byte(levelDBConfig))
	require.NoError(t, err)

	assert.Equal(t, "http://synapse:8008", cfg.ServerURL)
	assert.Equal(t, 64, cfg.DB.CacheSize)
	assert.Equal(t, "example.com", cfg.MatrixDomain, "keys without overrides keep their file value")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mongoConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DBTypeMongo, cfg.DB.Type)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestParseRegistration(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		doc := `
id: example-bridge
url: http://localhost:9000
as_token: as_secret
hs_token: hs_secret
sender_localpart: examplebot
namespaces:
  users:
    - exclusive: true
      regex: "@example_.*"
`
		reg, err := ParseRegistration([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "as_secret", reg.ASToken)
		assert.Equal(t, "hs_secret", reg.HSToken)
		assert.Equal(t, "examplebot", reg.SenderLocalpart)
		assert.Equal(t, "example-bridge", reg.ID)
	})

	t.Run("missing as_token", func(t *testing.T) {
		_, err := ParseRegistration([]byte("sender_localpart: bot\n"))
		var cfgErr *ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "as_token", cfgErr.Key)
	})

	t.Run("missing sender_localpart", func(t *testing.T) {
		_, err := ParseRegistration([]byte("as_token: x\n"))
		var cfgErr *ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "sender_localpart", cfgErr.Key)
	})
}
