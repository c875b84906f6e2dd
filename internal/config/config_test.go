package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 5555, c.Port)
	assert.Equal(t, FramingLine, c.Framing)
	assert.Equal(t, 1024, c.MaxFrameSize)
	assert.Equal(t, 50, c.HistoryLimit)
	assert.Equal(t, 100*time.Millisecond, c.HistoryPace)
	assert.Equal(t, DriverMongo, c.Store.Driver)
	assert.Equal(t, "mongodb://localhost:27017/", c.Store.URI)
	assert.Equal(t, "chat_db", c.Store.Database)
	assert.Equal(t, 256, c.Store.QueueSize)
	assert.Equal(t, "0.0.0.0:5555", c.Addr())
	assert.NoError(t, c.Validate())
}

func TestLoad_NoArgs(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 5555, c.Port)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 6000
framing: legacy
history_pace: 5ms
store:
  driver: redis
  uri: redis://localhost:6379/0
  retention: 500
`), 0o600))

	t.Setenv("CHAT_PORT", "7000")
	t.Setenv("CHAT_STORE_TIMEOUT", "3s")

	c, err := Load([]string{"-config", path, "-host", "127.0.0.1", "-history", "10"})
	require.NoError(t, err)

	// flags win over env, env over file, file over defaults
	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, 7000, c.Port)
	assert.Equal(t, 10, c.HistoryLimit)
	assert.Equal(t, FramingLegacy, c.Framing)
	assert.Equal(t, 5*time.Millisecond, c.HistoryPace)
	assert.Equal(t, DriverRedis, c.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", c.Store.URI)
	assert.Equal(t, 500, c.Store.Retention)
	assert.Equal(t, 3*time.Second, c.Store.Timeout)
	// untouched keys keep defaults
	assert.Equal(t, 1024, c.MaxFrameSize)
	assert.Equal(t, "chat_db", c.Store.Database)
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	t.Setenv("CHAT_PORT", "7000")
	c, err := Load([]string{"-port=7100"})
	require.NoError(t, err)
	assert.Equal(t, 7100, c.Port)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load([]string{"-c", filepath.Join(t.TempDir(), "nope.yaml")})
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: [nope"), 0o600))
		_, err := Load([]string{"-config=" + path})
		assert.Error(t, err)
	})

	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("CHAT_HISTORY_LIMIT", "many")
		_, err := Load(nil)
		assert.Error(t, err)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := Load([]string{"-bogus"})
		assert.Error(t, err)
	})

	t.Run("invalid driver", func(t *testing.T) {
		_, err := Load([]string{"-store", "sqlite"})
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"framing", func(c *Config) { c.Framing = "length" }},
		{"frame size", func(c *Config) { c.MaxFrameSize = 0 }},
		{"history", func(c *Config) { c.HistoryLimit = -1 }},
		{"uri", func(c *Config) { c.Store.URI = "" }},
		{"queue", func(c *Config) { c.Store.QueueSize = 0 }},
		{"window", func(c *Config) { c.ConnLimit = 3; c.ConnWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	var c Config
	c.LoadDefaults()
	c.Store.Driver = DriverMemory
	c.Store.URI = ""
	assert.NoError(t, c.Validate(), "memory driver needs no uri")
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "", configPath(nil))
	assert.Equal(t, "a.yaml", configPath([]string{"-port", "1", "-config", "a.yaml"}))
	assert.Equal(t, "b.yaml", configPath([]string{"--config=b.yaml"}))
	assert.Equal(t, "c.yaml", configPath([]string{"-c", "c.yaml"}))
}
