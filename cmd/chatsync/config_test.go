package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CHATSYNC_HOME", dir)
	configFile = ""
	t.Cleanup(func() { configFile = "" })
	return dir
}

// ============================================================================
// setConfigValue
// ============================================================================

func TestSetConfigValue(t *testing.T) {
	valid := []struct {
		key, value string
		check      func(*Config) bool
	}{
		{"server.url", "wss://chat.example.com/ws", func(c *Config) bool { return c.Server.URL == "wss://chat.example.com/ws" }},
		{"storage.driver", "sqlite", func(c *Config) bool { return c.Storage.Driver == "sqlite" }},
		{"storage.path", "/var/lib/chatsync.db", func(c *Config) bool { return c.Storage.Path == "/var/lib/chatsync.db" }},
		{"storage.redis_db", "3", func(c *Config) bool { return c.Storage.RedisDB == 3 }},
		{"reconnect.enabled", "false", func(c *Config) bool { return !c.Reconnect.Enabled }},
		{"reconnect.max_delay", "2m", func(c *Config) bool { return c.Reconnect.MaxDelay == "2m" }},
		{"log.level", "debug", func(c *Config) bool { return c.Log.Level == "debug" }},
		{"log.format", "json", func(c *Config) bool { return c.Log.Format == "json" }},
		{"metrics.addr", ":9090", func(c *Config) bool { return c.Metrics.Addr == ":9090" }},
	}
	for _, tt := range valid {
		t.Run(tt.key, func(t *testing.T) {
			cfg := defaultConfig(t.TempDir())
			require.NoError(t, setConfigValue(cfg, tt.key, tt.value))
			assert.True(t, tt.check(cfg))
		})
	}

	invalid := map[string][2]string{
		"no dot":          {"server", "x"},
		"unknown section": {"proxy.url", "x"},
		"unknown field":   {"server.port", "8080"},
		"bad driver":      {"storage.driver", "tape"},
		"bad redis db":    {"storage.redis_db", "zero"},
		"bad bool":        {"reconnect.enabled", "sometimes"},
		"bad duration":    {"reconnect.base_delay", "soon"},
		"bad level":       {"log.level", "loud"},
		"bad format":      {"log.format", "xml"},
	}
	for name, kv := range invalid {
		kv := kv
		t.Run(name, func(t *testing.T) {
			assert.Error(t, setConfigValue(defaultConfig(t.TempDir()), kv[0], kv[1]))
		})
	}
}

// ============================================================================
// Load / save / environment
// ============================================================================

func TestLoadConfigDefaults(t *testing.T) {
	dir := withTempHome(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(dir), cfg)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.Path)
}

func TestSaveAndLoadConfig(t *testing.T) {
	withTempHome(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.NoError(t, setConfigValue(cfg, "server.url", "ws://10.0.0.1:8080/ws"))
	require.NoError(t, setConfigValue(cfg, "storage.driver", "redis"))
	require.NoError(t, saveConfig(cfg))

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestExplicitConfigFile(t *testing.T) {
	withTempHome(t)
	path := filepath.Join(t.TempDir(), "alt.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nurl = \"ws://alt/ws\"\n"), 0o600))
	configFile = path

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ws://alt/ws", cfg.Server.URL)
	assert.True(t, cfg.Reconnect.Enabled, "unset keys keep their defaults")
}

func TestBrokenConfigFile(t *testing.T) {
	dir := withTempHome(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[server\n"), 0o600))
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHATSYNC_URL", "ws://env/ws")
	t.Setenv("CHATSYNC_STORAGE_DRIVER", "memory")
	t.Setenv("CHATSYNC_LOG_LEVEL", "")

	cfg := defaultConfig(t.TempDir())
	require.NoError(t, applyEnv(cfg))
	assert.Equal(t, "ws://env/ws", cfg.Server.URL)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "info", cfg.Log.Level, "empty variables are ignored")

	t.Setenv("CHATSYNC_STORAGE_DRIVER", "tape")
	assert.ErrorContains(t, applyEnv(cfg), "CHATSYNC_STORAGE_DRIVER")
}

// ============================================================================
// Conversion helpers
// ============================================================================

func TestEngineConfig(t *testing.T) {
	cfg := defaultConfig("/home/u/.chatsync")
	cfg.Reconnect.BaseDelay = "250ms"
	cfg.Reconnect.MaxDelay = "5s"

	ecfg, err := engineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", ecfg.URL)
	assert.True(t, ecfg.AutoReconnect)
	assert.Equal(t, 250*time.Millisecond, ecfg.Reconnect.BaseDelay)
	assert.Equal(t, 5*time.Second, ecfg.Reconnect.MaxDelay)
	assert.Equal(t, "file", ecfg.Storage.Driver)
	assert.Equal(t, "chatsync:", ecfg.Storage.KeyPrefix)

	cfg.Reconnect.MaxDelay = "later"
	_, err = engineConfig(cfg)
	assert.ErrorContains(t, err, "reconnect.max_delay")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "fallback", valueOrDefault("", "fallback"))
	assert.Equal(t, "set", valueOrDefault("set", "fallback"))
	assert.Equal(t, "89abcdef", shortID("01234567-89abcdef"))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "127.0.0.1:6379", storageLocation(ConfigStorage{Driver: "redis"}))
	assert.Equal(t, "(dsn configured)", storageLocation(ConfigStorage{Driver: "mysql", DSN: "secret"}))
	assert.Equal(t, "/data", storageLocation(ConfigStorage{Driver: "file", Path: "/data"}))
}

func TestConfigKeysAreSettable(t *testing.T) {
	samples := map[string]string{
		"storage.driver":       "sqlite",
		"storage.redis_db":     "1",
		"reconnect.enabled":    "true",
		"reconnect.base_delay": "1s",
		"reconnect.max_delay":  "30s",
		"log.level":            "info",
		"log.format":           "text",
	}
	for _, key := range configKeys {
		t.Run(key, func(t *testing.T) {
			value := valueOrDefault(samples[key], "x")
			assert.NoError(t, setConfigValue(defaultConfig(t.TempDir()), key, value))
		})
	}
}

func TestShadowingEnv(t *testing.T) {
	t.Setenv("CHATSYNC_URL", "")
	assert.Empty(t, shadowingEnv("server.url"))

	t.Setenv("CHATSYNC_URL", "ws://env/ws")
	assert.Equal(t, "CHATSYNC_URL", shadowingEnv("server.url"))
	assert.Empty(t, shadowingEnv("log.format"))
}
