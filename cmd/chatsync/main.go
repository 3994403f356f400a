package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.chatsync/config.toml.
type Config struct {
	Server    ConfigServer    `toml:"server"`
	Storage   ConfigStorage   `toml:"storage"`
	Reconnect ConfigReconnect `toml:"reconnect"`
	Log       ConfigLog       `toml:"log"`
	Metrics   ConfigMetrics   `toml:"metrics"`
}

// ConfigServer holds the websocket endpoint.
type ConfigServer struct {
	URL string `toml:"url"`
}

// ConfigStorage selects the durable backend.
type ConfigStorage struct {
	Driver        string `toml:"driver"`
	Path          string `toml:"path"`
	DSN           string `toml:"dsn"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// ConfigReconnect holds the reconnect policy. Delays use time.ParseDuration syntax.
type ConfigReconnect struct {
	Enabled   bool   `toml:"enabled"`
	BaseDelay string `toml:"base_delay"`
	MaxDelay  string `toml:"max_delay"`
}

// ConfigLog holds logging settings.
type ConfigLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ConfigMetrics holds the prometheus listener address.
type ConfigMetrics struct {
	Addr string `toml:"addr"`
}

func defaultConfig(dir string) *Config {
	return &Config{
		Server:    ConfigServer{URL: "ws://localhost:8080/ws"},
		Storage:   ConfigStorage{Driver: "file", Path: filepath.Join(dir, "data")},
		Reconnect: ConfigReconnect{Enabled: true, BaseDelay: "1s", MaxDelay: "30s"},
		Log:       ConfigLog{Level: "info", Format: "text"},
	}
}

// ============================================================================
// Config helpers
// ============================================================================

var configFile string

// configDir returns the path to ~/.chatsync (or $CHATSYNC_HOME), creating it if needed.
func configDir() (string, error) {
	dir := os.Getenv("CHATSYNC_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".chatsync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file on top of the defaults.
// A missing file yields the defaults.
func loadConfig() (*Config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg := defaultConfig(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// envOverrides maps environment variables to config keys.
var envOverrides = []struct{ env, key string }{
	{"CHATSYNC_URL", "server.url"},
	{"CHATSYNC_STORAGE_DRIVER", "storage.driver"},
	{"CHATSYNC_STORAGE_PATH", "storage.path"},
	{"CHATSYNC_STORAGE_DSN", "storage.dsn"},
	{"CHATSYNC_REDIS_ADDR", "storage.redis_addr"},
	{"CHATSYNC_LOG_LEVEL", "log.level"},
}

// applyEnv overlays environment variables on cfg.
func applyEnv(cfg *Config) error {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			if err := setConfigValue(cfg, o.key, v); err != nil {
				return fmt.Errorf("%s: %w", o.env, err)
			}
		}
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "server.url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "server":
		switch field {
		case "url":
			cfg.Server.URL = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "storage":
		switch field {
		case "driver":
			switch value {
			case "memory", "file", "sqlite", "mysql", "redis":
			default:
				return fmt.Errorf("unknown storage driver %q (valid: memory, file, sqlite, mysql, redis)", value)
			}
			cfg.Storage.Driver = value
		case "path":
			cfg.Storage.Path = value
		case "dsn":
			cfg.Storage.DSN = value
		case "redis_addr":
			cfg.Storage.RedisAddr = value
		case "redis_password":
			cfg.Storage.RedisPassword = value
		case "redis_db":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("redis_db must be an integer: %w", err)
			}
			cfg.Storage.RedisDB = n
		default:
			return fmt.Errorf("unknown field %q in section [storage]", field)
		}
	case "reconnect":
		switch field {
		case "enabled":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("enabled must be true or false: %w", err)
			}
			cfg.Reconnect.Enabled = b
		case "base_delay", "max_delay":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("%s must be a duration such as 1s: %w", field, err)
			}
			if field == "base_delay" {
				cfg.Reconnect.BaseDelay = value
			} else {
				cfg.Reconnect.MaxDelay = value
			}
		default:
			return fmt.Errorf("unknown field %q in section [reconnect]", field)
		}
	case "log":
		switch field {
		case "level":
			if _, err := logrus.ParseLevel(value); err != nil {
				return err
			}
			cfg.Log.Level = value
		case "format":
			if value != "text" && value != "json" {
				return fmt.Errorf("log format must be text or json")
			}
			cfg.Log.Format = value
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	case "metrics":
		switch field {
		case "addr":
			cfg.Metrics.Addr = value
		default:
			return fmt.Errorf("unknown field %q in section [metrics]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, storage, reconnect, log, metrics)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

// appConfig is the effective configuration: file, then .env, then environment.
var appConfig *Config

var rootCmd = &cobra.Command{
	Use:          "chatsync",
	Short:        "Chat session synchronization engine",
	Long:         "Command-line client for the chatsync engine.\nChat over a websocket endpoint, browse and search persisted sessions, or run the echo server.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).Warn("Failed to load .env file")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyEnv(cfg); err != nil {
			return err
		}
		appConfig = cfg
		return setupLogging(cfg.Log)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.chatsync/config.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
