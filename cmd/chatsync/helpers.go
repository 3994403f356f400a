package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prismer-ai/chatsync"
)

// setupLogging configures the standard logrus logger.
func setupLogging(cfg ConfigLog) error {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		l, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		level = l
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// storageConfig converts the [storage] section.
func storageConfig(cfg *Config) chatsync.StorageConfig {
	return chatsync.StorageConfig{
		Driver:        cfg.Storage.Driver,
		Path:          cfg.Storage.Path,
		DSN:           cfg.Storage.DSN,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		KeyPrefix:     "chatsync:",
	}
}

// engineConfig converts the CLI configuration into an EngineConfig.
func engineConfig(cfg *Config) (chatsync.EngineConfig, error) {
	out := chatsync.EngineConfig{
		URL:           cfg.Server.URL,
		Storage:       storageConfig(cfg),
		AutoReconnect: cfg.Reconnect.Enabled,
	}
	var err error
	if out.Reconnect.BaseDelay, err = parseDelay(cfg.Reconnect.BaseDelay); err != nil {
		return out, fmt.Errorf("reconnect.base_delay: %w", err)
	}
	if out.Reconnect.MaxDelay, err = parseDelay(cfg.Reconnect.MaxDelay); err != nil {
		return out, fmt.Errorf("reconnect.max_delay: %w", err)
	}
	return out, nil
}

func parseDelay(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// openEngine builds an engine from the effective configuration. The caller
// must Close it.
func openEngine(ctx context.Context, metrics *chatsync.Metrics) (*chatsync.Engine, error) {
	ecfg, err := engineConfig(appConfig)
	if err != nil {
		return nil, err
	}
	return chatsync.NewEngine(ctx, ecfg, chatsync.WithLogger(logrus.StandardLogger()), chatsync.WithMetrics(metrics))
}

// openSessions restores the persisted sessions without connecting. Used by the
// offline commands.
func openSessions(ctx context.Context) (*chatsync.SessionStore, func() error, error) {
	backend, err := chatsync.OpenBackend(ctx, storageConfig(appConfig))
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	durable := chatsync.NewDurableStore(backend, logrus.StandardLogger(), nil)
	sessions := chatsync.NewSessionStore(durable, chatsync.WithSessionLogger(logrus.StandardLogger()))
	sessions.Restore(ctx)
	return sessions, durable.Close, nil
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
