package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/prismer-ai/chatsync"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, storage and server status",
	Long:  "Display the effective configuration, count the persisted chats and check whether the server accepts a connection.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig

		fmt.Println("Configuration:")
		fmt.Printf("  Server:    %s\n", valueOrDefault(cfg.Server.URL, "(not set)"))
		fmt.Printf("  Storage:   %s %s\n", cfg.Storage.Driver, storageLocation(cfg.Storage))
		fmt.Printf("  Reconnect: %t (%s..%s)\n", cfg.Reconnect.Enabled,
			valueOrDefault(cfg.Reconnect.BaseDelay, "1s"), valueOrDefault(cfg.Reconnect.MaxDelay, "30s"))
		fmt.Printf("  Metrics:   %s\n", valueOrDefault(cfg.Metrics.Addr, "(disabled)"))

		fmt.Println()
		fmt.Println("Storage:")
		sessions, closeFn, err := openSessions(cmd.Context())
		if err != nil {
			fmt.Printf("  unavailable: %v\n", err)
		} else {
			chats := sessions.List()
			pinned, _ := chatsync.Sections(chats)
			messages := 0
			for _, c := range chats {
				messages += len(c.Messages)
			}
			fmt.Printf("  Chats:     %d (%d pinned, %d messages)\n", len(chats), len(pinned), messages)
			fmt.Printf("  Dark mode: %t\n", sessions.DarkMode())
			closeFn()
		}

		fmt.Println()
		fmt.Println("Server:")
		if cfg.Server.URL == "" {
			fmt.Println("  (no server configured)")
			return nil
		}
		conn := chatsync.NewConnectionManager(chatsync.ConnectionConfig{URL: cfg.Server.URL, HeartbeatInterval: -1})
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		start := time.Now()
		if err := conn.Connect(ctx); err != nil {
			fmt.Printf("  unreachable: %v\n", err)
			return nil
		}
		fmt.Printf("  reachable (%s)\n", time.Since(start).Round(time.Millisecond))
		conn.Disconnect()
		return nil
	},
}

func storageLocation(s ConfigStorage) string {
	switch s.Driver {
	case "mysql":
		return "(dsn configured)"
	case "redis":
		return valueOrDefault(s.RedisAddr, "127.0.0.1:6379")
	case "memory":
		return ""
	}
	return valueOrDefault(s.DSN, s.Path)
}
