package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configShowCmd.Flags().Bool("effective", false, "print the merged configuration including defaults and environment overrides")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatsync configuration",
	Long:  "View or modify the chatsync configuration stored in ~/.chatsync/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if effective, _ := cmd.Flags().GetBool("effective"); effective {
			data, err := toml.Marshal(appConfig)
			if err != nil {
				return fmt.Errorf("cannot marshal config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No configuration file found. Defaults are in use; see 'chatsync config show --effective'.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

// configKeys lists every key accepted by config set, in file order.
var configKeys = []string{
	"server.url",
	"storage.driver", "storage.path", "storage.dsn",
	"storage.redis_addr", "storage.redis_password", "storage.redis_db",
	"reconnect.enabled", "reconnect.base_delay", "reconnect.max_delay",
	"log.level", "log.format",
	"metrics.addr",
}

var secretKeys = map[string]bool{"storage.dsn": true, "storage.redis_password": true}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Validate and store one configuration value in the config file.\n\nKeys:\n  " +
		strings.Join(configKeys, "\n  ") +
		"\n\nExample: chatsync config set storage.driver sqlite",
	Args:      cobra.ExactArgs(2),
	ValidArgs: configKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if !slices.Contains(configKeys, key) {
			return fmt.Errorf("unknown key %q; valid keys: %s", key, strings.Join(configKeys, ", "))
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		shown := value
		if secretKeys[key] {
			shown = "(hidden)"
		}
		path, _ := configPath()
		fmt.Printf("Set %s = %s in %s\n", key, shown, path)
		if env := shadowingEnv(key); env != "" {
			fmt.Printf("Note: %s is set and overrides this value at runtime.\n", env)
		}
		return nil
	},
}

// shadowingEnv returns the environment variable currently overriding key, if any.
func shadowingEnv(key string) string {
	for _, o := range envOverrides {
		if o.key == key && os.Getenv(o.env) != "" {
			return o.env
		}
	}
	return ""
}
