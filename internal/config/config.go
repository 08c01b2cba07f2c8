// Package config loads acpmux's declarative on-disk configuration using viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/raphi011/acpmux/internal/agentkind"
	"github.com/raphi011/acpmux/internal/logging"
)

// Config holds every configuration section acpmux recognizes. Absence of a
// config file is not an error; every field has a default applied below.
type Config struct {
	DefaultAgent  string              `mapstructure:"default_agent"`
	WorktreeDir   string              `mapstructure:"worktree_dir"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	McpServers    []McpServerConfig   `mapstructure:"mcp_servers"`
	Log           logging.Config      `mapstructure:"log"`
}

// NotificationsConfig controls idle-session desktop notification coalescing
// (see SPEC_FULL.md §4.6 "Idle-notification coalescing"). The notifications
// themselves are delivered through the external.Notifier contract; this is
// only the policy the dispatcher applies before calling it.
type NotificationsConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	IdleDelaySecs      int  `mapstructure:"idle_delay_secs"`
	DedupeIntervalSecs int  `mapstructure:"dedupe_interval_secs"`
}

// McpServerConfig is forwarded verbatim as an MCP server entry in
// `session/new`; acpmux never connects to it itself.
type McpServerConfig struct {
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_agent", string(agentkind.ClaudeCode))
	v.SetDefault("worktree_dir", "")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.idle_delay_secs", 30)
	v.SetDefault("notifications.dedupe_interval_secs", 120)

	v.SetDefault("mcp_servers", []McpServerConfig{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("log.output_path", "stdout")
}

// Load reads configuration from environment variables, a config file, and
// defaults, in that order of decreasing precedence: an environment variable
// overrides the config file, which overrides the default.
// Environment variables use the ACPMUX_ prefix with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the given directory (or the current
// directory and /etc/acpmux/ if empty).
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ACPMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/acpmux/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = detectLogFormat()
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func detectLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	return "text"
}

func validate(cfg *Config) error {
	if _, ok := agentkind.Lookup(cfg.DefaultAgent); !ok {
		return fmt.Errorf("default_agent %q is not a recognized agent kind", cfg.DefaultAgent)
	}
	if cfg.Notifications.IdleDelaySecs < 0 {
		return fmt.Errorf("notifications.idle_delay_secs must be >= 0")
	}
	if cfg.Notifications.DedupeIntervalSecs < 0 {
		return fmt.Errorf("notifications.dedupe_interval_secs must be >= 0")
	}
	for i, s := range cfg.McpServers {
		if s.Name == "" {
			return fmt.Errorf("mcp_servers[%d].name must not be empty", i)
		}
		if s.Command == "" {
			return fmt.Errorf("mcp_servers[%d].command must not be empty", i)
		}
	}
	return nil
}
