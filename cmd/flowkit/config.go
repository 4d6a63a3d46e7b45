package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all flowkit configuration.
// Priority: flags > FLOWKIT_* env vars > settings.json > defaults.
type Config struct {
	DBPath             string        `mapstructure:"db_path"`
	LogLevel           string        `mapstructure:"log_level"`
	SystemOrgSlug      string        `mapstructure:"system_org_slug"`
	MailEndpoint       string        `mapstructure:"mail_endpoint"`
	MailAPIKey         string        `mapstructure:"mail_api_key"`
	MailFrom           string        `mapstructure:"mail_from"`
	AdminRecipients    []string      `mapstructure:"admin_recipients"`
	MailTimeout        time.Duration `mapstructure:"mail_timeout"`
	SchedulerInterval  time.Duration `mapstructure:"scheduler_interval"`
	TriggerConcurrency int           `mapstructure:"trigger_concurrency"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"db-path":            "db_path",
	"log-level":          "log_level",
	"system-org-slug":    "system_org_slug",
	"mail-endpoint":      "mail_endpoint",
	"mail-timeout":       "mail_timeout",
	"scheduler-interval": "scheduler_interval",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", filepath.Join(flowkitDir(), "flowkit.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("system_org_slug", "system")
	v.SetDefault("mail_endpoint", "")
	v.SetDefault("mail_api_key", "")
	v.SetDefault("mail_from", "")
	v.SetDefault("admin_recipients", []string{})
	v.SetDefault("mail_timeout", 15*time.Second)
	v.SetDefault("scheduler_interval", 60*time.Second)
	v.SetDefault("trigger_concurrency", 4)
}

func flowkitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowkit"
	}
	return filepath.Join(home, ".flowkit")
}

func settingsPath() string {
	return filepath.Join(flowkitDir(), "settings.json")
}

// registerFlags declares the persistent flags that override configuration.
func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "settings file (default: ~/.flowkit/settings.json)")
	flags.String("db-path", "", "database path (default: ~/.flowkit/flowkit.db)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("system-org-slug", "", "slug of the organization holding system template sets")
	flags.String("mail-endpoint", "", "mail relay URL used by notification behaviors")
	flags.Duration("mail-timeout", 0, "mail relay request timeout")
	flags.Duration("scheduler-interval", 0, "how often scheduled workflows are checked")
}

// loadConfig layers defaults, the settings file, env vars and any flags
// the user actually set.
func loadConfig(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	path := settingsPath()
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			path = f.Value.String()
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("FLOWKIT")
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.TriggerConcurrency <= 0 {
		cfg.TriggerConcurrency = 4
	}
	return cfg, nil
}
