/*
config.go - Server configuration

PURPOSE:
  Loads server settings from, in increasing precedence: built-in
  defaults, an optional config file, BILLING_* environment variables
  and command-line flags.

KEYS:
  server.port            --port         BILLING_SERVER_PORT          8080
  server.cors_origins                   BILLING_SERVER_CORS_ORIGINS  localhost dev origins
  database.driver        --driver       BILLING_DATABASE_DRIVER      sqlite | memory
  database.path          --db           BILLING_DATABASE_PATH        billing.db
  log.level              --log-level    BILLING_LOG_LEVEL            info
  log.format             --log-format   BILLING_LOG_FORMAT           console | json
  log.output                            BILLING_LOG_OUTPUT           stdout
  scheduler.enabled      --sweep        BILLING_SCHEDULER_ENABLED    true
  scheduler.cron                        BILLING_SCHEDULER_CRON       "0 2 * * *"
  scheduler.auto_cancel  --auto-cancel  BILLING_SCHEDULER_AUTO_CANCEL false
  seed.on_start          --seed         BILLING_SEED_ON_START        false

  List values from the environment are comma separated.

SEE ALSO:
  - cmd/server/main.go: Consumer
  - logging/logging.go: Log settings
*/
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/warp/policy-billing/logging"
)

const EnvPrefix = "BILLING"

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Log       logging.Config
	Scheduler SchedulerConfig
	Seed      SeedConfig
}

type ServerConfig struct {
	Port        int
	CORSOrigins []string
}

// Addr is the listen address for Port.
func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

type DatabaseConfig struct {
	Driver string
	Path   string // SQLite file, or ":memory:"
}

type SchedulerConfig struct {
	Enabled    bool
	Cron       string // Standard 5-field expression
	AutoCancel bool   // Cancel policies found cancelable for nonpayment
}

type SeedConfig struct {
	OnStart bool
}

// Load reads configuration, using args (without the program name) as
// command-line flags.
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("billing", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a config file")
	fs.Int("port", 8080, "HTTP server port")
	fs.String("driver", DriverSQLite, "store driver (sqlite, memory)")
	fs.String("db", "billing.db", "SQLite database path, \":memory:\" for a private in-memory database")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "console", "log format (console, json)")
	fs.Bool("sweep", true, "run the scheduled cancellation sweep")
	fs.Bool("auto-cancel", false, "cancel policies found cancelable for nonpayment during sweeps")
	fs.Bool("seed", false, "reset the store and load the demo fixture on start")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	bindings := map[string]string{
		"server.port":           "port",
		"database.driver":       "driver",
		"database.path":         "db",
		"log.level":             "log-level",
		"log.format":            "log-format",
		"scheduler.enabled":     "sweep",
		"scheduler.auto_cancel": "auto-cancel",
		"seed.on_start":         "seed",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetInt("server.port"),
			CORSOrigins: splitList(v.GetStringSlice("server.cors_origins")),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			Path:   v.GetString("database.path"),
		},
		Log: logging.Config{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			TimeFormat: logging.DefaultConfig().TimeFormat,
		},
		Scheduler: SchedulerConfig{
			Enabled:    v.GetBool("scheduler.enabled"),
			Cron:       v.GetString("scheduler.cron"),
			AutoCancel: v.GetBool("scheduler.auto_cancel"),
		},
		Seed: SeedConfig{
			OnStart: v.GetBool("seed.on_start"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "billing.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 2 * * *")
	v.SetDefault("scheduler.auto_cancel", false)
	v.SetDefault("seed.on_start", false)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the settings Load cannot coerce.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, c.Database.Driver)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("scheduler.cron %q: %w", c.Scheduler.Cron, err)
		}
	}
	return nil
}
