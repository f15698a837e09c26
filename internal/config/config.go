// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config captures all knobs for the harvest client and the replica test double.
type Config struct {
	Harvest HarvestConfig `mapstructure:"harvest"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Output  OutputConfig  `mapstructure:"output"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Replica ReplicaConfig `mapstructure:"replica"`
}

// HarvestConfig governs the dispatcher and worker pool.
type HarvestConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	ConcurrencyPerProxy int           `mapstructure:"concurrency_per_proxy"`
	Workers             int           `mapstructure:"workers"`
	AttemptTimeout      time.Duration `mapstructure:"attempt_timeout"`
	Selector            string        `mapstructure:"selector"`
	Seed                uint64        `mapstructure:"seed"`
	ReplicaRPS          float64       `mapstructure:"replica_rps"`
	UserAgent           string        `mapstructure:"user_agent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// OutputConfig holds the optional fan-out targets for delivered records.
type OutputConfig struct {
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// ArchiveConfig controls where the output file is copied after a run.
type ArchiveConfig struct {
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ReplicaConfig configures the replica test-double server.
type ReplicaConfig struct {
	Port        int               `mapstructure:"port"`
	MaxInFlight int               `mapstructure:"max_in_flight"`
	Responses   []ScriptedResponse `mapstructure:"responses"`
}

// ScriptedResponse is one entry of the replica's cyclic response sequence.
type ScriptedResponse struct {
	Code    int           `mapstructure:"code"`
	Payload string        `mapstructure:"payload"`
	Delay   time.Duration `mapstructure:"delay"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"max-retries":           "harvest.max_retries",
	"concurrency-per-proxy": "harvest.concurrency_per_proxy",
	"workers":               "harvest.workers",
	"attempt-timeout":       "harvest.attempt_timeout",
	"selector":              "harvest.selector",
	"seed":                  "harvest.seed",
	"replica-rps":           "harvest.replica_rps",
	"metrics-addr":          "metrics.addr",
	"development":           "logging.development",
	"port":                  "replica.port",
	"max-in-flight":         "replica.max_in_flight",
}

// Load builds a Config from defaults, an optional file, the environment and flags
// (in increasing order of precedence).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Harvest.Workers <= 0 {
		cfg.Harvest.Workers = cfg.Harvest.ConcurrencyPerProxy
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("harvest.max_retries", 5)
	v.SetDefault("harvest.concurrency_per_proxy", 30)
	v.SetDefault("harvest.workers", 0)
	v.SetDefault("harvest.attempt_timeout", "5s")
	v.SetDefault("harvest.selector", "random")
	v.SetDefault("harvest.seed", 0)
	v.SetDefault("harvest.replica_rps", 0)
	v.SetDefault("harvest.user_agent", "replica-harvester/0.1")
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "replica-harvester")
	v.SetDefault("output.postgres_table", "deliveries")
	v.SetDefault("archive.prefix", "harvests")
	v.SetDefault("replica.port", 8080)
	v.SetDefault("replica.max_in_flight", 30)
	v.SetDefault("replica.responses", []map[string]any{
		{"code": 200, "payload": "2cba8153f2ff", "delay": "1s"},
		{"code": 200, "payload": "123", "delay": "100ms"},
	})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvest.MaxRetries <= 0 {
		return fmt.Errorf("harvest.max_retries must be > 0")
	}
	if c.Harvest.ConcurrencyPerProxy <= 0 {
		return fmt.Errorf("harvest.concurrency_per_proxy must be > 0")
	}
	if c.Harvest.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be > 0")
	}
	if c.Harvest.AttemptTimeout <= 0 {
		return fmt.Errorf("harvest.attempt_timeout must be > 0")
	}
	switch c.Harvest.Selector {
	case "random", "round_robin":
	default:
		return fmt.Errorf("harvest.selector must be random or round_robin, got %q", c.Harvest.Selector)
	}
	if c.Harvest.ReplicaRPS < 0 {
		return fmt.Errorf("harvest.replica_rps must be >= 0")
	}
	if (c.Output.PubSubTopic == "") != (c.Output.PubSubProject == "") {
		return fmt.Errorf("output.pubsub_project and output.pubsub_topic must be set together")
	}
	if c.Archive.LocalDir != "" && c.Archive.GCSBucket != "" {
		return fmt.Errorf("archive.local_dir and archive.gcs_bucket are mutually exclusive")
	}
	if c.Replica.Port <= 0 {
		return fmt.Errorf("replica.port must be > 0")
	}
	if c.Replica.MaxInFlight <= 0 {
		return fmt.Errorf("replica.max_in_flight must be > 0")
	}
	if len(c.Replica.Responses) == 0 {
		return fmt.Errorf("replica.responses must not be empty")
	}
	for i, r := range c.Replica.Responses {
		if r.Code < 100 || r.Code > 599 {
			return fmt.Errorf("replica.responses[%d].code %d is not an HTTP status", i, r.Code)
		}
		if r.Delay < 0 {
			return fmt.Errorf("replica.responses[%d].delay must be >= 0", i)
		}
	}
	return nil
}
