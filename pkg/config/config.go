package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lucid-vigil/threatcluster/pkg/events"
	"github.com/lucid-vigil/threatcluster/pkg/fcm"
	"github.com/lucid-vigil/threatcluster/pkg/store"
)

// Config is the top-level configuration struct for the application.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	APIPort  string         `mapstructure:"api_port"`
	Engine   fcm.Config     `mapstructure:"engine"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Store    StoreConfig    `mapstructure:"store"`
	Retrain  RetrainConfig  `mapstructure:"retrain"`
	Jobs     []JobConfig    `mapstructure:"jobs"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	EventBus EventBusConfig `mapstructure:"event_bus"`
	Sampler  SamplerConfig  `mapstructure:"sampler"`
}

// JobConfig defines the configuration for a single scheduled job.
type JobConfig struct {
	Name     string `mapstructure:"name"`
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

// DatasetConfig locates the NSL-KDD files used to bootstrap and evaluate
// the model. Missing files fall back to synthetic records.
type DatasetConfig struct {
	TrainPath        string `mapstructure:"train_path"`
	TestPath         string `mapstructure:"test_path"`
	SyntheticSamples int    `mapstructure:"synthetic_samples"`
	SyntheticTest    int    `mapstructure:"synthetic_test_samples"`
	Seed             int64  `mapstructure:"seed"`
	IncludeNormal    bool   `mapstructure:"include_normal"`
}

// StoreConfig selects where trained models are persisted.
type StoreConfig struct {
	Backend   string            `mapstructure:"backend"` // "file" or "redis"
	Dir       string            `mapstructure:"dir"`
	ModelName string            `mapstructure:"model_name"`
	Watch     bool              `mapstructure:"watch"`
	Redis     store.RedisConfig `mapstructure:"redis"`
}

// RetrainConfig controls periodic retraining on ingested events.
type RetrainConfig struct {
	MinNewEvents       int  `mapstructure:"min_new_events"`
	MaxTrainingSamples int  `mapstructure:"max_training_samples"`
	WarmStart          bool `mapstructure:"warm_start"`
}

// IngestConfig controls validation of incoming events and alerting on
// classified ones.
type IngestConfig struct {
	events.ValidatorConfig `mapstructure:",squash"`
	AlertConfidence        float64       `mapstructure:"alert_confidence"`
	AlertDedupWindow       time.Duration `mapstructure:"alert_dedup_window"`
}

// EventBusConfig sizes the event bus queue and the recent-events history.
type EventBusConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	HistoryWindow time.Duration `mapstructure:"history_window"`
	HistoryLimit  int           `mapstructure:"history_limit"`
}

// SamplerConfig configures the host traffic sampler job.
type SamplerConfig struct {
	Interfaces []string `mapstructure:"interfaces"`
	Classify   bool     `mapstructure:"classify"`
}

// GetJobConfig returns the configuration of the named job, or nil.
func (c *Config) GetJobConfig(name string) *JobConfig {
	for i := range c.Jobs {
		if c.Jobs[i].Name == name {
			return &c.Jobs[i]
		}
	}
	return nil
}

// EngineConfig returns the engine configuration bound to schema.
func (c *Config) EngineConfig(schema string) fcm.Config {
	cfg := c.Engine
	cfg.Schema = schema
	return cfg
}

// LoadConfig reads the configuration from a YAML file (config.yaml) and
// environment variables. An explicit path overrides the search locations.
func LoadConfig(path ...string) (*Config, error) {
	v := viper.New()
	if len(path) > 0 && path[0] != "" {
		v.SetConfigFile(path[0])
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/threatcluster/")
	}

	setDefaults(v)

	v.SetEnvPrefix("THREATCLUSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	engine := fcm.DefaultConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("api_port", "8080")

	v.SetDefault("engine.clusters", engine.Clusters)
	v.SetDefault("engine.fuzziness", engine.Fuzziness)
	v.SetDefault("engine.max_iterations", engine.MaxIterations)
	v.SetDefault("engine.convergence_threshold", engine.ConvergenceThreshold)
	v.SetDefault("engine.random_seed", engine.RandomSeed)

	v.SetDefault("dataset.train_path", "data/KDDTrain+.txt")
	v.SetDefault("dataset.test_path", "data/KDDTest+.txt")
	v.SetDefault("dataset.synthetic_samples", 10000)
	v.SetDefault("dataset.synthetic_test_samples", 2000)
	v.SetDefault("dataset.seed", 42)
	v.SetDefault("dataset.include_normal", false)

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", "data/models")
	v.SetDefault("store.model_name", "fuzzy_clustering")
	v.SetDefault("store.watch", true)
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "threatcluster")

	v.SetDefault("retrain.min_new_events", 500)
	v.SetDefault("retrain.max_training_samples", 50000)
	v.SetDefault("retrain.warm_start", true)

	v.SetDefault("jobs", []map[string]interface{}{
		{"name": "retrain", "enabled": true, "interval": "1h"},
		{"name": "traffic_sampler", "enabled": false, "interval": "30s"},
	})

	v.SetDefault("ingest.rate_per_minute", 600)
	v.SetDefault("ingest.burst", 100)
	v.SetDefault("ingest.max_batch", 10000)
	v.SetDefault("ingest.alert_confidence", 85.0)
	v.SetDefault("ingest.alert_dedup_window", "5m")

	v.SetDefault("event_bus.buffer_size", 1000)
	v.SetDefault("event_bus.history_window", "24h")
	v.SetDefault("event_bus.history_limit", 200)

	v.SetDefault("sampler.interfaces", []string{})
	v.SetDefault("sampler.classify", true)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown store backend %q (want file or redis)", c.Store.Backend)
	}
	if c.Store.ModelName == "" {
		return fmt.Errorf("store.model_name must not be empty")
	}
	for _, j := range c.Jobs {
		if !j.Enabled {
			continue
		}
		if _, err := time.ParseDuration(j.Interval); err != nil {
			return fmt.Errorf("job %s: invalid interval %q: %w", j.Name, j.Interval, err)
		}
	}
	return nil
}
