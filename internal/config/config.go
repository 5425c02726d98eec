package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/newthinker/tickflow/internal/core"
	"github.com/spf13/viper"
)

type Config struct {
	Log         LogConfig                  `mapstructure:"log"`
	Redis       RedisConfig                `mapstructure:"redis"`
	Streams     StreamsConfig              `mapstructure:"streams"`
	Channels    ChannelsConfig             `mapstructure:"channels"`
	Consumer    ConsumerConfig             `mapstructure:"consumer"`
	Features    FeaturesConfig             `mapstructure:"features"`
	Strategies  map[string]StrategyConfig  `mapstructure:"strategies"`
	Opportunity OpportunityConfig          `mapstructure:"opportunity"`
	Risk        RiskConfig                 `mapstructure:"risk"`
	Writer      WriterConfig               `mapstructure:"writer"`
	Storage     StorageConfig              `mapstructure:"storage"`
	Checkpoint  CheckpointConfig           `mapstructure:"checkpoint"`
	Replicator  ReplicatorConfig           `mapstructure:"replicator"`
	Collectors  map[string]CollectorConfig `mapstructure:"collectors"`
	Notifiers   map[string]NotifierConfig  `mapstructure:"notifiers"`
	Metrics     MetricsConfig              `mapstructure:"metrics"`
	Broadcast   BroadcastConfig            `mapstructure:"broadcast"`
	Profiling   ProfilingConfig            `mapstructure:"profiling"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// StreamsConfig names the durable streams between stages.
type StreamsConfig struct {
	Raw           string `mapstructure:"raw"`
	Clean         string `mapstructure:"clean"`
	Features      string `mapstructure:"features"`
	Signals       string `mapstructure:"signals"`
	Opportunities string `mapstructure:"opportunities"`
	// MaxLength is the approximate cap applied to every stage output stream; 0 is uncapped.
	MaxLength int64 `mapstructure:"max_length"`
}

// ChannelsConfig names the pub/sub broadcast channels.
type ChannelsConfig struct {
	Features      string `mapstructure:"features"`
	Opportunities string `mapstructure:"opportunities"`
	Alerts        string `mapstructure:"alerts"`
}

type ConsumerConfig struct {
	Block   time.Duration `mapstructure:"block"`
	Count   int64         `mapstructure:"count"`
	Backoff time.Duration `mapstructure:"backoff"`
}

type FeaturesConfig struct {
	Windows []string `mapstructure:"windows"`
}

type StrategyConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Params  map[string]any `mapstructure:"params"`
}

type OpportunityConfig struct {
	Expiration    time.Duration `mapstructure:"expiration"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	HistorySize   int           `mapstructure:"history_size"`
}

type RiskConfig struct {
	MinConfidence       float64 `mapstructure:"min_confidence"`
	MinStrength         float64 `mapstructure:"min_strength"`
	VolatilityThreshold float64 `mapstructure:"volatility_threshold"`
	DrawdownThreshold   float64 `mapstructure:"drawdown_threshold"`
}

type WriterConfig struct {
	MaxBufferSize int           `mapstructure:"max_buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Format        string        `mapstructure:"format"` // "parquet" or "jsonl"
	Prefix        string        `mapstructure:"prefix"`
}

type StorageConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// CheckpointConfig selects the checkpoint store; an empty DSN keeps checkpoints in memory.
type CheckpointConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ReplicatorConfig struct {
	Pipelines []PipelineConfig `mapstructure:"pipelines"`
}

type PipelineConfig struct {
	Name    string         `mapstructure:"name"`
	Source  string         `mapstructure:"source"`
	Group   string         `mapstructure:"group"`
	Targets []TargetConfig `mapstructure:"targets"`
}

type TargetConfig struct {
	Stream string `mapstructure:"stream"`
	MaxLen int64  `mapstructure:"max_len"`
}

type CollectorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Symbols  []string      `mapstructure:"symbols"`
	Interval time.Duration `mapstructure:"interval"`
	BaseURL  string        `mapstructure:"base_url"`
	// Fallbacks names other configured sources tried in order when this one fails.
	Fallbacks []string `mapstructure:"fallbacks"`
}

type NotifierConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// BroadcastConfig holds the WebSocket fan-out settings. It is served on the metrics address.
type BroadcastConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	QueueSize int    `mapstructure:"queue_size"`
}

type ProfilingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
}

// Load reads configuration from file. A .env file in the working directory, if present,
// is loaded into the environment first so env overrides and ${VAR} references see it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("loading .env: %w", err))
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("reading config: %w", err))
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return &cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Streams: StreamsConfig{
			Raw:           "market.raw",
			Clean:         "market.clean",
			Features:      "market.features",
			Signals:       "market.signals",
			Opportunities: "market.opportunities",
			MaxLength:     100000,
		},
		Channels: ChannelsConfig{
			Features:      "features",
			Opportunities: "opportunities",
			Alerts:        "risk_alerts",
		},
		Consumer: ConsumerConfig{
			Block:   time.Second,
			Count:   100,
			Backoff: time.Second,
		},
		Features: FeaturesConfig{
			Windows: []string{"5s", "60s"},
		},
		Strategies: map[string]StrategyConfig{
			"rapid_rise": {Enabled: true},
		},
		Opportunity: OpportunityConfig{
			Expiration:    5 * time.Minute,
			SweepInterval: 10 * time.Second,
			HistorySize:   1000,
		},
		Risk: RiskConfig{
			MinConfidence: 0.4,
			MinStrength:   40,
		},
		Writer: WriterConfig{
			MaxBufferSize: 1000,
			FlushInterval: 30 * time.Second,
			Format:        "parquet",
			Prefix:        "ticks",
		},
		Storage: StorageConfig{
			Type: "localfs",
			Path: "data/archive",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Broadcast: BroadcastConfig{
			Enabled:   true,
			Path:      "/ws",
			QueueSize: 64,
		},
	}
}

// setDefaults seeds viper with Defaults so a partial file only overrides what it names.
func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("streams.raw", d.Streams.Raw)
	v.SetDefault("streams.clean", d.Streams.Clean)
	v.SetDefault("streams.features", d.Streams.Features)
	v.SetDefault("streams.signals", d.Streams.Signals)
	v.SetDefault("streams.opportunities", d.Streams.Opportunities)
	v.SetDefault("streams.max_length", d.Streams.MaxLength)
	v.SetDefault("channels.features", d.Channels.Features)
	v.SetDefault("channels.opportunities", d.Channels.Opportunities)
	v.SetDefault("channels.alerts", d.Channels.Alerts)
	v.SetDefault("consumer.block", d.Consumer.Block)
	v.SetDefault("consumer.count", d.Consumer.Count)
	v.SetDefault("consumer.backoff", d.Consumer.Backoff)
	v.SetDefault("features.windows", d.Features.Windows)
	v.SetDefault("opportunity.expiration", d.Opportunity.Expiration)
	v.SetDefault("opportunity.sweep_interval", d.Opportunity.SweepInterval)
	v.SetDefault("opportunity.history_size", d.Opportunity.HistorySize)
	v.SetDefault("risk.min_confidence", d.Risk.MinConfidence)
	v.SetDefault("risk.min_strength", d.Risk.MinStrength)
	v.SetDefault("risk.volatility_threshold", d.Risk.VolatilityThreshold)
	v.SetDefault("risk.drawdown_threshold", d.Risk.DrawdownThreshold)
	v.SetDefault("writer.max_buffer_size", d.Writer.MaxBufferSize)
	v.SetDefault("writer.flush_interval", d.Writer.FlushInterval)
	v.SetDefault("writer.format", d.Writer.Format)
	v.SetDefault("writer.prefix", d.Writer.Prefix)
	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("broadcast.enabled", d.Broadcast.Enabled)
	v.SetDefault("broadcast.path", d.Broadcast.Path)
	v.SetDefault("broadcast.queue_size", d.Broadcast.QueueSize)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("redis.url is required"))
	}

	streams := map[string]string{
		"raw":           c.Streams.Raw,
		"clean":         c.Streams.Clean,
		"features":      c.Streams.Features,
		"signals":       c.Streams.Signals,
		"opportunities": c.Streams.Opportunities,
	}
	for name, stream := range streams {
		if stream == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("streams.%s is required", name))
		}
	}
	if c.Streams.MaxLength < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("streams.max_length cannot be negative, got %d", c.Streams.MaxLength))
	}

	if c.Consumer.Block <= 0 || c.Consumer.Block > 5*time.Second {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("consumer.block must be in (0, 5s], got %s", c.Consumer.Block))
	}
	if c.Consumer.Count <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("consumer.count must be positive, got %d", c.Consumer.Count))
	}

	if len(c.Features.Windows) == 0 {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("features.windows is required"))
	}

	if c.Opportunity.Expiration <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("opportunity.expiration must be positive, got %s", c.Opportunity.Expiration))
	}

	// Risk validation
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("risk.min_confidence must be between 0 and 1, got %f", c.Risk.MinConfidence))
	}
	if c.Risk.MinStrength < 0 || c.Risk.MinStrength > 100 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("risk.min_strength must be between 0 and 100, got %f", c.Risk.MinStrength))
	}
	if c.Risk.VolatilityThreshold < 0 || c.Risk.DrawdownThreshold < 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("risk thresholds cannot be negative"))
	}

	// Writer validation
	if c.Writer.MaxBufferSize <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("writer.max_buffer_size must be positive, got %d", c.Writer.MaxBufferSize))
	}
	switch c.Writer.Format {
	case "parquet", "jsonl":
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("writer.format must be parquet or jsonl, got %q", c.Writer.Format))
	}

	// Storage validation
	switch c.Storage.Type {
	case "localfs":
		if c.Storage.Path == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("storage.path required for localfs"))
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("storage.s3.bucket required for s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("storage.type must be localfs or s3, got %q", c.Storage.Type))
	}

	for i, p := range c.Replicator.Pipelines {
		if p.Name == "" || p.Source == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("replicator.pipelines[%d] requires name and source", i))
		}
		if len(p.Targets) == 0 {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("replicator pipeline %s has no targets", p.Name))
		}
		for _, t := range p.Targets {
			if t.Stream == "" || t.MaxLen < 0 {
				return core.WrapError(core.ErrConfigInvalid,
					fmt.Errorf("replicator pipeline %s has an invalid target", p.Name))
			}
		}
	}

	for name, col := range c.Collectors {
		for _, fb := range col.Fallbacks {
			if _, ok := c.Collectors[fb]; !ok || fb == name {
				return core.WrapError(core.ErrConfigInvalid,
					fmt.Errorf("collectors.%s.fallbacks: unknown source %q", name, fb))
			}
		}
	}

	if n, ok := c.Notifiers["webhook"]; ok && n.Enabled && n.URL == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("notifiers.webhook.url required when webhook is enabled"))
	}

	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("profiling.server_address required when profiling is enabled"))
	}

	return nil
}
