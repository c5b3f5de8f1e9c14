// Package config loads the engine configuration from a YAML file and
// OPTIKR_* environment variables through viper, validates it and converts
// each section into the option set of the component it configures.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. OPTIKR_BATCH_MAX_BATCH_SIZE.
const EnvPrefix = "OPTIKR"

// Config is the complete engine configuration.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Pool      PoolConfig      `mapstructure:"pool" yaml:"pool"`
	Affinity  AffinityConfig  `mapstructure:"affinity" yaml:"affinity"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
}

// PipelineConfig controls submission, failure handling and shutdown.
type PipelineConfig struct {
	// SubmitPolicy is "reject" (fail fast when the first queue is full) or
	// "block" (wait up to SubmitTimeout).
	SubmitPolicy  string        `mapstructure:"submit_policy" yaml:"submit_policy"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout" yaml:"submit_timeout"`
	// FailurePolicy is "drop" or "forward".
	FailurePolicy string        `mapstructure:"failure_policy" yaml:"failure_policy"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	// PriorityAdmission feeds the first stage through the priority scheduler.
	PriorityAdmission bool `mapstructure:"priority_admission" yaml:"priority_admission"`
	// StageConcurrency and QueueCapacity apply to every stage of the
	// overlay pipeline built by the CLI.
	StageConcurrency int         `mapstructure:"stage_concurrency" yaml:"stage_concurrency"`
	QueueCapacity    int         `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	RateLimit        float64     `mapstructure:"rate_limit" yaml:"rate_limit"`
	Retry            RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig describes per-stage retries. MaxAttempts <= 1 disables them.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// Backoff is "exponential", "jittered" or "decorrelated".
	Backoff string        `mapstructure:"backoff" yaml:"backoff"`
	Initial time.Duration `mapstructure:"initial" yaml:"initial"`
	Max     time.Duration `mapstructure:"max" yaml:"max"`
	Jitter  float64       `mapstructure:"jitter" yaml:"jitter"`
}

// BatchConfig mirrors batch.Config.
type BatchConfig struct {
	MaxBatchSize int           `mapstructure:"max_batch_size" yaml:"max_batch_size"`
	MinBatchSize int           `mapstructure:"min_batch_size" yaml:"min_batch_size"`
	MaxWait      time.Duration `mapstructure:"max_wait_time" yaml:"max_wait_time"`
	MaxQueueSize int           `mapstructure:"max_queue_size" yaml:"max_queue_size"`
	Adaptive     bool          `mapstructure:"adaptive" yaml:"adaptive"`
	LowLatency   time.Duration `mapstructure:"low_latency" yaml:"low_latency"`
	HighLatency  time.Duration `mapstructure:"high_latency" yaml:"high_latency"`
	Ceiling      int           `mapstructure:"ceiling" yaml:"ceiling"`
	Floor        int           `mapstructure:"floor" yaml:"floor"`
	WindowSize   int           `mapstructure:"window_size" yaml:"window_size"`
	MinSamples   int           `mapstructure:"min_samples" yaml:"min_samples"`
}

// SchedulerConfig controls the priority scheduler.
type SchedulerConfig struct {
	MaxSize              int           `mapstructure:"max_size" yaml:"max_size"`
	StarvationPrevention bool          `mapstructure:"starvation_prevention" yaml:"starvation_prevention"`
	AgingStep            time.Duration `mapstructure:"aging_step" yaml:"aging_step"`
	// MaxBoost caps the urgency gained through aging; 0 means unlimited.
	MaxBoost int `mapstructure:"max_boost" yaml:"max_boost"`
	// PriorityLevels names priority bands. Keys are case-insensitive.
	PriorityLevels map[string]int `mapstructure:"priority_levels" yaml:"priority_levels"`
}

// PoolConfig controls the work-stealing pool.
type PoolConfig struct {
	// Workers defaults to GOMAXPROCS when 0.
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	StealThreshold int           `mapstructure:"steal_threshold" yaml:"steal_threshold"`
	QueueCapacity  int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	IdleStrategy   string        `mapstructure:"idle_strategy" yaml:"idle_strategy"`
	IdleInterval   time.Duration `mapstructure:"idle_interval" yaml:"idle_interval"`
	// Role selects the core pool workers are pinned to when affinity is on.
	Role string `mapstructure:"role" yaml:"role"`
}

// AffinityConfig controls core recommendations and pinning.
type AffinityConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Rules are tried before the built-in role rules.
	Rules []RuleConfig `mapstructure:"rules" yaml:"rules,omitempty"`
}

// RuleConfig maps roles matching Pattern to "performance" or "efficiency".
type RuleConfig struct {
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Class   string `mapstructure:"class" yaml:"class"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR.
	Level string `mapstructure:"level" yaml:"level"`
	// Dir receives optikr.log; empty logs to stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen    string `mapstructure:"listen" yaml:"listen"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// MonitorConfig controls periodic stats reporting.
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Schedule is a cron spec; descriptors such as "@every 10s" are accepted.
	Schedule string      `mapstructure:"schedule" yaml:"schedule"`
	Redis    RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the Redis stats sink.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Key      string        `mapstructure:"key" yaml:"key"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// Default returns a Config with the engine defaults.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			SubmitPolicy:      "reject",
			SubmitTimeout:     100 * time.Millisecond,
			FailurePolicy:     "drop",
			PollInterval:      100 * time.Millisecond,
			StopTimeout:       5 * time.Second,
			PriorityAdmission: true,
			StageConcurrency:  2,
			QueueCapacity:     64,
			RateLimit:         0, // unlimited
			Retry: RetryConfig{
				MaxAttempts: 1,
				Backoff:     "exponential",
				Initial:     10 * time.Millisecond,
				Max:         time.Second,
				Jitter:      0.2,
			},
		},
		Batch: BatchConfig{
			MaxBatchSize: 8,
			MinBatchSize: 1,
			MaxWait:      50 * time.Millisecond,
			MaxQueueSize: 1000,
			Adaptive:     true,
			LowLatency:   30 * time.Millisecond,
			HighLatency:  100 * time.Millisecond,
			Ceiling:      16,
			Floor:        2,
			WindowSize:   10,
			MinSamples:   5,
		},
		Scheduler: SchedulerConfig{
			MaxSize:              1000,
			StarvationPrevention: true,
			AgingStep:            time.Second,
			MaxBoost:             0,
			PriorityLevels: map[string]int{
				"critical":   0,
				"high":       25,
				"normal":     50,
				"low":        100,
				"background": 200,
			},
		},
		Pool: PoolConfig{
			Workers:        0,
			StealThreshold: 2,
			QueueCapacity:  1024,
			IdleStrategy:   "poll",
			IdleInterval:   time.Millisecond,
			Role:           "translation",
		},
		Affinity: AffinityConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Listen:    ":9464",
			Namespace: "optikr",
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Schedule: "@every 10s",
			Redis: RedisConfig{
				Enabled: false,
				Addr:    "localhost:6379",
				Key:     "optikr:stats",
				TTL:     time.Minute,
			},
		},
	}
}

// setDefaults registers every default with v so environment variables can
// override keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("pipeline.submit_policy", d.Pipeline.SubmitPolicy)
	v.SetDefault("pipeline.submit_timeout", d.Pipeline.SubmitTimeout)
	v.SetDefault("pipeline.failure_policy", d.Pipeline.FailurePolicy)
	v.SetDefault("pipeline.poll_interval", d.Pipeline.PollInterval)
	v.SetDefault("pipeline.stop_timeout", d.Pipeline.StopTimeout)
	v.SetDefault("pipeline.priority_admission", d.Pipeline.PriorityAdmission)
	v.SetDefault("pipeline.stage_concurrency", d.Pipeline.StageConcurrency)
	v.SetDefault("pipeline.queue_capacity", d.Pipeline.QueueCapacity)
	v.SetDefault("pipeline.rate_limit", d.Pipeline.RateLimit)
	v.SetDefault("pipeline.retry.max_attempts", d.Pipeline.Retry.MaxAttempts)
	v.SetDefault("pipeline.retry.backoff", d.Pipeline.Retry.Backoff)
	v.SetDefault("pipeline.retry.initial", d.Pipeline.Retry.Initial)
	v.SetDefault("pipeline.retry.max", d.Pipeline.Retry.Max)
	v.SetDefault("pipeline.retry.jitter", d.Pipeline.Retry.Jitter)

	v.SetDefault("batch.max_batch_size", d.Batch.MaxBatchSize)
	v.SetDefault("batch.min_batch_size", d.Batch.MinBatchSize)
	v.SetDefault("batch.max_wait_time", d.Batch.MaxWait)
	v.SetDefault("batch.max_queue_size", d.Batch.MaxQueueSize)
	v.SetDefault("batch.adaptive", d.Batch.Adaptive)
	v.SetDefault("batch.low_latency", d.Batch.LowLatency)
	v.SetDefault("batch.high_latency", d.Batch.HighLatency)
	v.SetDefault("batch.ceiling", d.Batch.Ceiling)
	v.SetDefault("batch.floor", d.Batch.Floor)
	v.SetDefault("batch.window_size", d.Batch.WindowSize)
	v.SetDefault("batch.min_samples", d.Batch.MinSamples)

	v.SetDefault("scheduler.max_size", d.Scheduler.MaxSize)
	v.SetDefault("scheduler.starvation_prevention", d.Scheduler.StarvationPrevention)
	v.SetDefault("scheduler.aging_step", d.Scheduler.AgingStep)
	v.SetDefault("scheduler.max_boost", d.Scheduler.MaxBoost)
	v.SetDefault("scheduler.priority_levels", d.Scheduler.PriorityLevels)

	v.SetDefault("pool.workers", d.Pool.Workers)
	v.SetDefault("pool.steal_threshold", d.Pool.StealThreshold)
	v.SetDefault("pool.queue_capacity", d.Pool.QueueCapacity)
	v.SetDefault("pool.idle_strategy", d.Pool.IdleStrategy)
	v.SetDefault("pool.idle_interval", d.Pool.IdleInterval)
	v.SetDefault("pool.role", d.Pool.Role)

	v.SetDefault("affinity.enabled", d.Affinity.Enabled)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("monitor.enabled", d.Monitor.Enabled)
	v.SetDefault("monitor.schedule", d.Monitor.Schedule)
	v.SetDefault("monitor.redis.enabled", d.Monitor.Redis.Enabled)
	v.SetDefault("monitor.redis.addr", d.Monitor.Redis.Addr)
	v.SetDefault("monitor.redis.password", d.Monitor.Redis.Password)
	v.SetDefault("monitor.redis.db", d.Monitor.Redis.DB)
	v.SetDefault("monitor.redis.key", d.Monitor.Redis.Key)
	v.SetDefault("monitor.redis.ttl", d.Monitor.Redis.TTL)
}

// Loader reads configuration through its own viper instance.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a Loader for the YAML file at path. An empty path uses
// defaults and environment variables only.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v, path: path}
}

// Load reads the file (if any) and returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(&cfg, hook); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// Load reads the configuration at path. See NewLoader.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Dir returns the user's OptikR configuration directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "optikr")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".optikr"
	}
	return filepath.Join(home, ".config", "optikr")
}

// File returns the default configuration file path.
func File() string {
	return filepath.Join(Dir(), "config.yaml")
}
