package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production"`

	Log struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"signalgate.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`

	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`

	Run struct {
		Profile                string        `yaml:"profile" default:"default" validate:"required"`
		Symbols                []string      `yaml:"symbols"`
		Workers                int           `yaml:"workers" default:"4" validate:"gte=1,lte=256"`
		DryRun                 bool          `yaml:"dry_run"`
		SymbolTimeout          time.Duration `yaml:"symbol_timeout" default:"30s"`
		SymbolLock             bool          `yaml:"symbol_lock" default:"true"`
		LockTTL                time.Duration `yaml:"lock_ttl" default:"2m"`
		GraceWindow            time.Duration `yaml:"grace_window" default:"30s"`
		AutoSwitchInvalid      bool          `yaml:"auto_switch_invalid"`
		InvalidStreakThreshold int           `yaml:"invalid_streak_threshold" default:"3" validate:"gte=1"`
		SwitchDuration         string        `yaml:"switch_duration" default:"1d"`
		ExposureCooldown       string        `yaml:"exposure_cooldown" default:"4h"`
	} `yaml:"run"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" default:"true"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"20"`
		Prefix   string `yaml:"prefix" default:"signalgate"`
	} `yaml:"redis"`

	Indicators struct {
		Source        string        `yaml:"source" default:"http" validate:"oneof=http clickhouse"`
		BaseURL       string        `yaml:"base_url" validate:"omitempty,url"`
		APIKey        string        `yaml:"api_key"`
		Table         string        `yaml:"table" default:"indicator_snapshots"`
		Timeout       time.Duration `yaml:"timeout" default:"10s"`
		RatePerSecond float64       `yaml:"rate_per_second" default:"20"`
		Burst         int           `yaml:"burst" default:"5"`
		RetryAttempts int           `yaml:"retry_attempts" default:"3" validate:"gte=1,lte=10"`
		RetryBackoff  time.Duration `yaml:"retry_backoff" default:"500ms"`
	} `yaml:"indicators"`

	Positions struct {
		BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"positions"`

	Sink struct {
		Type        string `yaml:"type" default:"kafka" validate:"oneof=kafka redis none"`
		QueueMaxLen int64  `yaml:"queue_max_len" default:"10000"`
	} `yaml:"sink"`

	Kafka struct {
		Brokers         []string `yaml:"brokers"`
		DecisionTopic   string   `yaml:"decision_topic" default:"signalgate.decisions"`
		RunRequestTopic string   `yaml:"run_request_topic" default:"signalgate.run-requests"`
		RequiredAcks    int      `yaml:"required_acks" default:"-1"`
		Compression     string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
		Producer        struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"signalgate"`
			Workers    int           `yaml:"workers" default:"1"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" validate:"required_if=Enabled true"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalgate"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`

	// Profiles holds raw rule profiles keyed by name; they are compiled by the
	// decision package.
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// Parse applies defaults and overlays data on top of them. It does not validate.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// Load reads path, applies environment overrides, then validates.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SIGNALGATE_ENV":      &c.Environment,
		"SIGNALGATE_PROFILE":  &c.Run.Profile,
		"LOG_LEVEL":           &c.Log.Level,
		"REDIS_HOST":          &c.Redis.Host,
		"REDIS_PASSWORD":      &c.Redis.Password,
		"INDICATORS_URL":      &c.Indicators.BaseURL,
		"INDICATORS_API_KEY":  &c.Indicators.APIKey,
		"POSITIONS_URL":       &c.Positions.BaseURL,
		"POSITIONS_API_KEY":   &c.Positions.APIKey,
		"CLICKHOUSE_HOST":     &c.ClickHouse.Host,
		"CLICKHOUSE_PASSWORD": &c.ClickHouse.Password,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("SIGNALGATE_SYMBOLS"); ok && v != "" {
		c.Run.Symbols = strings.Split(v, ",")
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := lookup("REDIS_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_PORT: %w", err)
		}
		c.Redis.Port = port
	}
	return nil
}

var validate = validator.New()

// Validate checks struct tags and cross-section requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Sink.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when sink.type is kafka")
	}
	if c.Sink.Type == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("redis must be enabled when sink.type is redis")
	}
	if c.Indicators.Source == "http" && c.Indicators.BaseURL == "" {
		return fmt.Errorf("indicators.base_url is required when indicators.source is http")
	}
	if c.Indicators.Source == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("clickhouse must be enabled when indicators.source is clickhouse")
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("profiles cannot be empty")
	}
	if _, ok := c.Profiles[c.Run.Profile]; !ok {
		return fmt.Errorf("run.profile %q is not defined under profiles", c.Run.Profile)
	}
	return nil
}
