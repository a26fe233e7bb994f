package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/repository"
	"TradeCore/internal/service/pricesource"
	"TradeCore/internal/services/decision"
	"TradeCore/internal/services/gateway"
	"TradeCore/internal/services/pattern"
	"TradeCore/internal/services/signals"
	"TradeCore/internal/usecase"
	"TradeCore/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Logger      logger.Config `yaml:"logger"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"20"`
		// Prefix namespaces the core's own keys; signal rows are read unprefixed.
		Prefix  string        `yaml:"prefix" default:"tradecore"`
		LockTTL time.Duration `yaml:"lock_ttl" default:"10s"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool              `yaml:"enabled"`
		Brokers      []string          `yaml:"brokers"`
		Topics       repository.Topics `yaml:"topics"`
		RequiredAcks int               `yaml:"required_acks" default:"-1"`
		Compression  string            `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async" default:"true"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"tradecore"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"tradecore"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		BatchSize        int           `yaml:"batch_size" default:"500"`
		FlushInterval    time.Duration `yaml:"flush_interval" default:"2s"`
		BufferSize       int           `yaml:"buffer_size" default:"10000"`
	} `yaml:"clickhouse"`
	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns" default:"10"`
		MinConns int32  `yaml:"min_conns" default:"2"`
		Migrate  bool   `yaml:"migrate" default:"true"`
	} `yaml:"postgres"`
	PriceSource struct {
		Kind   string                   `yaml:"kind" default:"http" validate:"oneof=http stream"`
		HTTP   pricesource.HTTPConfig   `yaml:"http"`
		Stream pricesource.StreamConfig `yaml:"stream"`
	} `yaml:"price_source"`
	Gateway  gateway.Config `yaml:"gateway"`
	Universe struct {
		Tokens []string `yaml:"tokens" validate:"min=1,dive,required"`
		Users  []string `yaml:"users" validate:"min=1,dive,required"`
	} `yaml:"universe"`
	Monitor   usecase.MonitorConfig   `yaml:"monitor"`
	Pattern   pattern.Config          `yaml:"pattern"`
	Risk      models.RiskConfig       `yaml:"risk"`
	Decision  DecisionConfig          `yaml:"decision"`
	Execution usecase.ExecutorConfig  `yaml:"execution"`
	Emergency usecase.EmergencyConfig `yaml:"emergency"`
	Signals   signals.Config          `yaml:"signals"`
	Alerts    struct {
		Workers         int           `yaml:"workers" default:"2"`
		RetryLimit      int           `yaml:"retry_limit" default:"3"`
		RetryDelay      time.Duration `yaml:"retry_delay" default:"10s"`
		CollectWarnings bool          `yaml:"collect_warnings"`
		FlushInterval   time.Duration `yaml:"flush_interval" default:"30s"`
		FlushThreshold  int           `yaml:"flush_threshold" default:"100"`
	} `yaml:"alerts"`
}

// DecisionConfig groups the engine thresholds with the cycle cadence.
type DecisionConfig struct {
	decision.Config     `yaml:",inline"`
	usecase.CycleConfig `yaml:",inline"`
}

// Default returns a configuration carrying every built-in default. Band
// tables and risk thresholds are filled here because they have no
// single-value default tags.
func Default() *Config {
	c := &Config{
		Pattern: pattern.DefaultConfig(),
		Risk:    models.DefaultRiskConfig(),
	}
	c.Decision.Config = decision.DefaultConfig()
	if err := defaults.Set(c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return c
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes b over Default(). Defaults are not applied again after
// decoding, so an explicit zero in the file reaches Validate as written.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", models.ErrConfiguration, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides it with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	list := func(v string) []string {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if v := getenv("TRADECORE_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = list(v)
		c.Kafka.Enabled = true
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("%w: REDIS_ADDR port: %v", models.ErrConfiguration, err)
			}
			c.Redis.Port = p
		}
		c.Redis.Enabled = true
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
		c.Postgres.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("PRICE_SOURCE_URL"); v != "" {
		if c.PriceSource.Kind == "stream" {
			c.PriceSource.Stream.URL = v
		} else {
			c.PriceSource.HTTP.BaseURL = v
		}
	}
	if v := getenv("GATEWAY_URL"); v != "" {
		c.Gateway.BaseURL = v
	}
	if v := getenv("GATEWAY_TOKEN"); v != "" {
		c.Gateway.Token = v
	}
	if v := getenv("TOKENS"); v != "" {
		c.Universe.Tokens = list(v)
	}
	if v := getenv("USERS"); v != "" {
		c.Universe.Users = list(v)
	}
	if v := getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: DRY_RUN: %v", models.ErrConfiguration, err)
		}
		c.Gateway.DryRun = b
	}
	return nil
}

var validate = validator.New()

// Validate checks struct tags and the cross-field rules. Every failure wraps
// models.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed on %q", models.ErrConfiguration, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, fmt.Sprintf(format, args...))
	}

	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := c.Pattern.Validate(); err != nil {
		return err
	}
	if c.Monitor.Retention < 5*time.Minute {
		return bad("monitor.retention must be at least 5m, got %s", c.Monitor.Retention)
	}
	if c.Monitor.PollInterval <= 0 || c.Monitor.PollTimeout <= 0 {
		return bad("monitor.poll_interval and poll_timeout must be positive")
	}
	if c.Monitor.PollTimeout > c.Monitor.PollInterval {
		return bad("monitor.poll_timeout must not exceed poll_interval")
	}
	if c.Decision.Interval <= 0 || c.Decision.MaxUpdateAge <= 0 {
		return bad("decision.interval and max_update_age must be positive")
	}
	if c.Emergency.AttemptTimeout <= 0 || c.Emergency.Deadline < c.Emergency.AttemptTimeout {
		return bad("emergency.deadline must cover at least one attempt")
	}
	if c.Execution.BackoffMax < c.Execution.BackoffMin {
		return bad("execution.backoff_max must be >= backoff_min")
	}
	if c.PriceSource.Kind == "http" && c.PriceSource.HTTP.BaseURL == "" {
		return bad("price_source.http.base_url is required")
	}
	if c.PriceSource.Kind == "stream" && c.PriceSource.Stream.URL == "" {
		return bad("price_source.stream.url is required")
	}
	if !c.Gateway.DryRun && c.Gateway.BaseURL == "" {
		return bad("gateway.base_url is required unless dry_run is set")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return bad("kafka.brokers are required when kafka is enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return bad("postgres.dsn is required when postgres is enabled")
	}
	return nil
}
