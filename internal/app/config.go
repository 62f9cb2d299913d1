package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Labeling   LabelingConfig   `mapstructure:"labeling"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Generation GenerationConfig `mapstructure:"generation"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Otel       OtelConfig       `mapstructure:"otel"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr" validate:"required"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig is optional; an empty Addr keeps locks and rate limits in
// process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
	// LockTTL is the expiry of a held edit lock; it is renewed while held.
	LockTTL time.Duration `mapstructure:"lock_ttl" validate:"gte=0"`
}

type OpenAIConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size" validate:"gte=0,lte=2048"`
}

type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type ClassifierConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LabelingConfig struct {
	Provider string        `mapstructure:"provider" validate:"oneof=classifier openai anthropic"`
	Model    string        `mapstructure:"model" validate:"required"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// PricingFile overrides the built-in pricing catalog.
	PricingFile string `mapstructure:"pricing_file"`
}

type EmbeddingConfig struct {
	Model       string        `mapstructure:"model" validate:"required"`
	BatchSize   int           `mapstructure:"batch_size" validate:"gte=1,lte=2048"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=1,lte=64"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type GenerationConfig struct {
	MinAnswers            int           `mapstructure:"min_answers" validate:"gte=1"`
	Algorithm             string        `mapstructure:"algorithm"`
	TargetClusters        int           `mapstructure:"target_clusters"`
	MinClusterSize        int           `mapstructure:"min_cluster_size"`
	TargetLanguage        string        `mapstructure:"target_language"`
	MaxDepth              int           `mapstructure:"max_depth"`
	PerClusterTokenBudget int           `mapstructure:"per_cluster_token_budget"`
	MinEmbeddingCoverage  float64       `mapstructure:"min_embedding_coverage"`
	MinClusterCoverage    float64       `mapstructure:"min_cluster_coverage"`
	CostTolerance         float64       `mapstructure:"cost_tolerance"`
	ClusterTimeout        time.Duration `mapstructure:"cluster_timeout"`
	PerCallEstimate       time.Duration `mapstructure:"per_call_estimate"`
}

type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency" validate:"gte=1,lte=256"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaintainInterval  time.Duration `mapstructure:"maintain_interval"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	KeepCompleted     int           `mapstructure:"keep_completed" validate:"gte=0"`
	KeepFailed        int           `mapstructure:"keep_failed" validate:"gte=0"`
}

type RateLimitConfig struct {
	StartPerMinute   int `mapstructure:"start_per_minute" validate:"gte=0"`
	DefaultPerMinute int `mapstructure:"default_per_minute" validate:"gte=0"`
}

type OtelConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	ServiceName string            `mapstructure:"service_name"`
	Environment string            `mapstructure:"environment"`
	Endpoint    string            `mapstructure:"endpoint"`
	Headers     map[string]string `mapstructure:"headers"`
	Insecure    bool              `mapstructure:"insecure"`
	SampleRatio float64           `mapstructure:"sample_ratio"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=development production"`
}

const envPrefix = "CODEFRAME"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=codeframe port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.slow_threshold", 500*time.Millisecond)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "codeframe")
	v.SetDefault("redis.lock_ttl", "30s")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.batch_size", 100)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", "")

	v.SetDefault("classifier.base_url", "http://localhost:8000")
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.timeout", 2*time.Minute)

	v.SetDefault("labeling.provider", "classifier")
	v.SetDefault("labeling.model", "gpt-4o-mini")
	v.SetDefault("labeling.timeout", 60*time.Second)
	v.SetDefault("labeling.pricing_file", "")

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.call_timeout", 30*time.Second)

	v.SetDefault("generation.min_answers", 10)
	v.SetDefault("generation.algorithm", "hdbscan")
	v.SetDefault("generation.target_clusters", 0)
	v.SetDefault("generation.min_cluster_size", 5)
	v.SetDefault("generation.target_language", "en")
	v.SetDefault("generation.max_depth", 5)
	v.SetDefault("generation.per_cluster_token_budget", 4000)
	v.SetDefault("generation.min_embedding_coverage", 0.9)
	v.SetDefault("generation.min_cluster_coverage", 0.75)
	v.SetDefault("generation.cost_tolerance", 0.5)
	v.SetDefault("generation.cluster_timeout", 2*time.Minute)
	v.SetDefault("generation.per_call_estimate", 8*time.Second)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.stale_after", 5*time.Minute)
	v.SetDefault("worker.heartbeat_interval", 30*time.Second)
	v.SetDefault("worker.maintain_interval", 10*time.Minute)
	v.SetDefault("worker.base_backoff", 5*time.Second)
	v.SetDefault("worker.max_backoff", 5*time.Minute)
	v.SetDefault("worker.keep_completed", 100)
	v.SetDefault("worker.keep_failed", 500)

	v.SetDefault("ratelimit.start_per_minute", 5)
	v.SetDefault("ratelimit.default_per_minute", 60)

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "codeframe")
	v.SetDefault("otel.environment", "development")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.headers", map[string]string{})
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sample_ratio", 0.1)

	v.SetDefault("log.mode", "development")
}

// LoadConfig reads defaults, then codeframe.yaml (if present, or the file
// at path), then CODEFRAME_* environment variables.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("codeframe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/codeframe")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.GenerationDefaults(); err != nil {
		return fmt.Errorf("config: generation defaults: %w", err)
	}
	switch c.Labeling.Provider {
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("config: labeling.provider=openai requires openai.api_key")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("config: labeling.provider=anthropic requires anthropic.api_key")
		}
	}
	return nil
}

// GenerationDefaults is the GenerationConfig snapshotted into a new
// Generation before request overrides.
func (c Config) GenerationDefaults() (types.GenerationConfig, error) {
	g := types.GenerationConfig{
		Version:               codeframe.GenerationConfigVersion,
		Algorithm:             c.Generation.Algorithm,
		TargetClusters:        c.Generation.TargetClusters,
		MinClusterSize:        c.Generation.MinClusterSize,
		EmbeddingModel:        c.Embedding.Model,
		LabelingModel:         c.Labeling.Model,
		TargetLanguage:        c.Generation.TargetLanguage,
		MaxDepth:              c.Generation.MaxDepth,
		PerClusterTokenBudget: c.Generation.PerClusterTokenBudget,
		MinEmbeddingCoverage:  c.Generation.MinEmbeddingCoverage,
		MinClusterCoverage:    c.Generation.MinClusterCoverage,
		CostTolerance:         c.Generation.CostTolerance,
	}
	return g, g.Validate()
}
