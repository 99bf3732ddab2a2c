package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	QueueName      string   `mapstructure:"QUEUE_NAME"`
	TaskTTLHours   int      `mapstructure:"TASK_TTL_HOURS"`
	ArtifactDriver string   `mapstructure:"ARTIFACT_DRIVER"`
	S3Bucket       string   `mapstructure:"S3_BUCKET"`
	S3Region       string   `mapstructure:"S3_REGION"`
	S3Endpoint     string   `mapstructure:"S3_ENDPOINT"`
	S3PathStyle    bool     `mapstructure:"S3_PATH_STYLE"`
	S3AccessKey    string   `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey    string   `mapstructure:"S3_SECRET_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	StoreTimeout   int      `mapstructure:"STORE_TIMEOUT_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("QUEUE_NAME", "intake:jobs")
	v.SetDefault("TASK_TTL_HOURS", 24)
	v.SetDefault("ARTIFACT_DRIVER", "memory")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("STORE_TIMEOUT_SECONDS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("QUEUE_NAME")
	v.BindEnv("TASK_TTL_HOURS")
	v.BindEnv("ARTIFACT_DRIVER")
	v.BindEnv("S3_BUCKET")
	v.BindEnv("S3_REGION")
	v.BindEnv("S3_ENDPOINT")
	v.BindEnv("S3_PATH_STYLE")
	v.BindEnv("S3_ACCESS_KEY")
	v.BindEnv("S3_SECRET_KEY")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT_SECONDS")
	v.BindEnv("STORE_TIMEOUT_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is internally consistent before the
// process wires any components.
func (c *Config) Validate() error {
	switch c.ArtifactDriver {
	case "memory", "s3":
	default:
		return fmt.Errorf("ARTIFACT_DRIVER must be \"memory\" or \"s3\", got %q", c.ArtifactDriver)
	}
	if c.ArtifactDriver == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when ARTIFACT_DRIVER is \"s3\"")
	}
	if c.ArtifactDriver == "memory" && c.RedisURL != "" {
		// A Redis-backed queue hands jobs to worker processes that cannot see
		// an in-memory artifact store.
		return fmt.Errorf("REDIS_URL requires ARTIFACT_DRIVER=s3 so workers can fetch artifacts")
	}
	if c.TaskTTLHours <= 0 {
		return fmt.Errorf("TASK_TTL_HOURS must be positive, got %d", c.TaskTTLHours)
	}
	if c.RequestTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
