package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling; every key can be set from
// the environment.
type ServerConfig struct {
	HTTPPort string `mapstructure:"HTTP_PORT"`

	// RedisURL selects the Redis backend when set, the memory backend otherwise.
	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	MemoryCapacity uint64 `mapstructure:"MEMORY_CAPACITY"`

	// DatabaseURL names the client source: postgres://, sqlite://, file: or
	// mongodb:// (mongodb+srv://).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName      string `mapstructure:"OTEL_SERVICE_NAME"`
	OtelExporterEndpoint string `mapstructure:"OTEL_EXPORTER_ENDPOINT"`

	// KafkaBrokers is a comma separated broker list; empty disables publishing
	// of audit events.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	KafkaAuditTopic string `mapstructure:"KAFKA_AUDIT_TOPIC"`
}

// Brokers returns the configured Kafka brokers.
func (c *ServerConfig) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// UsesMongo reports whether clients are read from MongoDB.
func (c *ServerConfig) UsesMongo() bool {
	return strings.HasPrefix(c.DatabaseURL, "mongodb://") || strings.HasPrefix(c.DatabaseURL, "mongodb+srv://")
}

// LoadConfig reads configuration from .env files, an optional config file,
// environment variables and defaults, in increasing order of precedence for
// the environment.
func LoadConfig(envFiles ...string) (*ServerConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading env file %s: %w", f, err)
		}
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/oidcstore/")
	v.AddConfigPath("$HOME/.oidcstore")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_KEY_PREFIX", "")
	v.SetDefault("MEMORY_CAPACITY", 10000)
	v.SetDefault("DATABASE_URL", "sqlite://oidcstore.db")
	v.SetDefault("MONGO_DB_NAME", "oidcstore")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "oidcstore")
	v.SetDefault("OTEL_EXPORTER_ENDPOINT", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_AUDIT_TOPIC", "oidc.audit")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file means defaults and environment only.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.HTTPPort == "" {
		return nil, errors.New("HTTP_PORT must not be empty")
	}

	return &cfg, nil
}
