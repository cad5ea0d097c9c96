package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

type Config struct {
	AppName                       string   `mapstructure:"APP_NAME"`
	Version                       string   `mapstructure:"APP_VERSION"`
	Port                          int      `mapstructure:"PORT"`
	LogLevel                      string   `mapstructure:"LOG_LEVEL"`
	PrettyLogs                    bool     `mapstructure:"PRETTY_LOGS"`
	HttpServerWriteTimeoutSeconds int      `mapstructure:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS"`
	HttpServerReadTimeoutSeconds  int      `mapstructure:"HTTP_SERVER_READ_TIMEOUT_SECONDS"`
	HttpServerIdleTimeoutSeconds  int      `mapstructure:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS"`
	ReadHeaderTimeoutSeconds      int      `mapstructure:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS"`
	MaxHeaderBytes                int      `mapstructure:"HTTP_SERVER_MAX_HEADER_BYTES"`
	AllowOrigins                  []string `mapstructure:"HTTP_SERVER_ALLOW_ORIGINS"`
	ShutdownTimeoutSeconds        int      `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS"`
	StartupMaxAttempts            int      `mapstructure:"STARTUP_MAX_ATTEMPTS"`

	// Target database
	DatabaseDriver          string        `mapstructure:"DB_DRIVER"`
	DatabaseHost            string        `mapstructure:"DB_HOST"`
	DatabasePort            string        `mapstructure:"DB_PORT"`
	DatabaseUserName        string        `mapstructure:"DB_USER_NAME"`
	DatabasePassword        string        `mapstructure:"DB_PASSWORD"`
	DatabaseName            string        `mapstructure:"DB_NAME"`
	DatabaseSSLMode         string        `mapstructure:"DB_SQL_MODE"`
	DatabasePath            string        `mapstructure:"DB_PATH"`
	DatabaseMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DatabaseMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DatabaseConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	DatabaseMigrationForce  int           `mapstructure:"DB_MIGRATION_FORCE"`

	// Persistence
	TypeSystemPath       string `mapstructure:"TYPE_SYSTEM_PATH"`
	TypeRegistryPath     string `mapstructure:"TYPE_REGISTRY_PATH"` // empty reads the ref_type table
	MappingOverridesPath string `mapstructure:"MAPPING_OVERRIDES_PATH"`
	BatchSize            int    `mapstructure:"BATCH_SIZE"`
	WarmMappings         bool   `mapstructure:"WARM_MAPPINGS"`

	// Kafka consumer
	KafkaBrokers         []string `mapstructure:"KAFKA_BROKERS"`
	KafkaInputTopic      string   `mapstructure:"KAFKA_INPUT_TOPIC"`
	KafkaConsumerGroup   string   `mapstructure:"KAFKA_CONSUMER_GROUP"`
	KafkaConsumerEnabled bool     `mapstructure:"KAFKA_CONSUMER_ENABLED"`

	// Kafka producer
	KafkaProducerEnabled bool   `mapstructure:"KAFKA_PRODUCER_ENABLED"`
	KafkaOutputTopic     string `mapstructure:"KAFKA_OUTPUT_TOPIC"`
	KafkaBatchSize       int    `mapstructure:"KAFKA_BATCH_SIZE"`
	KafkaBatchTimeout    int    `mapstructure:"KAFKA_BATCH_TIMEOUT_MS"`
	KafkaRequiredAcks    int    `mapstructure:"KAFKA_REQUIRED_ACKS"`
	KafkaCompression     string `mapstructure:"KAFKA_COMPRESSION"`

	// Tracing
	TracingExporter string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string `mapstructure:"OTLP_ENDPOINT"`
	OTLPProtocol    string `mapstructure:"OTLP_PROTOCOL"`
	OTLPInsecure    bool   `mapstructure:"OTLP_INSECURE"`
}

var defaults = map[string]any{
	"APP_NAME":                                "fern",
	"APP_VERSION":                             "dev",
	"PORT":                                    3004,
	"LOG_LEVEL":                               "info",
	"PRETTY_LOGS":                             false,
	"HTTP_SERVER_WRITE_TIMEOUT_SECONDS":       30,
	"HTTP_SERVER_READ_TIMEOUT_SECONDS":        30,
	"HTTP_SERVER_IDLE_TIMEOUT_SECONDS":        60,
	"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS": 10,
	"HTTP_SERVER_MAX_HEADER_BYTES":            64000,
	"HTTP_SERVER_ALLOW_ORIGINS":               []string{"*"},
	"SHUTDOWN_TIMEOUT_SECONDS":                10,
	"STARTUP_MAX_ATTEMPTS":                    5,

	"DB_DRIVER":            "postgres",
	"DB_HOST":              "localhost",
	"DB_PORT":              "5432",
	"DB_USER_NAME":         "",
	"DB_PASSWORD":          "",
	"DB_NAME":              "fern",
	"DB_SQL_MODE":          "disable",
	"DB_PATH":              "",
	"DB_MAX_OPEN_CONNS":    25,
	"DB_MAX_IDLE_CONNS":    10,
	"DB_CONN_MAX_LIFETIME": "5m",
	"DB_MIGRATION_FORCE":   0,

	"TYPE_SYSTEM_PATH":       "",
	"TYPE_REGISTRY_PATH":     "",
	"MAPPING_OVERRIDES_PATH": "",
	"BATCH_SIZE":             100,
	"WARM_MAPPINGS":          true,

	"KAFKA_BROKERS":          []string{"localhost:9092"},
	"KAFKA_INPUT_TOPIC":      "annotated-documents",
	"KAFKA_CONSUMER_GROUP":   "fern-consumer",
	"KAFKA_CONSUMER_ENABLED": false,
	"KAFKA_PRODUCER_ENABLED": false,
	"KAFKA_OUTPUT_TOPIC":     "document-events",
	"KAFKA_BATCH_SIZE":       100,
	"KAFKA_BATCH_TIMEOUT_MS": 100,
	"KAFKA_REQUIRED_ACKS":    1,
	"KAFKA_COMPRESSION":      "snappy",

	"TRACING_EXPORTER": "none",
	"OTLP_ENDPOINT":    "localhost:4317",
	"OTLP_PROTOCOL":    "grpc",
	"OTLP_INSECURE":    true,
}

// Load reads a .env file when present, then configFile (or config.yaml in
// the working directory) and the environment. Environment variables win over
// the file and the file over defaults.
func Load(logger *zap.Logger, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Could not read .env file", zap.Error(err))
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		logger.Debug("No config file found, using defaults/env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unable to decode config into struct")
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.AllowOrigins = splitList(cfg.AllowOrigins)
	return &cfg, nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Database() database.ConnectionConfig {
	return database.ConnectionConfig{
		Driver:          c.DatabaseDriver,
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		Path:            c.DatabasePath,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName: c.AppName,
		Exporter:    c.TracingExporter,
		OTLP: exporters.OTLPConfig{
			Endpoint: c.OTLPEndpoint,
			Protocol: c.OTLPProtocol,
			Insecure: c.OTLPInsecure,
		},
	}
}

func (c *Config) Migration() *database.MigrationConfig {
	return &database.MigrationConfig{Force: c.DatabaseMigrationForce}
}

func (c *Config) Consumer() kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:       c.KafkaBrokers,
		Topic:         c.KafkaInputTopic,
		ConsumerGroup: c.KafkaConsumerGroup,
	}
}

func (c *Config) Producer() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaOutputTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: time.Duration(c.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}
