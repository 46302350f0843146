package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"argus"`
	Port                          int    `env:"PORT" env-default:"3000"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	ReadHeaderTimeoutSeconds      int    `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int    `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	StartupMaxAttempts            int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver, postgres or sqlite
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost   string `env:"DB_HOST" env-default:"localhost"`
	DatabasePort   string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	DatabaseName     string `env:"DB_NAME" env-default:"argus"`
	DatabaseSSLMode  string `env:"DB_SQL_MODE" env-default:"disable"`
	// File used when DB_DRIVER is sqlite
	DatabaseSQLitePath      string        `env:"DB_SQLITE_PATH" env-default:"argus.db"`
	DatabaseMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`

	// Migrations only target fresh installs, so they are off by default
	DatabaseMigrationsEnabled     bool   `env:"DB_MIGRATIONS_ENABLED" env-default:"false"`
	DatabaseMigrationFolderPath   string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db"`
	DatabaseMigrationVersion      int    `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int    `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool   `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"false"`

	// Kafka Producer
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaStatusTopic  string   `env:"KAFKA_STATUS_TOPIC" env-default:"record-status-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Redis folio lock
	RedisEnabled    bool   `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost       string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort       int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword   string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB         int    `env:"REDIS_DB" env-default:"0"`
	FolioLockTTLMs  int    `env:"FOLIO_LOCK_TTL_MS" env-default:"10000"`
	FolioLockWaitMs int    `env:"FOLIO_LOCK_WAIT_MS" env-default:"2000"`

	// Tracing
	TracingEnabled bool   `env:"TRACING_ENABLED" env-default:"false"`
	OTLPEndpoint   string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// grpc or http
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`

	// Match search
	SearchDefaultLimit      int `env:"SEARCH_DEFAULT_LIMIT" env-default:"10"`
	SearchMaxLimit          int `env:"SEARCH_MAX_LIMIT" env-default:"50"`
	SearchFallbackScanLimit int `env:"SEARCH_FALLBACK_SCAN_LIMIT" env-default:"200"`
}

// Load reads an optional .env file and then the environment. Variables
// already set win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return nil, errors.Wrapf(err, "load %s", file)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return errors.Errorf("unsupported DB_DRIVER %q", c.DatabaseDriver)
	}
	switch c.OTLPProtocol {
	case "grpc", "http":
	default:
		return errors.Errorf("unsupported OTLP_PROTOCOL %q", c.OTLPProtocol)
	}
	if c.SearchDefaultLimit <= 0 || c.SearchMaxLimit < c.SearchDefaultLimit {
		return errors.Errorf("invalid search limits: default %d, max %d", c.SearchDefaultLimit, c.SearchMaxLimit)
	}
	return nil
}

func (c *Config) FolioLockTTL() time.Duration {
	return time.Duration(c.FolioLockTTLMs) * time.Millisecond
}

func (c *Config) FolioLockWait() time.Duration {
	return time.Duration(c.FolioLockWaitMs) * time.Millisecond
}
