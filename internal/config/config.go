package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRuleSetHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OTLPEndpoint      string
	OTLPProtocol      string
	OtelSamplingRatio float64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// ClaimStoreDriver selects the claim record backend: "sql" or "mongo".
	ClaimStoreDriver string
	MongoURI         string
	MongoDatabase    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Ingestion rate limit per provider NIT, enforced only with Redis.
	IngestProviderRate  float64
	IngestProviderBurst int
	ClassifyLockTTL     time.Duration

	AMQPURL      string
	AMQPExchange string

	RelayPollInterval time.Duration
	RelayBatchSize    int
	RelaySettleDelay  time.Duration

	RulesPath  string
	RulesWatch bool
}

const (
	ClaimStoreSQL   = "sql"
	ClaimStoreMongo = "mongo"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:             getenv("APP_SERVICE", "medaudit"),
		AppVersion:          getenv("APP_VERSION", "0.1.0"),
		Environment:         getenv("ENVIRONMENT", "development"),
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		NodeID:              getenvInt64("SNOWFLAKE_NODE", 1),
		LogLevel:            strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:           strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:         getenvBool("OTEL_ENABLED", false),
		OTLPEndpoint:        strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
		OTLPProtocol:        strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio:   getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		DBType:              getenv("DATABASE_TYPE", "postgres"),
		DBHost:              getenv("DATABASE_HOST", "localhost"),
		DBPort:              getenv("DATABASE_PORT", "5432"),
		DBName:              getenv("DATABASE_NAME", "medaudit"),
		DBUser:              getenv("DATABASE_USER", "postgres"),
		DBPassword:          getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:           getenv("DATABASE_SSLMODE", "disable"),
		DBPath:              getenv("DATABASE_PATH", "medaudit.db"),
		DBMaxIdleConn:       int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:       int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime:   int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime:   int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		ClaimStoreDriver:    normalizeClaimStore(getenv("CLAIM_STORE_DRIVER", ClaimStoreSQL)),
		MongoURI:            strings.TrimSpace(getenv("MONGO_URI", "mongodb://localhost:27017")),
		MongoDatabase:       getenv("MONGO_DATABASE", "medaudit"),
		RedisAddr:           strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:       getenv("REDIS_PASSWORD", ""),
		RedisDB:             int(getenvInt64("REDIS_DB", 0)),
		IngestProviderRate:  getenvFloat("INGEST_PROVIDER_RATE", 5),
		IngestProviderBurst: int(getenvInt64("INGEST_PROVIDER_BURST", 20)),
		ClassifyLockTTL:     getenvDuration("CLASSIFY_LOCK_TTL", 30*time.Second),
		AMQPURL:             strings.TrimSpace(getenv("AMQP_URL", "")),
		AMQPExchange:        getenv("AMQP_EXCHANGE", "medaudit.traceability"),
		RelayPollInterval:   getenvDuration("RELAY_POLL_INTERVAL", 5*time.Second),
		RelayBatchSize:      int(getenvInt64("RELAY_BATCH_SIZE", 200)),
		RelaySettleDelay:    getenvDuration("RELAY_SETTLE_DELAY", 2*time.Second),
		RulesPath:           strings.TrimSpace(getenv("PREAUDIT_RULES_PATH", "")),
		RulesWatch:          getenvBool("PREAUDIT_RULES_WATCH", true),
	}

	return cfg
}

func (c Config) UsesMongoClaimStore() bool {
	return c.ClaimStoreDriver == ClaimStoreMongo
}

func normalizeClaimStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ClaimStoreMongo:
		return ClaimStoreMongo
	default:
		return ClaimStoreSQL
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
