package config

import (
	"log/slog"
	"time"
)

// CollectorConfig holds runtime configuration for the collector service.
type CollectorConfig struct {
	Environment        string
	Addr               string
	StoreDriver        string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	IngestToken        string
	IngestMaxBodyBytes int64
	IngestRateLimit    int
	EvalWorkers        int
	EvalQueueSize      int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	NATSURL            string
	NATSSubjectPrefix  string
	LogLevel           slog.Level
}

// LoadCollectorConfig constructs a CollectorConfig from environment variables.
func LoadCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("COLLECTOR_ADDR", ":8080"),
		StoreDriver:        GetString("STORE_DRIVER", "postgres"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://apitrail:apitrail@db:5432/apitrail?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 1440)) * time.Minute,
		IngestToken:        GetString("INGEST_TOKEN", ""),
		IngestMaxBodyBytes: int64(GetInt("INGEST_MAX_BODY_BYTES", 64*1024)),
		IngestRateLimit:    GetInt("INGEST_RATE_LIMIT", 6000),
		EvalWorkers:        GetInt("EVAL_WORKERS", 4),
		EvalQueueSize:      GetInt("EVAL_QUEUE_SIZE", 1024),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		NATSURL:            GetString("NATS_URL", ""),
		NATSSubjectPrefix:  GetString("NATS_SUBJECT_PREFIX", "apitrail"),
		LogLevel:           GetLevel("LOG_LEVEL", slog.LevelInfo),
	}
}
