package config

import (
	"log/slog"
	"time"
)

// TrackingConfig configures the client-side tracking middleware embedded in instrumented services.
type TrackingConfig struct {
	CollectorURL string
	ServiceName  string
	RateLimit    int
	Timeout      time.Duration
	Gzip         bool
	IngestToken  string
	QueueSize    int
}

// LoadTrackingConfig constructs a TrackingConfig from environment variables.
func LoadTrackingConfig() TrackingConfig {
	return TrackingConfig{
		CollectorURL: GetString("MONITORING_COLLECTOR_URL", "http://localhost:8080/api/logs"),
		ServiceName:  GetString("MONITORING_SERVICE_NAME", "default"),
		RateLimit:    GetInt("MONITORING_RATE_LIMIT", 100),
		Timeout:      time.Duration(GetInt("MONITORING_TIMEOUT_MS", 2000)) * time.Millisecond,
		Gzip:         GetBool("MONITORING_GZIP", false),
		IngestToken:  GetString("MONITORING_INGEST_TOKEN", ""),
		QueueSize:    GetInt("MONITORING_QUEUE_SIZE", 512),
	}
}

// DemoConfig holds configuration for the instrumented demo service.
type DemoConfig struct {
	Addr     string
	LogLevel slog.Level
	Tracking TrackingConfig
}

// LoadDemoConfig constructs a DemoConfig from environment variables.
func LoadDemoConfig() DemoConfig {
	return DemoConfig{
		Addr:     GetString("DEMO_ADDR", ":8081"),
		LogLevel: GetLevel("LOG_LEVEL", slog.LevelInfo),
		Tracking: LoadTrackingConfig(),
	}
}
