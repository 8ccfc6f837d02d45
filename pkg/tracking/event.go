// Package tracking instruments net/http services and ships per-request telemetry to the collector.
package tracking

import "time"

// Event types understood by the collector.
const (
	EventTypeAPICall       = "api-call"
	EventTypeRateLimitHit  = "rate-limit-hit"
	defaultCollectorURL    = "http://localhost:8080/api/logs"
	ingestTokenHeader      = "X-Ingest-Token"
	defaultShipperQueue    = 512
	defaultShipperTimeout  = 2 * time.Second
	maxErrorBodySize       = 4096
	maxPooledGzipBufferCap = 1 << 20
)

// Event is the wire payload accepted by POST /api/logs.
type Event struct {
	ServiceName  string    `json:"serviceName"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	RequestSize  int64     `json:"requestSize"`
	ResponseSize int64     `json:"responseSize"`
	StatusCode   int       `json:"statusCode"`
	Timestamp    time.Time `json:"timestamp"`
	LatencyMS    int64     `json:"latencyMs"`
	EventType    string    `json:"eventType"`
}
