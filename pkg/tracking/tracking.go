package tracking

import (
	"log/slog"

	"github.com/splax/apitrail/pkg/config"
	"github.com/splax/apitrail/pkg/ratelimit"
)

// Setup wires a limiter, shipper and middleware from TrackingConfig. Callers own the shipper
// and should Close it on shutdown.
func Setup(cfg config.TrackingConfig, log *slog.Logger) (*Middleware, *Shipper, error) {
	shipper, err := NewShipper(cfg.CollectorURL,
		WithGzip(cfg.Gzip),
		WithIngestToken(cfg.IngestToken),
		WithQueueSize(cfg.QueueSize),
		WithTimeout(cfg.Timeout),
		WithLogger(log),
	)
	if err != nil {
		return nil, nil, err
	}
	limiter := ratelimit.New(cfg.RateLimit)
	mw := NewMiddleware(cfg.ServiceName, limiter, shipper, WithMiddlewareLogger(log))
	return mw, shipper, nil
}
