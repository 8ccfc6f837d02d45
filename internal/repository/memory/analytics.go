package memory

import (
	"context"
	"sort"
	"time"

	"github.com/splax/apitrail/internal/domain"
)

type latencyAcc struct {
	sum   int64
	max   int64
	count int64
}

func (a *latencyAcc) add(latency int64) {
	a.sum += latency
	a.count++
	if latency > a.max {
		a.max = latency
	}
}

func (a latencyAcc) avg() float64 {
	if a.count == 0 {
		return 0
	}
	return float64(a.sum) / float64(a.count)
}

// AvgLatencyByEndpoint returns per-endpoint average latency, slowest first.
func (s *Store) AvgLatencyByEndpoint(ctx context.Context, limit int) ([]domain.EndpointLatency, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	groups := make(map[string]*latencyAcc)
	s.mu.RLock()
	for _, e := range s.events {
		acc, ok := groups[e.Endpoint]
		if !ok {
			acc = &latencyAcc{}
			groups[e.Endpoint] = acc
		}
		acc.add(e.LatencyMS)
	}
	s.mu.RUnlock()

	out := make([]domain.EndpointLatency, 0, len(groups))
	for endpoint, acc := range groups {
		out = append(out, domain.EndpointLatency{Endpoint: endpoint, AvgLatencyMS: acc.avg(), Count: acc.count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgLatencyMS == out[j].AvgLatencyMS {
			return out[i].Endpoint < out[j].Endpoint
		}
		return out[i].AvgLatencyMS > out[j].AvgLatencyMS
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TopSlowEndpoints ranks (endpoint, service) pairs whose calls exceeded thresholdMS.
func (s *Store) TopSlowEndpoints(ctx context.Context, thresholdMS int64, limit int) ([]domain.SlowEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type key struct{ endpoint, service string }
	groups := make(map[key]*latencyAcc)
	s.mu.RLock()
	for _, e := range s.events {
		if e.LatencyMS <= thresholdMS {
			continue
		}
		k := key{e.Endpoint, e.ServiceName}
		acc, ok := groups[k]
		if !ok {
			acc = &latencyAcc{}
			groups[k] = acc
		}
		acc.add(e.LatencyMS)
	}
	s.mu.RUnlock()

	out := make([]domain.SlowEndpoint, 0, len(groups))
	for k, acc := range groups {
		out = append(out, domain.SlowEndpoint{
			Endpoint:     k.endpoint,
			ServiceName:  k.service,
			AvgLatencyMS: acc.avg(),
			MaxLatencyMS: acc.max,
			Count:        acc.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgLatencyMS != out[j].AvgLatencyMS {
			return out[i].AvgLatencyMS > out[j].AvgLatencyMS
		}
		if out[i].Endpoint != out[j].Endpoint {
			return out[i].Endpoint < out[j].Endpoint
		}
		return out[i].ServiceName < out[j].ServiceName
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ErrorCounts returns the total number of events and how many were answered with 5xx.
func (s *Store) ErrorCounts(ctx context.Context) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var errCount int64
	for _, e := range s.events {
		if e.StatusCode >= 500 {
			errCount++
		}
	}
	return int64(len(s.events)), errCount, nil
}

// ViolationCounts counts slow, broken and rate-limited events.
func (s *Store) ViolationCounts(ctx context.Context) (domain.AlertStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.AlertStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats domain.AlertStats
	for _, e := range s.events {
		if e.LatencyMS > slowThresholdMS {
			stats.SlowAPICount++
		}
		if e.StatusCode >= 500 {
			stats.BrokenAPICount++
		}
		if e.EventType == domain.EventTypeRateLimitHit {
			stats.RateLimitViolations++
		}
	}
	return stats, nil
}

// Timeline groups events in [since, until) into UTC hour buckets, oldest first.
func (s *Store) Timeline(ctx context.Context, since, until time.Time, limit int) ([]domain.TimelineBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type bucketAcc struct {
		latency latencyAcc
		errors  int64
	}
	buckets := make(map[time.Time]*bucketAcc)
	s.mu.RLock()
	for _, e := range s.events {
		if e.Timestamp.Before(since) || !e.Timestamp.Before(until) {
			continue
		}
		hour := e.Timestamp.UTC().Truncate(time.Hour)
		acc, ok := buckets[hour]
		if !ok {
			acc = &bucketAcc{}
			buckets[hour] = acc
		}
		acc.latency.add(e.LatencyMS)
		if e.StatusCode >= 500 {
			acc.errors++
		}
	}
	s.mu.RUnlock()

	out := make([]domain.TimelineBucket, 0, len(buckets))
	for hour, acc := range buckets {
		out = append(out, domain.TimelineBucket{
			Bucket:       hour,
			Requests:     acc.latency.count,
			AvgLatencyMS: acc.latency.avg(),
			Errors:       acc.errors,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
