// Package metrics holds Prometheus registration helpers shared by the collector components.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every collector metric.
const Namespace = "apitrail"

// Register adds c to reg. When an identical collector is already registered the existing one is
// returned so repeated construction (tests, restarts within a process) keeps a single series.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
