package machine

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

// Metrics counts machine activity.
type Metrics struct {
	registry     metrics.Registry
	ticks        metrics.Counter
	loads        metrics.Counter
	failures     metrics.Counter
	instructions metrics.Counter
	tickTime     metrics.Timer
}

func newMetrics(r metrics.Registry) *Metrics {
	return &Metrics{
		registry:     r,
		ticks:        metrics.GetOrRegisterCounter("emfrp/machine/ticks", r),
		loads:        metrics.GetOrRegisterCounter("emfrp/machine/loads", r),
		failures:     metrics.GetOrRegisterCounter("emfrp/machine/failures", r),
		instructions: metrics.GetOrRegisterCounter("emfrp/machine/instructions", r),
		tickTime:     metrics.GetOrRegisterTimer("emfrp/machine/tick", r),
	}
}

// Registry returns the registry the counters live in.
func (m *Metrics) Registry() metrics.Registry { return m.registry }

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Ticks        int64
	Loads        int64
	Failures     int64
	Instructions int64
	MeanTick     time.Duration
}

// Stats reads the current counter values.
func (m *Metrics) Stats() Stats {
	return Stats{
		Ticks:        m.ticks.Count(),
		Loads:        m.loads.Count(),
		Failures:     m.failures.Count(),
		Instructions: m.instructions.Count(),
		MeanTick:     time.Duration(m.tickTime.Mean()),
	}
}
