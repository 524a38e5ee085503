package metrics

import (
	"time"
)

// StateSource is polled periodically to refresh the engine gauges. The
// execution engine satisfies this interface; it is declared here rather
// than imported to avoid a dependency cycle between pkg/engine and
// pkg/metrics.
type StateSource interface {
	// StateCounts returns the number of nodes currently in each
	// execution state ("pending", "executing", "executed", "failed").
	StateCounts() map[string]int
}

// Collector polls a StateSource on an interval and republishes its
// counts as gauges.
type Collector struct {
	source StateSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for the given engine.
func NewCollector(source StateSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := c.source.StateCounts()
	for _, state := range []string{"pending", "executing", "executed", "failed"} {
		NodesByState.WithLabelValues(state).Set(float64(counts[state]))
	}
	NodesExecuting.Set(float64(counts["executing"]))
}
