package metrics

import (
	"time"

	"github.com/vitrinehq/vitrine/pkg/types"
)

// StatusSource provides pool snapshots for the collector
type StatusSource interface {
	Status() types.PoolStatus
}

// Collector periodically copies pool state into Prometheus gauges
type Collector struct {
	source StatusSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatusSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	status := c.source.Status()

	// Set every state each pass so counts drop back to zero
	DevicesTotal.WithLabelValues(string(types.DeviceStateIdle)).Set(float64(status.Idle))
	DevicesTotal.WithLabelValues(string(types.DeviceStateActive)).Set(float64(status.Active))
	DevicesTotal.WithLabelValues(string(types.DeviceStateClosing)).Set(float64(status.Closing))
	DevicesTotal.WithLabelValues(string(types.DeviceStateRecovering)).Set(float64(status.Recovering))

	ActiveCasts.Set(float64(status.ActiveCasts))
}
