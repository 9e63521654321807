package metrics

import "time"

// Source is sampled periodically by Collector to populate the queue-depth
// gauges. internal/facade.Facade satisfies this interface.
type Source interface {
	RunningTaskCount() int
	ReadyQueueLength() int
	FailoverQueueLength() int
	DaemonJobIdleCount() int
}

// Collector samples a Source on a fixed interval and updates the package's
// gauges. It does not own the counters, which callers update inline as
// events occur.
type Collector struct {
	source Source
	stopCh chan struct{}
}

func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins the sampling loop in a background goroutine.
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

// Stop terminates the sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	RunningTasksGauge.Set(float64(c.source.RunningTaskCount()))
	ReadyQueueGauge.Set(float64(c.source.ReadyQueueLength()))
	FailoverQueueGauge.Set(float64(c.source.FailoverQueueLength()))
	DaemonIdleGauge.Set(float64(c.source.DaemonJobIdleCount()))
}
