package stats

import "time"

// DefaultInterval is the default sampling interval, 100ms.
const DefaultInterval = 100 * time.Millisecond

// Observer periodically samples a caller-supplied set of live PIDs on its
// own goroutine. It is the runtime wrapper around Collector matching the
// original implementation's JobRunner.monitor.
type Observer struct {
	collector *Collector
	interval  time.Duration
	livePIDs  func() []int
	onError   func(pid int, err error)
}

// NewObserver creates an Observer. livePIDs is called once per tick to
// determine which PIDs to sample; onError (optional) is invoked for any
// per-sample error, which is otherwise swallowed.
func NewObserver(interval time.Duration, livePIDs func() []int, onError func(pid int, err error)) *Observer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Observer{
		collector: NewCollector(),
		interval:  interval,
		livePIDs:  livePIDs,
		onError:   onError,
	}
}

// Collector exposes the accumulated stats for reporting (e.g. by the CLI's
// end-of-run summary or the telemetry server).
func (o *Observer) Collector() *Collector { return o.collector }

// Run samples on every tick until stop is closed. It is intended to be run
// on its own goroutine and joined by waiting for it to return.
func (o *Observer) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.collector.Update(o.livePIDs(), o.onError)
		}
	}
}
