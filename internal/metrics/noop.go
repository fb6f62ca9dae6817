package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) DispatchCompleted(mode, statusClass string, d time.Duration) {}
func (n *NoopSink) DispatchDropped()                                           {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                 {}
func (n *NoopSink) LogWriteFailed()                                            {}
func (n *NoopSink) LogsPurged(count int64)                                     {}
func (n *NoopSink) ReconcileCompleted(eventType string, success bool)          {}
