package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) DispatchCompleted(duration time.Duration, attempted int)                 {}
func (n *NoopSink) ChannelAttemptCompleted(channel, outcome string, duration time.Duration) {}
func (n *NoopSink) ChannelSkipped(channel string)                                           {}
func (n *NoopSink) EventRecordFailed()                                                      {}
func (n *NoopSink) SubmissionsInFlightIncr()                                                {}
func (n *NoopSink) SubmissionsInFlightDecr()                                                {}
func (n *NoopSink) BufferSizeUpdate(size int)                                               {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                          {}
func (n *NoopSink) EmitError()                                                              {}
func (n *NoopSink) SuccessRateUpdate(integrationID, channel string, percent int)            {}
func (n *NoopSink) ReportCompleted(duration time.Duration, integrations int, err error)     {}
