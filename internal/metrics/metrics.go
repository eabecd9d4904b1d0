// Package metrics exposes the tracker's status channel: per-cycle, per-sink
// and fix-log outcomes.
package metrics

import "time"

// Send outcomes reported to RecordSend.
const (
	OutcomeSent          = "sent"
	OutcomeFailed        = "failed"
	OutcomeQuotaExceeded = "quota_exceeded"
)

// Recorder receives tracker events.
type Recorder interface {
	RecordCycle(d time.Duration)
	RecordSend(sink, outcome string)
	RecordLogAppend(ok bool)
	RecordFixUnavailable()
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordCycle(time.Duration) {}
func (NopRecorder) RecordSend(string, string) {}
func (NopRecorder) RecordLogAppend(bool)      {}
func (NopRecorder) RecordFixUnavailable()     {}
