package audit

import (
	"context"
	"sync"
)

// RecordingLogger keeps events in memory, newest last. Tests in other
// packages use it to assert on the audit trail.
type RecordingLogger struct {
	eventBuilder

	mu     sync.Mutex
	events []*AuditEvent
	limit  int
}

// NewRecordingLogger keeps at most limit events (unbounded when limit <= 0)
func NewRecordingLogger(limit int, opts ...Option) *RecordingLogger {
	l := &RecordingLogger{limit: limit}
	l.eventBuilder = newEventBuilder(l.Log, opts...)
	return l
}

// Log stores a copy of event
func (l *RecordingLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return nil
	}
	copied := *event

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, &copied)
	if l.limit > 0 && len(l.events) > l.limit {
		l.events = l.events[len(l.events)-l.limit:]
	}
	return nil
}

// Events returns a snapshot of the recorded events
func (l *RecordingLogger) Events() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]*AuditEvent, len(l.events))
	copy(result, l.events)
	return result
}

// EventsOfType returns the recorded events with the given type
func (l *RecordingLogger) EventsOfType(eventType EventType) []*AuditEvent {
	var out []*AuditEvent
	for _, e := range l.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events
func (l *RecordingLogger) Reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

// Close is a no-op
func (l *RecordingLogger) Close() error {
	return nil
}
