package audit

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as JSON lines through a dedicated logrus
// logger, separate from the application log so its level never filters them
type LogrusLogger struct {
	eventBuilder
	logger *logrus.Logger
}

// NewLogrusLogger creates an audit logger writing to out (stdout when nil)
func NewLogrusLogger(out io.Writer, opts ...Option) *LogrusLogger {
	if out == nil {
		out = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})

	l := &LogrusLogger{logger: logger}
	l.eventBuilder = newEventBuilder(l.Log, opts...)
	return l
}

// Log writes one event. Denied and failed events are written at warning level.
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return nil
	}

	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.UserID != nil {
		fields["user_id"] = *event.UserID
	}
	setIfNotEmpty(fields, "username", event.Username)
	setIfNotEmpty(fields, "actor", event.Actor)
	setIfNotEmpty(fields, "resource_type", string(event.ResourceType))
	setIfNotEmpty(fields, "resource_id", event.ResourceID)
	setIfNotEmpty(fields, "ip_address", event.IPAddress)
	setIfNotEmpty(fields, "user_agent", event.UserAgent)
	setIfNotEmpty(fields, "request_id", event.RequestID)
	setIfNotEmpty(fields, "method", event.Method)
	setIfNotEmpty(fields, "path", event.Path)
	setIfNotEmpty(fields, "error_message", event.ErrorMessage)
	if event.StatusCode != 0 {
		fields["status_code"] = event.StatusCode
	}
	if len(event.Metadata) > 0 {
		fields["metadata"] = event.Metadata
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}

	entry := l.logger.WithFields(fields)
	if !event.Timestamp.IsZero() {
		entry = entry.WithTime(event.Timestamp)
	}

	message := event.Message
	if message == "" {
		message = string(event.EventType)
	}

	if event.Status == EventStatusSuccess {
		entry.Info(message)
	} else {
		entry.Warn(message)
	}
	return nil
}

// Close is a no-op; logrus writes synchronously
func (l *LogrusLogger) Close() error {
	return nil
}

func setIfNotEmpty(fields logrus.Fields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
