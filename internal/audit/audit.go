package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event is one audit record.
type Event struct {
	Time     time.Time
	Type     string
	TenantID string
	UserID   string
	Email    string
	IP       string
	Success  bool
	Reason   string
	Metadata map[string]string
}

// Sink receives events from the dispatcher goroutine.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink forwards events to a buffered channel; tests read from Events.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink buffers up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// ZapSink writes each event as one structured log line.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink logs under the "audit" name.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, e Event) {
	fields := make([]zap.Field, 0, 8+len(e.Metadata))
	fields = append(fields,
		zap.Time("at", e.Time),
		zap.Bool("success", e.Success),
	)
	if e.TenantID != "" {
		fields = append(fields, zap.String("tenant_id", e.TenantID))
	}
	if e.UserID != "" {
		fields = append(fields, zap.String("user_id", e.UserID))
	}
	if e.Email != "" {
		fields = append(fields, zap.String("email", e.Email))
	}
	if e.IP != "" {
		fields = append(fields, zap.String("ip", e.IP))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	for k, v := range e.Metadata {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Info(e.Type, fields...)
}
