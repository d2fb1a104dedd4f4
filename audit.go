package authflow

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

const (
	auditEventCallbackAccepted  = "callback_accepted"
	auditEventCallbackMalformed = "callback_malformed"
	auditEventExchangeSuccess   = "exchange_success"
	auditEventExchangeFailure   = "exchange_failure"
	auditEventSignInFailure     = "signin_failure"
	auditEventChallengeRequired = "challenge_required"
	auditEventChallengeSuccess  = "challenge_confirmed"
	auditEventChallengeFailure  = "challenge_failed"
	auditEventChallengeExceeded = "challenge_attempts_exceeded"
	auditEventProviderMismatch  = "provider_mismatch"
	auditEventRetryScheduled    = "retry_scheduled"
	auditEventRetryExhausted    = "retry_exhausted"
	auditEventHandoffForwarded  = "handoff_forwarded"
	auditEventFlowAuthenticated = "flow_authenticated"
	auditEventFlowFailed        = "flow_failed"
	auditEventLogout            = "logout"
)

// AuditEvent is a structured record of one flow transition or terminal
// outcome.
type AuditEvent struct {
	EventID   string            `json:"event_id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	FlowID    string            `json:"flow_id,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Email     string            `json:"email,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives [AuditEvent] values from the engine's dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink silently discards all events.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel for consumption elsewhere.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

// Emit enqueues the event, giving up when ctx is done.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON-encoded event per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

// Emit writes the event as a single JSON line.
func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
