package bus

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type requestIDContextKey struct{}

// MessageRef identifies a delivered card on a chat platform.
// It doubles as the de-duplication key for escalation alerts.
type MessageRef struct {
	Channel   string
	ChatID    string
	MessageID string
}

// Key returns a stable identifier for this reference.
func (r MessageRef) Key() string {
	return r.Channel + ":" + r.ChatID + ":" + r.MessageID
}

// IsZero reports whether the reference carries no routing information.
func (r MessageRef) IsZero() bool {
	return r.Channel == "" && r.ChatID == "" && r.MessageID == ""
}

// CardAction is an operator's button click on a delivered card,
// published by a channel adapter.
type CardAction struct {
	Ref        MessageRef
	OperatorID string
	Value      string // raw action payload, possibly double-JSON-encoded
	Timestamp  time.Time
	RequestID  string
}

// OutboundMessage is a plain text message to send through a channel.
type OutboundMessage struct {
	Channel   string
	ChatID    string
	Content   string
	RequestID string
}

// NewRequestID creates a request id for tracing.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID adds a request id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext reads request id from context.
func RequestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDContextKey{})
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
