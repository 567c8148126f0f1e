package security

import (
	"context"

	"go.uber.org/zap"
)

// Event names emitted to the alerting pipeline
const (
	EventSecurityAlert    = "security-alert"
	EventUserBlocked      = "user-blocked"
	EventTransactionStuck = "transaction-stuck"
)

// Event is a structured payload for the external alerting pipeline.
type Event struct {
	Name    string                 `json:"name"`
	Payload map[string]interface{} `json:"payload"`
}

// Emitter delivers events fire-and-forget; implementations must never
// block the admission path or return delivery errors into it.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// LogEmitter writes events to the structured log. It is the default sink
// when no alerting pipeline is wired.
type LogEmitter struct {
	Logger *zap.Logger
}

func (e *LogEmitter) Emit(ctx context.Context, event Event) {
	e.Logger.Warn("security event",
		zap.String("event", event.Name),
		zap.Any("payload", event.Payload),
	)
}
