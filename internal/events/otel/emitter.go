package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"multirole-accounts/internal/events"
)

// NewEventEmitter returns an events.Emitter that records role events as
// OTel log records via the given LoggerProvider. A nil provider yields a
// no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) events.Emitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("multirole.events")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *events.RoleEvent) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the role event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *events.RoleEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetBody(otellog.StringValue(event.EventType))
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.RoleKind != "" {
		rec.AddAttributes(otellog.String("role_kind", event.RoleKind))
	}
	if event.ActiveRole != "" {
		rec.AddAttributes(otellog.String("active_role", event.ActiveRole))
	}
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
