package audit

import (
	"context"
	"log/slog"

	"ldgate/pkg/requestcontext"
)

// Emitter is satisfied by publisher.Publisher and by service-local ports.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Log writes an audit event to the structured logger and, if present, to
// the emitter. Emitter failures are logged and otherwise ignored.
func Log(ctx context.Context, logger *slog.Logger, emitter Emitter, event Event) {
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if logger != nil {
		args := []any{"event", event.Action, "log_type", "audit", "subject", event.Subject}
		if event.ProductID != "" {
			args = append(args, "product_id", event.ProductID)
		}
		if event.Decision != "" {
			args = append(args, "decision", event.Decision)
		}
		if event.Reason != "" {
			args = append(args, "reason", event.Reason)
		}
		if event.RequestID != "" {
			args = append(args, "request_id", event.RequestID)
		}
		logger.InfoContext(ctx, event.Action, args...)
	}

	if emitter == nil {
		return
	}
	if err := emitter.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
