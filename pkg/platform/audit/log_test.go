package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"ldgate/pkg/requestcontext"
)

type recordingEmitter struct {
	events []Event
	err    error
}

func (r *recordingEmitter) Emit(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestLog(t *testing.T) {
	t.Run("logs and emits with request id", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		emitter := &recordingEmitter{}
		ctx := requestcontext.WithRequestID(context.Background(), "req-1")

		Log(ctx, logger, emitter, Event{Subject: "acct", Action: string(EventSeatActivated)})

		assert.Len(t, emitter.events, 1)
		assert.Equal(t, "req-1", emitter.events[0].RequestID)
		assert.Contains(t, buf.String(), "seat_activated")
		assert.Contains(t, buf.String(), "log_type=audit")
	})

	t.Run("emitter failure is logged not returned", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		emitter := &recordingEmitter{err: errors.New("sink down")}

		Log(context.Background(), logger, emitter, Event{Action: string(EventGrantIssued)})

		assert.Contains(t, buf.String(), "failed to emit audit event")
	})

	t.Run("nil logger and emitter are tolerated", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Log(context.Background(), nil, nil, Event{Action: string(EventGrantIssued)})
		})
	})
}
