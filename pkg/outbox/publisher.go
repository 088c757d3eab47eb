// Package outbox publishes booking events straight to NATS. It is used when
// bookings live in memory and there is no outbox table to relay from.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/taxiroutes/internal/booking/domain"
)

// Conn is the subset of *nats.Conn used here.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher implements domain.EventPublisher over NATS.
type Publisher struct {
	conn    Conn
	subject string
}

// NewPublisher returns a Publisher; a nil conn makes Publish a no-op.
func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

func (p *Publisher) Publish(ctx context.Context, event domain.BookingEvent) error {
	if p == nil || p.conn == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = payload
	msg.Header.Set("x-event-type", string(event.Type))
	msg.Header.Set(nats.MsgIdHdr, event.ID.String())
	if id := traceIDFromContext(ctx); id != "" {
		msg.Header.Set("x-trace-id", id)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
