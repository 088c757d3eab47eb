// Package outbox relays booking events written alongside booking rows to NATS.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/taxiroutes/internal/retry"
)

var (
	relayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_outbox_publish_total",
		Help: "Outbox events published, by event type.",
	}, []string{"event_type"})
	relayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_outbox_fail_total",
		Help: "Outbox publishes that failed after exhausting retries.",
	})
	relayLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "booking_outbox_lag_seconds",
		Help: "Age of the oldest event in the last published batch.",
	})
)

const claimPendingSQL = `SELECT id, topic, event_type, payload, created_at
FROM outbox
WHERE published = false
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`

type RelayConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	PublishAttempts int
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = 3
	}
	return c
}

// Publisher is the part of *nats.Conn the relay needs.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Relay moves pending outbox rows to NATS in id order. Rows are locked with
// SKIP LOCKED so replicas split the backlog, and a batch is marked published
// only after every event in it went out.
type Relay struct {
	db     *sql.DB
	nc     Publisher
	cfg    RelayConfig
	policy retry.Policy
	logger *zap.Logger
	tracer trace.Tracer
}

func NewRelay(db *sql.DB, nc Publisher, logger *zap.Logger, cfg RelayConfig) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Relay{
		db:  db,
		nc:  nc,
		cfg: cfg,
		policy: retry.Policy{
			MaxAttempts: cfg.PublishAttempts,
			BaseDelay:   100 * time.Millisecond,
			// any broker error is worth another try until ctx ends
			Retryable: func(err error) bool { return !errors.Is(err, context.Canceled) },
		},
		logger: logger.Named("outbox"),
		tracer: otel.Tracer("booking.outbox"),
	}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.db == nil || r.nc == nil {
		return errors.New("outbox relay needs a database and a NATS connection")
	}
	tick := time.NewTicker(r.cfg.PollInterval)
	defer tick.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("outbox flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

type pendingEvent struct {
	id        int64
	topic     string
	eventType string
	payload   []byte
	createdAt time.Time
}

// Flush relays one batch and reports how many events it marked published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.flush")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	events, err := claimPending(ctx, tx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("outbox.batch_size", len(events)))

	var oldest time.Time
	for _, ev := range events {
		if err := r.publish(ctx, ev); err != nil {
			span.RecordError(err)
			return 0, err
		}
		relayedTotal.WithLabelValues(ev.eventType).Inc()
		if oldest.IsZero() || ev.createdAt.Before(oldest) {
			oldest = ev.createdAt
		}
	}
	if len(events) > 0 {
		relayLag.Set(time.Since(oldest).Seconds())
		if err := markPublished(ctx, tx, events); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	return len(events), nil
}

func claimPending(ctx context.Context, tx *sql.Tx, limit int) ([]pendingEvent, error) {
	rows, err := tx.QueryContext(ctx, claimPendingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	defer rows.Close()

	var events []pendingEvent
	for rows.Next() {
		var ev pendingEvent
		if err := rows.Scan(&ev.id, &ev.topic, &ev.eventType, &ev.payload, &ev.createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func markPublished(ctx context.Context, tx *sql.Tx, events []pendingEvent) error {
	var q strings.Builder
	q.WriteString("UPDATE outbox SET published = true WHERE id IN (")
	args := make([]any, len(events))
	for i, ev := range events {
		if i > 0 {
			q.WriteByte(',')
		}
		q.WriteString("$" + strconv.Itoa(i+1))
		args[i] = ev.id
	}
	q.WriteByte(')')
	if _, err := tx.ExecContext(ctx, q.String(), args...); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// natsMessage builds the message for ev. Nats-Msg-Id lets JetStream drop a
// redelivery of the same row inside its dedup window.
func natsMessage(ev pendingEvent, sc trace.SpanContext) *nats.Msg {
	msg := nats.NewMsg(ev.topic)
	msg.Data = ev.payload
	msg.Header.Set("x-event-type", ev.eventType)
	msg.Header.Set(nats.MsgIdHdr, "booking-outbox-"+strconv.FormatInt(ev.id, 10))
	if sc.IsValid() {
		msg.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-01", sc.TraceID(), sc.SpanID()))
	}
	return msg
}

func (r *Relay) publish(ctx context.Context, ev pendingEvent) error {
	ctx, span := r.tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
		attribute.Int64("outbox.id", ev.id),
		attribute.String("event.type", ev.eventType),
	))
	defer span.End()
	if ev.topic == "" {
		return fmt.Errorf("outbox row %d has no topic", ev.id)
	}

	msg := natsMessage(ev, span.SpanContext())
	attempt := 0
	_, err := retry.Do(ctx, r.policy, func(context.Context) (struct{}, error) {
		attempt++
		err := r.nc.PublishMsg(msg)
		if err != nil {
			r.logger.Warn("publish failed", zap.Int64("outbox_id", ev.id), zap.Int("attempt", attempt), zap.Error(err))
		}
		return struct{}{}, err
	})
	if err != nil {
		relayFailures.Inc()
		return fmt.Errorf("publish outbox %d: %w", ev.id, err)
	}
	return nil
}
