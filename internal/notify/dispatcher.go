// Package notify fans a persisted booking out to the owner and driver
// channels. Channel failures are logged and never surface to the caller.
package notify

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/taxiroutes/internal/booking/domain"
	"github.com/example/taxiroutes/internal/telegram"
)

type Channel string

const (
	ChannelOwner  Channel = "owner"
	ChannelDriver Channel = "driver"
)

// Sender delivers one message. *telegram.Client satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (telegram.Message, error)
}

// Config selects the destination chats. An empty DriverChatID disables the
// driver channel.
type Config struct {
	OwnerChatID  string
	DriverChatID string
	Timeout      time.Duration
	Location     *time.Location
}

// ChannelResult is the outcome of one send.
type ChannelResult struct {
	Channel   Channel
	ChatID    string
	MessageID int64
	Err       error
}

// FanoutResult collects every attempted send. It is informational only.
type FanoutResult struct {
	Results []ChannelResult
}

// Delivered reports whether the channel send succeeded.
func (r FanoutResult) Delivered(ch Channel) bool {
	for _, res := range r.Results {
		if res.Channel == ch {
			return res.Err == nil
		}
	}
	return false
}

func (r FanoutResult) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Dispatcher implements the booking fan-out.
type Dispatcher struct {
	sender Sender
	cfg    Config
	format Formatter
	logger *zap.Logger
	tracer trace.Tracer
}

// New builds a Dispatcher. Timeout defaults to five seconds per send.
func New(sender Sender, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender: sender,
		cfg:    cfg,
		format: NewFormatter(cfg.Location),
		logger: logger.Named("notify"),
		tracer: otel.Tracer("booking.notify"),
	}
}

// Formatter exposes the message renderer so the claim flow edits messages
// with the same layout.
func (d *Dispatcher) Formatter() Formatter { return d.format }

type message struct {
	channel Channel
	req     telegram.SendMessageRequest
}

func (d *Dispatcher) messages(b domain.Booking) []message {
	msgs := []message{{
		channel: ChannelOwner,
		req:     telegram.SendMessageRequest{ChatID: d.cfg.OwnerChatID, Text: d.format.Owner(b)},
	}}
	if d.cfg.DriverChatID != "" {
		msgs = append(msgs, message{
			channel: ChannelDriver,
			req: telegram.SendMessageRequest{
				ChatID:      d.cfg.DriverChatID,
				Text:        d.format.Driver(b),
				ReplyMarkup: ClaimKeyboard(b),
			},
		})
	}
	return msgs
}

// Fanout sends every channel message concurrently and waits for all of them.
// Each send is bounded by the configured timeout.
func (d *Dispatcher) Fanout(ctx context.Context, b domain.Booking) FanoutResult {
	ctx, span := d.tracer.Start(ctx, "notify.fanout", trace.WithAttributes(attribute.String("booking.id", b.ID.String())))
	defer span.End()

	msgs := d.messages(b)
	results := make([]ChannelResult, len(msgs))

	// plain Group: one failed channel must not cancel the others
	var g errgroup.Group
	for i, m := range msgs {
		i, m := i, m
		g.Go(func() error {
			results[i] = d.send(ctx, b, m)
			return nil
		})
	}
	_ = g.Wait()

	out := FanoutResult{Results: results}
	if failed := out.Failed(); failed > 0 {
		span.SetStatus(codes.Error, "channel send failed")
		span.SetAttributes(attribute.Int("notify.failed", failed))
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, b domain.Booking, m message) ChannelResult {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	msg, err := d.sender.SendMessage(ctx, m.req)
	notificationDuration.WithLabelValues(string(m.channel)).Observe(time.Since(start).Seconds())

	res := ChannelResult{Channel: m.channel, ChatID: m.req.ChatID, Err: err}
	if err != nil {
		notificationsTotal.WithLabelValues(string(m.channel), "error").Inc()
		d.logger.Warn("notification failed",
			zap.String("booking_id", b.ID.String()),
			zap.String("channel", string(m.channel)),
			zap.Error(err))
		return res
	}
	res.MessageID = msg.MessageID
	notificationsTotal.WithLabelValues(string(m.channel), "ok").Inc()
	return res
}
