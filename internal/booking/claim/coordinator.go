// Package claim resolves driver races for a booking. Handlers are stateless;
// the store's conditional update is the only serialization point.
package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/taxiroutes/internal/booking/domain"
	"github.com/example/taxiroutes/internal/notify"
	"github.com/example/taxiroutes/internal/retry"
	"github.com/example/taxiroutes/internal/telegram"
)

var claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "booking_claims_total",
	Help: "Claim attempts grouped by outcome.",
}, []string{"outcome"})

type Outcome string

const (
	OutcomeClaimed  Outcome = "claimed"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
	OutcomeIgnored  Outcome = "ignored"
)

// Event is a driver pressing the claim button.
type Event struct {
	CallbackID   string
	Data         string
	ClaimantID   string
	ClaimantName string
	ChatID       string
	MessageID    int64
}

// Responder talks back to the platform. *telegram.Client satisfies it.
type Responder interface {
	EditMessageText(ctx context.Context, req telegram.EditMessageTextRequest) error
	AnswerCallbackQuery(ctx context.Context, req telegram.AnswerCallbackQueryRequest) error
}

type Config struct {
	Retry     retry.Policy
	Formatter notify.Formatter
	// Timeout bounds each platform call.
	Timeout time.Duration
}

// Coordinator handles inbound claim events.
type Coordinator struct {
	repo      domain.Repository
	responder Responder
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

func New(repo domain.Repository, responder Responder, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		repo:      repo,
		responder: responder,
		cfg:       cfg,
		logger:    logger.Named("claim"),
		tracer:    otel.Tracer("booking.claim"),
	}
}

const (
	textConflict  = "❌ This booking was already taken by another driver."
	textTransient = "⚠️ Something went wrong, please try again."
)

// HandleClaim attempts the new → taken transition for the event's booking.
// Conflicts are an expected outcome and return a nil error; store failures
// return OutcomeFailed with the cause, leaving the booking claimable.
func (c *Coordinator) HandleClaim(ctx context.Context, ev Event) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "claim.handle")
	defer span.End()

	id, ok := domain.ParseClaimToken(ev.Data)
	if !ok {
		c.answer(ctx, ev, "", false)
		return c.done(span, OutcomeIgnored), nil
	}
	span.SetAttributes(attribute.String("booking.id", id.String()))

	claimant := ev.ClaimantName
	if claimant == "" {
		claimant = "driver"
	}
	booking, err := c.repo.ConditionalUpdate(ctx, id, domain.StatusNew, domain.ClaimUpdate{
		ClaimedBy:          claimant,
		ClaimedByChannelID: ev.ClaimantID,
	})
	switch {
	case err == nil:
		c.confirm(ctx, ev, booking)
		return c.done(span, OutcomeClaimed), nil
	case errors.Is(err, domain.ErrClaimConflict):
		c.rejectConflict(ctx, ev, id)
		return c.done(span, OutcomeConflict), nil
	default:
		c.logger.Error("claim update failed", zap.String("booking_id", id.String()), zap.Error(err))
		c.answer(ctx, ev, textTransient, true)
		span.RecordError(err)
		return c.done(span, OutcomeFailed), fmt.Errorf("claim booking %s: %w", id, err)
	}
}

func (c *Coordinator) confirm(ctx context.Context, ev Event, b domain.Booking) {
	if ev.ChatID != "" && ev.MessageID != 0 {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		err := c.responder.EditMessageText(callCtx, telegram.EditMessageTextRequest{
			ChatID:    ev.ChatID,
			MessageID: ev.MessageID,
			Text:      c.cfg.Formatter.Taken(b, b.ClaimedBy),
		})
		cancel()
		if err != nil {
			c.logger.Warn("edit claimed message failed", zap.String("booking_id", b.ID.String()), zap.Error(err))
		}
	}
	c.answer(ctx, ev, phoneReveal(b), true)
}

// rejectConflict re-reads the booking so a driver who already owns it gets
// the phone again instead of a rejection.
func (c *Coordinator) rejectConflict(ctx context.Context, ev Event, id uuid.UUID) {
	current, err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) (domain.Booking, error) {
		return c.repo.GetBooking(ctx, id)
	})
	if err == nil && current.Taken() && ev.ClaimantID != "" && current.ClaimedByChannelID == ev.ClaimantID {
		c.answer(ctx, ev, phoneReveal(current), true)
		return
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		c.logger.Warn("read after conflict failed", zap.String("booking_id", id.String()), zap.Error(err))
	}
	c.answer(ctx, ev, textConflict, true)
}

func (c *Coordinator) answer(ctx context.Context, ev Event, text string, alert bool) {
	if ev.CallbackID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.responder.AnswerCallbackQuery(ctx, telegram.AnswerCallbackQueryRequest{
		CallbackQueryID: ev.CallbackID,
		Text:            text,
		ShowAlert:       alert,
	}); err != nil {
		c.logger.Warn("answer callback failed", zap.String("callback_id", ev.CallbackID), zap.Error(err))
	}
}

func (c *Coordinator) done(span trace.Span, o Outcome) Outcome {
	claimsTotal.WithLabelValues(string(o)).Inc()
	span.SetAttributes(attribute.String("claim.outcome", string(o)))
	return o
}

func phoneReveal(b domain.Booking) string {
	return fmt.Sprintf("✅ Booking assigned to you!\n📍 %s → %s\n📞 %s", b.FromCity, b.ToCity, b.Phone)
}
