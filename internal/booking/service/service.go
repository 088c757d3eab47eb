package service

import (
	"context"
	"errors"
	"fmt"

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
	"github.com/example/taxiroutes/internal/throttle"
)

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "booking_submissions_total",
	Help: "Booking submissions grouped by result.",
}, []string{"result"})

// Notifier fans a stored booking out. *notify.Dispatcher satisfies it.
type Notifier interface {
	Fanout(ctx context.Context, b domain.Booking) notify.FanoutResult
}

// Service runs the submission flow: validate, throttle, persist, notify.
type Service struct {
	repo     domain.Repository
	throttle throttle.Throttle
	notifier Notifier
	reads    retry.Policy
	idem     domain.IdempotencyStore
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New constructs a Service. notifier may be nil to skip fan-out.
func New(repo domain.Repository, th throttle.Throttle, notifier Notifier, reads retry.Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		throttle: th,
		notifier: notifier,
		reads:    reads,
		logger:   logger.Named("booking"),
		tracer:   otel.Tracer("booking.service"),
	}
}

// WithIdempotency makes submissions carrying an IdempotencyKey replay the
// booking id of the first successful attempt.
func (s *Service) WithIdempotency(store domain.IdempotencyStore) *Service {
	s.idem = store
	return s
}

// SubmitRequest is a booking plus the key the cooldown applies to. The
// requester id wins over ClientKey when present.
type SubmitRequest struct {
	Booking        domain.NewBooking
	ClientKey      string
	IdempotencyKey string
}

type SubmitResponse struct {
	BookingID uuid.UUID `json:"bookingId"`
}

// Submit persists a booking and notifies the channels. Notification failures
// never fail the submission.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	ctx, span := s.tracer.Start(ctx, "booking.submit")
	defer span.End()

	input, err := req.Booking.Validate()
	if err != nil {
		submissionsTotal.WithLabelValues("invalid").Inc()
		return SubmitResponse{}, err
	}

	key := submitterKey(input, req.ClientKey)
	idemKey := ""
	if s.idem != nil && req.IdempotencyKey != "" {
		idemKey = key + ":" + req.IdempotencyKey
		id, ok, err := s.idem.Lookup(ctx, idemKey)
		switch {
		case err != nil:
			s.logger.Warn("idempotency lookup failed", zap.Error(err))
		case ok:
			submissionsTotal.WithLabelValues("replayed").Inc()
			span.SetAttributes(attribute.Bool("booking.replayed", true))
			return SubmitResponse{BookingID: id}, nil
		}
	}

	if s.throttle != nil {
		decision, err := s.throttle.CheckAndRecord(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("throttle check failed, admitting submission", zap.Error(err))
		case !decision.Allowed:
			submissionsTotal.WithLabelValues("throttled").Inc()
			return SubmitResponse{}, &domain.ThrottledError{Remaining: decision.Remaining}
		}
	}

	created, err := s.repo.Create(ctx, input)
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		var perr *domain.PersistenceError
		if errors.As(err, &perr) && s.throttle != nil {
			if rerr := s.throttle.Reset(ctx, key); rerr != nil {
				s.logger.Warn("throttle reset failed", zap.Error(rerr))
			}
		}
		span.RecordError(err)
		return SubmitResponse{}, fmt.Errorf("create booking: %w", err)
	}
	span.SetAttributes(attribute.String("booking.id", created.ID.String()))
	submissionsTotal.WithLabelValues("created").Inc()
	if idemKey != "" {
		if err := s.idem.Remember(ctx, idemKey, created.ID); err != nil {
			s.logger.Warn("idempotency record failed", zap.String("booking_id", created.ID.String()), zap.Error(err))
		}
	}

	if s.notifier != nil {
		// the sends outlive a client that hangs up; each is bounded by its own timeout
		res := s.notifier.Fanout(context.WithoutCancel(ctx), created)
		if failed := res.Failed(); failed > 0 {
			s.logger.Warn("booking stored with failed notifications",
				zap.String("booking_id", created.ID.String()), zap.Int("failed", failed))
		}
	}
	return SubmitResponse{BookingID: created.ID}, nil
}

// GetBooking reads a booking, retrying transient store failures.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return retry.Do(ctx, s.reads, func(ctx context.Context) (domain.Booking, error) {
		return s.repo.GetBooking(ctx, id)
	})
}

func submitterKey(b domain.NewBooking, clientKey string) string {
	if b.RequesterID != "" {
		return "user:" + b.RequesterID
	}
	if clientKey == "" {
		clientKey = "anonymous"
	}
	return "client:" + clientKey
}
