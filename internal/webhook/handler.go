// Package webhook receives platform updates. Every syntactically valid update
// is acknowledged with 200 so the platform does not redeliver it.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/example/taxiroutes/internal/booking/claim"
)

// SecretHeader carries the token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxBody = 1 << 20

var webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_events_total",
	Help: "Inbound webhook updates grouped by kind.",
}, []string{"kind"})

type ClaimHandler interface {
	HandleClaim(ctx context.Context, ev claim.Event) (claim.Outcome, error)
}

type Handler struct {
	secret  string
	claims  ClaimHandler
	greeter *Greeter
	logger  *zap.Logger
	timeout time.Duration
}

// NewHandler wires the webhook. timeout bounds the processing of one update.
func NewHandler(secret string, claims ClaimHandler, greeter *Greeter, logger *zap.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{secret: secret, claims: claims, greeter: greeter, logger: logger.Named("webhook"), timeout: timeout}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		webhookEvents.WithLabelValues("unauthorized").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ev, err := Parse(body)
	if err != nil {
		webhookEvents.WithLabelValues("malformed").Inc()
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	webhookEvents.WithLabelValues(ev.Kind()).Inc()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	h.dispatch(ctx, ev)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	got := r.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

func (h *Handler) dispatch(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ClaimEvent:
		if h.claims == nil {
			return
		}
		outcome, err := h.claims.HandleClaim(ctx, e.Event)
		if err != nil {
			h.logger.Error("claim failed", zap.String("outcome", string(outcome)), zap.Error(err))
			return
		}
		h.logger.Info("claim handled", zap.String("outcome", string(outcome)), zap.String("claimant_id", e.ClaimantID))
	case CommandEvent:
		h.command(ctx, e)
	case MembershipEvent:
		if !e.Joined() || h.greeter == nil {
			return
		}
		if err := h.greeter.Promo(ctx, e.ChatID); err != nil {
			h.logger.Warn("promo after join failed", zap.Int64("chat_id", e.ChatID), zap.Error(err))
		}
	case UnknownEvent:
		h.logger.Debug("update ignored", zap.Int64("update_id", e.UpdateID), zap.String("reason", e.Reason))
	}
}

func (h *Handler) command(ctx context.Context, e CommandEvent) {
	if h.greeter == nil {
		return
	}
	var err error
	switch e.Command {
	case CommandStart:
		err = h.greeter.Welcome(ctx, e.ChatID)
	case CommandApp:
		err = h.greeter.Promo(ctx, e.ChatID)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("command reply failed", zap.String("command", e.Command), zap.Int64("chat_id", e.ChatID), zap.Error(err))
	}
}
