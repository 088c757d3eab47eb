package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/taxiroutes/internal/auth"
	"github.com/example/taxiroutes/internal/booking/domain"
	"github.com/example/taxiroutes/internal/booking/service"
	"github.com/example/taxiroutes/internal/http/middleware"
)

const maxBodyBytes = 64 << 10

// HTTP exposes the booking endpoints.
type HTTP struct {
	svc       *service.Service
	jwtSecret string
	logger    *zap.Logger
}

func NewHTTP(svc *service.Service, jwtSecret string, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{svc: svc, jwtSecret: jwtSecret, logger: logger.Named("booking.http")}
}

// Router is mounted under /v1/bookings.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.submit)
	r.With(auth.Middleware(h.jwtSecret, auth.RoleDispatcher)).Get("/{id}", h.getBooking)
	return r
}

// submitRequest accepts requesterId as a string or a number; the mini app
// passes the platform user id through unchanged.
type submitRequest struct {
	Phone           string      `json:"phone"`
	TripType        string      `json:"tripType"`
	Passengers      *int        `json:"passengers"`
	FromCity        string      `json:"fromCity"`
	ToCity          string      `json:"toCity"`
	RequesterID     looseString `json:"requesterId"`
	RequesterHandle string      `json:"requesterHandle"`
}

type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}

func (h *HTTP) submit(w http.ResponseWriter, r *http.Request) {
	var payload submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}

	resp, err := h.svc.Submit(r.Context(), service.SubmitRequest{
		Booking: domain.NewBooking{
			Phone:           payload.Phone,
			TripType:        domain.TripType(payload.TripType),
			Passengers:      payload.Passengers,
			FromCity:        payload.FromCity,
			ToCity:          payload.ToCity,
			RequesterID:     string(payload.RequesterID),
			RequesterHandle: payload.RequesterHandle,
		},
		ClientKey:      middleware.ClientKey(r),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid id"})
		return
	}
	b, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type errorBody struct {
	Error            string              `json:"error"`
	Details          []domain.FieldError `json:"details,omitempty"`
	SecondsRemaining int                 `json:"secondsRemaining,omitempty"`
}

func (h *HTTP) writeError(w http.ResponseWriter, err error) {
	var (
		verr *domain.ValidationError
		terr *domain.ThrottledError
		perr *domain.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Details: verr.Details})
	case errors.As(err, &terr):
		secs := terr.SecondsRemaining()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many submissions", SecondsRemaining: secs})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "booking not found"})
	case errors.Is(err, domain.ErrNotConfigured):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "server not configured"})
	case errors.As(err, &perr):
		h.logger.Error("booking not persisted", zap.String("op", perr.Op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not save booking"})
	default:
		h.logger.Error("booking request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
