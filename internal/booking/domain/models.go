package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNew   Status = "new"
	StatusTaken Status = "taken"
)

type TripType string

const (
	TripPassenger TripType = "passenger"
	TripDelivery  TripType = "delivery"
)

// ParseTripType accepts the canonical names plus the "pochta" alias used by
// the mini app for parcel delivery.
func ParseTripType(raw string) (TripType, bool) {
	switch raw {
	case string(TripPassenger):
		return TripPassenger, true
	case string(TripDelivery), "pochta":
		return TripDelivery, true
	default:
		return "", false
	}
}

// Booking is a rider request waiting for exactly one driver.
type Booking struct {
	ID                 uuid.UUID `json:"id"`
	Phone              string    `json:"phone"`
	TripType           TripType  `json:"trip_type"`
	Passengers         *int      `json:"passengers,omitempty"`
	FromCity           string    `json:"from_city"`
	ToCity             string    `json:"to_city"`
	RequesterID        string    `json:"requester_id,omitempty"`
	RequesterHandle    string    `json:"requester_handle,omitempty"`
	Status             Status    `json:"status"`
	ClaimedBy          string    `json:"claimed_by,omitempty"`
	ClaimedByChannelID string    `json:"claimed_by_channel_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Taken reports whether a driver already owns the booking.
func (b Booking) Taken() bool { return b.Status == StatusTaken }

// ClaimUpdate carries the fields written by a successful claim.
type ClaimUpdate struct {
	ClaimedBy          string
	ClaimedByChannelID string
}

type BookingEventType string

const (
	EventBookingCreated BookingEventType = "BookingCreated"
	EventBookingClaimed BookingEventType = "BookingClaimed"
)

// BookingEvent is published to downstream consumers. Payloads never carry
// the rider phone.
type BookingEvent struct {
	ID        uuid.UUID        `json:"id"`
	BookingID uuid.UUID        `json:"booking_id"`
	Type      BookingEventType `json:"type"`
	Payload   map[string]any   `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// CreatedEvent builds the event emitted after a booking is persisted.
func CreatedEvent(b Booking) BookingEvent {
	payload := map[string]any{
		"trip_type": string(b.TripType),
		"from_city": b.FromCity,
		"to_city":   b.ToCity,
	}
	if b.Passengers != nil {
		payload["passengers"] = *b.Passengers
	}
	return BookingEvent{ID: uuid.New(), BookingID: b.ID, Type: EventBookingCreated, Payload: payload, CreatedAt: b.CreatedAt}
}

// ClaimedEvent builds the event emitted after a successful claim.
func ClaimedEvent(b Booking, at time.Time) BookingEvent {
	return BookingEvent{
		ID:        uuid.New(),
		BookingID: b.ID,
		Type:      EventBookingClaimed,
		Payload: map[string]any{
			"claimed_by":            b.ClaimedBy,
			"claimed_by_channel_id": b.ClaimedByChannelID,
		},
		CreatedAt: at,
	}
}

// Repository persists bookings. ConditionalUpdate must be atomic at the
// storage layer: it applies upd only while the stored status equals expected.
type Repository interface {
	Create(ctx context.Context, input NewBooking) (Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (Booking, error)
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expected Status, upd ClaimUpdate) (Booking, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event BookingEvent) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IdempotencyStore remembers which booking a client-supplied key produced so
// a retried submission returns the original id.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (uuid.UUID, bool, error)
	Remember(ctx context.Context, key string, id uuid.UUID) error
}
