package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxiroutes/internal/booking/domain"
)

// MemoryRepository provides an in-memory implementation suitable for tests and local demos.
// Its mutex makes ConditionalUpdate atomic within one process only.
type MemoryRepository struct {
	mu        sync.RWMutex
	clock     domain.Clock
	publisher domain.EventPublisher
	bookings  map[uuid.UUID]domain.Booking
	events    []domain.BookingEvent
}

// NewMemoryRepository constructs an empty memory repository.
func NewMemoryRepository(clock domain.Clock) *MemoryRepository {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MemoryRepository{clock: clock, bookings: make(map[uuid.UUID]domain.Booking)}
}

// WithPublisher forwards recorded events to p after each write. Publish
// failures are ignored; the events stay available through Events.
func (m *MemoryRepository) WithPublisher(p domain.EventPublisher) *MemoryRepository {
	m.publisher = p
	return m
}

// Create validates the input and stores a new booking with status new.
func (m *MemoryRepository) Create(ctx context.Context, input domain.NewBooking) (domain.Booking, error) {
	input, err := input.Validate()
	if err != nil {
		return domain.Booking{}, err
	}
	booking := newBooking(input, m.clock.Now())
	event := domain.CreatedEvent(booking)

	m.mu.Lock()
	m.bookings[booking.ID] = booking
	m.events = append(m.events, event)
	m.mu.Unlock()

	m.publish(ctx, event)
	return booking, nil
}

// GetBooking retrieves a booking.
func (m *MemoryRepository) GetBooking(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	booking, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return booking, nil
}

// ConditionalUpdate marks the booking taken when its status still equals expected.
func (m *MemoryRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.Status, upd domain.ClaimUpdate) (domain.Booking, error) {
	m.mu.Lock()
	booking, ok := m.bookings[id]
	if !ok || booking.Status != expected {
		m.mu.Unlock()
		return domain.Booking{}, domain.ErrClaimConflict
	}
	booking.Status = domain.StatusTaken
	booking.ClaimedBy = upd.ClaimedBy
	booking.ClaimedByChannelID = upd.ClaimedByChannelID
	m.bookings[id] = booking
	event := domain.ClaimedEvent(booking, m.clock.Now())
	m.events = append(m.events, event)
	m.mu.Unlock()

	m.publish(ctx, event)
	return booking, nil
}

// Events returns recorded events (for tests).
func (m *MemoryRepository) Events() []domain.BookingEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.BookingEvent(nil), m.events...)
}

func (m *MemoryRepository) publish(ctx context.Context, event domain.BookingEvent) {
	if m.publisher == nil {
		return
	}
	_ = m.publisher.Publish(ctx, event)
}

func newBooking(input domain.NewBooking, now time.Time) domain.Booking {
	return domain.Booking{
		ID:              uuid.New(),
		Phone:           input.Phone,
		TripType:        input.TripType,
		Passengers:      input.Passengers,
		FromCity:        input.FromCity,
		ToCity:          input.ToCity,
		RequesterID:     input.RequesterID,
		RequesterHandle: input.RequesterHandle,
		Status:          domain.StatusNew,
		CreatedAt:       now,
	}
}
