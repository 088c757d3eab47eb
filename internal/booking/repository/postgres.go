package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxiroutes/internal/booking/domain"
)

const (
	dbTimeout          = 3 * time.Second
	DefaultOutboxTopic = "booking.events"
)

const bookingColumns = `id, phone, trip_type, passengers, from_city, to_city, requester_id, requester_handle,
	status, claimed_by, claimed_by_channel_id, created_at`

// PostgresRepository stores bookings in Postgres and writes every booking
// event to the outbox table in the same transaction as the row change.
type PostgresRepository struct {
	db    *sql.DB
	clock domain.Clock
	topic string
}

// NewPostgresRepository wraps an open database handle (pgx stdlib driver).
func NewPostgresRepository(db *sql.DB, clock domain.Clock, topic string) *PostgresRepository {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if topic == "" {
		topic = DefaultOutboxTopic
	}
	return &PostgresRepository{db: db, clock: clock, topic: topic}
}

// Ping checks connectivity for readiness probes.
func (p *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return p.db.PingContext(ctx)
}

// Create validates input and inserts the booking plus its BookingCreated
// outbox row. Store failures are returned as *domain.PersistenceError.
func (p *PostgresRepository) Create(ctx context.Context, input domain.NewBooking) (domain.Booking, error) {
	input, err := input.Validate()
	if err != nil {
		return domain.Booking{}, err
	}
	booking := newBooking(input, p.clock.Now())

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Booking{}, &domain.PersistenceError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO bookings (id, phone, trip_type, passengers, from_city, to_city,
		requester_id, requester_handle, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		booking.ID,
		booking.Phone,
		string(booking.TripType),
		nullInt(booking.Passengers),
		booking.FromCity,
		booking.ToCity,
		nullString(booking.RequesterID),
		nullString(booking.RequesterHandle),
		string(booking.Status),
		booking.CreatedAt,
	)
	if err != nil {
		return domain.Booking{}, &domain.PersistenceError{Op: "insert booking", Err: err}
	}
	if err := p.insertOutbox(ctx, tx, domain.CreatedEvent(booking)); err != nil {
		return domain.Booking{}, &domain.PersistenceError{Op: "insert outbox", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return domain.Booking{}, &domain.PersistenceError{Op: "commit", Err: err}
	}
	return booking, nil
}

// GetBooking loads a booking by id.
func (p *PostgresRepository) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	booking, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("select booking: %w", err)
	}
	return booking, nil
}

// ConditionalUpdate is a single UPDATE ... WHERE status = expected; the row
// lock taken by Postgres serializes concurrent claimers, so exactly one
// RETURNING row is produced per booking.
func (p *PostgresRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected domain.Status, upd domain.ClaimUpdate) (domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := p.clock.Now()
	row := tx.QueryRowContext(ctx, `UPDATE bookings
		SET status = $3, claimed_by = $4, claimed_by_channel_id = $5, claimed_at = $6
		WHERE id = $1 AND status = $2
		RETURNING `+bookingColumns,
		id, string(expected), string(domain.StatusTaken), upd.ClaimedBy, upd.ClaimedByChannelID, now)
	booking, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, domain.ErrClaimConflict
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("conditional update: %w", err)
	}
	if err := p.insertOutbox(ctx, tx, domain.ClaimedEvent(booking, now)); err != nil {
		return domain.Booking{}, fmt.Errorf("insert outbox: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Booking{}, fmt.Errorf("commit: %w", err)
	}
	return booking, nil
}

func (p *PostgresRepository) insertOutbox(ctx context.Context, tx *sql.Tx, event domain.BookingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO outbox (topic, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`,
		p.topic, string(event.Type), payload, event.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var (
		b               domain.Booking
		tripType        string
		status          string
		passengers      sql.NullInt32
		requesterID     sql.NullString
		requesterHandle sql.NullString
		claimedBy       sql.NullString
		claimedByChan   sql.NullString
	)
	if err := row.Scan(
		&b.ID,
		&b.Phone,
		&tripType,
		&passengers,
		&b.FromCity,
		&b.ToCity,
		&requesterID,
		&requesterHandle,
		&status,
		&claimedBy,
		&claimedByChan,
		&b.CreatedAt,
	); err != nil {
		return domain.Booking{}, err
	}
	b.TripType = domain.TripType(tripType)
	b.Status = domain.Status(status)
	if passengers.Valid {
		n := int(passengers.Int32)
		b.Passengers = &n
	}
	b.RequesterID = requesterID.String
	b.RequesterHandle = requesterHandle.String
	b.ClaimedBy = claimedBy.String
	b.ClaimedByChannelID = claimedByChan.String
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

// nullInt expects a validated passenger count; anything outside int32 is
// stored as NULL rather than wrapped.
func nullInt(v *int) sql.NullInt32 {
	if v == nil || *v < math.MinInt32 || *v > math.MaxInt32 {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
