package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consultdesk.app/internal/booking"
	"consultdesk.app/internal/ledger"
)

const bookingColumns = `id, user_id, item_id, service_type, status, credits_used,
	booking_date, created_at, cancellation_date, can_rebook`

var _ booking.BookingRepository = (*Store)(nil)

func (s *Store) InsertBooking(ctx context.Context, b booking.Booking) (booking.Booking, error) {
	if s.db == nil {
		return booking.Booking{}, errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into bookings (id, user_id, item_id, service_type, status, credits_used, booking_date, created_at, can_rebook)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.UserID, b.ItemID, string(b.ServiceType), string(b.Status), b.CreditsUsed, b.BookingDate, b.CreatedAt, b.CanRebook)
	if isUniqueViolation(err) {
		return booking.Booking{}, booking.ErrAlreadyBooked
	}
	if err != nil {
		return booking.Booking{}, err
	}
	return b, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	if s.db == nil {
		return booking.Booking{}, errNoDB
	}
	b, err := scanBooking(s.db.QueryRowContext(ctx, `
		select `+bookingColumns+`
		from bookings
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, err
}

func (s *Store) ListBookings(ctx context.Context, userID string) ([]booking.Booking, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+bookingColumns+`
		from bookings
		where user_id = $1
		order by created_at desc, id desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]booking.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) HasActiveBooking(ctx context.Context, userID, itemID string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from bookings where user_id = $1 and item_id = $2 and status = 'booked')
	`, userID, itemID).Scan(&exists)
	return exists, err
}

func (s *Store) LastCancelledBooking(ctx context.Context, userID, itemID string) (booking.Booking, error) {
	if s.db == nil {
		return booking.Booking{}, errNoDB
	}
	b, err := scanBooking(s.db.QueryRowContext(ctx, `
		select `+bookingColumns+`
		from bookings
		where user_id = $1 and item_id = $2 and status = 'cancelled'
		order by cancellation_date desc nulls last, id desc
		limit 1
	`, userID, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, err
}

// CancelBooking flips a booked row to cancelled. Zero rows means the booking
// is missing or was cancelled by someone else first.
func (s *Store) CancelBooking(ctx context.Context, id string, at time.Time, canRebook bool) (booking.Booking, error) {
	if s.db == nil {
		return booking.Booking{}, errNoDB
	}
	b, err := scanBooking(s.db.QueryRowContext(ctx, `
		update bookings
		set status = 'cancelled', cancellation_date = $2, can_rebook = $3
		where id = $1 and status = 'booked'
		returning `+bookingColumns,
		id, at, canRebook))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Booking{}, s.cancelMiss(ctx, "bookings", id)
	}
	return b, err
}

// cancelMiss explains why a conditional cancel matched no row.
func (s *Store) cancelMiss(ctx context.Context, table, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from `+table+` where id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ErrNotFound
	}
	if err != nil {
		return err
	}
	return booking.ErrAlreadyCancelled
}

func scanBooking(row rowScanner) (booking.Booking, error) {
	var (
		b           booking.Booking
		st, status  string
		cancelledAt sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.ItemID, &st, &status, &b.CreditsUsed,
		&b.BookingDate, &b.CreatedAt, &cancelledAt, &b.CanRebook); err != nil {
		return booking.Booking{}, err
	}
	b.ServiceType = ledger.ServiceType(st)
	b.Status = booking.Status(status)
	b.BookingDate = b.BookingDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.CancellationDate = timePtr(cancelledAt)
	return b, nil
}
