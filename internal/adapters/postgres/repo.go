package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/room-reservations-and-orders/internal/booking"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	DeadlockDetectedCode     = "40P01"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ booking.Store = (*Repository)(nil)

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction. Serialization failures and
// deadlocks, whether raised by fn or by the commit, come back marked as
// domain.ErrConcurrencyConflict.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return conflictOr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return conflictOr(errors.Wrap(err, "commit"))
	}
	return nil
}

func conflictOr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == SerializationFailureCode || pgErr.Code == DeadlockDetectedCode) {
		return errors.Mark(err, domain.ErrConcurrencyConflict)
	}
	return err
}

// RunInTx adapts WithTx to the booking core.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &Tx{tx: tx})
	})
}

// UpsertUnit creates or replaces a bookable unit. Units are managed outside
// the booking API; this is used for seeding.
func (r *Repository) UpsertUnit(ctx context.Context, u domain.Unit) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO units (id, name, kind, price, stock, max_capacity, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, kind = EXCLUDED.kind, price = EXCLUDED.price,
			stock = EXCLUDED.stock, max_capacity = EXCLUDED.max_capacity, available = EXCLUDED.available
	`, u.ID, u.Name, string(u.Kind), u.Price, u.Stock, u.MaxCapacity, u.Available)
	return errors.Wrapf(err, "upsert unit %s", u.ID)
}

// Tx implements booking.Tx on top of a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

var _ booking.Tx = (*Tx)(nil)

const unitColumns = `id, name, kind, price, stock, max_capacity, available`

func scanUnit(row pgx.Row) (domain.Unit, error) {
	var (
		u    domain.Unit
		kind string
	)
	err := row.Scan(&u.ID, &u.Name, &kind, &u.Price, &u.Stock, &u.MaxCapacity, &u.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Unit{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Unit{}, err
	}
	u.Kind = domain.Kind(kind)
	return u, nil
}

func (t *Tx) LockUnit(ctx context.Context, id uuid.UUID) (domain.Unit, error) {
	return scanUnit(t.tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1 FOR UPDATE`, id))
}

func (t *Tx) GetUnit(ctx context.Context, id uuid.UUID) (domain.Unit, error) {
	return scanUnit(t.tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
}

func (t *Tx) CountOverlapping(ctx context.Context, unitID uuid.UUID, stay domain.DateRange) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*)
		FROM booking_items bi
		JOIN bookings b ON b.id = bi.booking_id
		WHERE bi.unit_id = $1
		  AND b.status <> 'cancelled'
		  AND bi.check_in < $3
		  AND $2 < bi.check_out
	`, unitID, stay.CheckIn, stay.CheckOut).Scan(&n)
	return n, err
}

func (t *Tx) DecrementStock(ctx context.Context, unitID uuid.UUID, qty int) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE units SET stock = stock - $2 WHERE id = $1 AND stock >= $2
	`, unitID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *Tx) RestoreStock(ctx context.Context, unitID uuid.UUID, qty int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE units SET stock = stock + $2 WHERE id = $1`, unitID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func stayBounds(s *domain.DateRange) (checkIn, checkOut *time.Time) {
	if s == nil {
		return nil, nil
	}
	in, out := s.CheckIn, s.CheckOut
	return &in, &out
}

func (t *Tx) InsertBooking(ctx context.Context, b domain.Booking) error {
	in, out := stayBounds(b.Stay)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings (id, kind, contact_name, contact_email, contact_phone, check_in, check_out,
			status, total_amount, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, b.ID, string(b.Kind), b.Contact.Name, b.Contact.Email, b.Contact.Phone, in, out,
		string(b.Status), b.TotalAmount, b.Notes, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return err
	}

	// Items go out as one batch on the transaction's connection.
	batch := &pgx.Batch{}
	for i, it := range b.Items {
		in, out := stayBounds(it.Stay)
		batch.Queue(`
			INSERT INTO booking_items (id, booking_id, line_no, unit_id, unit_name, unit_price, quantity,
				check_in, check_out, guests, subtotal, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, it.ID, b.ID, i, it.UnitID, it.UnitName, it.UnitPrice, it.Quantity, in, out, it.Guests, it.Subtotal, it.CreatedAt)
	}
	br := t.tx.SendBatch(ctx, batch)
	for i := range b.Items {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return errors.Wrapf(err, "insert item %d", i)
		}
	}
	return br.Close()
}

func (t *Tx) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return t.loadBooking(ctx, id, "")
}

func (t *Tx) LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return t.loadBooking(ctx, id, " FOR UPDATE")
}

func (t *Tx) loadBooking(ctx context.Context, id uuid.UUID, lock string) (domain.Booking, error) {
	var (
		b            domain.Booking
		kind, status string
		in, out      *time.Time
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, kind, contact_name, contact_email, contact_phone, check_in, check_out,
			status, total_amount, notes, created_at, updated_at, read_at
		FROM bookings WHERE id = $1`+lock, id).
		Scan(&b.ID, &kind, &b.Contact.Name, &b.Contact.Email, &b.Contact.Phone, &in, &out,
			&status, &b.TotalAmount, &b.Notes, &b.CreatedAt, &b.UpdatedAt, &b.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	b.Kind, b.Status = domain.Kind(kind), domain.Status(status)
	if in != nil && out != nil {
		s := domain.NewDateRange(*in, *out)
		b.Stay = &s
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, unit_id, unit_name, unit_price, quantity, check_in, check_out, guests, subtotal, created_at
		FROM booking_items WHERE booking_id = $1 ORDER BY line_no
	`, id)
	if err != nil {
		return domain.Booking{}, err
	}
	defer rows.Close()

	for rows.Next() {
		it := domain.LineItem{BookingID: b.ID}
		var in, out *time.Time
		if err := rows.Scan(&it.ID, &it.UnitID, &it.UnitName, &it.UnitPrice, &it.Quantity,
			&in, &out, &it.Guests, &it.Subtotal, &it.CreatedAt); err != nil {
			return domain.Booking{}, err
		}
		if in != nil && out != nil {
			s := domain.NewDateRange(*in, *out)
			it.Stay = &s
		}
		b.Items = append(b.Items, it)
	}
	return b, rows.Err()
}

func (t *Tx) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *Tx) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE bookings SET read_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *Tx) DueForCompletion(ctx context.Context, day time.Time, limit int) ([]uuid.UUID, error) {
	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM bookings
		WHERE kind = 'dated' AND status = 'confirmed' AND check_out <= $1
		ORDER BY check_out, id
		LIMIT $2
	`, domain.Day(day), lim)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// AppendEvent records ev in the outbox of the current transaction.
func (t *Tx) AppendEvent(ctx context.Context, ev domain.BookingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return InsertOutbox(ctx, t.tx, OutboxRecord{
		ID:            ev.ID,
		AggregateType: "booking",
		AggregateID:   ev.BookingID,
		EventType:     ev.Type(),
		Payload:       payload,
		DedupeKey:     ev.ID.String(),
	})
}
