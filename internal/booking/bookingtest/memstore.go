// Package bookingtest provides in-memory implementations of the booking
// store and availability cache for tests.
package bookingtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/room-reservations-and-orders/internal/booking"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
)

// MemoryStore runs transactions one at a time against a copy of its state and
// swaps the copy in on success, which gives serializable semantics.
type MemoryStore struct {
	mu        sync.Mutex
	state     *state
	conflicts int
	txCount   int
}

type state struct {
	units    map[uuid.UUID]domain.Unit
	bookings map[uuid.UUID]domain.Booking
	events   []domain.BookingEvent
}

func (s *state) clone() *state {
	c := &state{
		units:    make(map[uuid.UUID]domain.Unit, len(s.units)),
		bookings: make(map[uuid.UUID]domain.Booking, len(s.bookings)),
		events:   append([]domain.BookingEvent(nil), s.events...),
	}
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &state{
		units:    map[uuid.UUID]domain.Unit{},
		bookings: map[uuid.UUID]domain.Booking{},
	}}
}

var _ booking.Store = (*MemoryStore)(nil)

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrConcurrencyConflict
	}
	work := m.state.clone()
	if err := fn(ctx, &memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// FailNextWithConflict makes the next n transactions fail with
// domain.ErrConcurrencyConflict before running.
func (m *MemoryStore) FailNextWithConflict(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

// TxCount reports how many transactions were started.
func (m *MemoryStore) TxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCount
}

func (m *MemoryStore) PutUnit(u domain.Unit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.units[u.ID] = u
}

func (m *MemoryStore) Unit(id uuid.UUID) (domain.Unit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.units[id]
	return u, ok
}

func (m *MemoryStore) Bookings() []domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Booking, 0, len(m.state.bookings))
	for _, b := range m.state.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) Events() []domain.BookingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BookingEvent(nil), m.state.events...)
}

type memTx struct {
	s *state
}

func (t *memTx) LockUnit(_ context.Context, id uuid.UUID) (domain.Unit, error) {
	return t.unit(id)
}

func (t *memTx) GetUnit(_ context.Context, id uuid.UUID) (domain.Unit, error) {
	return t.unit(id)
}

func (t *memTx) unit(id uuid.UUID) (domain.Unit, error) {
	u, ok := t.s.units[id]
	if !ok {
		return domain.Unit{}, domain.ErrNotFound
	}
	return u, nil
}

func (t *memTx) CountOverlapping(_ context.Context, unitID uuid.UUID, stay domain.DateRange) (int, error) {
	n := 0
	for _, b := range t.s.bookings {
		if b.Status == domain.StatusCancelled {
			continue
		}
		for _, it := range b.Items {
			if it.UnitID == unitID && it.Stay != nil && it.Stay.Overlaps(stay) {
				n++
			}
		}
	}
	return n, nil
}

func (t *memTx) DecrementStock(_ context.Context, unitID uuid.UUID, qty int) (bool, error) {
	u, ok := t.s.units[unitID]
	if !ok || u.Stock < qty {
		return false, nil
	}
	u.Stock -= qty
	t.s.units[unitID] = u
	return true, nil
}

func (t *memTx) RestoreStock(_ context.Context, unitID uuid.UUID, qty int) error {
	u, ok := t.s.units[unitID]
	if !ok {
		return fmt.Errorf("restore stock: %w", domain.ErrNotFound)
	}
	u.Stock += qty
	t.s.units[unitID] = u
	return nil
}

func (t *memTx) InsertBooking(_ context.Context, b domain.Booking) error {
	if _, ok := t.s.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	b.Items = append([]domain.LineItem(nil), b.Items...)
	t.s.bookings[b.ID] = b
	return nil
}

func (t *memTx) GetBooking(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (t *memTx) LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return t.GetBooking(ctx, id)
}

func (t *memTx) UpdateStatus(_ context.Context, id uuid.UUID, status domain.Status, at time.Time) error {
	b, ok := t.s.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = at
	t.s.bookings[id] = b
	return nil
}

func (t *memTx) MarkRead(_ context.Context, id uuid.UUID, at time.Time) error {
	b, ok := t.s.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.ReadAt = &at
	t.s.bookings[id] = b
	return nil
}

func (t *memTx) DueForCompletion(_ context.Context, day time.Time, limit int) ([]uuid.UUID, error) {
	var due []domain.Booking
	for _, b := range t.s.bookings {
		if b.Kind == domain.KindDated && b.Status == domain.StatusConfirmed && b.Stay != nil && !b.Stay.CheckOut.After(day) {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Stay.CheckOut.Before(due[j].Stay.CheckOut) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, len(due))
	for i, b := range due {
		ids[i] = b.ID
	}
	return ids, nil
}

func (t *memTx) AppendEvent(_ context.Context, ev domain.BookingEvent) error {
	t.s.events = append(t.s.events, ev)
	return nil
}
