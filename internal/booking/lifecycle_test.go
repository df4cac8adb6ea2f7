package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/room-reservations-and-orders/internal/booking/bookingtest"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
)

func TestTransitionStatus_Table(t *testing.T) {
	paths := map[domain.Status][]domain.Status{
		domain.StatusPending:   {},
		domain.StatusConfirmed: {domain.StatusConfirmed},
		domain.StatusCompleted: {domain.StatusConfirmed, domain.StatusCompleted},
		domain.StatusCancelled: {domain.StatusCancelled},
	}
	targets := []domain.Status{
		domain.StatusPending, domain.StatusConfirmed, domain.StatusCompleted, domain.StatusCancelled, "archived",
	}

	for from, path := range paths {
		for _, to := range targets {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				svc, store := newService(t)
				tea := product(store, "Tea", "2.00", 5)
				ctx := context.Background()

				b, err := svc.CreateBooking(ctx, order(domain.StockItem{UnitID: tea.ID, Quantity: 1}))
				if err != nil {
					t.Fatal(err)
				}
				for _, step := range path {
					if _, err := svc.TransitionStatus(ctx, b.ID, step); err != nil {
						t.Fatalf("setup %s: %v", step, err)
					}
				}
				before := len(store.Events())

				got, err := svc.TransitionStatus(ctx, b.ID, to)
				if from.CanTransitionTo(to) {
					if err != nil {
						t.Fatalf("expected legal transition, got %v", err)
					}
					if got.Status != to {
						t.Errorf("expected status %s, got %s", to, got.Status)
					}
					events := store.Events()
					if len(events) != before+1 || events[len(events)-1].Type() != "booking."+string(to) {
						t.Errorf("expected a booking.%s event", to)
					}
					return
				}

				var ite *domain.InvalidTransitionError
				if !errors.As(err, &ite) || ite.From != from || ite.To != to {
					t.Fatalf("expected invalid transition %s->%s, got %v", from, to, err)
				}
				stored, _ := svc.GetBooking(ctx, b.ID)
				if stored.Status != from {
					t.Errorf("rejected transition changed status to %s", stored.Status)
				}
				if len(store.Events()) != before {
					t.Errorf("rejected transition emitted an event")
				}
			})
		}
	}
}

func TestTransitionStatus_CancelRestoresStockOnce(t *testing.T) {
	svc, store := newService(t)
	tea := product(store, "Tea", "2.00", 10)
	mug := product(store, "Mug", "5.00", 4)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, order(
		domain.StockItem{UnitID: tea.ID, Quantity: 3},
		domain.StockItem{UnitID: mug.ID, Quantity: 4},
		domain.StockItem{UnitID: tea.ID, Quantity: 2},
	))
	if err != nil {
		t.Fatal(err)
	}
	if u, _ := store.Unit(tea.ID); u.Stock != 5 {
		t.Fatalf("expected tea stock 5 after booking, got %d", u.Stock)
	}

	if _, err := svc.TransitionStatus(ctx, b.ID, domain.StatusConfirmed); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.TransitionStatus(ctx, b.ID, domain.StatusCancelled); err != nil {
		t.Fatal(err)
	}
	if u, _ := store.Unit(tea.ID); u.Stock != 10 {
		t.Errorf("expected tea stock restored to 10, got %d", u.Stock)
	}
	if u, _ := store.Unit(mug.ID); u.Stock != 4 {
		t.Errorf("expected mug stock restored to 4, got %d", u.Stock)
	}

	if _, err := svc.TransitionStatus(ctx, b.ID, domain.StatusCancelled); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second cancel to be rejected, got %v", err)
	}
	if u, _ := store.Unit(tea.ID); u.Stock != 10 {
		t.Errorf("second cancel restored stock again: %d", u.Stock)
	}
}

func TestTransitionStatus_CompletedKeepsStock(t *testing.T) {
	svc, store := newService(t)
	tea := product(store, "Tea", "2.00", 10)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, order(domain.StockItem{UnitID: tea.ID, Quantity: 3}))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []domain.Status{domain.StatusConfirmed, domain.StatusCompleted} {
		if _, err := svc.TransitionStatus(ctx, b.ID, s); err != nil {
			t.Fatal(err)
		}
	}
	if u, _ := store.Unit(tea.ID); u.Stock != 7 {
		t.Errorf("expected completed order to keep stock consumed, got %d", u.Stock)
	}
}

func TestTransitionStatus_CancelFreesRoom(t *testing.T) {
	svc, store := newService(t)
	r1 := room(store, "R1", "100")
	ctx := context.Background()
	june := stay("2024-06-01", "2024-06-05")

	b, err := svc.CreateBooking(ctx, reservation(june, domain.DatedItem{UnitID: r1.ID}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateBooking(ctx, reservation(stay("2024-06-03", "2024-06-06"),
		domain.DatedItem{UnitID: r1.ID})); !errors.Is(err, domain.ErrUnitUnavailable) {
		t.Fatalf("expected overlap rejection, got %v", err)
	}

	if _, err := svc.TransitionStatus(ctx, b.ID, domain.StatusCancelled); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateBooking(ctx, reservation(stay("2024-06-03", "2024-06-06"),
		domain.DatedItem{UnitID: r1.ID})); err != nil {
		t.Fatalf("expected cancelled stay to free the room, got %v", err)
	}
}

func TestTransitionStatus_UnknownBooking(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.TransitionStatus(context.Background(), uuid.New(), domain.StatusConfirmed)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteFinishedStays(t *testing.T) {
	store := bookingtest.NewMemoryStore()
	early := newServiceOn(store, time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	r1 := room(store, "R1", "100")
	r2 := room(store, "R2", "100")
	r3 := room(store, "R3", "100")

	create := func(unit uuid.UUID, in, out string, confirm bool) uuid.UUID {
		b, err := early.CreateBooking(ctx, reservation(stay(in, out), domain.DatedItem{UnitID: unit}))
		if err != nil {
			t.Fatal(err)
		}
		if confirm {
			if _, err := early.TransitionStatus(ctx, b.ID, domain.StatusConfirmed); err != nil {
				t.Fatal(err)
			}
		}
		return b.ID
	}
	finished := create(r1.ID, "2024-05-21", "2024-05-24", true)
	checkoutToday := create(r2.ID, "2024-05-22", "2024-05-25", true)
	stillStaying := create(r3.ID, "2024-05-22", "2024-05-30", true)
	unconfirmed := create(r1.ID, "2024-05-24", "2024-05-25", false)

	later := newServiceOn(store, time.Date(2024, 5, 25, 12, 0, 0, 0, time.UTC))
	n, err := later.CompleteFinishedStays(ctx, 100, 4)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 completions, got %d", n)
	}

	want := map[uuid.UUID]domain.Status{
		finished:      domain.StatusCompleted,
		checkoutToday: domain.StatusCompleted,
		stillStaying:  domain.StatusConfirmed,
		unconfirmed:   domain.StatusPending,
	}
	for id, status := range want {
		b, err := later.GetBooking(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if b.Status != status {
			t.Errorf("booking %s: expected %s, got %s", id, status, b.Status)
		}
	}

	n, err = later.CompleteFinishedStays(ctx, 100, 0)
	if err != nil || n != 0 {
		t.Fatalf("expected second sweep to be a no-op, got %d %v", n, err)
	}
}

func TestCompleteFinishedStays_Limit(t *testing.T) {
	store := bookingtest.NewMemoryStore()
	svc := newServiceOn(store, today)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := room(store, "R", "100")
		b, err := svc.CreateBooking(ctx, reservation(stay("2024-05-20", "2024-05-21"), domain.DatedItem{UnitID: r.ID}))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.TransitionStatus(ctx, b.ID, domain.StatusConfirmed); err != nil {
			t.Fatal(err)
		}
	}

	later := newServiceOn(store, today.AddDate(0, 0, 2))
	n, err := later.CompleteFinishedStays(ctx, 2, 2)
	if err != nil || n != 2 {
		t.Fatalf("expected limit of 2 completions, got %d %v", n, err)
	}
	n, err = later.CompleteFinishedStays(ctx, 2, 2)
	if err != nil || n != 1 {
		t.Fatalf("expected the remaining booking to complete, got %d %v", n, err)
	}
}

func TestTransitionStatus_RetriesConflicts(t *testing.T) {
	svc, store := newService(t)
	tea := product(store, "Tea", "2.00", 5)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, order(domain.StockItem{UnitID: tea.ID, Quantity: 1}))
	if err != nil {
		t.Fatal(err)
	}
	store.FailNextWithConflict(1)
	if _, err := svc.TransitionStatus(ctx, b.ID, domain.StatusCancelled); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if u, _ := store.Unit(tea.ID); u.Stock != 5 {
		t.Errorf("expected stock restored exactly once, got %d", u.Stock)
	}
	if store.TxCount() != 3 {
		t.Errorf("expected create plus two cancel attempts, got %d transactions", store.TxCount())
	}
}
