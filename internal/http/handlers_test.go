package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/room-reservations-and-orders/internal/adapters/mongo"
	"github.com/robertarktes/room-reservations-and-orders/internal/booking"
	"github.com/robertarktes/room-reservations-and-orders/internal/booking/bookingtest"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
	"github.com/robertarktes/room-reservations-and-orders/internal/idempotency"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
	"github.com/shopspring/decimal"
)

var today = time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fixture struct {
	server *httptest.Server
	store  *bookingtest.MemoryStore
	tea    domain.Unit
	room   domain.Unit
}

const secret = "test-secret"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := bookingtest.NewMemoryStore()
	tea := domain.Unit{ID: uuid.New(), Name: "Tea", Kind: domain.KindStock, Price: decimal.RequireFromString("4.50"), Stock: 5, Available: true}
	room := domain.Unit{ID: uuid.New(), Name: "R1", Kind: domain.KindDated, Price: decimal.RequireFromString("100.00"), MaxCapacity: 2, Available: true}
	store.PutUnit(tea)
	store.PutUnit(room)

	logger := observability.NopLogger()
	svc := booking.NewService(store, logger,
		booking.WithClock(func() time.Time { return today }),
		booking.WithRetry(2, time.Millisecond),
		booking.WithCache(bookingtest.NewMemoryCache()),
	)
	h := NewHandlers(svc, pinger{}, logger)
	h.now = func() time.Time { return today }

	router := SetupRouter(h, logger, RouterConfig{
		AdminJWTSecret: secret,
		Idempotency:    idempotency.NewIdempotency(idempotency.NewMemoryBackend(), time.Hour),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &fixture{server: srv, store: store, tea: tea, room: room}
}

func adminToken(t *testing.T, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops-1",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func contactJSON() map[string]string {
	return map[string]string{"name": "Ada Lovelace", "email": "ada@example.com", "phone": "+44 20 7946 0000"}
}

func TestCreateBooking_Stock(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/v1/bookings", map[string]any{
		"kind":    "stock",
		"contact": contactJSON(),
		"items":   []map[string]any{{"unit_id": f.tea.ID, "quantity": 2}},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}

	var got bookingResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending || !got.TotalAmount.Equal(decimal.RequireFromString("9")) {
		t.Errorf("unexpected booking %+v", got)
	}
	if resp.Header.Get("Location") != "/v1/bookings/"+got.ID.String() {
		t.Errorf("unexpected location %q", resp.Header.Get("Location"))
	}

	resp, body = f.do(t, http.MethodGet, "/v1/bookings/"+got.ID.String(), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
}

func TestCreateBooking_Dated(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/v1/bookings", map[string]any{
		"kind":      "dated",
		"contact":   contactJSON(),
		"check_in":  "2024-06-01",
		"check_out": "2024-06-05",
		"items":     []map[string]any{{"unit_id": f.room.ID, "guests": 2}},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var got bookingResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.CheckIn != "2024-06-01" || got.CheckOut != "2024-06-05" || got.Items[0].Quantity != 4 {
		t.Errorf("unexpected reservation %+v", got)
	}

	resp, body = f.do(t, http.MethodPost, "/v1/bookings", map[string]any{
		"kind":      "dated",
		"contact":   contactJSON(),
		"check_in":  "2024-06-04",
		"check_out": "2024-06-06",
		"items":     []map[string]any{{"unit_id": f.room.ID}},
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for overlap, got %d: %s", resp.StatusCode, body)
	}
	var errBody errorResponse
	json.Unmarshal(body, &errBody)
	if errBody.ErrorKind != "unit_unavailable" || errBody.UnitID != f.room.ID.String() {
		t.Errorf("unexpected error body %+v", errBody)
	}
}

func TestCreateBooking_ValidationReportsAllFields(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/v1/bookings", map[string]any{
		"kind":      "dated",
		"contact":   map[string]string{"email": "nope"},
		"check_in":  "June 1st",
		"check_out": "2024-06-05",
		"items":     []map[string]any{{"unit_id": "not-a-uuid"}},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}
	var errBody errorResponse
	if err := json.Unmarshal(body, &errBody); err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, fe := range errBody.Fields {
		seen[fe.Field] = true
	}
	for _, field := range []string{"check_in", "items[0].unit_id", "contact.name", "contact.email", "contact.phone"} {
		if !seen[field] {
			t.Errorf("expected %s in %+v", field, errBody.Fields)
		}
	}
	if errBody.ErrorKind != "validation" {
		t.Errorf("unexpected kind %q", errBody.ErrorKind)
	}
}

func TestCreateBooking_UnknownKind(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/v1/bookings", map[string]any{"kind": "voucher"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateBooking_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/v1/bookings", map[string]any{
		"kind":    "stock",
		"contact": contactJSON(),
		"items":   []map[string]any{{"unit_id": f.tea.ID, "quantity": 6}},
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.StatusCode, body)
	}
	var errBody errorResponse
	json.Unmarshal(body, &errBody)
	if errBody.ErrorKind != "insufficient_stock" || errBody.Available == nil || *errBody.Available != 5 {
		t.Errorf("unexpected error body %s", body)
	}
}

func TestCreateBooking_ConcurrencyConflictIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.store.FailNextWithConflict(2)
	resp, body := f.do(t, http.MethodPost, "/v1/bookings", map[string]any{
		"kind":    "stock",
		"contact": contactJSON(),
		"items":   []map[string]any{{"unit_id": f.tea.ID, "quantity": 1}},
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.StatusCode, body)
	}
	var errBody errorResponse
	json.Unmarshal(body, &errBody)
	if !errBody.Retryable || errBody.ErrorKind != "concurrency_conflict" {
		t.Errorf("unexpected error body %s", body)
	}
}

func TestCreateBooking_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	payload := map[string]any{
		"kind":    "stock",
		"contact": contactJSON(),
		"items":   []map[string]any{{"unit_id": f.tea.ID, "quantity": 1}},
	}
	headers := map[string]string{"Idempotency-Key": "order-2024-05-20-0001"}

	first, firstBody := f.do(t, http.MethodPost, "/v1/bookings", payload, headers)
	second, secondBody := f.do(t, http.MethodPost, "/v1/bookings", payload, headers)
	if first.StatusCode != http.StatusCreated || second.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected statuses %d %d", first.StatusCode, second.StatusCode)
	}
	if !bytes.Equal(firstBody, secondBody) || second.Header.Get("Idempotent-Replayed") != "true" {
		t.Errorf("expected replayed response")
	}
	if n := len(f.store.Bookings()); n != 1 {
		t.Errorf("expected one booking, got %d", n)
	}

	resp, _ := f.do(t, http.MethodPost, "/v1/bookings", payload, map[string]string{"Idempotency-Key": "short"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected short key to be rejected, got %d", resp.StatusCode)
	}
}

func TestCreateBooking_IdempotencyKeyIsPerClient(t *testing.T) {
	f := newFixture(t)
	handler := f.server.Config.Handler
	payload := map[string]any{
		"kind":    "stock",
		"contact": contactJSON(),
		"items":   []map[string]any{{"unit_id": f.tea.ID, "quantity": 1}},
	}

	post := func(remoteAddr string) *httptest.ResponseRecorder {
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodPost, "/v1/bookings", bytes.NewReader(body))
		req.RemoteAddr = remoteAddr
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "shared-key-0000000001")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := post("10.0.0.1:40000")
	second := post("10.0.0.2:40000")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses %d %d", first.Code, second.Code)
	}
	if second.Header().Get("Idempotent-Replayed") != "" || bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("second client received the first client's stored response")
	}
	if n := len(f.store.Bookings()); n != 2 {
		t.Errorf("expected a booking per client, got %d", n)
	}

	if again := post("10.0.0.1:40001"); again.Header().Get("Idempotent-Replayed") != "true" {
		t.Errorf("expected the first client to get its stored response")
	}
}

func TestTransitionStatus(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/v1/bookings", map[string]any{
		"kind":    "stock",
		"contact": contactJSON(),
		"items":   []map[string]any{{"unit_id": f.tea.ID, "quantity": 3}},
	}, nil)
	var created bookingResponse
	json.Unmarshal(body, &created)
	path := "/v1/bookings/" + created.ID.String() + "/status"

	resp, _ := f.do(t, http.MethodPost, path, statusRequest{Status: "confirmed"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, path, statusRequest{Status: "confirmed"},
		map[string]string{"Authorization": "Bearer " + adminToken(t, "customer")})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}

	admin := map[string]string{"Authorization": "Bearer " + adminToken(t, "admin")}
	resp, body = f.do(t, http.MethodPost, path, statusRequest{Status: "cancelled"}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if u, _ := f.store.Unit(f.tea.ID); u.Stock != 5 {
		t.Errorf("expected stock restored, got %d", u.Stock)
	}

	resp, body = f.do(t, http.MethodPost, path, statusRequest{Status: "confirmed"}, admin)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for terminal booking, got %d: %s", resp.StatusCode, body)
	}
	var errBody errorResponse
	json.Unmarshal(body, &errBody)
	if errBody.ErrorKind != "invalid_transition" {
		t.Errorf("unexpected error body %s", body)
	}

	resp, _ = f.do(t, http.MethodPost, "/v1/bookings/"+uuid.NewString()+"/status", statusRequest{Status: "confirmed"}, admin)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/v1/bookings", map[string]any{
		"kind":    "stock",
		"contact": contactJSON(),
		"items":   []map[string]any{{"unit_id": f.tea.ID, "quantity": 1}},
	}, nil)
	var created bookingResponse
	json.Unmarshal(body, &created)

	admin := map[string]string{"Authorization": "Bearer " + adminToken(t, "admin")}
	resp, _ := f.do(t, http.MethodPost, "/v1/bookings/"+created.ID.String()+"/read", nil, admin)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	_, body = f.do(t, http.MethodGet, "/v1/bookings/"+created.ID.String(), nil, nil)
	var got bookingResponse
	json.Unmarshal(body, &got)
	if got.ReadAt == nil || !got.UpdatedAt.Equal(created.UpdatedAt) {
		t.Errorf("expected read_at set and updated_at untouched, got %+v", got)
	}
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		path   string
		status int
		want   bool
	}{
		{"/v1/units/" + f.tea.ID.String() + "/availability?quantity=5", http.StatusOK, true},
		{"/v1/units/" + f.tea.ID.String() + "/availability?quantity=6", http.StatusOK, false},
		{"/v1/units/" + f.room.ID.String() + "/availability?check_in=2024-06-01&check_out=2024-06-03", http.StatusOK, true},
		{"/v1/units/" + f.room.ID.String() + "/availability?check_in=2024-06-01", http.StatusBadRequest, false},
		{"/v1/units/" + f.tea.ID.String() + "/availability", http.StatusBadRequest, false},
		{"/v1/units/" + uuid.NewString() + "/availability?quantity=1", http.StatusNotFound, false},
		{"/v1/units/nope/availability?quantity=1", http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		resp, body := f.do(t, http.MethodGet, tc.path, nil, nil)
		if resp.StatusCode != tc.status {
			t.Errorf("%s: expected %d, got %d: %s", tc.path, tc.status, resp.StatusCode, body)
			continue
		}
		if tc.status == http.StatusOK {
			var out map[string]bool
			json.Unmarshal(body, &out)
			if out["available"] != tc.want {
				t.Errorf("%s: expected available=%v", tc.path, tc.want)
			}
		}
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	if resp, _ := f.do(t, http.MethodGet, "/v1/healthz", nil, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodGet, "/v1/readyz", nil, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz: %d", resp.StatusCode)
	}

	h := NewHandlers(nil, pinger{err: errors.New("down")}, observability.NopLogger())
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/v1/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the database is down, got %d", rec.Code)
	}
}

type history struct {
	logs map[string][]mongoadapter.AuditLog
}

func (h history) History(_ context.Context, bookingID string) ([]mongoadapter.AuditLog, error) {
	return h.logs[bookingID], nil
}

func TestBookingHistory(t *testing.T) {
	id := uuid.New()
	at := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	logger := observability.NopLogger()
	h := NewHandlers(nil, pinger{}, logger)
	router := SetupRouter(h, logger, RouterConfig{
		AdminJWTSecret: secret,
		History: history{logs: map[string][]mongoadapter.AuditLog{id.String(): {
			{ID: "e1", Action: "booking.created", BookingID: id.String(), Status: "pending", TotalAmount: "9", OccurredAt: at},
			{ID: "e2", Action: "booking.confirmed", BookingID: id.String(), Status: "confirmed", Previous: "pending", TotalAmount: "9", OccurredAt: at.Add(time.Minute)},
		}}},
	})

	get := func(path string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := get("/v1/bookings/"+id.String()+"/history", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	admin := map[string]string{"Authorization": "Bearer " + adminToken(t, "admin")}
	rec := get("/v1/bookings/"+id.String()+"/history", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var got []historyEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Action != "booking.created" || got[1].Previous != "pending" {
		t.Errorf("unexpected history %+v", got)
	}

	rec = get("/v1/bookings/"+uuid.NewString()+"/history", admin)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("expected an empty trail, got %d %q", rec.Code, rec.Body)
	}
}
