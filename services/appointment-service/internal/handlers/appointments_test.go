package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/model"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/outbox"
)

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

type fakeAppointments struct {
	listFn         func(ctx context.Context, userID int64, limit, offset int) ([]model.Appointment, error)
	slotTakenFn    func(ctx context.Context, providerID int64, date time.Time) (bool, error)
	createFn       func(ctx context.Context, userID, providerID int64, date time.Time) (model.Appointment, error)
	getForUpdateFn func(ctx context.Context, tx pgx.Tx, id int64) (model.Appointment, error)
	cancelFn       func(ctx context.Context, tx pgx.Tx, id int64) (time.Time, error)

	beginCalls int
	committed  bool
	rolledBack bool
}

type fakeTx struct {
	pgx.Tx
	owner *fakeAppointments
}

func (t *fakeTx) Commit(context.Context) error {
	t.owner.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.owner.rolledBack = true
	return nil
}

func (f *fakeAppointments) Begin(context.Context) (pgx.Tx, error) {
	f.beginCalls++
	return &fakeTx{owner: f}, nil
}

func (f *fakeAppointments) ListByCustomer(ctx context.Context, userID int64, limit, offset int) ([]model.Appointment, error) {
	if f.listFn == nil {
		panic("ListByCustomer not configured")
	}
	return f.listFn(ctx, userID, limit, offset)
}

func (f *fakeAppointments) SlotTaken(ctx context.Context, providerID int64, date time.Time) (bool, error) {
	if f.slotTakenFn == nil {
		return false, nil
	}
	return f.slotTakenFn(ctx, providerID, date)
}

func (f *fakeAppointments) Create(ctx context.Context, userID, providerID int64, date time.Time) (model.Appointment, error) {
	if f.createFn == nil {
		panic("Create not configured")
	}
	return f.createFn(ctx, userID, providerID, date)
}

func (f *fakeAppointments) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (model.Appointment, error) {
	if f.getForUpdateFn == nil {
		panic("GetForUpdate not configured")
	}
	return f.getForUpdateFn(ctx, tx, id)
}

func (f *fakeAppointments) Cancel(ctx context.Context, tx pgx.Tx, id int64) (time.Time, error) {
	if f.cancelFn == nil {
		panic("Cancel not configured")
	}
	return f.cancelFn(ctx, tx, id)
}

type fakeUsers struct {
	users     map[int64]model.User
	providers map[int64]bool
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return model.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (f *fakeUsers) IsProvider(_ context.Context, id int64) (bool, error) {
	return f.providers[id], nil
}

type fakeOutbox struct {
	events []outbox.Event
}

func (f *fakeOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeNotifier struct {
	contents []string
	users    []int64
}

func (f *fakeNotifier) Append(_ context.Context, userID int64, content string) error {
	f.users = append(f.users, userID)
	f.contents = append(f.contents, content)
	return nil
}

type utcFormatter struct{}

func (utcFormatter) FormatLong(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(appts *fakeAppointments, users *fakeUsers, ob *fakeOutbox, n *fakeNotifier) *AppointmentHandler {
	h := NewAppointmentHandler(appts, users, ob, n, utcFormatter{}, slog.New(slog.DiscardHandler))
	h.now = func() time.Time { return testNow }
	return h
}

func doRequest(h http.HandlerFunc, method, target, body string, userID int64) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if userID != 0 {
		r = r.WithContext(context.WithValue(r.Context(), ctxKeyUserID, userID))
	}
	rw := httptest.NewRecorder()
	h(rw, r)
	return rw
}

func errorMessage(t *testing.T, rw *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body %q: %v", rw.Body.String(), err)
	}
	return resp["error"]
}

func TestCreate_SelfBooking(t *testing.T) {
	h := newTestHandler(&fakeAppointments{}, &fakeUsers{providers: map[int64]bool{1: true}}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.Appointments, http.MethodPost, "/api/v1/appointments",
		`{"provider_id":1,"date":"2026-09-02T10:00:00Z"}`, 1)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rw.Code)
	}
	if msg := errorMessage(t, rw); !strings.Contains(msg, "same as the user") {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestCreate_TargetNotProvider(t *testing.T) {
	users := &fakeUsers{providers: map[int64]bool{}}
	h := newTestHandler(&fakeAppointments{}, users, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.Appointments, http.MethodPost, "/api/v1/appointments",
		`{"provider_id":2,"date":"2026-09-02T10:00:00Z"}`, 1)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rw.Code)
	}
	if msg := errorMessage(t, rw); !strings.Contains(msg, "providers") {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestCreate_PastDate(t *testing.T) {
	h := newTestHandler(&fakeAppointments{}, &fakeUsers{providers: map[int64]bool{2: true}}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.Appointments, http.MethodPost, "/api/v1/appointments",
		`{"provider_id":2,"date":"2026-08-31T10:00:00Z"}`, 1)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rw.Code)
	}
	if msg := errorMessage(t, rw); !strings.Contains(msg, "past") {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestCreate_PastDateAfterTruncation(t *testing.T) {
	// 12:30 truncates to 12:00, which equals now and is not past; but
	// 11:59 truncates to 11:00 and is rejected.
	h := newTestHandler(&fakeAppointments{}, &fakeUsers{providers: map[int64]bool{2: true}}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.Appointments, http.MethodPost, "/api/v1/appointments",
		`{"provider_id":2,"date":"2026-09-01T11:59:00Z"}`, 1)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rw.Code)
	}
}

func TestCreate_SlotTaken(t *testing.T) {
	appts := &fakeAppointments{
		slotTakenFn: func(context.Context, int64, time.Time) (bool, error) {
			return true, nil
		},
	}
	h := newTestHandler(appts, &fakeUsers{providers: map[int64]bool{2: true}}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.Appointments, http.MethodPost, "/api/v1/appointments",
		`{"provider_id":2,"date":"2026-09-02T10:00:00Z"}`, 1)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rw.Code)
	}
	if msg := errorMessage(t, rw); !strings.Contains(msg, "not available") {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestCreate_ValidationFails(t *testing.T) {
	h := newTestHandler(&fakeAppointments{}, &fakeUsers{}, &fakeOutbox{}, &fakeNotifier{})

	for _, body := range []string{
		`not json`,
		`{"date":"2026-09-02T10:00:00Z"}`,
		`{"provider_id":2}`,
		`{"provider_id":2,"date":"02/09/2026"}`,
	} {
		rw := doRequest(h.Appointments, http.MethodPost, "/api/v1/appointments", body, 1)
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rw.Code)
		}
		if msg := errorMessage(t, rw); msg != "validation fails" {
			t.Fatalf("body %q: error = %q", body, msg)
		}
	}
}

func TestCreate_Success_TruncatesAndNotifies(t *testing.T) {
	var storedDate time.Time
	appts := &fakeAppointments{
		createFn: func(_ context.Context, userID, providerID int64, date time.Time) (model.Appointment, error) {
			storedDate = date
			return model.Appointment{ID: 10, UserID: userID, ProviderID: providerID, Date: date}, nil
		},
	}
	users := &fakeUsers{
		providers: map[int64]bool{2: true},
		users:     map[int64]model.User{1: {ID: 1, Name: "Ana"}},
	}
	notifier := &fakeNotifier{}
	h := newTestHandler(appts, users, &fakeOutbox{}, notifier)

	rw := doRequest(h.Appointments, http.MethodPost, "/api/v1/appointments",
		`{"provider_id":2,"date":"2026-09-02T10:35:40Z"}`, 1)

	if rw.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rw.Code, rw.Body.String())
	}

	want := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	if !storedDate.Equal(want) {
		t.Fatalf("stored date = %s, want hour-truncated %s", storedDate, want)
	}

	var resp appointmentResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.ID != 10 || resp.UserID != 1 || resp.ProviderID != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Date != "2026-09-02T10:00:00Z" {
		t.Fatalf("response date = %q", resp.Date)
	}
	if resp.Past || !resp.Cancelable {
		t.Fatalf("derived flags wrong: past=%v cancelable=%v", resp.Past, resp.Cancelable)
	}

	if len(notifier.users) != 1 || notifier.users[0] != 2 {
		t.Fatalf("notification recipients = %v, want [2]", notifier.users)
	}
	wantContent := "Novo agendamento de Ana para 2026-09-02 10:00"
	if notifier.contents[0] != wantContent {
		t.Fatalf("notification content = %q, want %q", notifier.contents[0], wantContent)
	}
}

func TestCreate_ConflictOnInsert(t *testing.T) {
	appts := &fakeAppointments{
		createFn: func(context.Context, int64, int64, time.Time) (model.Appointment, error) {
			return model.Appointment{}, uniqueViolation()
		},
	}
	h := newTestHandler(appts, &fakeUsers{providers: map[int64]bool{2: true}}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.Appointments, http.MethodPost, "/api/v1/appointments",
		`{"provider_id":2,"date":"2026-09-02T10:00:00Z"}`, 1)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rw.Code)
	}
	if msg := errorMessage(t, rw); !strings.Contains(msg, "not available") {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestList_DerivedFields(t *testing.T) {
	scheduled := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC) // 3h ahead of testNow
	soon := time.Date(2026, 9, 1, 13, 0, 0, 0, time.UTC)      // 1h ahead
	appts := &fakeAppointments{
		listFn: func(_ context.Context, userID int64, limit, offset int) ([]model.Appointment, error) {
			if userID != 1 || limit != 20 || offset != 20 {
				t.Fatalf("unexpected query: user=%d limit=%d offset=%d", userID, limit, offset)
			}
			return []model.Appointment{
				{ID: 1, UserID: 1, ProviderID: 2, Date: soon, Provider: &model.User{ID: 2, Name: "Bia", Avatar: &model.Avatar{ID: 5, Path: "a.png", URL: "http://x/a.png"}}},
				{ID: 2, UserID: 1, ProviderID: 3, Date: scheduled, Provider: &model.User{ID: 3, Name: "Caio"}},
			}, nil
		},
	}
	h := newTestHandler(appts, &fakeUsers{}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.Appointments, http.MethodGet, "/api/v1/appointments?page=2", "", 1)
	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}

	var items []listAppointmentItem
	if err := json.Unmarshal(rw.Body.Bytes(), &items); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Cancelable {
		t.Fatal("appointment 1h ahead must not be cancelable")
	}
	if !items[1].Cancelable {
		t.Fatal("appointment 3h ahead must be cancelable")
	}
	if items[0].Past || items[1].Past {
		t.Fatal("future appointments must not be past")
	}
	if items[0].Provider.Avatar == nil || items[0].Provider.Avatar.URL != "http://x/a.png" {
		t.Fatalf("avatar not joined: %+v", items[0].Provider)
	}
	if items[1].Provider.Avatar != nil {
		t.Fatal("provider without avatar must serialize null avatar")
	}
}

func TestList_EmptyIsValid(t *testing.T) {
	appts := &fakeAppointments{
		listFn: func(context.Context, int64, int, int) ([]model.Appointment, error) {
			return nil, nil
		},
	}
	h := newTestHandler(appts, &fakeUsers{}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.Appointments, http.MethodGet, "/api/v1/appointments", "", 1)
	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
	if strings.TrimSpace(rw.Body.String()) != "[]" {
		t.Fatalf("body = %q, want []", rw.Body.String())
	}
}

func cancelFixture(date time.Time, canceledAt *time.Time) *fakeAppointments {
	return &fakeAppointments{
		getForUpdateFn: func(_ context.Context, _ pgx.Tx, id int64) (model.Appointment, error) {
			return model.Appointment{
				ID:         id,
				UserID:     1,
				ProviderID: 2,
				Date:       date,
				CanceledAt: canceledAt,
				Provider:   &model.User{ID: 2, Name: "Bia", Email: "bia@example.com"},
				Customer:   &model.User{ID: 1, Name: "Ana"},
			}, nil
		},
		cancelFn: func(context.Context, pgx.Tx, int64) (time.Time, error) {
			return testNow, nil
		},
	}
}

func TestCancel_NotOwner(t *testing.T) {
	appts := cancelFixture(testNow.Add(5*time.Hour), nil)
	h := newTestHandler(appts, &fakeUsers{}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.CancelByID, http.MethodDelete, "/api/v1/appointments/9", "", 3)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rw.Code)
	}
	if msg := errorMessage(t, rw); !strings.Contains(msg, "permission") {
		t.Fatalf("unexpected error %q", msg)
	}
	if appts.committed {
		t.Fatal("tx must not commit on rejection")
	}
}

func TestCancel_NotFound(t *testing.T) {
	appts := &fakeAppointments{
		getForUpdateFn: func(context.Context, pgx.Tx, int64) (model.Appointment, error) {
			return model.Appointment{}, pgx.ErrNoRows
		},
	}
	h := newTestHandler(appts, &fakeUsers{}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.CancelByID, http.MethodDelete, "/api/v1/appointments/404", "", 1)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rw.Code)
	}
}

func TestCancel_BadID(t *testing.T) {
	h := newTestHandler(&fakeAppointments{}, &fakeUsers{}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.CancelByID, http.MethodDelete, "/api/v1/appointments/abc", "", 1)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rw.Code)
	}
}

func TestCancel_AlreadyCanceled(t *testing.T) {
	prev := testNow.Add(-time.Hour)
	appts := cancelFixture(testNow.Add(5*time.Hour), &prev)
	h := newTestHandler(appts, &fakeUsers{}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.CancelByID, http.MethodDelete, "/api/v1/appointments/9", "", 1)
	if rw.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rw.Code)
	}
}

func TestCancel_InsideNoticePeriod(t *testing.T) {
	appts := cancelFixture(testNow.Add(time.Hour), nil)
	h := newTestHandler(appts, &fakeUsers{}, &fakeOutbox{}, &fakeNotifier{})

	rw := doRequest(h.CancelByID, http.MethodDelete, "/api/v1/appointments/9", "", 1)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rw.Code)
	}
	if msg := errorMessage(t, rw); !strings.Contains(msg, "2 hours") {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestCancel_Success_EmitsEvent(t *testing.T) {
	appts := cancelFixture(testNow.Add(3*time.Hour), nil)
	ob := &fakeOutbox{}
	h := newTestHandler(appts, &fakeUsers{}, ob, &fakeNotifier{})

	rw := doRequest(h.CancelByID, http.MethodDelete, "/api/v1/appointments/9", "", 1)
	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rw.Code, rw.Body.String())
	}
	if !appts.committed {
		t.Fatal("tx must commit on success")
	}

	var resp appointmentResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.CanceledAt == nil || *resp.CanceledAt != testNow.Format(time.RFC3339) {
		t.Fatalf("canceled_at = %v", resp.CanceledAt)
	}
	if resp.Cancelable {
		t.Fatal("cancelled appointment must not be cancelable")
	}

	if len(ob.events) != 1 {
		t.Fatalf("outbox events = %d, want 1", len(ob.events))
	}
	evt := ob.events[0]
	if evt.EventType != outbox.EventAppointmentCancelled {
		t.Fatalf("event type = %q", evt.EventType)
	}
	if evt.AggregateID != "9" {
		t.Fatalf("aggregate id = %q", evt.AggregateID)
	}
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("invalid event payload: %v", err)
	}
	provider, _ := payload["provider"].(map[string]any)
	if provider["email"] != "bia@example.com" {
		t.Fatalf("event payload missing provider email: %v", payload)
	}
	customer, _ := payload["customer"].(map[string]any)
	if customer["name"] != "Ana" {
		t.Fatalf("event payload missing customer name: %v", payload)
	}
}
