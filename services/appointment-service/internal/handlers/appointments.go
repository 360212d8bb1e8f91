package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mvasconcelos/agendai/libs/httpx"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/model"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/outbox"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/schedule"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/storage"
)

type AppointmentStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	ListByCustomer(ctx context.Context, userID int64, limit, offset int) ([]model.Appointment, error)
	SlotTaken(ctx context.Context, providerID int64, date time.Time) (bool, error)
	Create(ctx context.Context, userID, providerID int64, date time.Time) (model.Appointment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (model.Appointment, error)
	Cancel(ctx context.Context, tx pgx.Tx, id int64) (time.Time, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id int64) (model.User, error)
	IsProvider(ctx context.Context, id int64) (bool, error)
}

type OutboxStore interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// Notifier delivers the in-app booking notification; failures are logged,
// never surfaced to the booking customer.
type Notifier interface {
	Append(ctx context.Context, userID int64, content string) error
}

// DateFormatter renders the slot time for user-facing copy, keeping the
// locale out of the booking rules.
type DateFormatter interface {
	FormatLong(t time.Time) string
}

type AppointmentHandler struct {
	appointments AppointmentStore
	users        UserStore
	outbox       OutboxStore
	notifier     Notifier
	dates        DateFormatter
	logger       *slog.Logger
	now          func() time.Time
}

func NewAppointmentHandler(appointments AppointmentStore, users UserStore, outboxStore OutboxStore, notifier Notifier, dates DateFormatter, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		appointments: appointments,
		users:        users,
		outbox:       outboxStore,
		notifier:     notifier,
		dates:        dates,
		logger:       logger,
		now:          time.Now,
	}
}

type createAppointmentRequest struct {
	ProviderID int64  `json:"provider_id"`
	Date       string `json:"date"`
}

type avatarItem struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

type providerItem struct {
	ID     int64       `json:"id"`
	Name   string      `json:"name"`
	Avatar *avatarItem `json:"avatar"`
}

type listAppointmentItem struct {
	ID         int64        `json:"id"`
	Date       string       `json:"date"`
	Past       bool         `json:"past"`
	Cancelable bool         `json:"cancelable"`
	Provider   providerItem `json:"provider"`
}

type appointmentResponse struct {
	ID         int64   `json:"id"`
	UserID     int64   `json:"user_id"`
	ProviderID int64   `json:"provider_id"`
	Date       string  `json:"date"`
	CanceledAt *string `json:"canceled_at"`
	Past       bool    `json:"past"`
	Cancelable bool    `json:"cancelable"`
}

// Appointments serves the collection route: GET lists the requester's
// upcoming appointments, POST books a new one.
func (h *AppointmentHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AppointmentHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "token invalid")
		return
	}

	page := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}

	appts, err := h.appointments.ListByCustomer(r.Context(), userID, schedule.PageSize, schedule.Offset(page))
	if err != nil {
		h.logger.Error("list appointments failed", "err", err, "user_id", userID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	now := h.now()
	items := make([]listAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := listAppointmentItem{
			ID:         appt.ID,
			Date:       appt.Date.UTC().Format(time.RFC3339),
			Past:       schedule.IsPast(appt.Date, now),
			Cancelable: schedule.IsCancelable(appt.Date, now),
		}
		if appt.Provider != nil {
			item.Provider = providerItem{ID: appt.Provider.ID, Name: appt.Provider.Name}
			if appt.Provider.Avatar != nil {
				item.Provider.Avatar = &avatarItem{
					ID:   appt.Provider.Avatar.ID,
					Path: appt.Provider.Avatar.Path,
					URL:  appt.Provider.Avatar.URL,
				}
			}
		}
		items = append(items, item)
	}

	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "token invalid")
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation fails")
		return
	}
	if req.ProviderID <= 0 || strings.TrimSpace(req.Date) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "validation fails")
		return
	}
	date, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Date))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation fails")
		return
	}

	if req.ProviderID == userID {
		httpx.WriteError(w, http.StatusUnauthorized, "provider can not be the same as the user")
		return
	}

	isProvider, err := h.users.IsProvider(r.Context(), req.ProviderID)
	if err != nil {
		h.logger.Error("provider lookup failed", "err", err, "provider_id", req.ProviderID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to check provider")
		return
	}
	if !isProvider {
		httpx.WriteError(w, http.StatusUnauthorized, "you can only create appointments with providers")
		return
	}

	// Slot identity is the start of the hour, both for the past check
	// and for what gets stored.
	hourStart := schedule.HourStart(date)
	if schedule.IsPast(hourStart, h.now()) {
		httpx.WriteError(w, http.StatusBadRequest, "past dates are not permitted")
		return
	}

	taken, err := h.appointments.SlotTaken(r.Context(), req.ProviderID, hourStart)
	if err != nil {
		h.logger.Error("availability check failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to check availability")
		return
	}
	if taken {
		httpx.WriteError(w, http.StatusBadRequest, "appointment date is not available")
		return
	}

	appt, err := h.appointments.Create(r.Context(), userID, req.ProviderID, hourStart)
	if err != nil {
		// Two creates can pass the availability check together; the
		// partial unique index decides the loser here.
		if storage.IsConflict(err) {
			httpx.WriteError(w, http.StatusBadRequest, "appointment date is not available")
			return
		}
		h.logger.Error("create appointment failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}

	h.notifyProvider(r, userID, req.ProviderID, hourStart)

	now := h.now()
	httpx.WriteJSON(w, http.StatusCreated, appointmentResponse{
		ID:         appt.ID,
		UserID:     appt.UserID,
		ProviderID: appt.ProviderID,
		Date:       appt.Date.UTC().Format(time.RFC3339),
		Past:       schedule.IsPast(appt.Date, now),
		Cancelable: schedule.IsCancelable(appt.Date, now),
	})
}

func (h *AppointmentHandler) notifyProvider(r *http.Request, userID, providerID int64, hourStart time.Time) {
	customer, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("customer lookup for notification failed", "err", err, "user_id", userID)
		return
	}
	content := "Novo agendamento de " + customer.Name + " para " + h.dates.FormatLong(hourStart)
	if err := h.notifier.Append(r.Context(), providerID, content); err != nil {
		h.logger.Error("provider notification failed", "err", err, "provider_id", providerID)
	}
}

// CancelByID serves DELETE /api/v1/appointments/{id}. Only the owning
// customer may cancel, and only while the two hour notice period holds.
func (h *AppointmentHandler) CancelByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "token invalid")
		return
	}

	rawID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/appointments/"), "/")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
		return
	}

	ctx := r.Context()
	tx, err := h.appointments.Begin(ctx)
	if err != nil {
		h.logger.Error("begin tx failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.appointments.GetForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "appointment not found")
			return
		}
		h.logger.Error("load appointment failed", "err", err, "appointment_id", id)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}

	if appt.UserID != userID {
		httpx.WriteError(w, http.StatusUnauthorized, "you do not have permission to cancel this appointment")
		return
	}
	if appt.CanceledAt != nil {
		httpx.WriteError(w, http.StatusConflict, "appointment is already canceled")
		return
	}
	if !schedule.IsCancelable(appt.Date, h.now()) {
		httpx.WriteError(w, http.StatusUnauthorized, "you can only cancel appointments 2 hours in advance")
		return
	}

	canceledAt, err := h.appointments.Cancel(ctx, tx, appt.ID)
	if err != nil {
		h.logger.Error("cancel appointment failed", "err", err, "appointment_id", appt.ID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to cancel appointment")
		return
	}

	payload, err := json.Marshal(cancelledEventPayload(appt, canceledAt))
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "failed to build cancellation event")
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   strconv.FormatInt(appt.ID, 10),
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	}); err != nil {
		h.logger.Error("outbox insert failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to record cancellation event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("commit failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to commit")
		return
	}

	canceledStr := canceledAt.UTC().Format(time.RFC3339)
	httpx.WriteJSON(w, http.StatusOK, appointmentResponse{
		ID:         appt.ID,
		UserID:     appt.UserID,
		ProviderID: appt.ProviderID,
		Date:       appt.Date.UTC().Format(time.RFC3339),
		CanceledAt: &canceledStr,
		Past:       schedule.IsPast(appt.Date, h.now()),
		Cancelable: false,
	})
}

// cancelledEventPayload snapshots everything the mailer needs so the
// worker never has to read the appointment back.
func cancelledEventPayload(appt model.Appointment, canceledAt time.Time) map[string]any {
	payload := map[string]any{
		"appointment_id": appt.ID,
		"user_id":        appt.UserID,
		"provider_id":    appt.ProviderID,
		"date":           appt.Date.UTC().Format(time.RFC3339),
		"canceled_at":    canceledAt.UTC().Format(time.RFC3339),
	}
	if appt.Provider != nil {
		payload["provider"] = map[string]string{
			"name":  appt.Provider.Name,
			"email": appt.Provider.Email,
		}
	}
	if appt.Customer != nil {
		payload["customer"] = map[string]string{
			"name": appt.Customer.Name,
		}
	}
	return payload
}
