package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mvasconcelos/agendai/libs/db"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// ListByCustomer returns the customer's non-cancelled appointments in date
// order, with the provider and avatar joined for display.
func (r *AppointmentRepository) ListByCustomer(ctx context.Context, userID int64, limit, offset int) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.user_id, a.provider_id, a.date, a.created_at,
			p.id, p.name,
			f.id, f.path, f.url
		FROM appointments a
		JOIN users p ON p.id = a.provider_id
		LEFT JOIN files f ON f.id = p.avatar_id
		WHERE a.user_id = $1 AND a.canceled_at IS NULL
		ORDER BY a.date ASC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		var provider model.User
		var avatarID *int64
		var avatarPath, avatarURL *string
		if err := rows.Scan(
			&appt.ID,
			&appt.UserID,
			&appt.ProviderID,
			&appt.Date,
			&appt.CreatedAt,
			&provider.ID,
			&provider.Name,
			&avatarID,
			&avatarPath,
			&avatarURL,
		); err != nil {
			return nil, err
		}
		if avatarID != nil {
			provider.Avatar = &model.Avatar{ID: *avatarID, Path: *avatarPath, URL: *avatarURL}
		}
		appt.Provider = &provider
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// SlotTaken reports whether a non-cancelled appointment already holds the
// provider's slot. The unique index backs this up under concurrency; the
// explicit check exists to give callers a clean rejection before insert.
func (r *AppointmentRepository) SlotTaken(ctx context.Context, providerID int64, date time.Time) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE provider_id = $1 AND date = $2 AND canceled_at IS NULL
		)
	`, providerID, date).Scan(&taken)
	return taken, err
}

func (r *AppointmentRepository) Create(ctx context.Context, userID, providerID int64, date time.Time) (model.Appointment, error) {
	appt := model.Appointment{
		UserID:     userID,
		ProviderID: providerID,
		Date:       date,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (user_id, provider_id, date)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, userID, providerID, date).Scan(&appt.ID, &appt.CreatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// GetForUpdate loads an appointment with its provider (name, email) and
// customer (name) joined, locking the appointment row for the cancel tx.
func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (model.Appointment, error) {
	var appt model.Appointment
	var provider, customer model.User
	var canceledAt *time.Time
	err := tx.QueryRow(ctx, `
		SELECT a.id, a.user_id, a.provider_id, a.date, a.canceled_at, a.created_at,
			p.name, p.email,
			c.name
		FROM appointments a
		JOIN users p ON p.id = a.provider_id
		JOIN users c ON c.id = a.user_id
		WHERE a.id = $1
		FOR UPDATE OF a
	`, id).Scan(
		&appt.ID,
		&appt.UserID,
		&appt.ProviderID,
		&appt.Date,
		&canceledAt,
		&appt.CreatedAt,
		&provider.Name,
		&provider.Email,
		&customer.Name,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CanceledAt = canceledAt
	provider.ID = appt.ProviderID
	customer.ID = appt.UserID
	appt.Provider = &provider
	appt.Customer = &customer
	return appt, nil
}

func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, id int64) (time.Time, error) {
	var canceledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET canceled_at = now()
		WHERE id = $1
		RETURNING canceled_at
	`, id).Scan(&canceledAt)
	return canceledAt, err
}
