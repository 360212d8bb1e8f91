package storage

import (
	"context"

	"github.com/mvasconcelos/agendai/libs/db"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/model"
)

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, provider
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Provider)
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// IsProvider reports whether the user exists and is flagged as a provider.
func (r *UserRepository) IsProvider(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE id = $1 AND provider
		)
	`, id).Scan(&ok)
	return ok, err
}
