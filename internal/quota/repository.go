package quota

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL usage store. Reset and increment are
// single UPDATE statements, so each is atomic on the user's row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a quota repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUsage returns the user's current usage record.
func (r *Repository) GetUsage(ctx context.Context, userID uuid.UUID) (Usage, error) {
	const q = `SELECT conversion_count, last_conversion_date FROM users WHERE id = $1`
	var u Usage
	err := r.pool.QueryRow(ctx, q, userID).Scan(&u.ConversionCount, &u.LastConversionDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Usage{}, ErrUserNotFound
		}
		return Usage{}, err
	}
	return u, nil
}

// ResetUsage zeroes the count and clears the last conversion date.
func (r *Repository) ResetUsage(ctx context.Context, userID uuid.UUID) error {
	const q = `UPDATE users SET conversion_count = 0, last_conversion_date = NULL, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// IncrementUsage adds one completed conversion at the given time.
func (r *Repository) IncrementUsage(ctx context.Context, userID uuid.UUID, at time.Time) error {
	const q = `UPDATE users SET conversion_count = conversion_count + 1, last_conversion_date = $2, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
