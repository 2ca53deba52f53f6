package user

import (
	"context"
	"database/sql"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) UpdateProfile(ctx context.Context, id, displayName string, avatarURL *string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET display_name = $2, avatar_url = $3, updated_at = now()
		WHERE id = $1 AND is_active = TRUE
	`, id, displayName, avatarURL)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Deactivate soft-deletes the account. Existing tokens stop working once
// the user row fails the active check on authentication.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND is_active = TRUE
	`, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
