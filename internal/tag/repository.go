package tag

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrDuplicateName = errors.New("tag: name already exists")

const pgUniqueViolation = "23505"

const tagColumns = `id, user_id, name, color, description, is_active, created_at, updated_at`

type Tag struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	Description *string   `json:"description"`
	IsActive    bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TagInput struct {
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Description *string `json:"description"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, userID string) ([]Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tagColumns+` FROM tags
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		var t Tag
		var description sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			t.Description = &description.String
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (r *Repository) Get(ctx context.Context, userID, id string) (*Tag, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE id = $1 AND user_id = $2 AND is_active = TRUE`, id, userID)
	return scanTag(row)
}

func (r *Repository) Create(ctx context.Context, userID string, input TagInput) (*Tag, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO tags (id, user_id, name, color, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+tagColumns,
		id.String(), userID, input.Name, input.Color, input.Description)

	t, err := scanTag(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return t, nil
}

func (r *Repository) Update(ctx context.Context, userID, id string, input TagInput) (*Tag, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE tags
		SET name = $3, color = $4, description = $5, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND is_active = TRUE
		RETURNING `+tagColumns,
		id, userID, input.Name, input.Color, input.Description)

	t, err := scanTag(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return t, nil
}

// Delete soft-deletes the tag and detaches it from every task.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE tags SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND is_active = TRUE
	`, id, userID)
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE tag_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// PruneInactive deletes soft-deleted tags older than maxAge in bounded
// batches.
func (r *Repository) PruneInactive(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var total int64

	for {
		result, err := r.db.ExecContext(ctx, `
			DELETE FROM tags
			WHERE id IN (
				SELECT id FROM tags
				WHERE is_active = FALSE AND updated_at < $1
				LIMIT $2
			)
		`, cutoff, batchSize)
		if err != nil {
			return total, err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += affected
		if affected < int64(batchSize) {
			return total, nil
		}
	}
}

func scanTag(row *sql.Row) (*Tag, error) {
	var t Tag
	var description sql.NullString
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		t.Description = &description.String
	}
	return &t, nil
}
