package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrTagNotFound = errors.New("task: tag not found")

const taskColumns = `id, user_id, title, description, status, priority, due_date, completed_at, position, created_at, updated_at`

// priorityRank keeps priority sorting semantic instead of alphabetical.
const priorityRank = `CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END`

var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"due_date":   "due_date",
	"priority":   priorityRank,
	"position":   "position",
	"title":      "title",
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, userID string, filter ListFilter) (Page, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		where = append(where, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE `+whereClause, args...).Scan(&total)
	if err != nil {
		return Page{}, err
	}

	sortColumn, ok := sortColumns[filter.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		order = "ASC"
	}

	offset := (filter.Page - 1) * filter.PerPage
	args = append(args, filter.PerPage, offset)
	query := fmt.Sprintf(
		`SELECT %s FROM tasks WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		taskColumns, whereClause, sortColumn, order, len(args)-1, len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return Page{}, err
	}
	if err := r.attachTags(ctx, tasks); err != nil {
		return Page{}, err
	}

	totalPages := (total + filter.PerPage - 1) / filter.PerPage
	return Page{
		Items:      tasks,
		Total:      total,
		Page:       filter.Page,
		PerPage:    filter.PerPage,
		TotalPages: totalPages,
	}, nil
}

func (r *Repository) Get(ctx context.Context, userID, id string) (*Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)

	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	tasks := []Task{*t}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

func (r *Repository) Create(ctx context.Context, userID string, input TaskInput) (*Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkTagOwnership(ctx, tx, userID, input.TagIDs); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	var completedAt *time.Time
	if input.Status == StatusDone {
		now := time.Now().UTC()
		completedAt = &now
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO tasks (id, user_id, title, description, status, priority, due_date, completed_at, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM tasks WHERE user_id = $2))
		RETURNING `+taskColumns,
		id.String(), userID, input.Title, input.Description, input.Status, input.Priority, input.DueDate, completedAt)

	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	if err := replaceTags(ctx, tx, t.ID, input.TagIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	tasks := []Task{*t}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

func (r *Repository) Update(ctx context.Context, userID, id string, input TaskInput) (*Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkTagOwnership(ctx, tx, userID, input.TagIDs); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE tasks
		SET title = $3,
			description = $4,
			status = $5,
			priority = $6,
			due_date = $7,
			completed_at = CASE
				WHEN $5 = 'done' THEN COALESCE(completed_at, now())
				ELSE NULL
			END,
			updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+taskColumns,
		id, userID, input.Title, input.Description, input.Status, input.Priority, input.DueDate)

	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	if err := replaceTags(ctx, tx, t.ID, input.TagIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	tasks := []Task{*t}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

// UpdateStatus moves a task between states, maintaining completed_at:
// entering done stamps it once, leaving done clears it.
func (r *Repository) UpdateStatus(ctx context.Context, userID, id string, status Status) (*Task, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = $3,
			completed_at = CASE
				WHEN $3 = 'done' THEN COALESCE(completed_at, now())
				ELSE NULL
			END,
			updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+taskColumns,
		id, userID, status)

	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	tasks := []Task{*t}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
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

// Reorder assigns positions following the order of ids. Every id must
// belong to the user or the whole operation rolls back.
func (r *Repository) Reorder(ctx context.Context, userID string, ids []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for position, id := range ids {
		result, err := tx.ExecContext(ctx, `
			UPDATE tasks SET position = $3, updated_at = now()
			WHERE id = $1 AND user_id = $2
		`, id, userID, position)
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
	}

	return tx.Commit()
}

func (r *Repository) Overdue(ctx context.Context, userID string) ([]Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = $1
		  AND due_date < now()
		  AND status NOT IN ('done', 'archived')
		ORDER BY due_date, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// PruneArchived deletes archived tasks untouched for longer than maxAge,
// in batches to keep row locks bounded.
func (r *Repository) PruneArchived(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var total int64

	for {
		result, err := r.db.ExecContext(ctx, `
			DELETE FROM tasks
			WHERE id IN (
				SELECT id FROM tasks
				WHERE status = 'archived' AND updated_at < $1
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var dueDate, completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&dueDate, &completedAt, &t.Position, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	t.Tags = []TagRef{}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// attachTags loads the tags for a slice of tasks with a single query.
func (r *Repository) attachTags(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	index := make(map[string]int, len(tasks))
	args := make([]any, 0, len(tasks))
	placeholders := make([]string, 0, len(tasks))
	for i := range tasks {
		index[tasks[i].ID] = i
		args = append(args, tasks[i].ID)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT tt.task_id, t.id, t.name, t.color
		FROM task_tags tt
		JOIN tags t ON t.id = tt.tag_id
		WHERE tt.task_id IN (%s) AND t.is_active = TRUE
		ORDER BY t.name
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var taskID string
		var ref TagRef
		if err := rows.Scan(&taskID, &ref.ID, &ref.Name, &ref.Color); err != nil {
			return err
		}
		if i, ok := index[taskID]; ok {
			tasks[i].Tags = append(tasks[i].Tags, ref)
		}
	}
	return rows.Err()
}

func checkTagOwnership(ctx context.Context, tx *sql.Tx, userID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}

	args := make([]any, 0, len(tagIDs)+1)
	args = append(args, userID)
	placeholders := make([]string, 0, len(tagIDs))
	for _, id := range tagIDs {
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	var count int
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT count(*) FROM tags
		WHERE user_id = $1 AND is_active = TRUE AND id IN (%s)
	`, strings.Join(placeholders, ", ")), args...).Scan(&count)
	if err != nil {
		return err
	}
	if count != len(tagIDs) {
		return ErrTagNotFound
	}
	return nil
}

func replaceTags(ctx context.Context, tx *sql.Tx, taskID string, tagIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id = $1`, taskID); err != nil {
		return err
	}

	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_tags (task_id, tag_id) VALUES ($1, $2)`, taskID, tagID); err != nil {
			return err
		}
	}
	return nil
}
