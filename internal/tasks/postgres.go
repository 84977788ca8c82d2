package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// PostgresStore implements Store against the shared database/sql pool
// opened by internal/storage, using lib/pq exactly as the teacher's own
// Cockroach-compatible stores do.
const taskColumns = `id, description, type, status, priority, control, model, user_id, scheduled_at,
	queued_at, executed_at, completed_at, result, error, metadata, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB

	stmtCreate       *sql.Stmt
	stmtGet          *sql.Stmt
	stmtDelete       *sql.Stmt
	stmtUpdateStatus *sql.Stmt
	stmtSetControl   *sql.Stmt
	stmtSetQueuedAt  *sql.Stmt
	stmtDue          *sql.Stmt
	stmtCount        *sql.Stmt
}

// NewPostgresStore prepares every statement up front, mirroring the
// teacher's prepare-once-reuse-many pattern.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}

	var err error
	if s.stmtCreate, err = db.Prepare(`
		INSERT INTO tasks (id, description, type, status, priority, control, model, user_id, scheduled_at, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`); err != nil {
		return nil, fmt.Errorf("tasks: prepare create: %w", err)
	}
	if s.stmtGet, err = db.Prepare(`SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`); err != nil {
		return nil, fmt.Errorf("tasks: prepare get: %w", err)
	}
	if s.stmtDelete, err = db.Prepare(`DELETE FROM tasks WHERE id = $1`); err != nil {
		return nil, fmt.Errorf("tasks: prepare delete: %w", err)
	}
	if s.stmtUpdateStatus, err = db.Prepare(`
		UPDATE tasks SET
			status = $1,
			updated_at = $2,
			executed_at = CASE WHEN executed_at IS NULL AND ($1 = 'RUNNING' OR $5) THEN $2 ELSE executed_at END,
			completed_at = CASE WHEN $5 THEN $2 ELSE completed_at END,
			result = COALESCE($6, result),
			error = COALESCE($7, error)
		WHERE id = $3 AND status = $4
	`); err != nil {
		return nil, fmt.Errorf("tasks: prepare update status: %w", err)
	}
	if s.stmtSetControl, err = db.Prepare(`
		UPDATE tasks SET control = $1, updated_at = $2 WHERE id = $3
	`); err != nil {
		return nil, fmt.Errorf("tasks: prepare set control: %w", err)
	}
	if s.stmtSetQueuedAt, err = db.Prepare(`
		UPDATE tasks SET queued_at = $1, updated_at = $1 WHERE id = $2 AND queued_at IS NULL
	`); err != nil {
		return nil, fmt.Errorf("tasks: prepare set queued_at: %w", err)
	}
	if s.stmtDue, err = db.Prepare(`
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE type = 'SCHEDULED' AND status = 'PENDING' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`); err != nil {
		return nil, fmt.Errorf("tasks: prepare due: %w", err)
	}
	if s.stmtCount, err = db.Prepare(`SELECT status, count(*) FROM tasks GROUP BY status`); err != nil {
		return nil, fmt.Errorf("tasks: prepare count: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtCreate, s.stmtGet, s.stmtDelete, s.stmtUpdateStatus, s.stmtSetControl, s.stmtSetQueuedAt, s.stmtDue, s.stmtCount} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Control == "" {
		task.Control = models.ControlAssistant
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	metadata, err := json.Marshal(nonNilMetadata(task.Metadata))
	if err != nil {
		return fmt.Errorf("tasks: marshal metadata: %w", err)
	}

	_, err = s.stmtCreate.ExecContext(ctx,
		task.ID, task.Description, string(task.Type), string(task.Status), string(task.Priority),
		string(task.Control), task.Model, task.UserID, task.ScheduledAt, metadata, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("tasks: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Task, error) {
	row := s.stmtGet.QueryRowContext(ctx, id)
	return scanTask(row)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("tasks: delete: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("tasks: delete rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) buildListQuery(opts ListOptions, columns string) (string, []any) {
	query := `SELECT ` + columns + ` FROM tasks WHERE 1=1`
	var args []any
	n := 1
	if opts.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*opts.Status))
		n++
	}
	if opts.Priority != nil {
		query += fmt.Sprintf(" AND priority = $%d", n)
		args = append(args, string(*opts.Priority))
		n++
	}
	if opts.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", n)
		args = append(args, string(*opts.Type))
		n++
	}
	if opts.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", n)
		args = append(args, *opts.UserID)
		n++
	}
	return query, args
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*models.Task, int, error) {
	countQuery, args := s.buildListQuery(opts, "count(*)")
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("tasks: list count: %w", err)
	}

	query, args := s.buildListQuery(opts, taskColumns)
	n := len(args) + 1
	query += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, opts.Limit)
		n++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("tasks: list: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// UpdateStatus checks legality locally, then performs the CAS UPDATE in a
// single statement — no transaction, no held connection across round
// trips, per spec.md §4.4's atomicity requirement. Entering RUNNING stamps
// ExecutedAt if unset; entering any terminal status stamps CompletedAt (and
// ExecutedAt, if a task never ran) and records update.Result/update.Error.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to models.TaskStatus, update StatusUpdate) error {
	if !models.CanTransition(from, to) {
		return ErrIllegalTransition
	}
	var resultArg, errorArg any
	if update.Result != nil {
		resultArg = []byte(update.Result)
	}
	if update.Error != nil {
		errorArg = *update.Error
	}
	result, err := s.stmtUpdateStatus.ExecContext(ctx,
		string(to), time.Now(), id, string(from), models.IsTerminal(to), resultArg, errorArg,
	)
	if err != nil {
		return fmt.Errorf("tasks: update status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("tasks: update status rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrTransitionConflict
	}
	return nil
}

func (s *PostgresStore) SetControl(ctx context.Context, id string, control models.Control) error {
	result, err := s.stmtSetControl.ExecContext(ctx, string(control), time.Now(), id)
	if err != nil {
		return fmt.Errorf("tasks: set control: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetQueuedAt(ctx context.Context, id string) error {
	if _, err := s.stmtSetQueuedAt.ExecContext(ctx, time.Now(), id); err != nil {
		return fmt.Errorf("tasks: set queued_at: %w", err)
	}
	return nil
}

func (s *PostgresStore) DueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.stmtDue.QueryContext(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks: due scheduled: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountsByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	rows, err := s.stmtCount.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("tasks: counts by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("tasks: scan counts by status: %w", err)
		}
		counts[models.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows so scanTask serves List,
// DueScheduled, and Get alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var taskType, status, priority, control string
	var result []byte
	var metadata []byte
	if err := row.Scan(
		&t.ID, &t.Description, &taskType, &status, &priority, &control, &t.Model,
		&t.UserID, &t.ScheduledAt, &t.QueuedAt, &t.ExecutedAt, &t.CompletedAt, &result, &t.Error,
		&metadata, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tasks: scan: %w", err)
	}
	t.Type = models.TaskType(taskType)
	t.Status = models.TaskStatus(status)
	t.Priority = models.TaskPriority(priority)
	t.Control = models.Control(control)
	if len(result) > 0 {
		t.Result = json.RawMessage(result)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("tasks: unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
