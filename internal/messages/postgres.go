package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// PostgresStore implements Store against the shared database/sql pool,
// using the same prepare-once-reuse-many idiom as internal/tasks.
type PostgresStore struct {
	db *sql.DB

	stmtAppend  *sql.Stmt
	stmtHistory *sql.Stmt
	stmtGet     *sql.Stmt
}

// NewPostgresStore prepares every statement up front.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}

	var err error
	if s.stmtAppend, err = db.Prepare(`
		INSERT INTO messages (id, task_id, role, content, user_id, summary_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`); err != nil {
		return nil, fmt.Errorf("messages: prepare append: %w", err)
	}
	if s.stmtHistory, err = db.Prepare(`
		SELECT id, task_id, role, content, user_id, summary_id, metadata, created_at
		FROM messages WHERE task_id = $1 ORDER BY created_at ASC LIMIT $2
	`); err != nil {
		return nil, fmt.Errorf("messages: prepare history: %w", err)
	}
	if s.stmtGet, err = db.Prepare(`
		SELECT id, task_id, role, content, user_id, summary_id, metadata, created_at
		FROM messages WHERE id = $1
	`); err != nil {
		return nil, fmt.Errorf("messages: prepare get: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtAppend, s.stmtHistory, s.stmtGet} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("messages: marshal content: %w", err)
	}
	metadata, err := json.Marshal(nonNilMetadata(msg.Metadata))
	if err != nil {
		return fmt.Errorf("messages: marshal metadata: %w", err)
	}

	_, err = s.stmtAppend.ExecContext(ctx,
		msg.ID, msg.TaskID, string(msg.Role), content, msg.UserID, msg.SummaryID, metadata, msg.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrTaskNotFound
		}
		return fmt.Errorf("messages: append: %w", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, taskID string, limit int) ([]*models.Message, error) {
	var limitArg any = limit
	if limit <= 0 {
		limitArg = nil // LIMIT NULL applies no bound
	}
	rows, err := s.stmtHistory.QueryContext(ctx, taskID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("messages: history: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Message, error) {
	row := s.stmtGet.QueryRowContext(ctx, id)
	return scanMessage(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var role string
	var content, metadata []byte
	if err := row.Scan(&m.ID, &m.TaskID, &role, &content, &m.UserID, &m.SummaryID, &metadata, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("messages: scan: %w", err)
	}
	m.Role = models.Role(role)
	if len(content) > 0 {
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return nil, fmt.Errorf("messages: unmarshal content: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("messages: unmarshal metadata: %w", err)
		}
	}
	return &m, nil
}

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
