package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrLockTimeout is returned when AcquireTimeout elapses before a lock is
// granted.
var ErrLockTimeout = errors.New("storage: lock acquire timed out")

// TaskLockerConfig configures TaskLocker.
type TaskLockerConfig struct {
	OwnerID         string
	TTL             time.Duration
	RefreshInterval time.Duration
	AcquireTimeout  time.Duration
	PollInterval    time.Duration
}

// DefaultTaskLockerConfig returns sane defaults for TaskLockerConfig.
func DefaultTaskLockerConfig() TaskLockerConfig {
	return TaskLockerConfig{
		TTL:             2 * time.Minute,
		RefreshInterval: 30 * time.Second,
		AcquireTimeout:  10 * time.Second,
		PollInterval:    200 * time.Millisecond,
	}
}

// TaskLocker gives the Scheduler (C9) an exclusive, lease-renewed claim on
// a task id across multiple agent instances, so the due-time poller never
// admits the same scheduled task twice. This is additive beyond the
// single-instance scheduler spec.md §4.9 describes; task status itself is
// still moved with the CAS UPDATE in internal/tasks, never under this lock.
type TaskLocker struct {
	db     *sql.DB
	config TaskLockerConfig

	mu     sync.Mutex
	renew  map[string]context.CancelFunc
	closed bool
}

// NewTaskLocker creates a DB-backed task locker owned by ownerID (typically
// a per-process UUID set at startup).
func NewTaskLocker(db *sql.DB, cfg TaskLockerConfig) (*TaskLocker, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if cfg.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	defaults := DefaultTaskLockerConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	return &TaskLocker{db: db, config: cfg, renew: make(map[string]context.CancelFunc)}, nil
}

// Lock attempts to acquire a lease on taskID, polling until AcquireTimeout
// elapses. On success a background goroutine renews the lease until Unlock
// or Close.
func (l *TaskLocker) Lock(ctx context.Context, taskID string) error {
	if l == nil {
		return errors.New("task locker unavailable")
	}
	if strings.TrimSpace(taskID) == "" {
		return errors.New("task_id is required")
	}

	deadline := time.Now().Add(l.config.AcquireTimeout)
	for {
		ok, err := l.tryAcquire(ctx, taskID)
		if err != nil {
			return err
		}
		if ok {
			l.startRenew(taskID)
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.config.PollInterval):
		}
	}
}

// Unlock releases the lease on taskID.
func (l *TaskLocker) Unlock(taskID string) {
	if l == nil {
		return
	}
	l.stopRenew(taskID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.db.ExecContext(ctx, `
		DELETE FROM task_locks
		WHERE task_id = $1 AND owner_id = $2
	`, taskID, l.config.OwnerID); err != nil {
		// Best-effort: if this fails the lease expires via TTL instead.
		_ = err
	}
}

// Close stops every renew goroutine.
func (l *TaskLocker) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, cancel := range l.renew {
		cancel()
	}
	l.renew = make(map[string]context.CancelFunc)
	return nil
}

func (l *TaskLocker) tryAcquire(ctx context.Context, taskID string) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(l.config.TTL)
	var owner string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO task_locks (task_id, owner_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE task_locks.expires_at < $3 OR task_locks.owner_id = EXCLUDED.owner_id
		RETURNING owner_id
	`, taskID, l.config.OwnerID, now, expiresAt).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == l.config.OwnerID, nil
}

func (l *TaskLocker) startRenew(taskID string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if _, ok := l.renew[taskID]; ok {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.renew[taskID] = cancel
	l.mu.Unlock()

	go l.renewLoop(ctx, taskID)
}

func (l *TaskLocker) stopRenew(taskID string) {
	l.mu.Lock()
	cancel, ok := l.renew[taskID]
	if ok {
		delete(l.renew, taskID)
	}
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

func (l *TaskLocker) renewLoop(ctx context.Context, taskID string) {
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.extendLease(ctx, taskID) {
				l.stopRenew(taskID)
				return
			}
		}
	}
}

func (l *TaskLocker) extendLease(ctx context.Context, taskID string) bool {
	expiresAt := time.Now().Add(l.config.TTL)
	result, err := l.db.ExecContext(ctx, `
		UPDATE task_locks
		SET expires_at = $1
		WHERE task_id = $2 AND owner_id = $3
	`, expiresAt, taskID, l.config.OwnerID)
	if err != nil {
		return false
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rows > 0
}
