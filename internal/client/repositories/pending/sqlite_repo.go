package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/dbx"
)

const selectColumns = `id, entity_type, action, data, created_at, attempts, last_error, last_attempt_at, dead_letter`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, c models.PendingChange) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_changes (id, entity_type, action, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, string(c.Type), string(c.Action), []byte(c.Data), formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("append pending change %s: %w", c.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.PendingChange, error) {
	out, err := dbx.QueryAll(ctx, r.db, scanChange,
		`SELECT `+selectColumns+` FROM pending_changes WHERE dead_letter = 0 ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list pending changes: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListDead(ctx context.Context) ([]models.PendingChange, error) {
	out, err := dbx.QueryAll(ctx, r.db, scanChange,
		`SELECT `+selectColumns+` FROM pending_changes WHERE dead_letter = 1 ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (models.PendingChange, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM pending_changes WHERE id = ?`, id)
	if err != nil {
		return models.PendingChange{}, fmt.Errorf("get pending change %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.PendingChange{}, err
		}
		return models.PendingChange{}, common.ErrorNotFound
	}
	return scanChange(rows)
}

func (r *SQLiteRepository) Remove(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove pending change %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_changes WHERE dead_letter = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending changes: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) RecordAttempt(ctx context.Context, id, lastErr string, at time.Time, dead bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_changes
		SET attempts = attempts + 1, last_error = ?, last_attempt_at = ?, dead_letter = ?
		WHERE id = ?
	`, lastErr, formatTime(at), dead, id)
	if err != nil {
		return fmt.Errorf("record attempt for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) ReplaceData(ctx context.Context, id string, data []byte) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE pending_changes SET data = ? WHERE id = ?`, data, id); err != nil {
		return fmt.Errorf("replace data of %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_changes`); err != nil {
		return fmt.Errorf("clear pending changes: %w", err)
	}
	return nil
}

func scanChange(rows *sql.Rows) (models.PendingChange, error) {
	var (
		c           models.PendingChange
		entityType  string
		action      string
		data        []byte
		createdAt   string
		lastAttempt sql.NullString
	)
	if err := rows.Scan(&c.ID, &entityType, &action, &data, &createdAt,
		&c.Attempts, &c.LastError, &lastAttempt, &c.DeadLetter); err != nil {
		return c, err
	}

	c.Type = models.EntityType(entityType)
	c.Action = models.Action(action)
	c.Data = data

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	if lastAttempt.Valid {
		t, err := parseTime(lastAttempt.String)
		if err != nil {
			return c, err
		}
		c.LastAttemptAt = &t
	}
	return c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Join(fmt.Errorf("bad timestamp %q", s), err)
	}
	return t, nil
}
