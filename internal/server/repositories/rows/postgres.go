package rows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/dbx"
	"github.com/creat233/finderid/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation = "23505"
	rowColumns      = "collection, id, owner_id, data, created_at, updated_at"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (models.Row, error) {
	var (
		row   models.Row
		owner sql.NullString
		data  []byte
	)
	if err := s.Scan(&row.Collection, &row.ID, &owner, &data, &row.CreatedAt, &row.UpdatedAt); err != nil {
		return models.Row{}, err
	}
	row.OwnerID = owner.String
	row.Data = data
	return row, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, row *models.Row) error {
	query := `
		INSERT INTO rows (collection, id, owner_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		row.Collection, row.ID, nullable(row.OwnerID), []byte(row.Data), row.CreatedAt, row.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, collection, id string) (*models.Row, error) {
	query := `SELECT ` + rowColumns + ` FROM rows WHERE collection = $1 AND id = $2`

	row, err := scanRow(r.db.QueryRowContext(ctx, query, collection, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &row, nil
}

func (r *PostgresRepository) Merge(ctx context.Context, collection, id string, patch json.RawMessage, now time.Time) (*models.Row, error) {
	query := `
		UPDATE rows SET data = data || $3::jsonb, updated_at = $4
		WHERE collection = $1 AND id = $2
		RETURNING ` + rowColumns

	row, err := scanRow(r.db.QueryRowContext(ctx, query, collection, id, []byte(patch), now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &row, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, collection, id string) error {
	query := `DELETE FROM rows WHERE collection = $1 AND id = $2`

	res, err := r.db.ExecContext(ctx, query, collection, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteWhere(ctx context.Context, collection, field, value string) (int64, error) {
	query := `DELETE FROM rows WHERE collection = $1 AND data->>$2::text = $3`

	res, err := r.db.ExecContext(ctx, query, collection, field, value)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// Select builds the query from q. Filter keys are applied in sorted order
// so the generated SQL is stable. Ordering on created_at/updated_at uses
// the columns; any other field orders by its JSON value.
func (r *PostgresRepository) Select(ctx context.Context, q models.RowQuery) ([]models.Row, error) {
	var sb strings.Builder
	args := []any{q.Collection}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	sb.WriteString(`SELECT ` + rowColumns + ` FROM rows WHERE collection = $1`)

	if q.OwnerID != "" {
		sb.WriteString(" AND owner_id = " + arg(q.OwnerID))
	}

	keys := make([]string, 0, len(q.Filter))
	for k := range q.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" AND data->>" + arg(k) + "::text = " + arg(q.Filter[k]))
	}

	dir := " ASC"
	if q.Desc {
		dir = " DESC"
	}
	switch q.Order {
	case "":
		sb.WriteString(" ORDER BY created_at" + dir)
	case "created_at", "updated_at":
		sb.WriteString(" ORDER BY " + q.Order + dir)
	default:
		sb.WriteString(" ORDER BY data->" + arg(q.Order) + "::text" + dir)
	}
	sb.WriteString(", id" + dir)

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}

	out, err := dbx.QueryAll(ctx, r.db, func(rows *sql.Rows) (models.Row, error) {
		return scanRow(rows)
	}, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Increment(ctx context.Context, collection, id, field string, now time.Time) (int64, error) {
	query := `
		UPDATE rows
		SET data = jsonb_set(data, ARRAY[$3::text], to_jsonb(COALESCE((data->>$3::text)::bigint, 0) + 1)),
		    updated_at = $4
		WHERE collection = $1 AND id = $2
		RETURNING (data->>$3::text)::bigint
	`
	var value int64
	if err := r.db.QueryRowContext(ctx, query, collection, id, field, now).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return value, nil
}
