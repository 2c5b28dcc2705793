// Package rows stores collection documents as JSONB rows keyed by
// (collection, id).
package rows

import (
	"context"
	"encoding/json"
	"time"

	"github.com/creat233/finderid/internal/server/models"
)

type Repository interface {
	// Insert stores row. A taken (collection, id) yields common.ErrorAlreadyExists.
	Insert(ctx context.Context, row *models.Row) error
	Get(ctx context.Context, collection, id string) (*models.Row, error)
	// Merge overlays patch onto the stored document (top-level keys only).
	Merge(ctx context.Context, collection, id string, patch json.RawMessage, now time.Time) (*models.Row, error)
	Delete(ctx context.Context, collection, id string) error
	// DeleteWhere removes the rows whose data field equals value.
	DeleteWhere(ctx context.Context, collection, field, value string) (int64, error)
	Select(ctx context.Context, q models.RowQuery) ([]models.Row, error)
	// Increment adds one to a numeric data field (missing counts as 0) and
	// returns the new value.
	Increment(ctx context.Context, collection, id, field string, now time.Time) (int64, error)
}
