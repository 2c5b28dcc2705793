// Package pending is the durable FIFO of offline changes awaiting replay.
package pending

import (
	"context"
	"time"

	"github.com/creat233/finderid/internal/client/models"
)

type Repository interface {
	// Append stores change at the tail of the queue.
	Append(ctx context.Context, change models.PendingChange) error
	// List returns live (not dead-lettered) changes in insertion order.
	List(ctx context.Context) ([]models.PendingChange, error)
	ListDead(ctx context.Context) ([]models.PendingChange, error)
	Get(ctx context.Context, id string) (models.PendingChange, error)
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// RecordAttempt bumps the attempt counter of a failed replay and
	// optionally moves the change to the dead-letter list.
	RecordAttempt(ctx context.Context, id, lastErr string, at time.Time, dead bool) error
	ReplaceData(ctx context.Context, id string, data []byte) error
	Clear(ctx context.Context) error
}
