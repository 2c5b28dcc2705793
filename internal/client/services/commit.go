package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
)

// intent is the pending change recorded when a mutation cannot reach the
// remote service. Deferred intents are queued even while online: they
// target a record whose create has not been confirmed yet.
type intent struct {
	entity   models.EntityType
	action   models.Action
	payload  any
	deferred bool
}

// commit finishes an optimistic mutation whose local effect is already
// applied. Offline, or when the service turns out to be unreachable, the
// intent is queued and the mutation is Pending. Remote rejections are
// reported and leave local state as it is.
func commit[T any](ctx context.Context, d Deps, op string, in intent, optimistic T, remote func(context.Context) (T, error)) Mutation[T] {
	if !d.online() || in.deferred {
		return enqueue(ctx, d, op, in, optimistic)
	}

	rec, err := remote(ctx)
	switch {
	case err == nil:
		return Mutation[T]{Record: rec, State: Confirmed}
	case errors.Is(err, client.ErrUnavailable):
		d.Logger.Info(ctx, "service unreachable, queueing change", "entity", in.entity, "action", in.action)
		return enqueue(ctx, d, op, in, optimistic)
	default:
		return Mutation[T]{Record: optimistic, State: Failed, Err: d.fail(ctx, op, err)}
	}
}

func enqueue[T any](ctx context.Context, d Deps, op string, in intent, optimistic T) Mutation[T] {
	if _, err := d.Store.Enqueue(ctx, in.entity, in.action, in.payload); err != nil {
		return Mutation[T]{Record: optimistic, State: Failed, Err: d.fail(ctx, op, err)}
	}
	return Mutation[T]{Record: optimistic, State: Pending}
}

// orphaned reports whether id is a temporary id with no queued create
// behind it, as left by a create the remote service rejected. Changes to
// such a record could never be replayed.
func orphaned(ctx context.Context, d Deps, entity models.EntityType, id string) bool {
	return models.IsTempID(id) && !d.Store.HasPendingCreate(ctx, entity, id)
}

func errNeverSaved(noun, id string) error {
	return fmt.Errorf("%w: %s %s was never saved", common.ErrorValidation, noun, id)
}

// rejected reports a mutation refused before any local change.
func rejected[T any](ctx context.Context, d Deps, op string, rec T, err error) Mutation[T] {
	return Mutation[T]{Record: rec, State: Failed, Err: d.fail(ctx, op, err)}
}

// updatePayload is the queued form of an update: the id plus the changed
// fields.
func updatePayload(id string, patch models.Patch) map[string]any {
	out := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		out[k] = v
	}
	out["id"] = id
	return out
}

// cleanPatch drops keys the caller may not change through a patch.
func cleanPatch(p models.Patch) models.Patch {
	out := make(models.Patch, len(p))
	for k, v := range p {
		switch k {
		case "id", "created_at", "updated_at":
			continue
		}
		out[k] = v
	}
	return out
}
