package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/creat233/finderid/internal/client/models"
)

// AddPendingChange appends change to the replay queue. Missing id and
// timestamp are filled in. Unsupported (type, action) pairs are rejected.
func (s *Store) AddPendingChange(ctx context.Context, change models.PendingChange) (models.PendingChange, error) {
	if _, err := models.RuleFor(change.Type, change.Action); err != nil {
		return change, err
	}
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = s.now().UTC()
	}

	if err := s.pending.Append(ctx, change); err != nil {
		s.logger.Error(ctx, "could not queue change", "type", change.Type, "action", change.Action, "error", err)
		return change, fmt.Errorf("queue %s %s: %w", change.Action, change.Type, err)
	}

	s.logger.Debug(ctx, "change queued", "id", change.ID, "type", change.Type, "action", change.Action)
	return change, nil
}

// Enqueue builds a pending change from data and queues it.
func (s *Store) Enqueue(ctx context.Context, t models.EntityType, a models.Action, data any) (models.PendingChange, error) {
	change, err := models.NewPendingChange(t, a, data)
	if err != nil {
		return change, err
	}
	return s.AddPendingChange(ctx, change)
}

// GetPendingChanges returns the live queue in insertion order.
func (s *Store) GetPendingChanges(ctx context.Context) []models.PendingChange {
	out, err := s.pending.List(ctx)
	if err != nil {
		s.logger.Warn(ctx, "could not read pending changes", "error", err)
		return []models.PendingChange{}
	}
	return out
}

func (s *Store) RemovePendingChange(ctx context.Context, id string) {
	if err := s.pending.Remove(ctx, id); err != nil {
		s.logger.Error(ctx, "could not remove pending change", "id", id, "error", err)
	}
}

func (s *Store) PendingCount(ctx context.Context) int {
	n, err := s.pending.Count(ctx)
	if err != nil {
		s.logger.Warn(ctx, "could not count pending changes", "error", err)
		return 0
	}
	return n
}

// HasPendingCreate reports whether the live queue holds a create of
// entity whose payload carries id.
func (s *Store) HasPendingCreate(ctx context.Context, entity models.EntityType, id string) bool {
	for _, change := range s.GetPendingChanges(ctx) {
		if change.Type == entity && change.Action == models.ActionCreate && models.RecordID(change.Data) == id {
			return true
		}
	}
	return false
}

// RecordAttempt notes a failed replay of the change. With dead set the
// change leaves the live queue and is kept in the dead-letter list.
func (s *Store) RecordAttempt(ctx context.Context, id string, cause error, dead bool) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.pending.RecordAttempt(ctx, id, msg, s.now().UTC(), dead); err != nil {
		s.logger.Warn(ctx, "could not record replay attempt", "id", id, "error", err)
	}
}

func (s *Store) DeadLetters(ctx context.Context) []models.PendingChange {
	out, err := s.pending.ListDead(ctx)
	if err != nil {
		s.logger.Warn(ctx, "could not read dead letters", "error", err)
		return []models.PendingChange{}
	}
	return out
}

// RemapPendingID rewrites every string value equal to tempID inside the
// payloads of queued changes, so updates and deletes issued against a
// record before its create was confirmed target the real id. It returns
// the number of changes rewritten.
func (s *Store) RemapPendingID(ctx context.Context, tempID, newID string) int {
	n := 0
	for _, change := range s.GetPendingChanges(ctx) {
		var payload any
		dec := json.NewDecoder(bytes.NewReader(change.Data))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			continue
		}

		rewritten, changed := remap(payload, tempID, newID)
		if !changed {
			continue
		}
		raw, err := json.Marshal(rewritten)
		if err != nil {
			continue
		}
		if err := s.pending.ReplaceData(ctx, change.ID, raw); err != nil {
			s.logger.Error(ctx, "could not remap pending change", "id", change.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

func remap(v any, from, to string) (any, bool) {
	switch val := v.(type) {
	case string:
		if val == from {
			return to, true
		}
		return val, false
	case map[string]any:
		changed := false
		for k, inner := range val {
			next, c := remap(inner, from, to)
			if c {
				val[k] = next
				changed = true
			}
		}
		return val, changed
	case []any:
		changed := false
		for i, inner := range val {
			next, c := remap(inner, from, to)
			if c {
				val[i] = next
				changed = true
			}
		}
		return val, changed
	default:
		return v, false
	}
}
