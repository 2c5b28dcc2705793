package storage

import (
	"context"
	"encoding/json"

	"github.com/creat233/finderid/internal/client/models"
)

// ReconcileID replaces the record with tempID by the confirmed record in
// every cached entry of the entity kind. A record already holding the new
// id is not duplicated. Entries that never saw tempID are left alone.
func (s *Store) ReconcileID(ctx context.Context, entity models.EntityType, tempID string, record json.RawMessage) {
	newID := models.RecordID(record)
	if newID == "" {
		s.logger.Warn(ctx, "confirmed record has no id", "entity", entity, "temp_id", tempID)
		return
	}

	for _, l := range layouts[entity] {
		entries, err := s.cache.List(ctx, l.namespace)
		if err != nil {
			s.logger.Warn(ctx, "cache scan failed", "namespace", l.namespace, "error", err)
			continue
		}

		for key, value := range entries {
			if l.list {
				items, changed := replaceInList(value, tempID, newID, record)
				if changed {
					s.write(ctx, l.namespace, key, items)
				}
				continue
			}

			if models.RecordID(value) != tempID {
				continue
			}
			if l.byID {
				s.drop(ctx, l.namespace, key)
				s.write(ctx, l.namespace, newID, record)
			} else {
				s.write(ctx, l.namespace, key, record)
			}
		}
	}
}

func replaceInList(value []byte, tempID, newID string, record json.RawMessage) ([]json.RawMessage, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		return nil, false
	}

	out := make([]json.RawMessage, 0, len(items))
	hadTemp, placed := false, false
	for _, item := range items {
		id := models.RecordID(item)
		if id != tempID && id != newID {
			out = append(out, item)
			continue
		}
		if id == tempID {
			hadTemp = true
		}
		if !placed {
			out = append(out, record)
			placed = true
		}
	}
	return out, hadTemp
}

// DeleteRecord removes the record with id from every cached entry of the
// entity kind. Absent ids are a no-op.
func (s *Store) DeleteRecord(ctx context.Context, entity models.EntityType, id string) {
	for _, l := range layouts[entity] {
		if l.byID {
			s.drop(ctx, l.namespace, id)
			continue
		}

		entries, err := s.cache.List(ctx, l.namespace)
		if err != nil {
			s.logger.Warn(ctx, "cache scan failed", "namespace", l.namespace, "error", err)
			continue
		}

		for key, value := range entries {
			if !l.list {
				if models.RecordID(value) == id {
					s.drop(ctx, l.namespace, key)
				}
				continue
			}

			var items []json.RawMessage
			if err := json.Unmarshal(value, &items); err != nil {
				continue
			}
			kept := make([]json.RawMessage, 0, len(items))
			for _, item := range items {
				if models.RecordID(item) != id {
					kept = append(kept, item)
				}
			}
			if len(kept) != len(items) {
				s.write(ctx, l.namespace, key, kept)
			}
		}
	}
}

func (s *Store) DeleteMCard(ctx context.Context, id string) {
	s.DeleteRecord(ctx, models.EntityMCard, id)
}

func (s *Store) DeleteStatus(ctx context.Context, id string) {
	s.DeleteRecord(ctx, models.EntityStatus, id)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) {
	s.DeleteRecord(ctx, models.EntityProduct, id)
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) {
	s.DeleteRecord(ctx, models.EntityInvoice, id)
}

func (s *Store) DeleteQuote(ctx context.Context, id string) {
	s.DeleteRecord(ctx, models.EntityQuote, id)
}

func (s *Store) DeleteUserCard(ctx context.Context, id string) {
	s.DeleteRecord(ctx, models.EntityUserCard, id)
}
