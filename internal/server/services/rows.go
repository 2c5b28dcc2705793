package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/dataapi"
	"github.com/creat233/finderid/internal/dbx"
	"github.com/creat233/finderid/internal/logging"
	"github.com/creat233/finderid/internal/server/models"
	"github.com/creat233/finderid/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	maxSelectLimit = 1000
	tempIDPrefix   = "temp_"
)

// Change is a committed row change ready for realtime subscribers.
// Private changes only reach connections of OwnerID.
type Change struct {
	Channel string
	Event   string
	OwnerID string
	Private bool
	Payload json.RawMessage
}

type Publisher interface {
	Publish(ctx context.Context, c Change)
}

// RowService stores collection documents on behalf of signed-in users and
// enforces the per-collection policies.
type RowService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   Publisher
	logger      logging.Logger
	now         func() time.Time
	newID       func() string
}

func NewRowService(db *sql.DB, m repomanager.RepositoryManager, p Publisher, l logging.Logger) *RowService {
	return &RowService{
		db:          db,
		repomanager: m,
		publisher:   p,
		logger:      l.With("module", "rows"),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

func (s *RowService) policyFor(collection string) (policy, error) {
	p, ok := lookupPolicy(collection)
	if !ok {
		return policy{}, fmt.Errorf("%w: unknown collection %q", common.ErrorValidation, collection)
	}
	return p, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: record must be a JSON object", common.ErrorValidation)
	}
	return fields, nil
}

func (s *RowService) publish(ctx context.Context, collection string, p policy, event, ownerID string, data json.RawMessage) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, Change{
		Channel: dataapi.RowsChannel(collection),
		Event:   event,
		OwnerID: ownerID,
		Private: p.private,
		Payload: data,
	})
}

// Insert stores records in collection. Missing or client placeholder ids
// are replaced by server ids; timestamps and the owner field are set by
// the server. All records are stored in one transaction.
func (s *RowService) Insert(ctx context.Context, userID, collection string, records []json.RawMessage) ([]json.RawMessage, error) {
	p, err := s.policyFor(collection)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, common.ErrorUnauthorized
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", common.ErrorValidation)
	}

	stored := make([]models.Row, 0, len(records))
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Rows(tx)
		now := s.now()
		stamp := now.Format(time.RFC3339Nano)

		for _, raw := range records {
			fields, err := decodeObject(raw)
			if err != nil {
				return err
			}

			if p.parent != nil {
				if err := s.checkParent(ctx, tx, *p.parent, userID, fields); err != nil {
					return err
				}
			}

			id, _ := fields["id"].(string)
			if id == "" || strings.HasPrefix(id, tempIDPrefix) {
				id = s.newID()
			}
			fields["id"] = id
			if p.ownerField != "" {
				fields[p.ownerField] = userID
			}
			fields["created_at"] = stamp
			fields["updated_at"] = stamp

			data, err := json.Marshal(fields)
			if err != nil {
				return err
			}
			row := models.Row{Collection: collection, ID: id, OwnerID: userID, Data: data, CreatedAt: now, UpdatedAt: now}
			if err := repo.Insert(ctx, &row); err != nil {
				return err
			}
			stored = append(stored, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, len(stored))
	for i, row := range stored {
		out[i] = row.Data
		s.publish(ctx, collection, p, dataapi.EventInsert, row.OwnerID, row.Data)
	}
	s.logger.Debug(ctx, "rows inserted", "collection", collection, "count", len(out), "user_id", userID)
	return out, nil
}

func (s *RowService) checkParent(ctx context.Context, tx dbx.DBTX, ref parentRef, userID string, fields map[string]any) error {
	parentID, _ := fields[ref.field].(string)
	if parentID == "" {
		return fmt.Errorf("%w: %s is required", common.ErrorValidation, ref.field)
	}
	parent, err := s.repomanager.Rows(tx).Get(ctx, ref.collection, parentID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: %s %s does not exist", common.ErrorValidation, ref.field, parentID)
		}
		return err
	}
	if !ref.anyUser && parent.OwnerID != userID {
		return common.ErrorForbidden
	}
	return nil
}

// Update merges patch into the stored document. Identity, timestamps, the
// owner field and the parent link cannot be patched.
func (s *RowService) Update(ctx context.Context, userID, collection, id string, patch json.RawMessage) (json.RawMessage, error) {
	p, err := s.policyFor(collection)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, common.ErrorUnauthorized
	}
	fields, err := decodeObject(patch)
	if err != nil {
		return nil, err
	}

	for _, k := range []string{"id", "created_at", "updated_at", p.ownerField} {
		delete(fields, k)
	}
	if p.parent != nil {
		delete(fields, p.parent.field)
	}

	var merged *models.Row
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Rows(tx)

		cur, err := repo.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		if cur.OwnerID != userID && !onlyOpenFields(p, fields) {
			return common.ErrorForbidden
		}
		if p.lockField != "" && locked(cur.Data, p.lockField) {
			return fmt.Errorf("%w: %s %s is locked", common.ErrorValidation, collection, id)
		}

		now := s.now()
		fields["updated_at"] = now.Format(time.RFC3339Nano)
		data, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		merged, err = repo.Merge(ctx, collection, id, data, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, collection, p, dataapi.EventUpdate, merged.OwnerID, merged.Data)
	return merged.Data, nil
}

func onlyOpenFields(p policy, fields map[string]any) bool {
	if len(p.openFields) == 0 || len(fields) == 0 {
		return false
	}
	for k := range fields {
		if !slices.Contains(p.openFields, k) {
			return false
		}
	}
	return true
}

func locked(data json.RawMessage, field string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	return string(fields[field]) == "true"
}

// Delete removes a document and the children that reference it.
func (s *RowService) Delete(ctx context.Context, userID, collection, id string) error {
	p, err := s.policyFor(collection)
	if err != nil {
		return err
	}
	if userID == "" {
		return common.ErrorUnauthorized
	}
	if p.noDelete {
		return fmt.Errorf("%w: %s cannot be deleted", common.ErrorForbidden, collection)
	}

	var old *models.Row
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Rows(tx)

		var err error
		old, err = repo.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		if old.OwnerID != userID {
			return common.ErrorForbidden
		}
		for _, child := range p.children {
			if _, err := repo.DeleteWhere(ctx, child.collection, child.field, id); err != nil {
				return err
			}
		}
		return repo.Delete(ctx, collection, id)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, collection, p, dataapi.EventDelete, old.OwnerID, old.Data)
	return nil
}

// Select returns documents matching req. Private collections are limited
// to the caller's own rows and need a signed-in caller.
func (s *RowService) Select(ctx context.Context, userID string, req *dataapi.SelectRequest) ([]json.RawMessage, error) {
	p, err := s.policyFor(req.Collection)
	if err != nil {
		return nil, err
	}

	q := models.RowQuery{
		Collection: req.Collection,
		Filter:     req.Filter,
		Order:      req.Order,
		Desc:       req.Desc,
		Limit:      req.Limit,
	}
	if p.private {
		if userID == "" {
			return nil, common.ErrorUnauthorized
		}
		q.OwnerID = userID
	}
	if q.Limit <= 0 || q.Limit > maxSelectLimit {
		q.Limit = maxSelectLimit
	}

	rows, err := s.repomanager.Rows(s.db).Select(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(rows))
	for i, row := range rows {
		out[i] = row.Data
	}
	return out, nil
}

// Increment bumps a public counter. No realtime event is published.
func (s *RowService) Increment(ctx context.Context, collection, id, field string) (int64, error) {
	p, err := s.policyFor(collection)
	if err != nil {
		return 0, err
	}
	if !slices.Contains(p.counters, field) {
		return 0, fmt.Errorf("%w: %s.%s is not a counter", common.ErrorValidation, collection, field)
	}
	return s.repomanager.Rows(s.db).Increment(ctx, collection, id, field, s.now())
}
