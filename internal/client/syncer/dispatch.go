package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
)

// Dispatcher turns a queued change into exactly one remote operation, as
// decided by models.Rules. Quote creation is the one two-step case.
type Dispatcher struct {
	client client.Client
}

func NewDispatcher(c client.Client) *Dispatcher {
	return &Dispatcher{client: c}
}

// Replay performs change remotely. For creates it returns the stored
// record, whose id replaces the placeholder id of the payload.
func (d *Dispatcher) Replay(ctx context.Context, change models.PendingChange) (json.RawMessage, error) {
	rule, err := models.RuleFor(change.Type, change.Action)
	if err != nil {
		return nil, err
	}

	switch change.Action {
	case models.ActionCreate:
		return d.create(ctx, rule, change)
	case models.ActionUpdate:
		return d.update(ctx, rule, change)
	case models.ActionDelete:
		return nil, d.delete(ctx, rule, change)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedChange, change.Action)
	}
}

func (d *Dispatcher) create(ctx context.Context, rule models.Rule, change models.PendingChange) (json.RawMessage, error) {
	if change.Type == models.EntityQuote {
		var q models.Quote
		if err := json.Unmarshal(change.Data, &q); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		saved, err := client.InsertQuote(ctx, d.client, q)
		if err != nil {
			return nil, err
		}
		return json.Marshal(saved)
	}

	fields, err := decodeFields(change.Data)
	if err != nil {
		return nil, err
	}
	if id, _ := fields["id"].(string); models.IsTempID(id) {
		delete(fields, "id")
	}
	record, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return client.InsertRaw(ctx, d.client, rule.Collection, record)
}

func (d *Dispatcher) update(ctx context.Context, rule models.Rule, change models.PendingChange) (json.RawMessage, error) {
	fields, err := decodeFields(change.Data)
	if err != nil {
		return nil, err
	}
	id, _ := fields["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("update %s: payload has no id", change.Type)
	}
	delete(fields, "id")

	patch, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return d.client.Update(ctx, rule.Collection, id, patch)
}

func (d *Dispatcher) delete(ctx context.Context, rule models.Rule, change models.PendingChange) error {
	id := models.RecordID(change.Data)
	if id == "" {
		return fmt.Errorf("delete %s: payload has no id", change.Type)
	}
	err := d.client.Delete(ctx, rule.Collection, id)
	if errors.Is(err, common.ErrorNotFound) {
		// Already gone remotely.
		return nil
	}
	return err
}

func decodeFields(raw json.RawMessage) (map[string]any, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}
