package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
)

func decodeAll[T any](rows []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var v T
		if err := json.Unmarshal(row, &v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// SelectAll runs q against collection and decodes every row.
func SelectAll[T any](ctx context.Context, c Client, collection string, q Query) ([]T, error) {
	rows, err := c.Select(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](rows)
}

// SelectOne returns the first row matching q or common.ErrorNotFound.
func SelectOne[T any](ctx context.Context, c Client, collection string, q Query) (T, error) {
	var zero T
	q.Limit = 1
	items, err := SelectAll[T](ctx, c, collection, q)
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, common.ErrorNotFound
	}
	return items[0], nil
}

// InsertRaw inserts a single already-encoded record.
func InsertRaw(ctx context.Context, c Client, collection string, record json.RawMessage) (json.RawMessage, error) {
	rows, err := c.Insert(ctx, collection, []json.RawMessage{record})
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("insert into %s returned %d rows", collection, len(rows))
	}
	return rows[0], nil
}

// InsertMany encodes records, inserts them in one call and decodes the
// stored rows.
func InsertMany[T any](ctx context.Context, c Client, collection string, records []T) ([]T, error) {
	raw := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	rows, err := c.Insert(ctx, collection, raw)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](rows)
}

func InsertOne[T any](ctx context.Context, c Client, collection string, record T) (T, error) {
	var zero T
	out, err := InsertMany(ctx, c, collection, []T{record})
	if err != nil {
		return zero, err
	}
	if len(out) != 1 {
		return zero, fmt.Errorf("insert into %s returned %d rows", collection, len(out))
	}
	return out[0], nil
}

// UpdateOne applies patch to the record id and decodes the stored row.
func UpdateOne[T any](ctx context.Context, c Client, collection, id string, patch models.Patch) (T, error) {
	var out T
	raw, err := json.Marshal(patch)
	if err != nil {
		return out, err
	}
	row, err := c.Update(ctx, collection, id, raw)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(row, &out)
	return out, err
}

// InsertQuote stores the quote header and then its items, linked to the
// id the header received. Items are not sent when the header fails; when
// the items fail the header is deleted again so a retry starts clean.
func InsertQuote(ctx context.Context, c Client, q models.Quote) (models.Quote, error) {
	items := q.Items
	header := q
	header.Items = nil
	if models.IsTempID(header.ID) {
		header.ID = ""
	}

	saved, err := InsertOne(ctx, c, models.CollectionQuotes, header)
	if err != nil {
		return models.Quote{}, err
	}
	if len(items) == 0 {
		return saved, nil
	}

	prepared := make([]models.QuoteItem, len(items))
	for i, item := range items {
		item.QuoteID = saved.ID
		if models.IsTempID(item.ID) {
			item.ID = ""
		}
		prepared[i] = item
	}

	savedItems, err := InsertMany(ctx, c, models.CollectionQuoteItems, prepared)
	if err != nil {
		_ = c.Delete(ctx, models.CollectionQuotes, saved.ID)
		return models.Quote{}, fmt.Errorf("insert items of quote %s: %w", saved.ID, err)
	}
	saved.Items = savedItems
	return saved, nil
}

// LoadQuoteItems attaches the stored items to every quote.
func LoadQuoteItems(ctx context.Context, c Client, quotes []models.Quote) error {
	for i := range quotes {
		items, err := SelectAll[models.QuoteItem](ctx, c, models.CollectionQuoteItems, Query{
			Filter: map[string]string{"quote_id": quotes[i].ID},
			Order:  "created_at",
		})
		if err != nil {
			return err
		}
		quotes[i].Items = items
	}
	return nil
}
