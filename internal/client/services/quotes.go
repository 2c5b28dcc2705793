package services

import (
	"context"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
)

// QuoteService manages the quotes of one user. Quotes carry their items;
// remotely the items live in their own collection.
type QuoteService struct {
	*Collection[models.Quote, *models.Quote]
}

func NewQuoteService(deps Deps) *QuoteService {
	deps = deps.withDefaults()
	query := byUser("user_id")
	return &QuoteService{
		Collection: newCollection[models.Quote, *models.Quote](deps, binding[models.Quote]{
			entity: models.EntityQuote, noun: "quote", plural: "quotes",
			query:     query,
			setOwner:  func(q *models.Quote, key string) { q.UserID = key },
			cacheGet:  deps.Store.GetQuotes,
			cacheSave: deps.Store.SaveQuotes,
			fetch: func(ctx context.Context, key string) ([]models.Quote, error) {
				quotes, err := client.SelectAll[models.Quote](ctx, deps.Client, models.CollectionQuotes, query(key))
				if err != nil {
					return nil, err
				}
				if err := client.LoadQuoteItems(ctx, deps.Client, quotes); err != nil {
					return nil, err
				}
				return quotes, nil
			},
			insert: func(ctx context.Context, q models.Quote) (models.Quote, error) {
				return client.InsertQuote(ctx, deps.Client, q)
			},
			prepare: func(q *models.Quote) {
				if q.Status == "" {
					q.Status = "draft"
				}
				if q.Currency == "" {
					q.Currency = "XOF"
				}
				for i := range q.Items {
					if q.Items[i].ID == "" {
						q.Items[i].ID = models.NewTempID()
					}
				}
				q.Totalize()
			},
		}),
	}
}
