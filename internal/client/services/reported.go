package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
)

// ReportedCardService manages the found documents declared by one user.
// Reports cannot be deleted; they end as "recovered".
type ReportedCardService struct {
	*Collection[models.ReportedCard, *models.ReportedCard]
	deps Deps
}

func NewReportedCardService(deps Deps) *ReportedCardService {
	deps = deps.withDefaults()
	store := deps.Store
	return &ReportedCardService{
		deps: deps,
		Collection: newCollection[models.ReportedCard, *models.ReportedCard](deps, binding[models.ReportedCard]{
			entity: models.EntityReportedCard, noun: "report", plural: "reports",
			query:    byUser("reporter_id"),
			setOwner: func(r *models.ReportedCard, key string) { r.ReporterID = key },
			cacheGet: store.GetReportedCards,
			cacheSave: func(ctx context.Context, key string, items []models.ReportedCard) {
				store.SaveReportedCards(ctx, key, items)
				for _, r := range items {
					store.SaveReportedCard(ctx, r)
				}
			},
			prepare: func(r *models.ReportedCard) {
				r.CardNumber = normalizeCardNumber(r.CardNumber)
				if r.Status == "" {
					r.Status = models.ReportPending
				}
			},
		}),
	}
}

// Get returns one report, from the cache when offline.
func (s *ReportedCardService) Get(ctx context.Context, id string) (models.ReportedCard, error) {
	return getSingle(ctx, s.deps, "load report", models.CollectionReportedCards, id,
		s.deps.Store.GetReportedCard, s.deps.Store.SaveReportedCard)
}

// MarkRecovered closes a report once the owner got the document back.
func (s *ReportedCardService) MarkRecovered(ctx context.Context, id string) Mutation[models.ReportedCard] {
	return s.Update(ctx, id, models.Patch{"status": models.ReportRecovered})
}

// Search looks up pending reports of a card number across all finders.
func (s *ReportedCardService) Search(ctx context.Context, cardNumber string) ([]models.ReportedCard, error) {
	const op = "search reports"
	if !s.deps.online() {
		return nil, s.deps.fail(ctx, op, ErrOfflineUnsupported)
	}
	found, err := client.SelectAll[models.ReportedCard](ctx, s.deps.Client, models.CollectionReportedCards, client.Query{
		Filter: map[string]string{"card_number": normalizeCardNumber(cardNumber), "status": models.ReportPending},
		Order:  "created_at",
		Desc:   true,
	})
	if err != nil {
		return nil, s.deps.fail(ctx, op, err)
	}
	return found, nil
}

// normalizeCardNumber drops spaces and dashes and upper-cases letters, so
// "ab 12-34" and "AB1234" match.
func normalizeCardNumber(n string) string {
	return strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(n)))
}

// getSingle reads one record by id: from the cache offline, remotely
// otherwise with the result cached.
func getSingle[T any](
	ctx context.Context, d Deps, op, collection, id string,
	cached func(context.Context, string) (T, bool),
	save func(context.Context, T),
) (T, error) {
	fromCache := func() (T, error) {
		rec, ok := cached(ctx, id)
		if !ok {
			return rec, client.ErrLocalDataNotAvailable
		}
		return rec, nil
	}
	if !d.online() {
		return fromCache()
	}

	rec, err := client.SelectOne[T](ctx, d.Client, collection, client.Query{Filter: map[string]string{"id": id}})
	switch {
	case err == nil:
		save(ctx, rec)
		return rec, nil
	case errors.Is(err, client.ErrUnavailable):
		return fromCache()
	case errors.Is(err, common.ErrorNotFound):
		return rec, fmt.Errorf("%s %s: %w", collection, id, err)
	default:
		return rec, d.fail(ctx, op, err)
	}
}
