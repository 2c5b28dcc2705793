package services

import (
	"context"

	"github.com/creat233/finderid/internal/client/models"
)

// UserCardService manages the documents a user watches for.
type UserCardService struct {
	*Collection[models.UserCard, *models.UserCard]
	deps    Deps
	reports *ReportedCardService
}

func NewUserCardService(deps Deps, reports *ReportedCardService) *UserCardService {
	deps = deps.withDefaults()
	store := deps.Store
	return &UserCardService{
		deps:    deps,
		reports: reports,
		Collection: newCollection[models.UserCard, *models.UserCard](deps, binding[models.UserCard]{
			entity: models.EntityUserCard, noun: "card", plural: "cards",
			query:    byUser("user_id"),
			setOwner: func(c *models.UserCard, key string) { c.UserID = key },
			cacheGet: store.GetUserCards,
			cacheSave: func(ctx context.Context, key string, items []models.UserCard) {
				store.SaveUserCards(ctx, key, items)
				for _, c := range items {
					store.SaveUserCard(ctx, c)
				}
			},
			prepare: func(c *models.UserCard) {
				c.CardNumber = normalizeCardNumber(c.CardNumber)
			},
		}),
	}
}

// Get returns one watched card, from the cache when offline.
func (s *UserCardService) Get(ctx context.Context, id string) (models.UserCard, error) {
	return getSingle(ctx, s.deps, "load card", models.CollectionUserCards, id,
		s.deps.Store.GetUserCard, s.deps.Store.SaveUserCard)
}

// Match pairs a watched card with the pending reports of its number.
type Match struct {
	Card    models.UserCard       `json:"card"`
	Reports []models.ReportedCard `json:"reports"`
}

// Matches searches pending reports for every active watched card. It
// needs a connection.
func (s *UserCardService) Matches(ctx context.Context) ([]Match, error) {
	var out []Match
	for _, c := range s.Items() {
		if !c.IsActive {
			continue
		}
		found, err := s.reports.Search(ctx, c.CardNumber)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			out = append(out, Match{Card: c, Reports: found})
		}
	}
	return out, nil
}
