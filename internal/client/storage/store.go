// Package storage is the Local Cache Store: a durable key/value snapshot of
// the entities the user has seen, plus the FIFO of offline changes.
//
// Reads never fail. A missing key, a database error or corrupt JSON all
// come back as an empty result and are logged. Writes are best-effort and
// only report errors where losing data would lose a user's intent
// (AddPendingChange).
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/repositories/cache"
	"github.com/creat233/finderid/internal/client/repositories/metadata"
	"github.com/creat233/finderid/internal/client/repositories/pending"
	"github.com/creat233/finderid/internal/logging"
)

const (
	nsMCards        = "mcards"
	nsStatuses      = "statuses"
	nsProducts      = "products"
	nsReviews       = "reviews"
	nsInvoices      = "invoices"
	nsQuotes        = "quotes"
	nsReportedCards = "reported_cards"
	nsReportedCard  = "reported_card"
	nsUserCards     = "user_cards"
	nsUserCard      = "user_card"

	metaLastSync = "last_sync"
)

// layout tells how one namespace stores records of an entity kind.
type layout struct {
	namespace string
	list      bool // value is a JSON array of records
	byID      bool // single record stored under its own id
}

var layouts = map[models.EntityType][]layout{
	models.EntityMCard:        {{namespace: nsMCards}},
	models.EntityStatus:       {{namespace: nsStatuses, list: true}},
	models.EntityProduct:      {{namespace: nsProducts, list: true}},
	models.EntityReview:       {{namespace: nsReviews, list: true}},
	models.EntityInvoice:      {{namespace: nsInvoices, list: true}},
	models.EntityQuote:        {{namespace: nsQuotes, list: true}},
	models.EntityReportedCard: {{namespace: nsReportedCards, list: true}, {namespace: nsReportedCard, byID: true}},
	models.EntityUserCard:     {{namespace: nsUserCards, list: true}, {namespace: nsUserCard, byID: true}},
}

type Store struct {
	cache   cache.Repository
	pending pending.Repository
	meta    metadata.Repository
	logger  logging.Logger
	now     func() time.Time
}

// New builds a store over an opened cache database (see OpenDB).
func New(db *sql.DB, logger logging.Logger) *Store {
	return NewWithRepositories(
		cache.NewSQLiteRepository(db),
		pending.NewSQLiteRepository(db),
		metadata.NewSQLiteRepository(db),
		logger,
	)
}

func NewWithRepositories(c cache.Repository, p pending.Repository, m metadata.Repository, logger logging.Logger) *Store {
	return &Store{
		cache:   c,
		pending: p,
		meta:    m,
		logger:  logger.With("module", "storage"),
		now:     time.Now,
	}
}

func (s *Store) read(ctx context.Context, ns, key string) []byte {
	raw, err := s.cache.Get(ctx, ns, key)
	if err != nil {
		s.logger.Warn(ctx, "cache read failed", "namespace", ns, "key", key, "error", err)
		return nil
	}
	return raw
}

func (s *Store) write(ctx context.Context, ns, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Error(ctx, "cache encode failed", "namespace", ns, "key", key, "error", err)
		return
	}
	if err := s.cache.Put(ctx, ns, key, raw); err != nil {
		s.logger.Error(ctx, "cache write failed", "namespace", ns, "key", key, "error", err)
	}
}

func (s *Store) drop(ctx context.Context, ns, key string) {
	if err := s.cache.Delete(ctx, ns, key); err != nil {
		s.logger.Error(ctx, "cache delete failed", "namespace", ns, "key", key, "error", err)
	}
}

func getList[T any](ctx context.Context, s *Store, ns, key string) []T {
	raw := s.read(ctx, ns, key)
	if raw == nil {
		return []T{}
	}

	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		s.logger.Warn(ctx, "corrupt cache entry", "namespace", ns, "key", key, "error", err)
		return []T{}
	}
	if out == nil {
		return []T{}
	}
	return out
}

func saveList[T any](ctx context.Context, s *Store, ns, key string, items []T) {
	if items == nil {
		items = []T{}
	}
	s.write(ctx, ns, key, items)
}

func getOne[T any](ctx context.Context, s *Store, ns, key string) (T, bool) {
	var out T
	raw := s.read(ctx, ns, key)
	if raw == nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		s.logger.Warn(ctx, "corrupt cache entry", "namespace", ns, "key", key, "error", err)
		return out, false
	}
	return out, true
}

func (s *Store) GetStatuses(ctx context.Context, mcardID string) []models.Status {
	return getList[models.Status](ctx, s, nsStatuses, mcardID)
}

func (s *Store) SaveStatuses(ctx context.Context, mcardID string, items []models.Status) {
	saveList(ctx, s, nsStatuses, mcardID, items)
}

func (s *Store) GetProducts(ctx context.Context, mcardID string) []models.Product {
	return getList[models.Product](ctx, s, nsProducts, mcardID)
}

func (s *Store) SaveProducts(ctx context.Context, mcardID string, items []models.Product) {
	saveList(ctx, s, nsProducts, mcardID, items)
}

func (s *Store) GetReviews(ctx context.Context, mcardID string) []models.Review {
	return getList[models.Review](ctx, s, nsReviews, mcardID)
}

func (s *Store) SaveReviews(ctx context.Context, mcardID string, items []models.Review) {
	saveList(ctx, s, nsReviews, mcardID, items)
}

func (s *Store) GetInvoices(ctx context.Context, userID string) []models.Invoice {
	return getList[models.Invoice](ctx, s, nsInvoices, userID)
}

func (s *Store) SaveInvoices(ctx context.Context, userID string, items []models.Invoice) {
	saveList(ctx, s, nsInvoices, userID, items)
}

func (s *Store) GetQuotes(ctx context.Context, userID string) []models.Quote {
	return getList[models.Quote](ctx, s, nsQuotes, userID)
}

func (s *Store) SaveQuotes(ctx context.Context, userID string, items []models.Quote) {
	saveList(ctx, s, nsQuotes, userID, items)
}

func (s *Store) GetReportedCards(ctx context.Context, userID string) []models.ReportedCard {
	return getList[models.ReportedCard](ctx, s, nsReportedCards, userID)
}

func (s *Store) SaveReportedCards(ctx context.Context, userID string, items []models.ReportedCard) {
	saveList(ctx, s, nsReportedCards, userID, items)
}

func (s *Store) GetUserCards(ctx context.Context, userID string) []models.UserCard {
	return getList[models.UserCard](ctx, s, nsUserCards, userID)
}

func (s *Store) SaveUserCards(ctx context.Context, userID string, items []models.UserCard) {
	saveList(ctx, s, nsUserCards, userID, items)
}

// GetMCard returns the card cached under slug.
func (s *Store) GetMCard(ctx context.Context, slug string) (models.MCard, bool) {
	return getOne[models.MCard](ctx, s, nsMCards, slug)
}

func (s *Store) SaveMCard(ctx context.Context, card models.MCard) {
	if card.Slug == "" {
		s.logger.Warn(ctx, "refusing to cache card without slug", "id", card.ID)
		return
	}
	s.write(ctx, nsMCards, card.Slug, card)
}

func (s *Store) GetReportedCard(ctx context.Context, id string) (models.ReportedCard, bool) {
	return getOne[models.ReportedCard](ctx, s, nsReportedCard, id)
}

func (s *Store) SaveReportedCard(ctx context.Context, rec models.ReportedCard) {
	s.write(ctx, nsReportedCard, rec.ID, rec)
}

func (s *Store) GetUserCard(ctx context.Context, id string) (models.UserCard, bool) {
	return getOne[models.UserCard](ctx, s, nsUserCard, id)
}

func (s *Store) SaveUserCard(ctx context.Context, rec models.UserCard) {
	s.write(ctx, nsUserCard, rec.ID, rec)
}

func (s *Store) GetLastSync(ctx context.Context) (time.Time, bool) {
	raw, err := s.meta.Get(ctx, metaLastSync)
	if err != nil || raw == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		s.logger.Warn(ctx, "corrupt last sync value", "value", string(raw))
		return time.Time{}, false
	}
	return t, true
}

func (s *Store) SetLastSync(ctx context.Context, t time.Time) {
	if err := s.meta.Set(ctx, metaLastSync, []byte(t.UTC().Format(time.RFC3339Nano))); err != nil {
		s.logger.Error(ctx, "could not record last sync", "error", err)
	}
}

// Metadata exposes the raw bookkeeping repository (session data).
func (s *Store) Metadata() metadata.Repository {
	return s.meta
}

// ClearCache drops every cached snapshot. Queued changes are kept.
func (s *Store) ClearCache(ctx context.Context) {
	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Error(ctx, "could not clear cache", "error", err)
	}
}
