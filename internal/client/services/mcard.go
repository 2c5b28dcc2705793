package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/syncer"
	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/logging"
)

// AvatarBucket is the storage bucket of profile pictures.
const AvatarBucket = "avatars"

// UserSource resolves the signed-in user. *AuthService implements it.
type UserSource interface {
	CurrentUser(ctx context.Context) (models.User, error)
}

// MCardData is a card together with its child collections.
type MCardData struct {
	Card     models.MCard     `json:"card"`
	Statuses []models.Status  `json:"statuses"`
	Products []models.Product `json:"products"`
	Reviews  []models.Review  `json:"reviews"`
}

// RefreshReport lists what a background refresh replaced.
type RefreshReport struct {
	Fields      []string `json:"fields,omitempty"`
	Collections []string `json:"collections,omitempty"`
}

func (r RefreshReport) Changed() bool {
	return len(r.Fields) > 0 || len(r.Collections) > 0
}

// MCardService loads one card by slug with its statuses, products and
// reviews. The child collections are exposed for mutations.
type MCardService struct {
	deps   Deps
	users  UserSource
	logger logging.Logger

	Statuses *Collection[models.Status, *models.Status]
	Products *Collection[models.Product, *models.Product]
	Reviews  *Collection[models.Review, *models.Review]

	mu      sync.RWMutex
	slug    string
	card    models.MCard
	loaded  bool
	version uint64

	group      singleflight.Group
	refreshing atomic.Bool
	bg         sync.WaitGroup
}

func byMCard(key string) client.Query {
	return client.Query{Filter: map[string]string{"mcard_id": key}, Order: "created_at", Desc: true}
}

func NewMCardService(deps Deps, users UserSource) *MCardService {
	deps = deps.withDefaults()
	store := deps.Store
	return &MCardService{
		deps:   deps,
		users:  users,
		logger: deps.Logger.With("module", "services", "entity", models.EntityMCard),
		Statuses: newCollection[models.Status, *models.Status](deps, binding[models.Status]{
			entity: models.EntityStatus, noun: "status", plural: "statuses",
			query:     byMCard,
			setOwner:  func(s *models.Status, key string) { s.MCardID = key },
			cacheGet:  store.GetStatuses,
			cacheSave: store.SaveStatuses,
		}),
		Products: newCollection[models.Product, *models.Product](deps, binding[models.Product]{
			entity: models.EntityProduct, noun: "product", plural: "products",
			query:     byMCard,
			setOwner:  func(p *models.Product, key string) { p.MCardID = key },
			cacheGet:  store.GetProducts,
			cacheSave: store.SaveProducts,
		}),
		Reviews: newCollection[models.Review, *models.Review](deps, binding[models.Review]{
			entity: models.EntityReview, noun: "review", plural: "reviews",
			query:     byMCard,
			setOwner:  func(r *models.Review, key string) { r.MCardID = key },
			cacheGet:  store.GetReviews,
			cacheSave: store.SaveReviews,
		}),
	}
}

// Data returns the loaded card and collections.
func (s *MCardService) Data() MCardData {
	s.mu.RLock()
	card := s.card
	s.mu.RUnlock()
	return MCardData{
		Card:     card,
		Statuses: s.Statuses.Items(),
		Products: s.Products.Items(),
		Reviews:  s.Reviews.Items(),
	}
}

func (s *MCardService) Card() models.MCard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.card
}

func (s *MCardService) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Load shows the card with slug. The demo slug and the empty slug return
// built-in cards without touching the cache or the network.
func (s *MCardService) Load(ctx context.Context, slug string) (MCardData, error) {
	switch slug {
	case common.DemoSlug:
		d := demoCard()
		s.setBuiltIn(slug, d)
		return d, nil
	case "":
		d := defaultCard()
		s.setBuiltIn(slug, d)
		return d, nil
	}

	s.mu.RLock()
	done := s.loaded && s.slug == slug
	s.mu.RUnlock()
	if done {
		return s.Data(), nil
	}
	return s.Reload(ctx, slug)
}

// Reload is Load without the already-loaded shortcut.
func (s *MCardService) Reload(ctx context.Context, slug string) (MCardData, error) {
	_, err, _ := s.group.Do(slug, func() (any, error) {
		return nil, s.fetchInto(ctx, slug)
	})
	if err != nil {
		return MCardData{}, err
	}
	return s.Data(), nil
}

func (s *MCardService) fetchInto(ctx context.Context, slug string) error {
	if !s.deps.online() {
		return s.fromCache(ctx, slug)
	}

	card, err := s.fetchCard(ctx, slug)
	if err != nil {
		if errors.Is(err, client.ErrUnavailable) {
			s.logger.Warn(ctx, "service unreachable, serving cache", "slug", slug)
			return s.fromCache(ctx, slug)
		}
		return s.deps.fail(ctx, "load card", err)
	}
	s.deps.Store.SaveMCard(ctx, card)
	s.setCard(slug, card, true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { _, err := s.Statuses.Reload(gctx, card.ID); return err })
	g.Go(func() error { _, err := s.Products.Reload(gctx, card.ID); return err })
	g.Go(func() error { _, err := s.Reviews.Reload(gctx, card.ID); return err })
	return g.Wait()
}

func (s *MCardService) fetchCard(ctx context.Context, slug string) (models.MCard, error) {
	return client.SelectOne[models.MCard](ctx, s.deps.Client, models.CollectionMCards, client.Query{
		Filter: map[string]string{"slug": slug},
	})
}

// fromCache shows whatever the cache holds for slug, possibly nothing.
func (s *MCardService) fromCache(ctx context.Context, slug string) error {
	card, _ := s.deps.Store.GetMCard(ctx, slug)
	s.setCard(slug, card, false)

	if _, err := s.Statuses.Reload(ctx, card.ID); err != nil {
		return err
	}
	if _, err := s.Products.Reload(ctx, card.ID); err != nil {
		return err
	}
	_, err := s.Reviews.Reload(ctx, card.ID)
	return err
}

func (s *MCardService) setCard(slug string, card models.MCard, loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slug = slug
	s.card = card
	s.loaded = loaded
	s.version++
}

func (s *MCardService) setBuiltIn(slug string, d MCardData) {
	s.setCard(slug, d.Card, false)
	s.Statuses.set(d.Card.ID, d.Statuses, false)
	s.Products.set(d.Card.ID, d.Products, false)
	s.Reviews.set(d.Card.ID, d.Reviews, false)
}

func (s *MCardService) realSlug() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slug, s.slug != "" && s.slug != common.DemoSlug
}

// Refresh re-fetches the card and its collections in the background and
// replaces only what differs. Card fields are compared one by one.
func (s *MCardService) Refresh(ctx context.Context) (RefreshReport, error) {
	var report RefreshReport
	slug, ok := s.realSlug()
	if !ok || !s.deps.online() {
		return report, nil
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return report, nil
	}
	defer s.refreshing.Store(false)

	fresh, err := s.fetchCard(ctx, slug)
	if err != nil {
		s.logger.Debug(ctx, "background refresh failed", "slug", slug, "error", err)
		return report, err
	}

	s.mu.Lock()
	if s.slug == slug {
		report.Fields = changedCardFields(s.card, fresh)
		if len(report.Fields) > 0 {
			s.card = fresh
			s.version++
		}
	}
	s.mu.Unlock()
	if len(report.Fields) > 0 {
		s.deps.Store.SaveMCard(ctx, fresh)
	}

	for _, c := range []struct {
		name    string
		refresh func(context.Context) (bool, error)
	}{
		{"statuses", s.Statuses.Refresh},
		{"products", s.Products.Refresh},
		{"reviews", s.Reviews.Refresh},
	} {
		changed, err := c.refresh(ctx)
		if err != nil {
			return report, err
		}
		if changed {
			report.Collections = append(report.Collections, c.name)
		}
	}
	return report, nil
}

func changedCardFields(old, fresh models.MCard) []string {
	var out []string
	check := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	check("id", old.ID != fresh.ID)
	check("slug", old.Slug != fresh.Slug)
	check("full_name", old.FullName != fresh.FullName)
	check("job_title", old.JobTitle != fresh.JobTitle)
	check("company", old.Company != fresh.Company)
	check("phone_number", old.PhoneNumber != fresh.PhoneNumber)
	check("email", old.Email != fresh.Email)
	check("description", old.Description != fresh.Description)
	check("profile_picture_url", old.ProfilePictureURL != fresh.ProfilePictureURL)
	check("social_links", !cmp.Equal(old.SocialLinks, fresh.SocialLinks))
	check("is_published", old.IsPublished != fresh.IsPublished)
	check("plan", old.Plan != fresh.Plan)
	check("subscription_status", old.SubscriptionStatus != fresh.SubscriptionStatus)
	check("view_count", old.ViewCount != fresh.ViewCount)
	check("is_verified", old.IsVerified != fresh.IsVerified)
	check("updated_at", !old.UpdatedAt.Equal(fresh.UpdatedAt))
	return out
}

// CreateCard creates a card for the signed-in user and makes it current.
func (s *MCardService) CreateCard(ctx context.Context, card models.MCard) Mutation[models.MCard] {
	const op = "save card"
	if s.users != nil {
		if u, err := s.users.CurrentUser(ctx); err == nil {
			card.UserID = u.ID
		}
	}
	if err := validate(s.deps.Validate, card); err != nil {
		return rejected(ctx, s.deps, op, card, err)
	}

	tempID := models.NewTempID()
	card.ID = tempID
	card.Stamp(s.deps.Now().UTC())
	s.setCard(card.Slug, card, false)
	s.deps.Store.SaveMCard(ctx, card)

	m := commit(ctx, s.deps, op,
		intent{entity: models.EntityMCard, action: models.ActionCreate, payload: card},
		card, func(ctx context.Context) (models.MCard, error) {
			rec := card
			rec.ID = ""
			return client.InsertOne(ctx, s.deps.Client, models.CollectionMCards, rec)
		})
	if m.State == Confirmed {
		s.setCard(m.Record.Slug, m.Record, true)
		s.deps.Store.SaveMCard(ctx, m.Record)
	}
	return m
}

// UpdateCard merges patch into the current card.
func (s *MCardService) UpdateCard(ctx context.Context, patch models.Patch) Mutation[models.MCard] {
	const op = "update card"
	cur := s.Card()
	if slug, ok := s.realSlug(); !ok || cur.ID == "" {
		return rejected(ctx, s.deps, op, cur, fmt.Errorf("%w: card %q", common.ErrorNotFound, slug))
	}
	if orphaned(ctx, s.deps, models.EntityMCard, cur.ID) {
		return rejected(ctx, s.deps, op, cur, errNeverSaved("card", cur.ID))
	}

	patch = cleanPatch(patch)
	merged, err := models.ApplyPatch(cur, patch)
	if err != nil {
		return rejected(ctx, s.deps, op, cur, fmt.Errorf("%w: %v", common.ErrorValidation, err))
	}
	if err := validate(s.deps.Validate, merged); err != nil {
		return rejected(ctx, s.deps, op, cur, err)
	}
	merged.Stamp(s.deps.Now().UTC())

	s.replaceCard(ctx, cur, merged)

	m := commit(ctx, s.deps, op,
		intent{entity: models.EntityMCard, action: models.ActionUpdate, payload: updatePayload(cur.ID, patch), deferred: models.IsTempID(cur.ID)},
		merged, func(ctx context.Context) (models.MCard, error) {
			return client.UpdateOne[models.MCard](ctx, s.deps.Client, models.CollectionMCards, cur.ID, patch)
		})
	if m.State == Confirmed {
		s.replaceCard(ctx, merged, m.Record)
		if _, err := s.Reload(ctx, m.Record.Slug); err != nil {
			s.logger.Debug(ctx, "reload after update failed", "error", err)
		}
	}
	return m
}

// replaceCard swaps the current card, re-keying the cache when the slug
// changed.
func (s *MCardService) replaceCard(ctx context.Context, old, card models.MCard) {
	s.mu.Lock()
	s.card = card
	s.slug = card.Slug
	s.version++
	s.mu.Unlock()

	if old.Slug != card.Slug {
		s.deps.Store.DeleteMCard(ctx, old.ID)
	}
	s.deps.Store.SaveMCard(ctx, card)
}

// DeleteCard deletes the current card.
func (s *MCardService) DeleteCard(ctx context.Context) Mutation[models.MCard] {
	const op = "delete card"
	cur := s.Card()
	if _, ok := s.realSlug(); !ok || cur.ID == "" {
		return rejected(ctx, s.deps, op, cur, fmt.Errorf("%w: no card loaded", common.ErrorNotFound))
	}

	s.setCard("", models.MCard{}, false)
	s.deps.Store.DeleteMCard(ctx, cur.ID)
	if orphaned(ctx, s.deps, models.EntityMCard, cur.ID) {
		return Mutation[models.MCard]{Record: cur, State: Confirmed}
	}

	return commit(ctx, s.deps, op,
		intent{entity: models.EntityMCard, action: models.ActionDelete, payload: map[string]any{"id": cur.ID}, deferred: models.IsTempID(cur.ID)},
		cur, func(ctx context.Context) (models.MCard, error) {
			err := s.deps.Client.Delete(ctx, models.CollectionMCards, cur.ID)
			if errors.Is(err, common.ErrorNotFound) {
				err = nil
			}
			return cur, err
		})
}

// IsOwner reports whether the signed-in user owns the current card.
func (s *MCardService) IsOwner(ctx context.Context) bool {
	card := s.Card()
	if s.users == nil || card.UserID == "" {
		return false
	}
	u, err := s.users.CurrentUser(ctx)
	if err != nil {
		return false
	}
	return u.ID == card.UserID
}

// IncrementViewCount bumps the remote view counter of the current card
// without waiting. Failures are only logged.
func (s *MCardService) IncrementViewCount(ctx context.Context) {
	card := s.Card()
	if _, ok := s.realSlug(); !ok || card.ID == "" || models.IsTempID(card.ID) || !s.deps.online() {
		return
	}

	ctx = context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := s.deps.Client.Increment(ctx, models.CollectionMCards, card.ID, "view_count"); err != nil {
			s.logger.Warn(ctx, "could not count card view", "id", card.ID, "error", err)
		}
	}()
}

// Wait blocks until background calls started by the service return.
func (s *MCardService) Wait() { s.bg.Wait() }

// UploadProfilePicture stores the image and points the card at it. It
// needs a connection.
func (s *MCardService) UploadProfilePicture(ctx context.Context, filename string, blob []byte) Mutation[models.MCard] {
	const op = "upload profile picture"
	card := s.Card()
	if !s.deps.online() {
		return rejected(ctx, s.deps, op, card, ErrOfflineUnsupported)
	}
	if card.ID == "" || models.IsTempID(card.ID) {
		return rejected(ctx, s.deps, op, card, fmt.Errorf("%w: card is not saved yet", common.ErrorValidation))
	}

	name := fmt.Sprintf("%d-%s", s.deps.Now().Unix(), path.Base(filename))
	url, err := s.deps.Client.Upload(ctx, AvatarBucket, path.Join(card.ID, name), blob)
	if err != nil {
		return rejected(ctx, s.deps, op, card, err)
	}
	return s.UpdateCard(ctx, models.Patch{"profile_picture_url": url})
}

// HandleSyncEvent applies creates confirmed by a sync pass.
func (s *MCardService) HandleSyncEvent(e syncer.Event) {
	s.Statuses.HandleSyncEvent(e)
	s.Products.HandleSyncEvent(e)
	s.Reviews.HandleSyncEvent(e)

	if e.Kind != syncer.EventReconciled || e.Entity != models.EntityMCard {
		return
	}
	newID := models.RecordID(e.Record)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.card.ID == e.TempID && newID != "" {
		s.card.ID = newID
		s.version++
	}
}

func demoCard() MCardData {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	base := func(id string) models.Base { return models.Base{ID: id, CreatedAt: now, UpdatedAt: now} }
	return MCardData{
		Card: models.MCard{
			Base:        base("demo-card"),
			Slug:        common.DemoSlug,
			FullName:    "Aminata Diallo",
			JobTitle:    "Graphic designer",
			Company:     "Studio Baobab",
			PhoneNumber: "+221 77 000 00 00",
			Email:       "demo@finderid.app",
			Description: "Brand identities, posters and packaging.",
			SocialLinks: map[string]string{"instagram": "https://instagram.com/finderid"},
			IsPublished: true,
			Plan:        "premium",
			ViewCount:   1280,
			IsVerified:  true,
		},
		Statuses: []models.Status{
			{Base: base("demo-status"), MCardID: "demo-card", StatusText: "Available for projects", StatusColor: "#22c55e", IsActive: true},
		},
		Products: []models.Product{
			{Base: base("demo-product-1"), MCardID: "demo-card", Name: "Logo design", Price: 150000, Currency: "XOF", Category: "design", IsActive: true},
			{Base: base("demo-product-2"), MCardID: "demo-card", Name: "Business cards (100)", Price: 25000, Currency: "XOF", Category: "print", IsActive: true},
		},
		Reviews: []models.Review{
			{Base: base("demo-review"), MCardID: "demo-card", VisitorName: "Moussa", Rating: 5, Comment: "Fast and creative.", IsApproved: true},
		},
	}
}

func defaultCard() MCardData {
	return MCardData{
		Card: models.MCard{
			FullName:    "Your name",
			JobTitle:    "Your job title",
			Description: "Tell visitors who you are.",
		},
		Statuses: []models.Status{},
		Products: []models.Product{},
		Reviews:  []models.Review{},
	}
}
