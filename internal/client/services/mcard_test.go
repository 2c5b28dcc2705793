package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
)

type staticUser struct {
	user models.User
	err  error
}

func (s staticUser) CurrentUser(context.Context) (models.User, error) { return s.user, s.err }

func seedCard(e *env) {
	e.fake.Seed(models.CollectionMCards, models.MCard{Base: models.Base{ID: "m1"}, UserID: "u1", Slug: "jane", FullName: "Jane"})
	e.fake.Seed(models.CollectionStatuses, models.Status{Base: models.Base{ID: "s1"}, MCardID: "m1", StatusText: "Open"})
	e.fake.Seed(models.CollectionProducts, models.Product{Base: models.Base{ID: "p1"}, MCardID: "m1", Name: "Logo"})
	e.fake.Seed(models.CollectionReviews, models.Review{Base: models.Base{ID: "r1"}, MCardID: "m1", VisitorName: "A", Rating: 5})
}

func TestMCardLoad_BuiltInCards(t *testing.T) {
	e := newEnv(t, true)
	svc := NewMCardService(e.deps, nil)

	demo, err := svc.Load(context.Background(), common.DemoSlug)
	require.NoError(t, err)
	assert.Equal(t, common.DemoSlug, demo.Card.Slug)
	assert.NotEmpty(t, demo.Products)

	def, err := svc.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Your name", def.Card.FullName)
	assert.Empty(t, def.Statuses)

	assert.Empty(t, e.fake.Calls())
	_, ok := e.store.GetMCard(context.Background(), common.DemoSlug)
	assert.False(t, ok)
}

func TestMCardLoad_OnlineThenOffline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	seedCard(e)

	data, err := NewMCardService(e.deps, nil).Load(ctx, "jane")
	require.NoError(t, err)
	assert.Equal(t, "m1", data.Card.ID)
	assert.Len(t, data.Statuses, 1)
	assert.Len(t, data.Products, 1)
	assert.Len(t, data.Reviews, 1)

	e.conn.on.Store(false)
	calls := len(e.fake.Calls())
	offline, err := NewMCardService(e.deps, nil).Load(ctx, "jane")
	require.NoError(t, err)
	assert.Equal(t, data, offline)
	assert.Len(t, e.fake.Calls(), calls)
}

func TestMCardLoad_OfflineUnknownSlugIsEmpty(t *testing.T) {
	e := newEnv(t, false)
	data, err := NewMCardService(e.deps, nil).Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, data.Card.ID)
	assert.Empty(t, data.Statuses)
}

func TestMCardRefresh(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	seedCard(e)
	svc := NewMCardService(e.deps, nil)
	_, err := svc.Load(ctx, "jane")
	require.NoError(t, err)

	v := svc.Version()
	report, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Equal(t, v, svc.Version())

	_, err = e.fake.Update(ctx, models.CollectionMCards, "m1", []byte(`{"full_name":"Jane Doe"}`))
	require.NoError(t, err)
	e.fake.Seed(models.CollectionProducts, models.Product{Base: models.Base{ID: "p2"}, MCardID: "m1", Name: "Print"})

	report, err = svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"full_name"}, report.Fields)
	assert.Equal(t, []string{"products"}, report.Collections)
	assert.Equal(t, "Jane Doe", svc.Card().FullName)

	cached, ok := e.store.GetMCard(ctx, "jane")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", cached.FullName)
}

func TestMCardUpdateCard_Offline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	e.store.SaveMCard(ctx, models.MCard{Base: models.Base{ID: "m1"}, Slug: "jane", FullName: "Jane"})
	svc := NewMCardService(e.deps, nil)
	_, err := svc.Load(ctx, "jane")
	require.NoError(t, err)

	m := svc.UpdateCard(ctx, models.Patch{"job_title": "Designer"})
	require.NoError(t, m.Err)
	assert.Equal(t, Pending, m.State)

	cached, _ := e.store.GetMCard(ctx, "jane")
	assert.Equal(t, "Designer", cached.JobTitle)
	queued := e.store.GetPendingChanges(ctx)
	require.Len(t, queued, 1)
	assert.Equal(t, models.EntityMCard, queued[0].Type)
	assert.JSONEq(t, `{"id":"m1","job_title":"Designer"}`, string(queued[0].Data))
}

func TestMCardCreateCard_Online(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	svc := NewMCardService(e.deps, staticUser{user: models.User{ID: "u1"}})

	m := svc.CreateCard(ctx, models.MCard{Slug: "kofi", FullName: "Kofi"})
	require.NoError(t, m.Err)
	assert.Equal(t, Confirmed, m.State)
	assert.Equal(t, "u1", m.Record.UserID)
	assert.False(t, models.IsTempID(m.Record.ID))

	cached, ok := e.store.GetMCard(ctx, "kofi")
	require.True(t, ok)
	assert.Equal(t, m.Record.ID, cached.ID)
	assert.True(t, svc.IsOwner(ctx))
}

func TestMCardUpdateCard_AfterRejectedCreate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	e.fake.FailOn("Insert", models.CollectionMCards, errors.New("slug taken"))
	svc := NewMCardService(e.deps, staticUser{user: models.User{ID: "u1"}})

	created := svc.CreateCard(ctx, models.MCard{Slug: "kofi", FullName: "Kofi"})
	require.Equal(t, Failed, created.State)

	m := svc.UpdateCard(ctx, models.Patch{"job_title": "Designer"})
	assert.Equal(t, Failed, m.State)
	assert.ErrorIs(t, m.Err, common.ErrorValidation)
	assert.Zero(t, e.store.PendingCount(ctx))
}

func TestMCardIsOwner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	seedCard(e)

	owner := NewMCardService(e.deps, staticUser{user: models.User{ID: "u1"}})
	_, err := owner.Load(ctx, "jane")
	require.NoError(t, err)
	assert.True(t, owner.IsOwner(ctx))

	visitor := NewMCardService(e.deps, staticUser{user: models.User{ID: "u2"}})
	_, err = visitor.Load(ctx, "jane")
	require.NoError(t, err)
	assert.False(t, visitor.IsOwner(ctx))

	anonymous := NewMCardService(e.deps, staticUser{err: common.ErrorUnauthorized})
	_, err = anonymous.Load(ctx, "jane")
	require.NoError(t, err)
	assert.False(t, anonymous.IsOwner(ctx))
}

func TestMCardIncrementViewCount(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	seedCard(e)
	svc := NewMCardService(e.deps, nil)
	_, err := svc.Load(ctx, "jane")
	require.NoError(t, err)

	svc.IncrementViewCount(ctx)
	svc.Wait()
	require.Len(t, e.fake.CallsTo("Increment"), 1)

	// Errors are swallowed.
	e.fake.FailOn("Increment", "", common.ErrorForbidden)
	assert.NotPanics(t, func() {
		svc.IncrementViewCount(ctx)
		svc.Wait()
	})
	assert.Empty(t, e.notifier.all())

	_, err = svc.Load(ctx, common.DemoSlug)
	require.NoError(t, err)
	svc.IncrementViewCount(ctx)
	svc.Wait()
	assert.Len(t, e.fake.CallsTo("Increment"), 2)
}

func TestMCardUploadProfilePicture(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	seedCard(e)
	svc := NewMCardService(e.deps, nil)
	_, err := svc.Load(ctx, "jane")
	require.NoError(t, err)

	m := svc.UploadProfilePicture(ctx, "/tmp/me.png", []byte("png"))
	require.NoError(t, m.Err)
	assert.Contains(t, m.Record.ProfilePictureURL, "https://storage.example.com/avatars/m1/")

	e.conn.on.Store(false)
	m = svc.UploadProfilePicture(ctx, "me.png", []byte("png"))
	assert.ErrorIs(t, m.Err, ErrOfflineUnsupported)
}
