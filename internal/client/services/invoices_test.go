package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
)

func TestValidate_OfflineFailsFast(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	e.store.SaveInvoices(ctx, "u1", []models.Invoice{invoice("i1", "u1", "Awa")})
	svc := NewInvoiceService(e.deps)
	_, err := svc.Load(ctx, "u1")
	require.NoError(t, err)

	m := svc.Validate(ctx, "i1")
	assert.Equal(t, Failed, m.State)
	assert.ErrorIs(t, m.Err, ErrOfflineUnsupported)
	assert.Zero(t, e.store.PendingCount(ctx))
	assert.Empty(t, e.fake.Calls())
}

func TestValidate_LocksInvoice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	e.fake.Seed(models.CollectionInvoices, invoice("i1", "u1", "Awa"))
	svc := NewInvoiceService(e.deps)
	_, err := svc.Load(ctx, "u1")
	require.NoError(t, err)

	m := svc.Validate(ctx, "i1")
	require.NoError(t, m.Err)
	assert.Equal(t, Confirmed, m.State)
	assert.True(t, m.Record.IsValidated)
	require.NotNil(t, m.Record.ValidatedAt)
	assert.True(t, e.store.GetInvoices(ctx, "u1")[0].IsValidated)

	assert.ErrorIs(t, svc.Update(ctx, "i1", models.Patch{"amount": 1}).Err, ErrInvoiceLocked)
	assert.ErrorIs(t, svc.Delete(ctx, "i1").Err, ErrInvoiceLocked)
	assert.ErrorIs(t, svc.Validate(ctx, "i1").Err, ErrInvoiceLocked)
	assert.ErrorIs(t, ErrInvoiceLocked, common.ErrorValidation)
}

func TestComputeStats(t *testing.T) {
	st := computeStats([]models.Invoice{
		{Status: models.InvoicePaid, Amount: 100},
		{Status: models.InvoiceSent, Amount: 50},
		{Status: models.InvoiceDraft, Amount: 25},
		{Status: models.InvoiceCancelled, Amount: 1000},
	})
	assert.Equal(t, InvoiceStats{
		Total: 4, Draft: 1, Sent: 1, Paid: 1, Cancelled: 1,
		TotalAmount: 175, PaidAmount: 100, PendingAmount: 75,
	}, st)
}

func TestStats_OfflineUsesCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	inv := invoice("i1", "u1", "Awa")
	inv.Amount = 40
	e.store.SaveInvoices(ctx, "u1", []models.Invoice{inv})
	svc := NewInvoiceService(e.deps)
	_, err := svc.Load(ctx, "u1")
	require.NoError(t, err)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Draft)
	assert.Equal(t, float64(40), st.PendingAmount)
}

func TestStats_RequiresLoad(t *testing.T) {
	e := newEnv(t, true)
	_, err := NewInvoiceService(e.deps).Stats(context.Background())
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestBucket(t *testing.T) {
	at := func(s string) time.Time {
		ts, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		return ts
	}
	inv := func(created string, status string, amount float64) models.Invoice {
		return models.Invoice{Base: models.Base{CreatedAt: at(created)}, Status: status, Amount: amount}
	}
	invoices := []models.Invoice{
		inv("2024-03-14T10:00:00Z", models.InvoicePaid, 100),  // Thursday
		inv("2024-03-11T08:00:00Z", models.InvoiceSent, 50),   // Monday, same week
		inv("2024-02-02T08:00:00Z", models.InvoiceDraft, 10),  // earlier month
		inv("2024-03-12T08:00:00Z", models.InvoiceCancelled, 999),
	}

	weeks := bucket(invoices, PeriodWeek)
	require.Len(t, weeks, 2)
	assert.Equal(t, at("2024-01-29T00:00:00Z"), weeks[0].Start)
	assert.Equal(t, PeriodTotal{Start: at("2024-03-11T00:00:00Z"), Count: 2, Amount: 150, Paid: 100}, weeks[1])

	months := bucket(invoices, PeriodMonth)
	require.Len(t, months, 2)
	assert.Equal(t, at("2024-02-01T00:00:00Z"), months[0].Start)

	years := bucket(invoices, PeriodYear)
	require.Len(t, years, 1)
	assert.Equal(t, 3, years[0].Count)

	assert.Len(t, bucket(invoices, PeriodDay), 3)
}

func TestAnalytics_UnknownPeriod(t *testing.T) {
	e := newEnv(t, true)
	_, err := NewInvoiceService(e.deps).Analytics(context.Background(), "fortnight")
	assert.ErrorIs(t, err, common.ErrorValidation)
}
