package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
)

// ErrInvoiceLocked is returned when a validated invoice would be changed.
var ErrInvoiceLocked = fmt.Errorf("%w: invoice is validated", common.ErrorValidation)

func byUser(field string) func(string) client.Query {
	return func(key string) client.Query {
		return client.Query{Filter: map[string]string{field: key}, Order: "created_at", Desc: true}
	}
}

// InvoiceService manages the invoices of one user.
type InvoiceService struct {
	*Collection[models.Invoice, *models.Invoice]
	deps Deps
}

func NewInvoiceService(deps Deps) *InvoiceService {
	deps = deps.withDefaults()
	return &InvoiceService{
		deps: deps,
		Collection: newCollection[models.Invoice, *models.Invoice](deps, binding[models.Invoice]{
			entity: models.EntityInvoice, noun: "invoice", plural: "invoices",
			query:     byUser("user_id"),
			setOwner:  func(inv *models.Invoice, key string) { inv.UserID = key },
			cacheGet:  deps.Store.GetInvoices,
			cacheSave: deps.Store.SaveInvoices,
			prepare: func(inv *models.Invoice) {
				if inv.Status == "" {
					inv.Status = models.InvoiceDraft
				}
				if inv.Currency == "" {
					inv.Currency = "XOF"
				}
			},
			guard: func(inv models.Invoice) error {
				if inv.IsValidated {
					return ErrInvoiceLocked
				}
				return nil
			},
		}),
	}
}

// InvoiceStats aggregates a user's invoices.
type InvoiceStats struct {
	Total         int     `json:"total"`
	Draft         int     `json:"draft"`
	Sent          int     `json:"sent"`
	Paid          int     `json:"paid"`
	Overdue       int     `json:"overdue"`
	Cancelled     int     `json:"cancelled"`
	TotalAmount   float64 `json:"total_amount"`
	PaidAmount    float64 `json:"paid_amount"`
	PendingAmount float64 `json:"pending_amount"`
}

// Stats fetches the user's invoices (from the cache when offline) and
// aggregates them.
func (s *InvoiceService) Stats(ctx context.Context) (InvoiceStats, error) {
	invoices, err := s.snapshot(ctx, "load invoice statistics")
	if err != nil {
		return InvoiceStats{}, err
	}
	return computeStats(invoices), nil
}

func computeStats(invoices []models.Invoice) InvoiceStats {
	var st InvoiceStats
	for _, inv := range invoices {
		st.Total++
		switch inv.Status {
		case models.InvoiceDraft:
			st.Draft++
		case models.InvoiceSent:
			st.Sent++
		case models.InvoicePaid:
			st.Paid++
		case models.InvoiceOverdue:
			st.Overdue++
		case models.InvoiceCancelled:
			st.Cancelled++
		}
		if inv.Status == models.InvoiceCancelled {
			continue
		}
		st.TotalAmount += inv.Amount
		if inv.Status == models.InvoicePaid {
			st.PaidAmount += inv.Amount
		} else {
			st.PendingAmount += inv.Amount
		}
	}
	return st
}

// Analytics periods.
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

// PeriodTotal is one bucket of Analytics.
type PeriodTotal struct {
	Start  time.Time `json:"start"`
	Count  int       `json:"count"`
	Amount float64   `json:"amount"`
	Paid   float64   `json:"paid"`
}

// Analytics buckets the user's invoices by creation date, oldest first.
func (s *InvoiceService) Analytics(ctx context.Context, period string) ([]PeriodTotal, error) {
	switch period {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
	default:
		return nil, s.deps.fail(ctx, "load invoice analytics", fmt.Errorf("%w: unknown period %q", common.ErrorValidation, period))
	}

	invoices, err := s.snapshot(ctx, "load invoice analytics")
	if err != nil {
		return nil, err
	}
	return bucket(invoices, period), nil
}

func bucket(invoices []models.Invoice, period string) []PeriodTotal {
	byStart := map[time.Time]*PeriodTotal{}
	for _, inv := range invoices {
		if inv.Status == models.InvoiceCancelled {
			continue
		}
		start := periodStart(inv.CreatedAt.UTC(), period)
		pt, ok := byStart[start]
		if !ok {
			pt = &PeriodTotal{Start: start}
			byStart[start] = pt
		}
		pt.Count++
		pt.Amount += inv.Amount
		if inv.Status == models.InvoicePaid {
			pt.Paid += inv.Amount
		}
	}

	out := make([]PeriodTotal, 0, len(byStart))
	for _, pt := range byStart {
		out = append(out, *pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func periodStart(t time.Time, period string) time.Time {
	y, m, d := t.Date()
	switch period {
	case PeriodDay:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // weeks start on Monday
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// snapshot returns fresh invoices for the current user when online and
// the cached ones otherwise.
func (s *InvoiceService) snapshot(ctx context.Context, op string) ([]models.Invoice, error) {
	key := s.Key()
	if key == "" {
		return nil, s.deps.fail(ctx, op, fmt.Errorf("%w: invoices not loaded", common.ErrorValidation))
	}
	if !s.deps.online() {
		return s.deps.Store.GetInvoices(ctx, key), nil
	}

	invoices, err := s.fetch(ctx, key)
	if errors.Is(err, client.ErrUnavailable) {
		return s.deps.Store.GetInvoices(ctx, key), nil
	}
	if err != nil {
		return nil, s.deps.fail(ctx, op, err)
	}
	return invoices, nil
}

// Validate locks an invoice. It has no offline form and fails at once
// with ErrOfflineUnsupported when offline.
func (s *InvoiceService) Validate(ctx context.Context, id string) Mutation[models.Invoice] {
	const op = "validate invoice"
	cur, ok := s.Find(id)
	if !s.deps.online() {
		return rejected(ctx, s.deps, op, cur, ErrOfflineUnsupported)
	}
	if !ok {
		return rejected(ctx, s.deps, op, cur, fmt.Errorf("%w: invoice %s", common.ErrorNotFound, id))
	}
	if cur.IsValidated {
		return rejected(ctx, s.deps, op, cur, ErrInvoiceLocked)
	}
	if models.IsTempID(id) {
		return rejected(ctx, s.deps, op, cur, fmt.Errorf("%w: invoice is not synced yet", common.ErrorValidation))
	}

	now := s.deps.Now().UTC()
	saved, err := client.UpdateOne[models.Invoice](ctx, s.deps.Client, models.CollectionInvoices, id, models.Patch{
		"is_validated": true,
		"validated_at": now,
	})
	if err != nil {
		return rejected(ctx, s.deps, op, cur, err)
	}

	s.replace(ctx, s.Key(), id, saved)
	return Mutation[models.Invoice]{Record: saved, State: Confirmed}
}
