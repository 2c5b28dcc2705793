package models

import "time"

const (
	InvoiceDraft     = "draft"
	InvoiceSent      = "sent"
	InvoicePaid      = "paid"
	InvoiceOverdue   = "overdue"
	InvoiceCancelled = "cancelled"
)

type Invoice struct {
	Base
	UserID        string     `json:"user_id"`
	MCardID       string     `json:"mcard_id,omitempty"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	ClientName    string     `json:"client_name" validate:"required,notblank,max=120"`
	ClientEmail   string     `json:"client_email,omitempty" validate:"omitempty,email"`
	ClientPhone   string     `json:"client_phone,omitempty"`
	Amount        float64    `json:"amount" validate:"gte=0"`
	Currency      string     `json:"currency,omitempty" validate:"omitempty,len=3"`
	Status        string     `json:"status" validate:"omitempty,oneof=draft sent paid overdue cancelled"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	IsValidated   bool       `json:"is_validated"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

type Quote struct {
	Base
	UserID      string      `json:"user_id"`
	MCardID     string      `json:"mcard_id,omitempty"`
	QuoteNumber string      `json:"quote_number,omitempty"`
	ClientName  string      `json:"client_name" validate:"required,notblank,max=120"`
	ClientEmail string      `json:"client_email,omitempty" validate:"omitempty,email"`
	Amount      float64     `json:"amount" validate:"gte=0"`
	Currency    string      `json:"currency,omitempty" validate:"omitempty,len=3"`
	Status      string      `json:"status" validate:"omitempty,oneof=draft sent accepted rejected expired"`
	ValidUntil  *time.Time  `json:"valid_until,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	Items       []QuoteItem `json:"items,omitempty" validate:"dive"`
}

// QuoteItem rows live in their own collection and reference the quote.
type QuoteItem struct {
	Base
	QuoteID     string  `json:"quote_id"`
	Description string  `json:"description" validate:"required"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
	Total       float64 `json:"total"`
}

// Totalize fills item totals and the quote amount from the items.
func (q *Quote) Totalize() {
	if len(q.Items) == 0 {
		return
	}
	var sum float64
	for i := range q.Items {
		q.Items[i].Total = q.Items[i].Quantity * q.Items[i].UnitPrice
		sum += q.Items[i].Total
	}
	q.Amount = sum
}
