// Package models holds the client-side records of the FinderID data layer:
// the cached entity rows, the queued offline changes and the dispatch rules
// that decide how a queued change is replayed remotely.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType names the kind of record a pending change refers to.
type EntityType string

const (
	EntityMCard        EntityType = "mcard"
	EntityStatus       EntityType = "status"
	EntityProduct      EntityType = "product"
	EntityReview       EntityType = "review"
	EntityInvoice      EntityType = "invoice"
	EntityQuote        EntityType = "quote"
	EntityReportedCard EntityType = "reported_card"
	EntityUserCard     EntityType = "user_card"
)

// Action is the mutation a pending change replays.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Remote collection names.
const (
	CollectionMCards        = "mcards"
	CollectionStatuses      = "mcard_statuses"
	CollectionProducts      = "mcard_products"
	CollectionReviews       = "mcard_reviews"
	CollectionInvoices      = "invoices"
	CollectionQuotes        = "quotes"
	CollectionQuoteItems    = "quote_items"
	CollectionReportedCards = "reported_cards"
	CollectionUserCards     = "user_cards"
)

var ErrUnsupportedChange = errors.New("unsupported change")

// Rule describes how changes of one entity type map onto the remote store.
type Rule struct {
	Collection string
	Actions    map[Action]bool
}

var all = map[Action]bool{ActionCreate: true, ActionUpdate: true, ActionDelete: true}

// Rules is the closed dispatch table. Every EntityType has exactly one entry.
var Rules = map[EntityType]Rule{
	EntityMCard:        {Collection: CollectionMCards, Actions: all},
	EntityStatus:       {Collection: CollectionStatuses, Actions: all},
	EntityProduct:      {Collection: CollectionProducts, Actions: all},
	EntityReview:       {Collection: CollectionReviews, Actions: map[Action]bool{ActionCreate: true}},
	EntityInvoice:      {Collection: CollectionInvoices, Actions: all},
	EntityQuote:        {Collection: CollectionQuotes, Actions: all},
	EntityReportedCard: {Collection: CollectionReportedCards, Actions: map[Action]bool{ActionCreate: true, ActionUpdate: true}},
	EntityUserCard:     {Collection: CollectionUserCards, Actions: all},
}

// EntityTypes lists every entity type in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityMCard, EntityStatus, EntityProduct, EntityReview,
		EntityInvoice, EntityQuote, EntityReportedCard, EntityUserCard,
	}
}

// RuleFor returns the rule for (t, a) or ErrUnsupportedChange.
func RuleFor(t EntityType, a Action) (Rule, error) {
	r, ok := Rules[t]
	if !ok || !r.Actions[a] {
		return Rule{}, fmt.Errorf("%w: %s %s", ErrUnsupportedChange, a, t)
	}
	return r, nil
}

// PendingChange is an intent recorded while offline, replayed in FIFO order.
type PendingChange struct {
	ID        string          `json:"id"`
	Type      EntityType      `json:"type"`
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`

	// Replay bookkeeping.
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	DeadLetter    bool       `json:"dead_letter"`
}

// NewPendingChange validates the (type, action) pair against Rules and
// serializes data. For update and delete the payload must carry an "id".
func NewPendingChange(t EntityType, a Action, data any) (PendingChange, error) {
	if _, err := RuleFor(t, a); err != nil {
		return PendingChange{}, err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return PendingChange{}, fmt.Errorf("encode %s payload: %w", t, err)
	}

	if a != ActionCreate {
		if id := RecordID(raw); id == "" {
			return PendingChange{}, fmt.Errorf("%s %s payload has no id", a, t)
		}
	}

	return PendingChange{
		ID:        uuid.NewString(),
		Type:      t,
		Action:    a,
		Data:      raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// RecordID extracts the "id" field of a JSON object, or "".
func RecordID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}
