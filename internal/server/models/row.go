package models

import (
	"encoding/json"
	"time"
)

// Row is one JSON document of a collection. Data always carries "id",
// "created_at" and "updated_at" mirrored from the columns.
type Row struct {
	Collection string
	ID         string
	OwnerID    string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RowQuery selects rows of one collection. Filter keys are top-level data
// fields compared as text.
type RowQuery struct {
	Collection string
	OwnerID    string
	Filter     map[string]string
	Order      string
	Desc       bool
	Limit      int
}
