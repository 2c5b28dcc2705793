package models

import "time"

const (
	ReportPending   = "pending"
	ReportRecovered = "recovered"
)

// ReportedCard is a found identity document declared by a finder.
type ReportedCard struct {
	Base
	ReporterID    string     `json:"reporter_id"`
	CardNumber    string     `json:"card_number" validate:"required,max=64"`
	DocumentType  string     `json:"document_type" validate:"required"`
	FoundLocation string     `json:"found_location" validate:"required"`
	FoundDate     *time.Time `json:"found_date,omitempty"`
	Description   string     `json:"description,omitempty"`
	ReporterPhone string     `json:"reporter_phone,omitempty"`
	PhotoURL      string     `json:"photo_url,omitempty"`
	Status        string     `json:"status" validate:"omitempty,oneof=pending recovered"`
}

// UserCard is a document a user registered to be alerted when it is found.
type UserCard struct {
	Base
	UserID         string `json:"user_id"`
	CardNumber     string `json:"card_number" validate:"required,max=64"`
	DocumentType   string `json:"document_type" validate:"required"`
	CardHolderName string `json:"card_holder_name,omitempty"`
	IsActive       bool   `json:"is_active"`
}
