package models

import "time"

// MCard is a digital business card, addressed publicly by Slug.
type MCard struct {
	Base
	UserID             string            `json:"user_id"`
	Slug               string            `json:"slug" validate:"required,max=64"`
	FullName           string            `json:"full_name" validate:"required,notblank,max=120"`
	JobTitle           string            `json:"job_title,omitempty"`
	Company            string            `json:"company,omitempty"`
	PhoneNumber        string            `json:"phone_number,omitempty"`
	Email              string            `json:"email,omitempty" validate:"omitempty,email"`
	Description        string            `json:"description,omitempty"`
	ProfilePictureURL  string            `json:"profile_picture_url,omitempty"`
	SocialLinks        map[string]string `json:"social_links,omitempty"`
	IsPublished        bool              `json:"is_published"`
	Plan               string            `json:"plan,omitempty"`
	SubscriptionStatus string            `json:"subscription_status,omitempty"`
	ViewCount          int               `json:"view_count"`
	IsVerified         bool              `json:"is_verified"`
}

// Status is a short, optionally expiring message shown on a card.
type Status struct {
	Base
	MCardID     string     `json:"mcard_id" validate:"required"`
	StatusText  string     `json:"status_text" validate:"required,notblank,max=100"`
	StatusColor string     `json:"status_color,omitempty"`
	StatusImage string     `json:"status_image,omitempty"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Product is an item of the card owner's catalogue.
type Product struct {
	Base
	MCardID     string  `json:"mcard_id" validate:"required"`
	Name        string  `json:"name" validate:"required,max=120"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price" validate:"gte=0"`
	Currency    string  `json:"currency,omitempty"`
	Category    string  `json:"category,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	IsActive    bool    `json:"is_active"`
}

// Review is a visitor rating left on a card.
type Review struct {
	Base
	MCardID      string `json:"mcard_id" validate:"required"`
	VisitorName  string `json:"visitor_name" validate:"required,max=120"`
	VisitorEmail string `json:"visitor_email,omitempty" validate:"omitempty,email"`
	Rating       int    `json:"rating" validate:"min=1,max=5"`
	Comment      string `json:"comment,omitempty"`
	IsApproved   bool   `json:"is_approved"`
}

// User is the authenticated account as known to the client.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
