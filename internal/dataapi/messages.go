package dataapi

import (
	"encoding/json"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type CurrentUserRequest struct{}

type CurrentUserResponse struct {
	User User `json:"user"`
}

// InsertRequest inserts one or more records into a collection. Records
// without an id (or with a client placeholder id) get a server id.
type InsertRequest struct {
	Collection string            `json:"collection"`
	Records    []json.RawMessage `json:"records"`
}

type InsertResponse struct {
	Records []json.RawMessage `json:"records"`
}

// UpdateRequest merges Patch into the stored record (additive: keys absent
// from Patch keep their value).
type UpdateRequest struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Patch      json.RawMessage `json:"patch"`
}

type UpdateResponse struct {
	Record json.RawMessage `json:"record"`
}

type DeleteRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

type DeleteResponse struct{}

// SelectRequest filters on equality of top-level fields.
type SelectRequest struct {
	Collection string            `json:"collection"`
	Filter     map[string]string `json:"filter,omitempty"`
	Order      string            `json:"order,omitempty"`
	Desc       bool              `json:"desc,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}

type SelectResponse struct {
	Records []json.RawMessage `json:"records"`
}

// IncrementRequest atomically adds one to a numeric field.
type IncrementRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Field      string `json:"field"`
}

type IncrementResponse struct {
	Value int64 `json:"value"`
}

// UploadRequest asks for a presigned PUT URL for bucket/path.
type UploadRequest struct {
	Bucket      string `json:"bucket"`
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
}

type UploadResponse struct {
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
}

type RemoveRequest struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

type RemoveResponse struct{}
