package client

import (
	"context"
	"encoding/json"

	"github.com/creat233/finderid/internal/client/models"
)

// Query narrows a Select. Filter matches top-level fields by equality.
type Query struct {
	Filter map[string]string
	Order  string
	Desc   bool
	Limit  int
}

// Session holds the tokens of an authenticated user.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Client interface {
	Close() error
	// Ping fails with ErrUnavailable when the service cannot be reached.
	Ping(ctx context.Context) error

	Register(ctx context.Context, email, password, fullName string) (string, error)
	Login(ctx context.Context, email, password string) (models.User, error)
	CurrentUser(ctx context.Context) (models.User, error)
	Session() Session
	Restore(s Session)
	Logout()

	Insert(ctx context.Context, collection string, records []json.RawMessage) ([]json.RawMessage, error)
	Update(ctx context.Context, collection, id string, patch json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error
	Select(ctx context.Context, collection string, q Query) ([]json.RawMessage, error)
	Increment(ctx context.Context, collection, id, field string) error

	// Upload stores blob under bucket/path and returns its public URL.
	Upload(ctx context.Context, bucket, path string, blob []byte) (string, error)
	Remove(ctx context.Context, bucket, path string) error
}
