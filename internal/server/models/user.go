// Package models defines the server-side rows persisted in PostgreSQL.
package models

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	FullName     string
	CreatedAt    time.Time
}
