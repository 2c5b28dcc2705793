// Package services holds the entity data services of the client: the
// offline-first load, refresh and optimistic mutation contract shared by
// cards, invoices, quotes, reported cards and user cards, plus the auth
// service that keeps a session usable offline.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/storage"
	"github.com/creat233/finderid/internal/logging"
)

// ErrOfflineUnsupported is returned by operations that have no offline
// semantics, such as validating an invoice.
var ErrOfflineUnsupported = errors.New("operation requires a connection")

// Connectivity reports whether the Remote Data Service is reachable.
// *syncer.Coordinator implements it.
type Connectivity interface {
	IsOnline() bool
}

// Online is a fixed Connectivity, handy for one-shot commands and tests.
type Online bool

func (o Online) IsOnline() bool { return bool(o) }

// OperationError is the user-facing form of a failure: it names the
// operation ("save invoice") and hides the cause behind Unwrap.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string { return "could not " + e.Op }

func (e *OperationError) Unwrap() error { return e.Err }

// Notifier receives every failure surfaced by a service.
type Notifier interface {
	Notify(ctx context.Context, err *OperationError)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *OperationError) {}

// MutationState tells how far an optimistic change has progressed.
type MutationState int

const (
	// Pending changes are applied locally and queued for replay.
	Pending MutationState = iota
	Confirmed
	// Failed changes were rejected remotely. Local state keeps the
	// optimistic value.
	Failed
)

func (s MutationState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mutation is the outcome of an optimistic create, update or delete.
type Mutation[T any] struct {
	Record T
	State  MutationState
	Err    error
}

// Deps groups what every service needs. Zero Logger, Notifier, Validate
// and Now get defaults.
type Deps struct {
	Client   client.Client
	Store    *storage.Store
	Conn     Connectivity
	Logger   logging.Logger
	Notifier Notifier
	Validate *validator.Validate
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Validate == nil {
		d.Validate = NewValidator()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Conn == nil {
		d.Conn = Online(false)
	}
	return d
}

// fail wraps err for the user, reports it and returns it.
func (d Deps) fail(ctx context.Context, op string, err error) *OperationError {
	oe := &OperationError{Op: op, Err: err}
	d.Logger.Warn(ctx, "operation failed", "op", op, "error", err)
	d.Notifier.Notify(ctx, oe)
	return oe
}

func (d Deps) online() bool { return d.Conn.IsOnline() }
