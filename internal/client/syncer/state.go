package syncer

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/creat233/finderid/internal/client/models"
)

var ErrOffline = errors.New("offline")

type State int

const (
	Offline State = iota
	OnlineIdle
	OnlineSyncing
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case OnlineIdle:
		return "online"
	case OnlineSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// SyncResult summarizes one drain pass. Skipped is set when another pass
// was already running.
type SyncResult struct {
	Succeeded    int  `json:"succeeded"`
	Failed       int  `json:"failed"`
	DeadLettered int  `json:"dead_lettered"`
	Skipped      bool `json:"skipped,omitempty"`
}

type EventKind int

const (
	EventOnline EventKind = iota
	EventOffline
	EventSyncStarted
	EventSyncFinished
	EventPendingCount
	// EventReconciled reports a confirmed create: TempID now has Record.
	EventReconciled
)

type Event struct {
	Kind    EventKind
	State   State
	Result  SyncResult
	Pending int

	Entity models.EntityType
	TempID string
	Record json.RawMessage
}

type Listener func(Event)

type Options struct {
	ProbeInterval       time.Duration
	ProbeTimeout        time.Duration
	PendingPollInterval time.Duration
	// MaxAttempts moves a change to the dead-letter list after that many
	// failed replays. Zero keeps retrying forever.
	MaxAttempts   int
	InitialOnline bool
}

func (o *Options) defaults() {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 30 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 3 * time.Second
	}
	if o.PendingPollInterval <= 0 {
		o.PendingPollInterval = 5 * time.Second
	}
}
