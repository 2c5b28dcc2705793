package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const tempIDPrefix = "temp_"

var lastTempID atomic.Int64

// NewTempID returns a client-side placeholder id "temp_<unix-nanos>". Ids are
// strictly increasing within the process, so two creates in the same
// nanosecond still get distinct ids.
func NewTempID() string {
	for {
		now := time.Now().UnixNano()
		prev := lastTempID.Load()
		if now <= prev {
			now = prev + 1
		}
		if lastTempID.CompareAndSwap(prev, now) {
			return fmt.Sprintf("%s%d", tempIDPrefix, now)
		}
	}
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Record is implemented by every cached entity.
type Record interface {
	GetID() string
}

// Base carries the identity and timestamps shared by every entity row.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b Base) GetID() string { return b.ID }

func (b *Base) SetID(id string) { b.ID = id }

// Stamp sets UpdatedAt and, for new records, CreatedAt.
func (b *Base) Stamp(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// Patch is a partial update keyed by JSON field name.
type Patch map[string]any

// ApplyPatch overlays p onto rec through its JSON representation and
// returns the merged copy. Unknown keys are ignored by decoding.
func ApplyPatch[T any](rec T, p Patch) (T, error) {
	var out T

	raw, err := json.Marshal(rec)
	if err != nil {
		return out, err
	}

	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out, err
	}
	for k, v := range p {
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(merged, &out); err != nil {
		return out, err
	}
	return out, nil
}
