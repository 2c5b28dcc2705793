package dataapi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FrameType tags the JSON frames exchanged on the realtime websocket.
type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameBroadcast   FrameType = "broadcast"
	FrameEvent       FrameType = "event"
	FrameAck         FrameType = "ack"
	FrameError       FrameType = "error"
)

// Row change events published on rows channels.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAny    = "*"
)

type Frame struct {
	Type    FrameType       `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Filter  string          `json:"filter,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RowsChannel is the channel row changes of collection are published on.
func RowsChannel(collection string) string {
	return "rows:" + collection
}

// Filter is a parsed "column=eq.value" row filter. The zero Filter
// matches everything.
type Filter struct {
	Column string
	Value  string
}

func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return Filter{}, nil
	}
	column, rest, ok := strings.Cut(s, "=")
	if !ok || column == "" {
		return Filter{}, fmt.Errorf("invalid filter %q", s)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return Filter{}, fmt.Errorf("unsupported filter operator in %q", s)
	}
	return Filter{Column: column, Value: value}, nil
}

func (f Filter) String() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Match reports whether the top-level field of payload equals the filter
// value. Non-string fields are compared by their JSON text.
func (f Filter) Match(payload json.RawMessage) bool {
	if f.Column == "" {
		return true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return false
	}
	raw, ok := fields[f.Column]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == f.Value
	}
	return string(raw) == f.Value
}

// MatchEvent reports whether a subscription for want receives got.
func MatchEvent(want, got string) bool {
	return want == "" || want == EventAny || strings.EqualFold(want, got)
}
