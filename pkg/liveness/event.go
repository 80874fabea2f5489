package liveness

import (
	"context"
	"time"
)

// State is the liveness state of the peer.
type State int

// States
const (
	// StateDown means the peer is unknown or did not answer the last ping.
	StateDown State = iota
	// StateUp means the peer answered the last ping with pong.
	StateUp
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateUp {
		return "up"
	}
	return "down"
}

// EventKind classifies events.
type EventKind int

// Event kinds
const (
	// EventInfo carries an informational line from the peer.
	EventInfo EventKind = iota
	// EventLiveness reports a state change.
	EventLiveness
	EventPingTimeout
	EventRequestTimeout
	EventRequestRejected
	// EventFrame carries the raw response of a request.
	EventFrame
	EventReset
	// EventConnectionLost reports the channel closed unexpectedly;
	// the user should reconnect.
	EventConnectionLost
	// EventOpenFailure reports the channel could not be opened;
	// the user should reconfigure the connection.
	EventOpenFailure
)

var eventKindNames = [...]string{
	EventInfo:            "info",
	EventLiveness:        "liveness",
	EventPingTimeout:     "ping-timeout",
	EventRequestTimeout:  "request-timeout",
	EventRequestRejected: "request-rejected",
	EventFrame:           "frame",
	EventReset:           "reset",
	EventConnectionLost:  "connection-lost",
	EventOpenFailure:     "open-failure",
}

// String implements fmt.Stringer.
func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is emitted by the controller for the presentation layer.
type Event struct {
	Kind    EventKind
	Time    time.Time
	State   State
	Line    string
	Payload []byte
	Err     error
}

// EventHandler receives events.
type EventHandler interface {
	HandleEvent(context.Context, Event)
}

// HandleEventFunc is func type of EventHandler.
type HandleEventFunc func(context.Context, Event)

// HandleEvent implements EventHandler.
func (f HandleEventFunc) HandleEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Operator performs the user-triggered operations.
type Operator interface {
	Request(context.Context) ([]byte, error)
	Reset(context.Context) error
}
