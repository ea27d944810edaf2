package bridge

import (
	"time"

	"cctp-bridge/pkg/types"
)

// EventType identifies what happened to a transfer
type EventType string

const (
	EventStageEntered EventType = "stage_entered"
	EventRetry        EventType = "retry"
	EventFailed       EventType = "failed"
	EventCompleted    EventType = "completed"
)

// Event is emitted synchronously, in order, after every state change
type Event struct {
	Type    EventType
	Request types.TransferRequest
	Stage   Stage
	Attempt int
	Err     error
	Kind    ErrorKind
	State   TransferState
	At      time.Time
}

// Route labels the transfer direction, e.g. "solana->aptos"
func (e Event) Route() string {
	return e.Request.SourceDomain.String() + "->" + e.Request.DestinationDomain.String()
}

// Listener receives transfer events
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }
