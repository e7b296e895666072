package models

import "time"

// EventAction is the externally visible verb of a domain event.
type EventAction string

const (
	ActionCreated EventAction = "created"
	ActionUpdated EventAction = "updated"
	ActionDeleted EventAction = "deleted"
)

// ActionForOp maps a net change operation to its event action.
func ActionForOp(op ChangeOp) EventAction {
	switch op {
	case OpInsert:
		return ActionCreated
	case OpDelete:
		return ActionDeleted
	default:
		return ActionUpdated
	}
}

// DomainEvent is one published change notification. Events are emitted in
// ascending order of the earliest raw row that contributed to them, so
// downstream consumers observe a consistent causal order per key.
type DomainEvent struct {
	EventID   string         `json:"event_id"`
	Subject   string         `json:"subject"`
	Key       string         `json:"key"`
	Action    EventAction    `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	Hash      uint64         `json:"hash"`
	LSN       LSN            `json:"lsn"`
	Timestamp time.Time      `json:"timestamp"`
}
