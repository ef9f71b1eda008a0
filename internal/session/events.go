package session

import (
	"time"
)

type EventKind string

const (
	EventContextStatus  EventKind = "context-status"
	EventExecutorStatus EventKind = "executor-status"
	EventConnectionLost EventKind = "connection-lost"
	EventNotice         EventKind = "notice"
)

// Event is one inbound notification, already detached from the receive goroutine.
type Event struct {
	Kind   EventKind
	Source string
	Name   string
	Status string
	Detail string
	Err    error
	At     time.Time
}

const defaultEventBuffer = 64
