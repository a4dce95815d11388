package stream

import (
	"bytes"
	"fmt"
	"time"

	"twigo/pkg/api"
)

// RateLimitNotices are the plain-text lines the server sends in place of
// data when a stream is being throttled.
var RateLimitNotices = [][]byte{
	[]byte("Exceeded connection limit for user"),
	[]byte("Easy there, Turbo. Too many requests recently. Enhance your calm."),
}

func isRateLimitNotice(line []byte) bool {
	for _, notice := range RateLimitNotices {
		if bytes.Equal(line, notice) {
			return true
		}
	}
	return false
}

// EventType distinguishes data from connection notices
type EventType int

const (
	// EventData carries one decoded message
	EventData EventType = iota
	// EventReconnecting announces that the connection was lost and will be
	// re-established after ReconnectingIn
	EventReconnecting
	// EventRestart marks a successful reconnection
	EventRestart
)

func (t EventType) String() string {
	switch t {
	case EventData:
		return "data"
	case EventReconnecting:
		return "reconnecting"
	case EventRestart:
		return "restart"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is one item of a stream
type Event struct {
	Type EventType
	// Data is the decoded JSON message of a data event. Numbers are
	// json.Number.
	Data any
	// Raw is the undecoded line
	Raw []byte
	// ReconnectingIn is the wait before the next connection attempt
	ReconnectingIn time.Duration
	// Err is the failure that caused a reconnection, when it is worth
	// reporting
	Err error
}

// Decode converts the message of a data event into v
func (e *Event) Decode(v any) error {
	if e.Type != EventData {
		return fmt.Errorf("cannot decode %s event", e.Type)
	}
	return api.Remarshal(e.Data, v)
}

// Object returns the message as a JSON object, or nil
func (e *Event) Object() map[string]any {
	m, _ := e.Data.(map[string]any)
	return m
}
