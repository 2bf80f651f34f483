package device

import "time"

// EventType classifies what a connection reports to its owner.
type EventType string

const (
	// EventOpen follows a hello; the device is fully initialised.
	EventOpen EventType = "open"
	// EventClose means the connection is gone or the device stopped answering.
	EventClose EventType = "close"
	// EventUpdate carries the name of the inbound event that changed state.
	EventUpdate EventType = "update"
	// EventAvatarReady means a fresh snapshot image is available.
	EventAvatarReady EventType = "avatar_ready"
)

// Event is a notification from a connection's state machine. State is the
// device state right after the change the event reports.
type Event struct {
	Type   EventType `json:"type"`
	Name   string    `json:"name,omitempty"`
	Serial string    `json:"serial,omitempty"`
	State  State     `json:"state"`
	At     time.Time `json:"at"`
}
