// Package event defines the server lifecycle event vocabulary, the Observer
// capability interface, and the Bus that fans events out to observers.
//
// Events notify observers of server milestones: startup, route registration,
// request handling, WebSocket connection activity, and shutdown. Delivery is
// synchronous on the publishing call path but failure-isolated: an observer
// panic never reaches the request being served.
package event

import "time"

// Canonical event names emitted by the mock server engines.
const (
	ServerStarting     = "server.starting"
	ServerStarted      = "server.started"
	ServerShuttingDown = "server.shutting_down"
	ServerStopped      = "server.stopped"

	RouteRegistered = "route.registered"

	RequestStarted  = "request.started"
	RequestHandled  = "request.handled"
	RequestNotFound = "request.not_found"

	ConnectionOpened         = "connection.opened"
	ConnectionMessageHandled = "connection.message_handled"
	ConnectionClosed         = "connection.closed"
)

// Attributes carries event payload data. Values are plain Go types
// (string, int, map[string]string). Observers must treat attributes as
// read-only; the map is shared across all observers of one event.
type Attributes map[string]any

// String returns the string value of an attribute, or "" if absent or not
// a string.
func (a Attributes) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns the int value of an attribute, or 0 if absent or not an int.
func (a Attributes) Int(key string) int {
	n, _ := a[key].(int)
	return n
}

// Headers returns the map[string]string value of an attribute, or nil.
func (a Attributes) Headers(key string) map[string]string {
	h, _ := a[key].(map[string]string)
	return h
}

// Event is a named, timestamped notification of a server milestone.
// Created at the moment the milestone occurs and handed to each observer
// by value.
type Event struct {
	Name       string
	Attributes Attributes
	Timestamp  time.Time
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(name string, attrs Attributes) Event {
	if attrs == nil {
		attrs = Attributes{}
	}
	return Event{Name: name, Attributes: attrs, Timestamp: time.Now()}
}

// Observer receives lifecycle events. Any component implementing this
// interface may be subscribed to a Bus; the engines depend only on this
// contract, never on a concrete telemetry backend.
type Observer interface {
	// Initialize performs one-time setup. Idempotent.
	Initialize() error

	// Start makes the observer ready to receive events, initializing it
	// first if needed.
	Start() error

	// Observe processes a single lifecycle event. Called synchronously on
	// the publishing path; implementations should not block.
	Observe(e Event)

	// Stop releases resources and flushes pending work. After Stop,
	// Observe calls are accepted but ignored.
	Stop() error
}
