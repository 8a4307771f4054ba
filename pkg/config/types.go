// Package config loads and validates mocklet endpoint configuration.
//
// A configuration document is an ordered sequence of endpoint records.
// A record with "url" and "method" describes an HTTP route; a record with
// "path" describes a WebSocket endpoint. Unknown fields are ignored so that
// documents written for newer versions still load.
package config

// ResponseSpec is the canned HTTP response for a route.
// Immutable after load; the body is returned byte-identical on every request.
type ResponseSpec struct {
	// Status is the HTTP status code to return.
	Status int `json:"status" yaml:"status"`
	// Headers are copied verbatim onto the response.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Body is an optional JSON object returned as the response payload.
	// An empty body yields no payload.
	Body map[string]any `json:"body,omitempty" yaml:"body,omitempty"`
}

// HTTPRoute associates (method, url) with a canned response.
type HTTPRoute struct {
	// URL is the exact request path to match (case-sensitive).
	URL string `json:"url" yaml:"url"`
	// Method is the HTTP method to match (case-insensitive).
	Method string `json:"method" yaml:"method"`
	// Response is the canned response to return on a match.
	Response *ResponseSpec `json:"response" yaml:"response"`
	// DelayMs suspends the handling request for this many milliseconds
	// before the response is written.
	DelayMs int `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// WSResponse is a single canned WebSocket message with an optional delay.
type WSResponse struct {
	// Message is an optional JSON object sent as a text frame.
	// An empty message sends nothing.
	Message map[string]any `json:"message,omitempty" yaml:"message,omitempty"`
	// DelayMs suspends for this many milliseconds before sending.
	DelayMs int `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// WSEndpoint configures a WebSocket path with up to three per-event responses.
type WSEndpoint struct {
	// Path is the exact upgrade path to match (case-sensitive).
	Path string `json:"path" yaml:"path"`
	// OnConnect is sent after a client connects.
	OnConnect *WSResponse `json:"on_connect,omitempty" yaml:"on_connect,omitempty"`
	// OnMessage is sent in reply to every inbound message.
	OnMessage *WSResponse `json:"on_message,omitempty" yaml:"on_message,omitempty"`
	// OnClose is attempted when the connection terminates.
	OnClose *WSResponse `json:"on_close,omitempty" yaml:"on_close,omitempty"`
}

// Document is a loaded configuration: HTTP routes and WebSocket endpoints,
// each in their original configuration order.
type Document struct {
	Routes    []*HTTPRoute
	Endpoints []*WSEndpoint
}

// Empty reports whether the document configures nothing.
func (d *Document) Empty() bool {
	return len(d.Routes) == 0 && len(d.Endpoints) == 0
}

// record is the union of all endpoint record fields, used while classifying
// a raw document entry as an HTTP route or a WebSocket endpoint.
type record struct {
	URL      string        `json:"url" yaml:"url"`
	Method   string        `json:"method" yaml:"method"`
	Response *ResponseSpec `json:"response" yaml:"response"`
	DelayMs  int           `json:"delay" yaml:"delay"`

	Path      string      `json:"path" yaml:"path"`
	OnConnect *WSResponse `json:"on_connect" yaml:"on_connect"`
	OnMessage *WSResponse `json:"on_message" yaml:"on_message"`
	OnClose   *WSResponse `json:"on_close" yaml:"on_close"`
}
