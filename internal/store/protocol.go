// Wire protocol between the Remote store client and the relay server.
// JSON frames over a websocket: the client sends OpFrame, the server replies
// with a ServerFrame ack carrying the same id, and pushes ServerFrame events
// for live subscriptions.
package store

import "encoding/json"

// Op constants for OpFrame.Op.
const (
	OpPut    = "put"
	OpUpdate = "update"
	OpDelete = "delete"
	OpGet    = "get"
	OpList   = "list"
	OpSub    = "sub"
	OpUnsub  = "unsub"
)

// Frame type constants for ServerFrame.Type.
const (
	FrameAck   = "ack"
	FrameEvent = "event"
)

// OpFrame is a client request.
type OpFrame struct {
	Op     string          `json:"op"`
	ID     string          `json:"id"`               // uuid, echoed in the ack
	Path   string          `json:"path,omitempty"`   // put/update/delete/get
	Prefix string          `json:"prefix,omitempty"` // list/sub
	Sub    string          `json:"sub,omitempty"`    // client-chosen subscription id
	Doc    json.RawMessage `json:"doc,omitempty"`    // put payload
	Fields map[string]any  `json:"fields,omitempty"` // update payload
}

// ServerFrame is everything the server sends: acks and subscription events.
type ServerFrame struct {
	Type string `json:"type"` // FrameAck | FrameEvent

	// Ack fields.
	ID       string                     `json:"id,omitempty"`
	Err      string                     `json:"error,omitempty"`
	NotFound bool                       `json:"not_found,omitempty"`
	Doc      json.RawMessage            `json:"doc,omitempty"`  // get result
	Docs     map[string]json.RawMessage `json:"docs,omitempty"` // list result

	// Event fields.
	Sub   string `json:"sub,omitempty"`
	Event *Event `json:"event,omitempty"`
}
