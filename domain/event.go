package domain

import (
	"encoding/json"
	"strings"
)

// Op is a relayed write operation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Valid reports whether o is one of the relayed operations.
func (o Op) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ChangeEvent is a single write reported by the change source. Operation
// holds the raw operation type; anything other than insert, update and
// delete is not relayed.
type ChangeEvent struct {
	Operation    Op
	Collection   string
	FullDocument Entity
	DocumentKey  ID
}

// DeleteKey is the payload of delete messages.
type DeleteKey struct {
	ID ID `json:"id"`
}

// RelayMessage is the broadcast form of a ChangeEvent.
type RelayMessage struct {
	Channel string `json:"channel"`
	Op      Op     `json:"op"`
	Payload any    `json:"payload"`
}

// Event returns the channel event name, e.g. "articles:insert".
func (m RelayMessage) Event() string { return EventName(m.Channel, m.Op) }

// Envelope is a RelayMessage read back from the bus with its payload left
// encoded.
type Envelope struct {
	Channel string          `json:"channel"`
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// Frame is a single WebSocket message exchanged with clients.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client to server frame events.
const (
	FrameJoin  = "join"
	FrameLeave = "leave"
)

// EventName joins a channel and an operation into a channel event name.
func EventName(channel string, op Op) string {
	return channel + ":" + string(op)
}

// ParseEventName splits a channel event name. It fails for names without a
// channel or with an operation that is not relayed.
func ParseEventName(ev string) (string, Op, bool) {
	i := strings.LastIndexByte(ev, ':')
	if i <= 0 {
		return "", "", false
	}
	op := Op(ev[i+1:])
	if !op.Valid() {
		return "", "", false
	}
	return ev[:i], op, true
}
