package core

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// EventKind is the discriminant of a notification received from the server.
type EventKind int

const (
	// EventUnknown is any frame whose type the client does not understand.
	EventUnknown EventKind = iota
	// EventAddRoom announces a newly created room.
	EventAddRoom
	// EventUpdateRoom announces changed room metadata.
	EventUpdateRoom
	// EventRemoveRoom announces a deleted room.
	EventRemoveRoom
	// EventSigninRoom notifies that somebody signed in to a room.
	EventSigninRoom
	// EventSignoutRoom notifies that somebody signed out of a room.
	EventSignoutRoom
	// EventSigninReply answers the local user's sign-in; carries the room token on success.
	EventSigninReply
	// EventSignoutReply confirms the local user's sign-out.
	EventSignoutReply
	// EventSignState answers a token revalidation query.
	EventSignState
	// EventRoomState carries occupancy of one room on request.
	EventRoomState
	// EventRoomsState carries occupancy of every room.
	EventRoomsState
	// EventUpdateRoomState broadcasts a change of one room's occupancy.
	EventUpdateRoomState
	// EventChat delivers a chat message.
	EventChat
)

var wireKinds = map[string]EventKind{
	proto.TypeAddRoom:         EventAddRoom,
	proto.TypeUpdateRoom:      EventUpdateRoom,
	proto.TypeRemoveRoom:      EventRemoveRoom,
	proto.TypeSigninRoom:      EventSigninRoom,
	proto.TypeSignoutRoom:     EventSignoutRoom,
	proto.TypeSigninReply:     EventSigninReply,
	proto.TypeSignoutReply:    EventSignoutReply,
	proto.TypeSignState:       EventSignState,
	proto.TypeRoomState:       EventRoomState,
	proto.TypeRoomsState:      EventRoomsState,
	proto.TypeUpdateRoomState: EventUpdateRoomState,
	proto.TypeChat:            EventChat,
}

// KindFromWire maps an envelope type to its EventKind.
func KindFromWire(typ string) EventKind {
	if k, ok := wireKinds[typ]; ok {
		return k
	}
	return EventUnknown
}

// String returns the wire name of the kind.
func (k EventKind) String() string {
	for typ, kind := range wireKinds {
		if kind == k {
			return typ
		}
	}
	return "unknown"
}

// Event is one decoded inbound frame waiting in the queue.
type Event struct {
	// ID is assigned locally on receipt and never sent over the wire.
	ID string
	// Seq orders events by arrival; it increases strictly within one queue.
	Seq        uint64
	Kind       EventKind
	Type       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// FromEnvelope converts a received envelope into an unqueued event.
func FromEnvelope(env proto.Envelope) Event {
	return Event{
		Kind:    KindFromWire(env.Type),
		Type:    env.Type,
		Payload: env.Data,
	}
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return NewError(ErrCodeProtocol, "empty payload for "+e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return WrapError(ErrCodeProtocol, "decode "+e.Type+" payload", err)
	}
	return nil
}
