package proto

import (
	"encoding/json"
	"time"
)

// Envelope is the frame exchanged over the persistent connection in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound (client -> server) types.
const (
	TypeConnectPublic  = "public"
	TypeConnectPrivate = "private"
)

// Types shared by both directions or inbound only.
const (
	TypeAddRoom         = "addRoom"
	TypeUpdateRoom      = "updateRoom"
	TypeRemoveRoom      = "removeRoom"
	TypeSigninRoom      = "signinRoom"
	TypeSignoutRoom     = "signoutRoom"
	TypeSigninReply     = "signinReply"
	TypeSignoutReply    = "signoutReply"
	TypeSignState       = "signState"
	TypeRoomState       = "roomState"
	TypeRoomsState      = "roomsState"
	TypeUpdateRoomState = "updateRoomState"
	TypeChat            = "chat"
)

// NewEnvelope marshals data under the given type. A nil data yields an envelope without payload.
func NewEnvelope(typ string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// ConnectionData bootstraps the channel subscription.
type ConnectionData struct {
	AuthToken string `json:"authToken,omitempty"`
}

// SigninRoomData requests room membership.
type SigninRoomData struct {
	RoomID    string `json:"roomId"`
	Nickname  string `json:"nickname"`
	Password  string `json:"password,omitempty"`
	Public    bool   `json:"public"`
	RoomToken string `json:"roomToken,omitempty"`
}

// SignoutRoomData ends room membership.
type SignoutRoomData struct {
	RoomID    string `json:"roomId"`
	Nickname  string `json:"nickname"`
	RoomToken string `json:"roomToken,omitempty"`
}

// SignStateData asks whether a stored room token is still valid.
type SignStateData struct {
	ID        string `json:"_id"`
	RoomToken string `json:"roomToken"`
}

// ChatData sends a chat message.
type ChatData struct {
	RoomID   string `json:"roomId"`
	Content  string `json:"content"`
	Nickname string `json:"nickname"`
	Token    string `json:"token"`
	UserID   string `json:"userId,omitempty"`
}

// RoomStateData asks for one room's occupancy.
type RoomStateData struct {
	RoomID string `json:"roomId"`
}

// RoomsStateData asks for every room's occupancy.
type RoomsStateData struct {
	UserID string `json:"userId,omitempty"`
}

// RoomRef identifies the room an inbound payload is about.
// Servers send the id either as _id or as roomId.
type RoomRef struct {
	ID     string `json:"_id,omitempty"`
	RoomID string `json:"roomId,omitempty"`
}

// Room returns whichever room id field is set.
func (r RoomRef) Room() string {
	if r.ID != "" {
		return r.ID
	}
	return r.RoomID
}

// Room is the metadata carried by room list broadcasts and REST responses.
type Room struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
	Public   bool   `json:"public"`
	MaxUsers int    `json:"maxUsers"`
	OwnerID  string `json:"ownerId,omitempty"`
}

// RemoveRoomData identifies a deleted room.
type RemoveRoomData struct {
	RoomRef
	Public bool `json:"public"`
}

// MembershipData is a signinRoom/signoutRoom broadcast.
type MembershipData struct {
	RoomRef
	Nickname string `json:"nickname"`
	Users    *int   `json:"users,omitempty"`
}

// ReplyData answers the local user's sign-in or sign-out.
type ReplyData struct {
	RoomRef
	Token string `json:"token,omitempty"`
}

// SignStateReply answers a revalidation query.
type SignStateReply struct {
	RoomRef
	Authenticated bool `json:"authenticated"`
}

// OccupancyData carries one room's occupancy.
type OccupancyData struct {
	RoomRef
	Users int `json:"users"`
}

// RoomsOccupancy carries every room's occupancy.
type RoomsOccupancy struct {
	Rooms []OccupancyData `json:"rooms"`
}

// ChatEvent is a delivered chat message.
type ChatEvent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Content   string    `json:"content"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"createdAt"`
}
