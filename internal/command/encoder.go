package command

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Sender delivers an envelope over the persistent connection. It returns
// false when the envelope was dropped because the connection is not open.
type Sender interface {
	Send(env proto.Envelope) bool
}

// TokenSource looks up the persisted token for a room.
type TokenSource interface {
	RoomToken(ctx context.Context, roomID string) (string, bool)
}

// SignIn describes a room sign-in request.
type SignIn struct {
	RoomID   string
	Nickname string
	Password string
	Public   bool
}

// Chat describes an outgoing chat message.
type Chat struct {
	RoomID   string
	Content  string
	Nickname string
	UserID   string
}

// Encoder builds outbound envelopes and hands them to the sender.
// Every room-scoped command carries the room's stored token when one exists;
// the server ties occupancy and identity to that token, not to the socket.
type Encoder struct {
	sender Sender
	tokens TokenSource
	log    *zerolog.Logger
}

// New constructs an Encoder.
func New(sender Sender, tokens TokenSource, logger *zerolog.Logger) *Encoder {
	return &Encoder{sender: sender, tokens: tokens, log: logger}
}

// Connect subscribes to the private channel when authToken is set, the public one otherwise.
func (e *Encoder) Connect(authToken string) bool {
	if authToken == "" {
		return e.send(proto.TypeConnectPublic, nil)
	}
	return e.send(proto.TypeConnectPrivate, proto.ConnectionData{AuthToken: authToken})
}

// SignIn requests membership of a room.
func (e *Encoder) SignIn(ctx context.Context, p SignIn) bool {
	return e.send(proto.TypeSigninRoom, proto.SigninRoomData{
		RoomID:    p.RoomID,
		Nickname:  p.Nickname,
		Password:  p.Password,
		Public:    p.Public,
		RoomToken: e.token(ctx, p.RoomID),
	})
}

// SignOut ends membership of a room.
func (e *Encoder) SignOut(ctx context.Context, roomID, nickname string) bool {
	return e.send(proto.TypeSignoutRoom, proto.SignoutRoomData{
		RoomID:    roomID,
		Nickname:  nickname,
		RoomToken: e.token(ctx, roomID),
	})
}

// SignState asks whether the stored token for roomID is still valid.
// It sends nothing when no token is stored.
func (e *Encoder) SignState(ctx context.Context, roomID string) bool {
	token := e.token(ctx, roomID)
	if token == "" {
		return false
	}
	return e.send(proto.TypeSignState, proto.SignStateData{ID: roomID, RoomToken: token})
}

// Chat sends a message to a room.
func (e *Encoder) Chat(ctx context.Context, c Chat) bool {
	return e.send(proto.TypeChat, proto.ChatData{
		RoomID:   c.RoomID,
		Content:  c.Content,
		Nickname: c.Nickname,
		Token:    e.token(ctx, c.RoomID),
		UserID:   c.UserID,
	})
}

// RoomState requests the occupancy of one room.
func (e *Encoder) RoomState(roomID string) bool {
	return e.send(proto.TypeRoomState, proto.RoomStateData{RoomID: roomID})
}

// RoomsState requests the occupancy of every room visible to userID.
func (e *Encoder) RoomsState(userID string) bool {
	return e.send(proto.TypeRoomsState, proto.RoomsStateData{UserID: userID})
}

func (e *Encoder) token(ctx context.Context, roomID string) string {
	if e.tokens == nil {
		return ""
	}
	token, _ := e.tokens.RoomToken(ctx, roomID)
	return token
}

func (e *Encoder) send(typ string, data any) bool {
	env, err := proto.NewEnvelope(typ, data)
	if err != nil {
		e.log.Error().Err(err).Str("type", typ).Msg("encode command")
		return false
	}
	if !e.sender.Send(env) {
		e.log.Debug().Str("type", typ).Msg("command dropped, connection not open")
		return false
	}
	return true
}
