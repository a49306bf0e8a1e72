package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

const peerBuffer = 64

type membership struct {
	token    string
	nickname string
}

// peer is one accepted connection.
type peer struct {
	id   string
	send chan proto.Envelope

	mu         sync.Mutex
	subscribed bool
	userID     string
	joined     map[string]membership
}

// hub fans broadcasts out to every subscribed peer.
type hub struct {
	mu    sync.Mutex
	peers map[*peer]struct{}
	log   *zerolog.Logger
}

func newHub(logger *zerolog.Logger) *hub {
	return &hub{peers: make(map[*peer]struct{}), log: logger}
}

func (h *hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
}

func (h *hub) broadcast(typ string, data any) {
	env, err := proto.NewEnvelope(typ, data)
	if err != nil {
		h.log.Error().Err(err).Str("type", typ).Msg("encode broadcast")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		p.mu.Lock()
		ok := p.subscribed
		p.mu.Unlock()
		if ok {
			h.deliver(p, env)
		}
	}
}

func (h *hub) reply(p *peer, typ string, data any) {
	env, err := proto.NewEnvelope(typ, data)
	if err != nil {
		h.log.Error().Err(err).Str("type", typ).Msg("encode reply")
		return
	}
	h.deliver(p, env)
}

func (h *hub) deliver(p *peer, env proto.Envelope) {
	select {
	case p.send <- env:
	default:
		h.log.Warn().Str("peer_id", p.id).Str("type", env.Type).Msg("peer buffer full, dropping frame")
	}
}

// WSHandler upgrades HTTP connections and speaks the room protocol.
type WSHandler struct {
	world *World
	hub   *hub
	jwt   *auth.JWTConfig
	rate  int
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(world *World, h *hub, jwtCfg *auth.JWTConfig, messagesPerMinute int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{world: world, hub: h, jwt: jwtCfg, rate: messagesPerMinute, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	p := &peer{
		id:     uuid.NewString(),
		send:   make(chan proto.Envelope, peerBuffer),
		joined: make(map[string]membership),
	}
	h.hub.add(p)
	defer h.leaveAll(p)
	defer h.hub.remove(p)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	limiter := newRateLimiter(h.rate)
	limiter.startReset(ctx.Done())

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, p, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, p)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			status = websocket.StatusInternalError
			reason = "internal error"
			h.log.Warn().Err(err).Str("peer_id", p.id).Msg("ws connection closed with error")
		}
	}
	_ = conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, p *peer, limiter *rateLimiter) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if !limiter.allow() {
			h.log.Warn().Str("peer_id", p.id).Msg("rate limit exceeded, dropping frame")
			continue
		}

		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Warn().Err(err).Str("peer_id", p.id).Msg("malformed frame")
			continue
		}
		h.handle(ctx, p, env)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, p *peer) error {
	for {
		select {
		case env := <-p.send:
			if err := wsjson.Write(ctx, conn, env); err != nil {
				h.log.Error().Err(err).Str("peer_id", p.id).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) handle(_ context.Context, p *peer, env proto.Envelope) {
	switch env.Type {
	case proto.TypeConnectPublic, proto.TypeConnectPrivate:
		h.connect(p, env)
	case proto.TypeSigninRoom:
		var data proto.SigninRoomData
		if h.decode(p, env, &data) {
			h.signIn(p, data)
		}
	case proto.TypeSignoutRoom:
		var data proto.SignoutRoomData
		if h.decode(p, env, &data) {
			h.signOut(p, data)
		}
	case proto.TypeSignState:
		var data proto.SignStateData
		if h.decode(p, env, &data) {
			h.hub.reply(p, proto.TypeSignState, proto.SignStateReply{
				RoomRef:       proto.RoomRef{ID: data.ID},
				Authenticated: h.world.Valid(data.ID, data.RoomToken),
			})
		}
	case proto.TypeChat:
		var data proto.ChatData
		if h.decode(p, env, &data) {
			h.chat(p, data)
		}
	case proto.TypeRoomState:
		var data proto.RoomStateData
		if h.decode(p, env, &data) {
			h.hub.reply(p, proto.TypeRoomState, proto.OccupancyData{
				RoomRef: proto.RoomRef{RoomID: data.RoomID},
				Users:   h.world.Occupancy(data.RoomID),
			})
		}
	case proto.TypeRoomsState:
		h.hub.reply(p, proto.TypeRoomsState, proto.RoomsOccupancy{Rooms: h.world.AllOccupancy()})
	default:
		h.log.Warn().Str("peer_id", p.id).Str("type", env.Type).Msg("unknown message type")
	}
}

func (h *WSHandler) connect(p *peer, env proto.Envelope) {
	var uid string
	if env.Type == proto.TypeConnectPrivate {
		var data proto.ConnectionData
		if h.decode(p, env, &data) {
			claims, err := auth.ValidateToken(h.jwt, data.AuthToken)
			if err != nil {
				h.log.Debug().Err(err).Str("peer_id", p.id).Msg("private bootstrap with invalid token")
			} else {
				uid = claims.User()
			}
		}
	}

	p.mu.Lock()
	p.subscribed = true
	p.userID = uid
	p.mu.Unlock()
	h.log.Debug().Str("peer_id", p.id).Str("channel", env.Type).Str("user_id", uid).Msg("peer subscribed")
}

func (h *WSHandler) signIn(p *peer, data proto.SigninRoomData) {
	token, users, err := h.world.Join(data.RoomID, data.Nickname, data.Password, data.RoomToken)
	if err != nil {
		h.log.Info().Err(err).Str("room_id", data.RoomID).Str("nickname", data.Nickname).Msg("room sign-in rejected")
		h.hub.reply(p, proto.TypeSigninReply, proto.ReplyData{RoomRef: proto.RoomRef{ID: data.RoomID}})
		return
	}

	p.mu.Lock()
	p.joined[data.RoomID] = membership{token: token, nickname: data.Nickname}
	p.mu.Unlock()

	h.hub.reply(p, proto.TypeSigninReply, proto.ReplyData{RoomRef: proto.RoomRef{ID: data.RoomID}, Token: token})
	h.hub.broadcast(proto.TypeSigninRoom, proto.MembershipData{
		RoomRef:  proto.RoomRef{RoomID: data.RoomID},
		Nickname: data.Nickname,
		Users:    &users,
	})
}

func (h *WSHandler) signOut(p *peer, data proto.SignoutRoomData) {
	token := data.RoomToken
	p.mu.Lock()
	if m, ok := p.joined[data.RoomID]; ok && token == "" {
		token = m.token
	}
	delete(p.joined, data.RoomID)
	p.mu.Unlock()

	users := h.world.Leave(data.RoomID, data.Nickname, token)
	h.hub.reply(p, proto.TypeSignoutReply, proto.ReplyData{RoomRef: proto.RoomRef{ID: data.RoomID}})
	h.hub.broadcast(proto.TypeSignoutRoom, proto.MembershipData{
		RoomRef:  proto.RoomRef{RoomID: data.RoomID},
		Nickname: data.Nickname,
		Users:    &users,
	})
}

func (h *WSHandler) chat(p *peer, data proto.ChatData) {
	msg, err := h.world.Post(data.RoomID, data.Token, data.Content)
	if err != nil {
		h.log.Info().Err(err).Str("peer_id", p.id).Str("room_id", data.RoomID).Msg("chat rejected")
		return
	}
	h.hub.broadcast(proto.TypeChat, msg)
}

// leaveAll drops the presence of a closed peer without invalidating its tokens.
func (h *WSHandler) leaveAll(p *peer) {
	p.mu.Lock()
	joined := p.joined
	p.joined = nil
	p.mu.Unlock()

	for roomID, m := range joined {
		users, ok := h.world.Absent(roomID, m.token)
		if !ok {
			continue
		}
		h.hub.broadcast(proto.TypeSignoutRoom, proto.MembershipData{
			RoomRef:  proto.RoomRef{RoomID: roomID},
			Nickname: m.nickname,
			Users:    &users,
		})
	}
}

func (h *WSHandler) decode(p *peer, env proto.Envelope, v any) bool {
	if len(env.Data) == 0 {
		h.log.Warn().Str("peer_id", p.id).Str("type", env.Type).Msg("missing payload")
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.log.Warn().Err(err).Str("peer_id", p.id).Str("type", env.Type).Msg("malformed payload")
		return false
	}
	return true
}
