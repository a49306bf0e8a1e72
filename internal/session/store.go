package session

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/command"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/store"
)

var (
	// ErrNoNickname is returned when signing in without a display name.
	ErrNoNickname = core.NewError(core.ErrCodeSession, "nickname required")
	// ErrNotConnected is returned when a session command was dropped by the transport.
	ErrNotConnected = core.NewError(core.ErrCodeTransport, "not connected, command dropped")
)

// Commands is the outbound surface the store drives.
type Commands interface {
	SignIn(ctx context.Context, p command.SignIn) bool
	SignOut(ctx context.Context, roomID, nickname string) bool
	SignState(ctx context.Context, roomID string) bool
	RoomState(roomID string) bool
}

// Tokens is the persisted room-token map.
type Tokens interface {
	RoomToken(ctx context.Context, roomID string) (string, bool)
	SetRoomToken(ctx context.Context, roomID, token string) error
	ClearRoomToken(ctx context.Context, roomID string) (bool, error)
	Rooms(ctx context.Context) []store.StoredRoom
	AddParticipant(ctx context.Context, roomID string) error
	RemoveParticipant(ctx context.Context, roomID string) error
}

// Kinds are the events a Store consumes.
var Kinds = []core.EventKind{
	core.EventSigninReply,
	core.EventSignoutReply,
	core.EventSignState,
	core.EventSigninRoom,
	core.EventSignoutRoom,
	core.EventRoomState,
	core.EventRoomsState,
	core.EventUpdateRoomState,
	core.EventUpdateRoom,
	core.EventRemoveRoom,
}

// Store owns the per-room sign-in state machine, the occupancy counters and
// the currently open room.
//
// Tokens are persisted as soon as a sign-in reply carries one, so a restart
// can resume without a password. A token the server no longer accepts is
// removed from storage together with the in-memory session.
type Store struct {
	cmds   Commands
	tokens Tokens
	log    *zerolog.Logger

	// IsOwner reports whether the account owns a room. Rooms joined without
	// ownership are recorded in the participant list.
	IsOwner func(roomID string) bool

	mu         sync.Mutex
	sessions   map[string]*RoomSession
	occupancy  map[string]int
	active     string
	activeNick string
	onNotice   []func(Notice)
	onChange   []func()
}

// New creates an empty store.
func New(cmds Commands, tokens Tokens, logger *zerolog.Logger) *Store {
	return &Store{
		cmds:      cmds,
		tokens:    tokens,
		log:       logger,
		sessions:  make(map[string]*RoomSession),
		occupancy: make(map[string]int),
	}
}

// OnNotice registers a callback for transient notices.
func (s *Store) OnNotice(fn func(Notice)) {
	s.mu.Lock()
	s.onNotice = append(s.onNotice, fn)
	s.mu.Unlock()
}

// OnChange registers a callback run after any state change.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// SignIn opens roomID. With a stored token the request resumes that token
// and carries no password, so the server counts the user present again
// without asking for it. A different open room is signed out first so the server
// does not keep a stale occupant. If the transport dropped the command the
// state is left unchanged and ErrNotConnected is returned.
func (s *Store) SignIn(ctx context.Context, roomID, nickname, password string, public bool) error {
	if nickname == "" {
		return ErrNoNickname
	}

	s.mu.Lock()
	if s.active != "" && s.active != roomID {
		prev := s.active
		if !s.cmds.SignOut(ctx, prev, s.activeNick) {
			s.mu.Unlock()
			return ErrNotConnected
		}
		s.log.Debug().Str("room_id", prev).Str("next_room_id", roomID).Msg("signing out of previous room")
		s.active = ""
	}

	_, hasToken := s.tokens.RoomToken(ctx, roomID)
	if hasToken {
		password = ""
	}
	sent := s.cmds.SignIn(ctx, command.SignIn{
		RoomID:   roomID,
		Nickname: nickname,
		Password: password,
		Public:   public,
	})
	if !sent {
		s.mu.Unlock()
		return ErrNotConnected
	}

	sess := s.sessionLocked(roomID)
	sess.Nickname = nickname
	sess.State = StatePendingSignIn
	sess.resume = hasToken
	s.active = roomID
	s.activeNick = nickname
	s.mu.Unlock()

	s.log.Info().Str("room_id", roomID).Bool("resume", hasToken).Msg("sign-in requested")
	s.changed()
	return nil
}

// SignOut asks the server to end membership of roomID. The persisted entry
// is purged when the reply arrives.
func (s *Store) SignOut(ctx context.Context, roomID, nickname string) error {
	s.mu.Lock()
	if nickname == "" {
		if sess, ok := s.sessions[roomID]; ok {
			nickname = sess.Nickname
		}
	}
	sent := s.cmds.SignOut(ctx, roomID, nickname)
	s.mu.Unlock()

	if !sent {
		return ErrNotConnected
	}
	s.log.Info().Str("room_id", roomID).Msg("sign-out requested")
	return nil
}

// Revalidate asks whether every stored room token is still valid and returns
// how many were sent. Used after (re)connecting.
func (s *Store) Revalidate(ctx context.Context) int {
	n := 0
	for _, r := range s.tokens.Rooms(ctx) {
		if s.cmds.SignState(ctx, r.ID) {
			n++
		}
	}
	s.log.Debug().Int("rooms", n).Msg("revalidating stored room tokens")
	return n
}

// Handle applies one event. It is registered with the dispatcher for Kinds.
func (s *Store) Handle(ev core.Event) {
	var notices []Notice
	changed := true

	switch ev.Kind {
	case core.EventSigninReply:
		var data proto.ReplyData
		if !s.decode(ev, &data) {
			return
		}
		notices = s.applySigninReply(data.Room(), data.Token)
	case core.EventSignState:
		var data proto.SignStateReply
		if !s.decode(ev, &data) {
			return
		}
		notices = s.applySignState(data.Room(), data.Authenticated)
	case core.EventSignoutReply:
		var data proto.ReplyData
		if !s.decode(ev, &data) {
			return
		}
		notices = s.applySignoutReply(data.Room())
	case core.EventSigninRoom, core.EventSignoutRoom:
		var data proto.MembershipData
		if !s.decode(ev, &data) {
			return
		}
		notices = s.applyMembership(data, ev.Kind == core.EventSigninRoom)
	case core.EventRoomState, core.EventUpdateRoomState:
		var data proto.OccupancyData
		if !s.decode(ev, &data) {
			return
		}
		s.mu.Lock()
		s.setOccupancyLocked(data.Room(), data.Users)
		s.mu.Unlock()
	case core.EventRoomsState:
		var data proto.RoomsOccupancy
		if len(ev.Payload) > 0 && !s.decode(ev, &data) {
			return
		}
		s.mu.Lock()
		s.occupancy = make(map[string]int, len(data.Rooms))
		for _, r := range data.Rooms {
			s.setOccupancyLocked(r.Room(), r.Users)
		}
		s.mu.Unlock()
	case core.EventUpdateRoom:
		var room proto.Room
		if !s.decode(ev, &room) {
			return
		}
		s.mu.Lock()
		if room.ID != "" && room.ID == s.active {
			notices = append(notices, Notice{Kind: NoticeRoomUpdated, RoomID: room.ID})
		} else {
			changed = false
		}
		s.mu.Unlock()
	case core.EventRemoveRoom:
		var data proto.RemoveRoomData
		if !s.decode(ev, &data) {
			return
		}
		notices = s.applyRemoveRoom(data.Room())
	default:
		return
	}

	for _, n := range notices {
		s.notify(n)
	}
	if changed {
		s.changed()
	}
}

func (s *Store) applySigninReply(roomID, token string) []Notice {
	ctx := context.Background()
	if roomID == "" {
		s.log.Warn().Msg("sign-in reply without room id")
		return nil
	}

	if token == "" {
		if _, err := s.tokens.ClearRoomToken(ctx, roomID); err != nil {
			s.log.Error().Err(err).Str("room_id", roomID).Msg("clear rejected room token")
		}
		s.mu.Lock()
		sess := s.sessionLocked(roomID)
		resumed := sess.resume
		sess.Token = ""
		sess.State = StateUnauthenticated
		sess.resume = false
		s.mu.Unlock()
		s.log.Info().Str("room_id", roomID).Bool("stored_token", resumed).Msg("sign-in rejected")
		return []Notice{{Kind: NoticePasswordRequired, RoomID: roomID}}
	}

	if err := s.tokens.SetRoomToken(ctx, roomID, token); err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("persist room token")
	}
	if s.IsOwner == nil || !s.IsOwner(roomID) {
		if err := s.tokens.AddParticipant(ctx, roomID); err != nil {
			s.log.Error().Err(err).Str("room_id", roomID).Msg("record participant room")
		}
	}

	s.mu.Lock()
	sess := s.sessionLocked(roomID)
	if sess.State == StateAuthenticated && sess.Token == token {
		s.mu.Unlock()
		return nil
	}
	sess.Token = token
	sess.State = StateAuthenticated
	sess.resume = false
	s.mu.Unlock()

	s.cmds.RoomState(roomID)
	s.log.Info().Str("room_id", roomID).Msg("signed in")
	return []Notice{{Kind: NoticeSignedIn, RoomID: roomID}}
}

// applySignState settles a revalidation query. A room with a sign-in in
// flight is left to its sign-in reply; only the stale token is dropped.
func (s *Store) applySignState(roomID string, authenticated bool) []Notice {
	ctx := context.Background()
	if roomID == "" {
		s.log.Warn().Msg("sign state without room id")
		return nil
	}

	if !authenticated {
		if _, err := s.tokens.ClearRoomToken(ctx, roomID); err != nil {
			s.log.Error().Err(err).Str("room_id", roomID).Msg("clear stale room token")
		}
		s.mu.Lock()
		if sess, ok := s.sessions[roomID]; ok && sess.State != StatePendingSignIn {
			delete(s.sessions, roomID)
		}
		s.mu.Unlock()
		s.log.Info().Str("room_id", roomID).Msg("stored room token no longer valid")
		return nil
	}

	token, ok := s.tokens.RoomToken(ctx, roomID)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessionLocked(roomID)
	if sess.State == StatePendingSignIn {
		return nil
	}
	sess.Token = token
	sess.State = StateAuthenticated
	return nil
}

func (s *Store) applySignoutReply(roomID string) []Notice {
	ctx := context.Background()
	if roomID == "" {
		return nil
	}

	if _, err := s.tokens.ClearRoomToken(ctx, roomID); err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("purge room after sign-out")
	}
	if err := s.tokens.RemoveParticipant(ctx, roomID); err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("remove participant room")
	}

	s.mu.Lock()
	if sess, ok := s.sessions[roomID]; ok {
		sess.Token = ""
		sess.State = StateLeft
	}
	wasActive := s.active == roomID
	if wasActive {
		s.active = ""
	}
	s.mu.Unlock()

	s.log.Info().Str("room_id", roomID).Bool("was_open", wasActive).Msg("signed out")
	return []Notice{{Kind: NoticeSignedOut, RoomID: roomID}}
}

func (s *Store) applyMembership(data proto.MembershipData, joined bool) []Notice {
	roomID := data.Room()
	if roomID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if data.Users != nil {
		s.setOccupancyLocked(roomID, *data.Users)
	} else if n, ok := s.occupancy[roomID]; ok {
		if joined {
			n++
		} else if n > 0 {
			n--
		}
		s.setOccupancyLocked(roomID, n)
	}

	if roomID != s.active || data.Nickname == "" || data.Nickname == s.activeNick {
		return nil
	}
	kind := NoticeLeft
	if joined {
		kind = NoticeJoined
	}
	return []Notice{{Kind: kind, RoomID: roomID, Nickname: data.Nickname}}
}

func (s *Store) applyRemoveRoom(roomID string) []Notice {
	if roomID == "" {
		return nil
	}
	if _, err := s.tokens.ClearRoomToken(context.Background(), roomID); err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("purge removed room")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, roomID)
	delete(s.occupancy, roomID)
	if s.active != roomID {
		return nil
	}
	s.active = ""
	return []Notice{{Kind: NoticeRoomRemoved, RoomID: roomID}}
}

// Session returns a copy of the session for roomID.
func (s *Store) Session(roomID string) (RoomSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[roomID]
	if !ok {
		return RoomSession{}, false
	}
	return *sess, true
}

// State returns the sign-in state of roomID; unknown rooms are unauthenticated.
func (s *Store) State(roomID string) State {
	sess, ok := s.Session(roomID)
	if !ok {
		return StateUnauthenticated
	}
	return sess.State
}

// Active returns the open room id, or "".
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Occupancy returns the last known occupancy of any room.
func (s *Store) Occupancy(roomID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.occupancy[roomID]
	return n, ok
}

// DisplayedOccupancy returns the occupancy of the open room; broadcasts for
// other rooms are stored but never shown here.
func (s *Store) DisplayedOccupancy() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return 0, false
	}
	n, ok := s.occupancy[s.active]
	return n, ok
}

func (s *Store) sessionLocked(roomID string) *RoomSession {
	sess, ok := s.sessions[roomID]
	if !ok {
		sess = &RoomSession{RoomID: roomID}
		if n, known := s.occupancy[roomID]; known {
			sess.Occupancy = n
		}
		s.sessions[roomID] = sess
	}
	return sess
}

func (s *Store) setOccupancyLocked(roomID string, users int) {
	if roomID == "" {
		return
	}
	if users < 0 {
		users = 0
	}
	s.occupancy[roomID] = users
	if sess, ok := s.sessions[roomID]; ok {
		sess.Occupancy = users
	}
}

func (s *Store) decode(ev core.Event, v any) bool {
	if err := ev.Decode(v); err != nil {
		s.log.Warn().Err(err).Str("event_id", ev.ID).Str("type", ev.Type).Msg("malformed event payload")
		return false
	}
	return true
}

func (s *Store) notify(n Notice) {
	s.mu.Lock()
	fns := slices.Clone(s.onNotice)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func (s *Store) changed() {
	s.mu.Lock()
	fns := slices.Clone(s.onChange)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
