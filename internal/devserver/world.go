package devserver

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

var (
	errUserExists         = errors.New("user already exists")
	errInvalidCredentials = errors.New("invalid credentials")
	errRoomNotFound       = errors.New("room not found")
	errForbidden          = errors.New("forbidden")
	errRoomFull           = errors.New("room is full")
	errBadPassword        = errors.New("wrong room password")
)

type account struct {
	ID       string
	Username string
	Hash     string
}

type room struct {
	proto.Room
	hash string
}

// member is the holder of one room token.
type member struct {
	RoomID   string
	Nickname string
}

// World is the server-side state: accounts, rooms, history, room tokens
// and presence. All methods are safe for concurrent use.
type World struct {
	mu       sync.Mutex
	users    map[string]*account
	rooms    map[string]*room
	order    []string
	messages map[string][]proto.ChatEvent
	tokens   map[string]member
	present  map[string]map[string]struct{}
	now      func() time.Time
}

// NewWorld creates an empty world.
func NewWorld() *World {
	return &World{
		users:    make(map[string]*account),
		rooms:    make(map[string]*room),
		messages: make(map[string][]proto.ChatEvent),
		tokens:   make(map[string]member),
		present:  make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// SignUp registers a new account.
func (w *World) SignUp(username, password string) (*account, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.users[username]; ok {
		return nil, errUserExists
	}
	a := &account{ID: uuid.NewString(), Username: username, Hash: hash}
	w.users[username] = a
	return a, nil
}

// SignIn checks credentials.
func (w *World) SignIn(username, password string) (*account, error) {
	w.mu.Lock()
	a, ok := w.users[username]
	w.mu.Unlock()
	if !ok {
		return nil, errInvalidCredentials
	}
	if err := auth.ComparePassword(a.Hash, password); err != nil {
		return nil, errInvalidCredentials
	}
	return a, nil
}

// User returns the account with the given id.
func (w *World) User(id string) (*account, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range w.users {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// DeleteUser removes an account and every room it owns. It returns the removed rooms.
func (w *World) DeleteUser(id string) []proto.Room {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, a := range w.users {
		if a.ID == id {
			delete(w.users, name)
		}
	}
	var removed []proto.Room
	for _, rid := range append([]string(nil), w.order...) {
		if r := w.rooms[rid]; r.OwnerID == id {
			removed = append(removed, r.Room)
			w.deleteRoomLocked(rid)
		}
	}
	return removed
}

// CreateRoom adds a room. A non-empty password protects it.
func (w *World) CreateRoom(ownerID, name string, public, active bool, maxUsers int, password string) (proto.Room, error) {
	var hash string
	if password != "" {
		h, err := auth.HashPassword(password)
		if err != nil {
			return proto.Room{}, err
		}
		hash = h
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	r := &room{
		Room: proto.Room{
			ID:       uuid.NewString(),
			Name:     name,
			Active:   active,
			Public:   public,
			MaxUsers: maxUsers,
			OwnerID:  ownerID,
		},
		hash: hash,
	}
	w.rooms[r.ID] = r
	w.order = append(w.order, r.ID)
	return r.Room, nil
}

// UpdateRoom changes a room owned by ownerID.
func (w *World) UpdateRoom(ownerID, id, name string, public, active bool, maxUsers int, password string) (proto.Room, error) {
	var hash string
	if password != "" {
		h, err := auth.HashPassword(password)
		if err != nil {
			return proto.Room{}, err
		}
		hash = h
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rooms[id]
	if !ok {
		return proto.Room{}, errRoomNotFound
	}
	if r.OwnerID != ownerID {
		return proto.Room{}, errForbidden
	}
	if name != "" {
		r.Name = name
	}
	r.Public = public
	r.Active = active
	r.MaxUsers = maxUsers
	if hash != "" {
		r.hash = hash
	}
	return r.Room, nil
}

// DeleteRoom removes a room owned by ownerID.
func (w *World) DeleteRoom(ownerID, id string) (proto.Room, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rooms[id]
	if !ok {
		return proto.Room{}, errRoomNotFound
	}
	if r.OwnerID != ownerID {
		return proto.Room{}, errForbidden
	}
	w.deleteRoomLocked(id)
	return r.Room, nil
}

func (w *World) deleteRoomLocked(id string) {
	delete(w.rooms, id)
	delete(w.messages, id)
	delete(w.present, id)
	for tok, m := range w.tokens {
		if m.RoomID == id {
			delete(w.tokens, tok)
		}
	}
	for i, rid := range w.order {
		if rid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// Room returns one room.
func (w *World) Room(id string) (proto.Room, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rooms[id]
	if !ok {
		return proto.Room{}, false
	}
	return r.Room, true
}

// Rooms lists rooms in creation order. With ownerID set only that owner's
// private rooms are returned, otherwise only public rooms.
func (w *World) Rooms(ownerID string) []proto.Room {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]proto.Room, 0, len(w.order))
	for _, id := range w.order {
		r := w.rooms[id]
		if ownerID == "" && r.Public {
			out = append(out, r.Room)
		}
		if ownerID != "" && !r.Public && r.OwnerID == ownerID {
			out = append(out, r.Room)
		}
	}
	return out
}

// Join signs nickname into a room and returns a fresh room token plus the
// new occupancy. A valid token for the same room skips the password check.
func (w *World) Join(roomID, nickname, password, token string) (string, int, error) {
	w.mu.Lock()
	r, ok := w.rooms[roomID]
	if !ok {
		w.mu.Unlock()
		return "", 0, errRoomNotFound
	}
	m, known := w.tokens[token]
	resumed := known && m.RoomID == roomID
	hash := r.hash
	w.mu.Unlock()

	if !resumed && hash != "" {
		if err := auth.ComparePassword(hash, password); err != nil {
			return "", 0, errBadPassword
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok = w.rooms[roomID]
	if !ok {
		return "", 0, errRoomNotFound
	}
	set := w.present[roomID]
	if set == nil {
		set = make(map[string]struct{})
		w.present[roomID] = set
	}
	if resumed {
		set[token] = struct{}{}
		return token, len(set), nil
	}
	if r.MaxUsers > 0 && len(set) >= r.MaxUsers {
		return "", len(set), errRoomFull
	}
	tok := uuid.NewString()
	w.tokens[tok] = member{RoomID: roomID, Nickname: nickname}
	set[tok] = struct{}{}
	return tok, len(set), nil
}

// Leave ends the membership behind token and returns the new occupancy.
// Without a token the first presence with the nickname is removed.
func (w *World) Leave(roomID, nickname, token string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := w.present[roomID]
	if token == "" {
		for tok := range set {
			if w.tokens[tok].Nickname == nickname {
				token = tok
				break
			}
		}
	}
	if m, ok := w.tokens[token]; ok && m.RoomID == roomID {
		delete(w.tokens, token)
		delete(set, token)
	}
	return len(set)
}

// Absent drops the presence behind token but keeps the token valid, so the
// holder can resume after reconnecting. It reports the new occupancy and
// whether the token was present.
func (w *World) Absent(roomID, token string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := w.present[roomID]
	if _, ok := set[token]; !ok {
		return len(set), false
	}
	delete(set, token)
	return len(set), true
}

// Valid reports whether token is a live membership of roomID.
func (w *World) Valid(roomID, token string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.tokens[token]
	return ok && m.RoomID == roomID
}

// Occupancy returns the number of present members of a room.
func (w *World) Occupancy(roomID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.present[roomID])
}

// AllOccupancy returns every room's occupancy, in creation order.
func (w *World) AllOccupancy() []proto.OccupancyData {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]proto.OccupancyData, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, proto.OccupancyData{RoomRef: proto.RoomRef{RoomID: id}, Users: len(w.present[id])})
	}
	return out
}

// Post appends a chat message from the holder of token.
func (w *World) Post(roomID, token, content string) (proto.ChatEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.tokens[token]
	if !ok || m.RoomID != roomID {
		return proto.ChatEvent{}, errForbidden
	}
	msg := proto.ChatEvent{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Content:   content,
		Nickname:  m.Nickname,
		CreatedAt: w.now().UTC(),
	}
	w.messages[roomID] = append(w.messages[roomID], msg)
	return msg, nil
}

// Seed appends history directly, for fixtures.
func (w *World) Seed(roomID string, msgs ...proto.ChatEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	all := append(w.messages[roomID], msgs...)
	slices.SortStableFunc(all, func(a, b proto.ChatEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	w.messages[roomID] = all
}

// Page returns page (1 = newest) of a room's history, oldest first within
// the page.
func (w *World) Page(roomID string, page, limit int) ([]proto.ChatEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.rooms[roomID]; !ok {
		return nil, errRoomNotFound
	}
	all := w.messages[roomID]
	end := len(all) - (page-1)*limit
	if end <= 0 {
		return []proto.ChatEvent{}, nil
	}
	start := max(end-limit, 0)
	return append([]proto.ChatEvent(nil), all[start:end]...), nil
}
