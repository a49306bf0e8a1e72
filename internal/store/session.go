package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// Persisted keys.
const (
	KeyNickname    = "nickname"
	KeyAuthToken   = "authToken"
	KeyRooms       = "rooms"
	KeyParticipant = "participant"
	KeySession     = "session"
	KeyTheme       = "theme"
)

// StoredRoom is one entry of the persisted room-token map.
type StoredRoom struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Session is the typed view over a Backend.
//
// Every read-modify-write of a list key happens under one mutex, so two
// components updating different rooms never lose each other's writes.
// Reads never fail: backend errors and corrupted values degrade to the
// empty value and a warning.
type Session struct {
	backend Backend
	log     *zerolog.Logger

	mu sync.Mutex
}

// NewSession wraps backend.
func NewSession(backend Backend, logger *zerolog.Logger) *Session {
	return &Session{backend: backend, log: logger}
}

// Nickname returns the stored display name or "".
func (s *Session) Nickname(ctx context.Context) string {
	return s.getString(ctx, KeyNickname)
}

// SetNickname stores the display name.
func (s *Session) SetNickname(ctx context.Context, nickname string) error {
	return s.set(ctx, KeyNickname, nickname)
}

// AuthToken returns the stored account token or "".
func (s *Session) AuthToken(ctx context.Context) string {
	return s.getString(ctx, KeyAuthToken)
}

// SetAuthToken stores the account token.
func (s *Session) SetAuthToken(ctx context.Context, token string) error {
	return s.set(ctx, KeyAuthToken, token)
}

// ClearAuthToken forgets the account token.
func (s *Session) ClearAuthToken(ctx context.Context) error {
	return s.del(ctx, KeyAuthToken)
}

// Preference returns a UI preference such as KeySession or KeyTheme.
func (s *Session) Preference(ctx context.Context, key string) string {
	return s.getString(ctx, key)
}

// SetPreference stores a UI preference.
func (s *Session) SetPreference(ctx context.Context, key, value string) error {
	return s.set(ctx, key, value)
}

// Rooms returns every stored room token entry.
func (s *Session) Rooms(ctx context.Context) []StoredRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomsLocked(ctx)
}

// RoomToken returns the stored token for roomID. It satisfies the
// command encoder's token source.
func (s *Session) RoomToken(ctx context.Context, roomID string) (string, bool) {
	for _, r := range s.Rooms(ctx) {
		if r.ID == roomID && r.Token != "" {
			return r.Token, true
		}
	}
	return "", false
}

// SetRoomToken inserts or replaces the token for roomID.
func (s *Session) SetRoomToken(ctx context.Context, roomID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := s.roomsLocked(ctx)
	replaced := false
	for i := range rooms {
		if rooms[i].ID == roomID {
			rooms[i].Token = token
			replaced = true
		}
	}
	if !replaced {
		rooms = append(rooms, StoredRoom{ID: roomID, Token: token})
	}
	return s.setJSON(ctx, KeyRooms, rooms)
}

// ClearRoomToken removes roomID from the stored room list.
// It reports whether an entry was removed.
func (s *Session) ClearRoomToken(ctx context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := s.roomsLocked(ctx)
	kept := rooms[:0]
	for _, r := range rooms {
		if r.ID != roomID {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(rooms) {
		return false, nil
	}
	return true, s.setJSON(ctx, KeyRooms, kept)
}

// ClearRooms forgets every stored room token.
func (s *Session) ClearRooms(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.del(ctx, KeyRooms)
}

// Participant returns ids of rooms joined without ownership.
func (s *Session) Participant(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantLocked(ctx)
}

// AddParticipant records roomID; adding twice keeps one entry.
func (s *Session) AddParticipant(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.participantLocked(ctx)
	for _, id := range ids {
		if id == roomID {
			return nil
		}
	}
	return s.setJSON(ctx, KeyParticipant, append(ids, roomID))
}

// RemoveParticipant drops roomID.
func (s *Session) RemoveParticipant(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.participantLocked(ctx)
	kept := ids[:0]
	for _, id := range ids {
		if id != roomID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	return s.setJSON(ctx, KeyParticipant, kept)
}

func (s *Session) roomsLocked(ctx context.Context) []StoredRoom {
	var rooms []StoredRoom
	if !s.getJSON(ctx, KeyRooms, &rooms) {
		return nil
	}
	out := rooms[:0]
	for _, r := range rooms {
		if r.ID != "" {
			out = append(out, r)
		}
	}
	return out
}

func (s *Session) participantLocked(ctx context.Context) []string {
	var ids []string
	if !s.getJSON(ctx, KeyParticipant, &ids) {
		return nil
	}
	return ids
}

func (s *Session) getString(ctx context.Context, key string) string {
	v, _, err := s.backend.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("read stored value")
		return ""
	}
	return v
}

// getJSON decodes key into v. A missing, unreadable or corrupted value yields false.
func (s *Session) getJSON(ctx context.Context, key string, v any) bool {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("read stored value")
		return false
	}
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("corrupted stored value, treating as empty")
		return false
	}
	return true
}

func (s *Session) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return core.WrapError(core.ErrCodeStorage, "encode "+key, err)
	}
	return s.set(ctx, key, string(raw))
}

func (s *Session) set(ctx context.Context, key, value string) error {
	if err := s.backend.Set(ctx, key, value); err != nil {
		return core.WrapError(core.ErrCodeStorage, "write "+key, err)
	}
	return nil
}

func (s *Session) del(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return core.WrapError(core.ErrCodeStorage, "delete "+key, err)
	}
	return nil
}
