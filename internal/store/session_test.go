package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	pebbledb "github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/store/pebble"
	"github.com/vovakirdan/wirechat-client/internal/store/sqlite"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sq, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	pb, err := pebble.NewWithOptions("session", &pebbledb.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	out := map[string]Backend{
		"memory": NewMemory(),
		"sqlite": sq,
		"pebble": pb,
	}
	t.Cleanup(func() {
		for _, b := range out {
			_ = b.Close()
		}
	})
	return out
}

func TestSessionRoomTokens(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewSession(backend, log.Nop())

			if _, ok := s.RoomToken(ctx, "r1"); ok {
				t.Fatalf("expected no token before set")
			}
			if err := s.SetRoomToken(ctx, "r1", "tok-1"); err != nil {
				t.Fatalf("set r1: %v", err)
			}
			if err := s.SetRoomToken(ctx, "r2", "tok-2"); err != nil {
				t.Fatalf("set r2: %v", err)
			}
			if err := s.SetRoomToken(ctx, "r1", "tok-42"); err != nil {
				t.Fatalf("replace r1: %v", err)
			}

			if tok, ok := s.RoomToken(ctx, "r1"); !ok || tok != "tok-42" {
				t.Fatalf("expected replaced token, got %q %v", tok, ok)
			}
			if got := s.Rooms(ctx); len(got) != 2 {
				t.Fatalf("expected one entry per room, got %+v", got)
			}

			removed, err := s.ClearRoomToken(ctx, "r1")
			if err != nil || !removed {
				t.Fatalf("clear r1: removed=%v err=%v", removed, err)
			}
			if _, ok := s.RoomToken(ctx, "r1"); ok {
				t.Fatalf("r1 token should be gone")
			}
			if tok, _ := s.RoomToken(ctx, "r2"); tok != "tok-2" {
				t.Fatalf("clearing r1 must keep r2, got %q", tok)
			}
			if removed, _ := s.ClearRoomToken(ctx, "missing"); removed {
				t.Fatalf("clearing an unknown room must report false")
			}
		})
	}
}

func TestSessionScalarKeys(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewSession(backend, log.Nop())

			if err := s.SetNickname(ctx, "alice"); err != nil {
				t.Fatalf("set nickname: %v", err)
			}
			if err := s.SetAuthToken(ctx, "jwt"); err != nil {
				t.Fatalf("set auth token: %v", err)
			}
			if err := s.SetPreference(ctx, KeyTheme, "dark"); err != nil {
				t.Fatalf("set theme: %v", err)
			}
			if s.Nickname(ctx) != "alice" || s.AuthToken(ctx) != "jwt" || s.Preference(ctx, KeyTheme) != "dark" {
				t.Fatalf("unexpected stored values")
			}
			if err := s.ClearAuthToken(ctx); err != nil {
				t.Fatalf("clear auth token: %v", err)
			}
			if s.AuthToken(ctx) != "" {
				t.Fatalf("auth token should be cleared")
			}
		})
	}
}

func TestSessionParticipant(t *testing.T) {
	ctx := context.Background()
	s := NewSession(NewMemory(), log.Nop())

	for _, id := range []string{"a", "b", "a"} {
		if err := s.AddParticipant(ctx, id); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if got := s.Participant(ctx); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected participant list %v", got)
	}
	if err := s.RemoveParticipant(ctx, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := s.Participant(ctx); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected participant list after remove %v", got)
	}
}

func TestSessionCorruptedValuesDegradeToEmpty(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	_ = backend.Set(ctx, KeyRooms, `[{"id":"r1","token":`)
	_ = backend.Set(ctx, KeyParticipant, `{"not":"a list"}`)

	s := NewSession(backend, log.Nop())

	if got := s.Rooms(ctx); len(got) != 0 {
		t.Fatalf("corrupted rooms should read as empty, got %+v", got)
	}
	if got := s.Participant(ctx); len(got) != 0 {
		t.Fatalf("corrupted participant should read as empty, got %v", got)
	}
	// A write over a corrupted value replaces it with a well-formed list.
	if err := s.SetRoomToken(ctx, "r2", "tok"); err != nil {
		t.Fatalf("set over corrupted value: %v", err)
	}
	if tok, ok := s.RoomToken(ctx, "r2"); !ok || tok != "tok" {
		t.Fatalf("expected recovered token, got %q %v", tok, ok)
	}
}

func TestSessionConcurrentRoomUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	s := NewSession(NewMemory(), log.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.SetRoomToken(ctx, fmt.Sprintf("room-%d", i), fmt.Sprintf("tok-%d", i))
		}(i)
	}
	wg.Wait()

	if got := s.Rooms(ctx); len(got) != 32 {
		t.Fatalf("expected 32 rooms after concurrent writes, got %d", len(got))
	}
}

func TestSessionReadErrorDegrades(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	s := NewSession(backend, log.Nop())
	_ = s.SetNickname(ctx, "bob")
	_ = backend.Close()

	if s.Nickname(ctx) != "" {
		t.Fatalf("read from a closed backend should degrade to empty")
	}
	if err := s.SetNickname(ctx, "carol"); err == nil {
		t.Fatalf("expected write error from a closed backend")
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{"memory", config.StorageConfig{Driver: config.StorageMemory}, false},
		{"sqlite", config.StorageConfig{Driver: config.StorageSQLite, Path: dir + "/client.db"}, false},
		{"pebble", config.StorageConfig{Driver: config.StoragePebble, Path: dir + "/pebble"}, false},
		{"unknown", config.StorageConfig{Driver: "etcd"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(ctx, tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer b.Close()

			if err := b.Set(ctx, "k", "v"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if v, ok, err := b.Get(ctx, "k"); err != nil || !ok || v != "v" {
				t.Fatalf("get: %q %v %v", v, ok, err)
			}
			if err := b.Delete(ctx, "k"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := b.Get(ctx, "k"); ok {
				t.Fatalf("key should be gone")
			}
		})
	}
}
