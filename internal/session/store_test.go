package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vovakirdan/wirechat-client/internal/command"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/store"
)

type sent struct {
	Type   string
	RoomID string
	Nick   string
	Pass   string
}

type fakeCommands struct {
	mu   sync.Mutex
	sent []sent
	drop bool
}

func (f *fakeCommands) record(s sent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drop {
		return false
	}
	f.sent = append(f.sent, s)
	return true
}

func (f *fakeCommands) SignIn(_ context.Context, p command.SignIn) bool {
	return f.record(sent{Type: proto.TypeSigninRoom, RoomID: p.RoomID, Nick: p.Nickname, Pass: p.Password})
}

func (f *fakeCommands) SignOut(_ context.Context, roomID, nickname string) bool {
	return f.record(sent{Type: proto.TypeSignoutRoom, RoomID: roomID, Nick: nickname})
}

func (f *fakeCommands) SignState(_ context.Context, roomID string) bool {
	return f.record(sent{Type: proto.TypeSignState, RoomID: roomID})
}

func (f *fakeCommands) RoomState(roomID string) bool {
	return f.record(sent{Type: proto.TypeRoomState, RoomID: roomID})
}

func (f *fakeCommands) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.Type + ":" + s.RoomID
	}
	return out
}

func (f *fakeCommands) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeCommands, *store.Session, *[]Notice) {
	t.Helper()
	cmds := &fakeCommands{}
	tokens := store.NewSession(store.NewMemory(), log.Nop())
	s := New(cmds, tokens, log.Nop())

	var notices []Notice
	s.OnNotice(func(n Notice) { notices = append(notices, n) })
	return s, cmds, tokens, &notices
}

func event(t *testing.T, typ string, data any) core.Event {
	t.Helper()
	env, err := proto.NewEnvelope(typ, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return core.FromEnvelope(env)
}

func ref(id string) proto.RoomRef { return proto.RoomRef{ID: id} }

func intPtr(n int) *int { return &n }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSignInReplyPersistsToken(t *testing.T) {
	s, cmds, tokens, notices := newTestStore(t)
	ctx := context.Background()

	if err := s.SignIn(ctx, "r1", "alice", "pw", false); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if got := s.State("r1"); got != StatePendingSignIn {
		t.Fatalf("expected pending, got %s", got)
	}

	s.Handle(event(t, proto.TypeSigninReply, proto.ReplyData{RoomRef: ref("r1"), Token: "tok-42"}))

	if got := s.State("r1"); got != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", got)
	}
	if tok, ok := tokens.RoomToken(ctx, "r1"); !ok || tok != "tok-42" {
		t.Fatalf("expected persisted tok-42, got %q %v", tok, ok)
	}
	if p := tokens.Participant(ctx); len(p) != 1 || p[0] != "r1" {
		t.Fatalf("expected r1 recorded as participant room, got %v", p)
	}
	want := []string{"signinRoom:r1", "roomState:r1"}
	if got := cmds.types(); !equalStrings(got, want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	if len(*notices) != 1 || (*notices)[0].Kind != NoticeSignedIn {
		t.Fatalf("unexpected notices: %v", *notices)
	}
}

func TestSignInReplyWithoutTokenRequiresPassword(t *testing.T) {
	s, cmds, tokens, notices := newTestStore(t)
	ctx := context.Background()
	_ = tokens.SetRoomToken(ctx, "r1", "tok-42")

	if err := s.SignIn(ctx, "r1", "alice", "typed-anyway", false); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if got := s.State("r1"); got != StatePendingSignIn {
		t.Fatalf("expected pending, got %s", got)
	}
	cmds.mu.Lock()
	if len(cmds.sent) != 1 || cmds.sent[0].Type != proto.TypeSigninRoom || cmds.sent[0].Pass != "" {
		t.Fatalf("a stored token should be resumed without a password: %+v", cmds.sent)
	}
	cmds.mu.Unlock()

	s.Handle(event(t, proto.TypeSigninReply, proto.ReplyData{RoomRef: ref("r1")}))

	if got := s.State("r1"); got != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", got)
	}
	if _, ok := tokens.RoomToken(ctx, "r1"); ok {
		t.Fatalf("rejected sign-in must not leave a token behind")
	}
	if len(*notices) != 1 || (*notices)[0].Kind != NoticePasswordRequired {
		t.Fatalf("unexpected notices: %v", *notices)
	}
}
func TestOwnerRoomsAreNotParticipantRooms(t *testing.T) {
	s, _, tokens, _ := newTestStore(t)
	s.IsOwner = func(roomID string) bool { return roomID == "mine" }

	s.Handle(event(t, proto.TypeSigninReply, proto.ReplyData{RoomRef: ref("mine"), Token: "t"}))

	if p := tokens.Participant(context.Background()); len(p) != 0 {
		t.Fatalf("owned room should not be a participant room: %v", p)
	}
}

func TestSignInRequiresNickname(t *testing.T) {
	s, cmds, _, _ := newTestStore(t)

	err := s.SignIn(context.Background(), "r1", "", "", true)
	if !errors.Is(err, ErrNoNickname) {
		t.Fatalf("expected ErrNoNickname, got %v", err)
	}
	if len(cmds.types()) != 0 {
		t.Fatalf("nothing should be sent without a nickname")
	}
}

func TestSignInDroppedLeavesStateUnchanged(t *testing.T) {
	s, cmds, _, _ := newTestStore(t)
	cmds.drop = true

	err := s.SignIn(context.Background(), "r1", "alice", "", true)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, ok := s.Session("r1"); ok {
		t.Fatalf("dropped sign-in must not create a session")
	}
	if s.Active() != "" {
		t.Fatalf("dropped sign-in must not open the room")
	}
}

func TestResumeUsesStoredToken(t *testing.T) {
	s, cmds, tokens, notices := newTestStore(t)
	ctx := context.Background()
	_ = tokens.SetRoomToken(ctx, "r1", "tok-1")

	if err := s.SignIn(ctx, "r1", "alice", "", false); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if got := cmds.types(); !equalStrings(got, []string{"signinRoom:r1"}) {
		t.Fatalf("expected a sign-in resuming the token, got %v", got)
	}

	reply := event(t, proto.TypeSigninReply, proto.ReplyData{RoomRef: ref("r1"), Token: "tok-1"})
	s.Handle(reply)
	s.Handle(reply)

	sess, ok := s.Session("r1")
	if !ok || sess.State != StateAuthenticated || sess.Token != "tok-1" {
		t.Fatalf("unexpected session after resume: %+v", sess)
	}
	if tok, _ := tokens.RoomToken(ctx, "r1"); tok != "tok-1" {
		t.Fatalf("resume must keep the stored token, got %q", tok)
	}
	// A repeated affirmative reply changes nothing further.
	if len(*notices) != 1 {
		t.Fatalf("expected exactly one signed-in notice, got %v", *notices)
	}
	if got := cmds.types(); !equalStrings(got, []string{"signinRoom:r1", "roomState:r1"}) {
		t.Fatalf("unexpected commands %v", got)
	}
}
func TestSignStateFalsePurges(t *testing.T) {
	s, _, tokens, notices := newTestStore(t)
	ctx := context.Background()
	_ = tokens.SetRoomToken(ctx, "r1", "tok-1")
	_ = tokens.SetRoomToken(ctx, "r2", "tok-2")

	s.Revalidate(ctx)
	s.Handle(event(t, proto.TypeSignState, proto.SignStateReply{RoomRef: ref("r1"), Authenticated: true}))
	if s.State("r1") != StateAuthenticated {
		t.Fatalf("valid token should mark r1 resumable")
	}
	s.Handle(event(t, proto.TypeSignState, proto.SignStateReply{RoomRef: ref("r1"), Authenticated: false}))
	s.Handle(event(t, proto.TypeSignState, proto.SignStateReply{RoomRef: ref("r2"), Authenticated: false}))

	if _, ok := tokens.RoomToken(ctx, "r1"); ok {
		t.Fatalf("r1 token should be purged")
	}
	if _, ok := tokens.RoomToken(ctx, "r2"); ok {
		t.Fatalf("r2 token should be purged")
	}
	if _, ok := s.Session("r1"); ok {
		t.Fatalf("r1 session should be dropped")
	}
	if len(*notices) != 0 {
		t.Fatalf("background revalidation must not raise notices: %v", *notices)
	}
}

func TestSignStateDuringSignInIsLeftToReply(t *testing.T) {
	s, _, tokens, notices := newTestStore(t)
	ctx := context.Background()
	_ = tokens.SetRoomToken(ctx, "r1", "tok-1")

	_ = s.SignIn(ctx, "r1", "alice", "", false)
	s.Handle(event(t, proto.TypeSignState, proto.SignStateReply{RoomRef: ref("r1"), Authenticated: true}))
	if got := s.State("r1"); got != StatePendingSignIn {
		t.Fatalf("revalidation must not settle a pending sign-in, got %s", got)
	}

	s.Handle(event(t, proto.TypeSignState, proto.SignStateReply{RoomRef: ref("r1"), Authenticated: false}))
	if _, ok := tokens.RoomToken(ctx, "r1"); ok {
		t.Fatalf("stale token should be purged")
	}
	if got := s.State("r1"); got != StatePendingSignIn || len(*notices) != 0 {
		t.Fatalf("sign-in reply decides the outcome, state=%s notices=%v", got, *notices)
	}

	s.Handle(event(t, proto.TypeSigninReply, proto.ReplyData{RoomRef: ref("r1"), Token: "tok-2"}))
	if tok, _ := tokens.RoomToken(ctx, "r1"); tok != "tok-2" || s.State("r1") != StateAuthenticated {
		t.Fatalf("fresh token should be persisted, got %q", tok)
	}
}
func TestSignOutReplyPurges(t *testing.T) {
	s, cmds, tokens, notices := newTestStore(t)
	ctx := context.Background()

	_ = s.SignIn(ctx, "r1", "alice", "pw", false)
	s.Handle(event(t, proto.TypeSigninReply, proto.ReplyData{RoomRef: ref("r1"), Token: "tok"}))
	cmds.reset()

	if err := s.SignOut(ctx, "r1", ""); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	cmds.mu.Lock()
	if len(cmds.sent) != 1 || cmds.sent[0].Nick != "alice" {
		t.Fatalf("sign-out should carry the session nickname: %+v", cmds.sent)
	}
	cmds.mu.Unlock()

	s.Handle(event(t, proto.TypeSignoutReply, proto.ReplyData{RoomRef: ref("r1")}))

	if _, ok := tokens.RoomToken(ctx, "r1"); ok {
		t.Fatalf("token should be purged after sign-out")
	}
	if p := tokens.Participant(ctx); len(p) != 0 {
		t.Fatalf("participant list should be empty, got %v", p)
	}
	if s.Active() != "" {
		t.Fatalf("signed-out room should no longer be open")
	}
	if s.State("r1") != StateLeft {
		t.Fatalf("expected left, got %s", s.State("r1"))
	}
	last := (*notices)[len(*notices)-1]
	if last.Kind != NoticeSignedOut {
		t.Fatalf("expected signed-out notice, got %v", last)
	}
}

func TestSwitchingRoomsSignsOutFirst(t *testing.T) {
	s, cmds, _, _ := newTestStore(t)
	ctx := context.Background()

	_ = s.SignIn(ctx, "r1", "alice", "", true)
	_ = s.SignIn(ctx, "r2", "alice", "", true)

	want := []string{"signinRoom:r1", "signoutRoom:r1", "signinRoom:r2"}
	if got := cmds.types(); !equalStrings(got, want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	if s.Active() != "r2" {
		t.Fatalf("expected r2 open, got %q", s.Active())
	}

	// Re-opening the same room does not sign out.
	cmds.reset()
	_ = s.SignIn(ctx, "r2", "alice", "", true)
	if got := cmds.types(); !equalStrings(got, []string{"signinRoom:r2"}) {
		t.Fatalf("unexpected commands %v", got)
	}
}

func TestOccupancyIsPerRoom(t *testing.T) {
	s, _, _, notices := newTestStore(t)
	ctx := context.Background()

	_ = s.SignIn(ctx, "r1", "alice", "", true)
	s.Handle(event(t, proto.TypeRoomState, proto.OccupancyData{RoomRef: ref("r1"), Users: 2}))
	s.Handle(event(t, proto.TypeSigninRoom, proto.MembershipData{RoomRef: ref("r2"), Nickname: "bob", Users: intPtr(3)}))

	if n, _ := s.DisplayedOccupancy(); n != 2 {
		t.Fatalf("displayed occupancy should stay 2, got %d", n)
	}
	if n, ok := s.Occupancy("r2"); !ok || n != 3 {
		t.Fatalf("r2 occupancy should be recorded as 3, got %d %v", n, ok)
	}
	if len(*notices) != 0 {
		t.Fatalf("other rooms must not raise notices: %v", *notices)
	}

	s.Handle(event(t, proto.TypeSigninRoom, proto.MembershipData{RoomRef: ref("r1"), Nickname: "carol"}))
	if n, _ := s.DisplayedOccupancy(); n != 3 {
		t.Fatalf("join without count should increment, got %d", n)
	}
	s.Handle(event(t, proto.TypeSignoutRoom, proto.MembershipData{RoomRef: ref("r1"), Nickname: "alice", Users: intPtr(2)}))
	if n, _ := s.DisplayedOccupancy(); n != 2 {
		t.Fatalf("expected 2 after leave, got %d", n)
	}

	if len(*notices) != 1 || (*notices)[0].Kind != NoticeJoined || (*notices)[0].Nickname != "carol" {
		t.Fatalf("expected one joined notice for carol, got %v", *notices)
	}
}

func TestRoomsStateReplacesOccupancy(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	s.Handle(event(t, proto.TypeRoomState, proto.OccupancyData{RoomRef: ref("old"), Users: 9}))
	s.Handle(event(t, proto.TypeRoomsState, proto.RoomsOccupancy{Rooms: []proto.OccupancyData{
		{RoomRef: ref("a"), Users: 1},
		{RoomRef: proto.RoomRef{RoomID: "b"}, Users: 4},
	}}))

	if _, ok := s.Occupancy("old"); ok {
		t.Fatalf("rooms state should replace the whole map")
	}
	if n, _ := s.Occupancy("b"); n != 4 {
		t.Fatalf("expected b=4, got %d", n)
	}
}

func TestRemovedActiveRoomIsClosed(t *testing.T) {
	s, _, tokens, notices := newTestStore(t)
	ctx := context.Background()

	_ = s.SignIn(ctx, "r1", "alice", "", true)
	s.Handle(event(t, proto.TypeSigninReply, proto.ReplyData{RoomRef: ref("r1"), Token: "tok"}))
	s.Handle(event(t, proto.TypeUpdateRoom, proto.Room{ID: "r1", Name: "renamed"}))
	s.Handle(event(t, proto.TypeRemoveRoom, proto.RemoveRoomData{RoomRef: ref("r1")}))

	if s.Active() != "" {
		t.Fatalf("removed room should be closed")
	}
	if _, ok := tokens.RoomToken(ctx, "r1"); ok {
		t.Fatalf("removed room token should be purged")
	}
	var kinds []NoticeKind
	for _, n := range *notices {
		kinds = append(kinds, n.Kind)
	}
	if len(kinds) != 3 || kinds[1] != NoticeRoomUpdated || kinds[2] != NoticeRoomRemoved {
		t.Fatalf("unexpected notice kinds %v", kinds)
	}
}

func TestRevalidateQueriesEveryStoredRoom(t *testing.T) {
	s, cmds, tokens, _ := newTestStore(t)
	ctx := context.Background()
	_ = tokens.SetRoomToken(ctx, "r1", "a")
	_ = tokens.SetRoomToken(ctx, "r2", "b")

	if n := s.Revalidate(ctx); n != 2 {
		t.Fatalf("expected 2 queries, got %d", n)
	}
	if got := cmds.types(); !equalStrings(got, []string{"signState:r1", "signState:r2"}) {
		t.Fatalf("unexpected commands %v", got)
	}

	// A background revalidation reply does not open a room.
	s.Handle(event(t, proto.TypeSignState, proto.SignStateReply{RoomRef: ref("r1"), Authenticated: true}))
	if s.Active() != "" || s.State("r1") != StateAuthenticated {
		t.Fatalf("unexpected state active=%q r1=%s", s.Active(), s.State("r1"))
	}
}

func TestMalformedPayloadIsIgnored(t *testing.T) {
	s, _, _, notices := newTestStore(t)
	changes := 0
	s.OnChange(func() { changes++ })

	s.Handle(core.Event{Kind: core.EventSigninReply, Type: proto.TypeSigninReply, Payload: []byte(`{"_id":`)})
	s.Handle(core.Event{Kind: core.EventSignState, Type: proto.TypeSignState})

	if changes != 0 || len(*notices) != 0 {
		t.Fatalf("malformed events must not change state")
	}
}
