package core

import (
	"testing"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func TestQueuePushAssignsIDsAndOrder(t *testing.T) {
	q := NewQueue()

	a := pushRaw(t, q, proto.TypeChat, map[string]string{"id": "a"})
	b := pushRaw(t, q, proto.TypeChat, map[string]string{"id": "b"})

	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.Seq >= b.Seq {
		t.Fatalf("expected increasing seq, got %d then %d", a.Seq, b.Seq)
	}

	head, ok := q.PeekHead()
	if !ok || head.ID != a.ID {
		t.Fatalf("expected head %s, got %+v", a.ID, head)
	}
	if q.Len() != 2 {
		t.Fatalf("peek must not remove, len=%d", q.Len())
	}
}

func TestQueueAcknowledgeFromMiddle(t *testing.T) {
	q := NewQueue()

	a := pushRaw(t, q, proto.TypeChat, nil)
	b := pushRaw(t, q, proto.TypeRoomState, nil)
	c := pushRaw(t, q, proto.TypeChat, nil)

	if !q.Acknowledge(b.ID) {
		t.Fatalf("expected to acknowledge middle event")
	}
	if q.Acknowledge(b.ID) {
		t.Fatalf("acknowledged event must not be found twice")
	}

	got := q.Snapshot()
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != c.ID {
		t.Fatalf("unexpected queue after ack: %+v", got)
	}
}

func TestQueueNotifyCoalesces(t *testing.T) {
	q := NewQueue()
	pushRaw(t, q, proto.TypeChat, nil)
	pushRaw(t, q, proto.TypeChat, nil)

	select {
	case <-q.Notify():
	default:
		t.Fatalf("expected notification after push")
	}
	select {
	case <-q.Notify():
		t.Fatalf("notifications should coalesce")
	default:
	}
}

func TestKindFromWire(t *testing.T) {
	tests := []struct {
		typ  string
		want EventKind
	}{
		{proto.TypeSigninReply, EventSigninReply},
		{proto.TypeSignState, EventSignState},
		{proto.TypeUpdateRoomState, EventUpdateRoomState},
		{proto.TypeChat, EventChat},
		{"somethingElse", EventUnknown},
	}
	for _, tt := range tests {
		if got := KindFromWire(tt.typ); got != tt.want {
			t.Errorf("KindFromWire(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
	if EventChat.String() != proto.TypeChat {
		t.Errorf("unexpected String(): %s", EventChat.String())
	}
}
