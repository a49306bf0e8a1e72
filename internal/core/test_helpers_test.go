package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/log"
)

func pushRaw(t *testing.T, q *Queue, typ string, data any) Event {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", typ, err)
	}
	return q.Push(Event{Kind: KindFromWire(typ), Type: typ, Payload: raw})
}

func newTestDispatcher(q *Queue) *Dispatcher {
	return NewDispatcher(q, log.Nop())
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
