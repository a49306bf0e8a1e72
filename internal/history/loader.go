package history

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/rest"
)

// DefaultPageSize is the number of messages fetched per page.
const DefaultPageSize = 20

// ErrNoRoom is returned when paging without an open room.
var ErrNoRoom = core.NewError(core.ErrCodeSession, "no room open")

// Fetcher loads one page of a room's history.
type Fetcher interface {
	Messages(ctx context.Context, roomID string, page, limit int) ([]core.Message, error)
}

// Kinds are the events a Loader consumes.
var Kinds = []core.EventKind{core.EventChat}

// Loader is the message window of the open room: page 1 on open, older
// pages prepended on demand, live chat appended.
//
// A fetch in flight is never cancelled. Each Open bumps a generation and a
// result is dropped if the generation moved while it was loading.
type Loader struct {
	fetch    Fetcher
	pageSize int
	log      *zerolog.Logger

	mu        sync.Mutex
	view      Viewport
	roomID    string
	gen       uint64
	items     []core.Message
	seen      map[string]struct{}
	page      int
	exhausted bool
	loading   bool
	err       error
	onChange  []func()
}

// New creates a loader with no room open.
func New(fetcher Fetcher, pageSize int, logger *zerolog.Logger) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{
		fetch:    fetcher,
		pageSize: pageSize,
		log:      logger,
		seen:     make(map[string]struct{}),
	}
}

// SetViewport attaches the rendered list. Without one, scroll handling is skipped.
func (l *Loader) SetViewport(v Viewport) {
	l.mu.Lock()
	l.view = v
	l.mu.Unlock()
}

// OnChange registers a callback run after the window changes.
func (l *Loader) OnChange(fn func()) {
	l.mu.Lock()
	l.onChange = append(l.onChange, fn)
	l.mu.Unlock()
}

// Open discards the current window and loads page 1 of roomID. Live
// messages that arrive while the page loads are kept and merged with it.
func (l *Loader) Open(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrNoRoom
	}

	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.roomID = roomID
	l.items = nil
	l.seen = make(map[string]struct{})
	l.page = 0
	l.exhausted = false
	l.loading = true
	l.err = nil
	l.render(true)
	l.mu.Unlock()

	l.log.Debug().Str("room_id", roomID).Int("page", 1).Msg("loading history")
	msgs, err := l.fetch.Messages(ctx, roomID, 1, l.pageSize)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		l.log.Debug().Str("room_id", roomID).Msg("dropping stale history page")
		return nil
	}
	l.loading = false

	switch {
	case errors.Is(err, rest.ErrNotFound):
		l.exhausted = true
	case err != nil:
		l.err = err
		l.mu.Unlock()
		l.log.Error().Err(err).Str("room_id", roomID).Msg("load history")
		l.changed()
		return err
	case len(msgs) == 0:
		l.exhausted = true
	}

	l.page = 1
	live := l.items
	l.items = nil
	l.seen = make(map[string]struct{})
	l.items = l.merge(nil, msgs, roomID)
	l.items = l.merge(l.items, live, roomID)
	core.SortMessages(l.items)
	l.render(true)
	n := len(l.items)
	l.mu.Unlock()

	l.log.Info().Str("room_id", roomID).Int("messages", n).Msg("history loaded")
	l.changed()
	return nil
}

// LoadOlder fetches the next older page and prepends it, keeping the top
// visible message in place. After a failed Open it retries page 1. It is a
// no-op while a fetch is in flight and after the history is exhausted. It
// reports how many messages were added.
func (l *Loader) LoadOlder(ctx context.Context) (int, error) {
	l.mu.Lock()
	if l.roomID == "" {
		l.mu.Unlock()
		return 0, ErrNoRoom
	}
	if l.loading || l.exhausted {
		l.mu.Unlock()
		return 0, nil
	}
	l.loading = true
	gen, roomID, next := l.gen, l.roomID, l.page+1
	l.mu.Unlock()

	l.log.Debug().Str("room_id", roomID).Int("page", next).Msg("loading older history")
	msgs, err := l.fetch.Messages(ctx, roomID, next, l.pageSize)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return 0, nil
	}
	l.loading = false

	switch {
	case errors.Is(err, rest.ErrNotFound):
		l.exhausted = true
		l.mu.Unlock()
		l.changed()
		return 0, nil
	case err != nil:
		l.err = err
		l.mu.Unlock()
		l.log.Error().Err(err).Str("room_id", roomID).Int("page", next).Msg("load older history")
		l.changed()
		return 0, err
	case len(msgs) == 0:
		l.exhausted = true
		l.mu.Unlock()
		l.log.Debug().Str("room_id", roomID).Msg("history exhausted")
		l.changed()
		return 0, nil
	}

	l.page = next
	l.err = nil
	before := len(l.items)
	older := l.merge(nil, msgs, roomID)
	core.SortMessages(older)
	l.items = append(older, l.items...)
	added := len(l.items) - before

	if l.view != nil {
		height, offset := l.view.ContentHeight(), l.view.ScrollOffset()
		l.view.Render(l.items)
		l.view.SetScrollOffset(offset + l.view.ContentHeight() - height)
	}
	l.mu.Unlock()

	l.changed()
	return added, nil
}

// Handle appends live chat for the open room. The view follows the new
// message only if it was already at the bottom.
func (l *Loader) Handle(ev core.Event) {
	if ev.Kind != core.EventChat {
		return
	}
	var chat proto.ChatEvent
	if err := ev.Decode(&chat); err != nil {
		l.log.Warn().Err(err).Str("event_id", ev.ID).Msg("malformed chat payload")
		return
	}

	if chat.RoomID == "" {
		l.log.Warn().Str("event_id", ev.ID).Msg("chat without room id, dropping")
		return
	}

	l.mu.Lock()
	if l.roomID == "" || chat.RoomID != l.roomID {
		l.mu.Unlock()
		return
	}
	if _, dup := l.seen[chat.ID]; dup && chat.ID != "" {
		l.mu.Unlock()
		return
	}
	follow := l.view == nil || l.view.AtBottom()
	l.items = l.merge(l.items, []core.Message{core.MessageFromChat(chat)}, l.roomID)
	l.render(follow)
	l.mu.Unlock()

	l.changed()
}

// Close drops the window. Pending fetches resolve into nothing.
func (l *Loader) Close() {
	l.mu.Lock()
	l.gen++
	l.roomID = ""
	l.items = nil
	l.seen = make(map[string]struct{})
	l.page = 0
	l.loading = false
	l.exhausted = false
	l.err = nil
	l.render(true)
	l.mu.Unlock()
	l.changed()
}

// Room returns the open room id.
func (l *Loader) Room() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roomID
}

// Items returns a copy of the window, oldest first.
func (l *Loader) Items() []core.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Message(nil), l.items...)
}

// Page returns the last page loaded.
func (l *Loader) Page() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.page
}

// Exhausted reports whether older history ran out.
func (l *Loader) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exhausted
}

// Loading reports whether a fetch is in flight.
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Err returns the last load error; cleared by a successful load.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// merge appends msgs not seen before to dst.
func (l *Loader) merge(dst, msgs []core.Message, roomID string) []core.Message {
	for _, m := range msgs {
		if m.ID != "" {
			if _, dup := l.seen[m.ID]; dup {
				continue
			}
			l.seen[m.ID] = struct{}{}
		}
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		dst = append(dst, m)
	}
	return dst
}

func (l *Loader) render(bottom bool) {
	if l.view == nil {
		return
	}
	l.view.Render(l.items)
	if bottom {
		l.view.ScrollToBottom()
	}
}

func (l *Loader) changed() {
	l.mu.Lock()
	fns := append([]func(){}, l.onChange...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
