package roomlist

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/rest"
)

// Fetcher loads room lists over REST.
type Fetcher interface {
	PublicRooms(ctx context.Context) ([]proto.Room, error)
	PrivateRooms(ctx context.Context) ([]proto.Room, error)
}

// Kinds are the events a Directory consumes.
var Kinds = []core.EventKind{core.EventAddRoom, core.EventUpdateRoom, core.EventRemoveRoom}

// Directory holds the public and private room lists and keeps them current
// from room broadcasts.
type Directory struct {
	fetcher Fetcher
	log     *zerolog.Logger

	mu       sync.RWMutex
	public   []proto.Room
	private  []proto.Room
	loadErr  error
	onChange func()
}

// New creates an empty directory.
func New(fetcher Fetcher, logger *zerolog.Logger) *Directory {
	return &Directory{fetcher: fetcher, log: logger}
}

// OnChange registers a callback run after every list mutation.
func (d *Directory) OnChange(fn func()) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// Load replaces both lists from REST. A 404 means an empty list; any other
// failure is kept in LoadError so the caller can offer a retry.
func (d *Directory) Load(ctx context.Context, includePrivate bool) error {
	public, err := d.fetch(ctx, d.fetcher.PublicRooms)
	var private []proto.Room
	if err == nil && includePrivate {
		private, err = d.fetch(ctx, d.fetcher.PrivateRooms)
	}

	d.mu.Lock()
	d.loadErr = err
	if err == nil {
		d.public, d.private = public, private
	}
	d.mu.Unlock()

	if err != nil {
		d.log.Warn().Err(err).Msg("load room lists")
		return err
	}
	d.changed()
	return nil
}

func (d *Directory) fetch(ctx context.Context, f func(context.Context) ([]proto.Room, error)) ([]proto.Room, error) {
	rooms, err := f(ctx)
	if errors.Is(err, rest.ErrNotFound) {
		return nil, nil
	}
	return rooms, err
}

// LoadError returns the last retryable load failure, or nil.
func (d *Directory) LoadError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadErr
}

// Public returns a copy of the public room list.
func (d *Directory) Public() []proto.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]proto.Room(nil), d.public...)
}

// Private returns a copy of the private room list.
func (d *Directory) Private() []proto.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]proto.Room(nil), d.private...)
}

// Find looks a room up in both lists.
func (d *Directory) Find(id string) (proto.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := indexOf(d.public, id); i >= 0 {
		return d.public[i], true
	}
	if i := indexOf(d.private, id); i >= 0 {
		return d.private[i], true
	}
	return proto.Room{}, false
}

// Handle applies one room broadcast.
func (d *Directory) Handle(ev core.Event) {
	switch ev.Kind {
	case core.EventAddRoom, core.EventUpdateRoom:
		var room proto.Room
		if err := ev.Decode(&room); err != nil || room.ID == "" {
			d.log.Warn().Err(err).Str("event_id", ev.ID).Msg("malformed room broadcast")
			return
		}
		if ev.Kind == core.EventAddRoom {
			d.add(room)
		} else {
			d.update(room)
		}
	case core.EventRemoveRoom:
		var data proto.RemoveRoomData
		if err := ev.Decode(&data); err != nil || data.Room() == "" {
			d.log.Warn().Err(err).Str("event_id", ev.ID).Msg("malformed room removal")
			return
		}
		d.remove(data.Room())
	default:
		return
	}
	d.changed()
}

// add is idempotent by id.
func (d *Directory) add(room proto.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if indexOf(d.public, room.ID) >= 0 || indexOf(d.private, room.ID) >= 0 {
		return
	}
	if room.Public {
		d.public = append(d.public, room)
	} else {
		d.private = append(d.private, room)
	}
}

// update replaces a room in place, moving it when its visibility changed.
func (d *Directory) update(room proto.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	target, other := &d.private, &d.public
	if room.Public {
		target, other = &d.public, &d.private
	}
	if i := indexOf(*target, room.ID); i >= 0 {
		(*target)[i] = room
		return
	}
	if i := indexOf(*other, room.ID); i >= 0 {
		*other = append((*other)[:i], (*other)[i+1:]...)
		*target = append(*target, room)
	}
}

func (d *Directory) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := indexOf(d.public, id); i >= 0 {
		d.public = append(d.public[:i], d.public[i+1:]...)
	}
	if i := indexOf(d.private, id); i >= 0 {
		d.private = append(d.private[:i], d.private[i+1:]...)
	}
}

func (d *Directory) changed() {
	d.mu.RLock()
	fn := d.onChange
	d.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func indexOf(rooms []proto.Room, id string) int {
	for i := range rooms {
		if rooms[i].ID == id {
			return i
		}
	}
	return -1
}
