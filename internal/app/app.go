package app

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/command"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/history"
	"github.com/vovakirdan/wirechat-client/internal/rest"
	"github.com/vovakirdan/wirechat-client/internal/roomlist"
	"github.com/vovakirdan/wirechat-client/internal/session"
	"github.com/vovakirdan/wirechat-client/internal/store"
	"github.com/vovakirdan/wirechat-client/internal/transport"
)

// ErrNotSignedIn is returned when sending to a room the user has not signed into.
var ErrNotSignedIn = core.NewError(core.ErrCodeSession, "not signed into the room")

// App wires storage, transport and the event consumers together.
type App struct {
	cfg config.Config
	log *zerolog.Logger

	backend    store.Backend
	Storage    *store.Session
	REST       *rest.Client
	Queue      *core.Queue
	Dispatcher *core.Dispatcher
	Conn       *transport.Connection
	Commands   *command.Encoder
	Rooms      *session.Store
	Directory  *roomlist.Directory
	History    *history.Loader

	mu       sync.Mutex
	userID   string
	cancel   context.CancelFunc
	done     chan struct{}
	onNotice []func(session.Notice)
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	backend, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	logger.Info().Str("driver", cfg.Storage.Driver).Str("path", cfg.Storage.Path).Msg("storage initialized")

	a := &App{
		cfg:     cfg,
		log:     logger,
		backend: backend,
		Storage: store.NewSession(backend, logger),
		Queue:   core.NewQueue(),
	}

	a.REST = rest.NewClient(cfg.APIURL, cfg.HTTPTimeout, func() string {
		return a.Storage.AuthToken(context.Background())
	})
	a.Dispatcher = core.NewDispatcher(a.Queue, logger)
	a.Conn = transport.New(transport.Options{
		URL:                  cfg.WSURL,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		WriteTimeout:         cfg.WriteTimeout,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectDelay:       cfg.Reconnect.Delay,
	}, a.Queue, logger)
	a.Commands = command.New(a.Conn, a.Storage, logger)
	a.Rooms = session.New(a.Commands, a.Storage, logger)
	a.Directory = roomlist.New(a.REST, logger)
	a.History = history.New(a.REST, cfg.History.PageSize, logger)

	a.Rooms.IsOwner = a.ownsRoom
	a.Dispatcher.Register("session", a.Rooms.Handle, session.Kinds...)
	a.Dispatcher.Register("roomlist", a.Directory.Handle, roomlist.Kinds...)
	a.Dispatcher.Register("history", a.History.Handle, history.Kinds...)
	a.Conn.OnStateChange(a.onStateChange)

	return a, nil
}

// Start loads the room directory, starts draining the queue and connects.
// A failed first dial is not fatal: the transport keeps retrying.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.Dispatcher.Run(runCtx)
	}()

	a.refreshAccount(ctx)
	if err := a.Directory.Load(ctx, a.UserID() != ""); err != nil {
		a.log.Warn().Err(err).Msg("room directory unavailable")
	}

	if err := a.Conn.Connect(ctx); err != nil {
		a.log.Warn().Err(err).Msg("initial connect failed, retrying in background")
	}
	return nil
}

// Run starts the app and blocks until ctx is cancelled, then tears down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.Close()
	return nil
}

// Close closes the socket, stops the dispatcher and closes storage.
func (a *App) Close() {
	if err := a.Conn.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close connection")
	}

	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	if err := a.backend.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close storage")
	} else {
		a.log.Info().Msg("storage closed")
	}
}

// OnNotice registers a callback for transient notices, including the
// terminal unreachable notice.
func (a *App) OnNotice(fn func(session.Notice)) {
	a.mu.Lock()
	a.onNotice = append(a.onNotice, fn)
	a.mu.Unlock()
	a.Rooms.OnNotice(fn)
}

// Nickname returns the display name: configured first, then stored.
func (a *App) Nickname(ctx context.Context) string {
	a.mu.Lock()
	nick := a.cfg.Nickname
	a.mu.Unlock()
	if nick != "" {
		return nick
	}
	return a.Storage.Nickname(ctx)
}

// SetNickname persists the display name and uses it from now on.
func (a *App) SetNickname(ctx context.Context, nickname string) error {
	a.mu.Lock()
	a.cfg.Nickname = nickname
	a.mu.Unlock()
	return a.Storage.SetNickname(ctx, nickname)
}

// UserID returns the account id behind the stored account token, if any.
func (a *App) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

// SignInAccount authenticates over REST, stores the account token and
// reconnects on the private channel.
func (a *App) SignInAccount(ctx context.Context, username, password string) error {
	u, err := a.REST.SignIn(ctx, rest.Credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	if err := a.Storage.SetAuthToken(ctx, u.Token); err != nil {
		return err
	}
	if a.Storage.Nickname(ctx) == "" {
		_ = a.Storage.SetNickname(ctx, u.Username)
	}
	a.refreshAccount(ctx)
	if err := a.Directory.Load(ctx, true); err != nil {
		a.log.Warn().Err(err).Msg("room directory unavailable")
	}
	return a.Reconnect(ctx)
}

// JoinRoom signs into roomID (resuming with a stored token when there is
// one) and opens its history window. A history failure is left on
// History.Err for a retry and does not fail the join.
func (a *App) JoinRoom(ctx context.Context, roomID, password string) error {
	public := password == ""
	if r, ok := a.Directory.Find(roomID); ok {
		public = r.Public
	}

	if err := a.Rooms.SignIn(ctx, roomID, a.Nickname(ctx), password, public); err != nil {
		return err
	}
	if err := a.History.Open(ctx, roomID); err != nil {
		a.log.Warn().Err(err).Str("room_id", roomID).Msg("history unavailable")
	}
	return nil
}

// LeaveRoom signs out of the open room and closes its window.
func (a *App) LeaveRoom(ctx context.Context) error {
	roomID := a.Rooms.Active()
	if roomID == "" {
		return history.ErrNoRoom
	}
	if err := a.Rooms.SignOut(ctx, roomID, a.Nickname(ctx)); err != nil {
		return err
	}
	a.History.Close()
	return nil
}

// SendMessage posts content to the open room. It fails rather than drop
// silently when the transport is down or the room is not signed in.
func (a *App) SendMessage(ctx context.Context, content string) error {
	roomID := a.Rooms.Active()
	if roomID == "" {
		return history.ErrNoRoom
	}
	if a.Rooms.State(roomID) != session.StateAuthenticated {
		return ErrNotSignedIn
	}
	if !a.Conn.Connected() {
		return session.ErrNotConnected
	}
	ok := a.Commands.Chat(ctx, command.Chat{
		RoomID:   roomID,
		Content:  content,
		Nickname: a.Nickname(ctx),
		UserID:   a.UserID(),
	})
	if !ok {
		return session.ErrNotConnected
	}
	return nil
}

// LoadOlder pages older history into the open window.
func (a *App) LoadOlder(ctx context.Context) (int, error) {
	return a.History.LoadOlder(ctx)
}

// Reconnect re-initialises the connection with a fresh retry budget.
func (a *App) Reconnect(ctx context.Context) error {
	return a.Conn.Connect(ctx)
}

// Forget drops stored room tokens: one room, or all when roomID is empty.
func (a *App) Forget(ctx context.Context, roomID string) error {
	if roomID == "" {
		return a.Storage.ClearRooms(ctx)
	}
	_, err := a.Storage.ClearRoomToken(ctx, roomID)
	return err
}

func (a *App) onStateChange(ev transport.StateEvent) {
	a.log.Debug().Str("from", ev.Old.String()).Str("to", ev.New.String()).Int("attempt", ev.Attempt).Msg("connection state")

	switch ev.New {
	case transport.StatusOpen:
		ctx := context.Background()
		a.refreshAccount(ctx)
		a.mu.Lock()
		uid := a.userID
		a.mu.Unlock()

		token := ""
		if uid != "" {
			token = a.Storage.AuthToken(ctx)
		}
		a.Commands.Connect(token)
		a.Rooms.Revalidate(ctx)
		a.Commands.RoomsState(uid)
	case transport.StatusUnreachable:
		a.log.Error().Err(ev.Err).Msg("server unreachable")
		a.notify(session.Notice{Kind: session.NoticeUnreachable})
	}
}

// refreshAccount derives the user id from the stored account token. An
// expired token is dropped so the bootstrap falls back to the public channel.
func (a *App) refreshAccount(ctx context.Context) {
	token := a.Storage.AuthToken(ctx)
	uid := ""
	switch {
	case token == "":
	case auth.Expired(token, time.Now()):
		a.log.Info().Msg("stored account token expired")
		if err := a.Storage.ClearAuthToken(ctx); err != nil {
			a.log.Warn().Err(err).Msg("failed to clear account token")
		}
	default:
		if claims, err := auth.ParseClaims(token); err == nil {
			uid = claims.User()
		}
	}

	a.mu.Lock()
	a.userID = uid
	a.mu.Unlock()
}

func (a *App) ownsRoom(roomID string) bool {
	uid := a.UserID()
	if uid == "" {
		return false
	}
	r, ok := a.Directory.Find(roomID)
	return ok && r.OwnerID == uid
}

func (a *App) notify(n session.Notice) {
	a.mu.Lock()
	fns := slices.Clone(a.onNotice)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}
