// Package devserver is an in-memory wirechat server speaking the same REST
// and WebSocket protocol as the production backend. It backs local
// development and the client's integration tests.
package devserver

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
)

// Options configures a dev server.
type Options struct {
	Addr              string
	JWTSecret         string
	JWTIssuer         string
	TokenTTL          time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	// MessagesPerMinute caps inbound frames per connection; zero disables.
	MessagesPerMinute int
}

// DefaultOptions returns options for a local run.
func DefaultOptions() Options {
	return Options{
		Addr:              ":3000",
		JWTSecret:         "wirechat-dev-secret",
		JWTIssuer:         "wirechat-dev",
		TokenTTL:          24 * time.Hour,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MessagesPerMinute: 600,
	}
}

// Server is the dev server.
type Server struct {
	world   *World
	hub     *hub
	jwt     *auth.JWTConfig
	handler stdhttp.Handler
	opts    Options
	log     *zerolog.Logger
}

// New builds the router. Nothing listens until Run.
func New(opts Options, logger *zerolog.Logger) *Server {
	jwtCfg := &auth.JWTConfig{
		Secret: []byte(opts.JWTSecret),
		Issuer: opts.JWTIssuer,
		TTL:    opts.TokenTTL,
	}
	if jwtCfg.TTL == 0 {
		jwtCfg.TTL = 24 * time.Hour
	}

	s := &Server{
		world: NewWorld(),
		hub:   newHub(logger),
		jwt:   jwtCfg,
		opts:  opts,
		log:   logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := NewAPIHandlers(s.world, s.hub, jwtCfg, logger)
	authed := AuthMiddleware(jwtCfg, logger)

	user := router.Group("/user")
	user.POST("/signup", api.SignUp)
	user.POST("/signin", api.SignIn)
	user.GET("", authed, api.CurrentUser)
	user.DELETE("/delete", authed, api.DeleteAccount)

	room := router.Group("/room")
	room.GET("", api.PublicRooms)
	room.GET("/id/:id", api.PublicRoom)
	room.GET("/messages/:id", api.Messages)
	room.GET("/private", authed, api.PrivateRooms)
	room.GET("/private/:id", authed, api.PrivateRoom)
	room.POST("/create", authed, api.CreateRoom)
	room.PUT("/update/:id", authed, api.UpdateRoom)
	room.DELETE("/delete/:id", authed, api.DeleteRoom)

	// /ws stays outside gin: the upgrade must hijack an unwritten response.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(s.world, s.hub, jwtCfg, opts.MessagesPerMinute, logger))
	mux.Handle("/", router)

	s.handler = mux
	return s
}

// Handler returns the HTTP handler serving REST and /ws.
func (s *Server) Handler() stdhttp.Handler {
	return s.handler
}

// World exposes the server state for seeding fixtures.
func (s *Server) World() *World {
	return s.world
}

// IssueToken signs an account token, for fixtures.
func (s *Server) IssueToken(userID, username string) (string, error) {
	return auth.GenerateToken(s.jwt, userID, username)
}

// Run listens on opts.Addr and blocks until ctx is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	server := &stdhttp.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		s.log.Info().Msg("shutting down http server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}
