package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/vovakirdan/wirechat-client/internal/devserver"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

func main() {
	opts := devserver.DefaultOptions()
	level := "info"

	flag.StringVar(&opts.Addr, "addr", opts.Addr, "HTTP listen address (REST and /ws)")
	flag.StringVar(&opts.JWTSecret, "jwt-secret", opts.JWTSecret, "account token signing secret")
	flag.DurationVar(&opts.ReadHeaderTimeout, "read-header-timeout", opts.ReadHeaderTimeout, "HTTP read header timeout")
	flag.DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", opts.ShutdownTimeout, "graceful shutdown timeout")
	flag.IntVar(&opts.MessagesPerMinute, "rate-limit", opts.MessagesPerMinute, "inbound frames per minute per connection (0 disables)")
	flag.StringVar(&level, "log-level", level, "log level (debug, info, warn, error)")
	flag.Parse()

	logger := log.New(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := devserver.New(opts, logger)

	logger.Info().Str("addr", opts.Addr).Msg("starting wirechat dev server")
	if err := server.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}
