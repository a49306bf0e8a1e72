package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

var rootCmd = &cobra.Command{
	Use:           "wirechat-client",
	Short:         "Terminal client for wirechat rooms",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfig   string
	flagLogLevel string
	flagWSURL    string
	flagAPIURL   string
	flagNickname string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "config file (default ./wirechat-client.yaml)")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&flagWSURL, "ws-url", "", "websocket endpoint, overrides ws_url")
	flags.StringVar(&flagAPIURL, "api-url", "", "REST endpoint, overrides api_url")
	flags.StringVar(&flagNickname, "nickname", "", "display name used when joining rooms")

	rootCmd.AddCommand(chatCmd, roomsCmd, forgetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file and applies flag overrides on top.
func loadConfig() (config.Config, *zerolog.Logger, error) {
	level := flagLogLevel
	if level == "" {
		level = "warn"
	}
	bootstrap := log.New(level)

	cfg, path, err := config.Load(bootstrap, flagConfig)
	if err != nil {
		return cfg, bootstrap, err
	}
	cfg.UpdateFrom(config.Config{
		WSURL:    flagWSURL,
		APIURL:   flagAPIURL,
		LogLevel: flagLogLevel,
		Nickname: flagNickname,
	})

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Str("ws_url", cfg.WSURL).Str("api_url", cfg.APIURL).Msg("configuration loaded")
	return cfg, logger, nil
}

// newApp builds the client without connecting it.
func newApp(ctx context.Context) (*app.App, *zerolog.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, logger, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, logger, err
	}
	return a, logger, nil
}
