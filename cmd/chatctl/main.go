package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/chatctl/internal/chat"
	"github.com/user/chatctl/internal/config"
	"github.com/user/chatctl/internal/output"
	"github.com/user/chatctl/internal/selection"
	"github.com/user/chatctl/internal/state"
	"github.com/user/chatctl/internal/title"
	"github.com/user/chatctl/pkg/chatapi"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Terminal client for the chat backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func newPrinter(cfg *config.Config) *output.Printer {
	mode, err := output.ParseColorMode(cfg.UI.Color)
	if err != nil {
		slog.Warn("ignoring ui.color", "error", err)
	}
	return output.NewPrinter(output.ResolveColors(mode))
}

var _ chat.Notifier = output.Notices{}

// app is the wired client shared by every command.
type app struct {
	cfg     *config.Config
	printer *output.Printer
	store   state.Store
	session *chat.ClientSession
	client  *chatapi.Client
	sel     *selection.Synchronizer
	ctrl    *chat.Controller
}

func openApp(ctx context.Context) (*app, error) {
	cfg := loadConfig()
	setupLogging(cfg)
	printer := newPrinter(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := state.Open(cfg.State.Driver, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	session, err := chat.NewClientSession(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	client := chatapi.New(chatapi.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.Timeout(),
		Token:   session.Token,
	})
	sel := selection.New(client, store)

	prompts, err := title.New(cfg.Locale, title.DefaultMaxInputTokens)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create title builder: %w", err)
	}
	ctrl, err := chat.New(chat.Deps{
		Conversations: client,
		Messages:      client,
		Streams:       client,
		Settings:      client,
		Titles:        client,
		Session:       session,
		Selection:     sel,
		Notifier:      output.Notices{P: printer},
		Prompts:       prompts,
		Locale:        cfg.Locale,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	// A token from config or env wins over the stored one.
	if cfg.API.Token != "" && cfg.API.Token != session.Token() {
		if _, err := session.SetToken(ctx, cfg.API.Token); err != nil {
			store.Close()
			return nil, fmt.Errorf("apply configured token: %w", err)
		}
	}

	slog.Debug("chatctl ready",
		"base_url", cfg.API.BaseURL,
		"state_driver", cfg.State.Driver,
		"identity", session.Identity(),
	)
	return &app{
		cfg:     cfg,
		printer: printer,
		store:   store,
		session: session,
		client:  client,
		sel:     sel,
		ctrl:    ctrl,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("closing state store", "error", err)
	}
}

// withApp runs fn against a freshly opened app.
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, args)
	}
}
