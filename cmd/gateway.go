package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/tgbridge/internal/agent"
	"github.com/nextlevelbuilder/tgbridge/internal/channels/telegram"
	"github.com/nextlevelbuilder/tgbridge/internal/config"
	"github.com/nextlevelbuilder/tgbridge/internal/gateway"
	"github.com/nextlevelbuilder/tgbridge/internal/history"
	"github.com/nextlevelbuilder/tgbridge/internal/loopback"
	"github.com/nextlevelbuilder/tgbridge/internal/typing"
	"github.com/nextlevelbuilder/tgbridge/internal/usercache"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the bot (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	setupLogging()

	paths := resolvePaths()
	cfg := config.LoadOrDefault(paths.ConfigFile)
	if cfg.BotToken == "" {
		slog.Error("TELEGRAM_BOT_TOKEN is not set", "env_file", paths.EnvFile())
		os.Exit(1)
	}
	if cfg.IsFallback() {
		slog.Warn("config unreadable, running on defaults; changes will not be saved", "path", paths.ConfigFile)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tg, err := telegram.New(telegram.Config{Token: cfg.BotToken, Proxy: cfg.ProxyURL})
	if err != nil {
		slog.Error("failed to create telegram channel", "error", err)
		os.Exit(1)
	}
	if err := tg.Identify(ctx); err != nil {
		slog.Error("failed to reach telegram", "error", err)
		os.Exit(1)
	}

	users := usercache.New(paths.UserCacheFile())
	if err := users.Load(); err != nil {
		slog.Warn("user cache unreadable, starting empty", "error", err)
	}

	correlator := typing.New(paths.TypingDir(), tg)
	if err := correlator.Init(); err != nil {
		slog.Error("failed to prepare typing dir", "error", err)
		os.Exit(1)
	}

	store := history.NewStore(paths.LogsDir())

	recorder := loopback.NewServer(cfg.BotToken, store, loopback.LimitFromConfig(paths.ConfigFile))
	recorder.SetBotIdentity(tg.BotID(), tg.Username())

	dispatcher := gateway.New(gateway.Options{
		ConfigPath: paths.ConfigFile,
		MediaDir:   paths.MediaDir(),
		Transport:  tg,
		History:    store,
		Users:      users,
		Typing:     correlator,
		Agent:      agent.NewBridge(cfg.Bridge),

		MaxMessageLength: cfg.Features.MaxLength(),
	})
	dispatcher.SetBotUsername(tg.Username())

	slog.Info("tgbridge gateway starting",
		"version", Version,
		"bot", tg.Username(),
		"data_dir", paths.DataDir,
		"config", paths.ConfigFile,
		"owner_bound", cfg.Owner.ID != "",
		"group_policy", cfg.GroupPolicy,
		"internal_port", cfg.InternalPort,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Polling only ends on shutdown or a fatal error; either way stop the rest.
		defer stop()
		defer tg.Stop()
		return dispatcher.Run(gctx, tg)
	})
	g.Go(func() error {
		return correlator.Run(gctx)
	})
	g.Go(func() error {
		return recorder.ListenAndServe(gctx, cfg.InternalPort)
	})
	g.Go(func() error {
		users.Run(gctx, usercache.DefaultPersistInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("tgbridge gateway stopped")
}
