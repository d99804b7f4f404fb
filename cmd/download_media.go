package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tgbridge/internal/channels/telegram"
	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

func downloadMediaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download-media <file_id>",
		Short: "Download a file referenced as [file_id:...] and print its local path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := resolvePaths()
			cfg := config.LoadOrDefault(paths.ConfigFile)
			if cfg.BotToken == "" {
				return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set (env or %s)", paths.EnvFile())
			}
			tg, err := telegram.New(telegram.Config{Token: cfg.BotToken, Proxy: cfg.ProxyURL})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			path, err := tg.DownloadFile(ctx, args[0], paths.MediaDir())
			if err != nil {
				return fmt.Errorf("download %s: %w", args[0], err)
			}
			fmt.Println(path)
			return nil
		},
	}
}
