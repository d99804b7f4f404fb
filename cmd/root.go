package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/tgbridge/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tgbridge",
	Short: "tgbridge: Telegram to local agent bridge",
	Long:  "tgbridge relays Telegram chats to a local agent command and delivers the agent's replies back to the chat.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data-dir>/config.json or $TGBRIDGE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: ~/.tgbridge or $TGBRIDGE_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(downloadMediaCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tgbridge %s\n", Version)
		},
	}
}

// resolvePaths returns the data layout and loads <data>/.env so the token
// and proxy are visible to the config loader.
func resolvePaths() config.Paths {
	paths := config.ResolvePaths(dataDir, cfgFile)
	paths.LoadEnvFile()
	return paths
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
