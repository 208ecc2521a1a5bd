// Package cmd holds the pulse command line: the hub server and its
// operator helpers.
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/Pulse/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "real-time signaling and presence hub",
	Long: `Pulse keeps websocket connections for users, conversations and live
streams. It relays chat, typing, reactions and WebRTC signaling between
room members and tracks who is present where.

Run without a subcommand to start the server. The config file is chosen by
CONFIG_ENV (config/config.<env>.yaml), PULSE_* variables override it.`,
	SilenceUsage: true,
	RunE:         serve,
}

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "start the hub (default)",
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	setupLogging(config.Log{Level: "info", Format: "console"})
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Str("module", "main").Msg("failed to load config")
		return err
	}
	setupLogging(cfg.Log)
	return run(ctx, cfg)
}

// setupLogging configures the global zerolog logger. Console output is for
// terminals; anything else writes JSON lines.
func setupLogging(l config.Log) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if l.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
