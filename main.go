package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lanshare/lanshare_server/internal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	pretty   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lanshare",
		Short: "Share files across the local network",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default files/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level, overrides log.level")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "human readable console logs")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), config)
		},
	}
	rootCmd.AddCommand(serveCmd)

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Reclaim abandoned uploads once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return cleanup(cmd.Context(), config)
		},
	}
	rootCmd.AddCommand(cleanupCmd)

	// Running without a subcommand serves.
	rootCmd.RunE = serveCmd.RunE

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func loadConfig() (*internal.Config, error) {
	config, err := internal.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	applyLogConfig(config.Log)
	return config, nil
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// applyLogConfig applies the config file's log section unless flags already
// decided.
func applyLogConfig(config internal.LogConfig) {
	levelName := config.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || levelName == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Pretty && !pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
