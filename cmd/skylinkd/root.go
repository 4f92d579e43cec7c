package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// configPath holds the optional YAML overlay file set via --config,
// layered on top of the envconfig-derived defaults (pkg/config.LoadFile).
var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "skylinkd",
		Short: "skylinkd",
		Long:  "Real-time video streaming and network-adaptation daemon for companion computers.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML file overlaying the environment-derived configuration")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command, logging a fatal error and exiting
// non-zero on failure.
func Execute() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	root := newRootCmd()
	root.SetContext(context.Background())
	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("skylinkd: fatal error")
	}
}
