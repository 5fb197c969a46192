package main

import (
	"fmt"
	"os"

	"github.com/iabalyuk/librarybot/config"
	"github.com/iabalyuk/librarybot/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the settings shared by all subcommands.
type app struct {
	configPath string
	debug      bool
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "librarybot",
		Short:         "Telegram bot for reserving library books",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.debug {
				cfg.Debug = true
				cfg.LogLevel = "debug"
			}
			a.cfg = cfg
			logging.Init(cfg.LogLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "path to the YAML config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		a.serveCmd(),
		a.migrateCmd(),
		a.importBooksCmd(),
		a.keygenCmd(),
		a.revealPhoneCmd(),
	)
	return root
}
