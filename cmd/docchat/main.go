package main

import (
	"context"
	"fmt"
	"os"

	"docchat/internal/config"
	"docchat/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli carries the state shared by every command: the flag layer, the
// resolved configuration and the logger built from it.
type cli struct {
	flags  *config.Flags
	cfg    config.AppConfig
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with your documents from the terminal",
		Long: `docchat is a terminal client for a document question-answering backend.

Run without arguments to start the interactive interface. The subcommands
cover the same operations for scripting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.flags.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg

			// The TUI owns the terminal; one-shot commands log to stderr
			// unless a log file was asked for.
			logPath := cfg.LogPath
			if cmd != cmd.Root() && !cmd.Flags().Changed("log-file") {
				logPath = ""
			}
			logger, err := logging.New(logPath, cfg.Verbose)
			if err != nil {
				return err
			}
			c.logger = logger
			logger.Debug("configuration loaded",
				zap.String("api_url", cfg.APIBaseURL),
				zap.String("config", cfg.ConfigPath),
				zap.String("prefs_backend", cfg.PrefsBackend))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
		RunE: c.runInteractive,
	}
	c.flags = config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		c.conversationsCmd(),
		c.historyCmd(),
		c.sendCmd(),
		c.docsCmd(),
		c.settingsCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
