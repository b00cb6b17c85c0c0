package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/entity-resolution-service/internal/app"
	"github.com/helixir/entity-resolution-service/internal/config"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string

	// Terminal streams handed to the interactive prompter.
	stdin  *os.File
	stdout *os.File

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCommand(stdin, stdout *os.File) *cobra.Command {
	c := &cli{stdin: stdin, stdout: stdout}

	root := &cobra.Command{
		Use:           "resolver",
		Short:         "Resolve author, affiliation and journal names against the entity registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config.yaml (default: search the standard locations)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(newResolveCommand(c))
	root.AddCommand(newEntitiesCommand(c))
	return root
}

func (c *cli) load() error {
	cfg, err := config.LoadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	c.cfg = cfg
	c.logger = app.NewLogger(cfg.Logging).With().Str("component", "resolver-cli").Logger()
	return nil
}
