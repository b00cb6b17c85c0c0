// Package main manages the schema of the Postgres registry backend.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/entity-resolution-service/internal/config"
	"github.com/helixir/entity-resolution-service/internal/database"
	"github.com/helixir/entity-resolution-service/internal/observability"
)

const connectTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type migrateCLI struct {
	configPath string
	dir        string
	out        io.Writer

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCommand(out io.Writer) *cobra.Command {
	c := &migrateCLI{out: out}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the schema of the Postgres entity registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config.yaml (default: search the standard locations)")
	root.PersistentFlags().StringVar(&c.dir, "dir", "", "read migrations from this directory instead of the embedded set")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Create or upgrade the registry tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withMigrator(cmd.Context(), func(m *database.Migrator) error {
					return m.Up()
				})
			},
		},
		newDownCommand(c),
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withMigrator(cmd.Context(), func(*database.Migrator) error { return nil })
			},
		},
		newForceCommand(c),
	)
	return root
}

func newDownCommand(c *migrateCLI) *cobra.Command {
	var all bool
	steps := 1

	cmd := &cobra.Command{
		Use:   "down [N]",
		Short: "Roll back the last N schema versions (default 1)",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("down takes at most one argument")
			}
			if len(args) == 0 {
				return nil
			}
			if all {
				return fmt.Errorf("--all and a step count are mutually exclusive")
			}
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("step count must be a positive integer, got %q", args[0])
			}
			steps = n
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(cmd.Context(), func(m *database.Migrator) error {
				if all {
					return m.Down()
				}
				return m.Steps(-steps)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "roll back every version, dropping the registry tables")
	return cmd
}

func newForceCommand(c *migrateCLI) *cobra.Command {
	var version int

	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied and clean after a failed migration",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("force takes exactly one version")
			}
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 0 {
				return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
			}
			version = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(cmd.Context(), func(m *database.Migrator) error {
				return m.Force(version)
			})
		},
	}
}

func (c *migrateCLI) load() error {
	cfg, err := config.LoadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg

	logCfg := observability.DefaultLoggingConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = "console"
	c.logger = observability.NewLogger(logCfg).With().Str("component", "migrate").Logger()

	if cfg.Registry.Backend != config.RegistryBackendPostgres {
		c.logger.Warn().
			Str("backend", cfg.Registry.Backend).
			Msg("registry backend is not postgres; the schema is unused until it is")
	}
	if c.dir == "" {
		c.dir = cfg.Database.MigrationPath
	}
	return nil
}

// withMigrator connects, runs fn and reports the resulting schema version.
func (c *migrateCLI) withMigrator(ctx context.Context, fn func(*database.Migrator) error) error {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := database.New(connectCtx, &c.cfg.Database, c.logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	m, err := database.NewMigrator(db, c.dir, c.logger)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			c.logger.Warn().Err(cerr).Msg("failed to close migrator")
		}
	}()

	if err := fn(m); err != nil {
		return err
	}
	return c.printVersion(m)
}

func (c *migrateCLI) printVersion(m *database.Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	_, err = fmt.Fprintf(c.out, "schema version %d (%s)\n", v, state)
	return err
}
