package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helixir/entity-resolution-service/internal/app"
	"github.com/helixir/entity-resolution-service/internal/prompt"
)

type resolveOptions struct {
	input   string
	output  string
	backend string
	confirm bool
	raw     bool
}

func newResolveCommand(c *cli) *cobra.Command {
	opts := &resolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the names of every record in a JSON file",
		Long: `Resolve reads a JSON array of paper records, replaces every author,
affiliation and journal name with its canonical form, and writes the result.
Names that cannot be matched automatically are shown to the operator.

The registry is saved after every record (resolver.persist_every_record) and
once more on exit, so an interrupted run can simply be started again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd, c, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "JSON file of records to resolve")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "where to write resolved records (default: <input>_resolved.json)")
	cmd.Flags().StringVar(&opts.backend, "prompt", "", "prompt backend: auto, console, tui or passthrough (default: resolver.prompt)")
	cmd.Flags().BoolVar(&opts.confirm, "confirm", false, "ask before accepting every automatic match")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "resolve names as given, without lowercasing or stripping punctuation")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runResolve(cmd *cobra.Command, c *cli, opts *resolveOptions) error {
	ctx := cmd.Context()

	records, err := readRecords(opts.input)
	if err != nil {
		return err
	}
	output := opts.output
	if output == "" {
		output = defaultOutputPath(opts.input)
	}

	backend := c.cfg.Resolver.Prompt
	if opts.backend != "" {
		backend = opts.backend
	}
	prompter, err := prompt.New(backend, c.stdin, c.stdout)
	if err != nil {
		return err
	}

	if opts.raw {
		c.cfg.Resolver.CleanInput = false
	}

	a, err := app.New(ctx, c.cfg, nil, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			c.logger.Warn().Err(closeErr).Msg("failed to release resources")
		}
	}()

	res, err := a.Resolver(ctx, prompter, opts.confirm)
	if err != nil {
		return err
	}

	resolved, runErr := a.Pipeline(res).Run(ctx, records)
	if len(resolved) > 0 || runErr == nil {
		if err := writeRecords(output, resolved); err != nil {
			return errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("resolved %d of %d records: %w", len(resolved), len(records), runErr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "resolved %d records -> %s\n", len(resolved), output)
	return nil
}
