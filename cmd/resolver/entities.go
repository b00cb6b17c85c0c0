package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/helixir/entity-resolution-service/internal/app"
	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/registry"
)

func newEntitiesCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Inspect and curate the entity registry",
	}
	cmd.AddCommand(newEntitiesListCommand(c))
	cmd.AddCommand(newEntitiesShowCommand(c))
	cmd.AddCommand(newEntitiesRenameCommand(c))
	cmd.AddCommand(newEntitiesMergeCommand(c))
	return cmd
}

func newEntitiesListCommand(c *cli) *cobra.Command {
	var (
		typeFilter string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List canonical entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRegistry(cmd, false, func(a *app.App) error {
				entities := a.Registry.Entities()
				if typeFilter != "" {
					t, err := domain.ParseEntityType(typeFilter)
					if err != nil {
						return err
					}
					entities = registry.FilterByType(entities, t)
				}
				sort.SliceStable(entities, func(i, j int) bool {
					if entities[i].Type != entities[j].Type {
						return entities[i].Type < entities[j].Type
					}
					return entities[i].StandardName < entities[j].StandardName
				})
				if asJSON {
					return printJSON(cmd.OutOrStdout(), entities)
				}
				return printTable(cmd.OutOrStdout(), entities)
			})
		},
	}
	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "only list entities of this type (author, affiliation, journal)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newEntitiesShowCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRegistry(cmd, false, func(a *app.App) error {
				e, err := a.Registry.Get(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), e)
			})
		},
	}
}

func newEntitiesRenameCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <standard-name>",
		Short: "Change the standard name of an entity; the old name is kept as a variant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRegistry(cmd, true, func(a *app.App) error {
				e, err := a.Registry.Rename(args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), e)
			})
		},
	}
}

func newEntitiesMergeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <source-id> <target-id>",
		Short: "Fold the source entity into the target and delete the source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRegistry(cmd, true, func(a *app.App) error {
				e, err := a.Registry.Merge(args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), e)
			})
		},
	}
}

// withRegistry loads the registry, runs fn and, for mutations, saves the
// registry when fn succeeds.
func (c *cli) withRegistry(cmd *cobra.Command, mutate bool, fn func(a *app.App) error) error {
	ctx := cmd.Context()

	a, err := app.New(ctx, c.cfg, nil, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			c.logger.Warn().Err(closeErr).Msg("failed to release resources")
		}
	}()

	if err := fn(a); err != nil {
		return err
	}
	if mutate {
		return a.Persister().Persist(ctx)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, entities []*domain.Entity) error {
	rows := make([][]string, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, []string{e.ID, string(e.Type), e.StandardName, strings.Join(e.Variants, "; ")})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TYPE", "STANDARD NAME", "VARIANTS").
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
