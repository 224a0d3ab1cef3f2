package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tagrouter/internal/hierarchy"
	"tagrouter/internal/taxonomy"
)

type taxonomyNodeJSON struct {
	Label    string   `json:"label"`
	Level    string   `json:"level"`
	Path     []string `json:"path"`
	Keywords []string `json:"keywords,omitempty"`
}

func newTaxonomyCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Inspect the tag taxonomy",
	}
	cmd.AddCommand(newTaxonomyShowCommand(ctx))
	return cmd
}

func newTaxonomyShowCommand(ctx *commandContext) *cobra.Command {
	var levelFlag string
	var keywords bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the configured taxonomy as a tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tax, err := taxonomy.Load(cfg.Taxonomy.Path)
			if err != nil {
				return err
			}

			var only hierarchy.Level
			if strings.TrimSpace(levelFlag) != "" {
				if only, err = hierarchy.Parse(levelFlag); err != nil {
					return err
				}
			}

			var nodes []taxonomy.Node
			tax.Walk(func(n taxonomy.Node) {
				if only == "" || n.Level == only {
					nodes = append(nodes, n)
				}
			})

			if jsonOut {
				payload := make([]taxonomyNodeJSON, 0, len(nodes))
				for _, n := range nodes {
					payload = append(payload, taxonomyNodeJSON{
						Label:    n.Label,
						Level:    string(n.Level),
						Path:     n.Path,
						Keywords: n.Keywords,
					})
				}
				return writeJSON(cmd, payload)
			}

			headers := []string{"Label", "Level"}
			if keywords {
				headers = append(headers, "Keywords")
			}
			rows := make([][]string, 0, len(nodes))
			for _, n := range nodes {
				label := n.Label
				if only == "" {
					label = strings.Repeat("  ", hierarchy.Index(n.Level)) + label
				} else if len(n.Path) > 1 {
					label = strings.Join(n.Path, " > ")
				}
				row := []string{label, title(string(n.Level))}
				if keywords {
					row = append(row, strings.Join(n.Keywords, ", "))
				}
				rows = append(rows, row)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(headers, rows, nil))
			size := tax.Size()
			fmt.Fprintf(out, "%s: %d primary, %d secondary, %d tertiary\n",
				tax.Name(), size[hierarchy.Primary], size[hierarchy.Secondary], size[hierarchy.Tertiary])
			return nil
		},
	}

	cmd.Flags().StringVar(&levelFlag, "level", "", "Only list labels at this level")
	cmd.Flags().BoolVar(&keywords, "keywords", false, "Include each label's keywords")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output nodes as JSON")
	return cmd
}
