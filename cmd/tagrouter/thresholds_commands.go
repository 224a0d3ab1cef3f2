package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tagrouter/internal/api"
	"tagrouter/internal/daemonrun"
	"tagrouter/internal/escalation"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/thresholds"
)

func newThresholdsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Inspect and update stored escalation thresholds",
		Long: "Threshold commands work on the threshold database under paths.data_dir.\n" +
			"A running server picks up changes on its next request.",
	}
	cmd.AddCommand(newThresholdsShowCommand(ctx))
	cmd.AddCommand(newThresholdsSetCommand(ctx))
	cmd.AddCommand(newThresholdsHistoryCommand(ctx))
	return cmd
}

func (c *commandContext) withStore(fn func(*thresholds.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := thresholds.Open(cfg.ThresholdStorePath())
	if err != nil {
		return fmt.Errorf("open threshold store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// thresholdProvider resolves thresholds the same way the server does.
func (c *commandContext) thresholdProvider(store *thresholds.Store) *thresholds.Provider {
	defaults := daemonrun.ThresholdDefaults(c.configValue().Thresholds)
	return thresholds.NewProvider(store, func() escalation.Thresholds { return defaults }, logging.NewNop())
}

func newThresholdsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective thresholds and where they come from",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *thresholds.Store) error {
				provider := ctx.thresholdProvider(store)
				defaults := provider.Defaults()
				effective, source := provider.Thresholds(cmd.Context())
				if jsonOut {
					return writeJSON(cmd, api.ThresholdsResponse{Thresholds: api.ThresholdsToWire(effective), Source: source})
				}

				stored, err := store.Get(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(hierarchy.Order))
				for _, level := range hierarchy.Order {
					storedText := "-"
					if value, ok := stored[level]; ok {
						storedText = formatThreshold(value)
					}
					rows = append(rows, []string{
						title(string(level)),
						formatThreshold(effective.For(level)),
						storedText,
						formatThreshold(defaults.For(level)),
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"Level", "Effective", "Stored", "Default"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				))
				fmt.Fprintf(out, "Source: %s\n", source)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output thresholds as JSON")
	return cmd
}

func newThresholdsSetCommand(ctx *commandContext) *cobra.Command {
	var (
		values    = make(map[hierarchy.Level]*float64, len(hierarchy.Order))
		updatedBy string
		reason    string
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store new thresholds and record the change",
		Example: "  tagrouter thresholds set --secondary 0.75 --reason \"too many escalations\"\n" +
			"  tagrouter thresholds set --primary 0.9 --tertiary 0.7 --by ops",
		RunE: func(cmd *cobra.Command, args []string) error {
			update := thresholds.Update{
				Values:    make(map[hierarchy.Level]float64, len(values)),
				UpdatedBy: updatedBy,
				Reason:    reason,
			}
			for _, level := range hierarchy.Order {
				if cmd.Flags().Changed(string(level)) {
					update.Values[level] = *values[level]
				}
			}
			if len(update.Values) == 0 {
				return fmt.Errorf("set at least one of --primary, --secondary or --tertiary")
			}

			return ctx.withStore(func(store *thresholds.Store) error {
				changes, err := store.Set(cmd.Context(), update)
				if err != nil {
					return err
				}
				if jsonOut {
					effective, source := ctx.thresholdProvider(store).Thresholds(cmd.Context())
					return writeJSON(cmd, api.ThresholdsUpdateResponse{
						ThresholdsResponse: api.ThresholdsResponse{Thresholds: api.ThresholdsToWire(effective), Source: source},
						Changes:            api.FromThresholdChanges(changes),
					})
				}
				out := cmd.OutOrStdout()
				if len(changes) == 0 {
					fmt.Fprintln(out, "Thresholds unchanged")
					return nil
				}
				fmt.Fprintln(out, renderChanges(changes))
				fmt.Fprintf(out, "Updated %d threshold(s)\n", len(changes))
				return nil
			})
		},
	}

	for _, level := range hierarchy.Order {
		values[level] = cmd.Flags().Float64(string(level), 0, fmt.Sprintf("New %s threshold (0-1)", level))
	}
	cmd.Flags().StringVar(&updatedBy, "by", defaultUpdatedBy(), "Who is making the change")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the change is being made")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output recorded changes as JSON")
	return cmd
}

func newThresholdsHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List audited threshold changes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *thresholds.Store) error {
				changes, err := store.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.ThresholdHistoryResponse{Changes: api.FromThresholdChanges(changes)})
				}
				out := cmd.OutOrStdout()
				if len(changes) == 0 {
					fmt.Fprintln(out, "No threshold changes recorded")
					return nil
				}
				fmt.Fprintln(out, renderChanges(changes))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output history as JSON")
	return cmd
}

func renderChanges(changes []thresholds.Change) string {
	rows := make([][]string, 0, len(changes))
	for _, change := range changes {
		old := "-"
		if change.OldValue != nil {
			old = formatThreshold(*change.OldValue)
		}
		rows = append(rows, []string{
			strconv.FormatInt(change.ID, 10),
			title(string(change.Level)),
			old,
			formatThreshold(change.NewValue),
			change.UpdatedBy,
			change.Reason,
			change.ChangedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return renderTable(
		[]string{"ID", "Level", "Old", "New", "By", "Reason", "Changed"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func formatThreshold(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

func defaultUpdatedBy() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "cli"
}
