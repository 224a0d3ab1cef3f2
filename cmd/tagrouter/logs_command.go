package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tagrouter/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines     int
		follow    bool
		requestID string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the server log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.LogPath()
			out := cmd.OutOrStdout()
			requestID = strings.TrimSpace(requestID)
			emit := func(line string) {
				if logs.Matches(line, requestID) {
					fmt.Fprintln(out, line)
				}
			}

			var recent []string
			var offset int64
			if requestID == "" {
				recent, offset, err = logs.Last(path, lines)
			} else {
				var all []string
				all, offset, err = logs.Since(path, 0)
				recent = lastMatching(all, requestID, lines)
			}
			if err != nil {
				return err
			}
			for _, line := range recent {
				fmt.Fprintln(out, line)
			}

			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, emit)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&requestID, "request", "", "Only show lines mentioning this request id")
	return cmd
}

func lastMatching(lines []string, needle string, limit int) []string {
	var out []string
	for _, line := range lines {
		if logs.Matches(line, needle) {
			out = append(out, line)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
