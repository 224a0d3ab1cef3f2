package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"tagrouter/internal/api"
	"tagrouter/internal/services"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server and collaborator readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := ctx.serverURL()
			if err != nil {
				return err
			}
			health, err := fetchHealth(cmd, ctx, server)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, health)
			}

			board := newStatusBoard("tagrouter")
			board.add("Server", healthKind(health.Status), server)
			for _, component := range health.Components {
				board.addCheck(component.Name, component.Ready, component.Detail)
			}
			board.write(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output health as JSON")
	return cmd
}

// fetchHealth reads /health. A 503 still carries a health body.
func fetchHealth(cmd *cobra.Command, ctx *commandContext, server string) (api.HealthResponse, error) {
	var health api.HealthResponse
	client := ctx.httpClient(10 * time.Second)
	err := services.DoJSON(cmd.Context(), client, http.MethodGet, server+"/health", nil, &health)
	if err == nil {
		return health, nil
	}
	var statusErr *services.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusServiceUnavailable {
		if json.Unmarshal([]byte(statusErr.Body), &health) == nil && health.Status != "" {
			return health, nil
		}
	}
	return health, serverError(err, server)
}
