package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tagrouter/internal/api"
	"tagrouter/internal/config"
	"tagrouter/internal/daemonrun"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/orchestrator"
	"tagrouter/internal/services"
	"tagrouter/internal/thresholds"
)

type classifyOptions struct {
	levels     []string
	thresholds []string
	context    []string
	file       string
	local      bool
	jsonOut    bool
}

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	opts := classifyOptions{}

	cmd := &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify text against the tag hierarchy",
		Long: "Classify text through the running server, or in process with --local.\n" +
			"Text comes from the arguments, --file, or stdin when neither is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readClassifyText(cmd.InOrStdin(), opts.file, args)
			if err != nil {
				return err
			}
			req, err := opts.request(text)
			if err != nil {
				return err
			}

			var result orchestrator.Result
			if opts.local {
				result, err = classifyLocal(cmd, ctx, req)
			} else {
				result, err = classifyRemote(cmd.Context(), ctx, req)
			}
			if err != nil {
				return err
			}

			if opts.jsonOut {
				return writeJSON(cmd, result)
			}
			printClassifyResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&opts.levels, "levels", "l", hierarchy.Strings(hierarchy.Order), "Levels to predict")
	cmd.Flags().StringArrayVar(&opts.thresholds, "threshold", nil, "Per-request threshold override as level=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.context, "context", nil, "Known ancestor label as level=label (repeatable)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read the text from a file (- for stdin)")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Classify in process instead of calling the server")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output the full result as JSON")
	return cmd
}

func readClassifyText(stdin io.Reader, file string, args []string) (string, error) {
	file = strings.TrimSpace(file)
	switch {
	case file == "-" || (file == "" && len(args) == 0):
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	default:
		return strings.Join(args, " "), nil
	}
}

func (o classifyOptions) request(text string) (api.ClassifyRequest, error) {
	req := api.ClassifyRequest{Text: text, PredictLevels: o.levels}

	pairs, err := parseAssignments("threshold", o.thresholds)
	if err != nil {
		return req, err
	}
	if len(pairs) > 0 {
		req.ConfidenceThresholds = make(map[string]float64, len(pairs))
		for level, raw := range pairs {
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return req, fmt.Errorf("--threshold %s: %q is not a number", level, raw)
			}
			req.ConfidenceThresholds[level] = value
		}
	}

	if req.Context, err = parseAssignments("context", o.context); err != nil {
		return req, err
	}
	return req, nil
}

// parseAssignments splits level=value flag values keyed by level name.
func parseAssignments(flag string, values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			return nil, fmt.Errorf("--%s %q: expected level=value", flag, raw)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func classifyRemote(cmdCtx context.Context, ctx *commandContext, req api.ClassifyRequest) (orchestrator.Result, error) {
	var result orchestrator.Result
	server, err := ctx.serverURL()
	if err != nil {
		return result, err
	}
	client := ctx.httpClient(classifyTimeout(ctx.configValue()))
	err = services.DoJSON(cmdCtx, client, http.MethodPost, server+"/classify", req, &result)
	if err != nil {
		return result, serverError(err, server)
	}
	return result, nil
}

// classifyTimeout leaves room for both collaborator calls.
func classifyTimeout(cfg *config.Config) time.Duration {
	if cfg == nil {
		return 2 * time.Minute
	}
	total := cfg.FastClassifier.TimeoutSeconds + cfg.ExpensiveClassifier.TimeoutSeconds + 10
	return time.Duration(total) * time.Second
}

// serverError surfaces the server's error message when there is one.
func serverError(err error, server string) error {
	var statusErr *services.StatusError
	if errors.As(err, &statusErr) {
		var body api.ErrorResponse
		if json.Unmarshal([]byte(statusErr.Body), &body) == nil && body.Error != "" {
			if body.RequestID != "" {
				return fmt.Errorf("server returned %d: %s (request %s)", statusErr.StatusCode, body.Error, body.RequestID)
			}
			return fmt.Errorf("server returned %d: %s", statusErr.StatusCode, body.Error)
		}
		return fmt.Errorf("server returned %w", statusErr)
	}
	return wrapServerError(err, server)
}

func classifyLocal(cmd *cobra.Command, ctx *commandContext, req api.ClassifyRequest) (orchestrator.Result, error) {
	var result orchestrator.Result
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return result, err
	}
	overrides, err := api.ThresholdsFromWire(req.ConfidenceThresholds)
	if err != nil {
		return result, err
	}
	known, err := api.ContextFromWire(req.Context)
	if err != nil {
		return result, err
	}

	logger, err := logging.New(logging.Options{
		Level:  "warn",
		Format: cfg.Logging.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return result, fmt.Errorf("init logger: %w", err)
	}

	store, err := thresholds.Open(cfg.ThresholdStorePath())
	if err != nil {
		logger.Warn("threshold store unavailable; using configured defaults", logging.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	comps, err := daemonrun.BuildComponents(cfg, store, nil, logger)
	if err != nil {
		return result, err
	}
	classified, err := comps.Orchestrator.Classify(cmd.Context(), orchestrator.Request{
		Text:       req.Text,
		Levels:     req.PredictLevels,
		Thresholds: overrides,
		Context:    known,
	})
	if err != nil {
		return result, err
	}
	return *classified, nil
}

func printClassifyResult(out io.Writer, result orchestrator.Result) {
	rows := make([][]string, 0, len(result.Prediction))
	for _, level := range result.Levels() {
		for i, entry := range result.Prediction[level] {
			label := title(string(level))
			if i > 0 {
				label = ""
			}
			rows = append(rows, []string{
				label,
				entry.Pred,
				strconv.FormatFloat(entry.Confidence, 'f', 3, 64),
				string(entry.Source),
				formatAncestors(entry.PrimaryContext, entry.SecondaryContext),
			})
		}
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Level", "Label", "Confidence", "Source", "Ancestors"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))

	analysis := result.ConfidenceAnalysis
	escalated := yesNo(analysis.NeedsEscalation)
	if analysis.TriggerLevel != nil {
		escalated += fmt.Sprintf(" (trigger %s, levels %s)", *analysis.TriggerLevel,
			strings.Join(hierarchy.Strings(analysis.LevelsToEscalate), ", "))
	}
	fmt.Fprintf(out, "Escalated:   %s\n", escalated)
	if llm := result.ServiceCalls.LLM; llm.Called && !llm.Success && llm.Error != "" {
		fmt.Fprintf(out, "LLM error:   %s\n", llm.Error)
	}
	fmt.Fprintf(out, "Thresholds:  %s (%s)\n", formatThresholds(analysis.Thresholds.Map()), analysis.ThresholdSource)
	fmt.Fprintf(out, "Elapsed:     %.3fs\n", result.ElapsedSeconds)
	if result.RequestID != "" {
		fmt.Fprintf(out, "Request ID:  %s\n", result.RequestID)
	}
}

func formatAncestors(primary, secondary string) string {
	parts := make([]string, 0, 2)
	for _, value := range []string{primary, secondary} {
		if value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, " > ")
}

func formatThresholds(values map[hierarchy.Level]float64) string {
	levels := make([]hierarchy.Level, 0, len(values))
	for level := range values {
		levels = append(levels, level)
	}
	parts := make([]string, 0, len(levels))
	for _, level := range hierarchy.Sort(levels) {
		parts = append(parts, fmt.Sprintf("%s=%.2f", level, values[level]))
	}
	return strings.Join(parts, " ")
}
