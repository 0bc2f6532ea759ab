package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kiranshivaraju/windops/internal/analysis"
	"github.com/kiranshivaraju/windops/internal/client"
	"github.com/kiranshivaraju/windops/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <analysis> [name=value ...]",
		Short: "Run an analysis and wait for its result",
		Long: "Run submits an analysis and waits for it. If the submission times out\n" +
			"the analysis keeps running on the server and run polls for its result.\n\n" +
			"Analyses: " + kindList(),
		Args: cobra.MinimumNArgs(1),
		RunE: a.runAnalysis,
	}
}

func (a *app) runAnalysis(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseKind(args[0])
	if err != nil {
		return fmt.Errorf("%w (choose one of: %s)", err, kindList())
	}
	params, err := analysis.ParseAssignments(kind, args[1:])
	if err != nil {
		return err
	}

	cache, err := a.openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	out := cmd.OutOrStdout()
	interval := a.v.GetDuration(keyPollInterval)
	ctrl := client.NewController(a.client(),
		client.WithResultSink(cache),
		client.WithPollInterval(interval),
		client.WithPollTimeout(a.v.GetDuration(keyPollTimeout)),
		client.OnStateChange(func(s client.State) {
			switch s {
			case client.StateSubmitting:
				printf(out, "Running %s analysis...\n", kind.Label())
			case client.StatePolling:
				printf(out, "Analysis is still processing on the server. Checking every %s...\n", interval)
			}
		}),
	)
	defer ctrl.Close()

	env, err := ctrl.Run(cmd.Context(), kind, params)
	var busy *client.BusyError
	switch {
	case errors.As(err, &busy):
		printf(out, "%s. Try again in a moment.\n", busyMessage(busy))
		return nil
	case err != nil:
		var failure *client.AnalysisFailure
		if errors.As(err, &failure) {
			return errors.New(failure.Message)
		}
		return fmt.Errorf("%s: %w", kind.Label(), err)
	}

	return printResult(out, kind, env.Timestamp, env.Source, env.Data)
}

func busyMessage(e *client.BusyError) string {
	if e.CurrentAnalysis == "" {
		return "Another analysis is already running"
	}
	return fmt.Sprintf("The server is busy running %s", e.CurrentAnalysis.Label())
}

func printResult(w io.Writer, kind models.AnalysisKind, at time.Time, source models.DataSource, data json.RawMessage) error {
	when := "unknown time"
	if !at.IsZero() {
		when = at.Local().Format(time.DateTime)
	}
	printf(w, "%s result (%s data, %s)\n", kind.Label(), source, when)

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("formatting result: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func kindList() string {
	kinds := models.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
