package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/kiranshivaraju/windops/internal/client"
	"github.com/kiranshivaraju/windops/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) newDataCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Manage the plant datasets loaded on the server",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show loaded datasets and which analyses can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := a.client().DataStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printDataStatus(cmd, ds)
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Drop uploaded datasets and reload the demo data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := a.client().ResetData(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Reset to %s data\n", ds.Source)
			return nil
		},
	}

	upload := &cobra.Command{
		Use:   "upload <dataset> <file.csv>",
		Short: "Upload a CSV dataset (scada, meter, reanalysis, curtailment, asset)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := a.client().UploadDataset(cmd.Context(), models.DatasetType(args[0]), filepath.Base(args[1]), f)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Uploaded %s: %d rows, %d columns\n", info.Type, info.Rows, len(info.Columns))
			return nil
		},
	}

	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "Show the columns expected in each dataset upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tpl, err := a.client().Templates(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, dt := range models.DatasetTypes() {
				t, ok := tpl[dt]
				if !ok {
					continue
				}
				printf(out, "%s: %s\n  %s\n", dt, t.Description, strings.Join(t.RequiredColumns, ", "))
			}
			return nil
		},
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Summarise the plant loaded on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := a.client().PlantSummary(cmd.Context())
			if errors.Is(err, client.ErrNotFound) {
				return errors.New("no plant data loaded, run `windops data reset` or upload a dataset")
			}
			if err != nil {
				return err
			}
			return printSummary(cmd, sum)
		},
	}

	cmd.AddCommand(status, reset, upload, templatesCmd, summary)
	return cmd
}

func printSummary(cmd *cobra.Command, sum models.PlantSummary) error {
	out := cmd.OutOrStdout()
	printf(out, "%s (%s data)\n", sum.Name, sum.Source)
	if sum.NumTurbines > 0 {
		printf(out, "Turbines: %d\n", sum.NumTurbines)
	}
	if sum.CapacityMW != nil {
		printf(out, "Capacity: %.1f MW\n", *sum.CapacityMW)
	}
	printf(out, "\n")

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	printf(tw, "DATASET\tROWS\tCOLUMNS\n")
	for _, dt := range models.DatasetTypes() {
		info, ok := sum.Datasets[dt]
		if !ok {
			continue
		}
		printf(tw, "%s\t%d\t%d\n", dt, info.Rows, len(info.Columns))
	}
	return tw.Flush()
}

func printDataStatus(cmd *cobra.Command, ds models.DataStatus) error {
	out := cmd.OutOrStdout()
	printf(out, "Source: %s\n\n", ds.Source)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	printf(tw, "ANALYSIS\tREADY\tMISSING\n")
	for _, k := range models.Kinds() {
		r, ok := ds.AnalysisReady[k]
		if !ok {
			continue
		}
		missing := "-"
		if len(r.Missing) > 0 {
			missing = fmt.Sprint(r.Missing)
		}
		printf(tw, "%s\t%t\t%s\n", k, r.Ready, missing)
	}
	return tw.Flush()
}
