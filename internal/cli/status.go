package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/kiranshivaraju/windops/internal/resultcache"
	"github.com/kiranshivaraju/windops/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is running an analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if st.Busy && st.CurrentAnalysis != nil {
				since := ""
				if st.StartedAt != nil {
					since = fmt.Sprintf(" for %s", time.Since(*st.StartedAt).Round(time.Second))
				}
				printf(out, "Running %s%s\n", st.CurrentAnalysis.Label(), since)
			} else {
				printf(out, "Idle\n")
			}
			if st.LastError != nil {
				printf(out, "Last error: %s\n", *st.LastError)
			}
			if st.HasResult {
				printf(out, "A result is available on the server\n")
			}
			return nil
		},
	}
}

func (a *app) newResultCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "result <analysis>",
		Aliases: []string{"show"},
		Short:   "Show the cached result of an analysis",
		Args:    cobra.ExactArgs(1),
		RunE:    a.showResult,
	}
}

func (a *app) showResult(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseKind(args[0])
	if err != nil {
		return fmt.Errorf("%w (choose one of: %s)", err, kindList())
	}
	cache, err := a.openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	e, staleness, ok, err := cache.Lookup(cmd.Context(), kind, a.client())
	if !ok {
		if err != nil {
			return err
		}
		return fmt.Errorf("no cached %s result, run `windops run %s` first", kind.Label(), kind)
	}
	if err != nil {
		// The entry is still worth showing without a freshness verdict.
		warn(cmd, err)
	}

	out := cmd.OutOrStdout()
	if msg := staleness.Message(); msg != "" {
		printf(out, "WARNING: %s\n\n", msg)
	}
	return printResult(out, kind, e.Meta.Timestamp, e.Meta.Source, e.Data)
}

func warn(cmd *cobra.Command, err error) {
	printf(cmd.ErrOrStderr(), "warning: %v\n", err)
}

func (a *app) newJobsCommand() *cobra.Command {
	var (
		kindFlag string
		page     int
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List analysis jobs recorded by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var kind models.AnalysisKind
			if kindFlag != "" {
				k, err := models.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				kind = k
			}
			res, err := a.client().Jobs(cmd.Context(), kind, page, limit)
			if err != nil {
				return err
			}
			if len(res.Jobs) == 0 {
				printf(cmd.OutOrStdout(), "No jobs recorded\n")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "ID\tANALYSIS\tSTATUS\tSOURCE\tSTARTED\tERROR\n")
			for _, j := range res.Jobs {
				printf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.Kind, j.Status, deref(j.Source), formatTime(j.StartedAt), deref(j.ErrorMessage))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if res.HasNext {
				printf(cmd.OutOrStdout(), "\n%d jobs in total, next page: --page %d\n", res.Total, page+1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "", "only show jobs of this analysis")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "jobs per page (max 100)")
	return cmd
}

func (a *app) newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear locally cached results",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List cached results and whether they are current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := a.openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			entries, err := cache.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				printf(cmd.OutOrStdout(), "No cached results\n")
				return nil
			}

			current, srcErr := a.client().CurrentSource(cmd.Context())
			if srcErr != nil {
				warn(cmd, srcErr)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "ANALYSIS\tSOURCE\tCOMPUTED\tSTATE\n")
			for _, e := range entries {
				state := resultcache.Unverified
				if srcErr == nil {
					state = resultcache.Reconcile(e.Meta, current)
				}
				printf(tw, "%s\t%s\t%s\t%s\n", e.Kind, e.Meta.Source, formatTime(&e.Meta.Timestamp), state)
			}
			return tw.Flush()
		},
	}

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear [analysis]",
		Short: "Remove cached results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.New("name an analysis or pass --all")
			}
			cache, err := a.openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			if all {
				if err := cache.ClearAll(cmd.Context()); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "Cleared all cached results\n")
				return nil
			}
			kind, err := models.ParseKind(args[0])
			if err != nil {
				return err
			}
			if err := cache.Clear(cmd.Context(), kind); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Cleared cached %s result\n", kind.Label())
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "clear every cached result")

	cmd.AddCommand(list, clearCmd)
	return cmd
}

func deref[T ~string](p *T) string {
	if p == nil {
		return "-"
	}
	return string(*p)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
