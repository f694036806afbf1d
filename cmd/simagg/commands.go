package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"simagg/adapters/excel"
	"simagg/domain/experiment"
	"simagg/internal/api"
)

func newAggregateCmd(opts *globalOptions) *cobra.Command {
	var force bool
	var out string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Resample every run onto a common grid and fold across seeds",
		Long: `Load every configured experiment, resample all runs onto the shared time
grid and compute the per-cell mean and standard deviation across seeds.

Results are cached and rebuilt when an input file changed or was removed.
--force always rebuilds; a .skip_data_process file reuses a readable cache.

Example: simagg aggregate --data-dir data --experiments consensus --out consensus.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			svc, err := newAggregationService(cfg)
			if err != nil {
				return err
			}
			result, err := svc.Run(cmd.Context(), force)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(result.Entries))
			for n := range result.Entries {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				e := result.Entries[n]
				fmt.Fprintf(cmd.OutOrStdout(), "%s: axes %v shape %v variables %v\n", n, e.Mean.AxisNames(), e.Mean.Shape(), e.Mean.Variables())
			}
			if result.FromCache {
				fmt.Fprintln(cmd.OutOrStdout(), "(loaded from cache)")
			}

			if out == "" {
				return nil
			}
			wb, err := excel.NewWorkbook()
			if err != nil {
				return err
			}
			for _, n := range names {
				if err := wb.AddAggregate(n, result.Entries[n].Mean, result.Entries[n].Std); err != nil {
					return err
				}
			}
			return wb.SaveAs(out)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Recompute even if the cache is current")
	cmd.Flags().StringVar(&out, "out", "", "Write the folded aggregates to this .xlsx file")
	return cmd
}

func newConvergenceCmd(opts *globalOptions) *cobra.Command {
	var metric string
	var threshold float64
	var groupBy []string
	var noStore bool

	cmd := &cobra.Command{
		Use:   "convergence [experiment]",
		Short: "Compute when each run first reaches a threshold",
		Long: `Compute the first time, after the first tick, at which the metric of each
run equals the threshold, then report mean, min and max per group. Runs that
never reach it are excluded; groups where none do report NaN.

Example: simagg convergence consensus --metric "state[mean]" --threshold 1 --group-by size,range`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			svc, cleanup, err := newQueryService(cmd.Context(), cfg, !noStore)
			if err != nil {
				return err
			}
			defer cleanup()

			q := svc.ConvergenceOptions()
			if cmd.Flags().Changed("metric") {
				q.Metric = metric
			}
			if cmd.Flags().Changed("threshold") {
				q.Threshold = threshold
			}
			if cmd.Flags().Changed("group-by") {
				q.GroupBy = groupBy
			}

			batch, records, err := svc.Convergence(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			printConvergence(cmd.OutOrStdout(), records)
			if !noStore {
				fmt.Fprintf(cmd.OutOrStdout(), "stored as batch %s\n", batch.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metric, "metric", "", "Metric column (default from configuration)")
	cmd.Flags().Float64Var(&threshold, "threshold", 1.0, "Value the metric must equal")
	cmd.Flags().StringSliceVar(&groupBy, "group-by", nil, "Grouping columns (default: auto-detect)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not persist the results")
	return cmd
}

func newLookupCmd(opts *globalOptions) *cobra.Command {
	var partial bool
	var csvOut string

	cmd := &cobra.Command{
		Use:   "lookup [experiment] [name=value...]",
		Short: "List the runs of a parameter configuration",
		Long: `Look up runs by parameter values. Without --partial every parameter must be
given; with --partial any subset filters the configurations.

Example: simagg lookup consensus size=10 range=2 --csv runs.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			svc, _, err := newQueryService(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}

			var runs []*experiment.Run
			if partial {
				runs, err = svc.Filter(cmd.Context(), args[0], values)
			} else {
				runs, err = svc.Lookup(cmd.Context(), args[0], values)
			}
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tseed=%g\t%d rows\n", filepath.Base(r.Source), r.Seed, r.Len())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d runs\n", len(runs))

			if csvOut == "" {
				return nil
			}
			table, err := svc.CombinedTable(cmd.Context(), args[0], values)
			if err != nil {
				return err
			}
			f, err := os.Create(csvOut)
			if err != nil {
				return err
			}
			defer f.Close()
			return excel.WriteTableCSV(f, table)
		},
	}

	cmd.Flags().BoolVar(&partial, "partial", false, "Match configurations on a subset of parameters")
	cmd.Flags().StringVar(&csvOut, "csv", "", "Write the combined table of matching runs to this file")
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export [experiment]",
		Short: "Write aggregates and stored convergence statistics to a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if out == "" {
				if err := os.MkdirAll(cfg.Export.Dir, 0755); err != nil {
					return err
				}
				out = filepath.Join(cfg.Export.Dir, name+".xlsx")
			}

			agg, err := newAggregationService(cfg)
			if err != nil {
				return err
			}
			result, err := agg.Run(cmd.Context(), false)
			if err != nil {
				return err
			}
			entry, ok := result.Entries[name]
			if !ok {
				return fmt.Errorf("experiment %s is not configured", name)
			}

			wb, err := excel.NewWorkbook()
			if err != nil {
				return err
			}
			if err := wb.AddAggregate(name, entry.Mean, entry.Std); err != nil {
				return err
			}

			queries, cleanup, err := newQueryService(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer cleanup()
			batch, records, err := queries.StoredConvergence(cmd.Context(), name, cfg.Convergence.Metric)
			if err == nil {
				sheet := excel.ConvergenceSheet{Name: "convergence_" + batch.Metric, Records: records}
				if err := wb.AddConvergence(sheet); err != nil {
					return err
				}
			}
			if err := wb.SaveAs(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Output .xlsx path (default <export dir>/<experiment>.xlsx)")
	return cmd
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve lookups, convergence statistics and aggregates over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			queries, cleanup, err := newQueryService(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer cleanup()
			agg, err := newAggregationService(cfg)
			if err != nil {
				return err
			}
			return api.NewServer(cfg.Server.Port, queries, agg).Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Listen port (default from PORT or configuration)")
	return cmd
}

// parseAssignments turns name=value arguments into a numeric map
func parseAssignments(args []string) (map[string]float64, error) {
	out := make(map[string]float64, len(args))
	for _, a := range args {
		name, raw, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", a)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %q is not a number", name, raw)
		}
		out[name] = v
	}
	return out, nil
}

func printConvergence(w io.Writer, records []experiment.ConvergenceRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no runs")
		return
	}
	header := append(append([]string(nil), records[0].GroupBy...), "mean", "min", "max", "runs")
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, rec := range records {
		cols := make([]string, 0, len(header))
		for _, v := range rec.Values {
			cols = append(cols, strconv.FormatFloat(v, 'g', -1, 64))
		}
		cols = append(cols,
			fmt.Sprintf("% 0.3f", rec.Mean),
			fmt.Sprintf("% 0.3f", rec.Min),
			fmt.Sprintf("% 0.3f", rec.Max),
			strconv.Itoa(rec.Runs))
		fmt.Fprintln(w, strings.Join(cols, "\t"))
	}
}
