package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"webserver-bench/internal/database"
	"webserver-bench/internal/results"

	"github.com/spf13/cobra"
)

func newReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report <results.json | run_*.json.gz>",
		Short: "Print a summary of a results file or spool artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := loadReport(args[0])
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func loadReport(path string) (*results.RunReport, error) {
	if strings.HasSuffix(path, ".gz") {
		artifact, err := database.ReadSpoolArtifact(path)
		if err != nil {
			return nil, err
		}
		if artifact.Report == nil {
			return nil, fmt.Errorf("spool artifact %s has no report", path)
		}
		return artifact.Report, nil
	}
	return database.ReadReport(path)
}

func printReport(w io.Writer, report *results.RunReport) {
	fmt.Fprintf(w, "Run %s (%s)\n", report.RunID, report.Name)
	fmt.Fprintf(w, "Started %s, took %s\n", report.StartedAt.Format(time.RFC3339), report.EndedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if report.Cancelled {
		fmt.Fprintln(w, "Cancelled: results are partial")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tSCENARIO\tSAMPLES\tSUCCESS\tP50\tP90\tP99\tRPS\t")
	for _, r := range report.Results {
		scenario := r.Scenario
		if r.Incomplete {
			scenario += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t%.1f\t\n",
			r.Target,
			scenario,
			r.SampleCount,
			r.SuccessCount,
			formatLatency(r.Latency.P50),
			formatLatency(r.Latency.P90),
			formatLatency(r.Latency.P99),
			r.Throughput,
		)
	}
	tw.Flush()

	if len(report.Failures) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TARGET\tSTAGE\tSCENARIO\tMESSAGE\t")
		for _, f := range report.Failures {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", f.Target, f.Stage, dash(f.Scenario), firstLine(f.Message))
		}
		tw.Flush()
	}
}

func formatLatency(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Microsecond).String()
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// firstLine drops attached container logs, which do not fit a table.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
