package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"radt1cal/internal/queue"
	"radt1cal/internal/services"
	"radt1cal/internal/stageexec"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		subject  string
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "List recorded runs, or the stages of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := store.FindRun(cmd.Context(), args[0])
				if err != nil {
					return services.Wrap(services.ErrConfiguration, "status", "find run", args[0], err)
				}
				if run == nil {
					return services.Wrap(services.ErrNoInput, "status", "find run", fmt.Sprintf("no run matches %q", args[0]), nil)
				}
				stages, err := store.Stages(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				printRunDetail(out, run, stages, shouldColorize(out))
				return nil
			}

			opts := queue.ListOptions{Subject: subject, Limit: limit}
			for _, status := range statuses {
				opts.Statuses = append(opts.Statuses, queue.Status(strings.ToLower(strings.TrimSpace(status))))
			}
			runs, err := store.ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			printRuns(out, runs)
			summary, err := store.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d runs: %d completed, %d failed, %d interrupted, %d running\n",
				summary.Total, summary.Completed, summary.Failed, summary.Interrupted, summary.Running)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Only runs of this subject")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only runs with these statuses (running, completed, failed, interrupted)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")

	cmd.AddCommand(newStatusInterruptCommand(ctx))
	cmd.AddCommand(newStatusPruneCommand(ctx))
	return cmd
}

func newStatusInterruptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt",
		Short: "Mark runs left running by a crashed process as interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			count, err := store.MarkInterrupted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d runs interrupted\n", count)
			return nil
		},
	}
}

func newStatusPruneCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.Logging.RetentionDays
			}
			if days <= 0 {
				return services.Wrap(services.ErrConfiguration, "status", "prune", "--days or logging.retention_days must be positive", nil)
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			count, err := store.Prune(cmd.Context(), time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs older than %d days\n", count, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Age in days (default: logging.retention_days)")
	return cmd
}

func printRuns(out io.Writer, runs []*queue.Run) {
	now := time.Now()
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			run.Subject,
			dash(run.Session),
			string(run.Status),
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			formatDuration(run.Duration(now)),
			dash(firstLine(run.ErrorMessage)),
		})
	}
	fmt.Fprintln(out, renderTable([]column{
		textCol("Run"), textCol("Subject"), textCol("Session"), textCol("Status"),
		textCol("Started"), numCol("Duration"), textCol("Error"),
	}, rows, ""))
}

func printRunDetail(out io.Writer, run *queue.Run, stages []queue.StageRecord, colorize bool) {
	message := string(run.Status)
	if run.ErrorMessage != "" {
		message += ": " + firstLine(run.ErrorMessage)
	}
	fmt.Fprintln(out, renderStatusLine("Run "+shortID(run.ID), runKind(run.Status), message, colorize))
	fmt.Fprintf(out, "  %-*s %s\n", statusLabelWidth, "Scan:", run.ScanPath)
	fmt.Fprintf(out, "  %-*s %s\n", statusLabelWidth, "Output:", run.OutputDir)
	fmt.Fprintf(out, "  %-*s %s\n", statusLabelWidth, "Test mode:", yesNo(run.TestMode))

	rows := make([][]string, 0, len(stages))
	for _, record := range stages {
		rows = append(rows, []string{
			strconv.Itoa(record.Position + 1),
			stageexec.Label(record.Stage),
			record.State,
			yesNo(record.Reused),
			formatDuration(record.Duration),
			dash(firstLine(record.ErrorMessage)),
		})
	}
	fmt.Fprintln(out, renderTable([]column{
		numCol("#"), textCol("Stage"), textCol("State"), textCol("Reused"), numCol("Duration"), textCol("Error"),
	}, rows, "no stages recorded"))
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
