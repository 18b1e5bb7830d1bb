package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"radt1cal/internal/config"
	"radt1cal/internal/services"
	"radt1cal/internal/workflow"
)

// referenceFlags are the overrides shared by run and batch.
type referenceFlags struct {
	template string
	atlas    string
	testMode bool
	noStore  bool
}

func (f *referenceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.template, "template", "", "Template image registered onto each subject (overrides paths.template)")
	cmd.Flags().StringVar(&f.atlas, "atlas", "", "Atlas label image in template space (overrides paths.atlas)")
	cmd.Flags().BoolVar(&f.testMode, "test-mode", false, "Use the short registration schedule")
	cmd.Flags().BoolVar(&f.noStore, "no-ledger", false, "Do not record the run in the run ledger")
}

func (f *referenceFlags) apply(cfg *config.Config) error {
	for _, override := range []struct {
		value  string
		target *string
	}{
		{f.template, &cfg.Paths.Template},
		{f.atlas, &cfg.Paths.Atlas},
	} {
		if strings.TrimSpace(override.value) == "" {
			continue
		}
		expanded, err := config.ExpandPath(strings.TrimSpace(override.value))
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "cli", "resolve path", override.value, err)
		}
		*override.target = expanded
	}
	if f.testMode {
		cfg.Registration.TestMode = true
	}
	return nil
}

func (c *commandContext) newRunner(flags *referenceFlags) (*workflow.Runner, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := flags.apply(cfg); err != nil {
		return nil, nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, nil, err
	}
	opts := []workflow.Option{workflow.WithLogger(logger)}
	cleanup := func() {}
	if !flags.noStore {
		store, err := c.openStore()
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, workflow.WithStore(store))
		cleanup = func() { store.Close() }
	}
	return workflow.NewRunner(cfg, opts...), cleanup, nil
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var req workflow.SubjectRequest
	var flags referenceFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one subject",
		Long: `Process every T1w scan of one subject: reorient, brain extraction, bias
correction, template registration, atlas warping and ROI measurement.
Derivatives are written to <out>/<pipeline>/<subject>[/<session>]/anat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Subject) == "" {
				return services.Wrap(services.ErrConfiguration, "cli", "run", "--subject is required", nil)
			}
			if strings.TrimSpace(req.ParentDir) == "" && strings.TrimSpace(req.ScanPath) == "" {
				return services.Wrap(services.ErrConfiguration, "cli", "run", "--parent-dir or --scan is required", nil)
			}
			runner, cleanup, err := ctx.newRunner(&flags)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := runner.RunSubject(cmd.Context(), req)
			if result != nil {
				printSubjectResult(cmd.OutOrStdout(), result, shouldColorize(cmd.OutOrStdout()))
			}
			if err != nil {
				return fmt.Errorf("%s failed: %w", req.Subject, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.ParentDir, "parent-dir", "p", "", "Dataset directory containing sub-* folders")
	cmd.Flags().StringVarP(&req.Subject, "subject", "s", "", "Subject id (sub-XX)")
	cmd.Flags().StringVar(&req.Session, "session", "", "Session id (ses-XX)")
	cmd.Flags().StringVar(&req.ScanPath, "scan", "", "Process this scan instead of discovering *T1w.nii.gz")
	cmd.Flags().StringVarP(&req.OutputDir, "out", "o", "", "Output directory (overrides paths.output_root)")
	flags.register(cmd)
	return cmd
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var req workflow.BatchRequest
	var flags referenceFlags

	cmd := &cobra.Command{
		Use:   "batch [subject...]",
		Short: "Process every subject of a dataset",
		Long: `Process every sub-* folder under the parent directory, or only the listed
subjects. A failing subject is reported and the batch continues; the command
exits non-zero when any subject failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.ParentDir) == "" {
				return services.Wrap(services.ErrConfiguration, "cli", "batch", "--parent-dir is required", nil)
			}
			req.Subjects = args
			runner, cleanup, err := ctx.newRunner(&flags)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := runner.RunBatch(cmd.Context(), req)
			if result != nil {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, subject := range result.Subjects {
					printSubjectResult(out, subject, colorize)
				}
				printBatchSummary(out, result, colorize)
			}
			if err != nil {
				return err
			}
			if failed := result.Failed(); len(failed) > 0 {
				names := make([]string, 0, len(failed))
				for _, subject := range failed {
					names = append(names, subject.Subject)
				}
				return fmt.Errorf("%d of %d subjects failed: %s",
					len(failed), len(result.Subjects), strings.Join(names, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.ParentDir, "parent-dir", "p", "", "Dataset directory containing sub-* folders")
	cmd.Flags().StringVar(&req.Session, "session", "", "Session id (ses-XX)")
	cmd.Flags().StringVarP(&req.OutputDir, "out", "o", "", "Output directory (overrides paths.output_root)")
	flags.register(cmd)
	return cmd
}

func printSubjectResult(out io.Writer, result *workflow.SubjectResult, colorize bool) {
	if result == nil {
		return
	}
	label := result.Subject
	if result.Session != "" {
		label += "/" + result.Session
	}
	if len(result.Scans) == 0 {
		kind, message := statusOK, "no scans"
		if result.Err != nil {
			kind, message = statusError, firstLine(services.Details(result.Err).Message)
		}
		fmt.Fprintln(out, renderStatusLine(label, kind, message, colorize))
		return
	}
	for _, scan := range result.Scans {
		kind, message := statusOK, fmt.Sprintf("%d outputs published", len(scan.Published))
		if scan.Err != nil {
			kind, message = statusError, firstLine(services.Details(scan.Err).Message)
		}
		fmt.Fprintln(out, renderStatusLine(label, kind, message, colorize))
		fmt.Fprintf(out, "  %-*s %s (run %s)\n", statusLabelWidth, "", scan.Scan.Path, shortID(scan.RunID))
		if scan.Report != nil {
			for _, name := range scan.Report.Order {
				stage := scan.Report.Stages[name]
				detail := formatDuration(stage.Duration())
				if stage.Reused {
					detail = "reused"
				}
				if stage.BlockedBy != "" {
					detail = "blocked by " + stage.BlockedBy
				}
				fmt.Fprintln(out, "  "+renderStatusLine(name, stageKind(stage.State), stage.State.String()+" "+detail, colorize))
			}
		}
		names := make([]string, 0, len(scan.Published))
		for name := range scan.Published {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "    %s\n", scan.Published[name])
		}
	}
}

func printBatchSummary(out io.Writer, result *workflow.BatchResult, colorize bool) {
	failed := len(result.Failed())
	kind := statusOK
	if failed > 0 {
		kind = statusError
	}
	fmt.Fprintln(out, renderStatusLine("Batch", kind,
		fmt.Sprintf("%d subjects, %d failed", len(result.Subjects), failed), colorize))
}
