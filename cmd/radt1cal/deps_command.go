package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"radt1cal/internal/deps"
	"radt1cal/internal/preflight"
	"radt1cal/internal/services"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external tool availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := preflight.CheckSystemDeps(cmd.Context(), cfg)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, "Dependencies:")
			for _, status := range statuses {
				fmt.Fprintln(out, renderDependency(status, colorize))
			}
			for _, check := range []preflight.Result{
				preflight.CheckReferenceImage("Template", cfg.Paths.Template),
				preflight.CheckReferenceImage("Atlas", cfg.Paths.Atlas),
			} {
				kind, detail := statusOK, check.Detail
				if !check.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(check.Name, kind, detail, colorize))
			}

			if missing := deps.MissingRequired(statuses); len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for _, status := range missing {
					names = append(names, status.Command)
				}
				return services.Wrap(services.ErrConfiguration, "deps", "check",
					fmt.Sprintf("missing required tools: %v", names), nil)
			}
			return nil
		},
	}
}

func renderDependency(status deps.Status, colorize bool) string {
	label := fmt.Sprintf("%s (%s)", status.Name, status.Command)
	switch {
	case status.Available:
		return renderStatusLine(label, statusOK, status.Path, colorize)
	case status.Optional:
		return renderStatusLine(label, statusWarn, status.Detail, colorize)
	default:
		return renderStatusLine(label, statusError, status.Detail, colorize)
	}
}
