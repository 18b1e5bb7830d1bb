package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"radt1cal/internal/stageexec"
	"radt1cal/internal/workflow"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var scan string
	var flags referenceFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the validated stage execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cfg); err != nil {
				return err
			}
			if strings.TrimSpace(scan) == "" {
				scan = "<subject>_T1w.nii.gz"
			}
			graph, err := workflow.BuildGraph(workflow.NewToolset(cfg, nil, nil), workflow.Inputs{
				Scan:     scan,
				Template: cfg.Paths.Template,
				Atlas:    cfg.Paths.Atlas,
			})
			if err != nil {
				return err
			}
			order, err := graph.Validate(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(order))
			for i, name := range order {
				s, _ := graph.Stage(name)
				deps := strings.Join(graph.Dependencies(name), ", ")
				if deps == "" {
					deps = "-"
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", i+1),
					stageexec.Label(name),
					deps,
					s.Tool.Identity(),
					formatDuration(cfg.StageTimeout(name)),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]column{
				numCol("#"), textCol("Stage"), textCol("Depends On"), textCol("Tool"), numCol("Timeout"),
			}, rows, ""))
			fmt.Fprintf(out, "Template: %s\nAtlas:    %s\nTest mode: %s\n",
				cfg.Paths.Template, cfg.Paths.Atlas, yesNo(cfg.Registration.TestMode))
			return nil
		},
	}

	cmd.Flags().StringVar(&scan, "scan", "", "Scan path shown in the plan")
	flags.register(cmd)
	return cmd
}
