package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"radt1cal/internal/deps"
	"radt1cal/internal/features"
	"radt1cal/internal/roi"
	"radt1cal/internal/services"
	"radt1cal/internal/volume"
	"radt1cal/internal/workflow"
)

func newAggregateCommand(ctx *commandContext) *cobra.Command {
	var (
		imagePath  string
		atlasPath  string
		out        string
		maxLabel   int
		noFeatures bool
		families   []string
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Measure every atlas region of an image",
		Long: `Compute per-region volumes (and radiomics features unless disabled) for an
atlas already warped onto the image grid. Tables are named after the atlas:
<atlasBase>_volumes.csv, <atlasBase>_radiomicsFeatures.csv and
<atlasBase>_failedRegions.csv, written to --out (a directory, or a file whose
directory is used) or the current directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(imagePath) == "" || strings.TrimSpace(atlasPath) == "" {
				return services.Wrap(services.ErrConfiguration, "cli", "aggregate", "--image and --atlas are required", nil)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			image, err := volume.Load(imagePath)
			if err != nil {
				return services.Wrap(services.ErrNoInput, "cli", "load image", imagePath, err)
			}
			atlas, err := volume.Load(atlasPath)
			if err != nil {
				return services.Wrap(services.ErrNoInput, "cli", "load atlas", atlasPath, err)
			}

			opts := workflow.AggregateOptions(cfg)
			if maxLabel > 0 {
				opts.MaxLabel = maxLabel
			}
			if len(families) > 0 {
				opts.Features.EnabledFamilies = families
			}
			var extractor features.Extractor
			if cfg.Features.Enabled && !noFeatures {
				extractor = features.NewRadiomics(deps.Resolve(cfg.Tools.Radiomics, deps.SuiteRadiomics), services.NewExecutor(workflow.ToolEnvironment(cfg)...), logger)
				scratch, err := os.MkdirTemp(cfg.Paths.WorkDir, "aggregate-")
				if err != nil {
					return services.Wrap(services.ErrConfiguration, "cli", "aggregate", "create scratch directory", err)
				}
				defer os.RemoveAll(scratch)
				opts.ScratchDir = scratch
			}

			result, err := roi.NewAggregator(extractor, logger).Aggregate(cmd.Context(), atlas, image, opts)
			if err != nil {
				return err
			}
			paths, err := result.WriteTables(out)
			if err != nil {
				return services.Wrap(services.ErrStageExecution, "cli", "write tables", "", err)
			}

			w := cmd.OutOrStdout()
			rows := make([][]string, 0, len(result.Regions))
			for _, region := range result.Regions {
				rows = append(rows, []string{
					strconv.Itoa(region.Region),
					strconv.Itoa(region.Voxels),
					strconv.FormatFloat(region.Volume, 'f', 2, 64),
					strconv.Itoa(len(region.Features)),
				})
			}
			fmt.Fprintln(w, renderTable([]column{
				numCol("ROI"), numCol("Voxels"), numCol("Volume (mm3)"), numCol("Features"),
			}, rows, "atlas has no labelled regions"))
			for _, path := range []string{paths.Volumes, paths.Features, paths.Failures} {
				if path != "" {
					fmt.Fprintf(w, "Wrote %s\n", path)
				}
			}
			if len(result.Failures) > 0 {
				fmt.Fprintln(w, renderStatusLine("Failed regions", statusWarn,
					fmt.Sprintf("%d (see %s)", len(result.Failures), paths.Failures), shouldColorize(w)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Subject image (bias corrected, in subject space)")
	cmd.Flags().StringVarP(&atlasPath, "atlas", "a", "", "Atlas labels resampled onto the image grid")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output directory or file path for the tables")
	cmd.Flags().IntVar(&maxLabel, "max-label", 0, "Highest region id (default: derived from the atlas)")
	cmd.Flags().BoolVar(&noFeatures, "no-features", false, "Compute volumes only")
	cmd.Flags().StringSliceVar(&families, "families", nil, "Radiomics feature families to compute (default: all)")
	return cmd
}
