package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alavret/sync-deps-from-hub-v2/internal/cmd/output"
	"github.com/alavret/sync-deps-from-hub-v2/internal/report"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	syncpkg "github.com/alavret/sync-deps-from-hub-v2/pkg/sync"
)

// NewSyncCommand creates the sync command: one full reconciliation run.
func (a *App) NewSyncCommand() *cobra.Command {
	var (
		dryRun          bool
		retainUnmanaged bool
		dumpFile        string
		reportFile      string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full reconciliation against the target directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("dry-run") {
				a.config.DryRun = dryRun
			}
			if cmd.Flags().Changed("retain-unmanaged") {
				a.config.RetainUnmanaged = retainUnmanaged
			}
			if dumpFile != "" {
				a.config.DumpFile = dumpFile
			}
			if reportFile != "" {
				a.config.ReportFile = reportFile
			}
			return a.runSync(cmd, false)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute all changes without applying them")
	cmd.Flags().BoolVar(&retainUnmanaged, "retain-unmanaged", false, "keep remote departments without an external identifier")
	cmd.Flags().StringVar(&dumpFile, "dump-file", "", "write the encoded hierarchy to this file")
	cmd.Flags().StringVar(&reportFile, "report", "", "write a Markdown run report to this file")

	return cmd
}

// NewPlanCommand creates the plan command: sync with dry-run forced on.
func (a *App) NewPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Compute the change plan without applying anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSync(cmd, true)
		},
	}
}

// runSync executes one engine run and renders its outcome.
func (a *App) runSync(cmd *cobra.Command, forceDryRun bool) error {
	engine, cleanup, err := a.Engine(forceDryRun)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := engine.Run(cmd.Context())
	if err != nil {
		return err
	}

	formatter := output.NewFormatter(output.DetectFormat(a.config.Format))
	if plan := result.Plan(); plan != nil && plan.HasChanges() {
		if err := formatter.Format(cmd.OutOrStdout(), output.PlanData(plan)); err != nil {
			return err
		}
	}
	if err := formatter.Format(cmd.OutOrStdout(), output.RunSummary(result)); err != nil {
		return err
	}

	if a.config.ReportFile != "" {
		if err := report.Save(a.config.ReportFile, result); err != nil {
			return err
		}
		a.logger.Info().Str("path", a.config.ReportFile).Msg("Run report written")
	}

	if result.Status == syncpkg.StatusPartial {
		a.logger.Warn().Msg("Run finished with partial failures")
	}
	return nil
}

// NewDumpCommand creates the dump command: encode the source hierarchy
// and render it, or re-load a previously written dump file.
func (a *App) NewDumpCommand() *cobra.Command {
	var (
		input string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Encode the source hierarchy and render or save it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.loadHierarchy(cmd, input)
			if err != nil {
				return err
			}

			if out != "" {
				if err := hierarchy.WriteDump(out, h); err != nil {
					return err
				}
				a.logger.Info().Str("path", out).Msg("Hierarchy dumped")
				return nil
			}

			formatter := output.NewFormatter(output.DetectFormat(a.config.Format))
			return formatter.Format(cmd.OutOrStdout(), output.DumpData(h))
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "re-load a previously written dump file instead of querying the source")
	cmd.Flags().StringVar(&out, "out", "", "write the dump to this file instead of rendering it")

	return cmd
}

// NewValidateCommand creates the validate command: run the integrity
// checks without touching the target directory.
func (a *App) NewValidateCommand() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the source hierarchy without applying anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.loadHierarchy(cmd, input)
			if err != nil {
				return err
			}

			rep := hierarchy.Validate(h)
			if len(rep.Errors) > 0 || len(rep.Warnings) > 0 {
				formatter := output.NewFormatter(output.DetectFormat(a.config.Format))
				if err := formatter.Format(cmd.OutOrStdout(), output.ValidationData(rep)); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Hierarchy is valid")
			}

			return rep.Err()
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "validate a previously written dump file instead of querying the source")

	return cmd
}

// loadHierarchy encodes the hierarchy from the source directory, or
// re-loads it from a dump file when one is given.
func (a *App) loadHierarchy(cmd *cobra.Command, input string) (*hierarchy.Hierarchy, error) {
	if input != "" {
		return hierarchy.ReadDump(input)
	}

	src, cleanup, err := a.Source()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return hierarchy.Encode(cmd.Context(), src)
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "syncdeps %s\n", a.version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit:   %s\n", a.commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:    %s\n", a.date)
			fmt.Fprintf(cmd.OutOrStdout(), "  built by: %s\n", a.builtBy)
		},
	}
}
