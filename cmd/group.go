package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-grouper/internal/constants"
	"github.com/kozaktomas/face-grouper/internal/grouper"
)

var groupCmd = &cobra.Command{
	Use:   "group <root>...",
	Short: "Group the photos of one or more directories by person",
	Long: `Process each root in order: build a plan and distribute the photos into
per-person folders inside the root. Missing roots are reported and skipped.
Use --dry-run to only report what would happen.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGroup,
}

func init() {
	rootCmd.AddCommand(groupCmd)
	addGroupingFlags(groupCmd)
	groupCmd.Flags().Bool("dry-run", false, "Build plans without moving or copying files")
}

const rootMissing = "directory not found"

// rootReport is the JSON output for one processed root.
type rootReport struct {
	Root       string   `json:"root"`
	Error      string   `json:"error,omitempty"`
	Clusters   int      `json:"clusters"`
	Entries    int      `json:"entries"`
	Moved      int      `json:"moved"`
	Copied     int      `json:"copied"`
	Failures   []string `json:"failures,omitempty"`
	Unreadable []string `json:"unreadable,omitempty"`
	NoFaces    []string `json:"no_faces,omitempty"`

	UnreadableCount int `json:"unreadable_count"`
	NoFacesCount    int `json:"no_faces_count"`
}

func runGroup(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	dryRun := mustGetBool(cmd, "dry-run")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	opts := groupingOptions(cmd, cfg)
	if err := validateGroupingOptions(opts); err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	reports := make([]rootReport, 0, len(args))
	failed := 0
	for i, root := range args {
		if !jsonOutput {
			fmt.Printf("[%d/%d] %s\n", i+1, len(args), root)
		}
		report := groupRoot(cmd.Context(), a.grouper, root, opts, dryRun, jsonOutput)
		if report.Error != "" {
			failed++
			logger.Warn("root failed", zap.String("root", root), zap.String("error", report.Error))
		}
		reports = append(reports, report)
		if !jsonOutput {
			printRootReport(report)
		}

		if cmd.Context().Err() != nil {
			break
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	}
	if err := cmd.Context().Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d roots failed", failed, len(args))
	}
	return nil
}

func groupRoot(ctx context.Context, g *grouper.Grouper, root string, opts grouper.Options, dryRun, quiet bool) rootReport {
	report := rootReport{Root: root}

	if err := grouper.CheckRoot(root); err != nil {
		report.Error = rootMissing
		return report
	}

	var sink *progressSink
	if !quiet {
		sink = newProgressSink("Analyzing faces")
		opts.Progress = sink.Update
	}
	p, err := g.BuildPlan(ctx, root, opts)
	if sink != nil {
		sink.Finish()
	}
	if err != nil {
		report.Error = err.Error()
		return report
	}

	report.Clusters = len(p.ClusterIDs())
	report.Entries = len(p.Entries())
	report.Unreadable = truncatePaths(p.Unreadable())
	report.NoFaces = truncatePaths(p.NoFaces())
	report.UnreadableCount = len(p.Unreadable())
	report.NoFacesCount = len(p.NoFaces())
	if dryRun {
		return report
	}

	result, err := g.DistributeResult(ctx, p, root)
	if result != nil {
		report.Moved, report.Copied = result.Counts()
		for _, f := range result.Failures {
			report.Failures = append(report.Failures, f.Error())
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		report.Error = "interrupted"
	case err != nil:
		report.Error = err.Error()
	case len(report.Failures) > 0:
		report.Error = fmt.Sprintf("%d files could not be distributed", len(report.Failures))
	}
	return report
}

func truncatePaths(paths []string) []string {
	if len(paths) > constants.ReportListLimit {
		return paths[:constants.ReportListLimit]
	}
	return paths
}

func printRootReport(r rootReport) {
	if r.Error == rootMissing {
		fmt.Printf("  Directory not found, skipped\n")
		return
	}
	fmt.Printf("  People: %d, photos: %d\n", r.Clusters, r.Entries)
	fmt.Printf("  Moved: %d, copied: %d\n", r.Moved, r.Copied)
	for _, f := range r.Failures {
		fmt.Printf("  Failed: %s\n", f)
	}
	printPaths("  Unreadable files", r.Unreadable, r.UnreadableCount)
	printPaths("  Photos without faces", r.NoFaces, r.NoFacesCount)
	if r.Error != "" && len(r.Failures) == 0 {
		fmt.Printf("  Error: %s\n", r.Error)
	}
}
