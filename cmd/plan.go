package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-grouper/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan <root>",
	Short: "Build a grouping plan without touching any file",
	Long: `Detect faces in every image under root, cluster them and write the
resulting plan to a file. Review or edit the plan, then apply it with
"face-grouper distribute".`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	addGroupingFlags(planCmd)
	planCmd.Flags().StringP("output", "o", "plan.json", "Plan file (.json, .yaml or .yml)")
}

// planSummary is the JSON output of the plan command.
type planSummary struct {
	Root       string   `json:"root"`
	Output     string   `json:"output"`
	Clusters   int      `json:"clusters"`
	Entries    int      `json:"entries"`
	Unreadable []string `json:"unreadable"`
	NoFaces    []string `json:"no_faces"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	root := args[0]
	output := mustGetString(cmd, "output")
	jsonOutput := mustGetBool(cmd, "json")

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

	var sink *progressSink
	if !jsonOutput {
		sink = newProgressSink("Analyzing faces")
		opts.Progress = sink.Update
	}
	p, err := a.grouper.BuildPlan(cmd.Context(), root, opts)
	if sink != nil {
		sink.Finish()
	}
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}

	if err := writePlan(p, output); err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(planSummary{
			Root:       root,
			Output:     output,
			Clusters:   len(p.ClusterIDs()),
			Entries:    len(p.Entries()),
			Unreadable: p.Unreadable(),
			NoFaces:    p.NoFaces(),
		})
	}

	fmt.Printf("\nPlan written to %s\n", output)
	fmt.Printf("  People found:  %d\n", len(p.ClusterIDs()))
	fmt.Printf("  Photos placed: %d\n", len(p.Entries()))
	printPaths("Unreadable files", truncatePaths(p.Unreadable()), len(p.Unreadable()))
	printPaths("Photos without faces", truncatePaths(p.NoFaces()), len(p.NoFaces()))
	return nil
}

func writePlan(p *plan.Plan, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plan file: %w", err)
	}
	if err := p.Save(f, plan.FormatFromPath(path)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

func readPlan(path string) (*plan.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()

	p, err := plan.Load(f, plan.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	return p, nil
}
