package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-grouper/internal/distribute"
)

var distributeCmd = &cobra.Command{
	Use:   "distribute <plan-file>",
	Short: "Move and copy photos into per-person folders according to a plan",
	Long: `Apply a plan written by "face-grouper plan". Photos of one person are moved
into that person's folder, photos of several people are copied into each
folder. Source directories left empty are removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDistribute,
}

func init() {
	rootCmd.AddCommand(distributeCmd)
	distributeCmd.Flags().String("base-dir", "", "Directory receiving the person folders (default: the plan root)")
	distributeCmd.Flags().String("collision", "", "Existing destination handling: overwrite, fail or rename")
	distributeCmd.Flags().Bool("json", false, "Output as JSON")
}

// distributeSummary is the JSON output of the distribute command.
type distributeSummary struct {
	Moved    int      `json:"moved"`
	Copied   int      `json:"copied"`
	Failures []string `json:"failures"`
	Pruned   []string `json:"pruned"`
}

func runDistribute(cmd *cobra.Command, args []string) error {
	baseDir := mustGetString(cmd, "base-dir")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if collision := mustGetString(cmd, "collision"); collision != "" {
		if _, err := distribute.ParsePolicy(collision); err != nil {
			return err
		}
		cfg.Distribute.Collision = collision
	}

	p, err := readPlan(args[0])
	if err != nil {
		return err
	}
	if baseDir == "" {
		baseDir = p.Root()
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.grouper.DistributeResult(cmd.Context(), p, baseDir)
	if result != nil {
		printDistributeResult(result, jsonOutput)
	}
	if err != nil {
		return fmt.Errorf("distribution stopped: %w", err)
	}
	if n := len(result.Failures); n > 0 {
		return fmt.Errorf("%d files could not be distributed", n)
	}
	return nil
}

func printDistributeResult(result *distribute.Result, jsonOutput bool) {
	if jsonOutput {
		summary := distributeSummary{
			Moved:  result.Moved,
			Copied: result.Copied,
			Pruned: result.Pruned,
		}
		for _, f := range result.Failures {
			summary.Failures = append(summary.Failures, f.Error())
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
		return
	}

	fmt.Printf("Moved:  %d\n", result.Moved)
	fmt.Printf("Copied: %d\n", result.Copied)
	if len(result.Pruned) > 0 {
		fmt.Printf("Removed %d empty directories\n", len(result.Pruned))
	}
	for _, f := range result.Failures {
		fmt.Printf("  Failed: %v\n", f)
	}
}
