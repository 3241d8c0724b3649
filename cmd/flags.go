package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-grouper/internal/config"
	"github.com/kozaktomas/face-grouper/internal/grouper"
)

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
// This is appropriate for flags defined in init() - errors indicate programming bugs.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetFloat64 gets a float64 flag value or panics if the flag doesn't exist.
func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	val, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetStringSlice gets a string slice flag value or panics if the flag doesn't exist.
func mustGetStringSlice(cmd *cobra.Command, name string) []string {
	val, err := cmd.Flags().GetStringSlice(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// addGroupingFlags registers the flags shared by plan and group. Unset flags
// and zero sizes keep the configured defaults.
func addGroupingFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("score-threshold", 0, "Minimum face detection score (0-1)")
	cmd.Flags().Int("min-cluster-size", 0, "Minimum faces per person cluster")
	cmd.Flags().Int("workers", 0, "Concurrent image analyses (only for thread-safe analyzers)")
	cmd.Flags().StringSlice("providers", nil, "Compute providers for the face service, e.g. CUDAExecutionProvider")
	cmd.Flags().Bool("json", false, "Output as JSON")
}

// groupingOptions merges the grouping flags over the configuration.
func groupingOptions(cmd *cobra.Command, cfg *config.Config) grouper.Options {
	opts := grouper.Options{
		ScoreThreshold: grouper.Threshold(cfg.Collect.MinScore),
		MinClusterSize: cfg.Clustering.MinClusterSize,
		Workers:        cfg.Collect.Workers,
		Providers:      cfg.Analyzer.Providers,
	}
	if cmd.Flags().Changed("score-threshold") {
		opts.ScoreThreshold = grouper.Threshold(mustGetFloat64(cmd, "score-threshold"))
	}
	if v := mustGetInt(cmd, "min-cluster-size"); v > 0 {
		opts.MinClusterSize = v
	}
	if v := mustGetInt(cmd, "workers"); v > 0 {
		opts.Workers = v
	}
	if v := mustGetStringSlice(cmd, "providers"); len(v) > 0 {
		opts.Providers = v
	}
	return opts
}

// validateGroupingOptions rejects flag values the pipeline cannot use.
func validateGroupingOptions(opts grouper.Options) error {
	if s := opts.ScoreThreshold; s != nil && (*s < 0 || *s > 1) {
		return fmt.Errorf("--score-threshold must be within [0, 1], got %v", *s)
	}
	if opts.MinClusterSize < 2 {
		return fmt.Errorf("--min-cluster-size must be at least 2, got %d", opts.MinClusterSize)
	}
	return nil
}
