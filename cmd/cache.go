package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-grouper/internal/config"
	"github.com/kozaktomas/face-grouper/internal/database"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
	Long: `Commands for managing the face analysis cache. The cache backend is
selected with CACHE_DRIVER (sqlite or postgres).`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many analyses are cached",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached analysis",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheClearCmd.Flags().Bool("yes", false, "Do not ask for confirmation")
}

func openCache(cmd *cobra.Command) (database.AnalysisCache, *config.Config, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = logger.Sync() }()

	cache, err := database.Open(cmd.Context(), &cfg.Cache)
	if err != nil {
		return nil, nil, err
	}
	if cache == nil {
		return nil, nil, errors.New("analysis cache is disabled (set CACHE_DRIVER to sqlite or postgres)")
	}
	return cache, cfg, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cache, cfg, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer cache.Close()

	count, err := cache.Count(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to count cached analyses: %w", err)
	}

	fmt.Printf("Driver:   %s\n", cfg.Cache.Driver)
	if cfg.Cache.Driver == "sqlite" {
		fmt.Printf("File:     %s\n", cfg.Cache.CachePath())
	}
	fmt.Printf("Analyses: %d\n", count)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		fmt.Print("Remove every cached analysis? [y/N] ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	cache, _, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Println("Cache cleared")
	return nil
}
