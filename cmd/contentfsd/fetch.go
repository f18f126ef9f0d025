package main

import (
	"fmt"
	"strings"

	"github.com/ludic-games/contentfs/pkg/archive"
	"github.com/ludic-games/contentfs/pkg/downloader"
	"github.com/ludic-games/contentfs/pkg/filepath"
	"github.com/spf13/cobra"
)

var (
	fetchTargetPath    string
	fetchInitialURL    string
	fetchPlatform      string
	fetchPopulate      []string
	fetchGameDirectory uint8
	fetchPriority      string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <relative-path>...",
	Short: "Fetch one or more entries into the target archive and wait for completion",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchTargetPath, "target", "", "absolute path of the target archive (required)")
	fetchCmd.Flags().StringVar(&fetchInitialURL, "initial-url", "", "HTTP URL of the canonical remote archive (required)")
	fetchCmd.Flags().StringVar(&fetchPlatform, "platform", "", "platform tag the target and any donor archives must share (required)")
	fetchCmd.Flags().StringArrayVar(&fetchPopulate, "populate", nil, "absolute path of a local archive that may donate bytes during init (repeatable)")
	fetchCmd.Flags().Uint8Var(&fetchGameDirectory, "game-directory", 0, "game directory tag of the requested file paths")
	fetchCmd.Flags().StringVar(&fetchPriority, "priority", "normal", "fetch priority: low, normal, or critical")

	for _, name := range []string{"target", "initial-url", "platform"} {
		_ = fetchCmd.MarkFlagRequired(name)
	}
}

func parsePriority(s string) (downloader.Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return downloader.PriorityLow, nil
	case "normal":
		return downloader.PriorityNormal, nil
	case "critical":
		return downloader.PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown --priority %q", s)
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	priority, err := parsePriority(fetchPriority)
	if err != nil {
		return err
	}

	dl := downloader.New(downloader.Config{
		AbsoluteTargetPath: fetchTargetPath,
		InitialURL:         fetchInitialURL,
		Platform:           archive.Platform(fetchPlatform),
		PopulatePackages:   fetchPopulate,
		Logger:             logger.WithField("service", "downloader"),
	})
	defer dl.Shutdown()

	directory := filepath.GameDirectory(fetchGameDirectory)
	paths := make([]filepath.FilePath, 0, len(args))
	for _, rel := range args {
		paths = append(paths, filepath.NewFromRelativeFilename(directory, rel))
	}

	token := dl.Fetch(paths, priority)
	if err := token.Wait(); err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	stats := dl.GetStats()
	fmt.Println("fetch complete")
	for event, count := range stats.Events {
		fmt.Printf("  %s=%d\n", event, count)
	}
	return nil
}
