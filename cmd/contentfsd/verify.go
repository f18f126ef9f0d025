package main

import (
	"fmt"

	"github.com/ludic-games/contentfs/pkg/archive"
	"github.com/ludic-games/contentfs/pkg/downloader"
	"github.com/spf13/cobra"
)

var (
	verifyTargetPath string
	verifyInitialURL string
	verifyPlatform   string
	verifyPopulate   []string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Initialise a target archive and report its CRC32 verification status",
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyTargetPath, "target", "", "absolute path of the target archive to verify (required)")
	verifyCmd.Flags().StringVar(&verifyInitialURL, "initial-url", "", "HTTP URL of the canonical remote archive (required)")
	verifyCmd.Flags().StringVar(&verifyPlatform, "platform", "", "platform tag the target and any donor archives must share (required)")
	verifyCmd.Flags().StringArrayVar(&verifyPopulate, "populate", nil, "absolute path of a local archive that may donate bytes during init (repeatable)")

	for _, name := range []string{"target", "initial-url", "platform"} {
		_ = verifyCmd.MarkFlagRequired(name)
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	dl := downloader.New(downloader.Config{
		AbsoluteTargetPath: verifyTargetPath,
		InitialURL:         verifyInitialURL,
		Platform:           archive.Platform(verifyPlatform),
		PopulatePackages:   verifyPopulate,
		Logger:             logger.WithField("service", "downloader"),
	})
	defer dl.Shutdown()

	ok, report, err := dl.PerformCRC32Check(nil)
	if err != nil {
		return fmt.Errorf("crc check failed: %w", err)
	}

	var okCount, pendingCount, failedCount int
	for fp, status := range report {
		switch status {
		case downloader.EntryOk:
			okCount++
		case downloader.EntryPending:
			pendingCount++
		case downloader.EntryFailed:
			failedCount++
			fmt.Printf("FAILED %s\n", fp.RelativeFilename())
		}
	}
	fmt.Printf("ok=%d pending=%d failed=%d\n", okCount, pendingCount, failedCount)
	if !ok {
		return fmt.Errorf("%d entries failed CRC32 verification", failedCount)
	}
	return nil
}
