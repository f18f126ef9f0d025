package main

import (
	"encoding/json"
	"fmt"

	"github.com/ludic-games/contentfs/pkg/filepath"
	"github.com/ludic-games/contentfs/pkg/saveload"
	"github.com/spf13/cobra"
)

var (
	loadGameDirectory   uint8
	loadDir             string
	loadKeyHex          string
	loadCloudURL        string
	loadExpectedVersion int32
)

var loadCmd = &cobra.Command{
	Use:   "load <relative-path>",
	Short: "Read a save slot and print its document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().Uint8Var(&loadGameDirectory, "game-directory", 0, "game directory tag of the slot's file path")
	loadCmd.Flags().StringVar(&loadDir, "save-dir", "", "absolute directory save blobs are read from (required)")
	loadCmd.Flags().StringVar(&loadKeyHex, "save-key", "", "64 hex-digit AES-256 key protecting save blobs (required)")
	loadCmd.Flags().StringVar(&loadCloudURL, "cloud-save-url", "", "HTTP URL of the cloud save endpoint, if any")
	loadCmd.Flags().Int32Var(&loadExpectedVersion, "expected-version", 1, "document schema version migrations should converge to")

	for _, name := range []string{"save-dir", "save-key"} {
		_ = loadCmd.MarkFlagRequired(name)
	}
}

func runLoad(cmd *cobra.Command, args []string) error {
	key, err := parseSaveKey(loadKeyHex)
	if err != nil {
		return err
	}

	svc := saveload.New(key, saveload.Config{
		AbsoluteSaveDirectory: loadDir,
		Logger:                logger.WithField("service", "saveload"),
	})
	defer svc.Shutdown()

	slot := filepath.NewFromRelativeFilename(filepath.GameDirectory(loadGameDirectory), args[0])

	var doc map[string]interface{}
	handle := svc.QueueLoad(saveload.QueueLoadRequest{
		Slot:            slot,
		CloudURL:        loadCloudURL,
		ExpectedVersion: loadExpectedVersion,
		SaveData:        &doc,
	})
	if err := handle.Wait(); err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render document: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
