package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ludic-games/contentfs/pkg/filepath"
	"github.com/ludic-games/contentfs/pkg/saveload"
	"github.com/spf13/cobra"
)

var (
	saveGameDirectory uint8
	saveDir           string
	saveKeyHex        string
	saveCloudURL      string
	saveVersion       int32
	saveDataFile      string
	saveForceCloud    bool
)

var saveCmd = &cobra.Command{
	Use:   "save <relative-path>",
	Short: "Encode and write a JSON document to a save slot",
	Long: `save reads a JSON object (from --data-file, or stdin if omitted),
encodes it through the same encrypted container format the game client
uses, and queues it onto a throwaway SaveLoadService.`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)

	saveCmd.Flags().Uint8Var(&saveGameDirectory, "game-directory", 0, "game directory tag of the slot's file path")
	saveCmd.Flags().StringVar(&saveDir, "save-dir", "", "absolute directory for local save blobs (required)")
	saveCmd.Flags().StringVar(&saveKeyHex, "save-key", "", "64 hex-digit AES-256 key protecting save blobs (required)")
	saveCmd.Flags().StringVar(&saveCloudURL, "cloud-save-url", "", "HTTP URL of the cloud save endpoint, if any")
	saveCmd.Flags().Int32Var(&saveVersion, "version", 1, "document schema version to stamp this save with")
	saveCmd.Flags().StringVar(&saveDataFile, "data-file", "", "path to a JSON document to save (default: read stdin)")
	saveCmd.Flags().BoolVar(&saveForceCloud, "force-cloud", false, "bypass the per-slot cloud-save rate limit")

	for _, name := range []string{"save-dir", "save-key"} {
		_ = saveCmd.MarkFlagRequired(name)
	}
}

func readJSONDocument(path string) (map[string]interface{}, error) {
	var raw []byte
	var err error
	if path == "" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document as JSON: %w", err)
	}
	return doc, nil
}

func runSave(cmd *cobra.Command, args []string) error {
	key, err := parseSaveKey(saveKeyHex)
	if err != nil {
		return err
	}
	doc, err := readJSONDocument(saveDataFile)
	if err != nil {
		return err
	}

	svc := saveload.New(key, saveload.Config{
		AbsoluteSaveDirectory: saveDir,
		Logger:                logger.WithField("service", "saveload"),
	})
	defer svc.Shutdown()

	slot := filepath.NewFromRelativeFilename(filepath.GameDirectory(saveGameDirectory), args[0])

	handle, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:                slot,
		CloudURL:            saveCloudURL,
		SaveData:            doc,
		Version:             saveVersion,
		ForceImmediateCloud: saveForceCloud,
	})
	if err != nil {
		return fmt.Errorf("failed to queue save: %w", err)
	}
	if err := handle.Wait(); err != nil {
		return fmt.Errorf("save failed: %w", err)
	}
	fmt.Println("save complete")
	return nil
}
