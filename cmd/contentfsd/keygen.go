package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a random 32-byte save key, hex-encoded",
	RunE: func(cmd *cobra.Command, args []string) error {
		var key [32]byte
		if _, err := rand.Read(key[:]); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		fmt.Println(hex.EncodeToString(key[:]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
