// Command contentfsd is an example daemon wiring a PackageDownloader
// and a SaveLoadService together: the two long-running services a
// typical game client keeps alive side by side.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logger   = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "contentfsd",
	Short: "Content distribution and patching daemon",
	Long: `contentfsd materialises a patchable package archive from a remote
server over HTTP range requests and exposes an encrypted save/load
service, both as used by a running game client.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
		}
		logger.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
