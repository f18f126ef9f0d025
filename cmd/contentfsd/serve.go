package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/ludic-games/contentfs/pkg/archive"
	"github.com/ludic-games/contentfs/pkg/downloader"
	"github.com/ludic-games/contentfs/pkg/program"
	"github.com/ludic-games/contentfs/pkg/saveload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	serveTargetPath   string
	serveInitialURL   string
	servePlatform     string
	servePopulate     []string
	serveConservative bool

	serveSaveDir       string
	serveSaveKeyHex    string
	serveCloudSaveRate time.Duration
	serveMetricsAddr   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the downloader and save/load service until terminated",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveTargetPath, "target", "", "absolute path of the target archive to materialise (required)")
	serveCmd.Flags().StringVar(&serveInitialURL, "initial-url", "", "HTTP URL of the canonical remote archive (required)")
	serveCmd.Flags().StringVar(&servePlatform, "platform", "", "platform tag the target and any donor archives must share (required)")
	serveCmd.Flags().StringArrayVar(&servePopulate, "populate", nil, "absolute path of a local archive that may donate bytes during init (repeatable)")
	serveCmd.Flags().BoolVar(&serveConservative, "conservative-bandwidth", false, "cap range requests at the conservative (256 KiB) ceiling instead of 1 MiB")

	serveCmd.Flags().StringVar(&serveSaveDir, "save-dir", "", "absolute directory for local save blobs (required)")
	serveCmd.Flags().StringVar(&serveSaveKeyHex, "save-key", "", "64 hex-digit AES-256 key protecting save blobs (required)")
	serveCmd.Flags().DurationVar(&serveCloudSaveRate, "cloud-save-rate-limit", 30*time.Second, "minimum interval between non-forced cloud saves for a given slot")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")

	for _, name := range []string{"target", "initial-url", "platform", "save-dir", "save-key"} {
		_ = serveCmd.MarkFlagRequired(name)
	}
}

func parseSaveKey(hexKey string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return key, fmt.Errorf("--save-key is not valid hex: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("--save-key must decode to %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	key, err := parseSaveKey(serveSaveKeyHex)
	if err != nil {
		return err
	}

	upperBound := uint64(0)
	if serveConservative {
		upperBound = downloader.ConservativeUpperBoundMaxBytesPerRequest
	}

	dlCfg := downloader.Config{
		AbsoluteTargetPath:           serveTargetPath,
		InitialURL:                   serveInitialURL,
		Platform:                     archive.Platform(servePlatform),
		PopulatePackages:             servePopulate,
		UpperBoundMaxBytesPerRequest: upperBound,
		Logger:                       logger.WithField("service", "downloader"),
	}

	slCfg := saveload.Config{
		AbsoluteSaveDirectory: serveSaveDir,
		CloudSaveRateLimit:    serveCloudSaveRate,
		Logger:                logger.WithField("service", "saveload"),
	}

	program.Run(func(ctx context.Context, siblings, dependencies program.Group) error {
		dl := downloader.New(dlCfg)
		svc := saveload.New(key, slCfg)

		if serveMetricsAddr != "" {
			addr := serveMetricsAddr
			siblings.Go(func(ctx context.Context, _, _ program.Group) error {
				return serveMetrics(ctx, addr)
			})
		}

		<-ctx.Done()
		dl.Shutdown()
		svc.Shutdown()
		return nil
	})
	return nil
}

// serveMetrics runs a Prometheus /metrics endpoint until ctx is done,
// at which point it drains in-flight scrapes before returning.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics server did not shut down cleanly")
		}
		return nil
	}
}
