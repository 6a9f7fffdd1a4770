package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/curvesearch/internal/catalog"
	"github.com/cwbudde/curvesearch/internal/server"
)

var (
	serveAddr    string
	serveStore   string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server",
	Long: `Starts the job server. Searches are submitted with POST /api/v1/jobs,
followed with GET /api/v1/jobs/{id}/stream and their reports, plots and
charts are served once finished.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveStore, "store", storeFS, "Report store for finished jobs: fs, sqlite or none")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Base directory for report storage")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, closeStore, err := openStore(serveStore, serveDataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := server.NewServer(serveAddr, server.NewJobManager(catalog.Default(), st))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Received signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
