package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Jdombrowski/photools/internal/api"
	"github.com/Jdombrowski/photools/internal/config"
	"github.com/Jdombrowski/photools/internal/events"
	"github.com/Jdombrowski/photools/internal/extract"
	"github.com/Jdombrowski/photools/internal/history"
	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/metrics"
	"github.com/Jdombrowski/photools/internal/pipeline"
	"github.com/Jdombrowski/photools/internal/preview"
	"github.com/Jdombrowski/photools/internal/scan"
	"github.com/Jdombrowski/photools/internal/security"
	"github.com/Jdombrowski/photools/internal/storage"
	"github.com/Jdombrowski/photools/internal/storage/local"
	"github.com/Jdombrowski/photools/internal/storage/s3"
)

// serveCmd creates the serve command: the long-running API server with the
// import pipeline behind it.
func serveCmd() *cobra.Command {
	var (
		listenAddr  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the photools API server",
		Long: `Start the HTTP API with the metrics endpoint, the import worker pool and,
when PHOTOOLS_DATABASE_URL is set, the scan history store. The server only
touches paths under PHOTOOLS_ALLOWED_DIRECTORIES, and API callers operate
under the stricter api_max_* caps on top of the sandbox settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			if verbose {
				cfg.LogLevel = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "API listen address (overrides PHOTOOLS_LISTEN_ADDR)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "metrics listen address (overrides PHOTOOLS_METRICS_ADDR)")

	return cmd
}

func runServer(cfg *config.Config) error {
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Sync()

	logging.Info("starting photools server",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.Strings("allowed_dirs", cfg.AllowedDirs()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Scan history is optional. Without a database the API still works,
	// but finished scans vanish once they leave the in-memory registry.
	var hist *history.Store
	if cfg.DatabaseURL != "" {
		var err error
		hist, err = openHistory(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open scan history: %w", err)
		}
		defer hist.Close()
		logging.Info("scan history enabled")
	} else {
		logging.Info("no database configured, scan history disabled")
	}

	// API callers get the clamped policy copy; the api_max_* caps only
	// tighten the sandbox settings, never widen them.
	policy := buildPolicy(cfg).Clamp(cfg.APIMaxFileSizeMB*1024*1024, cfg.APIMaxScanDepth)
	guard, err := security.NewGuard(cfg.AllowedDirs(), policy)
	if err != nil {
		return fmt.Errorf("init sandbox: %w", err)
	}
	classifier := security.NewClassifier(guard)
	logging.Info("sandbox ready",
		zap.Int("allowed_dirs", len(guard.Roots())),
		zap.Int64("max_file_size", policy.MaxFileSize),
		zap.Int("max_depth", policy.MaxDepth))

	broadcaster := events.NewBroadcaster()

	scanner := scan.NewScanner(classifier, scan.NewRegistry(), extract.New(), func(p scan.Progress) {
		broadcaster.Publish(events.ScanProgress(p.ScanID, p.CurrentFile, p.ProcessedFiles, p.TotalFiles, p.ProgressPercent()))
	})

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer backend.Close()

	var recorder pipeline.Recorder
	if hist != nil {
		recorder = hist
	}
	previews := preview.New(preview.DefaultMaxSize, preview.DefaultQuality)
	importer := pipeline.NewImporter(classifier, backend, previews, recorder, broadcaster, cfg.Workers)
	importer.Start(ctx)
	defer importer.Stop()

	// Every finished scan is recorded and announced; completed ones feed
	// the import pipeline.
	scanner.OnComplete(func(res *scan.Result) {
		if hist != nil {
			if err := hist.RecordScan(context.Background(), res); err != nil {
				logging.Error("record scan", zap.String("scan_id", res.ScanID), zap.Error(err))
			}
		}
		percent := 0.0
		if res.TotalFiles > 0 {
			percent = float64(res.ProcessedFiles) / float64(res.TotalFiles) * 100
		}
		broadcaster.Publish(events.Event{
			Type:      events.EventScanCompleted,
			ScanID:    res.ScanID,
			Directory: res.Directory,
			Status:    string(res.Status),
			Processed: res.ProcessedFiles,
			Total:     res.TotalFiles,
			Percent:   percent,
		})
		if res.Status == scan.StatusCompleted {
			importer.EnqueueResult(res)
		}
	})

	srv := api.New(scanner, classifier, hist, broadcaster)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics server failed", zap.Error(err))
		}
	}()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	if hist != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					hist.UpdateConnectionMetrics()
				}
			}
		}()
	}

	logging.Info("photools API listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	logging.Info("server stopped")
	return nil
}

// buildBackend constructs the configured storage backend. The s3_use_ssl
// knob only matters when the endpoint is given without a scheme, the MinIO
// host:port style.
func buildBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	layout := storage.DefaultLayout()
	layout.OrganizeByDate = cfg.OrganizeByDate

	switch cfg.StorageBackend {
	case "s3":
		endpoint := cfg.S3Endpoint
		if endpoint != "" && !strings.Contains(endpoint, "://") {
			scheme := "http"
			if cfg.S3UseSSL {
				scheme = "https"
			}
			endpoint = scheme + "://" + endpoint
		}
		return s3.New(ctx, s3.Config{
			Endpoint:  endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Layout:    layout,
		})
	default:
		return local.New(local.Config{RootPath: cfg.LocalStoragePath, Layout: layout})
	}
}

// openHistory connects the history store and applies pending migrations.
func openHistory(databaseURL string) (*history.Store, error) {
	hist, err := history.New(databaseURL)
	if err != nil {
		return nil, err
	}
	if dir := findMigrationsDir(); dir != "" {
		if err := hist.Migrate(dir); err != nil {
			hist.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logging.Info("migrations applied", zap.String("dir", dir))
	} else {
		logging.Warn("migrations directory not found, assuming schema is current")
	}
	return hist, nil
}

// findMigrationsDir checks the usual locations relative to the working
// directory and the executable.
func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		filepath.Join("..", "migrations"),
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
