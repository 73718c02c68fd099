package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jdombrowski/photools/internal/config"
	"github.com/Jdombrowski/photools/internal/extract"
	"github.com/Jdombrowski/photools/internal/history"
	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/scan"
	"github.com/Jdombrowski/photools/internal/security"
)

// scanCmd creates the scan command: a one-off synchronous scan.
func scanCmd() *cobra.Command {
	var (
		strategy  string
		recursive bool
		maxFiles  int
		maxDepth  int
		batchSize int
		record    bool
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "scan [directory]",
		Short: "Scan a directory for photo files",
		Long: `Walk a directory inside the sandbox and report every accepted photo file.
When PHOTOOLS_ALLOWED_DIRECTORIES is unset, the scanned directory itself
becomes the allow-list for this run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory := args[0]

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := initCLILogging(); err != nil {
				return err
			}
			defer logging.Sync()

			scanner, err := buildCLIScanner(cfg, directory, !jsonOut)
			if err != nil {
				return err
			}

			opts := scan.DefaultOptions()
			if cfg.DefaultStrategy != "" {
				st, err := scan.ParseStrategy(cfg.DefaultStrategy)
				if err != nil {
					return err
				}
				opts.Strategy = st
			}
			if cfg.BatchSize > 0 {
				opts.BatchSize = cfg.BatchSize
			}
			if strategy != "" {
				st, err := scan.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				opts.Strategy = st
			}
			opts.Recursive = recursive
			if maxFiles > 0 {
				opts.MaxFiles = maxFiles
			}
			if maxDepth > 0 {
				opts.MaxDepth = maxDepth
			}
			if batchSize > 0 {
				opts.BatchSize = batchSize
			}

			// Open the store before scanning so a bad database URL fails
			// fast instead of after minutes of walking.
			var hist *history.Store
			if record {
				if cfg.DatabaseURL == "" {
					return fmt.Errorf("--record requires PHOTOOLS_DATABASE_URL")
				}
				hist, err = openHistory(cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer hist.Close()
			}

			res, err := scanner.Scan(context.Background(), directory, opts)
			if !jsonOut {
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return err
			}

			if hist != nil {
				if err := hist.RecordScan(context.Background(), res); err != nil {
					return fmt.Errorf("record scan: %w", err)
				}
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "scan strategy: fast, full, incremental (default from config)")
	cmd.Flags().BoolVar(&recursive, "recursive", true, "descend into subdirectories")
	cmd.Flags().IntVar(&maxFiles, "max-files", 0, "stop after this many files (0 means no cap)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "cap recursion depth below the policy limit")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "progress snapshot interval in files")
	cmd.Flags().BoolVar(&record, "record", false, "record the result in the scan history database")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full result as JSON")

	return cmd
}

// estimateCmd creates the estimate command: scan scope without the scan.
func estimateCmd() *cobra.Command {
	var (
		recursive bool
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "estimate [directory]",
		Short: "Estimate scan scope without reading file contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory := args[0]

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := initCLILogging(); err != nil {
				return err
			}
			defer logging.Sync()

			scanner, err := buildCLIScanner(cfg, directory, false)
			if err != nil {
				return err
			}

			est, err := scanner.Estimate(context.Background(), directory, recursive)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				// Same shape as the API's estimate response.
				return enc.Encode(struct {
					Directory        string  `json:"directory"`
					Recursive        bool    `json:"recursive"`
					FileCount        int     `json:"file_count"`
					TotalSizeBytes   int64   `json:"total_size_bytes"`
					EstimatedSeconds float64 `json:"estimated_seconds"`
				}{est.Directory, est.Recursive, est.FileCount, est.TotalSize, est.EstimatedDuration.Seconds()})
			}
			fmt.Printf("estimate for %s\n", est.Directory)
			fmt.Printf("  files     %d\n", est.FileCount)
			fmt.Printf("  size      %.1f MB\n", float64(est.TotalSize)/(1024*1024))
			fmt.Printf("  duration  ~%s\n", est.EstimatedDuration.Round(time.Second))
			return nil
		},
	}

	cmd.Flags().BoolVar(&recursive, "recursive", true, "descend into subdirectories")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the estimate as JSON")

	return cmd
}

// initCLILogging keeps one-shot commands quiet: console logs on stderr,
// warnings and up unless --verbose asks for more.
func initCLILogging() error {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"})
}

// buildCLIScanner wires a scanner against the configured allow-list, or the
// target directory when no allow-list is configured. The one-shot commands
// use the full sandbox policy, not the clamped API copy.
func buildCLIScanner(cfg *config.Config, target string, progress bool) (*scan.Scanner, error) {
	dirs := cfg.AllowedDirs()
	if len(dirs) == 0 {
		dirs = []string{target}
	}
	guard, err := security.NewGuard(dirs, buildPolicy(cfg))
	if err != nil {
		return nil, err
	}
	var observer scan.ProgressFunc
	if progress {
		observer = func(p scan.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s: %d/%d files (%.0f%%)",
				p.Status, p.ProcessedFiles, p.TotalFiles, p.ProgressPercent())
		}
	}
	return scan.NewScanner(security.NewClassifier(guard), scan.NewRegistry(), extract.New(), observer), nil
}

func printResult(res *scan.Result) {
	fmt.Printf("scan %s finished: %s\n", res.ScanID, res.Status)
	fmt.Printf("  directory   %s\n", res.Directory)
	fmt.Printf("  strategy    %s\n", res.Strategy)
	fmt.Printf("  files       %d found, %d processed, %d ok, %d failed\n",
		res.TotalFiles, res.ProcessedFiles, res.SuccessfulFiles, res.FailedFiles)
	fmt.Printf("  duration    %s\n", res.Duration().Round(time.Millisecond))
	if len(res.Errors) > 0 {
		fmt.Printf("  errors      %d\n", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Printf("    %s\n", e)
		}
	}
}
