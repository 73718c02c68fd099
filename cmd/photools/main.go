// photools is a sandboxed photo directory scanner: it walks allow-listed
// directories under a constraint policy, serves the results over an HTTP
// API, and imports accepted photos into content-addressed storage.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jdombrowski/photools/internal/config"
	"github.com/Jdombrowski/photools/internal/security"
)

var (
	version = "1.0.0"
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "photools",
		Short: "Sandboxed photo directory scanner and import server",
		Long: `photools scans allow-listed directories for photo files inside a strict
filesystem sandbox and imports the results into content-addressed storage.

Configuration comes from PHOTOOLS_* environment variables; command flags
override individual settings for a single run.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(estimateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// versionCmd creates the version command.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the photools version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("photools %s\n", version)
		},
	}
}

// buildPolicy derives the sandbox policy from configuration. An empty
// extension list keeps the built-in photo set.
func buildPolicy(cfg *config.Config) security.Policy {
	p := security.DefaultPolicy()
	p.MaxFileSize = cfg.MaxFileSizeMB * 1024 * 1024
	p.MaxDepth = cfg.MaxScanDepth
	p.MaxPathLength = cfg.MaxPathLength
	p.FollowSymlinks = cfg.FollowSymlinks
	p.SkipHiddenFiles = cfg.SkipHiddenFiles
	p.SkipHiddenDirs = cfg.SkipHiddenDirs
	p.BlockExecutableExtensions = cfg.BlockExecutables
	return p.WithExtensions(cfg.AllowedExtensions)
}
