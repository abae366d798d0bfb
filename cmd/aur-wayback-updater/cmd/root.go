package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/aur-wayback-updater/internal/config"
	"github.com/oshokin/aur-wayback-updater/internal/logger"
	"github.com/oshokin/aur-wayback-updater/internal/service/publisher"
	"github.com/oshokin/aur-wayback-updater/internal/version"
)

var (
	// options collects the flags of a publishing run.
	options publisher.Options

	// rootCmd captures the upstream file and publishes the package when it changed.
	rootCmd = &cobra.Command{
		Use:   "aur-wayback-updater",
		Short: "Mirror an upstream file through the Wayback Machine and publish it to the AUR.",
		Long: `Requests a fresh Wayback Machine capture of the upstream file, waits until the
snapshot is available and downloads it. When its checksum differs from the one pinned
by the published PKGBUILD, a new PKGBUILD and .SRCINFO pointing at the snapshot are
committed and pushed to the AUR repository.

The snapshot timestamp (YYYYMMDDhhmmss) becomes the package version.
Running again against an unchanged upstream publishes nothing.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			_, err := publisher.Run(ctx, &options)

			return err
		},
	}
)

// Execute runs the CLI and exits with the status matching the failure kind.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	attachInitConfigCommand(rootCmd)

	err := rootCmd.Execute()

	logger.Sync()

	if err != nil {
		os.Exit(publisher.ExitCode(err))
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()

	flags.StringVarP(&options.ConfigPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" when present)")
	flags.StringVar(&options.EnvFile, "env-file", "",
		"dotenv file exported before reading settings (default "+config.DefaultEnvFilename+" when present)")
	flags.StringVarP(&options.LogLevel, "log-level", "l", "", "log level: debug, info, warn, error")
	flags.BoolVar(&options.DryRun, "dry-run", false, "render the package without committing or pushing")
	flags.StringVar(&options.WorkDir, "work-dir", "", "working copy of the package repository")
	flags.StringVar(&options.SSHKeyPath, "ssh-key", "",
		"private key for the package repository (overrides "+config.SSHKeyEnv+")")
	flags.BoolVar(&options.FallbackToExisting, "fallback-existing", false,
		"use the newest existing snapshot when a new capture fails")
}
