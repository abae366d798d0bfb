package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/aur-wayback-updater/internal/archive"
	"github.com/oshokin/aur-wayback-updater/internal/config"
	"github.com/oshokin/aur-wayback-updater/internal/logger"
	"github.com/oshokin/aur-wayback-updater/internal/repository/aur"
	"github.com/oshokin/aur-wayback-updater/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

// Options are inputs accepted by the publisher entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// EnvFile is the optional dotenv file exported before settings are read.
	EnvFile string
	// LogLevel overrides the logging level when set.
	LogLevel string
	// DryRun renders the manifest without committing or pushing it.
	DryRun bool
	// WorkDir overrides the configured working copy.
	WorkDir string
	// SSHKeyPath overrides the configured and environment key.
	SSHKeyPath string
	// FallbackToExisting enables the fallback even when the settings disable it.
	FallbackToExisting bool
}

// Run loads settings, builds the collaborators and publishes the package once.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "aur-wayback-updater")

	if err := applyLogLevel(opts.LogLevel); err != nil {
		return nil, err
	}

	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	cfg, err := config.Read(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, opts)

	if err = config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	ctx = logger.WithKV(ctx, "package", cfg.PackageName)

	logger.InfoKV(ctx, "Starting update",
		"version", version.Version,
		"source", cfg.SourceURL,
		"remote", cfg.RemoteURL,
		"dry_run", opts.DryRun)

	pipeline := NewPipeline(cfg,
		archive.NewFromConfig(cfg),
		aur.New(cfg),
		WithDryRun(opts.DryRun))

	result, err := pipeline.Execute(ctx)
	if err != nil {
		return result, err
	}

	switch {
	case result.State == StateUpToDate:
		logger.InfoKV(ctx, "Nothing to do, package is up to date", "version", result.Previous.Version)
	case result.DryRun:
		logger.InfoKV(ctx, "Dry run finished", "version", result.Version)
	default:
		logger.InfoKV(ctx, "Package published", "version", result.Version, "digest", result.Digest)
	}

	return result, nil
}

func applyLogLevel(raw string) error {
	if raw == "" {
		return nil
	}

	level, ok := logger.ParseLogLevel(raw)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, raw)
	}

	logger.SetLevel(level)

	return nil
}

func applyOverrides(cfg *config.Config, opts *Options) {
	if workDir := strings.TrimSpace(opts.WorkDir); workDir != "" {
		cfg.WorkDir = workDir
	}

	if keyPath := strings.TrimSpace(opts.SSHKeyPath); keyPath != "" {
		cfg.SSHKeyPath = keyPath
	}

	if opts.FallbackToExisting {
		cfg.FallbackToExisting = true
	}
}
