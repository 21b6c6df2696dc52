package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/bedrock-up/internal/config"
	"github.com/oshokin/bedrock-up/internal/domain/release"
	"github.com/oshokin/bedrock-up/internal/logger"
	"github.com/oshokin/bedrock-up/internal/service/updater"
	"github.com/oshokin/bedrock-up/internal/version"
)

// flags collects the command-line values.
type flags struct {
	configPath      string
	downloadType    string
	serverPath      string
	cachePath       string
	catalogURL      string
	exclude         []string
	force           bool
	prune           bool
	dryRun          bool
	logLevel        string
	downloadTimeout time.Duration
	catalogTimeout  time.Duration
}

var (
	// cliFlags holds the values bound in init.
	cliFlags flags

	errUnknownLogLevel = errors.New("unknown log level")

	// rootCmd represents the base command for checking and applying server updates.
	rootCmd = &cobra.Command{
		Use:   "bedrock-up",
		Short: "Update a Minecraft Bedrock dedicated server installation",
		Long: "Check the official download catalog for a newer server build and, when one is published,\n" +
			"download it and merge it into the installation while keeping operator-edited files.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, err := buildConfig(cmd, &cliFlags)
			if err != nil {
				return err
			}

			if err = applyLogLevel(cfg.LogLevel); err != nil {
				return err
			}

			options := &updater.Options{
				Config: cfg,
				Force:  cliFlags.force,
				DryRun: cliFlags.dryRun,
			}

			return updater.Run(ctx, options)
		},
	}
)

// Execute runs the bedrock-up CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	bindFlags(rootCmd, &cliFlags)
}

// bindFlags registers the command flags on cmd.
func bindFlags(cmd *cobra.Command, f *flags) {
	fs := cmd.Flags()

	fs.StringVar(&f.configPath, "config", "",
		fmt.Sprintf("path to configuration file (default %q when present)", config.DefaultConfigFilename))
	fs.StringVarP(&f.downloadType, "download-type", "d", "",
		"release channel: "+strings.Join(release.ChannelNames(), ", "))
	fs.StringVarP(&f.serverPath, "server-path", "s", "", "server installation directory")
	fs.StringVarP(&f.cachePath, "cache-path", "c", config.DefaultCachePath, "file remembering applied download links")
	fs.StringVar(&f.catalogURL, "catalog-url", config.DefaultCatalogURL, "download links catalog endpoint")
	fs.StringSliceVarP(&f.exclude, "exclude", "e", config.DefaultExclude(),
		"relative paths or globs never overwritten once present (repeatable, space or comma separated)")
	fs.BoolVarP(&f.force, "force", "f", false, "apply the update even when the cached link matches")
	fs.BoolVar(&f.prune, "prune", false, "remove previously installed files the new build no longer ships")
	fs.BoolVar(&f.dryRun, "dry-run", false, "report whether an update is due without changing anything")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.DurationVar(&f.downloadTimeout, "timeout", config.DefaultDownloadTimeout, "archive download timeout")
	fs.DurationVar(&f.catalogTimeout, "catalog-timeout", config.DefaultCatalogTimeout, "catalog request timeout")
}

// buildConfig loads the optional configuration file and overlays flags the user set explicitly.
func buildConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if f.configPath != "" {
		cfg, err = config.Load(f.configPath)
	} else {
		cfg, err = config.LoadOptional(config.DefaultConfigFilename)
	}

	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed

	overrideString(&cfg.DownloadType, f.downloadType, changed("download-type"))
	overrideString(&cfg.ServerPath, f.serverPath, changed("server-path"))
	overrideString(&cfg.CachePath, f.cachePath, changed("cache-path"))
	overrideString(&cfg.CatalogURL, f.catalogURL, changed("catalog-url"))
	overrideString(&cfg.LogLevel, f.logLevel, changed("log-level"))

	if changed("exclude") {
		cfg.Exclude = splitPatterns(f.exclude)
	}

	if changed("prune") {
		cfg.Prune = f.prune
	}

	if changed("timeout") {
		cfg.DownloadTimeout = f.downloadTimeout
	}

	if changed("catalog-timeout") {
		cfg.CatalogTimeout = f.catalogTimeout
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overrideString(target *string, value string, changed bool) {
	if changed {
		*target = value
	}
}

// splitPatterns accepts "-e a -e b", "-e a,b" and "-e 'a b'".
func splitPatterns(values []string) []string {
	patterns := make([]string, 0, len(values))

	for _, value := range values {
		patterns = append(patterns, strings.Fields(value)...)
	}

	return patterns
}

func applyLogLevel(value string) error {
	level, ok := logger.ParseLogLevel(value)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, value)
	}

	logger.SetLevel(level)

	return nil
}
