package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/oshokin/bedrock-up/internal/archive"
	"github.com/oshokin/bedrock-up/internal/catalog"
	"github.com/oshokin/bedrock-up/internal/config"
	"github.com/oshokin/bedrock-up/internal/domain/release"
	"github.com/oshokin/bedrock-up/internal/download"
	"github.com/oshokin/bedrock-up/internal/logger"
	"github.com/oshokin/bedrock-up/internal/merge"
	"github.com/oshokin/bedrock-up/internal/repository/links"
)

const (
	stagingDirectoryName = "staging"
	serverDirPermissions = 0o755
)

var (
	// ErrAppliedNotRecorded means the installation was updated but the links cache
	// could not be saved, so the next run will apply the same build again.
	ErrAppliedNotRecorded = errors.New("update applied but not recorded in the links cache")

	errSettingsNotInitialised = errors.New("settings are not initialized")
)

// Options are inputs accepted by the updater entry point.
type Options struct {
	// Config is the validated run configuration.
	Config *config.Config
	// Force applies the update even when the cached link matches.
	Force bool
	// DryRun stops after the decision.
	DryRun bool
	// HTTPClient overrides http.DefaultClient for the catalog and the download.
	HTTPClient *http.Client
	// TempDir is where the run directory is created; os.TempDir() when empty.
	TempDir string
}

// runner holds the state of a single update execution.
// It is unexported; call Run(ctx, Options).
type runner struct {
	cfg                *config.Config      // Validated settings.
	channel            release.Channel     // Parsed download type.
	force              bool                // Apply regardless of the cache.
	dryRun             bool                // Stop after deciding.
	httpClient         *http.Client        // Shared by resolver and fetcher.
	resolver           *catalog.Resolver   // Catalog client.
	cache              links.Repository    // Applied links per channel.
	exclude            *merge.ExclusionSet // Paths never overwritten once present.
	tempRoot           string              // Parent of the run directory.
	temporaryDirectory string              // Holds the archive and the staging tree.
	releaseMarker      func()              // Drops the run marker, when held.
}

// Run executes the update lifecycle and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "bedrock-up")
	ctx = logger.WithKV(ctx, "run_id", uuid.NewString())

	up, err := newRunner(opts)
	if err != nil {
		return err
	}

	defer up.cleanup(ctx)

	if err = up.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Update run failed", "error", err)
		return err
	}

	return nil
}

// newRunner validates options and wires the components.
func newRunner(opts *Options) (*runner, error) {
	if opts == nil || opts.Config == nil {
		return nil, errSettingsNotInitialised
	}

	cfg := opts.Config
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	exclude, err := merge.NewExclusionSet(cfg.Exclude)
	if err != nil {
		return nil, err
	}

	tempRoot := opts.TempDir
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &runner{
		cfg:        cfg,
		channel:    cfg.Channel(),
		force:      opts.Force,
		dryRun:     opts.DryRun,
		httpClient: httpClient,
		resolver: catalog.NewResolver(cfg.CatalogURL,
			catalog.WithHTTPClient(httpClient),
			catalog.WithTimeout(cfg.CatalogTimeout)),
		cache:    links.NewFileRepository(cfg.CachePath),
		exclude:  exclude,
		tempRoot: tempRoot,
	}, nil
}

// Run resolves, decides and, when needed, applies the update.
func (u *runner) Run(ctx context.Context) error {
	ctx = logger.WithFields(ctx, "channel", u.channel.String(), "server_path", u.cfg.ServerPath)

	desc, err := u.resolver.Resolve(ctx, u.channel)
	if err != nil {
		return err
	}

	record := u.cache.Load(ctx)
	cached, hasCached := record.Identity(u.channel)

	logger.InfoKV(ctx, "Compared versions", "cached", describe(cached, hasCached), "available", desc.Identity)

	action := release.Decide(cached, hasCached, desc.Identity, u.force)
	if action == release.ActionSkip {
		logger.InfoKV(ctx, "Already on the latest version", "identity", cached)
		return nil
	}

	u.logUpdateReasons(ctx, hasCached)

	if u.dryRun {
		logger.InfoKV(ctx, "Dry run, the update would be applied", "url", desc.URL)
		return nil
	}

	report, err := u.apply(ctx, desc)
	if err != nil {
		return err
	}

	record.Set(u.channel, desc.Identity)

	if err = u.cache.Save(ctx, record); err != nil {
		logger.WarnKV(ctx, "The next run will apply this build again", "identity", desc.Identity)
		return fmt.Errorf("%w: %w", ErrAppliedNotRecorded, err)
	}

	logger.InfoKV(ctx, "Update applied successfully",
		"identity", desc.Identity,
		"written", len(report.Written),
		"preserved", report.Preserved,
		"pruned", len(report.Pruned))

	return nil
}

// apply downloads, extracts and merges the release.
func (u *runner) apply(ctx context.Context, desc *release.Descriptor) (*merge.Report, error) {
	if err := os.MkdirAll(u.cfg.ServerPath, serverDirPermissions); err != nil {
		return nil, fmt.Errorf("create server directory: %w", err)
	}

	releaseMarker, err := acquireMarker(ctx, u.cfg.ServerPath)
	if err != nil {
		return nil, err
	}

	u.releaseMarker = releaseMarker

	warnIfServerRunning(ctx)

	temporaryDirectory, err := os.MkdirTemp(u.tempRoot, "bedrock-up-")
	if err != nil {
		return nil, fmt.Errorf("create temporary directory: %w", err)
	}

	u.temporaryDirectory = temporaryDirectory

	fetcher := download.NewFetcher(temporaryDirectory,
		download.WithHTTPClient(u.httpClient),
		download.WithTimeout(u.cfg.DownloadTimeout))

	archivePath, err := fetcher.Fetch(ctx, desc.URL)
	if err != nil {
		return nil, err
	}

	stagingDirectory := filepath.Join(temporaryDirectory, stagingDirectoryName)

	if err = archive.Extract(ctx, archivePath, stagingDirectory); err != nil {
		return nil, err
	}

	// The archive is no longer needed; free the space before copying the tree.
	if err = os.Remove(archivePath); err != nil {
		logger.DebugKV(ctx, "Could not remove downloaded archive", "path", archivePath, "error", err)
	}

	logger.InfoKV(ctx, "Applying update", "excluded", u.exclude.Patterns(), "prune", u.cfg.Prune)

	reconciler := merge.NewReconciler(stagingDirectory, u.cfg.ServerPath, merge.Options{
		Exclude: u.exclude,
		Prune:   u.cfg.Prune,
	})

	return reconciler.Reconcile(ctx)
}

// logUpdateReasons logs why an update is needed.
func (u *runner) logUpdateReasons(ctx context.Context, hasCached bool) {
	switch {
	case u.force:
		logger.InfoKV(ctx, "Update required", "reason", "forced")
	case !hasCached:
		logger.InfoKV(ctx, "Update required", "reason", "no_cached_version")
	default:
		logger.InfoKV(ctx, "Update required", "reason", "version_mismatch")
	}
}

// cleanup removes temporary artifacts and the run marker.
func (u *runner) cleanup(ctx context.Context) {
	if u.temporaryDirectory != "" {
		if err := os.RemoveAll(u.temporaryDirectory); err != nil {
			logger.WarnKV(ctx, "Could not remove temporary directory", "path", u.temporaryDirectory, "error", err)
		}
	}

	if u.releaseMarker != nil {
		u.releaseMarker()
	}

	logger.Debug(ctx, "The updater has been stopped")
}

func describe(identity string, ok bool) string {
	if !ok {
		return "none"
	}

	return identity
}
