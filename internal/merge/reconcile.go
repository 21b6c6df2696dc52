package merge

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oshokin/bedrock-up/internal/logger"
)

const dirPermissions = 0o755

// Options tune a reconciliation.
type Options struct {
	// Exclude protects existing live files from being overwritten.
	Exclude *ExclusionSet
	// Prune removes files a previous merge installed that the new distribution no longer ships.
	Prune bool
}

// Report lists what happened to each path, relative to the installation root.
type Report struct {
	// Written were copied from the staging tree.
	Written []string
	// Preserved matched the exclusion set and already existed, so they were left untouched.
	Preserved []string
	// Pruned were removed as stale.
	Pruned []string
}

// Reconciler merges one staging tree into one installation tree.
type Reconciler struct {
	// stagingRoot holds the extracted distribution.
	stagingRoot string
	// liveRoot is the server installation directory.
	liveRoot string
	// opts tune the merge.
	opts Options
}

// NewReconciler creates a reconciler for the given trees.
func NewReconciler(stagingRoot, liveRoot string, opts Options) *Reconciler {
	return &Reconciler{
		stagingRoot: stagingRoot,
		liveRoot:    liveRoot,
		opts:        opts,
	}
}

// Reconcile promotes every staged file in lexical order and stops at the first failure.
// On success every staged file exists at the same relative path in the
// installation, except excluded paths that already had a live counterpart.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	report := new(Report)

	staged, err := enumerate(r.stagingRoot)
	if err != nil {
		return report, &MergeError{Path: ".", Op: "enumerate staging tree", Err: err}
	}

	previous, manifestErr := readManifest(r.liveRoot)
	if manifestErr != nil {
		logger.WarnKV(ctx, "Managed-file manifest is unreadable, nothing will be pruned and it is left as is",
			"path", filepath.Join(r.liveRoot, ManifestFilename), "error", manifestErr)

		previous = nil
	}

	if err = r.checkPermissions(staged); err != nil {
		return report, err
	}

	if err = os.MkdirAll(r.liveRoot, dirPermissions); err != nil {
		return report, &MergeError{Path: ".", Op: "create installation directory", Err: err}
	}

	for _, rel := range staged {
		if err = ctx.Err(); err != nil {
			return report, &MergeError{Path: rel, Op: "promote", Err: err}
		}

		preserved, promoteErr := r.promote(rel)
		if promoteErr != nil {
			return report, promoteErr
		}

		if preserved {
			logger.InfoKV(ctx, "Skipping excluded file", "path", rel)
			report.Preserved = append(report.Preserved, rel)

			continue
		}

		logger.DebugKV(ctx, "Promoted file", "path", rel)
		report.Written = append(report.Written, rel)
	}

	stagedSet := toSet(staged)

	if r.opts.Prune {
		if report.Pruned, err = r.prune(ctx, previous, stagedSet); err != nil {
			return report, err
		}
	}

	if manifestErr == nil {
		managed := r.stillManaged(previous, stagedSet, toSet(report.Pruned))
		if err = writeManifest(r.liveRoot, append(staged, managed...)); err != nil {
			return report, &MergeError{Path: ManifestFilename, Op: "write manifest", Err: err}
		}
	}

	logger.InfoKV(ctx, "Merged staging tree into installation",
		"written", len(report.Written),
		"preserved", len(report.Preserved),
		"pruned", len(report.Pruned))

	return report, nil
}

// checkPermissions verifies, before anything is written, that every live file
// about to be replaced sits in a directory that accepts the replacement.
func (r *Reconciler) checkPermissions(staged []string) error {
	for _, rel := range staged {
		target := filepath.Join(r.liveRoot, filepath.FromSlash(rel))

		info, err := os.Lstat(target)
		if err != nil || info.IsDir() || r.opts.Exclude.Match(rel) {
			continue
		}

		if err = checkReplaceable(target); err != nil {
			return &MergeError{Path: rel, Op: "check permissions", Err: err}
		}
	}

	return nil
}

// promote handles one staged file. It returns true when the live file was preserved.
func (r *Reconciler) promote(rel string) (bool, error) {
	fail := func(op string, err error) (bool, error) {
		return false, &MergeError{Path: rel, Op: op, Err: err}
	}

	source := filepath.Join(r.stagingRoot, filepath.FromSlash(rel))
	target := filepath.Join(r.liveRoot, filepath.FromSlash(rel))

	sourceInfo, err := os.Stat(source)
	if err != nil {
		return fail("stat staged file", err)
	}

	mode := sourceInfo.Mode().Perm()

	targetInfo, err := os.Lstat(target)

	switch {
	case err == nil:
		if r.opts.Exclude.Match(rel) {
			return true, nil
		}

		if targetInfo.IsDir() {
			return fail("replace", errTargetIsDirectory)
		}

		if !targetInfo.Mode().IsRegular() && targetInfo.Mode()&fs.ModeSymlink == 0 {
			return fail("replace", errTargetNotRegular)
		}

		if err = installFile(source, target, mode); err != nil {
			return fail("replace", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		if err = os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
			return fail("create parent directory", err)
		}

		if err = installFile(source, target, mode); err != nil {
			return fail("create", err)
		}
	default:
		return fail("stat live file", err)
	}

	return false, nil
}

// prune removes previously managed files absent from the new distribution.
// Excluded paths, directories, symlinks and anything outside the installation are never removed.
func (r *Reconciler) prune(ctx context.Context, previous []string, staged map[string]struct{}) ([]string, error) {
	if previous == nil {
		logger.Info(ctx, "No managed-file manifest from a previous merge, nothing to prune")
		return nil, nil
	}

	var pruned []string

	for _, rel := range previous {
		if _, ok := staged[rel]; ok || r.opts.Exclude.Match(rel) || !isContained(rel) {
			continue
		}

		target := filepath.Join(r.liveRoot, filepath.FromSlash(rel))

		info, err := os.Lstat(target)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return pruned, &MergeError{Path: rel, Op: "stat stale file", Err: err}
		}

		if !info.Mode().IsRegular() {
			continue
		}

		if err = os.Remove(target); err != nil {
			return pruned, &MergeError{Path: rel, Op: "prune", Err: err}
		}

		logger.InfoKV(ctx, "Pruned stale file", "path", rel)

		pruned = append(pruned, rel)
	}

	return pruned, nil
}

// stillManaged keeps previously managed paths that survived this merge so a later prune can find them.
func (r *Reconciler) stillManaged(previous []string, staged, pruned map[string]struct{}) []string {
	var kept []string

	for _, rel := range previous {
		if _, ok := staged[rel]; ok {
			continue
		}

		if _, ok := pruned[rel]; ok || !isContained(rel) {
			continue
		}

		if _, err := os.Lstat(filepath.Join(r.liveRoot, filepath.FromSlash(rel))); err == nil {
			kept = append(kept, rel)
		}
	}

	return kept
}

// enumerate lists regular files under root as sorted slash-separated relative paths.
func enumerate(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(current string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}

		files = append(files, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)

	return files, nil
}

// isContained reports whether a recorded relative path stays inside the installation.
func isContained(rel string) bool {
	normalized := normalizeRelative(rel)

	return normalized != "" && normalized == rel && normalized != ".." &&
		!strings.HasPrefix(normalized, "../") && !filepath.IsAbs(filepath.FromSlash(rel))
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}

	return set
}
