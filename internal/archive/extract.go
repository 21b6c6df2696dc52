package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/oshokin/bedrock-up/internal/logger"
)

const (
	dirPermissions = 0o755
	// ownerWritable keeps extracted files removable when the archive marks them read-only.
	ownerWritable = 0o600
)

var (
	// ErrPathEscapes is returned for an entry that resolves outside the staging root.
	ErrPathEscapes = errors.New("entry escapes the staging root")
	// ErrUnsupportedEntry is returned for symlinks and other non-regular entries.
	ErrUnsupportedEntry = errors.New("unsupported entry type")
	// ErrEmptyArchive is returned when the archive contains no files.
	ErrEmptyArchive = errors.New("archive contains no files")
)

// ArchiveError reports an archive that cannot be unpacked.
//
//nolint:revive // archive.ArchiveError reads naturally next to the other component errors.
type ArchiveError struct {
	// Archive is the archive path.
	Archive string
	// Entry is the offending entry name, if any.
	Entry string
	// Err is the underlying cause.
	Err error
}

func (e *ArchiveError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
	}

	return fmt.Sprintf("extract %s: entry %q: %v", e.Archive, e.Entry, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// plannedEntry is a validated archive entry with its destination.
type plannedEntry struct {
	file   *zip.File
	target string
}

// Extract unpacks archivePath into stagingDir, creating it if needed.
func Extract(ctx context.Context, archivePath, stagingDir string) (err error) {
	fail := func(entry string, cause error) error {
		return &ArchiveError{Archive: archivePath, Entry: entry, Err: cause}
	}

	root, err := filepath.Abs(stagingDir)
	if err != nil {
		return fail("", err)
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		if reader != nil {
			_ = reader.Close()
		}

		return fail("", err)
	}

	defer func() {
		if closeErr := reader.Close(); closeErr != nil && err == nil {
			err = fail("", closeErr)
		}
	}()

	plan, err := planEntries(root, reader.File)
	if err != nil {
		var archiveErr *ArchiveError
		if errors.As(err, &archiveErr) {
			archiveErr.Archive = archivePath
		}

		return err
	}

	if err = os.MkdirAll(root, dirPermissions); err != nil {
		return fail("", err)
	}

	files := 0

	for _, entry := range plan {
		if err = ctx.Err(); err != nil {
			return fail(entry.file.Name, err)
		}

		if entry.file.FileInfo().IsDir() {
			if err = os.MkdirAll(entry.target, dirPermissions); err != nil {
				return fail(entry.file.Name, err)
			}

			continue
		}

		if err = extractFile(entry.file, entry.target); err != nil {
			return fail(entry.file.Name, err)
		}

		files++
	}

	logger.InfoKV(ctx, "Extracted archive", "archive", archivePath, "staging", root, "files", files)

	return nil
}

// planEntries validates every entry and computes its destination.
func planEntries(root string, files []*zip.File) ([]plannedEntry, error) {
	plan := make([]plannedEntry, 0, len(files))
	regular := 0

	for _, file := range files {
		mode := file.Mode()
		if !mode.IsDir() && !mode.IsRegular() {
			return nil, &ArchiveError{Entry: file.Name, Err: fmt.Errorf("%w: %s", ErrUnsupportedEntry, mode.Type())}
		}

		target, err := stagedPath(root, file.Name)
		if err != nil {
			return nil, &ArchiveError{Entry: file.Name, Err: err}
		}

		if target == root {
			continue
		}

		if mode.IsRegular() {
			regular++
		}

		plan = append(plan, plannedEntry{file: file, target: target})
	}

	if regular == 0 {
		return nil, &ArchiveError{Err: ErrEmptyArchive}
	}

	return plan, nil
}

// stagedPath maps an entry name to an absolute path under root, rejecting names
// that are absolute, carry a volume, or climb out with "..".
func stagedPath(root, name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")

	if slashed == "" || path.IsAbs(slashed) || filepath.VolumeName(name) != "" || hasDriveLetter(slashed) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapes, name)
	}

	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathEscapes, name)
	}

	target := filepath.Join(root, filepath.FromSlash(cleaned))

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapes, name)
	}

	return target, nil
}

func hasDriveLetter(name string) bool {
	return len(name) >= 2 && name[1] == ':' &&
		((name[0] >= 'a' && name[0] <= 'z') || (name[0] >= 'A' && name[0] <= 'Z'))
}

// extractFile streams one entry to disk. The zip reader verifies the CRC at EOF.
func extractFile(file *zip.File, target string) (err error) {
	if err = os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return err
	}

	source, err := file.Open()
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := source.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	perm := file.Mode().Perm() | ownerWritable

	destination, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := destination.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	//nolint:gosec // G110: the catalog is trusted; size is bounded by the downloaded archive.
	if _, err = io.Copy(destination, source); err != nil {
		return err
	}

	return os.Chmod(target, fs.FileMode(perm))
}
