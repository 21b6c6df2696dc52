package merge

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
)

// probeFilePermissions is the mode of go-update's short-lived write probe.
const probeFilePermissions = 0o600

var errChecksumMismatch = errors.New("checksum mismatch after copy")

// checkReplaceable asks go-update whether target's directory accepts a sibling
// write. go-update probes with the fixed name ".<name>.new", so the check is
// skipped when such a file already exists and would be clobbered.
func checkReplaceable(target string) error {
	probe := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".new")

	if _, err := os.Lstat(probe); !errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: probeFilePermissions,
	}

	return options.CheckPermissions()
}

// installFile copies a staged file next to target, verifies the copy against
// the staged bytes and renames it over target in a single step.
func installFile(source, target string, mode os.FileMode) (err error) {
	input, err := os.Open(filepath.Clean(source))
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := input.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	staged := sha256.New()

	return writeAtomic(target, io.TeeReader(input, staged), mode, func(tmpPath string) error {
		return verifyChecksum(tmpPath, staged.Sum(nil))
	})
}

func verifyChecksum(path string, expected []byte) (err error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	written := sha256.New()
	if _, err = io.Copy(written, file); err != nil {
		return err
	}

	if actual := written.Sum(nil); !bytes.Equal(actual, expected) {
		return fmt.Errorf("%w: %x != %x", errChecksumMismatch, actual, expected)
	}

	return nil
}

// writeAtomic streams r into a temporary file next to target and renames it into place.
// verify, when set, inspects the closed temporary file before the rename.
func writeAtomic(target string, r io.Reader, mode os.FileMode, verify func(tmpPath string) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".bedrock-up-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}

	if err = tmp.Sync(); err != nil {
		return err
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	if verify != nil {
		if err = verify(tmpPath); err != nil {
			return err
		}
	}

	if err = os.Chmod(tmpPath, mode); err != nil {
		return err
	}

	if err = os.Rename(tmpPath, target); err != nil {
		return err
	}

	success = true

	return nil
}
