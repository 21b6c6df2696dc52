package updater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/bedrock-up/internal/logger"
)

const (
	// MarkerFilename marks, inside the server directory, that an update is being applied.
	MarkerFilename = ".bedrock-up.lock"

	markerPermissions = 0o644
	markerAttempts    = 2
)

// ErrAlreadyRunning is returned when a live process holds the run marker.
var ErrAlreadyRunning = errors.New("another update is running for this server path")

// serverExecutables are the process names of a running dedicated server.
//
//nolint:gochecknoglobals // Static lookup table.
var serverExecutables = map[string]struct{}{
	"bedrock_server":     {},
	"bedrock_server.exe": {},
}

// acquireMarker creates the run marker holding our PID. A marker left by a
// process that no longer exists is treated as stale and replaced.
func acquireMarker(ctx context.Context, serverPath string) (func(), error) {
	markerPath := filepath.Join(serverPath, MarkerFilename)

	logger.DebugKV(ctx, "Checking for the presence of an update marker", "path", markerPath)

	for range markerAttempts {
		file, err := os.OpenFile(markerPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerPermissions)
		if err == nil {
			_, writeErr := fmt.Fprintf(file, "%d\n", os.Getpid())
			closeErr := file.Close()

			if err = errors.Join(writeErr, closeErr); err != nil {
				_ = os.Remove(markerPath)
				return nil, fmt.Errorf("write update marker: %w", err)
			}

			return func() {
				_ = os.Remove(markerPath)
			}, nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create update marker: %w", err)
		}

		if pid, live := markerOwner(ctx, markerPath); live {
			return nil, fmt.Errorf("%w (pid %d, marker %s)", ErrAlreadyRunning, pid, markerPath)
		}

		logger.InfoKV(ctx, "The update marker is stale, removing it", "path", markerPath)

		if err = os.Remove(markerPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale update marker: %w", err)
		}
	}

	return nil, fmt.Errorf("%w (marker %s)", ErrAlreadyRunning, markerPath)
}

// markerOwner returns the PID recorded in the marker and whether that process is alive.
func markerOwner(ctx context.Context, markerPath string) (int, bool) {
	data, err := os.ReadFile(markerPath)
	if err != nil {
		// Gone in the meantime means free; unreadable means we cannot prove it is stale.
		return 0, !errors.Is(err, fs.ErrNotExist)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return pid, false
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		logger.WarnKV(ctx, "Unable to inspect the update marker owner", "pid", pid, "error", err)
		return pid, true
	}

	return pid, process != nil
}

// warnIfServerRunning logs a warning when a dedicated server process is alive.
// Processes are never stopped; files held open by the server may fail to update.
func warnIfServerRunning(ctx context.Context) {
	processes, err := ps.Processes()
	if err != nil {
		logger.DebugKV(ctx, "Unable to list processes", "error", err)
		return
	}

	for _, process := range processes {
		if _, found := serverExecutables[process.Executable()]; !found {
			continue
		}

		logger.WarnKV(ctx, "The server appears to be running, stop it before updating to avoid mixed files",
			"pid", process.Pid(), "executable", process.Executable())
	}
}
