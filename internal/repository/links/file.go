package links

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/bedrock-up/internal/catalog"
	"github.com/oshokin/bedrock-up/internal/logger"
)

const (
	// filePermissions restricts the record to the current user.
	filePermissions = 0o600
	// dirPermissions is used when creating the cache directory.
	dirPermissions = 0o755
)

// Repository defines persistence operations for the applied-links record.
type Repository interface {
	Load(ctx context.Context) *Record
	Save(ctx context.Context, record *Record) error
}

// PersistenceError reports a failed Save.
type PersistenceError struct {
	// Path is the record location.
	Path string
	// Op is the step that failed.
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("save links cache %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

var errEmptyRecord = errors.New("record carries no links")

// FileRepository persists the record to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON record.
	path string
	// mu serializes access within one process.
	mu sync.Mutex
	// rename promotes the temporary file; replaced in tests to simulate a crash.
	rename func(oldPath, newPath string) error
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path:   filepath.Clean(path),
		rename: os.Rename,
	}
}

// Path returns the record location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the record. Any failure is logged and treated as "nothing applied yet".
func (r *FileRepository) Load(ctx context.Context) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger.InfoKV(ctx, "Reading links cache", "path", r.path)

	return orEmpty(ctx, r.path)(r.read())
}

// orEmpty turns a failed read into an empty record.
func orEmpty(ctx context.Context, path string) func(*Record, error) *Record {
	return func(record *Record, err error) *Record {
		switch {
		case err == nil:
			return record
		case errors.Is(err, os.ErrNotExist):
			logger.InfoKV(ctx, "Links cache not found, every channel will be updated", "path", path)
		default:
			logger.WarnKV(ctx, "Links cache is unreadable, treating it as empty", "path", path, "error", err)
		}

		return NewRecord()
	}
}

// read decodes the file in either the current or the legacy format.
func (r *FileRepository) read() (*Record, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}

	var record Record
	if err = json.Unmarshal(contents, &record); err != nil {
		return nil, fmt.Errorf("decode links cache: %w", err)
	}

	if record.Links != nil {
		return &record, nil
	}

	return fromLegacy(contents)
}

// fromLegacy converts the raw catalog payload earlier versions stored as the cache.
func fromLegacy(contents []byte) (*Record, error) {
	var payload catalog.Payload
	if err := json.Unmarshal(contents, &payload); err != nil {
		return nil, fmt.Errorf("decode legacy links cache: %w", err)
	}

	record := NewRecord()

	for _, link := range payload.Result.Links {
		if link.DownloadType != "" && link.DownloadURL != "" {
			record.Links[link.DownloadType] = link.DownloadURL
		}
	}

	if len(record.Links) == 0 {
		return nil, errEmptyRecord
	}

	return record, nil
}

// Save writes the record atomically: a reader sees either the previous or the new file.
func (r *FileRepository) Save(_ context.Context, record *Record) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fail := func(op string, cause error) error {
		return &PersistenceError{Path: r.path, Op: op, Err: cause}
	}

	if record == nil {
		record = NewRecord()
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fail("encode", err)
	}

	dir := filepath.Dir(r.path)
	if err = os.MkdirAll(dir, dirPermissions); err != nil {
		return fail("create directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".links-*.tmp")
	if err != nil {
		return fail("create temp file", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fail("write temp file", err)
	}

	if err = tmp.Sync(); err != nil {
		return fail("sync temp file", err)
	}

	if err = tmp.Close(); err != nil {
		return fail("close temp file", err)
	}

	if err = os.Chmod(tmpPath, filePermissions); err != nil {
		return fail("chmod temp file", err)
	}

	if err = r.rename(tmpPath, r.path); err != nil {
		return fail("rename", err)
	}

	success = true

	return nil
}
