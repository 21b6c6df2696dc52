package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/oshokin/bedrock-up/internal/logger"
	"github.com/oshokin/bedrock-up/internal/version"
)

const defaultTimeout = 10 * time.Minute

var (
	errBadHTTPStatus = errors.New("unexpected http status")
	// ErrTruncated is returned when fewer bytes arrived than the server announced.
	ErrTruncated = errors.New("transfer truncated")
)

// TransferError reports a failed or incomplete download.
type TransferError struct {
	// URL is the archive link.
	URL string
	// Err is the underlying cause.
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Fetcher downloads archives into a directory owned by the caller.
type Fetcher struct {
	// dir receives the downloaded archive; it must lie outside the installation.
	dir string
	// client performs the request.
	client *http.Client
	// timeout bounds a single Fetch call.
	timeout time.Duration
}

// Option configures the fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTimeout bounds each Fetch call.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// NewFetcher creates a fetcher writing into dir.
func NewFetcher(dir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		dir:     dir,
		client:  http.DefaultClient,
		timeout: defaultTimeout,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads rawURL and returns the path of the complete archive.
// On failure no partial file is left in the directory.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (archivePath string, err error) {
	defer func() {
		if err != nil {
			err = &TransferError{URL: rawURL, Err: err}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := f.client.Do(req)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%s: %w", response.Status, errBadHTTPStatus)
	}

	output, err := os.CreateTemp(f.dir, "*-"+archiveName(rawURL))
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	outputPath := output.Name()

	success := false
	defer func() {
		if !success {
			_ = output.Close()
			_ = os.Remove(outputPath)
		}
	}()

	logger.InfoKV(ctx, "Downloading archive", "url", rawURL, "size", response.ContentLength)

	written, err := io.Copy(output, response.Body)
	if err != nil {
		return "", fmt.Errorf("receive body after %d bytes: %w", written, err)
	}

	if response.ContentLength >= 0 && written != response.ContentLength {
		return "", fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, written, response.ContentLength)
	}

	if err = output.Sync(); err != nil {
		return "", fmt.Errorf("sync archive file: %w", err)
	}

	if err = output.Close(); err != nil {
		return "", fmt.Errorf("close archive file: %w", err)
	}

	success = true

	logger.InfoKV(ctx, "Downloaded archive", "path", outputPath, "bytes", written)

	return outputPath, nil
}

// archiveName derives a file name from the last URL path segment.
func archiveName(rawURL string) string {
	name := "update.zip"

	if parsed, err := url.Parse(rawURL); err == nil {
		if base := path.Base(parsed.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}

	return strings.NewReplacer("*", "_", string(os.PathSeparator), "_").Replace(name)
}
