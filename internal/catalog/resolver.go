package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oshokin/bedrock-up/internal/domain/release"
	"github.com/oshokin/bedrock-up/internal/logger"
	"github.com/oshokin/bedrock-up/internal/version"
)

const (
	// maxPayloadSize caps the catalog body; the real payload is a few kilobytes.
	maxPayloadSize = 1 << 20

	defaultTimeout = 30 * time.Second
)

var (
	// ErrNoBuild is returned when the catalog has no link for the channel.
	ErrNoBuild = errors.New("no published build for channel")

	errBadHTTPStatus    = errors.New("unexpected http status")
	errMalformedPayload = errors.New("malformed catalog payload")
	errInvalidLink      = errors.New("invalid download link")
	errPayloadTooLarge  = errors.New("catalog payload too large")
)

// ResolutionError reports a failure to obtain a release descriptor.
type ResolutionError struct {
	// Channel is the channel being resolved.
	Channel release.Channel
	// CatalogURL is the endpoint that was queried.
	CatalogURL string
	// Err is the underlying cause.
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s from %s: %v", e.Channel, e.CatalogURL, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver queries the catalog endpoint.
type Resolver struct {
	// catalogURL is the endpoint returning the Payload.
	catalogURL string
	// client performs the request.
	client *http.Client
	// timeout bounds a single Resolve call.
	timeout time.Duration
}

// Option configures the resolver.
type Option func(*Resolver)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.client = client
		}
	}
}

// WithTimeout bounds each Resolve call.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewResolver creates a resolver for the given catalog endpoint.
func NewResolver(catalogURL string, opts ...Option) *Resolver {
	r := &Resolver{
		catalogURL: catalogURL,
		client:     http.DefaultClient,
		timeout:    defaultTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve fetches the catalog and returns the descriptor for channel.
// The identity of a release is its download URL, which embeds the build version.
func (r *Resolver) Resolve(ctx context.Context, channel release.Channel) (*release.Descriptor, error) {
	fail := func(err error) (*release.Descriptor, error) {
		return nil, &ResolutionError{Channel: channel, CatalogURL: r.catalogURL, Err: err}
	}

	logger.InfoKV(ctx, "Fetching download links", "catalog", r.catalogURL)

	payload, err := r.fetch(ctx)
	if err != nil {
		return fail(err)
	}

	downloadURL, ok := payload.Lookup(channel.DownloadType())
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrNoBuild, channel.DownloadType()))
	}

	parsed, err := url.Parse(downloadURL)
	if err != nil {
		return fail(fmt.Errorf("%w %q: %w", errInvalidLink, downloadURL, err))
	}

	if !parsed.IsAbs() || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fail(fmt.Errorf("%w %q: not an absolute http(s) URL", errInvalidLink, downloadURL))
	}

	return &release.Descriptor{
		Channel:  channel,
		URL:      downloadURL,
		Identity: downloadURL,
	}, nil
}

// fetch performs the single catalog request and decodes the body.
func (r *Resolver) fetch(ctx context.Context) (*Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.catalogURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	response, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w", response.Status, errBadHTTPStatus)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%w: more than %d bytes", errPayloadTooLarge, maxPayloadSize)
	}

	var payload Payload
	if err = json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedPayload, err)
	}

	if len(payload.Result.Links) == 0 {
		return nil, fmt.Errorf("%w: no links", errMalformedPayload)
	}

	return &payload, nil
}
