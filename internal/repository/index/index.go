package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/chart-publisher/internal/domain/release"
	"github.com/oshokin/chart-publisher/internal/logger"
	"github.com/oshokin/chart-publisher/internal/storage"
)

// Filename is the index document name, both remotely and in the workspace.
const Filename = "index.yaml"

var (
	// ErrDecode is returned when a downloaded index is not a valid document.
	ErrDecode = errors.New("decode index document")
	// errBadHTTPStatus is returned for any non-200 answer.
	errBadHTTPStatus = errors.New("unexpected http status")
)

// Fetcher downloads the current remote index.
type Fetcher interface {
	Fetch(ctx context.Context) (*release.IndexDocument, error)
}

// HTTPFetcher downloads <base>/index.yaml.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// Option configures the fetcher.
type Option func(*HTTPFetcher)

// WithClient replaces the HTTP client.
func WithClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTimeout bounds a single download.
func WithTimeout(timeout time.Duration) Option {
	return func(f *HTTPFetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// NewHTTPFetcher creates a fetcher for the repository at baseURL.
func NewHTTPFetcher(baseURL string, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		baseURL: baseURL,
		client:  cleanhttp.DefaultClient(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch returns the remote index, or nil when it does not exist or cannot be reached.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*release.IndexDocument, error) {
	indexURL, err := URL(f.baseURL, Filename)
	if err != nil {
		return nil, err
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	data, err := f.download(ctx, indexURL)
	if err != nil {
		logger.WarnKV(ctx, "Can not get the index document, publishing from scratch", "url", indexURL, "error", err)

		return nil, nil //nolint:nilnil // Absent index means a first publication.
	}

	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", indexURL, err)
	}

	logger.InfoKV(ctx, "Fetched the index document", "url", indexURL, "entries", len(doc.Entries))

	return doc, nil
}

func (f *HTTPFetcher) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", target, response.Status, errBadHTTPStatus)
	}

	return io.ReadAll(response.Body)
}

// URL joins a file name onto the repository base URL.
func URL(baseURL, fileName string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	// path.Join normalizes duplicate slashes when composing the URL path.
	parsed.Path = path.Join("/", parsed.Path, fileName)

	return parsed.String(), nil
}

// Decode parses an index document.
func Decode(data []byte) (*release.IndexDocument, error) {
	var doc release.IndexDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if doc.Entries == nil {
		doc.Entries = make(map[string]*release.IndexEntry)
	}

	return &doc, nil
}

// Save writes the document into dir and returns its path.
func Save(dir string, doc *release.IndexDocument) (string, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%w: encode index: %w", storage.ErrPersist, err)
	}

	target := filepath.Join(dir, Filename)
	if err = storage.WriteFile(target, data, storage.DefaultFileMode); err != nil {
		return "", err
	}

	return target, nil
}
