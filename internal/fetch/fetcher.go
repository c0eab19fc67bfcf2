package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnsupportedLocation = errors.New("fetch: unsupported location")
	ErrHTTPStatus          = errors.New("fetch: unexpected http status")
	ErrNotFound            = errors.New("fetch: location not found")
)

// Fetcher retrieves raw source text for one physical location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// HTTPFetcher retrieves locations over HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request %s: %w", location, err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: get %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d for %s", ErrHTTPStatus, resp.StatusCode, location)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", location, err)
	}
	return data, nil
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// FileFetcher retrieves locations from the local filesystem. Accepts plain
// paths and file:// locations.
type FileFetcher struct{}

func (FileFetcher) Fetch(_ context.Context, location string) ([]byte, error) {
	path := strings.TrimPrefix(location, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("fetch: read file %s: %w", location, err)
	}
	return data, nil
}

// MemoryFetcher serves locations from an in-process table. Used for bundled
// sources and tests.
type MemoryFetcher struct {
	mu    sync.RWMutex
	units map[string][]byte
}

func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{units: make(map[string][]byte)}
}

func (f *MemoryFetcher) Put(location string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units[location] = data
}

func (f *MemoryFetcher) Fetch(_ context.Context, location string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.units[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Dispatcher routes by location scheme: http/https to the HTTP fetcher,
// everything else to the file fetcher.
type Dispatcher struct {
	HTTP Fetcher
	File Fetcher
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{HTTP: NewHTTPFetcher(), File: FileFetcher{}}
}

func (d *Dispatcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	switch Transport(location) {
	case "http":
		if d.HTTP == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocation, location)
		}
		return d.HTTP.Fetch(ctx, location)
	default:
		if d.File == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocation, location)
		}
		return d.File.Fetch(ctx, location)
	}
}

// Transport labels a location's scheme for metrics.
func Transport(location string) string {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return "http"
	case strings.HasPrefix(location, "mem://"):
		return "memory"
	default:
		return "file"
	}
}
