package loader

import (
	"time"

	"github.com/skriptd/modload/internal/fetch"
)

// Module is a declared module's externally visible record.
type Module struct {
	Name       string
	Body       string
	DeclaredAt time.Time

	// Seq is the process-wide declaration sequence number; lower values
	// declared earlier.
	Seq uint64
}

// InitFunc runs a module's declaration logic. It executes exactly once,
// after every must-dependency is declared, outside the loader's lock.
type InitFunc func() error

// OnReady receives the loaded module, or the error that broke its chain.
// A nil callback is allowed for fire-and-forget loads.
type OnReady func(*Module, error)

// LoadOptions tunes one Load call.
type LoadOptions struct {
	// ForceSynchronous completes the entire transitive load before Load
	// returns, fetching on the caller's stack.
	ForceSynchronous bool

	// Timeout bounds fetches this call initiates. Advisory: work already
	// queued elsewhere is not aborted. Zero means no deadline.
	Timeout time.Duration
}

// Config constructs a Loader.
type Config struct {
	// Fetcher retrieves source units. Defaults to the scheme dispatcher
	// (http/https and local files).
	Fetcher fetch.Fetcher

	// MaxInFlight caps concurrent retrievals (fetch.DefaultMaxInFlight
	// when zero).
	MaxInFlight int64

	// MaxCycleDepth bounds the must-cycle back-reference walk
	// (graph.DefaultMaxCycleDepth when zero).
	MaxCycleDepth int

	// DefaultBase is the global fallback base location.
	DefaultBase string
}
