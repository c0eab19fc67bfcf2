// Package fetch owns source retrieval for the loader.
//
// Ownership boundary:
// - transport fetchers (http, file, in-memory)
// - bounded concurrent in-flight retrievals, FIFO admission
// - per-location deduplication of concurrent requests
package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/skriptd/modload/internal/observability"
)

// DefaultMaxInFlight caps concurrent retrievals; excess requests queue in
// FIFO order behind the semaphore.
const DefaultMaxInFlight = 6

// Done receives the outcome of one retrieval. Invoked once per attached
// request, from the fetch goroutine (asynchronous mode) or the caller's
// stack (synchronous mode).
type Done func(data []byte, err error)

type operation struct {
	done      chan struct{}
	data      []byte
	err       error
	callbacks []Done
}

// Engine dedups and throttles retrievals over one Fetcher. A location is
// fetched at most once while in flight: later requests attach to the
// existing operation. Completed locations leave the in-flight set, so an
// explicit retry after failure issues a fresh retrieval.
type Engine struct {
	fetcher Fetcher
	sem     *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]*operation
}

func NewEngine(fetcher Fetcher, maxInFlight int64) *Engine {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Engine{
		fetcher:  fetcher,
		sem:      semaphore.NewWeighted(maxInFlight),
		inflight: make(map[string]*operation),
	}
}

// Fetch retrieves location asynchronously and invokes onDone from a later
// turn. A request for a location already in flight attaches its callback
// instead of issuing a new retrieval. The retrieval runs to completion on
// its own: no single requester's lifetime governs it.
func (e *Engine) Fetch(location string, onDone Done) {
	e.mu.Lock()
	if op, ok := e.inflight[location]; ok {
		op.callbacks = append(op.callbacks, onDone)
		e.mu.Unlock()
		observability.RecordFetchDeduplicated()
		return
	}
	op := &operation{done: make(chan struct{}), callbacks: []Done{onDone}}
	e.inflight[location] = op
	e.mu.Unlock()

	go func() {
		data, err := e.retrieve(location)
		e.complete(location, op, data, err)
	}()
}

// FetchSync retrieves location and blocks until the result is available or
// ctx expires. If the location is already in flight the call waits for that
// operation's outcome instead of fetching again. ctx bounds only this
// caller's wait: the shared retrieval keeps running and settles normally
// for every other request joined to it.
func (e *Engine) FetchSync(ctx context.Context, location string) ([]byte, error) {
	e.mu.Lock()
	op, joined := e.inflight[location]
	if joined {
		e.mu.Unlock()
		observability.RecordFetchDeduplicated()
	} else {
		op = &operation{done: make(chan struct{})}
		e.inflight[location] = op
		e.mu.Unlock()
		go func() {
			data, err := e.retrieve(location)
			e.complete(location, op, data, err)
		}()
	}

	select {
	case <-op.done:
		return op.data, op.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the number of live operations. Diagnostics only.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

func (e *Engine) retrieve(location string) ([]byte, error) {
	observability.FetchStarted()
	defer observability.FetchFinished()
	start := time.Now()

	// Retrievals run detached so a slow requester's deadline cannot fail
	// an operation other requesters are joined to. Transport-level limits
	// (the HTTP client timeout) still bound each attempt.
	ctx := context.Background()
	var data []byte
	err := e.sem.Acquire(ctx, 1)
	if err == nil {
		data, err = e.fetcher.Fetch(ctx, location)
		e.sem.Release(1)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordFetch(Transport(location), outcome, time.Since(start))
	return data, err
}

func (e *Engine) complete(location string, op *operation, data []byte, err error) {
	e.mu.Lock()
	delete(e.inflight, location)
	op.data = data
	op.err = err
	callbacks := op.callbacks
	op.callbacks = nil
	e.mu.Unlock()
	close(op.done)

	for _, cb := range callbacks {
		cb(data, err)
	}
}
