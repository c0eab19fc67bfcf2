package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skriptd/modload/internal/archive"
	"github.com/skriptd/modload/internal/fetch"
	"github.com/skriptd/modload/internal/graph"
	"github.com/skriptd/modload/internal/observability"
	"github.com/skriptd/modload/internal/resolve"
	"github.com/skriptd/modload/internal/unit"
)

// pendingDecl carries a content-loaded module's declaration until init runs.
type pendingDecl struct {
	init             InitFunc
	body             string
	optionalsPending int

	// initErr records a failed init. The init ran once and is never
	// retried; every later load of the module or its dependents gets
	// this error.
	initErr error
}

// requestMode threads one Load call's fetch behavior through the request
// chain: dependency fetches triggered by a completion inherit the mode of
// the call that started it.
type requestMode struct {
	sync bool
	ctx  context.Context
}

// Loader owns the process-wide module registry: the dependency graph, the
// archive map, the override tables and the fetch engine. One mutex
// serializes every graph transition; init functions and callbacks run
// outside it.
type Loader struct {
	engine   *fetch.Engine
	resolver *resolve.Resolver
	archives *archive.Registry

	mu           sync.Mutex
	graph        *graph.Graph
	modules      map[string]*Module
	decls        map[string]*pendingDecl
	waiters      map[string][]OnReady
	initsRunning int
	syncQueue    []string
}

func New(cfg Config) *Loader {
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewDispatcher()
	}
	resolver := resolve.NewResolver()
	if cfg.DefaultBase != "" {
		resolver.SetDefaultBase(cfg.DefaultBase)
	}
	return &Loader{
		engine:   fetch.NewEngine(fetcher, cfg.MaxInFlight),
		resolver: resolver,
		archives: archive.NewRegistry(),
		graph:    graph.New(cfg.MaxCycleDepth),
		modules:  make(map[string]*Module),
		decls:    make(map[string]*pendingDecl),
		waiters:  make(map[string][]OnReady),
	}
}

// RegisterOverride pins an exact module name to a location.
func (l *Loader) RegisterOverride(name, location string) error {
	return l.resolver.RegisterOverride(name, location)
}

// RegisterPackageBase maps a dotted package prefix to a base location.
func (l *Loader) RegisterPackageBase(prefix, base string) error {
	return l.resolver.RegisterPackageBase(prefix, base)
}

// SetDefaultBase sets the global fallback base location.
func (l *Loader) SetDefaultBase(base string) {
	l.resolver.SetDefaultBase(base)
}

// RegisterArchive binds module names to one packed fetch unit.
func (l *Loader) RegisterArchive(location string, modules []string) error {
	return l.archives.Register(location, modules)
}

// LoadArchiveManifest registers every archive listed in a manifest file.
func (l *Loader) LoadArchiveManifest(path string) error {
	return l.archives.LoadManifest(path)
}

// Get returns the declared module for name, if any.
func (l *Loader) Get(name string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mod, ok := l.modules[strings.TrimSpace(name)]
	return mod, ok
}

// DeclarationOrder returns declared modules in declaration order.
func (l *Loader) DeclarationOrder() []*Module {
	l.mu.Lock()
	defer l.mu.Unlock()
	nodes := l.graph.DeclaredOrder()
	out := make([]*Module, 0, len(nodes))
	for _, n := range nodes {
		if mod, ok := l.modules[n.Name]; ok {
			out = append(out, mod)
		}
	}
	return out
}

// Load requests a module and invokes onReady once it is declared, or once
// its chain breaks. Already-declared modules invoke onReady synchronously.
// Resolution failures are returned synchronously and onReady is not
// called. Concurrent loads of one name share a single fetch and a single
// init execution.
func (l *Loader) Load(name string, onReady OnReady, opts LoadOptions) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	// deliver fires the callback at most once: a timed-out waiter is
	// settled by its timer while the shared fetch keeps running, and the
	// eventual completion becomes a no-op for it.
	var timer *time.Timer
	var once sync.Once
	deliver := func(mod *Module, err error) {
		once.Do(func() {
			if timer != nil {
				timer.Stop()
			}
			if onReady != nil {
				onReady(mod, err)
			}
		})
	}

	ctx := context.Background()
	if opts.ForceSynchronous && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	mode := requestMode{sync: opts.ForceSynchronous, ctx: ctx}

	var dispatch []func()
	l.mu.Lock()
	n, err := l.graph.Ensure(name)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if n.Status >= graph.StatusDeclared {
		mod := l.modules[name]
		l.mu.Unlock()
		deliver(mod, nil)
		return nil
	}
	if ierr := l.initFailureLocked(n); ierr != nil {
		l.mu.Unlock()
		deliver(nil, &LoadError{Module: name, Err: ierr})
		return nil
	}

	l.waiters[name] = append(l.waiters[name], deliver)
	l.clearFailedLocked(n, make(map[string]bool))

	if err := l.requestLocked(n, mode); err != nil {
		l.dropLastWaiterLocked(name)
		l.mu.Unlock()
		return err
	}
	l.requestDepsLocked(mode, &dispatch)

	if !opts.ForceSynchronous && opts.Timeout > 0 {
		timer = time.AfterFunc(opts.Timeout, func() {
			deliver(nil, &LoadError{Module: name, Err: context.DeadlineExceeded})
		})
	}

	if opts.ForceSynchronous {
		l.drainSyncLocked(n, mode, &dispatch)
	}
	l.advanceLocked(&dispatch)
	l.mu.Unlock()

	run(dispatch)
	return nil
}

// Declare registers a module's edges and init without a fetch: the
// programmatic form of the declaration call evaluated units make. A second
// declaration for the same name is rejected, first writer wins.
func (l *Loader) Declare(name string, musts, optionals []string, init InitFunc) error {
	var dispatch []func()
	l.mu.Lock()
	err := l.declareLocked(unit.Decl{Name: name, Musts: musts, Optionals: optionals}, init)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.requestDepsLocked(requestMode{ctx: context.Background()}, &dispatch)
	l.advanceLocked(&dispatch)
	l.mu.Unlock()

	run(dispatch)
	return nil
}

// requestLocked resolves a node's location and starts its fetch unless its
// content is already present or in flight. Archive-registered names mark
// every member so one retrieval satisfies all of them.
func (l *Loader) requestLocked(n *graph.Node, mode requestMode) error {
	if n.Status >= graph.StatusContentLoaded || n.Fetching {
		return nil
	}

	location, isArchive := l.archives.ArchiveFor(n.Name)
	if !isArchive {
		var err error
		location, err = l.resolver.Resolve(n.Name)
		if err != nil {
			return err
		}
	}

	targets := []*graph.Node{n}
	if isArchive {
		for _, member := range l.archives.Members(location) {
			mn, err := l.graph.Ensure(member)
			if err != nil {
				continue
			}
			if mn != n && mn.Status < graph.StatusContentLoaded {
				targets = append(targets, mn)
			}
		}
	}
	for _, t := range targets {
		t.Path = location
		t.Fetching = true
		t.Failed = false
	}

	log.Debug().Str("module", n.Name).Str("location", location).
		Bool("archive", isArchive).Bool("sync", mode.sync).Msg("fetch requested")

	if mode.sync {
		l.queueSyncLocked(location)
		return nil
	}
	l.engine.Fetch(location, func(data []byte, err error) {
		l.handleFetch(location, data, err, requestMode{ctx: mode.ctx})
	})
	return nil
}

// requestDepsLocked starts fetches for every must-dependency still owed
// content, across the whole graph. Idempotent; failed nodes stay parked
// until an explicit load clears them.
func (l *Loader) requestDepsLocked(mode requestMode, dispatch *[]func()) {
	for _, n := range l.graph.Nodes() {
		if n.Status != graph.StatusContentLoaded {
			continue
		}
		for _, name := range n.Musts {
			dep, ok := l.graph.Get(name)
			if !ok || dep.Status != graph.StatusKnown || dep.Fetching || dep.Failed {
				continue
			}
			if err := l.requestLocked(dep, mode); err != nil {
				// No location for a declared dependency: fail its
				// dependents the same way a broken fetch would.
				l.failNodesLocked([]*graph.Node{dep}, err, dispatch)
			}
		}
	}
}

func (l *Loader) handleFetch(location string, data []byte, err error, mode requestMode) {
	var dispatch []func()
	l.mu.Lock()
	l.handleFetchLocked(location, data, err, mode, &dispatch)
	l.advanceLocked(&dispatch)
	l.mu.Unlock()
	run(dispatch)
}

// handleFetchLocked consumes one completed retrieval: evaluate the unit,
// declare its modules, then request whatever musts are still missing.
func (l *Loader) handleFetchLocked(location string, data []byte, err error, mode requestMode, dispatch *[]func()) {
	expecting := l.nodesFetchingLocked(location)
	if len(expecting) == 0 {
		// Another path already consumed this location's outcome.
		return
	}
	for _, n := range expecting {
		n.Fetching = false
	}

	if err == nil {
		var decls []unit.Decl
		decls, err = unit.Decode(data)
		if err == nil {
			for _, d := range decls {
				if derr := l.declareLocked(d, func() error { return nil }); derr != nil {
					log.Warn().Str("module", d.Name).Str("location", location).
						Err(derr).Msg("declaration rejected, first writer wins")
				}
			}
		}
	}

	if err != nil {
		l.failNodesLocked(expecting, err, dispatch)
		return
	}

	var missing []*graph.Node
	for _, n := range expecting {
		if n.Status < graph.StatusContentLoaded {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		l.failNodesLocked(missing, fmt.Errorf("%w: %s", ErrMissingDeclaration, location), dispatch)
	}

	l.requestDepsLocked(mode, dispatch)
}

// declareLocked enters one declaration into the graph. First writer wins.
func (l *Loader) declareLocked(d unit.Decl, init InitFunc) error {
	n, err := l.graph.Ensure(d.Name)
	if err != nil {
		return err
	}
	if n.Status >= graph.StatusContentLoaded {
		return fmt.Errorf("%w: %s", ErrDuplicateDeclaration, d.Name)
	}
	if err := l.graph.SetEdges(n, d.Musts, d.Optionals); err != nil {
		return err
	}
	n.Fetching = false
	n.Failed = false
	l.decls[d.Name] = &pendingDecl{init: init, body: d.Body}
	log.Debug().Str("module", d.Name).Int("musts", len(n.Musts)).
		Int("optionals", len(n.Optionals)).Msg("module content loaded")
	return nil
}

// advanceLocked declares every eligible node, then runs the deadlock check
// once nothing else can progress.
func (l *Loader) advanceLocked(dispatch *[]func()) {
	l.advanceInlineLocked(dispatch)
	l.checkDeadlockLocked(dispatch)
}

// scheduleOptionalsLocked starts best-effort background loads for a freshly
// declared node's optional dependencies. Their failures never surface.
func (l *Loader) scheduleOptionalsLocked(n *graph.Node, d *pendingDecl, dispatch *[]func()) {
	var pending []string
	for _, name := range n.Optionals {
		if dep, ok := l.graph.Get(name); ok && dep.Status >= graph.StatusDeclared {
			continue
		}
		pending = append(pending, name)
	}
	if len(pending) == 0 || d == nil {
		n.Advance(graph.StatusOptionalsLoaded)
		return
	}
	d.optionalsPending = len(pending)

	owner := n.Name
	for _, name := range pending {
		name := name
		*dispatch = append(*dispatch, func() {
			err := l.Load(name, func(_ *Module, err error) {
				if err != nil {
					log.Debug().Str("module", name).Str("owner", owner).
						Err(err).Msg("optional dependency failed")
				}
				l.optionalSettled(owner)
			}, LoadOptions{})
			if err != nil {
				log.Debug().Str("module", name).Str("owner", owner).
					Err(err).Msg("optional dependency unresolvable")
				l.optionalSettled(owner)
			}
		})
	}
}

func (l *Loader) optionalSettled(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.decls[owner]
	if d == nil || d.optionalsPending == 0 {
		return
	}
	d.optionalsPending--
	if d.optionalsPending == 0 {
		if n, ok := l.graph.Get(owner); ok {
			n.Advance(graph.StatusOptionalsLoaded)
		}
	}
}

// failNodesLocked resets broken nodes for retry and delivers the failure
// to every load waiting on them, directly or through must-dependents.
func (l *Loader) failNodesLocked(broken []*graph.Node, err error, dispatch *[]func()) {
	for _, n := range broken {
		n.ResetToKnown()
		n.Failed = true
		log.Warn().Str("module", n.Name).Err(err).Msg("module load failed")
		l.failWaitersLocked(n, err, dispatch)
	}
}

// failWaitersLocked notifies every direct and transitive waiter of one
// failing node, naming that node in the error.
func (l *Loader) failWaitersLocked(failing *graph.Node, err error, dispatch *[]func()) {
	lerr := &LoadError{Module: failing.Name, Err: err}
	for _, n := range l.graph.MustDependents([]*graph.Node{failing}) {
		for _, cb := range l.takeWaitersLocked(n.Name) {
			cb := cb
			*dispatch = append(*dispatch, func() { cb(nil, lerr) })
		}
	}
}

// checkDeadlockLocked fires once nothing is in flight and no init is
// running: any node still blocked then sits on an unresolvable must cycle
// or on a must whose init already failed.
func (l *Loader) checkDeadlockLocked(dispatch *[]func()) {
	if l.initsRunning > 0 || len(l.syncQueue) > 0 || l.graph.FetchInFlight() {
		return
	}
	for _, root := range l.graph.Blocked() {
		chain := l.graph.MustChain(root)
		lerr := l.blockageLocked(root, chain)
		delivered := false
		for _, n := range l.graph.MustDependents([]*graph.Node{root}) {
			for _, cb := range l.takeWaitersLocked(n.Name) {
				cb := cb
				*dispatch = append(*dispatch, func() { cb(nil, lerr) })
				delivered = true
			}
		}
		if delivered {
			if errors.Is(lerr, ErrInitFailed) {
				log.Error().Strs("chain", chain).Str("module", lerr.Module).
					Msg("must dependency failed to initialize")
			} else {
				log.Error().Strs("chain", chain).Msg("unresolvable must cycle")
			}
		}
	}
}

// blockageLocked names what actually blocks root: an init-failed module in
// its must chain, or failing that, the cycle itself.
func (l *Loader) blockageLocked(root *graph.Node, chain []string) *LoadError {
	for _, name := range chain {
		if n, ok := l.graph.Get(name); ok {
			if ierr := l.initFailureLocked(n); ierr != nil {
				return &LoadError{Module: n.Name, Err: ierr}
			}
		}
	}
	return &LoadError{Module: root.Name, Err: &graph.DeadlockError{Chain: chain}}
}

// initFailureLocked reports the recorded init error for n, if any.
func (l *Loader) initFailureLocked(n *graph.Node) error {
	if d := l.decls[n.Name]; d != nil && d.initErr != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, d.initErr)
	}
	return nil
}

// drainSyncLocked completes a forced-synchronous load on the caller's
// stack: pop queued locations, fetch them inline, and feed the results
// back until the root settles or nothing can progress.
func (l *Loader) drainSyncLocked(root *graph.Node, mode requestMode, dispatch *[]func()) {
	for {
		if root.Status >= graph.StatusDeclared || len(l.waiters[root.Name]) == 0 {
			return
		}
		location, ok := l.popSyncLocked()
		if !ok {
			// Join any async retrieval still owed, then re-handle; a
			// repeat handle for a consumed location is a no-op.
			location, ok = l.anyFetchingLocked()
			if !ok {
				return
			}
		}
		l.mu.Unlock()
		data, err := l.engine.FetchSync(mode.ctx, location)
		l.mu.Lock()
		l.handleFetchLocked(location, data, err, mode, dispatch)
		l.advanceInlineLocked(dispatch)
	}
}

// advanceInlineLocked declares every eligible node in first-content order,
// releasing the lock around each init. No deadlock check: the drain loop
// uses it while its queue is still live.
func (l *Loader) advanceInlineLocked(dispatch *[]func()) {
	for {
		n := l.graph.NextEligible()
		if n == nil {
			return
		}
		n.Advance(graph.StatusMustsLoaded)
		d := l.decls[n.Name]

		l.initsRunning++
		l.mu.Unlock()
		var initErr error
		if d != nil && d.init != nil {
			initErr = d.init()
		}
		l.mu.Lock()
		l.initsRunning--

		if initErr != nil {
			// Fail forward: no rollback, the node keeps its last
			// successful state.
			if d != nil {
				d.initErr = initErr
			}
			l.failWaitersLocked(n, fmt.Errorf("%w: %v", ErrInitFailed, initErr), dispatch)
			continue
		}

		l.graph.MarkDeclared(n)
		observability.RecordModuleDeclared()
		mod := &Module{Name: n.Name, DeclaredAt: n.DeclaredAt, Seq: n.DeclaredSeq}
		if d != nil {
			mod.Body = d.body
		}
		l.modules[n.Name] = mod
		log.Debug().Str("module", n.Name).Uint64("seq", mod.Seq).Msg("module declared")

		for _, cb := range l.takeWaitersLocked(n.Name) {
			cb := cb
			*dispatch = append(*dispatch, func() { cb(mod, nil) })
		}
		l.scheduleOptionalsLocked(n, d, dispatch)
	}
}

func (l *Loader) clearFailedLocked(n *graph.Node, visited map[string]bool) {
	if visited[n.Name] {
		return
	}
	visited[n.Name] = true
	n.Failed = false
	for _, name := range n.Musts {
		if dep, ok := l.graph.Get(name); ok {
			l.clearFailedLocked(dep, visited)
		}
	}
}

func (l *Loader) nodesFetchingLocked(location string) []*graph.Node {
	var out []*graph.Node
	for _, n := range l.graph.Nodes() {
		if n.Fetching && n.Path == location {
			out = append(out, n)
		}
	}
	return out
}

func (l *Loader) queueSyncLocked(location string) {
	for _, queued := range l.syncQueue {
		if queued == location {
			return
		}
	}
	l.syncQueue = append(l.syncQueue, location)
}

func (l *Loader) popSyncLocked() (string, bool) {
	if len(l.syncQueue) == 0 {
		return "", false
	}
	location := l.syncQueue[0]
	l.syncQueue = l.syncQueue[1:]
	return location, true
}

func (l *Loader) anyFetchingLocked() (string, bool) {
	for _, n := range l.graph.Nodes() {
		if n.Fetching {
			return n.Path, true
		}
	}
	return "", false
}

func (l *Loader) takeWaitersLocked(name string) []OnReady {
	waiting := l.waiters[name]
	if len(waiting) == 0 {
		return nil
	}
	delete(l.waiters, name)
	return waiting
}

func (l *Loader) dropLastWaiterLocked(name string) {
	waiting := l.waiters[name]
	if len(waiting) == 0 {
		return
	}
	if len(waiting) == 1 {
		delete(l.waiters, name)
		return
	}
	l.waiters[name] = waiting[:len(waiting)-1]
}

func run(dispatch []func()) {
	for _, fn := range dispatch {
		fn()
	}
}
