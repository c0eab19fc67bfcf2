// Package archive owns the many-to-one mapping from module names to packed
// fetch units.
package archive

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrEmptyLocation    = errors.New("archive: empty archive location")
	ErrNoModules        = errors.New("archive: archive registers no modules")
	ErrMemberConflict   = errors.New("archive: module already registered to another archive")
	ErrEmptyMemberName  = errors.New("archive: empty module name in archive")
	ErrDuplicateArchive = errors.New("archive: archive location already registered")
)

// Registry tracks which archive satisfies which module names, plus the
// reverse listing. Pure bookkeeping, no I/O.
type Registry struct {
	mu       sync.RWMutex
	byModule map[string]string
	members  map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		byModule: make(map[string]string),
		members:  make(map[string][]string),
	}
}

// Register binds every name in modules to one archive location. A module
// may belong to at most one archive; re-registering a location is rejected.
func (r *Registry) Register(location string, modules []string) error {
	location = strings.TrimSpace(location)
	if location == "" {
		return ErrEmptyLocation
	}
	if len(modules) == 0 {
		return fmt.Errorf("%w: %s", ErrNoModules, location)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[location]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateArchive, location)
	}

	cleaned := make([]string, 0, len(modules))
	for _, name := range modules {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("%w: %s", ErrEmptyMemberName, location)
		}
		if existing, ok := r.byModule[name]; ok && existing != location {
			return fmt.Errorf("%w: %s in %s", ErrMemberConflict, name, existing)
		}
		cleaned = append(cleaned, name)
	}

	for _, name := range cleaned {
		r.byModule[name] = location
	}
	r.members[location] = cleaned
	return nil
}

// ArchiveFor returns the archive location satisfying name, if any.
func (r *Registry) ArchiveFor(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.byModule[strings.TrimSpace(name)]
	return loc, ok
}

// Members returns the module names registered to an archive location, in
// registration order.
func (r *Registry) Members(location string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.members[strings.TrimSpace(location)]
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// Locations returns every registered archive location, sorted.
func (r *Registry) Locations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.members))
	for loc := range r.members {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
