// Package resolve owns logical-name to physical-location mapping.
//
// Ownership boundary:
// - exact override table (explicit classpath registrations)
// - package-prefix base table, most specific prefix first
// - global default base fallback
package resolve

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrEmptyName     = errors.New("resolve: empty module name")
	ErrEmptyLocation = errors.New("resolve: empty location")
	ErrNoLocation    = errors.New("resolve: no location for module")
)

// DefaultUnitSuffix is appended to base-derived paths. Exact overrides are
// returned verbatim.
const DefaultUnitSuffix = ".unit.toml"

// Resolver maps dotted module names to fetch locations. Pure bookkeeping:
// no I/O, tables mutate only through explicit registration.
type Resolver struct {
	mu          sync.RWMutex
	overrides   map[string]string
	bases       map[string]string
	defaultBase string
	unitSuffix  string
}

func NewResolver() *Resolver {
	return &Resolver{
		overrides:  make(map[string]string),
		bases:      make(map[string]string),
		unitSuffix: DefaultUnitSuffix,
	}
}

// RegisterOverride pins an exact name to a location.
func (r *Resolver) RegisterOverride(name, location string) error {
	name = strings.TrimSpace(name)
	location = strings.TrimSpace(location)
	if name == "" {
		return ErrEmptyName
	}
	if location == "" {
		return ErrEmptyLocation
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = location
	return nil
}

// RegisterPackageBase maps a dotted package prefix to a base location.
func (r *Resolver) RegisterPackageBase(prefix, base string) error {
	prefix = strings.TrimSpace(prefix)
	base = strings.TrimSpace(base)
	if prefix == "" {
		return ErrEmptyName
	}
	if base == "" {
		return ErrEmptyLocation
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bases[prefix] = base
	return nil
}

// SetDefaultBase sets the final fallback base location.
func (r *Resolver) SetDefaultBase(base string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultBase = strings.TrimSpace(base)
}

// SetUnitSuffix overrides the suffix appended to base-derived paths.
func (r *Resolver) SetUnitSuffix(suffix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unitSuffix = suffix
}

// Resolve returns the physical location for name. Precedence: exact
// override, longest registered package prefix, default base. Callers that
// honor archives consult the archive registry before calling Resolve.
func (r *Resolver) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if loc, ok := r.overrides[name]; ok {
		return loc, nil
	}

	for prefix := name; prefix != ""; prefix = parentPrefix(prefix) {
		if base, ok := r.bases[prefix]; ok {
			return r.join(base, name), nil
		}
	}

	if r.defaultBase != "" {
		return r.join(r.defaultBase, name), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoLocation, name)
}

func (r *Resolver) join(base, name string) string {
	path := strings.ReplaceAll(name, ".", "/")
	return strings.TrimRight(base, "/") + "/" + path + r.unitSuffix
}

func parentPrefix(prefix string) string {
	idx := strings.LastIndex(prefix, ".")
	if idx < 0 {
		return ""
	}
	return prefix[:idx]
}
