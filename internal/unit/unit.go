// Package unit owns the source unit format exchanged with the compiler and
// archive-packer tooling.
//
// A unit is a TOML document of [[module]] blocks. Evaluating a fetched unit
// means decoding these blocks and handing each one to the loader's declare
// entry point. An archive is simply a unit carrying several blocks.
package unit

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

var (
	ErrNoDeclarations = errors.New("unit: no module declarations")
	ErrEmptyName      = errors.New("unit: empty module name")
	ErrDuplicateName  = errors.New("unit: duplicate module name in unit")
	ErrSelfDependency = errors.New("unit: module depends on itself")
)

// Decl is one module declaration carried by a unit: the
// (name, musts, optionals, body) tuple of the declaration contract.
type Decl struct {
	Name      string   `toml:"name"`
	Musts     []string `toml:"musts"`
	Optionals []string `toml:"optionals"`
	Body      string   `toml:"body"`
}

// Unit is the decoded document shape.
type Unit struct {
	Modules []Decl `toml:"module"`
}

// Decode parses unit text and validates the declarations.
func Decode(data []byte) ([]Decl, error) {
	var u Unit
	if err := toml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unit: decode: %w", err)
	}
	if len(u.Modules) == 0 {
		return nil, ErrNoDeclarations
	}

	seen := make(map[string]bool, len(u.Modules))
	for i := range u.Modules {
		d := &u.Modules[i]
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, ErrEmptyName
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
		}
		seen[d.Name] = true

		d.Musts = cleanDeps(d.Musts)
		d.Optionals = cleanDeps(d.Optionals)
		for _, dep := range d.Musts {
			if dep == d.Name {
				return nil, fmt.Errorf("%w: %s", ErrSelfDependency, d.Name)
			}
		}
	}
	return u.Modules, nil
}

// Encode renders declarations back to unit text. Used by repo tooling and
// tests; Decode(Encode(x)) round-trips.
func Encode(decls []Decl) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(Unit{Modules: decls}); err != nil {
		return nil, fmt.Errorf("unit: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func cleanDeps(deps []string) []string {
	out := make([]string, 0, len(deps))
	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		dep = strings.TrimSpace(dep)
		if dep == "" || seen[dep] {
			continue
		}
		seen[dep] = true
		out = append(out, dep)
	}
	return out
}
