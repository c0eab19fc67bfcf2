package loader

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName            = errors.New("loader: empty module name")
	ErrDuplicateDeclaration = errors.New("loader: duplicate module declaration")
	ErrMissingDeclaration   = errors.New("loader: fetched unit did not declare module")
	ErrInitFailed           = errors.New("loader: module initialization failed")
)

// LoadError is delivered to load callbacks when a transitive dependency
// breaks. Module names the failing module, which is not necessarily the
// one the caller asked for.
type LoadError struct {
	Module string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loader: load failed at module %s: %v", e.Module, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
