// Package loader drives modules through their load lifecycle: resolve a
// logical name to a physical location, fetch the source unit, declare the
// module's dependency edges, and run its initialization only after every
// must-dependency is declared.
//
// Ownership boundary:
// - the public load contract (Load, Declare, registration calls)
// - lifecycle scheduling over the dependency graph
// - failure propagation to pending loads
//
// One Loader instance holds the whole registry: nodes, archives, override
// tables and the fetch engine. Construct one per process (or per test) and
// share it by reference.
package loader
