package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrEdgesAlreadySet = errors.New("graph: dependency edges already set")
	ErrEmptyName       = errors.New("graph: empty module name")
)

// DefaultMaxCycleDepth bounds the back-reference walk used to break
// must-dependency cycles.
const DefaultMaxCycleDepth = 16

// DeadlockError reports a must-dependency cycle the bounded walk could not
// resolve. Chain holds the module names along the unresolvable loop.
type DeadlockError struct {
	Chain []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("graph: unresolvable must cycle: %s", strings.Join(e.Chain, " -> "))
}

// Graph owns every dependency node for one loader instance. It is not safe
// for concurrent use; the owning loader serializes access.
type Graph struct {
	nodes         map[string]*Node
	contentSeq    uint64
	declareSeq    uint64
	maxCycleDepth int
}

func New(maxCycleDepth int) *Graph {
	if maxCycleDepth <= 0 {
		maxCycleDepth = DefaultMaxCycleDepth
	}
	return &Graph{
		nodes:         make(map[string]*Node),
		maxCycleDepth: maxCycleDepth,
	}
}

// Ensure returns the node for name, creating it at StatusKnown on first
// reference. Nodes persist for the life of the graph.
func (g *Graph) Ensure(name string) (*Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if n, ok := g.nodes[name]; ok {
		return n, nil
	}
	n := &Node{Name: name, Status: StatusKnown}
	g.nodes[name] = n
	return n, nil
}

func (g *Graph) Get(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns every node, unordered.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// SetEdges records a node's dependency lists and moves it to
// StatusContentLoaded. This is the single point where edges enter the
// graph; a second call for the same node is rejected.
func (g *Graph) SetEdges(n *Node, musts, optionals []string) error {
	if n.Status >= StatusContentLoaded {
		return fmt.Errorf("%w: %s", ErrEdgesAlreadySet, n.Name)
	}
	for _, dep := range musts {
		depNode, err := g.Ensure(dep)
		if err != nil {
			return err
		}
		if !depNode.hasParent(n) {
			depNode.Parents = append(depNode.Parents, n)
		}
		n.Musts = append(n.Musts, depNode.Name)
	}
	for _, dep := range optionals {
		depNode, err := g.Ensure(dep)
		if err != nil {
			return err
		}
		n.Optionals = append(n.Optionals, depNode.Name)
	}
	g.contentSeq++
	n.ContentSeq = g.contentSeq
	n.Advance(StatusContentLoaded)
	return nil
}

// MarkDeclared stamps declaration order and raises the node.
func (g *Graph) MarkDeclared(n *Node) {
	g.declareSeq++
	n.DeclaredSeq = g.declareSeq
	n.DeclaredAt = time.Now()
	n.Advance(StatusDeclared)
}

// NextEligible returns the earliest content-loaded node whose musts are all
// satisfied, or nil. Eligibility order follows first content arrival, which
// also fixes the declaration order inside broken cycles.
func (g *Graph) NextEligible() *Node {
	var best *Node
	for _, n := range g.nodes {
		if n.Status != StatusContentLoaded {
			continue
		}
		if !g.mustsSatisfied(n) {
			continue
		}
		if best == nil || n.ContentSeq < best.ContentSeq {
			best = n
		}
	}
	return best
}

// Blocked returns content-loaded nodes that cannot advance, in content
// order. Used for deadlock reporting once nothing is left in flight.
func (g *Graph) Blocked() []*Node {
	var blocked []*Node
	for _, n := range g.nodes {
		if n.Status != StatusContentLoaded {
			continue
		}
		if g.mustsSatisfied(n) {
			continue
		}
		blocked = append(blocked, n)
	}
	sort.Slice(blocked, func(i, j int) bool {
		return blocked[i].ContentSeq < blocked[j].ContentSeq
	})
	return blocked
}

// FetchInFlight reports whether any node still has a retrieval pending.
func (g *Graph) FetchInFlight() bool {
	for _, n := range g.nodes {
		if n.Fetching {
			return true
		}
	}
	return false
}

// MustChain follows unsatisfied must edges from n until a name repeats,
// yielding the cycle report for DeadlockError.
func (g *Graph) MustChain(n *Node) []string {
	seen := make(map[string]bool)
	chain := []string{n.Name}
	seen[n.Name] = true
	current := n
	for {
		next := g.firstUnsatisfiedMust(current)
		if next == nil {
			return chain
		}
		chain = append(chain, next.Name)
		if seen[next.Name] {
			return chain
		}
		seen[next.Name] = true
		current = next
	}
}

// DeclaredOrder returns all declared nodes in declaration order.
func (g *Graph) DeclaredOrder() []*Node {
	var declared []*Node
	for _, n := range g.nodes {
		if n.Status >= StatusDeclared {
			declared = append(declared, n)
		}
	}
	sort.Slice(declared, func(i, j int) bool {
		return declared[i].DeclaredSeq < declared[j].DeclaredSeq
	})
	return declared
}

// MustDependents expands the transitive set of nodes that must-depend on
// any of the given nodes, following parent back-references. Used to fail
// every load waiting on a broken module.
func (g *Graph) MustDependents(roots []*Node) []*Node {
	visited := make(map[string]bool)
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if visited[n.Name] {
			return
		}
		visited[n.Name] = true
		out = append(out, n)
		for _, p := range n.Parents {
			walk(p)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

func (g *Graph) mustsSatisfied(n *Node) bool {
	return g.firstUnsatisfiedMust(n) == nil
}

func (g *Graph) firstUnsatisfiedMust(n *Node) *Node {
	for _, name := range n.Musts {
		dep := g.nodes[name]
		if dep == nil {
			// Musts always pass through Ensure, so this is unreachable;
			// treat defensively as unsatisfied.
			return n
		}
		if dep.Status >= StatusDeclared {
			continue
		}
		if g.cycleSatisfied(n, dep) {
			continue
		}
		return dep
	}
	return nil
}

// cycleSatisfied reports whether dep may be treated as satisfied for n
// because dep's own must-chain leads back to n. The walk runs over parent
// back-references from n, bounded by maxCycleDepth. dep must at least have
// its content so that the mutual declaration can happen.
func (g *Graph) cycleSatisfied(n, dep *Node) bool {
	if dep.Status < StatusContentLoaded {
		return false
	}
	visited := make(map[string]bool)
	return g.parentWalk(n, dep, g.maxCycleDepth, visited)
}

func (g *Graph) parentWalk(from, target *Node, depth int, visited map[string]bool) bool {
	if depth <= 0 || visited[from.Name] {
		return false
	}
	visited[from.Name] = true
	for _, p := range from.Parents {
		if p == target {
			return true
		}
		if g.parentWalk(p, target, depth-1, visited) {
			return true
		}
	}
	return false
}
